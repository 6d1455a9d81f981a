package postgres

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoadMigrations_SortsByVersion(t *testing.T) {
	t.Parallel()

	fsys := fstest.MapFS{
		"sql/migrations/0002_orders.up.sql":      {Data: []byte("CREATE TABLE b (id INT);")},
		"sql/migrations/0002_orders.down.sql":    {Data: []byte("DROP TABLE b;")},
		"sql/migrations/0001_inventory.up.sql":   {Data: []byte("CREATE TABLE a (id INT);")},
		"sql/migrations/0001_inventory.down.sql": {Data: []byte("DROP TABLE a;")},
	}

	migrations, err := loadMigrations(fsys)
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	if len(migrations) != 2 || migrations[0].Name != "inventory" || migrations[1].Version != 2 {
		t.Fatalf("unexpected migrations: %+v", migrations)
	}
	if migrations[0].Down != "DROP TABLE a;" {
		t.Fatalf("down body lost: %q", migrations[0].Down)
	}
}

func TestLoadMigrations_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		fsys fstest.MapFS
		want string
	}{
		"missing down": {
			fsys: fstest.MapFS{"sql/migrations/0001_init.up.sql": {Data: []byte("SELECT 1;")}},
			want: "both up and down",
		},
		"bad name": {
			fsys: fstest.MapFS{"sql/migrations/init.sql": {Data: []byte("SELECT 1;")}},
			want: "invalid migration file name",
		},
		"empty body": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":   {Data: []byte("  \n")},
				"sql/migrations/0001_init.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "empty",
		},
		"name mismatch": {
			fsys: fstest.MapFS{
				"sql/migrations/0001_init.up.sql":    {Data: []byte("SELECT 1;")},
				"sql/migrations/0001_other.down.sql": {Data: []byte("SELECT 1;")},
			},
			want: "conflicting names",
		},
		"no files": {
			fsys: fstest.MapFS{},
			want: "no migration files",
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := loadMigrations(tc.fsys)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestEmbeddedMigrationsAreWellFormed(t *testing.T) {
	t.Parallel()

	migrations, err := loadMigrations(embeddedMigrations)
	if err != nil {
		t.Fatalf("embedded migrations: %v", err)
	}
	if len(migrations) != 5 {
		t.Fatalf("expected 5 migrations, got %d", len(migrations))
	}
	if !strings.Contains(migrations[0].Up, "available_quantity >= 0") {
		t.Fatal("inventory table must forbid negative stock")
	}
}
