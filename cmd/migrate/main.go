// migrate применяет, откатывает и показывает миграции схемы PostgreSQL.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/vladislavdragonenkov/bakery/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "BAKERY_POSTGRES_DSN"
)

type direction string

const (
	directionUp     direction = "up"
	directionDown   direction = "down"
	directionStatus direction = "status"
)

type options struct {
	direction direction
	steps     int
	dsn       string
}

func main() {
	opts, err := parseOptions(os.Args[1:], os.LookupEnv)
	if errors.Is(err, pflag.ErrHelp) {
		return
	}
	if err != nil {
		fail("%v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, opts, os.Stdout); err != nil {
		fail("%v", err)
	}
}

func parseOptions(args []string, lookup func(string) (string, bool)) (options, error) {
	var (
		opts options
		dir  string
	)

	flags := pflag.NewFlagSet("migrate", pflag.ContinueOnError)
	flags.StringVar(&dir, "direction", string(directionUp), "migration direction: up|down|status")
	flags.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	flags.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	if err := flags.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = direction(strings.ToLower(strings.TrimSpace(dir)))
	switch opts.direction {
	case directionUp, directionStatus:
	case directionDown:
		if opts.steps <= 0 {
			opts.steps = 1
		}
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", dir)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must be >= 0")
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		if value, ok := lookup(envPostgresDSN); ok {
			opts.dsn = strings.TrimSpace(value)
		}
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or --dsn) is required", envPostgresDSN)
	}
	return opts, nil
}

func run(ctx context.Context, opts options, out io.Writer) error {
	store, err := postgres.Open(ctx, opts.dsn, postgres.DefaultPoolOptions())
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	prefix := "migration status"
	switch opts.direction {
	case directionUp:
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		prefix = "migrate up ok"
	case directionDown:
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		prefix = "migrate down ok"
	}

	status, err := store.Status(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintf(out, "%s: version=%d applied=%d pending=%d\n", prefix, status.Version, status.Applied, status.Pending)
	return err
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
