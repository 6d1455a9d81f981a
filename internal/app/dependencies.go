package app

import (
	"context"
	"errors"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/storage/memory"
	"github.com/vladislavdragonenkov/bakery/internal/storage/postgres"
	"github.com/vladislavdragonenkov/bakery/internal/transport/httpapi"
)

// Storage объединяет порты хранилища, выбранного конфигурацией.
type Storage struct {
	Checkout  domain.CheckoutStore
	Inventory httpapi.Inventory
	Orders    domain.OrderRepository
	Outbox    domain.OutboxRepository
	Janitor   domain.OutboxJanitor
	Payments  domain.PaymentRepository
	Alerts    domain.AlertLedger

	ping  func(ctx context.Context) error
	close func() error
}

// Ping проверяет доступность хранилища.
func (s *Storage) Ping(ctx context.Context) error {
	if s == nil || s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close освобождает ресурсы хранилища.
func (s *Storage) Close() error {
	if s == nil || s.close == nil {
		return nil
	}
	return s.close()
}

// initStorage открывает хранилище по cfg.StorageDriver и применяет стартовый каталог.
func initStorage(ctx context.Context, cfg Config, logger *log.Entry) (*Storage, error) {
	var storage *Storage
	switch cfg.StorageDriver {
	case StorageDriverMemory, "":
		storage = newMemoryStorage()
		logger.Info("используем in-memory хранилище")
	case StorageDriverPostgres:
		s, err := openPostgresStorage(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		storage = s
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.StorageDriver)
	}

	if err := seedInventory(ctx, storage.Inventory, cfg.Inventory, logger); err != nil {
		_ = storage.Close()
		return nil, err
	}
	return storage, nil
}

func newMemoryStorage() *Storage {
	store := memory.NewStore(nil)
	return &Storage{
		Checkout:  store,
		Inventory: store,
		Orders:    store,
		Outbox:    store.Outbox(),
		Janitor:   store.Outbox(),
		Payments:  memory.NewPaymentRepository(),
		Alerts:    memory.NewAlertLedger(),
	}
}

func openPostgresStorage(ctx context.Context, cfg Config, logger *log.Entry) (*Storage, error) {
	if cfg.PostgresDSN == "" {
		return nil, errors.New("postgres dsn is required for postgres storage")
	}
	store, err := postgres.Open(ctx, cfg.PostgresDSN, postgres.DefaultPoolOptions())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.PostgresAutoMigrate {
		if err := store.MigrateUp(ctx, 0); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("migrate postgres: %w", err)
		}
		status, err := store.Status(ctx)
		if err == nil {
			logger.WithFields(log.Fields{
				"version": status.Version,
				"applied": status.Applied,
			}).Info("миграции postgres применены")
		}
	}
	logger.Info("используем postgres хранилище")

	return &Storage{
		Checkout:  store,
		Inventory: store,
		Orders:    store,
		Outbox:    postgres.NewOutboxRepository(store),
		Janitor:   postgres.NewOutboxJanitor(store),
		Payments:  postgres.NewPaymentRepository(store),
		Alerts:    postgres.NewAlertLedger(store),
		ping:      store.Ping,
		close:     store.Close,
	}, nil
}

// seedInventory добавляет товары из конфигурации, не трогая уже существующие остатки.
func seedInventory(ctx context.Context, inventory httpapi.Inventory, seeds []InventorySeed, logger *log.Entry) error {
	added := 0
	for _, seed := range seeds {
		item, err := seed.Item()
		if err != nil {
			return err
		}
		_, err = inventory.GetItem(ctx, item.ID)
		switch {
		case err == nil:
			continue
		case !errors.Is(err, domain.ErrItemNotFound):
			return fmt.Errorf("seed inventory %q: %w", item.ID, err)
		}
		if err := inventory.UpsertItem(ctx, item); err != nil {
			return fmt.Errorf("seed inventory %q: %w", item.ID, err)
		}
		added++
	}
	if added > 0 {
		logger.WithField("items", added).Info("каталог заполнен из конфигурации")
	}
	return nil
}
