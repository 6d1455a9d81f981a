package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

const ordersPaymentConstraint = "orders_payment_confirmation_uniq"

// InTx открывает транзакцию оформления. Остатки блокируются SELECT ... FOR UPDATE
// по мере резервирования и освобождаются на COMMIT или ROLLBACK.
func (s *Store) InTx(ctx context.Context, fn func(tx domain.CheckoutTx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin checkout tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&checkoutTx{tx: sqlTx, store: s}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit checkout tx: %w", err)
	}
	return nil
}

type checkoutTx struct {
	tx    *sql.Tx
	store *Store
}

// Reserve сначала читает остаток под блокировкой. При нехватке UPDATE не выполняется,
// поэтому CHECK-ограничение не срабатывает и транзакция остаётся рабочей.
func (c *checkoutTx) Reserve(ctx context.Context, r domain.Reservation) error {
	if r.Qty <= 0 {
		return domain.NewValidationError("qty", domain.ErrItemQtyInvalid)
	}

	var available int32
	err := c.tx.QueryRowContext(ctx, `
		SELECT available_quantity
		FROM inventory_items
		WHERE id = $1
		FOR UPDATE
	`, r.ItemID).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrItemNotFound
	}
	if err != nil {
		return fmt.Errorf("lock inventory item %s: %w", r.ItemID, err)
	}
	if available < r.Qty {
		return &domain.ShortageError{ItemID: r.ItemID, Requested: r.Qty, Available: available}
	}

	if _, err := c.tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET available_quantity = available_quantity - $2,
		    updated_at = $3
		WHERE id = $1
	`, r.ItemID, r.Qty, c.store.now()); err != nil {
		return fmt.Errorf("reserve inventory item %s: %w", r.ItemID, err)
	}
	return nil
}

func (c *checkoutTx) CreateOrder(ctx context.Context, order domain.Order) error {
	var payment any
	if order.PaymentConfirmationID != "" {
		payment = order.PaymentConfirmationID
	}

	_, err := c.tx.ExecContext(ctx, `
		INSERT INTO orders (
			id, customer_id, branch_id, payment_confirmation_id, amount_minor,
			status, version, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`,
		order.ID, order.CustomerID, order.BranchID, payment, order.AmountMinor,
		order.Status, order.Version, order.CreatedAt, order.UpdatedAt,
	)
	if err != nil {
		if code, constraint := pgCode(err); code == uniqueViolation {
			if constraint == ordersPaymentConstraint {
				return domain.ErrPaymentAlreadyUsed
			}
			return domain.ErrOrderAlreadyExists
		}
		return fmt.Errorf("insert order: %w", err)
	}

	for i, item := range order.Items {
		if _, err := c.tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, line_no, item_id, name, qty, price_minor)
			VALUES ($1,$2,$3,$4,$5,$6)
		`, order.ID, i, item.ItemID, item.Name, item.Qty, item.PriceMinor); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}
	}
	for i, entry := range order.History {
		if err := insertHistory(ctx, c.tx, order.ID, i, entry); err != nil {
			return err
		}
	}
	return nil
}

func (c *checkoutTx) Enqueue(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := enqueueOutbox(ctx, c.tx, msg, c.store.now())
	return err
}

// GetItem возвращает товар каталога.
func (s *Store) GetItem(ctx context.Context, itemID string) (domain.InventoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var item domain.InventoryItem
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, price_minor, available_quantity, updated_at
		FROM inventory_items
		WHERE id = $1
	`, itemID).Scan(&item.ID, &item.Name, &item.PriceMinor, &item.AvailableQuantity, &item.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.InventoryItem{}, domain.ErrItemNotFound
	}
	if err != nil {
		return domain.InventoryItem{}, fmt.Errorf("get inventory item: %w", err)
	}
	item.UpdatedAt = item.UpdatedAt.UTC()
	return item, nil
}

// ListItems возвращает каталог, отсортированный по идентификатору.
func (s *Store) ListItems(ctx context.Context) ([]domain.InventoryItem, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, price_minor, available_quantity, updated_at
		FROM inventory_items
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list inventory items: %w", err)
	}
	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		var item domain.InventoryItem
		if err := rows.Scan(&item.ID, &item.Name, &item.PriceMinor, &item.AvailableQuantity, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan inventory item: %w", err)
		}
		item.UpdatedAt = item.UpdatedAt.UTC()
		items = append(items, item)
	}
	return items, rows.Err()
}

// UpsertItem - правка каталога.
func (s *Store) UpsertItem(ctx context.Context, item domain.InventoryItem) error {
	if item.ID == "" {
		return domain.NewValidationError("id", domain.ErrItemIDRequired)
	}
	if item.AvailableQuantity < 0 {
		return domain.NewValidationError("available_quantity", errors.New("must be non-negative"))
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO inventory_items (id, name, price_minor, available_quantity, updated_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    price_minor = EXCLUDED.price_minor,
		    available_quantity = EXCLUDED.available_quantity,
		    updated_at = EXCLUDED.updated_at
	`, item.ID, item.Name, item.PriceMinor, item.AvailableQuantity, s.now()); err != nil {
		if code, _ := pgCode(err); code == checkViolation {
			return domain.NewValidationError("item", err)
		}
		return fmt.Errorf("upsert inventory item: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertHistory(ctx context.Context, db execer, orderID string, seq int, entry domain.StatusEntry) error {
	if _, err := db.ExecContext(ctx, `
		INSERT INTO order_status_history (order_id, seq, status, actor_role, at)
		VALUES ($1,$2,$3,$4,$5)
	`, orderID, seq, entry.Status, string(entry.ActorRole), entry.At); err != nil {
		if code, _ := pgCode(err); code == uniqueViolation {
			return domain.ErrOrderVersionConflict
		}
		return fmt.Errorf("insert status history: %w", err)
	}
	return nil
}

func enqueueOutbox(ctx context.Context, db execer, msg domain.OutboxMessage, now time.Time) (domain.OutboxMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO outbox_messages (
			id, aggregate_type, aggregate_id, event_type, payload,
			status, attempt_count, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,'pending',0,$6,$6)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, msg.Payload, now); err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("enqueue outbox message: %w", err)
	}
	return msg, nil
}

var (
	_ domain.CheckoutStore = (*Store)(nil)
	_ domain.Catalog       = (*Store)(nil)
)
