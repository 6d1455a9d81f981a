package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

const orderColumns = `id, customer_id, branch_id, COALESCE(payment_confirmation_id, ''),
	amount_minor, status, version, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var order domain.Order
	if err := row.Scan(
		&order.ID,
		&order.CustomerID,
		&order.BranchID,
		&order.PaymentConfirmationID,
		&order.AmountMinor,
		&order.Status,
		&order.Version,
		&order.CreatedAt,
		&order.UpdatedAt,
	); err != nil {
		return domain.Order{}, err
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.UpdatedAt = order.UpdatedAt.UTC()
	return order, nil
}

// Get возвращает заказ с позициями и историей.
func (s *Store) Get(ctx context.Context, id string) (domain.Order, error) {
	return s.getBy(ctx, "id", id)
}

// GetByPaymentConfirmation ищет заказ по подтверждению оплаты.
func (s *Store) GetByPaymentConfirmation(ctx context.Context, confirmationID string) (domain.Order, error) {
	return s.getBy(ctx, "payment_confirmation_id", confirmationID)
}

func (s *Store) getBy(ctx context.Context, column, value string) (domain.Order, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	order, err := scanOrder(s.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE `+column+` = $1`, value))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("select order: %w", err)
	}

	orders := []domain.Order{order}
	if err := s.loadDetails(ctx, orders); err != nil {
		return domain.Order{}, err
	}
	return orders[0], nil
}

// List отбирает заказы клиента (новые первыми) или филиала (старые первыми).
// Группа статусов применяется после legacy-маппинга, поэтому фильтруется в коде.
func (s *Store) List(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + orderColumns + ` FROM orders WHERE customer_id = $1 ORDER BY created_at DESC, id`
	key := filter.CustomerID
	if filter.BranchID != "" {
		query = `SELECT ` + orderColumns + ` FROM orders WHERE branch_id = $1 ORDER BY created_at ASC, id`
		key = filter.BranchID
	}

	rows, err := s.db.QueryContext(ctx, query, key)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	result := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if !filter.Group.Matches(order.CanonicalStatus()) {
			continue
		}
		result = append(result, order)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	rows.Close()

	if err := s.loadDetails(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

// loadDetails подгружает позиции и историю пачкой для всех заказов.
func (s *Store) loadDetails(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]int, len(orders))
	for i, order := range orders {
		ids[i] = order.ID
		index[order.ID] = i
	}

	itemRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, item_id, name, qty, price_minor
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY order_id, line_no
	`, ids)
	if err != nil {
		return fmt.Errorf("select order items: %w", err)
	}
	defer itemRows.Close()
	for itemRows.Next() {
		var (
			orderID string
			item    domain.OrderItem
		)
		if err := itemRows.Scan(&orderID, &item.ItemID, &item.Name, &item.Qty, &item.PriceMinor); err != nil {
			return fmt.Errorf("scan order item: %w", err)
		}
		i := index[orderID]
		orders[i].Items = append(orders[i].Items, item)
	}
	if err := itemRows.Err(); err != nil {
		return fmt.Errorf("iterate order items: %w", err)
	}

	historyRows, err := s.db.QueryContext(ctx, `
		SELECT order_id, status, actor_role, at
		FROM order_status_history
		WHERE order_id = ANY($1)
		ORDER BY order_id, seq
	`, ids)
	if err != nil {
		return fmt.Errorf("select status history: %w", err)
	}
	defer historyRows.Close()
	for historyRows.Next() {
		var (
			orderID string
			role    string
			entry   domain.StatusEntry
		)
		if err := historyRows.Scan(&orderID, &entry.Status, &role, &entry.At); err != nil {
			return fmt.Errorf("scan status history: %w", err)
		}
		entry.ActorRole = domain.Role(role)
		entry.At = entry.At.UTC()
		i := index[orderID]
		orders[i].History = append(orders[i].History, entry)
	}
	if err := historyRows.Err(); err != nil {
		return fmt.Errorf("iterate status history: %w", err)
	}
	return nil
}

// ApplyTransition обновляет статус с проверкой версии, дописывает историю и outbox
// в одной транзакции.
func (s *Store) ApplyTransition(ctx context.Context, order domain.Order, entry domain.StatusEntry, events []domain.OutboxMessage) (result domain.Order, err error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Order{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = $2,
		    version = $3,
		    updated_at = $4
		WHERE id = $1 AND version = $5
	`, order.ID, order.Status, order.Version, order.UpdatedAt, order.Version-1)
	if err != nil {
		return domain.Order{}, fmt.Errorf("update order status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Order{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		var exists bool
		if err = tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, order.ID).Scan(&exists); err != nil {
			return domain.Order{}, fmt.Errorf("check order exists: %w", err)
		}
		if !exists {
			err = domain.ErrOrderNotFound
			return domain.Order{}, err
		}
		err = domain.ErrOrderVersionConflict
		return domain.Order{}, err
	}

	if err = insertHistory(ctx, tx, order.ID, len(order.History)-1, entry); err != nil {
		return domain.Order{}, err
	}
	now := s.now()
	for _, msg := range events {
		if _, err = enqueueOutbox(ctx, tx, msg, now); err != nil {
			return domain.Order{}, err
		}
	}
	if err = tx.Commit(); err != nil {
		return domain.Order{}, fmt.Errorf("commit transition: %w", err)
	}
	return order.Clone(), nil
}

var _ domain.OrderRepository = (*Store)(nil)
