package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

type alertLedger struct {
	db *sql.DB
}

// NewAlertLedger создаёт журнал одноразовых уведомлений на таблице order_alerts.
func NewAlertLedger(store *Store) domain.AlertLedger {
	return &alertLedger{db: store.DB()}
}

func (l *alertLedger) Claim(ctx context.Context, orderID string, kind domain.AlertKind) (bool, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO order_alerts (order_id, kind)
		VALUES ($1,$2)
		ON CONFLICT (order_id, kind) DO NOTHING
	`, orderID, string(kind))
	if err != nil {
		return false, fmt.Errorf("claim alert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected == 1, nil
}

func (l *alertLedger) Release(ctx context.Context, orderID string, kind domain.AlertKind) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if _, err := l.db.ExecContext(ctx, `DELETE FROM order_alerts WHERE order_id = $1 AND kind = $2`, orderID, string(kind)); err != nil {
		return fmt.Errorf("release alert: %w", err)
	}
	return nil
}

var _ domain.AlertLedger = (*alertLedger)(nil)
