package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

type paymentRepository struct {
	db *sql.DB
}

// NewPaymentRepository создаёт журнал подтверждений оплаты в PostgreSQL.
func NewPaymentRepository(store *Store) domain.PaymentRepository {
	return &paymentRepository{db: store.DB()}
}

// Record вставляет подтверждение; повтор с той же суммой не ошибка, с другой - ErrPaymentConflict.
func (r *paymentRepository) Record(ctx context.Context, confirmation domain.PaymentConfirmation) error {
	if err := confirmation.Validate(); err != nil {
		return err
	}

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO payment_confirmations (id, amount_minor, confirmed_at)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO NOTHING
	`, confirmation.ID, confirmation.AmountMinor, confirmation.ConfirmedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert payment confirmation: %w", err)
	}
	if affected, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("rows affected: %w", err)
	} else if affected == 1 {
		return nil
	}

	existing, err := r.Get(ctx, confirmation.ID)
	if err != nil {
		return err
	}
	if existing.AmountMinor != confirmation.AmountMinor {
		return domain.ErrPaymentConflict
	}
	return nil
}

func (r *paymentRepository) Get(ctx context.Context, id string) (domain.PaymentConfirmation, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var confirmation domain.PaymentConfirmation
	err := r.db.QueryRowContext(ctx, `
		SELECT id, amount_minor, confirmed_at
		FROM payment_confirmations
		WHERE id = $1
	`, id).Scan(&confirmation.ID, &confirmation.AmountMinor, &confirmation.ConfirmedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PaymentConfirmation{}, domain.ErrPaymentNotConfirmed
	}
	if err != nil {
		return domain.PaymentConfirmation{}, fmt.Errorf("select payment confirmation: %w", err)
	}
	confirmation.ConfirmedAt = confirmation.ConfirmedAt.UTC()
	return confirmation, nil
}

var _ domain.PaymentRepository = (*paymentRepository)(nil)
