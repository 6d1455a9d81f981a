// Package reconcile передаёт оператору заказы, оплаченные, но не сохранённые.
package reconcile

import (
	"context"
	"errors"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// LogEscalator пишет случай сверки в лог на уровне Error.
type LogEscalator struct {
	logger *log.Entry
}

// NewLogEscalator создаёт escalator на logrus.
func NewLogEscalator(logger *log.Entry) *LogEscalator {
	if logger == nil {
		logger = log.WithField("component", "reconciliation")
	}
	return &LogEscalator{logger: logger}
}

// Escalate реализует domain.Escalator.
func (e *LogEscalator) Escalate(_ context.Context, c domain.ReconciliationCase) error {
	e.logger.WithFields(log.Fields{
		"payment_confirmation_id": c.PaymentConfirmationID,
		"customer_id":             c.CustomerID,
		"branch_id":               c.BranchID,
		"amount_minor":            c.AmountMinor,
		"lines":                   len(c.Items),
		"occurred_at":             c.OccurredAt,
	}).Error("MANUAL RECONCILIATION REQUIRED: payment taken but order was not created: " + c.Reason)
	return nil
}

// Multi отправляет случай во все escalator'ы и собирает ошибки.
type Multi []domain.Escalator

// Escalate реализует domain.Escalator.
func (m Multi) Escalate(ctx context.Context, c domain.ReconciliationCase) error {
	var errs []error
	for _, escalator := range m {
		if escalator == nil {
			continue
		}
		if err := escalator.Escalate(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

var (
	_ domain.Escalator = (*LogEscalator)(nil)
	_ domain.Escalator = Multi(nil)
)
