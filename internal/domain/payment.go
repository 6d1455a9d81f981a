package domain

import (
	"errors"
	"time"
)

// PaymentConfirmation - внешнее подтверждение оплаты (событие paymentConfirmed).
// Checkout не инициирует оплату, а только проверяет, что она уже прошла.
type PaymentConfirmation struct {
	ID          string
	AmountMinor int64
	ConfirmedAt time.Time
}

// Validate проверяет корректность подтверждения.
func (p PaymentConfirmation) Validate() error {
	switch {
	case p.ID == "":
		return NewValidationError("confirmation_id", errors.New("is required"))
	case p.AmountMinor < 0:
		return NewValidationError("amount_minor", errors.New("must be non-negative"))
	}
	return nil
}
