package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// PaymentRepository - in-memory журнал подтверждений оплаты.
type PaymentRepository struct {
	mu    sync.RWMutex
	items map[string]domain.PaymentConfirmation
}

// NewPaymentRepository создаёт пустой журнал.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{items: make(map[string]domain.PaymentConfirmation)}
}

// Record сохраняет подтверждение. Повтор с той же суммой не считается ошибкой.
func (r *PaymentRepository) Record(_ context.Context, confirmation domain.PaymentConfirmation) error {
	if err := confirmation.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.items[confirmation.ID]; ok {
		if existing.AmountMinor != confirmation.AmountMinor {
			return domain.ErrPaymentConflict
		}
		return nil
	}
	r.items[confirmation.ID] = confirmation
	return nil
}

// Get возвращает подтверждение или ErrPaymentNotConfirmed.
func (r *PaymentRepository) Get(_ context.Context, id string) (domain.PaymentConfirmation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	confirmation, ok := r.items[id]
	if !ok {
		return domain.PaymentConfirmation{}, domain.ErrPaymentNotConfirmed
	}
	return confirmation, nil
}

var _ domain.PaymentRepository = (*PaymentRepository)(nil)
