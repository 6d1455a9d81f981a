package memory

import (
	"context"
	"sort"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// Get возвращает заказ или ErrOrderNotFound, если его нет.
func (s *Store) Get(_ context.Context, id string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	order, ok := s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

// GetByPaymentConfirmation ищет заказ по подтверждению оплаты.
func (s *Store) GetByPaymentConfirmation(_ context.Context, confirmationID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byPayment[confirmationID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return s.orders[id].Clone(), nil
}

// List возвращает заказы клиента (новые первыми) или филиала (очередь: старые первыми).
func (s *Store) List(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if err := filter.Validate(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	result := make([]domain.Order, 0)
	for _, order := range s.orders {
		if filter.CustomerID != "" && order.CustomerID != filter.CustomerID {
			continue
		}
		if filter.BranchID != "" && order.BranchID != filter.BranchID {
			continue
		}
		if !filter.Group.Matches(order.CanonicalStatus()) {
			continue
		}
		result = append(result, order.Clone())
	}
	s.mu.RUnlock()

	newestFirst := filter.CustomerID != ""
	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			if newestFirst {
				return result[i].CreatedAt.After(result[j].CreatedAt)
			}
			return result[i].CreatedAt.Before(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

// ApplyTransition перезаписывает заказ, проверяя версию (optimistic locking),
// и кладёт события в outbox под той же блокировкой.
func (s *Store) ApplyTransition(_ context.Context, order domain.Order, _ domain.StatusEntry, events []domain.OutboxMessage) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[order.ID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if current.Version+1 != order.Version {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	if len(order.History) <= len(current.History) {
		// История только растёт.
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	stored := order.Clone()
	stored.Items = current.Items
	stored.AmountMinor = current.AmountMinor
	s.orders[order.ID] = stored

	for _, msg := range events {
		if _, err := s.outbox.Enqueue(msg); err != nil {
			return domain.Order{}, err
		}
	}
	return stored.Clone(), nil
}

// SeedOrder кладёт заказ как есть, без проверок. Нужен для импорта старых заказов и тестов.
func (s *Store) SeedOrder(order domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[order.ID] = order.Clone()
	if order.PaymentConfirmationID != "" {
		s.byPayment[order.PaymentConfirmationID] = order.ID
	}
}

var _ domain.OrderRepository = (*Store)(nil)
