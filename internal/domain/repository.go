package domain

import "context"

// OrderFilter - фильтр listOrders: ровно один из CustomerID/BranchID.
type OrderFilter struct {
	CustomerID string
	BranchID   string
	Group      StatusGroup
	Limit      int
}

// Validate проверяет, что задан ровно один ключ.
func (f OrderFilter) Validate() error {
	switch {
	case f.CustomerID == "" && f.BranchID == "":
		return NewValidationError("filter", ErrFilterKeyRequired)
	case f.CustomerID != "" && f.BranchID != "":
		return NewValidationError("filter", ErrFilterKeyAmbiguous)
	case f.Limit < 0:
		return NewValidationError("limit", ErrFilterLimitNegative)
	}
	return nil
}

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Get возвращает заказ по идентификатору или ErrOrderNotFound, если его нет.
	Get(ctx context.Context, id string) (Order, error)
	// GetByPaymentConfirmation ищет заказ, созданный по подтверждению оплаты.
	GetByPaymentConfirmation(ctx context.Context, confirmationID string) (Order, error)
	// List возвращает заказы клиента (новые первыми) или филиала (старые первыми).
	List(ctx context.Context, filter OrderFilter) ([]Order, error)
	// ApplyTransition сохраняет новое состояние заказа, добавляет entry в историю и события
	// outbox в одной транзакции. order.Version должна быть ровно на единицу больше сохранённой,
	// иначе ErrOrderVersionConflict.
	ApplyTransition(ctx context.Context, order Order, entry StatusEntry, events []OutboxMessage) (Order, error)
}
