package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Виды ошибок. Конкретные ошибки ниже оборачивают их, поэтому вызывающая сторона
// проверяет вид через errors.Is.
var (
	// ErrValidation — некорректный вход, вызывающий может исправить запрос и повторить.
	ErrValidation = errors.New("validation failed")
	// ErrInsufficientStock — на складе не хватает товара хотя бы для одной позиции.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrItemNotFound — корзина ссылается на удалённый товар.
	ErrItemNotFound = errors.New("item not found")
	// ErrInvalidTransition — переход не сдвигает статус ровно на один шаг вперёд.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrForbidden — у актора нет права на операцию.
	ErrForbidden = errors.New("forbidden")
	// ErrPersistence — инфраструктурная ошибка хранилища.
	ErrPersistence = errors.New("persistence failure")
	// ErrCheckoutTimeout — атомарный коммит не уложился в отведённое время, можно повторить.
	ErrCheckoutTimeout = errors.New("checkout timed out")
	// ErrReconciliationRequired — оплата прошла, а заказ записать не удалось.
	ErrReconciliationRequired = errors.New("order persistence failed after payment, reconciliation required")
)

var (
	// ErrCustomerRequired возвращается, если не указан клиент.
	ErrCustomerRequired = errors.New("customer_id is required")
	// ErrBranchRequired возвращается, если не указан филиал.
	ErrBranchRequired = errors.New("branch_id is required")
	// ErrItemsRequired — в заказе нет ни одной позиции.
	ErrItemsRequired = errors.New("order must contain at least one item")
	// ErrItemIDRequired — у позиции нет идентификатора товара.
	ErrItemIDRequired = errors.New("item_id is required")
	// ErrItemQtyInvalid — количество позиции <= 0.
	ErrItemQtyInvalid = errors.New("item qty must be greater than zero")
	// ErrItemPriceInvalid — отрицательная цена позиции.
	ErrItemPriceInvalid = errors.New("item price must be non-negative")
	// ErrAmountMismatch — сумма заказа не совпадает с суммой позиций.
	ErrAmountMismatch = errors.New("order amount does not match items sum")
	// ErrAmountOverflow - сумма позиций не помещается в int64.
	ErrAmountOverflow = errors.New("order amount overflows")
	// ErrHistoryRequired — у заказа нет ни одной записи истории.
	ErrHistoryRequired = errors.New("order status history is empty")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrOrderAlreadyExists — заказ с таким ID уже сохранён.
	ErrOrderAlreadyExists = errors.New("order already exists")
	// ErrUnknownStatus — статус не распознан ни как канонический, ни как legacy-алиас.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrPaymentNotConfirmed — подтверждение оплаты ещё не получено.
	ErrPaymentNotConfirmed = errors.New("payment confirmation not found")
	// ErrPaymentAmountMismatch — сумма подтверждения не совпадает с суммой заказа.
	ErrPaymentAmountMismatch = errors.New("payment amount does not match order total")
	// ErrPaymentAlreadyUsed — подтверждение оплаты уже привязано к другому заказу.
	ErrPaymentAlreadyUsed = errors.New("payment confirmation already used")
	// ErrPaymentConflict — повторное подтверждение с другой суммой.
	ErrPaymentConflict = errors.New("payment confirmation conflicts with recorded one")
	// ErrOutboxPublish — ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// ValidationError описывает некорректное поле запроса.
type ValidationError struct {
	Field  string
	Reason error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %v", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %v", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Reason }

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// NewValidationError оборачивает причину в ValidationError.
func NewValidationError(field string, reason error) error {
	return &ValidationError{Field: field, Reason: reason}
}

// ShortageError возвращает склад, когда резерв превышает остаток.
type ShortageError struct {
	ItemID    string
	Requested int32
	Available int32
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("insufficient stock for %s: requested %d, available %d", e.ItemID, e.Requested, e.Available)
}

func (e *ShortageError) Is(target error) bool { return target == ErrInsufficientStock }

// StockShortage — одна позиция корзины, которую нельзя выполнить.
type StockShortage struct {
	// Line — индекс позиции в исходной корзине.
	Line      int
	ItemID    string
	Name      string
	Requested int32
	Available int32
}

// InsufficientStockError перечисляет все позиции без достаточного остатка.
type InsufficientStockError struct {
	Shortages []StockShortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("%s (requested %d, available %d)", s.ItemID, s.Requested, s.Available))
	}
	return "insufficient stock: " + strings.Join(parts, ", ")
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// ItemNotFoundError перечисляет товары, которых больше нет в каталоге.
type ItemNotFoundError struct {
	ItemIDs []string
}

func (e *ItemNotFoundError) Error() string {
	return "item not found: " + strings.Join(e.ItemIDs, ", ")
}

func (e *ItemNotFoundError) Is(target error) bool { return target == ErrItemNotFound }

// TransitionError описывает отклонённый переход статуса.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid status transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsRetryable сообщает, имеет ли смысл вызывающей стороне повторить запрос как есть.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCheckoutTimeout),
		errors.Is(err, ErrOrderVersionConflict),
		errors.Is(err, ErrPaymentNotConfirmed):
		return true
	default:
		return false
	}
}

var (
	// ErrFilterKeyRequired — не задан ни клиент, ни филиал.
	ErrFilterKeyRequired = errors.New("either customer_id or branch_id is required")
	// ErrFilterKeyAmbiguous — заданы и клиент, и филиал.
	ErrFilterKeyAmbiguous = errors.New("customer_id and branch_id are mutually exclusive")
	// ErrFilterLimitNegative — отрицательный limit.
	ErrFilterLimitNegative = errors.New("limit must be non-negative")
)
