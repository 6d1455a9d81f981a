package domain

import (
	"context"
	"time"
)

// Catalog - чтение товаров каталога для проверки корзины. Остатками не управляет.
type Catalog interface {
	GetItem(ctx context.Context, itemID string) (InventoryItem, error)
}

// InventoryLedger - единственная точка изменения остатков внутри транзакции checkout.
type InventoryLedger interface {
	// Reserve атомарно списывает qty. При нехватке возвращает *ShortageError и ничего не меняет,
	// для неизвестного товара - ErrItemNotFound.
	Reserve(ctx context.Context, r Reservation) error
}

// CheckoutTx - транзакция оформления: резервы, заказ и события фиксируются вместе или не фиксируются вовсе.
type CheckoutTx interface {
	InventoryLedger
	// CreateOrder сохраняет заказ вместе с первой записью истории.
	CreateOrder(ctx context.Context, order Order) error
	// Enqueue добавляет событие в outbox той же транзакции.
	Enqueue(ctx context.Context, msg OutboxMessage) error
}

// CheckoutStore открывает транзакции оформления.
type CheckoutStore interface {
	// InTx выполняет fn в одной транзакции. Ошибка fn откатывает всё.
	// Резервы внутри транзакции нужно делать в порядке возрастания ItemID.
	InTx(ctx context.Context, fn func(tx CheckoutTx) error) error
}

// PaymentRepository хранит подтверждения оплаты от платёжного сервиса.
type PaymentRepository interface {
	// Record идемпотентно сохраняет подтверждение.
	Record(ctx context.Context, confirmation PaymentConfirmation) error
	// Get возвращает подтверждение или ErrPaymentNotConfirmed.
	Get(ctx context.Context, id string) (PaymentConfirmation, error)
}

// AlertKind - вид одноразового уведомления.
type AlertKind string

// AlertKindReady - уведомление «заказ готов».
const AlertKindReady AlertKind = "ready"

// AlertLedger гарантирует, что уведомление по заказу отправляется один раз.
type AlertLedger interface {
	// Claim помечает уведомление как отправляемое; false - уже было заявлено раньше.
	Claim(ctx context.Context, orderID string, kind AlertKind) (bool, error)
	// Release снимает отметку, если отправка не удалась.
	Release(ctx context.Context, orderID string, kind AlertKind) error
}

// Notifier - транспорт пользовательских уведомлений: notify(userId, message).
type Notifier interface {
	Notify(ctx context.Context, userID, message string) error
}

// OrderPublisher раздаёт снимки заказа наблюдателям. Не должен блокировать вызывающего.
type OrderPublisher interface {
	Publish(order Order)
}

// ReconciliationCase - заказ, который не удалось записать после оплаты.
type ReconciliationCase struct {
	PaymentConfirmationID string
	CustomerID            string
	BranchID              string
	AmountMinor           int64
	Items                 []OrderItem
	Reason                string
	OccurredAt            time.Time
}

// Escalator передаёт случаи ручной сверки оператору.
type Escalator interface {
	Escalate(ctx context.Context, c ReconciliationCase) error
}

// OutboxPublisher публикует события из transactional outbox.
type OutboxPublisher interface {
	// Publish передаёт событие наружу; должен быть идемпотентным.
	Publish(ctx context.Context, event OutboxMessage) error
}

// OutboxRepository позволяет сохранять события для последующей публикации.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
	// MarkRetry оставляет событие pending и прячет его от PullPending до next.
	MarkRetry(id string, next time.Time) error
}

// OutboxJanitor удаляет уже обработанные события outbox.
type OutboxJanitor interface {
	// DeleteProcessed удаляет до limit событий со статусом sent/failed,
	// обновлённых не позже before, и возвращает их количество.
	DeleteProcessed(before time.Time, limit int) (int, error)
}

// OutboxMessage хранит данные для публикуемого события.
type OutboxMessage struct {
	ID            string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	// Attempts - число неудачных раундов доставки до текущего.
	Attempts int
}

// OutboxStats описывает текущее состояние backlog transactional outbox.
type OutboxStats struct {
	PendingCount    int
	OldestPendingAt time.Time
}
