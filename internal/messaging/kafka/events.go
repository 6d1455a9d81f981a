package kafka

import (
	"encoding/json"
	"time"
)

// Топики сервиса.
const (
	// TopicOrderEvents - OrderCreated/OrderStatusChanged для back-office.
	TopicOrderEvents = "bakery.order.events"
	// TopicNotifications - пользовательские уведомления для сервиса доставки.
	TopicNotifications = "bakery.notifications"
	// TopicPaymentsConfirmed - подтверждения оплаты от платёжного сервиса.
	TopicPaymentsConfirmed = "bakery.payments.confirmed"
	// TopicReconciliation - оплаченные, но не созданные заказы для оператора.
	TopicReconciliation = "bakery.reconciliation"
	// TopicDeadLetter - сообщения, которые не удалось обработать.
	TopicDeadLetter = "bakery.dlq"
)

// Заголовки сообщений.
const (
	HeaderEventType     = "x-event-type"
	HeaderRetryCount    = "x-retry-count"
	HeaderOriginalTopic = "x-original-topic"
	HeaderErrorMessage  = "x-error-message"
	HeaderFailedAt      = "x-failed-at"
)

// OutboxEnvelope - событие outbox в топике заказов.
type OutboxEnvelope struct {
	ID            string          `json:"id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	PublishedAt   time.Time       `json:"published_at"`
}

// NotificationMessage - notify(userId, message).
type NotificationMessage struct {
	UserID  string    `json:"user_id"`
	Message string    `json:"message"`
	SentAt  time.Time `json:"sent_at"`
}

// PaymentConfirmedMessage - событие paymentConfirmed(confirmationId, amount).
type PaymentConfirmedMessage struct {
	ConfirmationID string    `json:"confirmation_id"`
	AmountMinor    int64     `json:"amount_minor"`
	ConfirmedAt    time.Time `json:"confirmed_at"`
}

// ReconciliationLine - позиция оплаченного заказа.
type ReconciliationLine struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// ReconciliationMessage - случай ручной сверки.
type ReconciliationMessage struct {
	PaymentConfirmationID string               `json:"payment_confirmation_id"`
	CustomerID            string               `json:"customer_id"`
	BranchID              string               `json:"branch_id"`
	AmountMinor           int64                `json:"amount_minor"`
	Lines                 []ReconciliationLine `json:"lines"`
	Reason                string               `json:"reason"`
	OccurredAt            time.Time            `json:"occurred_at"`
}

// DeadLetterMessage - содержимое сообщения в TopicDeadLetter.
type DeadLetterMessage struct {
	OriginalTopic     string    `json:"original_topic"`
	OriginalPartition int32     `json:"original_partition"`
	OriginalOffset    int64     `json:"original_offset"`
	OriginalKey       string    `json:"original_key"`
	OriginalValue     string    `json:"original_value"`
	Error             string    `json:"error"`
	Attempts          int       `json:"attempts"`
	FailedAt          time.Time `json:"failed_at"`
}
