package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// AggregateTypeOrder - тип агрегата для событий outbox.
const AggregateTypeOrder = "order"

// Типы событий заказа.
const (
	EventTypeOrderCreated       = "OrderCreated"
	EventTypeOrderStatusChanged = "OrderStatusChanged"
	EventTypeOrderReadyAlert    = "OrderReadyAlert"
)

// OrderItemSnapshot - сериализуемая позиция заказа.
type OrderItemSnapshot struct {
	ItemID     string `json:"item_id"`
	Name       string `json:"name"`
	Qty        int32  `json:"qty"`
	PriceMinor int64  `json:"price_minor"`
}

// StatusEntrySnapshot - сериализуемая запись истории.
type StatusEntrySnapshot struct {
	Status    string    `json:"status"`
	ActorRole Role      `json:"actor_role"`
	At        time.Time `json:"at"`
}

// OrderSnapshot - полное состояние заказа в событиях. Наблюдатели применяют его целиком,
// сравнивая Version.
type OrderSnapshot struct {
	ID                    string                `json:"id"`
	CustomerID            string                `json:"customer_id"`
	BranchID              string                `json:"branch_id"`
	PaymentConfirmationID string                `json:"payment_confirmation_id"`
	Items                 []OrderItemSnapshot   `json:"items"`
	AmountMinor           int64                 `json:"amount_minor"`
	Status                string                `json:"status"`
	History               []StatusEntrySnapshot `json:"history"`
	Version               int64                 `json:"version"`
	CreatedAt             time.Time             `json:"created_at"`
	UpdatedAt             time.Time             `json:"updated_at"`
}

// SnapshotOf строит снимок заказа.
func SnapshotOf(order Order) OrderSnapshot {
	items := make([]OrderItemSnapshot, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, OrderItemSnapshot(item))
	}
	history := make([]StatusEntrySnapshot, 0, len(order.History))
	for _, entry := range order.History {
		history = append(history, StatusEntrySnapshot(entry))
	}
	return OrderSnapshot{
		ID:                    order.ID,
		CustomerID:            order.CustomerID,
		BranchID:              order.BranchID,
		PaymentConfirmationID: order.PaymentConfirmationID,
		Items:                 items,
		AmountMinor:           order.AmountMinor,
		Status:                order.Status,
		History:               history,
		Version:               order.Version,
		CreatedAt:             order.CreatedAt,
		UpdatedAt:             order.UpdatedAt,
	}
}

// Order восстанавливает заказ из снимка.
func (s OrderSnapshot) Order() Order {
	items := make([]OrderItem, 0, len(s.Items))
	for _, item := range s.Items {
		items = append(items, OrderItem(item))
	}
	history := make([]StatusEntry, 0, len(s.History))
	for _, entry := range s.History {
		history = append(history, StatusEntry(entry))
	}
	return Order{
		ID:                    s.ID,
		CustomerID:            s.CustomerID,
		BranchID:              s.BranchID,
		PaymentConfirmationID: s.PaymentConfirmationID,
		Items:                 items,
		AmountMinor:           s.AmountMinor,
		Status:                s.Status,
		History:               history,
		Version:               s.Version,
		CreatedAt:             s.CreatedAt,
		UpdatedAt:             s.UpdatedAt,
	}
}

// OrderEvent - payload событий OrderCreated и OrderStatusChanged.
type OrderEvent struct {
	Order      OrderSnapshot `json:"order"`
	ActorRole  Role          `json:"actor_role,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

// ReadyAlert - payload одноразового уведомления о готовности заказа.
type ReadyAlert struct {
	OrderID    string    `json:"order_id"`
	CustomerID string    `json:"customer_id"`
	BranchID   string    `json:"branch_id"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewOrderEventMessage упаковывает изменение заказа в сообщение outbox.
func NewOrderEventMessage(eventType string, order Order, actor Role, at time.Time) (OutboxMessage, error) {
	payload, err := json.Marshal(OrderEvent{
		Order:      SnapshotOf(order),
		ActorRole:  actor,
		OccurredAt: at.UTC(),
	})
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal order event: %w", err)
	}
	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     eventType,
		Payload:       payload,
	}, nil
}

// NewReadyAlertMessage упаковывает уведомление о готовности в сообщение outbox.
func NewReadyAlertMessage(alert ReadyAlert) (OutboxMessage, error) {
	payload, err := json.Marshal(alert)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("marshal ready alert: %w", err)
	}
	return OutboxMessage{
		AggregateType: AggregateTypeOrder,
		AggregateID:   alert.OrderID,
		EventType:     EventTypeOrderReadyAlert,
		Payload:       payload,
	}, nil
}

// IsOrderStateEvent сообщает, несёт ли сообщение снимок заказа.
func IsOrderStateEvent(msg OutboxMessage) bool {
	return msg.EventType == EventTypeOrderCreated || msg.EventType == EventTypeOrderStatusChanged
}

// RedeliverUntilSent сообщает, что событие нельзя списывать в failed: оно
// откладывается и доставляется повторно, пока не уйдёт.
func RedeliverUntilSent(msg OutboxMessage) bool {
	return msg.EventType == EventTypeOrderReadyAlert
}

// DecodeOrderEvent разбирает payload OrderCreated/OrderStatusChanged.
func DecodeOrderEvent(msg OutboxMessage) (OrderEvent, error) {
	if !IsOrderStateEvent(msg) {
		return OrderEvent{}, fmt.Errorf("unexpected event type %q", msg.EventType)
	}
	var event OrderEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		return OrderEvent{}, fmt.Errorf("decode order event: %w", err)
	}
	return event, nil
}

// DecodeReadyAlert разбирает payload OrderReadyAlert.
func DecodeReadyAlert(msg OutboxMessage) (ReadyAlert, error) {
	if msg.EventType != EventTypeOrderReadyAlert {
		return ReadyAlert{}, fmt.Errorf("unexpected event type %q", msg.EventType)
	}
	var alert ReadyAlert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		return ReadyAlert{}, fmt.Errorf("decode ready alert: %w", err)
	}
	return alert, nil
}
