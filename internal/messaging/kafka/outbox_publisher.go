package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// OutboxTopicPublisher отправляет события заказов из outbox в топик.
// Ключ сообщения - ID заказа, поэтому события одного заказа попадают в одну партицию по порядку.
type OutboxTopicPublisher struct {
	producer *Producer
	topic    string
	filter   func(domain.OutboxMessage) bool
}

// NewOutboxPublisher создаёт publisher для снимков заказов (OrderCreated/OrderStatusChanged).
func NewOutboxPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicOrderEvents
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic, filter: domain.IsOrderStateEvent}
}

// NewDeadLetterPublisher создаёт publisher без фильтра для dead letter outbox.
func NewDeadLetterPublisher(producer *Producer, topic string) *OutboxTopicPublisher {
	if topic == "" {
		topic = TopicDeadLetter
	}
	return &OutboxTopicPublisher{producer: producer, topic: topic}
}

// Publish реализует domain.OutboxPublisher.
func (p *OutboxTopicPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if p == nil || p.producer == nil {
		return errors.New("kafka outbox publisher is not initialized")
	}
	if p.filter != nil && !p.filter(event) {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	key := event.AggregateID
	if key == "" {
		key = event.ID
	}
	return p.producer.PublishEvent(p.topic, key, OutboxEnvelope{
		ID:            event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		PublishedAt:   time.Now().UTC(),
	}, header(HeaderEventType, event.EventType))
}

var _ domain.OutboxPublisher = (*OutboxTopicPublisher)(nil)
