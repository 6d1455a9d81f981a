package kafka

import (
	"context"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// ReconciliationPublisher отправляет случаи ручной сверки в топик оператора.
type ReconciliationPublisher struct {
	producer *Producer
	topic    string
}

// NewReconciliationPublisher создаёт escalator на Kafka.
func NewReconciliationPublisher(producer *Producer, topic string) *ReconciliationPublisher {
	if topic == "" {
		topic = TopicReconciliation
	}
	return &ReconciliationPublisher{producer: producer, topic: topic}
}

// Escalate реализует domain.Escalator.
func (p *ReconciliationPublisher) Escalate(_ context.Context, c domain.ReconciliationCase) error {
	lines := make([]ReconciliationLine, 0, len(c.Items))
	for _, item := range c.Items {
		lines = append(lines, ReconciliationLine(item))
	}
	return p.producer.PublishEvent(p.topic, c.PaymentConfirmationID, ReconciliationMessage{
		PaymentConfirmationID: c.PaymentConfirmationID,
		CustomerID:            c.CustomerID,
		BranchID:              c.BranchID,
		AmountMinor:           c.AmountMinor,
		Lines:                 lines,
		Reason:                c.Reason,
		OccurredAt:            c.OccurredAt.UTC(),
	})
}

var _ domain.Escalator = (*ReconciliationPublisher)(nil)
