package kafka

import (
	"context"
	"time"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// Notifier передаёт уведомления пользователям через топик уведомлений.
type Notifier struct {
	producer *Producer
	topic    string
}

// NewNotifier создаёт транспорт уведомлений.
func NewNotifier(producer *Producer, topic string) *Notifier {
	if topic == "" {
		topic = TopicNotifications
	}
	return &Notifier{producer: producer, topic: topic}
}

// Notify реализует domain.Notifier.
func (n *Notifier) Notify(ctx context.Context, userID, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.producer.PublishEvent(n.topic, userID, NotificationMessage{
		UserID:  userID,
		Message: message,
		SentAt:  time.Now().UTC(),
	})
}

var _ domain.Notifier = (*Notifier)(nil)
