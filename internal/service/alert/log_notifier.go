package alert

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// LogNotifier пишет уведомления в лог. Используется, когда транспорт уведомлений не настроен.
type LogNotifier struct {
	logger *log.Entry
}

// NewLogNotifier создаёт notifier на logrus.
func NewLogNotifier(logger *log.Entry) *LogNotifier {
	if logger == nil {
		logger = log.WithField("component", "log-notifier")
	}
	return &LogNotifier{logger: logger}
}

// Notify реализует domain.Notifier.
func (n *LogNotifier) Notify(_ context.Context, userID, message string) error {
	n.logger.WithField("user_id", userID).Info(message)
	return nil
}

var _ domain.Notifier = (*LogNotifier)(nil)
