package alert

import (
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
)

// Результаты отправки уведомления для метрик.
const (
	resultSent      = "sent"
	resultDuplicate = "duplicate"
	resultFailed    = "failed"
)

// Dispatcher доставляет уведомление «заказ готов» ровно один раз на заказ.
// Подключается к outbox-воркеру как domain.OutboxPublisher: повторная доставка
// того же события (ретрай воркера, второй инстанс, переподключение клиента) не
// приводит к повторному уведомлению.
type Dispatcher struct {
	ledger   domain.AlertLedger
	notifier domain.Notifier
	metrics  *metrics.OrderMetrics
	logger   *log.Entry
}

// NewDispatcher создаёт диспетчер уведомлений.
func NewDispatcher(ledger domain.AlertLedger, notifier domain.Notifier, m *metrics.OrderMetrics, logger *log.Entry) *Dispatcher {
	if logger == nil {
		logger = log.WithField("component", "ready-alert")
	}
	return &Dispatcher{ledger: ledger, notifier: notifier, metrics: m, logger: logger}
}

// Publish обрабатывает OrderReadyAlert; остальные события пропускает.
func (d *Dispatcher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if event.EventType != domain.EventTypeOrderReadyAlert {
		return nil
	}
	alert, err := domain.DecodeReadyAlert(event)
	if err != nil {
		return err
	}
	logger := d.logger.WithFields(log.Fields{
		"order_id":    alert.OrderID,
		"customer_id": alert.CustomerID,
	})

	claimed, err := d.ledger.Claim(ctx, alert.OrderID, domain.AlertKindReady)
	if err != nil {
		return fmt.Errorf("claim ready alert: %w", err)
	}
	if !claimed {
		d.metrics.RecordReadyAlert(resultDuplicate)
		logger.Debug("ready alert already sent, skipping")
		return nil
	}

	if err := d.notifier.Notify(ctx, alert.CustomerID, alert.Message); err != nil {
		d.metrics.RecordReadyAlert(resultFailed)
		if releaseErr := d.ledger.Release(ctx, alert.OrderID, domain.AlertKindReady); releaseErr != nil {
			logger.WithError(releaseErr).Error("failed to release ready alert claim")
		}
		return fmt.Errorf("notify customer: %w", err)
	}

	d.metrics.RecordReadyAlert(resultSent)
	logger.Info("ready alert sent")
	return nil
}

var _ domain.OutboxPublisher = (*Dispatcher)(nil)
