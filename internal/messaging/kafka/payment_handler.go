package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// NewPaymentConfirmedHandler сохраняет подтверждения оплаты из топика платёжного сервиса.
// Битые сообщения возвращают ошибку валидации и уходят в DLQ без повторов.
func NewPaymentConfirmedHandler(payments domain.PaymentRepository, logger *log.Entry) MessageHandler {
	if logger == nil {
		logger = log.WithField("component", "payment-consumer")
	}
	return func(ctx context.Context, message *sarama.ConsumerMessage) error {
		var event PaymentConfirmedMessage
		if err := json.Unmarshal(message.Value, &event); err != nil {
			return domain.NewValidationError("payment_confirmation", fmt.Errorf("decode: %w", err))
		}
		confirmation := domain.PaymentConfirmation{
			ID:          event.ConfirmationID,
			AmountMinor: event.AmountMinor,
			ConfirmedAt: event.ConfirmedAt,
		}
		if err := confirmation.Validate(); err != nil {
			return err
		}
		if err := payments.Record(ctx, confirmation); err != nil {
			return err
		}
		logger.WithFields(log.Fields{
			"confirmation_id": confirmation.ID,
			"amount_minor":    confirmation.AmountMinor,
		}).Info("payment confirmation recorded")
		return nil
	}
}
