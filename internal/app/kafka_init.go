package app

import (
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/messaging/kafka"
	"github.com/vladislavdragonenkov/bakery/internal/version"
)

// initKafkaProducer создаёт producer, если brokers не пустой.
// Возвращает nil, nil без brokers и nil, err при недоступном кластере.
func initKafkaProducer(brokers []string, logger *log.Entry) (*kafka.Producer, error) {
	if len(brokers) == 0 {
		return nil, nil
	}

	producer, err := kafka.NewProducer(brokers, version.ClientID())
	if err != nil {
		logger.WithError(err).Warn("failed to create kafka producer, continuing without kafka")
		return nil, err
	}

	logger.WithField("brokers", brokers).Info("kafka producer initialized")
	return producer, nil
}

// initPaymentConsumer подписывается на подтверждения оплаты. Без producer сервис
// принимает подтверждения только через служебный HTTP webhook.
func initPaymentConsumer(cfg Config, producer *kafka.Producer, payments domain.PaymentRepository, logger *log.Entry) (*kafka.Consumer, error) {
	if producer == nil || len(cfg.KafkaBrokers) == 0 {
		return nil, nil
	}

	consumerLogger := logger.WithField("component", "payment-consumer")
	consumer, err := kafka.NewConsumer(
		cfg.KafkaBrokers,
		cfg.KafkaConsumerGroup,
		[]string{kafka.TopicPaymentsConfirmed},
		kafka.NewPaymentConfirmedHandler(payments, consumerLogger),
		kafka.WithDeadLetter(producer, kafka.TopicDeadLetter),
		kafka.WithConsumerLogger(consumerLogger),
	)
	if err != nil {
		logger.WithError(err).Warn("failed to create payment consumer")
		return nil, err
	}

	logger.WithFields(log.Fields{
		"group": cfg.KafkaConsumerGroup,
		"topic": kafka.TopicPaymentsConfirmed,
	}).Info("payment consumer initialized")
	return consumer, nil
}

// closeKafka закрывает Kafka producer если он не nil.
func closeKafka(producer *kafka.Producer, logger *log.Entry) {
	if producer == nil {
		return
	}

	if err := producer.Close(); err != nil {
		logger.WithError(err).Warn("failed to close kafka producer")
	} else {
		logger.Info("kafka producer closed")
	}
}

// stopConsumer останавливает consumer group если она была запущена.
func stopConsumer(consumer *kafka.Consumer, logger *log.Entry) {
	if consumer == nil {
		return
	}

	if err := consumer.Stop(); err != nil {
		logger.WithError(err).Warn("failed to stop kafka consumer")
	}
}
