package kafka

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

const (
	defaultConsumerRetries = 3
	defaultConsumerBackoff = 200 * time.Millisecond
)

// MessageHandler обрабатывает одно сообщение.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*Consumer)

// WithDeadLetter включает отправку необработанных сообщений в DLQ.
func WithDeadLetter(producer *Producer, topic string) ConsumerOption {
	return func(c *Consumer) {
		c.dlq = producer
		if topic != "" {
			c.dlqTopic = topic
		}
	}
}

// WithMaxRetries задаёт число повторов обработчика для одного сообщения.
func WithMaxRetries(n int) ConsumerOption {
	return func(c *Consumer) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryBackoff задаёт паузу между повторами.
func WithRetryBackoff(d time.Duration) ConsumerOption {
	return func(c *Consumer) {
		if d >= 0 {
			c.backoff = d
		}
	}
}

// WithConsumerLogger задаёт logger.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(c *Consumer) { c.logger = logger }
}

// Consumer - участник consumer group с повторами и DLQ.
type Consumer struct {
	group      sarama.ConsumerGroup
	topics     []string
	handler    MessageHandler
	logger     *log.Entry
	dlq        *Producer
	dlqTopic   string
	maxRetries int
	backoff    time.Duration
	wg         sync.WaitGroup
}

// NewConsumer подключается к брокерам и создаёт consumer group.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer group: %w", err)
	}
	return newConsumer(group, topics, handler, options...), nil
}

func newConsumer(group sarama.ConsumerGroup, topics []string, handler MessageHandler, options ...ConsumerOption) *Consumer {
	c := &Consumer{
		group:      group,
		topics:     topics,
		handler:    handler,
		dlqTopic:   TopicDeadLetter,
		maxRetries: defaultConsumerRetries,
		backoff:    defaultConsumerBackoff,
	}
	for _, option := range options {
		option(c)
	}
	if c.logger == nil {
		c.logger = log.WithField("component", "kafka-consumer")
	}
	return c
}

// Start запускает чтение в фоне до отмены ctx.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)
	go func() {
		defer c.wg.Done()
		// Consume завершается при каждом rebalance, поэтому вызывается в цикле.
		for ctx.Err() == nil {
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				if errors.Is(err, sarama.ErrClosedConsumerGroup) {
					return
				}
				c.logger.WithError(err).Error("kafka consume failed")
			}
		}
	}()
	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Warn("kafka consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает group и ждёт фоновые горутины.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close kafka consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim обрабатывает сообщения партиции по порядку. Offset фиксируется только
// после успешной обработки или отправки в DLQ.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-session.Context().Done():
			return nil
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if err := c.process(session.Context(), message); err != nil {
				// Без MarkMessage сообщение будет прочитано снова после rebalance.
				c.logger.WithError(err).WithFields(log.Fields{
					"topic":     message.Topic,
					"partition": message.Partition,
					"offset":    message.Offset,
				}).Error("kafka message left uncommitted")
				return err
			}
			session.MarkMessage(message, "")
		}
	}
}

func (c *Consumer) process(ctx context.Context, message *sarama.ConsumerMessage) error {
	attempts := 0
	var err error
	for {
		attempts++
		err = c.handler(ctx, message)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrValidation) || attempts > c.maxRetries {
			break
		}
		c.logger.WithError(err).WithFields(log.Fields{
			"topic":   message.Topic,
			"attempt": attempts,
		}).Warn("kafka handler failed, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.backoff):
		}
	}

	if c.dlq == nil {
		return err
	}
	if dlqErr := c.toDeadLetter(message, err, attempts); dlqErr != nil {
		return fmt.Errorf("%w (dead letter: %v)", err, dlqErr)
	}
	c.logger.WithFields(log.Fields{
		"topic":    message.Topic,
		"offset":   message.Offset,
		"attempts": attempts,
	}).Warn("kafka message moved to dead letter topic")
	return nil
}

func (c *Consumer) toDeadLetter(message *sarama.ConsumerMessage, cause error, attempts int) error {
	failedAt := time.Now().UTC()
	return c.dlq.PublishEvent(c.dlqTopic, string(message.Key), DeadLetterMessage{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		Error:             cause.Error(),
		Attempts:          attempts,
		FailedAt:          failedAt,
	},
		header(HeaderOriginalTopic, message.Topic),
		header(HeaderErrorMessage, cause.Error()),
		header(HeaderRetryCount, strconv.Itoa(attempts-1)),
		header(HeaderFailedAt, failedAt.Format(time.RFC3339)),
	)
}
