package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultBatchSize      = 100
	defaultMaxAttempts    = 5
	defaultRetryBaseDelay = 50 * time.Millisecond
	maxRetryDelay         = 5 * time.Second

	defaultRedeliveryDelay = time.Second
	maxRedeliveryDelay     = 10 * time.Minute
)

// Исходы публикации для метрик.
const (
	resultSent       = "sent"
	resultRetry      = "retry_error"
	resultFailed     = "failed"
	resultDeadFailed = "dead_letter_failed"
	resultDeferred   = "deferred"
)

// WorkerOptions задаёт параметры relay.
type WorkerOptions struct {
	Logger         *log.Entry
	Metrics        *metrics.OutboxMetrics
	DeadLetter     domain.OutboxPublisher
	PollInterval   time.Duration
	BatchSize      int
	MaxAttempts    int
	RetryBaseDelay time.Duration
	// RedeliveryDelay - первая пауза перед новым раундом для событий,
	// которые нельзя списать в failed. Дальше пауза удваивается.
	RedeliveryDelay time.Duration
}

// Option настраивает Worker.
type Option func(*WorkerOptions)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(opts *WorkerOptions) { opts.Logger = logger }
}

// WithMetrics задаёт метрики backlog и публикаций.
func WithMetrics(m *metrics.OutboxMetrics) Option {
	return func(opts *WorkerOptions) { opts.Metrics = m }
}

// WithDeadLetter задаёт получателя событий, которые не удалось доставить.
func WithDeadLetter(publisher domain.OutboxPublisher) Option {
	return func(opts *WorkerOptions) { opts.DeadLetter = publisher }
}

// WithPollInterval задаёт частоту опроса outbox.
func WithPollInterval(interval time.Duration) Option {
	return func(opts *WorkerOptions) { opts.PollInterval = interval }
}

// WithBatchSize задаёт размер пачки.
func WithBatchSize(batchSize int) Option {
	return func(opts *WorkerOptions) { opts.BatchSize = batchSize }
}

// WithMaxAttempts задаёт число попыток до пометки failed.
func WithMaxAttempts(maxAttempts int) Option {
	return func(opts *WorkerOptions) { opts.MaxAttempts = maxAttempts }
}

// WithRetryBaseDelay задаёт базовую задержку экспоненциального backoff.
func WithRetryBaseDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) { opts.RetryBaseDelay = delay }
}

// WithRedeliveryDelay задаёт первую паузу перед повторным раундом доставки уведомлений.
func WithRedeliveryDelay(delay time.Duration) Option {
	return func(opts *WorkerOptions) { opts.RedeliveryDelay = delay }
}

// Worker доставляет события заказов из outbox наблюдателям: брокеру, другим
// инстансам и диспетчеру уведомлений. Доставка at-least-once, получатели обязаны
// быть идемпотентными.
type Worker struct {
	repo       domain.OutboxRepository
	publisher  domain.OutboxPublisher
	deadLetter domain.OutboxPublisher
	metrics    *metrics.OutboxMetrics
	logger     *log.Entry

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	baseDelay    time.Duration
	redelivery   time.Duration
}

// NewWorker создаёт relay.
func NewWorker(repo domain.OutboxRepository, publisher domain.OutboxPublisher, options ...Option) *Worker {
	opts := WorkerOptions{
		PollInterval:    defaultPollInterval,
		BatchSize:       defaultBatchSize,
		MaxAttempts:     defaultMaxAttempts,
		RetryBaseDelay:  defaultRetryBaseDelay,
		RedeliveryDelay: defaultRedeliveryDelay,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "outbox-relay")
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBaseDelay < 0 {
		opts.RetryBaseDelay = 0
	}
	if opts.RedeliveryDelay < 0 {
		opts.RedeliveryDelay = 0
	}

	return &Worker{
		repo:         repo,
		publisher:    publisher,
		deadLetter:   opts.DeadLetter,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
		pollInterval: opts.PollInterval,
		batchSize:    opts.BatchSize,
		maxAttempts:  opts.MaxAttempts,
		baseDelay:    opts.RetryBaseDelay,
		redelivery:   opts.RedeliveryDelay,
	}
}

// Run опрашивает outbox до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.repo == nil || w.publisher == nil {
		w.logger.Warn("outbox relay disabled: repository or publisher is not configured")
		return
	}

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		w.ProcessOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// ProcessOnce обрабатывает одну пачку pending-событий в порядке постановки.
// Возвращает число успешно доставленных событий.
func (w *Worker) ProcessOnce(ctx context.Context) int {
	if ctx.Err() != nil {
		return 0
	}
	defer w.observeBacklog()

	batch, err := w.repo.PullPending(w.batchSize)
	if err != nil {
		w.logger.WithError(err).Warn("failed to pull pending outbox events")
		return 0
	}

	sent := 0
	for _, event := range batch {
		if ctx.Err() != nil {
			break
		}
		logger := w.logger.WithFields(log.Fields{
			"outbox_id":    event.ID,
			"event_type":   event.EventType,
			"aggregate_id": event.AggregateID,
		})

		if err := w.deliver(ctx, event); err != nil {
			if ctx.Err() != nil {
				// Остановка: событие останется pending и уйдёт после рестарта.
				break
			}
			if domain.RedeliverUntilSent(event) {
				w.postpone(event, err, logger)
				continue
			}
			logger.WithError(err).Error("outbox event delivery failed")
			w.metrics.RecordPublish(resultFailed)
			w.toDeadLetter(ctx, event, err, logger)
			if markErr := w.repo.MarkFailed(event.ID); markErr != nil {
				logger.WithError(markErr).Warn("failed to mark outbox event as failed")
			}
			continue
		}

		if err := w.repo.MarkSent(event.ID); err != nil {
			logger.WithError(err).Warn("failed to mark outbox event as sent")
			continue
		}
		sent++
	}
	return sent
}

func (w *Worker) deliver(ctx context.Context, event domain.OutboxMessage) error {
	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		lastErr = w.publisher.Publish(ctx, event)
		if lastErr == nil {
			w.metrics.RecordPublish(resultSent)
			return nil
		}
		w.metrics.RecordPublish(resultRetry)
		if attempt == w.maxAttempts {
			break
		}

		if delay := w.backoff(attempt); delay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return fmt.Errorf("%w: %d attempts: %w", domain.ErrOutboxPublish, w.maxAttempts, lastErr)
}

// postpone оставляет событие pending и назначает следующий раунд доставки.
func (w *Worker) postpone(event domain.OutboxMessage, cause error, logger *log.Entry) {
	delay := w.redeliveryDelay(event.Attempts + 1)
	w.metrics.RecordPublish(resultDeferred)
	logger.WithError(cause).WithFields(log.Fields{
		"round":      event.Attempts + 1,
		"next_after": delay,
	}).Warn("outbox event delivery postponed")
	if err := w.repo.MarkRetry(event.ID, time.Now().UTC().Add(delay)); err != nil {
		logger.WithError(err).Warn("failed to postpone outbox event")
	}
}

func (w *Worker) redeliveryDelay(round int) time.Duration {
	delay := w.redelivery
	for i := 1; i < round && delay > 0 && delay < maxRedeliveryDelay; i++ {
		delay *= 2
	}
	if delay > maxRedeliveryDelay {
		delay = maxRedeliveryDelay
	}
	return delay
}

func (w *Worker) backoff(attempt int) time.Duration {
	if w.baseDelay <= 0 {
		return 0
	}
	delay := w.baseDelay
	for i := 1; i < attempt && delay < maxRetryDelay; i++ {
		delay *= 2
	}
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	return delay
}

func (w *Worker) observeBacklog() {
	if w.metrics == nil {
		return
	}
	stats, err := w.repo.Stats()
	if err != nil {
		w.logger.WithError(err).Warn("failed to read outbox backlog")
		return
	}
	var age time.Duration
	if stats.PendingCount > 0 && !stats.OldestPendingAt.IsZero() {
		age = time.Since(stats.OldestPendingAt)
	}
	w.metrics.SetBacklog(stats.PendingCount, age)
}

// deadLetterEnvelope - содержимое события в dead letter.
type deadLetterEnvelope struct {
	OutboxID      string          `json:"outbox_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	EventType     string          `json:"event_type"`
	Payload       json.RawMessage `json:"payload"`
	Error         string          `json:"error"`
	FailedAt      time.Time       `json:"failed_at"`
}

func (w *Worker) toDeadLetter(ctx context.Context, event domain.OutboxMessage, cause error, logger *log.Entry) {
	if w.deadLetter == nil {
		return
	}
	payload, err := json.Marshal(deadLetterEnvelope{
		OutboxID:      event.ID,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		EventType:     event.EventType,
		Payload:       json.RawMessage(event.Payload),
		Error:         cause.Error(),
		FailedAt:      time.Now().UTC(),
	})
	if err == nil {
		dead := event
		dead.Payload = payload
		err = w.deadLetter.Publish(ctx, dead)
	}
	if err != nil {
		w.metrics.RecordPublish(resultDeadFailed)
		logger.WithError(err).Warn("failed to publish outbox event to dead letter")
	}
}
