// Package retention удаляет из outbox события, которые уже опубликованы или
// отправлены в DLQ.
package retention

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
)

const (
	defaultInterval  = 10 * time.Minute
	defaultRetention = 72 * time.Hour
	defaultBatchSize = 500
)

// Options задаёт параметры воркера очистки.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.RetentionMetrics
	Interval  time.Duration
	Retention time.Duration
	BatchSize int
	Now       func() time.Time
}

// Option настраивает Worker.
type Option func(*Options)

// WithLogger задаёт logger для воркера.
func WithLogger(logger *log.Entry) Option {
	return func(opts *Options) {
		opts.Logger = logger
	}
}

// WithMetrics подключает метрики очистки.
func WithMetrics(m *metrics.RetentionMetrics) Option {
	return func(opts *Options) {
		opts.Metrics = m
	}
}

// WithInterval задаёт интервал между прогонами.
func WithInterval(interval time.Duration) Option {
	return func(opts *Options) {
		opts.Interval = interval
	}
}

// WithRetention задаёт, сколько хранить обработанные события.
func WithRetention(retention time.Duration) Option {
	return func(opts *Options) {
		opts.Retention = retention
	}
}

// WithBatchSize задаёт размер одного удаления.
func WithBatchSize(batchSize int) Option {
	return func(opts *Options) {
		opts.BatchSize = batchSize
	}
}

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(opts *Options) {
		opts.Now = now
	}
}

// Worker периодически удаляет обработанные события старше retention.
type Worker struct {
	janitor   domain.OutboxJanitor
	logger    *log.Entry
	metrics   *metrics.RetentionMetrics
	interval  time.Duration
	retention time.Duration
	batchSize int
	now       func() time.Time
}

// NewWorker создаёт воркер очистки outbox.
func NewWorker(janitor domain.OutboxJanitor, options ...Option) *Worker {
	opts := Options{
		Interval:  defaultInterval,
		Retention: defaultRetention,
		BatchSize: defaultBatchSize,
	}
	for _, option := range options {
		option(&opts)
	}

	logger := opts.Logger
	if logger == nil {
		logger = log.WithField("component", "outbox-retention")
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultInterval
	}
	if opts.Retention <= 0 {
		opts.Retention = defaultRetention
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}

	return &Worker{
		janitor:   janitor,
		logger:    logger,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		retention: opts.Retention,
		batchSize: opts.BatchSize,
		now:       opts.Now,
	}
}

// Run запускает периодическую очистку до отмены ctx.
func (w *Worker) Run(ctx context.Context) {
	if w.janitor == nil {
		w.logger.Warn("outbox retention is disabled: janitor is nil")
		return
	}

	w.sweep(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweep(ctx)
		}
	}
}

func (w *Worker) sweep(ctx context.Context) {
	deleted, err := w.DeleteProcessed(ctx, w.now().Add(-w.retention))
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		w.metrics.RecordRun("error", deleted)
		w.logger.WithError(err).Warn("outbox retention run failed")
		return
	}

	w.metrics.RecordRun("ok", deleted)
	if deleted > 0 {
		w.logger.WithField("deleted", deleted).Info("outbox retention completed")
	}
}

// DeleteProcessed удаляет все обработанные события, обновлённые не позже before,
// порциями batchSize.
func (w *Worker) DeleteProcessed(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		deleted, err := w.janitor.DeleteProcessed(before, w.batchSize)
		if err != nil {
			return total, err
		}
		total += deleted
		w.metrics.RecordDeleted(deleted)

		if deleted < w.batchSize {
			return total, nil
		}
	}
}
