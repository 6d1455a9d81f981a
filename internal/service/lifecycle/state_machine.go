package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
)

const (
	defaultMaxConflictRetries = 3
	defaultConflictBaseDelay  = 10 * time.Millisecond
	tracerName                = "github.com/vladislavdragonenkov/bakery/internal/service/lifecycle"
)

// Результаты перехода для метрик.
const (
	resultApplied    = "applied"
	resultIdempotent = "idempotent"
	resultInvalid    = "invalid"
	resultForbidden  = "forbidden"
	resultNotFound   = "not_found"
	resultError      = "error"
)

// Options задаёт параметры StateMachine.
type Options struct {
	Logger             *log.Entry
	Metrics            *metrics.OrderMetrics
	Publisher          domain.OrderPublisher
	Branches           domain.BranchDirectory
	MaxConflictRetries int
	ConflictBaseDelay  time.Duration
	Clock              func() time.Time
}

// Option настраивает StateMachine.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithPublisher задаёт быструю раздачу нового состояния наблюдателям.
func WithPublisher(p domain.OrderPublisher) Option {
	return func(o *Options) { o.Publisher = p }
}

// WithBranches задаёт справочник филиалов для текста уведомлений.
func WithBranches(dir domain.BranchDirectory) Option {
	return func(o *Options) { o.Branches = dir }
}

// WithConflictRetries задаёт повторы при конфликте версий.
func WithConflictRetries(maxRetries int, baseDelay time.Duration) Option {
	return func(o *Options) {
		o.MaxConflictRetries = maxRetries
		o.ConflictBaseDelay = baseDelay
	}
}

// WithClock подменяет часы (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// StateMachine проверяет и применяет переходы submitted -> received -> ready -> delivered.
type StateMachine struct {
	orders     domain.OrderRepository
	publisher  domain.OrderPublisher
	branches   domain.BranchDirectory
	metrics    *metrics.OrderMetrics
	logger     *log.Entry
	maxRetries int
	baseDelay  time.Duration
	now        func() time.Time
	tracer     trace.Tracer
}

// NewStateMachine создаёт машину состояний заказа.
func NewStateMachine(orders domain.OrderRepository, options ...Option) *StateMachine {
	opts := Options{
		MaxConflictRetries: defaultMaxConflictRetries,
		ConflictBaseDelay:  defaultConflictBaseDelay,
	}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "order-state-machine")
	}
	if opts.MaxConflictRetries <= 0 {
		opts.MaxConflictRetries = defaultMaxConflictRetries
	}
	if opts.ConflictBaseDelay < 0 {
		opts.ConflictBaseDelay = 0
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}

	return &StateMachine{
		orders:     orders,
		publisher:  opts.Publisher,
		branches:   opts.Branches,
		metrics:    opts.Metrics,
		logger:     opts.Logger,
		maxRetries: opts.MaxConflictRetries,
		baseDelay:  opts.ConflictBaseDelay,
		now:        opts.Clock,
		tracer:     otel.Tracer(tracerName),
	}
}

// Transition сдвигает статус заказа на один шаг. Запрос на текущий статус - успешный no-op.
func (m *StateMachine) Transition(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, error) {
	ctx, span := m.tracer.Start(ctx, "order.transition", trace.WithAttributes(
		attribute.String("order_id", orderID),
		attribute.String("target", string(target)),
		attribute.String("actor_role", string(actor.Role)),
	))
	defer span.End()

	order, result, err := m.transition(ctx, orderID, target, actor)
	m.metrics.RecordTransition(string(target), result)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return domain.Order{}, err
	}
	return order, nil
}

func (m *StateMachine) transition(ctx context.Context, orderID string, target domain.OrderStatus, actor domain.Actor) (domain.Order, string, error) {
	if !target.Valid() {
		return domain.Order{}, resultInvalid, domain.NewValidationError("status", fmt.Errorf("%w: %q", domain.ErrUnknownStatus, target))
	}

	logger := m.logger.WithFields(log.Fields{
		"order_id":   orderID,
		"target":     target,
		"actor_id":   actor.UserID,
		"actor_role": actor.Role,
	})

	for attempt := 0; attempt < m.maxRetries; attempt++ {
		current, err := m.orders.Get(ctx, orderID)
		if errors.Is(err, domain.ErrOrderNotFound) {
			return domain.Order{}, resultNotFound, err
		}
		if err != nil {
			return domain.Order{}, resultError, fmt.Errorf("%w: load order: %w", domain.ErrPersistence, err)
		}

		if !actor.IsStaffOf(current.BranchID) {
			logger.Warn("transition rejected: actor is not staff of the order branch")
			return domain.Order{}, resultForbidden, fmt.Errorf("%w: only staff of branch %s may change order status", domain.ErrForbidden, current.BranchID)
		}

		from := current.CanonicalStatus()
		if from == target {
			return current, resultIdempotent, nil
		}
		if next, ok := from.Next(); !ok || next != target {
			return domain.Order{}, resultInvalid, &domain.TransitionError{From: from, To: target}
		}

		now := m.now()
		entry := domain.StatusEntry{Status: string(target), ActorRole: actor.Role, At: now}
		updated := current.Clone()
		updated.Status = string(target)
		updated.History = append(updated.History, entry)
		updated.Version = current.Version + 1
		updated.UpdatedAt = now

		events, err := m.events(updated, actor, now)
		if err != nil {
			return domain.Order{}, resultError, err
		}

		stored, err := m.orders.ApplyTransition(ctx, updated, entry, events)
		if err == nil {
			logger.WithFields(log.Fields{
				"from":    current.Status,
				"version": stored.Version,
			}).Info("order status changed")
			if m.publisher != nil {
				m.publisher.Publish(stored)
			}
			return stored, resultApplied, nil
		}

		if !domain.IsVersionConflict(err) {
			return domain.Order{}, resultError, fmt.Errorf("%w: apply transition: %w", domain.ErrPersistence, err)
		}

		logger.WithField("attempt", attempt+1).Warn("version conflict detected, retrying")
		delay := m.baseDelay * time.Duration(1<<uint(attempt))
		select {
		case <-ctx.Done():
			return domain.Order{}, resultError, ctx.Err()
		case <-time.After(delay):
		}
	}

	return domain.Order{}, resultError, domain.ErrOrderVersionConflict
}

// events собирает события перехода; переход в ready дополнительно ставит одноразовое уведомление.
func (m *StateMachine) events(order domain.Order, actor domain.Actor, now time.Time) ([]domain.OutboxMessage, error) {
	changed, err := domain.NewOrderEventMessage(domain.EventTypeOrderStatusChanged, order, actor.Role, now)
	if err != nil {
		return nil, err
	}
	events := []domain.OutboxMessage{changed}

	if order.CanonicalStatus() == domain.OrderStatusReady {
		alert, err := domain.NewReadyAlertMessage(domain.ReadyAlert{
			OrderID:    order.ID,
			CustomerID: order.CustomerID,
			BranchID:   order.BranchID,
			Message:    ReadyMessage(order, m.branches),
			OccurredAt: now,
		})
		if err != nil {
			return nil, err
		}
		events = append(events, alert)
	}
	return events, nil
}

// ReadyMessage - текст уведомления о готовности заказа.
func ReadyMessage(order domain.Order, branches domain.BranchDirectory) string {
	return fmt.Sprintf("Your order #%s is ready for pickup at %s", order.ShortID(), branches.Label(order.BranchID))
}
