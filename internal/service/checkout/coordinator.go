package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
)

const (
	defaultTimeout    = 5 * time.Second
	escalationTimeout = 3 * time.Second
	tracerName        = "github.com/vladislavdragonenkov/bakery/internal/service/checkout"
)

// Request - вход checkout: корзина целиком, филиал, покупатель и подтверждение оплаты.
type Request struct {
	Lines                 []domain.CartLine
	BranchID              string
	Customer              domain.Actor
	PaymentConfirmationID string
}

// Options задаёт параметры Coordinator.
type Options struct {
	Logger    *log.Entry
	Metrics   *metrics.OrderMetrics
	Publisher domain.OrderPublisher
	Escalator domain.Escalator
	Branches  domain.BranchDirectory
	Retry     RetryConfig
	Timeout   time.Duration
	Clock     func() time.Time
	NewID     func() string
	Tracer    trace.Tracer
}

// Option настраивает Coordinator.
type Option func(*Options)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(o *Options) { o.Logger = logger }
}

// WithMetrics задаёт метрики.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(o *Options) { o.Metrics = m }
}

// WithPublisher задаёт быструю раздачу созданного заказа наблюдателям.
func WithPublisher(p domain.OrderPublisher) Option {
	return func(o *Options) { o.Publisher = p }
}

// WithEscalator задаёт получателя случаев ручной сверки.
func WithEscalator(e domain.Escalator) Option {
	return func(o *Options) { o.Escalator = e }
}

// WithBranches задаёт справочник допустимых филиалов.
func WithBranches(dir domain.BranchDirectory) Option {
	return func(o *Options) { o.Branches = dir }
}

// WithRetryConfig задаёт повторы коммита.
func WithRetryConfig(cfg RetryConfig) Option {
	return func(o *Options) { o.Retry = cfg }
}

// WithTimeout ограничивает время checkout целиком.
func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) { o.Timeout = timeout }
}

// WithClock подменяет часы (для тестов).
func WithClock(clock func() time.Time) Option {
	return func(o *Options) { o.Clock = clock }
}

// WithIDGenerator подменяет генератор ID заказов.
func WithIDGenerator(newID func() string) Option {
	return func(o *Options) { o.NewID = newID }
}

// Coordinator превращает корзину в заказ одной атомарной транзакцией:
// резервы склада, запись заказа и событие OrderCreated фиксируются вместе.
type Coordinator struct {
	store     domain.CheckoutStore
	catalog   domain.Catalog
	orders    domain.OrderRepository
	payments  domain.PaymentRepository
	publisher domain.OrderPublisher
	escalator domain.Escalator
	branches  domain.BranchDirectory
	metrics   *metrics.OrderMetrics
	logger    *log.Entry
	retry     RetryConfig
	timeout   time.Duration
	now       func() time.Time
	newID     func() string
	tracer    trace.Tracer
}

// NewCoordinator создаёт координатор checkout.
func NewCoordinator(
	store domain.CheckoutStore,
	catalog domain.Catalog,
	orders domain.OrderRepository,
	payments domain.PaymentRepository,
	options ...Option,
) *Coordinator {
	opts := Options{
		Retry:   DefaultRetryConfig(),
		Timeout: defaultTimeout,
	}
	for _, option := range options {
		option(&opts)
	}

	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "checkout")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Coordinator{
		store:     store,
		catalog:   catalog,
		orders:    orders,
		payments:  payments,
		publisher: opts.Publisher,
		escalator: opts.Escalator,
		branches:  opts.Branches,
		metrics:   opts.Metrics,
		logger:    opts.Logger,
		retry:     opts.Retry.normalized(),
		timeout:   opts.Timeout,
		now:       opts.Clock,
		newID:     opts.NewID,
		tracer:    opts.Tracer,
	}
}

// Checkout оформляет заказ. Ошибки возвращаются до того, как какой-либо эффект
// станет видимым: при отказе не остаётся ни заказа, ни списаний.
func (c *Coordinator) Checkout(ctx context.Context, req Request) (domain.Order, error) {
	started := time.Now()
	c.metrics.RecordCheckoutStarted()

	ctx, span := c.tracer.Start(ctx, "checkout", trace.WithAttributes(
		attribute.String("branch_id", req.BranchID),
		attribute.String("customer_id", req.Customer.UserID),
		attribute.Int("lines", len(req.Lines)),
	))
	defer span.End()

	order, result, err := c.checkout(ctx, req)
	c.metrics.RecordCheckoutResult(result, time.Since(started))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		return domain.Order{}, err
	}
	span.SetAttributes(attribute.String("order_id", order.ID))
	return order, nil
}

func (c *Coordinator) checkout(ctx context.Context, req Request) (domain.Order, string, error) {
	lines, err := c.validate(req)
	if err != nil {
		return domain.Order{}, metrics.CheckoutResultValidation, err
	}

	logger := c.logger.WithFields(log.Fields{
		"customer_id":             req.Customer.UserID,
		"branch_id":               req.BranchID,
		"payment_confirmation_id": req.PaymentConfirmationID,
	})

	if existing, ok, err := c.replay(ctx, req); err != nil {
		return domain.Order{}, metrics.CheckoutResultValidation, err
	} else if ok {
		logger.WithField("order_id", existing.ID).Info("checkout replayed for already placed order")
		return existing, metrics.CheckoutResultReplayed, nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var (
		order   domain.Order
		lastErr error
	)
	for attempt := 1; attempt <= c.retry.MaxAttempts; attempt++ {
		order, lastErr = c.attempt(ctx, req, lines)
		if lastErr == nil {
			break
		}

		if errors.Is(lastErr, domain.ErrPaymentAlreadyUsed) {
			if existing, ok, err := c.replay(ctx, req); err != nil {
				return domain.Order{}, metrics.CheckoutResultValidation, err
			} else if ok {
				return existing, metrics.CheckoutResultReplayed, nil
			}
			return domain.Order{}, metrics.CheckoutResultValidation, domain.NewValidationError("payment_confirmation_id", lastErr)
		}

		if result, final := classify(ctx, lastErr); final {
			if result == metrics.CheckoutResultTimeout {
				logger.WithError(lastErr).Warn("checkout aborted by timeout")
				return domain.Order{}, result, fmt.Errorf("%w: %v", domain.ErrCheckoutTimeout, lastErr)
			}
			return domain.Order{}, result, lastErr
		}

		if attempt == c.retry.MaxAttempts {
			break
		}
		c.metrics.RecordCheckoutRetry()
		delay := c.retry.delay(attempt)
		logger.WithError(lastErr).WithFields(log.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Warn("checkout commit failed, retrying")

		select {
		case <-ctx.Done():
			logger.WithError(ctx.Err()).Warn("checkout aborted by timeout while waiting to retry")
			return domain.Order{}, metrics.CheckoutResultTimeout, fmt.Errorf("%w: %v", domain.ErrCheckoutTimeout, lastErr)
		case <-time.After(delay):
		}
	}

	if lastErr != nil {
		c.escalate(req, lines, lastErr)
		return domain.Order{}, metrics.CheckoutResultReconciliation, fmt.Errorf("%w: %w", domain.ErrReconciliationRequired, lastErr)
	}

	units := 0
	for _, l := range lines {
		units += int(l.Qty)
	}
	c.metrics.RecordReservedUnits(units)
	if c.publisher != nil {
		c.publisher.Publish(order)
	}

	logger.WithFields(log.Fields{
		"order_id":     order.ID,
		"amount_minor": order.AmountMinor,
	}).Info("order placed")
	return order, metrics.CheckoutResultCompleted, nil
}

func (c *Coordinator) validate(req Request) ([]line, error) {
	switch {
	case req.Customer.UserID == "":
		return nil, domain.NewValidationError("customer_id", domain.ErrCustomerRequired)
	case req.BranchID == "":
		return nil, domain.NewValidationError("branch_id", domain.ErrBranchRequired)
	case !c.branches.Known(req.BranchID):
		return nil, domain.NewValidationError("branch_id", fmt.Errorf("unknown branch %q", req.BranchID))
	case req.PaymentConfirmationID == "":
		return nil, domain.NewValidationError("payment_confirmation_id", errors.New("is required"))
	}
	return normalizeLines(req.Lines)
}

// replay находит заказ, уже созданный по этому подтверждению оплаты.
func (c *Coordinator) replay(ctx context.Context, req Request) (domain.Order, bool, error) {
	existing, err := c.orders.GetByPaymentConfirmation(ctx, req.PaymentConfirmationID)
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		return domain.Order{}, false, nil
	case err != nil:
		// Уникальность подтверждения всё равно проверит транзакция.
		c.logger.WithError(err).WithField("payment_confirmation_id", req.PaymentConfirmationID).Warn("replay lookup failed")
		return domain.Order{}, false, nil
	case existing.CustomerID != req.Customer.UserID:
		return domain.Order{}, false, domain.NewValidationError("payment_confirmation_id", domain.ErrPaymentAlreadyUsed)
	default:
		return existing, true, nil
	}
}

// attempt строит заказ по каталогу, сверяет оплату и выполняет транзакцию.
func (c *Coordinator) attempt(ctx context.Context, req Request, lines []line) (domain.Order, error) {
	items := make([]domain.OrderItem, 0, len(lines))
	names := make(map[string]string, len(lines))
	var missing []string
	for _, l := range lines {
		item, err := c.catalog.GetItem(ctx, l.ItemID)
		if errors.Is(err, domain.ErrItemNotFound) {
			missing = append(missing, l.ItemID)
			continue
		}
		if err != nil {
			return domain.Order{}, fmt.Errorf("%w: catalog %s: %w", domain.ErrPersistence, l.ItemID, err)
		}
		names[l.ItemID] = item.Name
		items = append(items, domain.OrderItem{
			ItemID:     item.ID,
			Name:       item.Name,
			Qty:        l.Qty,
			PriceMinor: item.PriceMinor,
		})
	}
	if len(missing) > 0 {
		return domain.Order{}, &domain.ItemNotFoundError{ItemIDs: missing}
	}

	total, err := domain.ItemsTotal(items)
	if err != nil {
		return domain.Order{}, domain.NewValidationError("items", err)
	}
	confirmation, err := c.payments.Get(ctx, req.PaymentConfirmationID)
	if errors.Is(err, domain.ErrPaymentNotConfirmed) {
		return domain.Order{}, err
	}
	if err != nil {
		return domain.Order{}, fmt.Errorf("%w: payment lookup: %w", domain.ErrPersistence, err)
	}
	if confirmation.AmountMinor != total {
		return domain.Order{}, domain.NewValidationError("payment_confirmation_id",
			fmt.Errorf("%w: confirmed %d, order total %d", domain.ErrPaymentAmountMismatch, confirmation.AmountMinor, total))
	}

	now := c.now()
	order := domain.Order{
		ID:                    c.newID(),
		CustomerID:            req.Customer.UserID,
		BranchID:              req.BranchID,
		PaymentConfirmationID: req.PaymentConfirmationID,
		Items:                 items,
		AmountMinor:           total,
		Status:                string(domain.OrderStatusSubmitted),
		History: []domain.StatusEntry{{
			Status:    string(domain.OrderStatusSubmitted),
			ActorRole: req.Customer.Role,
			At:        now,
		}},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errs := order.ValidateInvariants(); len(errs) > 0 {
		return domain.Order{}, domain.NewValidationError("order", errors.Join(errs...))
	}

	created, err := domain.NewOrderEventMessage(domain.EventTypeOrderCreated, order, req.Customer.Role, now)
	if err != nil {
		return domain.Order{}, domain.NewValidationError("order", err)
	}

	err = c.store.InTx(ctx, func(tx domain.CheckoutTx) error {
		var (
			shortages []domain.StockShortage
			gone      []string
		)
		for _, l := range lines {
			err := tx.Reserve(ctx, domain.Reservation{ItemID: l.ItemID, Qty: l.Qty})
			var shortage *domain.ShortageError
			switch {
			case err == nil:
			case errors.As(err, &shortage):
				shortages = append(shortages, domain.StockShortage{
					Line:      l.Index,
					ItemID:    l.ItemID,
					Name:      names[l.ItemID],
					Requested: l.Qty,
					Available: shortage.Available,
				})
			case errors.Is(err, domain.ErrItemNotFound):
				gone = append(gone, l.ItemID)
			default:
				return err
			}
		}
		if len(gone) > 0 {
			return &domain.ItemNotFoundError{ItemIDs: gone}
		}
		if len(shortages) > 0 {
			return &domain.InsufficientStockError{Shortages: shortages}
		}
		if err := tx.CreateOrder(ctx, order); err != nil {
			return err
		}
		return tx.Enqueue(ctx, created)
	})
	if err != nil {
		if isBusiness(err) || isContextErr(err) {
			return domain.Order{}, err
		}
		return domain.Order{}, fmt.Errorf("%w: %w", domain.ErrPersistence, err)
	}
	return order, nil
}

func (c *Coordinator) escalate(req Request, lines []line, cause error) {
	items := make([]domain.OrderItem, 0, len(lines))
	for _, l := range lines {
		items = append(items, domain.OrderItem{ItemID: l.ItemID, Qty: l.Qty})
	}
	ctx, cancel := context.WithTimeout(context.Background(), escalationTimeout)
	defer cancel()

	var amount int64
	if confirmation, err := c.payments.Get(ctx, req.PaymentConfirmationID); err == nil {
		amount = confirmation.AmountMinor
	}

	rc := domain.ReconciliationCase{
		PaymentConfirmationID: req.PaymentConfirmationID,
		CustomerID:            req.Customer.UserID,
		BranchID:              req.BranchID,
		AmountMinor:           amount,
		Items:                 items,
		Reason:                cause.Error(),
		OccurredAt:            c.now(),
	}

	c.logger.WithError(cause).WithFields(log.Fields{
		"payment_confirmation_id": rc.PaymentConfirmationID,
		"customer_id":             rc.CustomerID,
		"branch_id":               rc.BranchID,
		"amount_minor":            rc.AmountMinor,
	}).Error("payment taken but order was not persisted, manual reconciliation required")

	if c.escalator == nil {
		return
	}
	if err := c.escalator.Escalate(ctx, rc); err != nil {
		c.logger.WithError(err).WithField("payment_confirmation_id", rc.PaymentConfirmationID).Error("failed to escalate reconciliation case")
	}
}

// classify решает, окончательна ли ошибка попытки и к какому исходу она относится.
func classify(ctx context.Context, err error) (string, bool) {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrPaymentAlreadyUsed):
		return metrics.CheckoutResultValidation, true
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.CheckoutResultInsufficient, true
	case errors.Is(err, domain.ErrItemNotFound):
		return metrics.CheckoutResultItemNotFound, true
	case errors.Is(err, domain.ErrPaymentNotConfirmed):
		return metrics.CheckoutResultPayment, true
	case isContextErr(err), ctx.Err() != nil:
		return metrics.CheckoutResultTimeout, true
	default:
		return "", false
	}
}

func isBusiness(err error) bool {
	return errors.Is(err, domain.ErrValidation) ||
		errors.Is(err, domain.ErrInsufficientStock) ||
		errors.Is(err, domain.ErrItemNotFound) ||
		errors.Is(err, domain.ErrPaymentAlreadyUsed)
}

func isContextErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}
