package checkout

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/storage/memory"
)

type recordingPublisher struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (p *recordingPublisher) Publish(order domain.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.orders)
}

type recordingEscalator struct {
	mu    sync.Mutex
	cases []domain.ReconciliationCase
}

func (e *recordingEscalator) Escalate(_ context.Context, c domain.ReconciliationCase) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cases = append(e.cases, c)
	return nil
}

// flakyStore отдаёт err первые failures вызовов, затем делегирует в memory.Store.
type flakyStore struct {
	mu       sync.Mutex
	inner    *memory.Store
	failures int
	err      error
	calls    int
}

func (s *flakyStore) InTx(ctx context.Context, fn func(tx domain.CheckoutTx) error) error {
	s.mu.Lock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return s.err
	}
	s.mu.Unlock()
	return s.inner.InTx(ctx, fn)
}

type blockingStore struct{}

func (blockingStore) InTx(ctx context.Context, _ func(tx domain.CheckoutTx) error) error {
	<-ctx.Done()
	return ctx.Err()
}

type fixture struct {
	store     *memory.Store
	payments  *memory.PaymentRepository
	publisher *recordingPublisher
	escalator *recordingEscalator
}

func newFixture(t *testing.T, items ...domain.InventoryItem) *fixture {
	t.Helper()
	f := &fixture{
		store:     memory.NewStore(nil),
		payments:  memory.NewPaymentRepository(),
		publisher: &recordingPublisher{},
		escalator: &recordingEscalator{},
	}
	for _, item := range items {
		require.NoError(t, f.store.UpsertItem(context.Background(), item))
	}
	return f
}

func (f *fixture) coordinator(store domain.CheckoutStore, opts ...Option) *Coordinator {
	base := []Option{
		WithPublisher(f.publisher),
		WithEscalator(f.escalator),
		WithRetryConfig(RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, BackoffFactor: 2}),
	}
	if store == nil {
		store = f.store
	}
	return NewCoordinator(store, f.store, f.store, f.payments, append(base, opts...)...)
}

func (f *fixture) confirm(t *testing.T, id string, amount int64) {
	t.Helper()
	require.NoError(t, f.payments.Record(context.Background(), domain.PaymentConfirmation{ID: id, AmountMinor: amount, ConfirmedAt: time.Now().UTC()}))
}

func (f *fixture) stock(t *testing.T, id string) int32 {
	t.Helper()
	item, err := f.store.GetItem(context.Background(), id)
	require.NoError(t, err)
	return item.AvailableQuantity
}

var (
	alice      = domain.Actor{UserID: "alice", Role: domain.RoleCustomer}
	bob        = domain.Actor{UserID: "bob", Role: domain.RoleCustomer}
	croissant  = domain.InventoryItem{ID: "croissant", Name: "Croissant", PriceMinor: 350, AvailableQuantity: 5}
	baguette   = domain.InventoryItem{ID: "baguette", Name: "Baguette", PriceMinor: 200, AvailableQuantity: 5}
	conchaLast = domain.InventoryItem{ID: "concha", Name: "Concha", PriceMinor: 150, AvailableQuantity: 1}
)

func TestCheckout_ScenarioA(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 700)

	order, err := f.coordinator(nil).Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", UnitPriceMinor: 350, Qty: 2}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)
	require.Equal(t, int64(700), order.AmountMinor)
	require.Equal(t, domain.OrderStatusSubmitted, order.CanonicalStatus())
	require.Len(t, order.History, 1)
	require.Equal(t, int32(3), f.stock(t, "croissant"))

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, order.Items, stored.Items)

	pending := f.store.Outbox().AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventTypeOrderCreated, pending[0].EventType)
	require.Equal(t, 1, f.publisher.count())
}

func TestCheckout_ScenarioB_ConcurrentLastUnit(t *testing.T) {
	f := newFixture(t, conchaLast)
	f.confirm(t, "pay-a", 150)
	f.confirm(t, "pay-b", 150)
	coordinator := f.coordinator(nil)

	type outcome struct {
		order domain.Order
		err   error
	}
	results := make(chan outcome, 2)
	start := make(chan struct{})
	for _, tc := range []struct {
		actor   domain.Actor
		payment string
	}{{alice, "pay-a"}, {bob, "pay-b"}} {
		go func(actor domain.Actor, payment string) {
			<-start
			order, err := coordinator.Checkout(context.Background(), Request{
				Lines:                 []domain.CartLine{{ItemID: "concha", Qty: 1}},
				BranchID:              "quintas",
				Customer:              actor,
				PaymentConfirmationID: payment,
			})
			results <- outcome{order: order, err: err}
		}(tc.actor, tc.payment)
	}
	close(start)

	var succeeded, rejected int
	for i := 0; i < 2; i++ {
		res := <-results
		switch {
		case res.err == nil:
			succeeded++
			require.NotEmpty(t, res.order.ID)
		case errors.Is(res.err, domain.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", res.err)
		}
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, rejected)
	require.Equal(t, int32(0), f.stock(t, "concha"))
}

func TestCheckout_FullRollbackReportsEveryShortLine(t *testing.T) {
	f := newFixture(t, croissant, baguette, conchaLast)
	f.confirm(t, "pay-1", 2*350+10*200+3*150)

	_, err := f.coordinator(nil).Checkout(context.Background(), Request{
		Lines: []domain.CartLine{
			{ItemID: "croissant", Qty: 2},
			{ItemID: "baguette", Qty: 10},
			{ItemID: "concha", Qty: 3},
		},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})

	var stockErr *domain.InsufficientStockError
	require.ErrorAs(t, err, &stockErr)
	require.Len(t, stockErr.Shortages, 2)
	require.Equal(t, "baguette", stockErr.Shortages[0].ItemID)
	require.Equal(t, 1, stockErr.Shortages[0].Line)
	require.Equal(t, "Baguette", stockErr.Shortages[0].Name)
	require.Equal(t, int32(5), stockErr.Shortages[0].Available)
	require.Equal(t, "concha", stockErr.Shortages[1].ItemID)
	require.Equal(t, 2, stockErr.Shortages[1].Line)

	require.Equal(t, int32(5), f.stock(t, "croissant"))
	require.Equal(t, int32(5), f.stock(t, "baguette"))
	require.Equal(t, int32(1), f.stock(t, "concha"))
	require.Empty(t, f.store.Outbox().AllPending())
	_, err = f.store.GetByPaymentConfirmation(context.Background(), "pay-1")
	require.ErrorIs(t, err, domain.ErrOrderNotFound)
	require.Zero(t, f.publisher.count())
}

func TestCheckout_ItemNotFound(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 350)

	_, err := f.coordinator(nil).Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}, {ItemID: "deleted-cake", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	var notFound *domain.ItemNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, []string{"deleted-cake"}, notFound.ItemIDs)
	require.Equal(t, int32(5), f.stock(t, "croissant"))
}

func TestCheckout_ServerSidePricesAndSnapshot(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 700)

	order, err := f.coordinator(nil).Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", UnitPriceMinor: 1, Qty: 1}, {ItemID: "croissant", UnitPriceMinor: 1, Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, int32(2), order.Items[0].Qty)
	require.Equal(t, int64(350), order.Items[0].PriceMinor)

	edited := croissant
	edited.Name = "Butter Croissant"
	edited.PriceMinor = 500
	edited.AvailableQuantity = 3
	require.NoError(t, f.store.UpsertItem(context.Background(), edited))

	stored, err := f.store.Get(context.Background(), order.ID)
	require.NoError(t, err)
	require.Equal(t, "Croissant", stored.Items[0].Name)
	require.Equal(t, int64(350), stored.Items[0].PriceMinor)
	require.Equal(t, int64(700), stored.AmountMinor)
}

func TestCheckout_PaymentPreconditions(t *testing.T) {
	f := newFixture(t, croissant)
	coordinator := f.coordinator(nil)
	req := Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	}

	_, err := coordinator.Checkout(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrPaymentNotConfirmed)
	require.True(t, domain.IsRetryable(err))

	f.confirm(t, "pay-1", 999)
	_, err = coordinator.Checkout(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, domain.ErrPaymentAmountMismatch)
	require.Equal(t, int32(5), f.stock(t, "croissant"))
}

func TestCheckout_RejectsOverflowingTotal(t *testing.T) {
	pricey := domain.InventoryItem{ID: "wedding-cake", Name: "Wedding cake", PriceMinor: math.MaxInt64 / 2, AvailableQuantity: 5}
	f := newFixture(t, pricey)
	f.confirm(t, "pay-1", 1)

	_, err := f.coordinator(nil).Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "wedding-cake", Qty: 3}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, domain.ErrAmountOverflow)
	require.Equal(t, int32(5), f.stock(t, "wedding-cake"))
	require.Empty(t, f.store.Outbox().AllPending())
}

func TestCheckout_ReplayReturnsSameOrder(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 350)
	coordinator := f.coordinator(nil)
	req := Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	}

	first, err := coordinator.Checkout(context.Background(), req)
	require.NoError(t, err)
	second, err := coordinator.Checkout(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, int32(4), f.stock(t, "croissant"))

	req.Customer = bob
	_, err = coordinator.Checkout(context.Background(), req)
	require.ErrorIs(t, err, domain.ErrValidation)
	require.ErrorIs(t, err, domain.ErrPaymentAlreadyUsed)
}

func TestCheckout_Validation(t *testing.T) {
	f := newFixture(t, croissant)
	coordinator := f.coordinator(nil, WithBranches(domain.NewBranchDirectory([]domain.Branch{{ID: "chapule", Label: "Chapule"}})))
	valid := Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	}

	cases := []struct {
		name string
		mut  func(r *Request)
	}{
		{name: "empty cart", mut: func(r *Request) { r.Lines = nil }},
		{name: "zero qty", mut: func(r *Request) { r.Lines = []domain.CartLine{{ItemID: "croissant", Qty: 0}} }},
		{name: "missing item id", mut: func(r *Request) { r.Lines = []domain.CartLine{{Qty: 1}} }},
		{name: "missing branch", mut: func(r *Request) { r.BranchID = "" }},
		{name: "unknown branch", mut: func(r *Request) { r.BranchID = "atlantis" }},
		{name: "anonymous", mut: func(r *Request) { r.Customer = domain.Actor{} }},
		{name: "missing payment", mut: func(r *Request) { r.PaymentConfirmationID = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mut(&req)
			_, err := coordinator.Checkout(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrValidation)
		})
	}
	require.Equal(t, int32(5), f.stock(t, "croissant"))
}

func TestCheckout_RetriesTransientPersistenceFailure(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 350)
	store := &flakyStore{inner: f.store, failures: 2, err: errors.New("connection reset")}

	order, err := f.coordinator(store).Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	require.NoError(t, err)
	require.NotEmpty(t, order.ID)
	require.Equal(t, 3, store.calls)
	require.Equal(t, int32(4), f.stock(t, "croissant"))
	require.Empty(t, f.escalator.cases)
}

func TestCheckout_ExhaustedPersistenceEscalates(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 350)
	store := &flakyStore{inner: f.store, failures: 100, err: fmt.Errorf("disk full")}

	_, err := f.coordinator(store).Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	require.ErrorIs(t, err, domain.ErrReconciliationRequired)
	require.ErrorIs(t, err, domain.ErrPersistence)
	require.False(t, domain.IsRetryable(err))
	require.Equal(t, 3, store.calls)

	require.Len(t, f.escalator.cases, 1)
	rc := f.escalator.cases[0]
	require.Equal(t, "pay-1", rc.PaymentConfirmationID)
	require.Equal(t, "alice", rc.CustomerID)
	require.Equal(t, int64(350), rc.AmountMinor)
	require.Equal(t, int32(5), f.stock(t, "croissant"))
}

// deadlinePayments запоминает, был ли у каждого Get дедлайн.
type deadlinePayments struct {
	domain.PaymentRepository
	mu        sync.Mutex
	deadlines []bool
}

func (p *deadlinePayments) Get(ctx context.Context, id string) (domain.PaymentConfirmation, error) {
	_, ok := ctx.Deadline()
	p.mu.Lock()
	p.deadlines = append(p.deadlines, ok)
	p.mu.Unlock()
	return p.PaymentRepository.Get(ctx, id)
}

func TestCheckout_EscalationReadsPaymentWithDeadline(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 350)
	payments := &deadlinePayments{PaymentRepository: f.payments}
	store := &flakyStore{inner: f.store, failures: 100, err: fmt.Errorf("disk full")}

	c := NewCoordinator(store, f.store, f.store, payments,
		WithEscalator(f.escalator),
		WithRetryConfig(RetryConfig{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2}),
	)
	_, err := c.Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	require.ErrorIs(t, err, domain.ErrReconciliationRequired)

	require.Len(t, f.escalator.cases, 1)
	require.Equal(t, int64(350), f.escalator.cases[0].AmountMinor)
	payments.mu.Lock()
	defer payments.mu.Unlock()
	require.NotEmpty(t, payments.deadlines)
	require.True(t, payments.deadlines[len(payments.deadlines)-1], "escalation must bound the payment lookup")
}

func TestCheckout_TimeoutIsRetryableAndClean(t *testing.T) {
	f := newFixture(t, croissant)
	f.confirm(t, "pay-1", 350)

	_, err := f.coordinator(blockingStore{}, WithTimeout(20*time.Millisecond)).Checkout(context.Background(), Request{
		Lines:                 []domain.CartLine{{ItemID: "croissant", Qty: 1}},
		BranchID:              "chapule",
		Customer:              alice,
		PaymentConfirmationID: "pay-1",
	})
	require.ErrorIs(t, err, domain.ErrCheckoutTimeout)
	require.True(t, domain.IsRetryable(err))
	require.Empty(t, f.escalator.cases)
	require.Equal(t, int32(5), f.stock(t, "croissant"))
}

func TestNormalizeLinesSortsAndMerges(t *testing.T) {
	lines, err := normalizeLines([]domain.CartLine{
		{ItemID: "b", Qty: 1},
		{ItemID: "a", Qty: 2},
		{ItemID: "b", Qty: 3},
	})
	require.NoError(t, err)
	require.Equal(t, []line{{Index: 1, ItemID: "a", Qty: 2}, {Index: 0, ItemID: "b", Qty: 4}}, lines)
}

func TestRetryConfigDelay(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: 10 * time.Millisecond, MaxDelay: 30 * time.Millisecond, BackoffFactor: 2}
	require.Equal(t, 10*time.Millisecond, cfg.delay(1))
	require.Equal(t, 20*time.Millisecond, cfg.delay(2))
	require.Equal(t, 30*time.Millisecond, cfg.delay(3))
	require.Equal(t, 3, RetryConfig{}.normalized().MaxAttempts)
}
