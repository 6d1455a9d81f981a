package lifecycle

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/storage/memory"
)

var (
	staff      = domain.Actor{UserID: "staff-1", Role: domain.RoleStaff, BranchID: "chapule"}
	otherStaff = domain.Actor{UserID: "staff-2", Role: domain.RoleStaff, BranchID: "quintas"}
	customer   = domain.Actor{UserID: "alice", Role: domain.RoleCustomer}
	admin      = domain.Actor{UserID: "root", Role: domain.RoleAdmin}
)

func seedOrder(store *memory.Store, id, status string) domain.Order {
	now := time.Now().UTC()
	order := domain.Order{
		ID:          id,
		CustomerID:  "alice",
		BranchID:    "chapule",
		Items:       []domain.OrderItem{{ItemID: "croissant", Name: "Croissant", Qty: 2, PriceMinor: 350}},
		AmountMinor: 700,
		Status:      status,
		History:     []domain.StatusEntry{{Status: status, ActorRole: domain.RoleCustomer, At: now}},
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	store.SeedOrder(order)
	return order
}

type recordingPublisher struct {
	mu     sync.Mutex
	orders []domain.Order
}

func (p *recordingPublisher) Publish(order domain.Order) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = append(p.orders, order)
}

func countEvents(store *memory.Store, eventType string) int {
	n := 0
	for _, msg := range store.Outbox().AllPending() {
		if msg.EventType == eventType {
			n++
		}
	}
	return n
}

func TestTransition_FullLifecycle(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-1", "submitted")
	publisher := &recordingPublisher{}
	sm := NewStateMachine(store, WithPublisher(publisher))

	for _, target := range []domain.OrderStatus{domain.OrderStatusReceived, domain.OrderStatusReady, domain.OrderStatusDelivered} {
		order, err := sm.Transition(context.Background(), "order-1", target, staff)
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
		if order.CanonicalStatus() != target {
			t.Fatalf("expected %s, got %s", target, order.Status)
		}
	}

	order, _ := store.Get(context.Background(), "order-1")
	if len(order.History) != 4 {
		t.Fatalf("expected 4 history entries, got %d", len(order.History))
	}
	for i := 1; i < len(order.History); i++ {
		prev := domain.NormalizeStatus(order.History[i-1].Status)
		cur := domain.NormalizeStatus(order.History[i].Status)
		if cur.Rank() != prev.Rank()+1 {
			t.Fatalf("history must advance one step at a time: %v", order.History)
		}
		if order.History[i].ActorRole != domain.RoleStaff {
			t.Fatalf("expected staff role in history, got %s", order.History[i].ActorRole)
		}
	}
	if order.Version != 4 {
		t.Fatalf("expected version 4, got %d", order.Version)
	}
	if got := countEvents(store, domain.EventTypeOrderStatusChanged); got != 3 {
		t.Fatalf("expected 3 status events, got %d", got)
	}
	if got := countEvents(store, domain.EventTypeOrderReadyAlert); got != 1 {
		t.Fatalf("expected exactly one ready alert event, got %d", got)
	}
	if len(publisher.orders) != 3 {
		t.Fatalf("expected 3 published snapshots, got %d", len(publisher.orders))
	}
}

func TestTransition_ScenarioC_SkipRejected(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-1", "submitted")
	sm := NewStateMachine(store)

	_, err := sm.Transition(context.Background(), "order-1", domain.OrderStatusDelivered, staff)
	var transitionErr *domain.TransitionError
	if !errors.As(err, &transitionErr) || !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if transitionErr.From != domain.OrderStatusSubmitted || transitionErr.To != domain.OrderStatusDelivered {
		t.Fatalf("unexpected transition error %+v", transitionErr)
	}

	order, _ := store.Get(context.Background(), "order-1")
	if order.CanonicalStatus() != domain.OrderStatusSubmitted || len(order.History) != 1 {
		t.Fatalf("order must stay submitted with untouched history: %+v", order)
	}
	if len(store.Outbox().AllPending()) != 0 {
		t.Fatal("rejected transition must not emit events")
	}
}

func TestTransition_ReversalRejected(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-1", "ready")
	sm := NewStateMachine(store)

	if _, err := sm.Transition(context.Background(), "order-1", domain.OrderStatusReceived, staff); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestTransition_Forbidden(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-1", "submitted")
	sm := NewStateMachine(store)

	for _, actor := range []domain.Actor{customer, otherStaff, admin, {UserID: "s", Role: domain.RoleStaff}} {
		if _, err := sm.Transition(context.Background(), "order-1", domain.OrderStatusReceived, actor); !errors.Is(err, domain.ErrForbidden) {
			t.Fatalf("actor %+v: expected forbidden, got %v", actor, err)
		}
	}
	order, _ := store.Get(context.Background(), "order-1")
	if len(order.History) != 1 {
		t.Fatal("forbidden requests must not touch history")
	}
}

func TestTransition_IdempotentRepeat(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-1", "submitted")
	sm := NewStateMachine(store)

	if _, err := sm.Transition(context.Background(), "order-1", domain.OrderStatusReceived, staff); err != nil {
		t.Fatalf("first transition: %v", err)
	}
	order, err := sm.Transition(context.Background(), "order-1", domain.OrderStatusReceived, staff)
	if err != nil {
		t.Fatalf("repeat must be ok: %v", err)
	}
	if len(order.History) != 2 || order.Version != 2 {
		t.Fatalf("repeat must not append history: %+v", order)
	}
	if got := countEvents(store, domain.EventTypeOrderStatusChanged); got != 1 {
		t.Fatalf("repeat must not emit events, got %d", got)
	}
}

func TestTransition_LegacyStatuses(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "legacy-pending", "enviado")
	seedOrder(store, "legacy-unknown", "en camino")
	seedOrder(store, "legacy-ready", "listo")
	sm := NewStateMachine(store)

	order, err := sm.Transition(context.Background(), "legacy-pending", domain.OrderStatusReceived, staff)
	if err != nil {
		t.Fatalf("legacy pending -> received: %v", err)
	}
	if order.History[0].Status != "enviado" {
		t.Fatalf("raw legacy value must be preserved in history, got %q", order.History[0].Status)
	}
	if order.Status != string(domain.OrderStatusReceived) {
		t.Fatalf("expected canonical status after transition, got %q", order.Status)
	}

	if _, err := sm.Transition(context.Background(), "legacy-unknown", domain.OrderStatusReceived, staff); err != nil {
		t.Fatalf("unknown legacy value is treated as submitted: %v", err)
	}

	ready, err := sm.Transition(context.Background(), "legacy-ready", domain.OrderStatusReady, staff)
	if err != nil || ready.Status != "listo" || len(ready.History) != 1 {
		t.Fatalf("legacy ready must be idempotent: %v %+v", err, ready)
	}
}

func TestTransition_UnknownTargetAndMissingOrder(t *testing.T) {
	store := memory.NewStore(nil)
	sm := NewStateMachine(store)

	if _, err := sm.Transition(context.Background(), "order-1", domain.OrderStatus("baking"), staff); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := sm.Transition(context.Background(), "missing", domain.OrderStatusReceived, staff); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestTransition_ReadyAlertMessage(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-abcdef123456", "received")
	sm := NewStateMachine(store, WithBranches(domain.NewBranchDirectory([]domain.Branch{{ID: "chapule", Label: "Vianelo Chapule"}})))

	if _, err := sm.Transition(context.Background(), "order-abcdef123456", domain.OrderStatusReady, staff); err != nil {
		t.Fatalf("transition: %v", err)
	}
	var alert domain.ReadyAlert
	for _, msg := range store.Outbox().AllPending() {
		if msg.EventType == domain.EventTypeOrderReadyAlert {
			decoded, err := domain.DecodeReadyAlert(msg)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			alert = decoded
		}
	}
	if alert.CustomerID != "alice" {
		t.Fatalf("alert must target the owning customer: %+v", alert)
	}
	if alert.Message != "Your order #123456 is ready for pickup at Vianelo Chapule" {
		t.Fatalf("unexpected message %q", alert.Message)
	}
}

// conflictingRepo отвечает конфликтом версий на первые conflicts попыток записи.
type conflictingRepo struct {
	*memory.Store
	mu        sync.Mutex
	conflicts int
	applies   int
}

func (r *conflictingRepo) ApplyTransition(ctx context.Context, order domain.Order, entry domain.StatusEntry, events []domain.OutboxMessage) (domain.Order, error) {
	r.mu.Lock()
	r.applies++
	if r.conflicts > 0 {
		r.conflicts--
		r.mu.Unlock()
		return domain.Order{}, domain.ErrOrderVersionConflict
	}
	r.mu.Unlock()
	return r.Store.ApplyTransition(ctx, order, entry, events)
}

func TestTransition_RetriesVersionConflict(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-1", "submitted")
	repo := &conflictingRepo{Store: store, conflicts: 2}
	sm := NewStateMachine(repo, WithConflictRetries(3, time.Millisecond))

	order, err := sm.Transition(context.Background(), "order-1", domain.OrderStatusReceived, staff)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if order.Version != 2 || repo.applies != 3 {
		t.Fatalf("unexpected result: version=%d applies=%d", order.Version, repo.applies)
	}

	repo.conflicts = 10
	if _, err := sm.Transition(context.Background(), "order-1", domain.OrderStatusReady, staff); !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected version conflict after exhausting retries, got %v", err)
	}
}

func TestTransition_ConcurrentStaffRequestsStayLinear(t *testing.T) {
	store := memory.NewStore(nil)
	seedOrder(store, "order-1", "submitted")
	sm := NewStateMachine(store, WithConflictRetries(5, time.Millisecond))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = sm.Transition(context.Background(), "order-1", domain.OrderStatusReceived, staff)
		}()
	}
	wg.Wait()

	order, _ := store.Get(context.Background(), "order-1")
	if len(order.History) != 2 {
		t.Fatalf("concurrent duplicates must produce one history entry, got %d", len(order.History))
	}
}
