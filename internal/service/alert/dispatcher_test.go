package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
	"github.com/vladislavdragonenkov/bakery/internal/service/lifecycle"
	"github.com/vladislavdragonenkov/bakery/internal/service/outbox"
	"github.com/vladislavdragonenkov/bakery/internal/storage/memory"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []string
	failNext int
}

func (n *recordingNotifier) Notify(_ context.Context, userID, message string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failNext > 0 {
		n.failNext--
		return errors.New("transport unavailable")
	}
	n.messages = append(n.messages, userID+": "+message)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func readyAlert(t *testing.T) domain.OutboxMessage {
	t.Helper()
	msg, err := domain.NewReadyAlertMessage(domain.ReadyAlert{
		OrderID:    "order-1",
		CustomerID: "alice",
		BranchID:   "chapule",
		Message:    "Your order #rder-1 is ready for pickup at Chapule",
		OccurredAt: time.Now(),
	})
	require.NoError(t, err)
	return msg
}

func TestDispatcher_FiresOnceOnRedelivery(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewOrderMetricsWithRegisterer(reg)
	notifier := &recordingNotifier{}
	d := NewDispatcher(memory.NewAlertLedger(), notifier, m, nil)
	msg := readyAlert(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Publish(context.Background(), msg))
	}

	require.Equal(t, 1, notifier.count())
	require.Equal(t, "alice: Your order #rder-1 is ready for pickup at Chapule", notifier.messages[0])
	expected := `
# HELP bakery_ready_alerts_total Ready alerts grouped by result
# TYPE bakery_ready_alerts_total counter
bakery_ready_alerts_total{result="duplicate"} 2
bakery_ready_alerts_total{result="sent"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bakery_ready_alerts_total"))
}

func TestDispatcher_ConcurrentDeliveryFiresOnce(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(memory.NewAlertLedger(), notifier, nil, nil)
	msg := readyAlert(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = d.Publish(context.Background(), msg)
		}()
	}
	wg.Wait()
	require.Equal(t, 1, notifier.count())
}

func TestDispatcher_ReleasesClaimOnFailure(t *testing.T) {
	notifier := &recordingNotifier{failNext: 1}
	d := NewDispatcher(memory.NewAlertLedger(), notifier, nil, nil)
	msg := readyAlert(t)

	require.Error(t, d.Publish(context.Background(), msg))
	require.Equal(t, 0, notifier.count())

	require.NoError(t, d.Publish(context.Background(), msg))
	require.Equal(t, 1, notifier.count())
}

func TestDispatcher_IgnoresOtherEvents(t *testing.T) {
	notifier := &recordingNotifier{}
	d := NewDispatcher(memory.NewAlertLedger(), notifier, nil, nil)

	msg, err := domain.NewOrderEventMessage(domain.EventTypeOrderStatusChanged, domain.Order{ID: "o1", Status: "ready"}, domain.RoleStaff, time.Now())
	require.NoError(t, err)
	require.NoError(t, d.Publish(context.Background(), msg))
	require.Equal(t, 0, notifier.count())

	broken := domain.OutboxMessage{EventType: domain.EventTypeOrderReadyAlert, Payload: []byte("not json")}
	require.Error(t, d.Publish(context.Background(), broken))
}

// Сценарий: received -> ready, событие доставлено дважды, повторный запрос ready от персонала.
func TestDispatcher_ReadyTransitionEndToEnd(t *testing.T) {
	store := memory.NewStore(nil)
	now := time.Now().UTC()
	store.SeedOrder(domain.Order{
		ID:          "order-abc123",
		CustomerID:  "alice",
		BranchID:    "chapule",
		Items:       []domain.OrderItem{{ItemID: "bread", Name: "Bread", Qty: 1, PriceMinor: 100}},
		AmountMinor: 100,
		Status:      "received",
		History:     []domain.StatusEntry{{Status: "received", ActorRole: domain.RoleStaff, At: now}},
		Version:     2,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	staff := domain.Actor{UserID: "s1", Role: domain.RoleStaff, BranchID: "chapule"}
	sm := lifecycle.NewStateMachine(store)

	_, err := sm.Transition(context.Background(), "order-abc123", domain.OrderStatusReady, staff)
	require.NoError(t, err)
	_, err = sm.Transition(context.Background(), "order-abc123", domain.OrderStatusReady, staff)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	d := NewDispatcher(memory.NewAlertLedger(), notifier, nil, nil)
	pending := store.Outbox().AllPending()
	for _, msg := range append(pending, pending...) {
		require.NoError(t, d.Publish(context.Background(), msg))
	}
	require.Equal(t, 1, notifier.count())
	require.Contains(t, notifier.messages[0], "#abc123 is ready for pickup at chapule")
}

// Транспорт уведомлений лежит дольше, чем длятся все попытки одного раунда relay.
func TestDispatcher_SurvivesNotifierOutageThroughOutbox(t *testing.T) {
	const maxAttempts = 5

	repo := memory.NewOutboxRepository()
	_, err := repo.Enqueue(readyAlert(t))
	require.NoError(t, err)

	notifier := &recordingNotifier{failNext: maxAttempts}
	d := NewDispatcher(memory.NewAlertLedger(), notifier, nil, nil)
	worker := outbox.NewWorker(repo, d,
		outbox.WithMaxAttempts(maxAttempts),
		outbox.WithRetryBaseDelay(0),
		outbox.WithRedeliveryDelay(0),
	)

	require.Zero(t, worker.ProcessOnce(context.Background()))
	require.Zero(t, notifier.count())
	pending := repo.AllPending()
	require.Len(t, pending, 1, "alert must stay pending after an exhausted round")
	require.Equal(t, 1, pending[0].Attempts)

	for i := 0; i < maxAttempts; i++ {
		worker.ProcessOnce(context.Background())
	}

	require.Equal(t, 1, notifier.count())
	require.Empty(t, repo.AllPending())
}
