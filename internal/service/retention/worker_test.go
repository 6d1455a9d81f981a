package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
	"github.com/vladislavdragonenkov/bakery/internal/storage/memory"
)

var _ domain.OutboxJanitor = (*stubJanitor)(nil)

func TestWorker_DeleteProcessed_Batches(t *testing.T) {
	t.Parallel()

	janitor := &stubJanitor{results: []int{2, 2, 1}}
	worker := NewWorker(janitor, WithBatchSize(2))

	deleted, err := worker.DeleteProcessed(context.Background(), time.Now().UTC())
	if err != nil {
		t.Fatalf("DeleteProcessed failed: %v", err)
	}
	if deleted != 5 {
		t.Fatalf("unexpected deleted total: got=%d want=5", deleted)
	}
	if calls := janitor.calls(); calls != 3 {
		t.Fatalf("unexpected delete calls: got=%d want=3", calls)
	}
}

func TestWorker_DeleteProcessed_Error(t *testing.T) {
	t.Parallel()

	janitor := &stubJanitor{errs: []error{errors.New("boom")}}
	worker := NewWorker(janitor, WithBatchSize(10))

	deleted, err := worker.DeleteProcessed(context.Background(), time.Now().UTC())
	if err == nil {
		t.Fatal("expected DeleteProcessed error")
	}
	if deleted != 0 {
		t.Fatalf("unexpected deleted total: got=%d want=0", deleted)
	}
}

func TestWorker_SweepUsesRetentionCutoff(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	janitor := &stubJanitor{}
	worker := NewWorker(janitor,
		WithRetention(time.Hour),
		WithClock(func() time.Time { return now }),
		WithMetrics(metrics.NewRetentionMetricsWithRegisterer(prometheus.NewRegistry())),
	)

	worker.sweep(context.Background())

	if got := janitor.lastBefore(); !got.Equal(now.Add(-time.Hour)) {
		t.Fatalf("unexpected cutoff: %s", got)
	}
}

func TestWorker_Run_StopsOnContextCancel(t *testing.T) {
	t.Parallel()

	janitor := &stubJanitor{}
	worker := NewWorker(janitor, WithInterval(5*time.Millisecond), WithBatchSize(10))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		worker.Run(ctx)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop on context cancel")
	}
	if calls := janitor.calls(); calls == 0 {
		t.Fatal("expected cleanup to be called at least once")
	}
}

func TestWorker_Run_NilJanitor(t *testing.T) {
	t.Parallel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		NewWorker(nil).Run(context.Background())
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker without janitor must return immediately")
	}
}

func TestWorker_MemoryOutbox(t *testing.T) {
	t.Parallel()

	repo := memory.NewOutboxRepository()
	sent, err := repo.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderCreated})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	failed, _ := repo.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderStatusChanged})
	_, _ = repo.Enqueue(domain.OutboxMessage{EventType: domain.EventTypeOrderReadyAlert})
	if err := repo.MarkSent(sent.ID); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if err := repo.MarkFailed(failed.ID); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	worker := NewWorker(repo, WithBatchSize(1))
	deleted, err := worker.DeleteProcessed(context.Background(), time.Now().UTC().Add(time.Second))
	if err != nil {
		t.Fatalf("DeleteProcessed failed: %v", err)
	}
	if deleted != 2 {
		t.Fatalf("expected sent and failed records deleted, got %d", deleted)
	}
	if repo.Len() != 1 || len(repo.AllPending()) != 1 {
		t.Fatalf("pending record must survive, len=%d", repo.Len())
	}
}

type stubJanitor struct {
	mu      sync.Mutex
	results []int
	errs    []error
	count   int
	before  time.Time
}

func (s *stubJanitor) DeleteProcessed(before time.Time, _ int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.count++
	s.before = before
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		if err != nil {
			return 0, err
		}
	}
	if len(s.results) == 0 {
		return 0, nil
	}
	result := s.results[0]
	s.results = s.results[1:]
	return result, nil
}

func (s *stubJanitor) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

func (s *stubJanitor) lastBefore() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.before
}
