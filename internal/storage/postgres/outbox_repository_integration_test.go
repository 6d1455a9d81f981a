package postgres

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

func TestOutboxRepository_PostgresFlow(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	first, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventTypeOrderCreated, Payload: []byte(`{"n":1}`)})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)
	second, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventTypeOrderStatusChanged, Payload: []byte(`{"n":2}`)})
	require.NoError(t, err)

	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, first.ID, pending[0].ID)
	require.Equal(t, second.ID, pending[1].ID)
	require.JSONEq(t, `{"n":1}`, string(pending[0].Payload))

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 2, stats.PendingCount)
	require.False(t, stats.OldestPendingAt.IsZero())

	require.NoError(t, repo.MarkSent(first.ID))
	require.NoError(t, repo.MarkFailed(second.ID))

	pending, err = repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err = repo.Stats()
	require.NoError(t, err)
	require.Zero(t, stats.PendingCount)
	require.True(t, stats.OldestPendingAt.IsZero())
}

func TestOutboxRepository_PostgresMissingRows(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	require.ErrorIs(t, repo.MarkSent("missing"), domain.ErrOutboxPublish)
	require.ErrorIs(t, repo.MarkFailed("missing"), domain.ErrOutboxPublish)
}

func TestOutboxJanitor_PostgresDeletesProcessedOnly(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)
	janitor := NewOutboxJanitor(store)

	sent, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventTypeOrderCreated, Payload: []byte(`{}`)})
	require.NoError(t, err)
	failed, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-2", EventType: domain.EventTypeOrderCreated, Payload: []byte(`{}`)})
	require.NoError(t, err)
	_, err = repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-3", EventType: domain.EventTypeOrderCreated, Payload: []byte(`{}`)})
	require.NoError(t, err)
	require.NoError(t, repo.MarkSent(sent.ID))
	require.NoError(t, repo.MarkFailed(failed.ID))

	deleted, err := janitor.DeleteProcessed(time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, deleted, "fresh records must be kept")

	deleted, err = janitor.DeleteProcessed(time.Now().Add(time.Minute), 1)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	deleted, err = janitor.DeleteProcessed(time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Equal(t, 1, deleted)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)
}

func TestOutboxRepository_PostgresMarkRetry(t *testing.T) {
	store := openPostgresStoreForIntegrationTest(t)
	repo := NewOutboxRepository(store)

	alert, err := repo.Enqueue(domain.OutboxMessage{AggregateType: "order", AggregateID: "order-1", EventType: domain.EventTypeOrderReadyAlert, Payload: []byte(`{}`)})
	require.NoError(t, err)

	require.NoError(t, repo.MarkRetry(alert.ID, time.Now().Add(time.Hour)))
	pending, err := repo.PullPending(10)
	require.NoError(t, err)
	require.Empty(t, pending)

	stats, err := repo.Stats()
	require.NoError(t, err)
	require.Equal(t, 1, stats.PendingCount)

	require.NoError(t, repo.MarkRetry(alert.ID, time.Now().Add(-time.Minute)))
	pending, err = repo.PullPending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 2, pending[0].Attempts)

	require.NoError(t, repo.MarkSent(alert.ID))
	require.ErrorIs(t, repo.MarkRetry(alert.ID, time.Now()), domain.ErrOutboxPublish)
}
