package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

const (
	outboxStatusPending = "pending"
	outboxStatusSent    = "sent"
	outboxStatusFailed  = "failed"
)

// outboxRecord хранит сообщение и служебные поля для in-memory реализации.
type outboxRecord struct {
	msg        domain.OutboxMessage
	status     string
	attemptCnt int
	seq        uint64
	createdAt  time.Time
	updatedAt  time.Time
	// nextAttempt скрывает отложенное событие от PullPending до наступления срока.
	nextAttempt time.Time
}

// OutboxRepository - in-memory хранилище для transactional outbox.
type OutboxRepository struct {
	mu      sync.RWMutex
	seq     uint64
	records map[string]*outboxRecord
}

// NewOutboxRepository создаёт in-memory реализацию outbox.
func NewOutboxRepository() *OutboxRepository {
	return &OutboxRepository{records: make(map[string]*outboxRecord)}
}

// Enqueue сохраняет событие со статусом `pending` и возвращает его с идентификатором.
func (r *OutboxRepository) Enqueue(msg domain.OutboxMessage) (domain.OutboxMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	r.seq++
	r.records[msg.ID] = &outboxRecord{
		msg:       msg,
		status:    outboxStatusPending,
		seq:       r.seq,
		createdAt: now,
		updatedAt: now,
	}
	return msg, nil
}

// PullPending возвращает до limit готовых к доставке сообщений `pending` в порядке постановки.
func (r *OutboxRepository) PullPending(limit int) ([]domain.OutboxMessage, error) {
	if limit <= 0 {
		limit = 100
	}

	now := time.Now().UTC()
	pending := r.pendingRecords()
	result := make([]domain.OutboxMessage, 0, min(limit, len(pending)))
	for _, rec := range pending {
		if len(result) == limit {
			break
		}
		if rec.nextAttempt.After(now) {
			continue
		}
		msg := rec.msg
		msg.Attempts = rec.attemptCnt
		result = append(result, msg)
	}
	return result, nil
}

// Stats возвращает размер backlog и возраст самого старого сообщения.
func (r *OutboxRepository) Stats() (domain.OutboxStats, error) {
	pending := r.pendingRecords()
	stats := domain.OutboxStats{PendingCount: len(pending)}
	if len(pending) > 0 {
		stats.OldestPendingAt = pending[0].createdAt
	}
	return stats, nil
}

// MarkSent обновляет статус события после успешной публикации.
func (r *OutboxRepository) MarkSent(id string) error {
	return r.mark(id, outboxStatusSent)
}

// MarkFailed фиксирует ошибку публикации.
func (r *OutboxRepository) MarkFailed(id string) error {
	return r.mark(id, outboxStatusFailed)
}

// MarkRetry откладывает событие до next, сохраняя статус `pending`.
func (r *OutboxRepository) MarkRetry(id string, next time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok || record.status != outboxStatusPending {
		return domain.ErrOutboxPublish
	}
	record.attemptCnt++
	record.nextAttempt = next.UTC()
	record.updatedAt = time.Now().UTC()
	return nil
}

// DeleteProcessed удаляет старейшие обработанные события, начиная с ранних seq.
func (r *OutboxRepository) DeleteProcessed(before time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]*outboxRecord, 0)
	for _, rec := range r.records {
		if rec.status != outboxStatusPending && !rec.updatedAt.After(before) {
			expired = append(expired, rec)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].seq < expired[j].seq })
	if len(expired) > limit {
		expired = expired[:limit]
	}
	for _, rec := range expired {
		delete(r.records, rec.msg.ID)
	}
	return len(expired), nil
}

// Len возвращает число хранимых событий в любом статусе.
func (r *OutboxRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// AllPending возвращает копию всех сообщений со статусом `pending`, включая отложенные (используется в тестах).
func (r *OutboxRepository) AllPending() []domain.OutboxMessage {
	pending := r.pendingRecords()
	msgs := make([]domain.OutboxMessage, 0, len(pending))
	for _, rec := range pending {
		msg := rec.msg
		msg.Attempts = rec.attemptCnt
		msgs = append(msgs, msg)
	}
	return msgs
}

func (r *OutboxRepository) mark(id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[id]
	if !ok {
		return domain.ErrOutboxPublish
	}
	record.status = status
	record.attemptCnt++
	record.updatedAt = time.Now().UTC()
	return nil
}

func (r *OutboxRepository) pendingRecords() []*outboxRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*outboxRecord, 0, len(r.records))
	for _, rec := range r.records {
		if rec.status == outboxStatusPending {
			copied := *rec
			result = append(result, &copied)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].seq < result[j].seq })
	return result
}

var (
	_ domain.OutboxRepository = (*OutboxRepository)(nil)
	_ domain.OutboxJanitor    = (*OutboxRepository)(nil)
)
