package memory

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

type alertKey struct {
	orderID string
	kind    domain.AlertKind
}

// AlertLedger - in-memory отметки отправленных уведомлений.
type AlertLedger struct {
	mu      sync.Mutex
	claimed map[alertKey]struct{}
}

// NewAlertLedger создаёт пустой журнал уведомлений.
func NewAlertLedger() *AlertLedger {
	return &AlertLedger{claimed: make(map[alertKey]struct{})}
}

// Claim возвращает true только для первого вызова по паре (заказ, вид).
func (l *AlertLedger) Claim(_ context.Context, orderID string, kind domain.AlertKind) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := alertKey{orderID: orderID, kind: kind}
	if _, ok := l.claimed[key]; ok {
		return false, nil
	}
	l.claimed[key] = struct{}{}
	return true, nil
}

// Release снимает отметку.
func (l *AlertLedger) Release(_ context.Context, orderID string, kind domain.AlertKind) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.claimed, alertKey{orderID: orderID, kind: kind})
	return nil
}

var _ domain.AlertLedger = (*AlertLedger)(nil)
