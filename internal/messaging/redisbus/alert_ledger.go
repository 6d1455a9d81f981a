package redisbus

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

const (
	alertKeyPrefix  = "bakery:alert:"
	defaultAlertTTL = 30 * 24 * time.Hour
)

// AlertLedger хранит отметки отправленных уведомлений в Redis (SETNX с TTL).
type AlertLedger struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewAlertLedger создаёт журнал. ttl <= 0 означает значение по умолчанию.
func NewAlertLedger(client redis.UniversalClient, ttl time.Duration) *AlertLedger {
	if ttl <= 0 {
		ttl = defaultAlertTTL
	}
	return &AlertLedger{client: client, ttl: ttl}
}

func alertKey(orderID string, kind domain.AlertKind) string {
	return alertKeyPrefix + string(kind) + ":" + orderID
}

// Claim реализует domain.AlertLedger.
func (l *AlertLedger) Claim(ctx context.Context, orderID string, kind domain.AlertKind) (bool, error) {
	ok, err := l.client.SetNX(ctx, alertKey(orderID, kind), time.Now().UTC().Unix(), l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis claim alert: %w", err)
	}
	return ok, nil
}

// Release реализует domain.AlertLedger.
func (l *AlertLedger) Release(ctx context.Context, orderID string, kind domain.AlertKind) error {
	if err := l.client.Del(ctx, alertKey(orderID, kind)).Err(); err != nil {
		return fmt.Errorf("redis release alert: %w", err)
	}
	return nil
}

var _ domain.AlertLedger = (*AlertLedger)(nil)
