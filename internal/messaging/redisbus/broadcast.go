// Package redisbus связывает инстансы сервиса через Redis: рассылает снимки заказов
// всем инстансам и хранит одноразовые отметки уведомлений.
package redisbus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// DefaultChannel - канал Pub/Sub для снимков заказов.
const DefaultChannel = "bakery:order-events"

const defaultReconnectDelay = 500 * time.Millisecond

// Broadcaster публикует снимки заказов из outbox в канал Redis.
type Broadcaster struct {
	client  redis.UniversalClient
	channel string
}

// NewBroadcaster создаёт publisher.
func NewBroadcaster(client redis.UniversalClient, channel string) *Broadcaster {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Broadcaster{client: client, channel: channel}
}

// Publish реализует domain.OutboxPublisher. Уведомления не рассылаются.
func (b *Broadcaster) Publish(ctx context.Context, event domain.OutboxMessage) error {
	if !domain.IsOrderStateEvent(event) {
		return nil
	}
	if err := b.client.Publish(ctx, b.channel, event.Payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Resyncer догоняет локальных подписчиков по хранилищу.
type Resyncer interface {
	Resync(ctx context.Context) (int, error)
}

// ListenerOption настраивает Listener.
type ListenerOption func(*Listener)

// WithResyncer задаёт, кого звать после переподписки на канал.
func WithResyncer(r Resyncer) ListenerOption {
	return func(l *Listener) { l.resyncer = r }
}

// WithReconnectDelay задаёт паузу после обрыва соединения.
func WithReconnectDelay(d time.Duration) ListenerOption {
	return func(l *Listener) { l.reconnectDelay = d }
}

// Listener получает снимки из канала и передаёт их в локальный раздатчик.
// Pub/Sub не хранит сообщения, поэтому после каждой переподписки Listener
// вызывает Resyncer.
type Listener struct {
	client         redis.UniversalClient
	channel        string
	target         domain.OrderPublisher
	resyncer       Resyncer
	reconnectDelay time.Duration
	logger         *log.Entry

	subscriptions int
}

// NewListener создаёт подписчика канала.
func NewListener(client redis.UniversalClient, channel string, target domain.OrderPublisher, logger *log.Entry, options ...ListenerOption) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = log.WithField("component", "redis-listener")
	}
	l := &Listener{
		client:         client,
		channel:        channel,
		target:         target,
		reconnectDelay: defaultReconnectDelay,
		logger:         logger,
	}
	for _, option := range options {
		option(l)
	}
	return l
}

// Run читает канал до отмены ctx. После обрыва go-redis переподключается и
// заново подписывается на следующем Receive.
func (l *Listener) Run(ctx context.Context) error {
	sub := l.client.Subscribe(ctx, l.channel)
	defer sub.Close()
	// Receive без таймаута не смотрит на отмену ctx.
	stop := context.AfterFunc(ctx, func() { _ = sub.Close() })
	defer stop()

	for {
		msg, err := sub.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if l.subscriptions == 0 {
				return fmt.Errorf("redis subscribe %s: %w", l.channel, err)
			}
			l.logger.WithError(err).Warn("redis subscription interrupted, reconnecting")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(l.reconnectDelay):
			}
			continue
		}
		l.dispatch(ctx, msg)
	}
}

func (l *Listener) dispatch(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return
		}
		l.subscriptions++
		if l.subscriptions == 1 {
			l.logger.WithField("channel", l.channel).Info("listening for order events")
			return
		}
		l.logger.WithField("channel", l.channel).Info("resubscribed, resyncing order streams")
		l.resync(ctx)
	case *redis.Message:
		if err := l.handle([]byte(m.Payload)); err != nil {
			l.logger.WithError(err).Warn("dropping malformed order event")
		}
	}
}

func (l *Listener) resync(ctx context.Context) {
	if l.resyncer == nil {
		return
	}
	if _, err := l.resyncer.Resync(ctx); err != nil {
		l.logger.WithError(err).Warn("order stream resync incomplete")
	}
}

func (l *Listener) handle(payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode order event: %w", err)
	}
	if event.Order.ID == "" {
		return fmt.Errorf("order event without order id")
	}
	l.target.Publish(event.Order.Order())
	return nil
}

var _ domain.OutboxPublisher = (*Broadcaster)(nil)
