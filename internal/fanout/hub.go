// Package fanout раздаёт изменения заказов подписчикам в реальном времени.
//
// Подписка получает последнее известное состояние каждого заказа. Устаревшие
// снимки (версия не выше уже принятой) отбрасываются, а ожидающие доставки
// снимки одного заказа схлопываются в один, поэтому медленный подписчик не
// тормозит публикацию и не видит откатов статуса.
package fanout

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
)

// ScopeKind - по какому ключу подписка выбирает заказы.
type ScopeKind string

const (
	ScopeOrder    ScopeKind = "order"
	ScopeBranch   ScopeKind = "branch"
	ScopeCustomer ScopeKind = "customer"
	ScopeAll      ScopeKind = "all"
)

// Scope - ключ подписки.
type Scope struct {
	Kind ScopeKind
	ID   string
}

func (s Scope) matches(order domain.Order) bool {
	switch s.Kind {
	case ScopeOrder:
		return order.ID == s.ID
	case ScopeBranch:
		return order.BranchID == s.ID
	case ScopeCustomer:
		return order.CustomerID == s.ID
	case ScopeAll:
		return true
	default:
		return false
	}
}

// Option настраивает Hub.
type Option func(*Hub)

// WithLogger задаёт logger.
func WithLogger(logger *log.Entry) Option {
	return func(h *Hub) { h.logger = logger }
}

// WithMetrics задаёт метрики подписок.
func WithMetrics(m *metrics.OrderMetrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub - in-process раздатчик снимков заказов.
type Hub struct {
	mu      sync.RWMutex
	subs    map[uint64]*Subscription
	nextID  uint64
	closed  bool
	logger  *log.Entry
	metrics *metrics.OrderMetrics
}

// NewHub создаёт пустой раздатчик.
func NewHub(options ...Option) *Hub {
	h := &Hub{subs: make(map[uint64]*Subscription)}
	for _, option := range options {
		option(h)
	}
	if h.logger == nil {
		h.logger = log.WithField("component", "order-fanout")
	}
	return h
}

// Publish передаёт снимок всем подходящим подпискам. Никогда не блокируется на подписчиках.
func (h *Hub) Publish(order domain.Order) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, sub := range h.subs {
		if sub.scope.matches(order) {
			sub.offer(order)
		}
	}
}

// SubscribeOrder подписывает на изменения одного заказа.
func (h *Hub) SubscribeOrder(ctx context.Context, orderID string) *Subscription {
	return h.Subscribe(ctx, Scope{Kind: ScopeOrder, ID: orderID})
}

// SubscribeBranch подписывает на заказы филиала.
func (h *Hub) SubscribeBranch(ctx context.Context, branchID string) *Subscription {
	return h.Subscribe(ctx, Scope{Kind: ScopeBranch, ID: branchID})
}

// SubscribeCustomer подписывает на заказы клиента.
func (h *Hub) SubscribeCustomer(ctx context.Context, customerID string) *Subscription {
	return h.Subscribe(ctx, Scope{Kind: ScopeCustomer, ID: customerID})
}

// SubscribeAll подписывает на все заказы.
func (h *Hub) SubscribeAll(ctx context.Context) *Subscription {
	return h.Subscribe(ctx, Scope{Kind: ScopeAll})
}

// Subscribe регистрирует подписку. Она закрывается при отмене ctx, вызове Close или Hub.Close.
func (h *Hub) Subscribe(ctx context.Context, scope Scope) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		scope:   scope,
		ch:      make(chan domain.Order),
		signal:  make(chan struct{}, 1),
		pending: make(map[string]domain.Order),
		seen:    make(map[string]int64),
		cancel:  cancel,
		done:    make(chan struct{}),
		metrics: h.metrics,
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		cancel()
		close(sub.ch)
		close(sub.done)
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	h.mu.Unlock()

	h.metrics.SubscriberAdded()
	h.logger.WithFields(log.Fields{"scope": scope.Kind, "id": scope.ID}).Debug("subscription opened")

	go func() {
		sub.pump(ctx)
		h.remove(sub.id)
	}()
	return sub
}

// Len возвращает количество активных подписок.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Scopes возвращает различные ключи открытых подписок.
func (h *Hub) Scopes() []Scope {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[Scope]struct{}, len(h.subs))
	scopes := make([]Scope, 0, len(h.subs))
	for _, sub := range h.subs {
		if _, ok := seen[sub.scope]; ok {
			continue
		}
		seen[sub.scope] = struct{}{}
		scopes = append(scopes, sub.scope)
	}
	return scopes
}

// KnownOrderIDs возвращает заказы, которые уже видел хотя бы один подписчик.
func (h *Hub) KnownOrderIDs() []string {
	h.mu.RLock()
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.RUnlock()

	seen := make(map[string]struct{})
	ids := make([]string, 0)
	for _, sub := range subs {
		for _, id := range sub.knownIDs() {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
	}
	return ids
}

// Close закрывает все подписки.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := make([]*Subscription, 0, len(h.subs))
	for _, sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.Close()
	}
}

func (h *Hub) remove(id uint64) {
	h.mu.Lock()
	_, ok := h.subs[id]
	delete(h.subs, id)
	h.mu.Unlock()
	if ok {
		h.metrics.SubscriberRemoved()
	}
}

var _ domain.OrderPublisher = (*Hub)(nil)
