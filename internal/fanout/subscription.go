package fanout

import (
	"context"
	"sync"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
	"github.com/vladislavdragonenkov/bakery/internal/metrics"
)

// Subscription - поток снимков заказов для одного наблюдателя.
type Subscription struct {
	id     uint64
	scope  Scope
	ch     chan domain.Order
	signal chan struct{}

	mu      sync.Mutex
	pending map[string]domain.Order
	queue   []string
	// seen - максимальная принятая версия по заказу.
	seen map[string]int64

	cancel  context.CancelFunc
	done    chan struct{}
	metrics *metrics.OrderMetrics
}

// C возвращает канал снимков. Канал закрывается после завершения подписки.
func (s *Subscription) C() <-chan domain.Order {
	return s.ch
}

// Done закрывается, когда подписка завершена.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Scope возвращает ключ подписки.
func (s *Subscription) Scope() Scope {
	return s.scope
}

// Close завершает подписку. Повторный вызов безопасен.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Seed отправляет начальный снимок через тот же фильтр версий, что и Publish.
func (s *Subscription) Seed(order domain.Order) {
	if s.scope.matches(order) {
		s.offer(order)
	}
}

// offer ставит снимок в очередь, если он новее уже принятого.
func (s *Subscription) offer(order domain.Order) {
	s.mu.Lock()
	if order.Version <= s.seen[order.ID] {
		s.mu.Unlock()
		s.metrics.RecordStaleDropped()
		return
	}
	s.seen[order.ID] = order.Version
	if _, queued := s.pending[order.ID]; !queued {
		s.queue = append(s.queue, order.ID)
	}
	s.pending[order.ID] = order.Clone()
	s.mu.Unlock()

	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) knownIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.seen))
	for id := range s.seen {
		ids = append(ids, id)
	}
	return ids
}

func (s *Subscription) next() (domain.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return domain.Order{}, false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	order := s.pending[id]
	delete(s.pending, id)
	return order, true
}

func (s *Subscription) pump(ctx context.Context) {
	defer close(s.done)
	defer close(s.ch)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.signal:
		}

		for {
			order, ok := s.next()
			if !ok {
				break
			}
			select {
			case <-ctx.Done():
				return
			case s.ch <- order:
				s.metrics.RecordDelivered()
			}
		}
	}
}
