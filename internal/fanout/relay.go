package fanout

import (
	"context"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// Relay передаёт снимки из событий outbox в Hub. Снимки, пришедшие раньше
// быстрого пути или повторно, отфильтруются по версии в подписках.
type Relay struct {
	hub *Hub
}

// NewRelay создаёт адаптер outbox -> Hub.
func NewRelay(hub *Hub) *Relay {
	return &Relay{hub: hub}
}

// Publish реализует domain.OutboxPublisher. События без снимка заказа игнорируются.
func (r *Relay) Publish(_ context.Context, event domain.OutboxMessage) error {
	if !domain.IsOrderStateEvent(event) {
		return nil
	}
	decoded, err := domain.DecodeOrderEvent(event)
	if err != nil {
		return err
	}
	r.hub.Publish(decoded.Order.Order())
	return nil
}

var _ domain.OutboxPublisher = (*Relay)(nil)
