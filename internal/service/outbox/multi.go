package outbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/bakery/internal/domain"
)

// Sink - именованный получатель событий outbox.
type Sink struct {
	Name      string
	Publisher domain.OutboxPublisher
}

// MultiPublisher передаёт событие каждому получателю. Ошибка одного получателя не
// мешает остальным; при повторе событие снова уходит всем, поэтому получатели
// должны быть идемпотентными.
type MultiPublisher struct {
	sinks []Sink
}

// NewMultiPublisher создаёт publisher, пропуская пустые получатели.
func NewMultiPublisher(sinks ...Sink) *MultiPublisher {
	m := &MultiPublisher{}
	for _, sink := range sinks {
		if sink.Publisher != nil {
			m.sinks = append(m.sinks, sink)
		}
	}
	return m
}

// Names возвращает имена подключённых получателей.
func (m *MultiPublisher) Names() []string {
	names := make([]string, 0, len(m.sinks))
	for _, sink := range m.sinks {
		names = append(names, sink.Name)
	}
	return names
}

// Publish реализует domain.OutboxPublisher.
func (m *MultiPublisher) Publish(ctx context.Context, event domain.OutboxMessage) error {
	var errs []error
	for _, sink := range m.sinks {
		if err := sink.Publisher.Publish(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name, err))
		}
	}
	return errors.Join(errs...)
}

var _ domain.OutboxPublisher = (*MultiPublisher)(nil)
