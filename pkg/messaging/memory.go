package messaging

import (
	"sync"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

// InMemoryBus is a process-local EventBus for tests and single-binary runs
// without NATS. Handlers run synchronously on Publish. A handler error does
// not fail the publish: in-process consumers catch up from the eventstore,
// so dropped deliveries are recovered on the next poll.
type InMemoryBus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]*memorySub
}

type memorySub struct {
	bus     *InMemoryBus
	id      int
	filter  EventFilter
	handler EventHandler
}

// NewInMemoryBus creates an empty bus.
func NewInMemoryBus() *InMemoryBus {
	return &InMemoryBus{subs: make(map[int]*memorySub)}
}

// Publish implements EventBus.
func (b *InMemoryBus) Publish(events []domain.Event) error {
	b.mu.RLock()
	subs := make([]*memorySub, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.RUnlock()

	for i := range events {
		for _, s := range subs {
			if s.filter.Matches(&events[i]) {
				_ = s.handler(&events[i])
			}
		}
	}
	return nil
}

// Subscribe implements EventBus.
func (b *InMemoryBus) Subscribe(filter EventFilter, handler EventHandler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &memorySub{bus: b, id: b.nextID, filter: filter, handler: handler}
	b.subs[sub.id] = sub
	return sub, nil
}

// Close implements EventBus.
func (b *InMemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = make(map[int]*memorySub)
	return nil
}

func (s *memorySub) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.id)
	return nil
}
