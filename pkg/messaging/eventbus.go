// Package messaging defines the event fan-out contract backing the
// eventstore subscribe operation. Delivery is at-least-once; consumers must
// be idempotent.
package messaging

import "github.com/gatehouse-id/gatehouse/pkg/domain"

// EventBus publishes committed events and delivers them to subscribers.
type EventBus interface {
	// Publish publishes events to all matching subscribers.
	Publish(events []domain.Event) error

	// Subscribe delivers events matching the filter to handler. A handler
	// error nacks the event for redelivery.
	Subscribe(filter EventFilter, handler EventHandler) (Subscription, error)

	// Close releases bus resources.
	Close() error
}

// EventFilter restricts a subscription. Empty slices mean "all".
type EventFilter struct {
	InstanceID     string
	AggregateTypes []domain.AggregateType
	EventTypes     []string
}

// Matches reports whether an event passes the filter. Event types are
// compared in normalized form, so legacy names match their canonical filter.
func (f EventFilter) Matches(event *domain.Event) bool {
	if f.InstanceID != "" && event.InstanceID != f.InstanceID {
		return false
	}
	if len(f.AggregateTypes) > 0 && !containsAggregate(f.AggregateTypes, event.AggregateType) {
		return false
	}
	if len(f.EventTypes) > 0 {
		normalized := domain.Normalize(event.Type)
		found := false
		for _, et := range f.EventTypes {
			if domain.Normalize(et) == normalized {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsAggregate(types []domain.AggregateType, t domain.AggregateType) bool {
	for _, at := range types {
		if at == t {
			return true
		}
	}
	return false
}

// EventHandler processes one delivered event.
type EventHandler func(event *domain.Event) error

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
}
