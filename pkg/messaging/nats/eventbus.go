// Package nats implements the event bus on NATS JetStream: durable,
// at-least-once delivery with per-subscription consumers.
package nats

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/messaging"
)

// Subjects are gatehouse.events.<instance>.<aggregate_type>; event-type
// filtering happens client-side because event names carry dots.
const subjectPrefix = "gatehouse.events"

// EventBus is the JetStream-backed messaging.EventBus.
type EventBus struct {
	nc         *nats.Conn
	js         nats.JetStreamContext
	streamName string
	mu         sync.Mutex
	subs       map[string]*nats.Subscription
}

// Config for the NATS event bus.
type Config struct {
	URL        string
	StreamName string
	MaxAge     time.Duration
	MaxBytes   int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:        nats.DefaultURL,
		StreamName: "GATEHOUSE_EVENTS",
		MaxAge:     7 * 24 * time.Hour,
		MaxBytes:   1 << 30,
	}
}

// NewEventBus connects to NATS and ensures the event stream exists.
func NewEventBus(config Config) (*EventBus, error) {
	nc, err := nats.Connect(config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	bus := &EventBus{
		nc:         nc,
		js:         js,
		streamName: config.StreamName,
		subs:       make(map[string]*nats.Subscription),
	}
	if err := bus.ensureStream(config); err != nil {
		nc.Close()
		return nil, err
	}
	return bus, nil
}

func (b *EventBus) ensureStream(config Config) error {
	streamConfig := &nats.StreamConfig{
		Name:      config.StreamName,
		Subjects:  []string{subjectPrefix + ".>"},
		Retention: nats.InterestPolicy,
		MaxAge:    config.MaxAge,
		MaxBytes:  config.MaxBytes,
		Storage:   nats.FileStorage,
		Replicas:  1,
	}
	if _, err := b.js.StreamInfo(config.StreamName); err != nil {
		if _, err := b.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}
	return nil
}

// Publish implements messaging.EventBus. The event id doubles as the
// JetStream message id for deduplication.
func (b *EventBus) Publish(events []domain.Event) error {
	for i := range events {
		event := &events[i]
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to serialize event %s: %w", event.ID, err)
		}
		subject := fmt.Sprintf("%s.%s.%s", subjectPrefix, event.InstanceID, event.AggregateType)
		if _, err := b.js.Publish(subject, data, nats.MsgId(event.ID)); err != nil {
			return fmt.Errorf("failed to publish event %s: %w", event.ID, err)
		}
	}
	return nil
}

// Subscribe implements messaging.EventBus.
func (b *EventBus) Subscribe(filter messaging.EventFilter, handler messaging.EventHandler) (messaging.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	consumerName := "consumer_" + uuid.NewString()[:8]

	sub, err := b.js.QueueSubscribe(
		buildSubject(filter),
		consumerName,
		func(msg *nats.Msg) {
			var event domain.Event
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				msg.Nak()
				return
			}
			// Aggregate-type routing is handled by the subject; event types
			// are filtered here.
			if !filter.Matches(&event) {
				msg.Ack()
				return
			}
			if err := handler(&event); err != nil {
				msg.Nak()
				return
			}
			msg.Ack()
		},
		nats.Durable(consumerName),
		nats.ManualAck(),
		nats.AckExplicit(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}
	b.subs[consumerName] = sub

	return &subscription{bus: b, sub: sub, name: consumerName}, nil
}

func buildSubject(filter messaging.EventFilter) string {
	instance := filter.InstanceID
	if instance == "" {
		instance = "*"
	}
	if len(filter.AggregateTypes) == 1 {
		return fmt.Sprintf("%s.%s.%s", subjectPrefix, instance, filter.AggregateTypes[0])
	}
	return fmt.Sprintf("%s.%s.>", subjectPrefix, instance)
}

// Close implements messaging.EventBus.
func (b *EventBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, sub := range b.subs {
		sub.Unsubscribe()
		delete(b.subs, name)
	}
	b.nc.Close()
	return nil
}

type subscription struct {
	bus  *EventBus
	sub  *nats.Subscription
	name string
}

func (s *subscription) Unsubscribe() error {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	delete(s.bus.subs, s.name)
	return s.sub.Unsubscribe()
}
