package messaging_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/messaging"
)

func event(instanceID string, aggregateType domain.AggregateType, eventType string) domain.Event {
	return domain.Event{
		ID:            "evt-" + eventType,
		InstanceID:    instanceID,
		AggregateType: aggregateType,
		AggregateID:   "agg1",
		Type:          eventType,
	}
}

func TestFilterMatches(t *testing.T) {
	evt := event("inst1", domain.AggregateUser, domain.UserAddedType)

	tests := []struct {
		name   string
		filter messaging.EventFilter
		want   bool
	}{
		{"empty matches all", messaging.EventFilter{}, true},
		{"instance match", messaging.EventFilter{InstanceID: "inst1"}, true},
		{"instance mismatch", messaging.EventFilter{InstanceID: "inst2"}, false},
		{"aggregate match", messaging.EventFilter{AggregateTypes: []domain.AggregateType{domain.AggregateUser}}, true},
		{"aggregate mismatch", messaging.EventFilter{AggregateTypes: []domain.AggregateType{domain.AggregateOrg}}, false},
		{"event type match", messaging.EventFilter{EventTypes: []string{domain.UserAddedType}}, true},
		{"event type mismatch", messaging.EventFilter{EventTypes: []string{domain.UserRemovedType}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(&evt))
		})
	}
}

func TestFilterMatchesLegacyNames(t *testing.T) {
	legacy := event("inst1", domain.AggregateUser, "user.created")
	filter := messaging.EventFilter{EventTypes: []string{domain.UserAddedType}}

	assert.True(t, filter.Matches(&legacy), "legacy event name matches canonical filter")

	versioned := event("inst1", domain.AggregateUser, "user.v2.email.changed")
	filter = messaging.EventFilter{EventTypes: []string{domain.UserEmailChangedType}}
	assert.True(t, filter.Matches(&versioned))
}

func TestInMemoryBusDeliversToMatchingSubscribers(t *testing.T) {
	bus := messaging.NewInMemoryBus()
	defer bus.Close()

	var userEvents, orgEvents []string
	_, err := bus.Subscribe(messaging.EventFilter{AggregateTypes: []domain.AggregateType{domain.AggregateUser}},
		func(e *domain.Event) error {
			userEvents = append(userEvents, e.Type)
			return nil
		})
	require.NoError(t, err)
	_, err = bus.Subscribe(messaging.EventFilter{AggregateTypes: []domain.AggregateType{domain.AggregateOrg}},
		func(e *domain.Event) error {
			orgEvents = append(orgEvents, e.Type)
			return nil
		})
	require.NoError(t, err)

	require.NoError(t, bus.Publish([]domain.Event{
		event("inst1", domain.AggregateUser, domain.UserAddedType),
		event("inst1", domain.AggregateOrg, domain.OrgAddedType),
		event("inst1", domain.AggregateUser, domain.UserRemovedType),
	}))

	assert.Equal(t, []string{domain.UserAddedType, domain.UserRemovedType}, userEvents)
	assert.Equal(t, []string{domain.OrgAddedType}, orgEvents)
}

func TestInMemoryBusUnsubscribe(t *testing.T) {
	bus := messaging.NewInMemoryBus()
	defer bus.Close()

	var count int
	sub, err := bus.Subscribe(messaging.EventFilter{}, func(e *domain.Event) error {
		count++
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish([]domain.Event{event("inst1", domain.AggregateUser, domain.UserAddedType)}))
	require.NoError(t, sub.Unsubscribe())
	require.NoError(t, bus.Publish([]domain.Event{event("inst1", domain.AggregateUser, domain.UserRemovedType)}))

	assert.Equal(t, 1, count)
}
