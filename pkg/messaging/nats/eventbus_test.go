package nats_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/messaging"
	gnats "github.com/gatehouse-id/gatehouse/pkg/messaging/nats"
)

func startBus(t *testing.T) *gnats.EventBus {
	t.Helper()

	srv, err := gnats.StartEmbeddedServer(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(srv.Shutdown)

	config := gnats.DefaultConfig()
	config.URL = srv.URL()
	bus, err := gnats.NewEventBus(config)
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus
}

func TestPublishSubscribeRoundTrip(t *testing.T) {
	bus := startBus(t)

	received := make(chan *domain.Event, 4)
	_, err := bus.Subscribe(messaging.EventFilter{
		InstanceID:     "inst1",
		AggregateTypes: []domain.AggregateType{domain.AggregateUser},
	}, func(e *domain.Event) error {
		received <- e
		return nil
	})
	require.NoError(t, err)

	events := []domain.Event{
		{
			ID:            "evt-1",
			InstanceID:    "inst1",
			AggregateType: domain.AggregateUser,
			AggregateID:   "u1",
			Version:       1,
			Type:          domain.UserAddedType,
			Payload:       []byte(`{"username":"alice"}`),
			CreatedAt:     time.Now().UTC(),
			Position:      1,
		},
		{
			ID:            "evt-2",
			InstanceID:    "inst1",
			AggregateType: domain.AggregateOrg,
			AggregateID:   "o1",
			Version:       1,
			Type:          domain.OrgAddedType,
			Position:      2,
		},
	}
	require.NoError(t, bus.Publish(events))

	select {
	case e := <-received:
		assert.Equal(t, "evt-1", e.ID)
		assert.Equal(t, domain.UserAddedType, e.Type)
		assert.JSONEq(t, `{"username":"alice"}`, string(e.Payload))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
	}

	// The org event must not reach the user subscription.
	select {
	case e := <-received:
		t.Fatalf("unexpected event %s", e.ID)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEventTypeFilteredClientSide(t *testing.T) {
	bus := startBus(t)

	received := make(chan string, 4)
	_, err := bus.Subscribe(messaging.EventFilter{
		InstanceID: "inst1",
		EventTypes: []string{domain.UserRemovedType},
	}, func(e *domain.Event) error {
		received <- e.Type
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, bus.Publish([]domain.Event{
		{ID: "a", InstanceID: "inst1", AggregateType: domain.AggregateUser, Type: domain.UserAddedType},
		{ID: "b", InstanceID: "inst1", AggregateType: domain.AggregateUser, Type: domain.UserRemovedType},
	}))

	select {
	case got := <-received:
		assert.Equal(t, domain.UserRemovedType, got)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for filtered event")
	}
}
