package sqlite_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func userCommand(aggregateID string, currentVersion int64, eventType string, payload any) *domain.Command {
	return &domain.Command{
		Aggregate: domain.Aggregate{
			InstanceID: "inst1",
			Type:       domain.AggregateUser,
			ID:         aggregateID,
			Owner:      "org1",
		},
		CurrentVersion: currentVersion,
		Type:           eventType,
		Payload:        payload,
		Creator:        "tester",
	}
}

func TestPushAssignsVersionsAndPositions(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	events, err := store.Push(ctx,
		userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"}),
		userCommand("u1", 0, domain.UserEmailChangedType, domain.UserEmailChanged{Email: "alice@ex.com"}),
	)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, int64(1), events[0].Version)
	assert.Equal(t, int64(2), events[1].Version)
	assert.Equal(t, int64(1), events[0].Position)
	assert.Equal(t, int64(2), events[1].Position)
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].CreatedAt.IsZero())

	pos, err := store.LatestPosition(ctx, "inst1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), pos)
}

func TestAppendThenQueryRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	pushed, err := store.Push(ctx,
		userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"}),
		userCommand("u1", 0, domain.UserUsernameChangedType, domain.UserUsernameChanged{Username: "alice2"}),
		userCommand("u1", 0, domain.UserDeactivatedType, nil),
	)
	require.NoError(t, err)

	loaded, err := store.Filter(ctx, eventstore.NewSearchQuery("inst1").
		WithAggregate(domain.AggregateUser, "u1"))
	require.NoError(t, err)
	require.Len(t, loaded, len(pushed))
	for i := range pushed {
		assert.Equal(t, pushed[i].ID, loaded[i].ID)
		assert.Equal(t, pushed[i].Type, loaded[i].Type)
		assert.Equal(t, pushed[i].Version, loaded[i].Version)
		assert.Equal(t, pushed[i].Position, loaded[i].Position)
		assert.Equal(t, pushed[i].Payload, loaded[i].Payload)
	}
}

func TestConcurrencyConflict(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Push(ctx, userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"}))
	require.NoError(t, err)

	// Both writers read version 1 and try to append version 2.
	_, err = store.Push(ctx, userCommand("u1", 1, domain.UserDeactivatedType, nil))
	require.NoError(t, err)

	_, err = store.Push(ctx, userCommand("u1", 1, domain.UserLockedType, nil))
	require.Error(t, err)
	assert.True(t, errs.IsConcurrencyConflict(err))

	// Retry with the reloaded version succeeds at version 3.
	events, err := store.Push(ctx, userCommand("u1", 2, domain.UserLockedType, nil))
	require.NoError(t, err)
	assert.Equal(t, int64(3), events[0].Version)
}

func TestConcurrentPushOneWins(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Push(ctx, userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"}))
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, results[i] = store.Push(ctx, userCommand("u1", 1, domain.UserDeactivatedType, nil))
		}(i)
	}
	wg.Wait()

	conflicts := 0
	for _, err := range results {
		if err != nil {
			assert.True(t, errs.IsConcurrencyConflict(err))
			conflicts++
		}
	}
	assert.Equal(t, 1, conflicts, "exactly one push must conflict")
}

func TestPositionsStrictlyIncreasingPerInstance(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Push(ctx, userCommand("u1", int64(i), domain.UserProfileChangedType, nil))
		require.NoError(t, err)
	}

	events, err := store.Filter(ctx, eventstore.NewSearchQuery("inst1"))
	require.NoError(t, err)
	require.Len(t, events, 10)
	for i := 1; i < len(events); i++ {
		assert.Equal(t, events[i-1].Position+1, events[i].Position)
		assert.Equal(t, events[i-1].Version+1, events[i].Version)
	}
}

func TestCrossAggregateBatchIsAtomic(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	orgCmd := &domain.Command{
		Aggregate: domain.Aggregate{InstanceID: "inst1", Type: domain.AggregateOrg, ID: "o1", Owner: "o1"},
		Type:      domain.OrgAddedType,
		Payload:   domain.OrgAdded{Name: "acme"},
		Creator:   "tester",
	}
	// Second command collides on the username constraint, so the whole batch
	// must roll back.
	claimed := userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	claimed.Constraints = []domain.UniqueConstraint{domain.NewClaim(domain.UniqueUsername, "org1:alice")}

	_, err := store.Push(ctx, claimed)
	require.NoError(t, err)

	dup := userCommand("u2", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	dup.Constraints = []domain.UniqueConstraint{domain.NewClaim(domain.UniqueUsername, "org1:alice")}

	_, err = store.Push(ctx, orgCmd, dup)
	require.Error(t, err)
	assert.True(t, errs.IsAlreadyExists(err))

	events, err := store.Filter(ctx, eventstore.NewSearchQuery("inst1").WithAggregate(domain.AggregateOrg, "o1"))
	require.NoError(t, err)
	assert.Empty(t, events, "org event must not persist when the batch fails")
}

func TestConstraintReleaseAllowsReclaim(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	claim := userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	claim.Constraints = []domain.UniqueConstraint{domain.NewClaim(domain.UniqueUsername, "org1:alice")}
	_, err := store.Push(ctx, claim)
	require.NoError(t, err)

	release := userCommand("u1", 1, domain.UserRemovedType, nil)
	release.Constraints = []domain.UniqueConstraint{domain.NewReleaseAll(domain.UniqueUsername)}
	_, err = store.Push(ctx, release)
	require.NoError(t, err)

	reclaim := userCommand("u2", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	reclaim.Constraints = []domain.UniqueConstraint{domain.NewClaim(domain.UniqueUsername, "org1:alice")}
	_, err = store.Push(ctx, reclaim)
	assert.NoError(t, err)
}

func TestFilterByEventTypesAndPosition(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Push(ctx,
		userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"}),
		userCommand("u1", 0, domain.UserDeactivatedType, nil),
		userCommand("u1", 0, domain.UserReactivatedType, nil),
	)
	require.NoError(t, err)

	events, err := store.Filter(ctx, eventstore.NewSearchQuery("inst1").
		WithEventTypes(domain.UserDeactivatedType, domain.UserReactivatedType))
	require.NoError(t, err)
	require.Len(t, events, 2)

	events, err = store.Filter(ctx, eventstore.NewSearchQuery("inst1").AfterPosition(2))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.UserReactivatedType, events[0].Type)

	events, err = store.Filter(ctx, eventstore.NewSearchQuery("inst1").WithLimit(1))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(1), events[0].Position)
}

func TestInstancesAreIsolated(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	cmd := userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	_, err := store.Push(ctx, cmd)
	require.NoError(t, err)

	other := userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	other.Aggregate.InstanceID = "inst2"
	_, err = store.Push(ctx, other)
	require.NoError(t, err, "same aggregate id in another instance is independent")

	pos1, err := store.LatestPosition(ctx, "inst1")
	require.NoError(t, err)
	pos2, err := store.LatestPosition(ctx, "inst2")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pos1)
	assert.Equal(t, int64(1), pos2)
}

func TestNotifierReceivesCommittedEvents(t *testing.T) {
	var (
		mu       sync.Mutex
		received []domain.Event
	)
	store, err := sqlite.New(
		sqlite.WithMemoryDatabase(),
		sqlite.WithNotifier(func(_ context.Context, events []domain.Event) {
			mu.Lock()
			defer mu.Unlock()
			received = append(received, events...)
		}),
	)
	require.NoError(t, err)
	defer store.Close()

	_, err = store.Push(context.Background(), userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"}))
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	assert.Equal(t, domain.UserAddedType, received[0].Type)
}

func TestDistinctTypes(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	_, err := store.Push(ctx,
		userCommand("u1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"}),
		userCommand("u1", 0, domain.UserDeactivatedType, nil),
	)
	require.NoError(t, err)

	eventTypes, err := store.EventTypes(ctx, "inst1")
	require.NoError(t, err)
	assert.Equal(t, []string{domain.UserAddedType, domain.UserDeactivatedType}, eventTypes)

	aggregateTypes, err := store.AggregateTypes(ctx, "inst1")
	require.NoError(t, err)
	assert.Equal(t, []string{"user"}, aggregateTypes)
}

func TestPushBatchSpanningInstancesRejected(t *testing.T) {
	store := newStore(t)

	a := userCommand("u1", 0, domain.UserAddedType, nil)
	b := userCommand("u2", 0, domain.UserAddedType, nil)
	b.Aggregate.InstanceID = "inst2"

	_, err := store.Push(context.Background(), a, b)
	assert.True(t, errs.IsInvalid(err))
}
