package query_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore/sqlite"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
	"github.com/gatehouse-id/gatehouse/pkg/query"
)

type fixture struct {
	store   *sqlite.Store
	engine  *projection.Engine
	queries *query.Queries
	ctx     context.Context
	now     time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	engine := projection.NewEngine(store.DB(), store)
	engine.Register(projection.All()...)

	ctx := context.Background()
	require.NoError(t, engine.Start(ctx))
	engine.Stop()

	f := &fixture{
		store:  store,
		engine: engine,
		ctx:    ctx,
		now:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.queries = query.New(store.DB(), store,
		query.WithProjectionEngine(engine),
		query.WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) push(t *testing.T, aggregateType domain.AggregateType, aggregateID, owner string, currentVersion int64, eventType string, payload any) {
	t.Helper()
	_, err := f.store.Push(f.ctx, &domain.Command{
		Aggregate: domain.Aggregate{
			InstanceID: "inst1",
			Type:       aggregateType,
			ID:         aggregateID,
			Owner:      owner,
		},
		CurrentVersion: currentVersion,
		Type:           eventType,
		Payload:        payload,
		Creator:        "tester",
	})
	require.NoError(t, err)
}

func (f *fixture) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, f.queries.Sync(f.ctx))
}

func TestSearchUsersPagination(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 15; i++ {
		f.push(t, domain.AggregateUser, fmt.Sprintf("u%02d", i), "org1", 0,
			domain.UserAddedType, domain.UserAdded{Username: fmt.Sprintf("user%02d", i)})
	}
	f.sync(t)

	page, total, err := f.queries.SearchUsers(f.ctx, query.UserSearch{
		SearchRequest: query.SearchRequest{Limit: 10, SortBy: "username", Asc: true},
		InstanceID:    "inst1",
	})
	require.NoError(t, err)
	assert.Equal(t, 15, total)
	require.Len(t, page, 10)
	assert.Equal(t, "user00", page[0].Username)
	assert.Equal(t, "user09", page[9].Username)

	page, total, err = f.queries.SearchUsers(f.ctx, query.UserSearch{
		SearchRequest: query.SearchRequest{Limit: 10, Offset: 10, SortBy: "username", Asc: true},
		InstanceID:    "inst1",
	})
	require.NoError(t, err)
	assert.Equal(t, 15, total)
	require.Len(t, page, 5)
	assert.Equal(t, "user10", page[0].Username)
}

func TestSearchRejectsUnknownSortColumn(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.queries.SearchUsers(f.ctx, query.UserSearch{
		SearchRequest: query.SearchRequest{SortBy: "password_hash"},
		InstanceID:    "inst1",
	})
	assert.True(t, errs.IsInvalid(err))

	_, _, err = f.queries.SearchUsers(f.ctx, query.UserSearch{})
	assert.True(t, errs.IsInvalid(err), "missing instance id must be rejected")
}

func TestUserByIDNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.queries.UserByID(f.ctx, "inst1", "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestSearchUsersFilters(t *testing.T) {
	f := newFixture(t)

	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	f.push(t, domain.AggregateUser, "u2", "org2", 0, domain.UserAddedType, domain.UserAdded{Username: "bob"})
	f.push(t, domain.AggregateUser, "u2", "org2", 1, domain.UserDeactivatedType, nil)
	f.sync(t)

	users, total, err := f.queries.SearchUsers(f.ctx, query.UserSearch{
		InstanceID: "inst1", OrgID: "org1",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "alice", users[0].Username)

	users, total, err = f.queries.SearchUsers(f.ctx, query.UserSearch{
		InstanceID: "inst1", State: domain.UserStateInactive,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "bob", users[0].Username)

	users, total, err = f.queries.SearchUsers(f.ctx, query.UserSearch{
		InstanceID: "inst1", UsernameContains: "li",
	})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "alice", users[0].Username)
}

func TestAppLookupsByClientAndEntityID(t *testing.T) {
	f := newFixture(t)

	f.push(t, domain.AggregateApp, "a1", "org1", 0, domain.AppOIDCAddedType, domain.AppOIDCAdded{
		ProjectID: "p1", Name: "web", ClientID: "a1@inst1",
		RedirectURIs: []string{"https://app.example/cb"},
	})
	f.push(t, domain.AggregateApp, "a2", "org1", 0, domain.AppSAMLAddedType, domain.AppSAMLAdded{
		ProjectID: "p1", Name: "legacy", EntityID: "https://sp.example/metadata",
		ACSURL: "https://sp.example/acs",
	})
	f.sync(t)

	app, err := f.queries.AppByClientID(f.ctx, "inst1", "a1@inst1")
	require.NoError(t, err)
	assert.Equal(t, domain.AppTypeOIDC, app.Type)
	assert.Equal(t, []string{"https://app.example/cb"}, app.RedirectURIs)

	app, err = f.queries.AppByEntityID(f.ctx, "inst1", "https://sp.example/metadata")
	require.NoError(t, err)
	assert.Equal(t, domain.AppTypeSAML, app.Type)
	assert.Equal(t, "https://sp.example/acs", app.ACSURL)

	_, err = f.queries.AppByClientID(f.ctx, "inst1", "unknown")
	assert.True(t, errs.IsNotFound(err))
}

func TestIntentByStateHonorsLifecycleAndExpiry(t *testing.T) {
	f := newFixture(t)

	expiresAt := f.now.Add(10 * time.Minute)
	f.push(t, domain.AggregateIDPIntent, "i1", "org1", 0, domain.IDPIntentStartedType,
		domain.IDPIntentStarted{IDPID: "idp1", IDPType: domain.IDPTypeOIDC, State: "state-1", ExpiresAt: expiresAt})
	f.sync(t)

	intent, err := f.queries.IntentByState(f.ctx, "inst1", "state-1")
	require.NoError(t, err)
	assert.Equal(t, "i1", intent.ID)

	// past expiry the state stops resolving
	f.now = f.now.Add(11 * time.Minute)
	_, err = f.queries.IntentByState(f.ctx, "inst1", "state-1")
	assert.True(t, errs.IsNotFound(err))

	// audit lookup still works
	intent, err = f.queries.IntentByID(f.ctx, "inst1", "i1")
	require.NoError(t, err)
	assert.Equal(t, domain.IntentStateStarted, intent.State)

	// succeeded intents never resolve by state
	f.now = f.now.Add(-11 * time.Minute)
	f.push(t, domain.AggregateIDPIntent, "i1", "org1", 1, domain.IDPIntentSucceededType,
		domain.IDPIntentSucceeded{UserID: "u1", ExternalID: "ext"})
	f.sync(t)
	_, err = f.queries.IntentByState(f.ctx, "inst1", "state-1")
	assert.True(t, errs.IsNotFound(err))
}

func TestEventAdminQueries(t *testing.T) {
	f := newFixture(t)

	f.push(t, domain.AggregateOrg, "org1", "org1", 0, domain.OrgAddedType, domain.OrgAdded{Name: "acme"})
	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	f.push(t, domain.AggregateUser, "u1", "org1", 1, domain.UserDeactivatedType, nil)

	events, err := f.queries.SearchEvents(f.ctx, query.EventSearch{
		InstanceID:     "inst1",
		AggregateTypes: []domain.AggregateType{domain.AggregateUser},
	})
	require.NoError(t, err)
	require.Len(t, events, 2)

	types, err := f.queries.EventTypes(f.ctx, "inst1")
	require.NoError(t, err)
	assert.Contains(t, types, domain.OrgAddedType)
	assert.Contains(t, types, domain.UserAddedType)

	aggregates, err := f.queries.AggregateTypes(f.ctx, "inst1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"org", "user"}, aggregates)
}

func TestProjectionAdmin(t *testing.T) {
	f := newFixture(t)

	names, err := f.queries.ListProjections()
	require.NoError(t, err)
	assert.Contains(t, names, projection.UsersProjection)

	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	f.sync(t)

	statuses, err := f.queries.ProjectionHealth(f.ctx, projection.UsersProjection)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Zero(t, statuses[0].Lag)

	_, err = f.queries.ProjectionHealth(f.ctx, "nope")
	assert.True(t, errs.IsNotFound(err))

	summary, err := f.queries.ProjectionHealthSummary(f.ctx)
	require.NoError(t, err)
	assert.True(t, summary.Healthy)
}

func TestOrgByVerifiedDomain(t *testing.T) {
	f := newFixture(t)

	f.push(t, domain.AggregateOrg, "org1", "org1", 0, domain.OrgAddedType, domain.OrgAdded{Name: "acme"})
	f.push(t, domain.AggregateOrg, "org1", "org1", 1, domain.OrgDomainAddedType, domain.OrgDomainAdded{Domain: "acme.example"})
	f.sync(t)

	// unverified domains do not resolve
	_, err := f.queries.OrgByDomain(f.ctx, "inst1", "acme.example")
	assert.True(t, errs.IsNotFound(err))

	f.push(t, domain.AggregateOrg, "org1", "org1", 2, domain.OrgDomainVerifiedType, domain.OrgDomainVerified{Domain: "acme.example"})
	f.sync(t)

	org, err := f.queries.OrgByDomain(f.ctx, "inst1", "acme.example")
	require.NoError(t, err)
	assert.Equal(t, "acme", org.Name)
}
