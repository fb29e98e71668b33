package projection_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore/sqlite"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
)

type fixture struct {
	store  *sqlite.Store
	engine *projection.Engine
	ctx    context.Context
	now    time.Time
}

// newFixture starts the engine once for table creation and the initial
// catch-up, then stops the tail loops so tests drive progress with Sync.
// A single reduce failure already flips the cursor to unhealthy.
func newFixture(t *testing.T, handlers ...projection.Handler) *fixture {
	t.Helper()
	store, err := sqlite.New(sqlite.WithMemoryDatabase())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	f := &fixture{ctx: context.Background(), now: time.Now()}
	f.store = store
	f.engine = projection.NewEngine(store.DB(), store,
		projection.WithConfig(projection.Config{BatchSize: 10, FailureThreshold: 1}),
		projection.WithClock(func() time.Time { return f.now }))
	if len(handlers) == 0 {
		handlers = projection.All()
	}
	f.engine.Register(handlers...)

	require.NoError(t, f.engine.Start(f.ctx))
	f.engine.Stop()
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
	require.NoError(t, f.engine.Sync(f.ctx))
}

func (f *fixture) count(t *testing.T, query string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, f.store.DB().QueryRow(query, args...).Scan(&n))
	return n
}

func (f *fixture) scanString(t *testing.T, query string, args ...any) string {
	t.Helper()
	var s string
	require.NoError(t, f.store.DB().QueryRow(query, args...).Scan(&s))
	return s
}

func TestCatchUpSpansBatches(t *testing.T) {
	f := newFixture(t, projection.NewUsers())

	for i := 0; i < 25; i++ {
		f.push(t, domain.AggregateUser, fmt.Sprintf("u%d", i), "org1", 0,
			domain.UserAddedType, domain.UserAdded{Username: fmt.Sprintf("user%d", i)})
	}
	f.sync(t)

	assert.Equal(t, 25, f.count(t, `SELECT COUNT(*) FROM users`))

	statuses, err := f.engine.Health(f.ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Zero(t, statuses[0].Lag)
	assert.Equal(t, int64(25), statuses[0].Position)
}

func TestReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, projection.NewUsers(), projection.NewOrgs())

	f.push(t, domain.AggregateOrg, "org1", "org1", 0, domain.OrgAddedType, domain.OrgAdded{Name: "acme"})
	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	f.push(t, domain.AggregateUser, "u1", "org1", 1, domain.UserDeactivatedType, nil)
	f.sync(t)

	// wipe the cursors and replay the full log
	_, err := f.store.DB().Exec(`DELETE FROM projection_cursors`)
	require.NoError(t, err)
	f.sync(t)

	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM orgs`))
	assert.Equal(t, "inactive", f.scanString(t, `SELECT state FROM users WHERE id = 'u1'`))
}

func TestOrgRemovedCascades(t *testing.T) {
	f := newFixture(t)

	f.push(t, domain.AggregateOrg, "org1", "org1", 0, domain.OrgAddedType, domain.OrgAdded{Name: "acme"})
	f.push(t, domain.AggregateOrg, "org1", "org1", 1, domain.OrgDomainAddedType, domain.OrgDomainAdded{Domain: "acme.example"})
	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	f.push(t, domain.AggregateProject, "p1", "org1", 0, domain.ProjectAddedType, domain.ProjectAdded{Name: "crm"})
	f.sync(t)

	require.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM projects`))
	require.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM org_domains`))

	f.push(t, domain.AggregateOrg, "org1", "org1", 2, domain.OrgRemovedType, nil)
	f.sync(t)

	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM orgs`))
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM org_domains`))
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM projects`))
	// user rows survive for audit, marked deleted
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM users`))
	assert.Equal(t, "deleted", f.scanString(t, `SELECT state FROM users WHERE id = 'u1'`))
}

// flakyHandler fails on one event type; everything else lands in its table.
type flakyHandler struct {
	failOn string
}

func (*flakyHandler) Name() string { return "flaky" }

func (*flakyHandler) Init(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS flaky_events (event_id TEXT PRIMARY KEY)`)
	return err
}

func (h *flakyHandler) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	if domain.Normalize(event.Type) == h.failOn {
		return errs.ThrowInternal(nil, "TEST-flaky", "cannot handle %s", event.Type)
	}
	_, err := tx.ExecContext(ctx,
		`INSERT INTO flaky_events (event_id) VALUES (?) ON CONFLICT DO NOTHING`, event.ID)
	return err
}

func TestReducerFailureHoldsCursor(t *testing.T) {
	f := newFixture(t, &flakyHandler{failOn: domain.UserDeactivatedType}, projection.NewUsers())

	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	f.push(t, domain.AggregateUser, "u1", "org1", 1, domain.UserDeactivatedType, nil)
	f.push(t, domain.AggregateUser, "u1", "org1", 2, domain.UserReactivatedType, nil)

	err := f.engine.Sync(f.ctx)
	require.Error(t, err)

	// the failing batch rolled back: nothing landed and the cursor held
	assert.Zero(t, f.count(t, `SELECT COUNT(*) FROM flaky_events`))
	assert.Zero(t, f.count(t,
		`SELECT position FROM projection_cursors WHERE projection_name = 'flaky'`))
	assert.Equal(t, 1, f.count(t,
		`SELECT failure_count FROM projection_cursors WHERE projection_name = 'flaky'`))
	assert.Contains(t, f.scanString(t,
		`SELECT last_error FROM projection_cursors WHERE projection_name = 'flaky'`), "TEST-flaky")
	assert.Equal(t, domain.UserDeactivatedType, f.scanString(t,
		`SELECT event_type FROM projection_failed_events WHERE projection_name = 'flaky'`))

	// the other projection is not blocked and fully caught up
	assert.Equal(t, "active", f.scanString(t, `SELECT state FROM users WHERE id = 'u1'`))
	assert.Equal(t, 3, f.count(t,
		`SELECT position FROM projection_cursors WHERE projection_name = 'users'`))

	// a retry fails again without moving the cursor
	require.Error(t, f.engine.Sync(f.ctx))
	assert.Zero(t, f.count(t,
		`SELECT position FROM projection_cursors WHERE projection_name = 'flaky'`))
	assert.Equal(t, 2, f.count(t,
		`SELECT failure_count FROM projection_cursors WHERE projection_name = 'flaky'`))

	statuses, err := f.engine.Health(f.ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 2)
	byName := map[string]projection.Status{}
	for _, status := range statuses {
		byName[status.Projection] = status
	}
	assert.False(t, byName["flaky"].Healthy)
	assert.Equal(t, 2, byName["flaky"].FailureCount)
	assert.Equal(t, 1, byName["flaky"].FailedEvents)
	assert.True(t, byName["users"].Healthy)

	summary, err := f.engine.HealthSummary(f.ctx)
	require.NoError(t, err)
	assert.False(t, summary.Healthy)
	assert.Equal(t, 1, summary.Unhealthy)
}

func TestHealthReportsLagUntilSync(t *testing.T) {
	f := newFixture(t, projection.NewUsers())

	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "alice"})
	f.push(t, domain.AggregateUser, "u2", "org1", 0, domain.UserAddedType, domain.UserAdded{Username: "bob"})

	// a minute later the unprocessed events are a minute old
	f.now = f.now.Add(time.Minute)
	statuses, err := f.engine.Health(f.ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Zero(t, statuses[0].Position)
	assert.Equal(t, int64(2), statuses[0].Latest)
	assert.Greater(t, statuses[0].Lag, 30*time.Second)
	assert.False(t, statuses[0].Healthy, "lag above the threshold is unhealthy")

	f.sync(t)

	summary, err := f.engine.HealthSummary(f.ctx)
	require.NoError(t, err)
	assert.True(t, summary.Healthy)
	assert.Zero(t, summary.MaxLag)
	assert.Zero(t, summary.Unhealthy)
}

func TestIntentProjectionTracksLifecycle(t *testing.T) {
	f := newFixture(t, projection.NewIDPIntents())

	f.push(t, domain.AggregateIDPIntent, "intent1", "org1", 0, domain.IDPIntentStartedType,
		domain.IDPIntentStarted{IDPID: "idp1", IDPType: domain.IDPTypeOIDC, State: "state-token-1"})
	f.sync(t)

	assert.Equal(t, "started", f.scanString(t, `SELECT state FROM idp_intents WHERE id = 'intent1'`))
	assert.Equal(t, "intent1", f.scanString(t,
		`SELECT id FROM idp_intents WHERE state_token = 'state-token-1'`))

	f.push(t, domain.AggregateIDPIntent, "intent1", "org1", 1, domain.IDPIntentSucceededType,
		domain.IDPIntentSucceeded{UserID: "u1", ExternalID: "ext1"})
	f.sync(t)

	assert.Equal(t, "succeeded", f.scanString(t, `SELECT state FROM idp_intents WHERE id = 'intent1'`))
	assert.Equal(t, "u1", f.scanString(t, `SELECT user_id FROM idp_intents WHERE id = 'intent1'`))
}

func TestUserRemovalTerminatesSessions(t *testing.T) {
	f := newFixture(t, projection.NewSessions())

	f.push(t, domain.AggregateSession, "s1", "org1", 0, domain.SessionAddedType,
		domain.SessionAdded{UserID: "u1", SessionIndex: "idx1"})
	f.push(t, domain.AggregateSession, "s2", "org1", 0, domain.SessionAddedType,
		domain.SessionAdded{UserID: "u2"})
	f.push(t, domain.AggregateUser, "u1", "org1", 0, domain.UserRemovedType, nil)
	f.sync(t)

	assert.Equal(t, "terminated", f.scanString(t, `SELECT state FROM sessions WHERE id = 's1'`))
	assert.Equal(t, "active", f.scanString(t, `SELECT state FROM sessions WHERE id = 's2'`))
}

func TestTargetRemovalPrunesExecutions(t *testing.T) {
	f := newFixture(t, projection.NewExecutions(), projection.NewTargets())

	f.push(t, domain.AggregateExecution, "event-user.added", "inst1", 0, domain.ExecutionSetType,
		domain.ExecutionSet{Targets: []domain.ExecutionTarget{
			{Type: domain.ExecutionTargetTypeTarget, TargetID: "t1"},
			{Type: domain.ExecutionTargetTypeInclude, IncludeID: "event-all"},
		}})
	f.push(t, domain.AggregateExecution, "event-all", "inst1", 0, domain.ExecutionSetType,
		domain.ExecutionSet{Targets: []domain.ExecutionTarget{
			{Type: domain.ExecutionTargetTypeTarget, TargetID: "t1"},
		}})
	f.sync(t)

	require.Equal(t, 2, f.count(t, `SELECT COUNT(*) FROM executions`))

	f.push(t, domain.AggregateTarget, "t1", "inst1", 0, domain.TargetRemovedType, nil)
	f.sync(t)

	// the execution left with only the include survives, the emptied one is gone
	assert.Equal(t, 1, f.count(t, `SELECT COUNT(*) FROM executions`))
	assert.Equal(t, `[{"type":"include","includeId":"event-all"}]`, f.scanString(t,
		`SELECT targets FROM executions WHERE id = 'event-user.added'`))
}
