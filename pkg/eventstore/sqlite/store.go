// Package sqlite implements the eventstore on modernc.org/sqlite. A single
// writer transaction per push gives the required atomicity; WAL mode keeps
// readers concurrent with the writer.
package sqlite

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
	"github.com/gatehouse-id/gatehouse/pkg/id"
)

// Store is the sqlite-backed eventstore.
type Store struct {
	db       *sql.DB
	mu       sync.Mutex // serializes pushes; sqlite allows one writer anyway
	notifier eventstore.Notifier
	now      func() time.Time
}

type storeConfig struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
	notifier     eventstore.Notifier
	now          func() time.Time
}

func defaultStoreConfig() storeConfig {
	return storeConfig{
		dsn:          "gatehouse.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
		now:          time.Now,
	}
}

// Option configures a Store.
type Option func(*storeConfig)

// WithDSN sets the data source name (file path or ":memory:").
func WithDSN(dsn string) Option {
	return func(c *storeConfig) { c.dsn = dsn }
}

// WithMemoryDatabase uses an in-memory database (single connection, WAL off).
func WithMemoryDatabase() Option {
	return func(c *storeConfig) {
		c.dsn = ":memory:"
		c.walMode = false
	}
}

// WithMaxOpenConns sets the maximum number of open connections.
func WithMaxOpenConns(n int) Option {
	return func(c *storeConfig) { c.maxOpenConns = n }
}

// WithWALMode toggles write-ahead logging.
func WithWALMode(enabled bool) Option {
	return func(c *storeConfig) { c.walMode = enabled }
}

// WithAutoMigrate toggles running migrations on startup.
func WithAutoMigrate(enabled bool) Option {
	return func(c *storeConfig) { c.autoMigrate = enabled }
}

// WithNotifier registers a post-commit notifier for pushed events.
func WithNotifier(n eventstore.Notifier) Option {
	return func(c *storeConfig) { c.notifier = n }
}

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *storeConfig) { c.now = now }
}

// New opens (and by default migrates) a sqlite eventstore.
func New(opts ...Option) (*Store, error) {
	config := defaultStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	db, err := sql.Open("sqlite", config.dsn)
	if err != nil {
		return nil, errs.ThrowInternal(err, "SQLITE-open", "failed to open database")
	}

	// In-memory databases are per-connection; force a single one.
	if config.dsn == ":memory:" {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &Store{db: db, notifier: config.notifier, now: config.now}

	if config.walMode {
		if _, err := db.Exec(`PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL; PRAGMA foreign_keys = ON;`); err != nil {
			db.Close()
			return nil, errs.ThrowInternal(err, "SQLITE-wal", "failed to set WAL mode")
		}
	}
	if config.autoMigrate {
		if err := runMigrations(db); err != nil {
			db.Close()
			return nil, errs.ThrowInternal(err, "SQLITE-migrate", "failed to run migrations")
		}
	}
	return store, nil
}

// DB exposes the underlying handle so projections and queries can share the
// database (and its transactions) with the eventstore.
func (s *Store) DB() *sql.DB { return s.db }

// SetNotifier installs the post-commit notifier after construction. Used when
// the bus is wired later than the store.
func (s *Store) SetNotifier(n eventstore.Notifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

func (s *Store) Close() error { return s.db.Close() }

// Push implements eventstore.EventStore.
func (s *Store) Push(ctx context.Context, commands ...*domain.Command) ([]domain.Event, error) {
	if len(commands) == 0 {
		return nil, nil
	}
	if err := validateBatch(commands); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.ThrowTimeout(err, "SQLITE-push-ctx", "context done before push")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.ThrowInternal(err, "SQLITE-push-begin", "failed to begin transaction")
	}
	defer tx.Rollback()

	instanceID := commands[0].Aggregate.InstanceID

	// Assign versions per aggregate under optimistic concurrency.
	versions := make(map[string]int64)
	for _, cmd := range commands {
		aggID := cmd.Aggregate.ID
		if _, loaded := versions[aggID]; !loaded {
			current, err := s.aggregateVersion(ctx, tx, instanceID, aggID)
			if err != nil {
				return nil, err
			}
			if current != cmd.CurrentVersion {
				return nil, errs.ThrowConcurrencyConflict(nil, "SQLITE-push-conflict",
					"aggregate %s is at version %d, expected %d", aggID, current, cmd.CurrentVersion)
			}
			versions[aggID] = current
		}
	}

	// Reserve a contiguous position range for the batch.
	position, err := s.nextPosition(ctx, tx, instanceID, len(commands))
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	events := make([]domain.Event, len(commands))
	for i, cmd := range commands {
		if err := s.applyConstraints(ctx, tx, cmd); err != nil {
			return nil, err
		}

		versions[cmd.Aggregate.ID]++
		payload, err := cmd.MarshalPayload()
		if err != nil {
			return nil, err
		}

		events[i] = domain.Event{
			ID:            id.NewEventID(),
			InstanceID:    instanceID,
			AggregateType: cmd.Aggregate.Type,
			AggregateID:   cmd.Aggregate.ID,
			Version:       versions[cmd.Aggregate.ID],
			Type:          cmd.Type,
			Payload:       payload,
			Creator:       cmd.Creator,
			Owner:         cmd.Aggregate.Owner,
			CreatedAt:     now,
			Position:      position + int64(i),
		}

		if err := insertEvent(ctx, tx, &events[i]); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.ThrowInternal(err, "SQLITE-push-commit", "failed to commit push")
	}

	if s.notifier != nil {
		s.notifier(ctx, events)
	}
	return events, nil
}

// validateBatch enforces single-instance batches and per-aggregate
// consistency of the claimed current version.
func validateBatch(commands []*domain.Command) error {
	instanceID := commands[0].Aggregate.InstanceID
	expected := make(map[string]int64)
	for _, cmd := range commands {
		if cmd.Aggregate.InstanceID == "" || cmd.Aggregate.ID == "" || cmd.Type == "" {
			return errs.ThrowInvalid(nil, "SQLITE-push-cmd", "command misses aggregate coordinates or type")
		}
		if cmd.Aggregate.InstanceID != instanceID {
			return errs.ThrowInvalid(nil, "SQLITE-push-instance", "push batch spans multiple instances")
		}
		if v, ok := expected[cmd.Aggregate.ID]; ok && v != cmd.CurrentVersion {
			return errs.ThrowInvalid(nil, "SQLITE-push-contiguous",
				"commands for aggregate %s do not form a contiguous batch", cmd.Aggregate.ID)
		}
		expected[cmd.Aggregate.ID] = cmd.CurrentVersion
	}
	return nil
}

func (s *Store) aggregateVersion(ctx context.Context, tx *sql.Tx, instanceID, aggregateID string) (int64, error) {
	var version int64
	err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(aggregate_version), 0) FROM events WHERE instance_id = ? AND aggregate_id = ?`,
		instanceID, aggregateID,
	).Scan(&version)
	if err != nil {
		return 0, errs.ThrowInternal(err, "SQLITE-version", "failed to read aggregate version")
	}
	return version, nil
}

func (s *Store) nextPosition(ctx context.Context, tx *sql.Tx, instanceID string, n int) (int64, error) {
	var current int64
	err := tx.QueryRowContext(ctx,
		`SELECT position FROM positions WHERE instance_id = ?`, instanceID,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows {
		return 0, errs.ThrowInternal(err, "SQLITE-pos-read", "failed to read position")
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO positions (instance_id, position) VALUES (?, ?)
		ON CONFLICT (instance_id) DO UPDATE SET position = excluded.position`,
		instanceID, current+int64(n),
	); err != nil {
		return 0, errs.ThrowInternal(err, "SQLITE-pos-write", "failed to advance position")
	}
	return current + 1, nil
}

func (s *Store) applyConstraints(ctx context.Context, tx *sql.Tx, cmd *domain.Command) error {
	for _, constraint := range cmd.Constraints {
		switch constraint.Op {
		case domain.ConstraintClaim:
			var owner string
			err := tx.QueryRowContext(ctx,
				`SELECT aggregate_id FROM unique_constraints WHERE instance_id = ? AND index_name = ? AND value = ?`,
				cmd.Aggregate.InstanceID, constraint.Index, constraint.Value,
			).Scan(&owner)
			if err == nil {
				return errs.ThrowAlreadyExists(nil, "SQLITE-constraint",
					"%s %q is already taken", constraint.Index, constraint.Value)
			}
			if err != sql.ErrNoRows {
				return errs.ThrowInternal(err, "SQLITE-constraint-check", "failed to check constraint")
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO unique_constraints (instance_id, index_name, value, aggregate_id, created_at)
				 VALUES (?, ?, ?, ?, ?)`,
				cmd.Aggregate.InstanceID, constraint.Index, constraint.Value, cmd.Aggregate.ID, s.now().UnixNano(),
			); err != nil {
				return errs.ThrowInternal(err, "SQLITE-constraint-claim", "failed to claim constraint")
			}

		case domain.ConstraintRelease:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM unique_constraints WHERE instance_id = ? AND index_name = ? AND value = ?`,
				cmd.Aggregate.InstanceID, constraint.Index, constraint.Value,
			); err != nil {
				return errs.ThrowInternal(err, "SQLITE-constraint-release", "failed to release constraint")
			}

		case domain.ConstraintReleaseAll:
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM unique_constraints WHERE instance_id = ? AND index_name = ? AND aggregate_id = ?`,
				cmd.Aggregate.InstanceID, constraint.Index, cmd.Aggregate.ID,
			); err != nil {
				return errs.ThrowInternal(err, "SQLITE-constraint-release-all", "failed to release constraints")
			}

		default:
			return errs.ThrowInvalid(nil, "SQLITE-constraint-op", "unknown constraint operation %q", constraint.Op)
		}
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (
			event_id, instance_id, aggregate_type, aggregate_id, aggregate_version,
			event_type, payload, creator, owner, created_at, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID, event.InstanceID, string(event.AggregateType), event.AggregateID, event.Version,
		event.Type, event.Payload, event.Creator, event.Owner, event.CreatedAt.UnixNano(), event.Position,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return errs.ThrowConcurrencyConflict(err, "SQLITE-insert-conflict",
				"aggregate %s version %d already exists", event.AggregateID, event.Version)
		}
		return errs.ThrowInternal(err, "SQLITE-insert", "failed to insert event")
	}
	return nil
}

// Filter implements eventstore.EventStore.
func (s *Store) Filter(ctx context.Context, query *eventstore.SearchQuery) ([]domain.Event, error) {
	if query == nil || query.InstanceID == "" {
		return nil, errs.ThrowInvalid(nil, "SQLITE-filter-instance", "search query requires an instance id")
	}

	var sb strings.Builder
	sb.WriteString(`SELECT event_id, instance_id, aggregate_type, aggregate_id, aggregate_version,
		event_type, payload, creator, owner, created_at, position
		FROM events WHERE instance_id = ?`)
	args := []any{query.InstanceID}

	if len(query.AggregateTypes) > 0 {
		sb.WriteString(` AND aggregate_type IN (` + placeholders(len(query.AggregateTypes)) + `)`)
		for _, at := range query.AggregateTypes {
			args = append(args, string(at))
		}
	}
	if len(query.AggregateIDs) > 0 {
		sb.WriteString(` AND aggregate_id IN (` + placeholders(len(query.AggregateIDs)) + `)`)
		for _, aid := range query.AggregateIDs {
			args = append(args, aid)
		}
	}
	if len(query.EventTypes) > 0 {
		sb.WriteString(` AND event_type IN (` + placeholders(len(query.EventTypes)) + `)`)
		for _, et := range query.EventTypes {
			args = append(args, et)
		}
	}
	if query.MinPosition > 0 {
		sb.WriteString(` AND position > ?`)
		args = append(args, query.MinPosition)
	}
	if query.MaxPosition > 0 {
		sb.WriteString(` AND position <= ?`)
		args = append(args, query.MaxPosition)
	}
	if !query.CreatedAfter.IsZero() {
		sb.WriteString(` AND created_at > ?`)
		args = append(args, query.CreatedAfter.UnixNano())
	}
	if !query.CreatedBefore.IsZero() {
		sb.WriteString(` AND created_at < ?`)
		args = append(args, query.CreatedBefore.UnixNano())
	}

	if query.Desc {
		sb.WriteString(` ORDER BY position DESC`)
	} else {
		sb.WriteString(` ORDER BY position ASC`)
	}
	if query.Limit > 0 {
		sb.WriteString(` LIMIT ?`)
		args = append(args, query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errs.ThrowInternal(err, "SQLITE-filter", "failed to query events")
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			event     domain.Event
			aggType   string
			createdAt int64
		)
		if err := rows.Scan(
			&event.ID, &event.InstanceID, &aggType, &event.AggregateID, &event.Version,
			&event.Type, &event.Payload, &event.Creator, &event.Owner, &createdAt, &event.Position,
		); err != nil {
			return nil, errs.ThrowInternal(err, "SQLITE-filter-scan", "failed to scan event")
		}
		event.AggregateType = domain.AggregateType(aggType)
		event.CreatedAt = time.Unix(0, createdAt).UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "SQLITE-filter-rows", "failed to iterate events")
	}
	return events, nil
}

// LatestPosition implements eventstore.EventStore.
func (s *Store) LatestPosition(ctx context.Context, instanceID string) (int64, error) {
	var position int64
	err := s.db.QueryRowContext(ctx,
		`SELECT position FROM positions WHERE instance_id = ?`, instanceID,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errs.ThrowInternal(err, "SQLITE-latest", "failed to read latest position")
	}
	return position, nil
}

// EventTypes implements eventstore.EventStore.
func (s *Store) EventTypes(ctx context.Context, instanceID string) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT event_type FROM events WHERE instance_id = ? ORDER BY event_type`, instanceID)
}

// AggregateTypes implements eventstore.EventStore.
func (s *Store) AggregateTypes(ctx context.Context, instanceID string) ([]string, error) {
	return s.distinct(ctx, `SELECT DISTINCT aggregate_type FROM events WHERE instance_id = ? ORDER BY aggregate_type`, instanceID)
}

// Instances implements eventstore.EventStore.
func (s *Store) Instances(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT instance_id FROM positions ORDER BY instance_id`)
	if err != nil {
		return nil, errs.ThrowInternal(err, "SQLITE-instances", "failed to query instances")
	}
	defer rows.Close()

	var instances []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errs.ThrowInternal(err, "SQLITE-instances-scan", "failed to scan instance id")
		}
		instances = append(instances, id)
	}
	return instances, rows.Err()
}

func (s *Store) distinct(ctx context.Context, query, instanceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, instanceID)
	if err != nil {
		return nil, errs.ThrowInternal(err, "SQLITE-distinct", "failed to query distinct values")
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errs.ThrowInternal(err, "SQLITE-distinct-scan", "failed to scan value")
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
