// Package query is the read side: typed accessors over the projection
// tables plus event-log and projection administration. All methods are
// read-only; writes go through pkg/command.
package query

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
)

const (
	defaultLimit = 100
	maxLimit     = 1000
)

// Queries reads the projection tables and the event log.
type Queries struct {
	db     *sql.DB
	es     eventstore.EventStore
	engine *projection.Engine
	now    func() time.Time
}

// Option configures Queries.
type Option func(*Queries)

// WithProjectionEngine enables the projection admin methods (List, Health,
// HealthSummary) and read-after-write syncing.
func WithProjectionEngine(engine *projection.Engine) Option {
	return func(q *Queries) { q.engine = engine }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queries) { q.now = now }
}

// New creates the read side over the shared database.
func New(db *sql.DB, es eventstore.EventStore, opts ...Option) *Queries {
	q := &Queries{db: db, es: es, now: time.Now}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// SearchRequest is the shared pagination and ordering envelope. SortBy must
// be one of the columns the entity whitelists; anything else is Invalid.
type SearchRequest struct {
	Limit  int
	Offset int
	SortBy string
	Asc    bool
}

func (r *SearchRequest) limit() int {
	switch {
	case r.Limit <= 0:
		return defaultLimit
	case r.Limit > maxLimit:
		return maxLimit
	default:
		return r.Limit
	}
}

// orderClause renders ORDER BY/LIMIT/OFFSET. The sortable set is a
// whitelist; user input never reaches the SQL string otherwise.
func (r *SearchRequest) orderClause(sortable map[string]bool, defaultColumn string) (string, error) {
	column := defaultColumn
	if r.SortBy != "" {
		if !sortable[r.SortBy] {
			return "", errs.ThrowInvalid(nil, "QUERY-sort", "cannot sort by %q", r.SortBy)
		}
		column = r.SortBy
	}
	direction := "DESC"
	if r.Asc {
		direction = "ASC"
	}
	var b strings.Builder
	b.WriteString(" ORDER BY ")
	b.WriteString(column)
	b.WriteString(" ")
	b.WriteString(direction)
	b.WriteString(" LIMIT ? OFFSET ?")
	return b.String(), nil
}

func (q *Queries) queryRows(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-rows", "failed to query read model")
	}
	return rows, nil
}

func (q *Queries) count(ctx context.Context, query string, args ...any) (int, error) {
	var total int
	if err := q.db.QueryRowContext(ctx, query, args...).Scan(&total); err != nil {
		return 0, errs.ThrowInternal(err, "QUERY-count", "failed to count read model rows")
	}
	return total, nil
}

func requireInstance(instanceID string) error {
	if instanceID == "" {
		return errs.ThrowInvalid(nil, "QUERY-instance", "instance id must not be empty")
	}
	return nil
}

func nanosToTime(nanos int64) time.Time {
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos).UTC()
}
