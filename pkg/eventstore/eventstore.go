// Package eventstore defines the append-only log contract: atomic pushes
// under optimistic concurrency, filtered history queries and post-commit
// notification for subscribers.
package eventstore

import (
	"context"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

// EventStore is the single durable source of truth.
type EventStore interface {
	// Push appends the commands as events in one atomic batch. The store
	// assigns event ids, versions (CurrentVersion+1..+N per aggregate),
	// created-at timestamps and a contiguous range of the per-instance
	// position. Either all events persist or none do.
	//
	// Errors: errs.ErrConcurrencyConflict when an aggregate's persisted
	// version differs from CurrentVersion, errs.ErrAlreadyExists when a
	// unique constraint claim collides, errs.ErrInvalid when the batch is
	// inconsistent, errs.ErrInternal for storage failures.
	Push(ctx context.Context, commands ...*domain.Command) ([]domain.Event, error)

	// Filter returns events matching the query, ordered by position
	// ascending unless Desc is set.
	Filter(ctx context.Context, query *SearchQuery) ([]domain.Event, error)

	// LatestPosition returns the highest assigned position of the instance,
	// 0 when no events exist.
	LatestPosition(ctx context.Context, instanceID string) (int64, error)

	// EventTypes lists the distinct event types stored for the instance.
	EventTypes(ctx context.Context, instanceID string) ([]string, error)

	// AggregateTypes lists the distinct aggregate types stored for the instance.
	AggregateTypes(ctx context.Context, instanceID string) ([]string, error)

	// Instances lists the instance ids that have events. Projections iterate
	// this to advance their per-instance cursors.
	Instances(ctx context.Context) ([]string, error)

	Close() error
}

// SearchQuery filters the event log. Zero values mean "no restriction",
// except InstanceID which is always required.
type SearchQuery struct {
	InstanceID     string
	AggregateTypes []domain.AggregateType
	AggregateIDs   []string
	EventTypes     []string
	MinPosition    int64 // exclusive
	MaxPosition    int64 // inclusive, 0 = unbounded
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	Limit          int
	Desc           bool
}

// NewSearchQuery starts a query for one instance.
func NewSearchQuery(instanceID string) *SearchQuery {
	return &SearchQuery{InstanceID: instanceID}
}

func (q *SearchQuery) WithAggregate(aggregateType domain.AggregateType, aggregateIDs ...string) *SearchQuery {
	q.AggregateTypes = append(q.AggregateTypes, aggregateType)
	q.AggregateIDs = append(q.AggregateIDs, aggregateIDs...)
	return q
}

func (q *SearchQuery) WithEventTypes(types ...string) *SearchQuery {
	q.EventTypes = append(q.EventTypes, types...)
	return q
}

func (q *SearchQuery) AfterPosition(position int64) *SearchQuery {
	q.MinPosition = position
	return q
}

func (q *SearchQuery) WithLimit(limit int) *SearchQuery {
	q.Limit = limit
	return q
}

// Notifier receives successfully committed events, post-commit. Delivery is
// at-least-once; consumers must be idempotent.
type Notifier func(ctx context.Context, events []domain.Event)
