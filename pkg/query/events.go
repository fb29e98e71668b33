package query

import (
	"context"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

// EventSearch filters the raw event log, the admin/audit surface.
type EventSearch struct {
	InstanceID     string
	AggregateTypes []domain.AggregateType
	AggregateIDs   []string
	EventTypes     []string
	CreatedAfter   time.Time
	CreatedBefore  time.Time
	Limit          int
	Desc           bool
}

// FailedEvent is one event a projection could not reduce.
type FailedEvent struct {
	ProjectionName string
	InstanceID     string
	EventID        string
	Position       int64
	EventType      string
	Error          string
	FailedAt       time.Time
}

// SearchEvents reads the event log directly from the eventstore.
func (q *Queries) SearchEvents(ctx context.Context, search EventSearch) ([]domain.Event, error) {
	if err := requireInstance(search.InstanceID); err != nil {
		return nil, err
	}
	query := eventstore.NewSearchQuery(search.InstanceID)
	query.AggregateTypes = search.AggregateTypes
	query.AggregateIDs = search.AggregateIDs
	query.EventTypes = search.EventTypes
	query.CreatedAfter = search.CreatedAfter
	query.CreatedBefore = search.CreatedBefore
	query.Desc = search.Desc
	query.Limit = search.Limit
	if query.Limit <= 0 || query.Limit > maxLimit {
		query.Limit = defaultLimit
	}
	return q.es.Filter(ctx, query)
}

// EventTypes lists the distinct event types stored for the instance.
func (q *Queries) EventTypes(ctx context.Context, instanceID string) ([]string, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	return q.es.EventTypes(ctx, instanceID)
}

// AggregateTypes lists the distinct aggregate types stored for the instance.
func (q *Queries) AggregateTypes(ctx context.Context, instanceID string) ([]string, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	return q.es.AggregateTypes(ctx, instanceID)
}

// LatestPosition returns the head of the instance's event log.
func (q *Queries) LatestPosition(ctx context.Context, instanceID string) (int64, error) {
	if err := requireInstance(instanceID); err != nil {
		return 0, err
	}
	return q.es.LatestPosition(ctx, instanceID)
}

// FailedEvents lists the events projections failed to reduce; their cursors
// hold until a retry succeeds.
// An empty projectionName returns the entries of every projection.
func (q *Queries) FailedEvents(ctx context.Context, projectionName string) ([]FailedEvent, error) {
	query := `SELECT projection_name, instance_id, event_id, position, event_type, error, failed_at
		FROM projection_failed_events`
	var args []any
	if projectionName != "" {
		query += ` WHERE projection_name = ?`
		args = append(args, projectionName)
	}
	query += ` ORDER BY failed_at DESC`

	rows, err := q.queryRows(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var failed []FailedEvent
	for rows.Next() {
		var f FailedEvent
		var failedAt int64
		if err := rows.Scan(&f.ProjectionName, &f.InstanceID, &f.EventID, &f.Position,
			&f.EventType, &f.Error, &failedAt); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-failed-scan", "failed to read failed events")
		}
		f.FailedAt = nanosToTime(failedAt)
		failed = append(failed, f)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-failed-rows", "failed to read failed events")
	}
	return failed, nil
}
