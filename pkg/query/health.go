package query

import (
	"context"
	"sort"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
	"github.com/gatehouse-id/gatehouse/pkg/projection"
)

// ListProjections returns the registered projection names, sorted.
func (q *Queries) ListProjections() ([]string, error) {
	if q.engine == nil {
		return nil, errs.ThrowPrecondition(nil, "QUERY-no-engine", "no projection engine wired")
	}
	names := q.engine.Names()
	sort.Strings(names)
	return names, nil
}

// ProjectionHealth reports the cursor statuses, optionally filtered to one
// projection.
func (q *Queries) ProjectionHealth(ctx context.Context, projectionName string) ([]projection.Status, error) {
	if q.engine == nil {
		return nil, errs.ThrowPrecondition(nil, "QUERY-no-engine", "no projection engine wired")
	}
	statuses, err := q.engine.Health(ctx)
	if err != nil {
		return nil, err
	}
	if projectionName == "" {
		return statuses, nil
	}
	registered := false
	for _, name := range q.engine.Names() {
		if name == projectionName {
			registered = true
			break
		}
	}
	if !registered {
		return nil, errs.ThrowNotFound(nil, "QUERY-projection", "projection %s not registered", projectionName)
	}
	filtered := make([]projection.Status, 0, len(statuses))
	for _, status := range statuses {
		if status.Projection == projectionName {
			filtered = append(filtered, status)
		}
	}
	return filtered, nil
}

// ProjectionHealthSummary is the single readiness answer.
func (q *Queries) ProjectionHealthSummary(ctx context.Context) (*projection.Summary, error) {
	if q.engine == nil {
		return nil, errs.ThrowPrecondition(nil, "QUERY-no-engine", "no projection engine wired")
	}
	return q.engine.HealthSummary(ctx)
}

// Sync drives the projections to the log head before reading, the
// read-after-write escape hatch.
func (q *Queries) Sync(ctx context.Context) error {
	if q.engine == nil {
		return errs.ThrowPrecondition(nil, "QUERY-no-engine", "no projection engine wired")
	}
	return q.engine.Sync(ctx)
}
