package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/eventstore"
)

// Status describes one projection cursor relative to the log head. Lag is
// wall-clock: the age of the oldest event the cursor has not processed yet,
// zero when caught up.
type Status struct {
	Projection   string
	InstanceID   string
	Position     int64
	Latest       int64
	Lag          time.Duration
	UpdatedAt    time.Time
	FailureCount int
	LastError    string
	FailedEvents int
	Running      bool
	Healthy      bool
}

// Summary aggregates the per-cursor statuses.
type Summary struct {
	Projections int
	Cursors     int
	Unhealthy   int
	AvgLag      time.Duration
	MaxLag      time.Duration
	Failed      int
	Healthy     bool
}

// Names returns the registered projection names.
func (e *Engine) Names() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	names := make([]string, 0, len(e.handlers))
	for name := range e.handlers {
		names = append(names, name)
	}
	return names
}

func (e *Engine) running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// Health reports every registered projection on every known instance. A
// projection that never ran for an instance reports position 0. Healthy is
// a heuristic: lag below the configured threshold and the consecutive
// failure count below its threshold.
func (e *Engine) Health(ctx context.Context) ([]Status, error) {
	instances, err := e.es.Instances(ctx)
	if err != nil {
		return nil, err
	}
	running := e.running()

	var statuses []Status
	for _, name := range e.Names() {
		for _, instanceID := range instances {
			status, err := e.cursorStatus(ctx, name, instanceID)
			if err != nil {
				return nil, err
			}
			status.Running = running
			status.Healthy = status.Lag <= e.config.LagThreshold &&
				status.FailureCount < e.config.FailureThreshold
			statuses = append(statuses, *status)
		}
	}
	return statuses, nil
}

// HealthSummary condenses Health into one readiness answer. Healthy means
// every cursor is healthy.
func (e *Engine) HealthSummary(ctx context.Context) (*Summary, error) {
	statuses, err := e.Health(ctx)
	if err != nil {
		return nil, err
	}
	summary := &Summary{Projections: len(e.Names()), Cursors: len(statuses), Healthy: true}
	var lagSum time.Duration
	for _, status := range statuses {
		lagSum += status.Lag
		if status.Lag > summary.MaxLag {
			summary.MaxLag = status.Lag
		}
		summary.Failed += status.FailedEvents
		if !status.Healthy {
			summary.Unhealthy++
			summary.Healthy = false
		}
	}
	if len(statuses) > 0 {
		summary.AvgLag = lagSum / time.Duration(len(statuses))
	}
	return summary, nil
}

func (e *Engine) cursorStatus(ctx context.Context, name, instanceID string) (*Status, error) {
	status := &Status{Projection: name, InstanceID: instanceID}

	var updatedNanos int64
	err := e.db.QueryRowContext(ctx,
		`SELECT position, updated_at, failure_count, last_error
		 FROM projection_cursors WHERE projection_name = ? AND instance_id = ?`,
		name, instanceID,
	).Scan(&status.Position, &updatedNanos, &status.FailureCount, &status.LastError)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	if updatedNanos > 0 {
		status.UpdatedAt = time.Unix(0, updatedNanos).UTC()
	}

	latest, err := e.es.LatestPosition(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	status.Latest = latest

	if status.Position < latest {
		pending, err := e.es.Filter(ctx, eventstore.NewSearchQuery(instanceID).
			AfterPosition(status.Position).
			WithLimit(1))
		if err != nil {
			return nil, err
		}
		if len(pending) > 0 {
			if lag := e.now().Sub(pending[0].CreatedAt); lag > 0 {
				status.Lag = lag
			}
		}
	}

	err = e.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projection_failed_events WHERE projection_name = ? AND instance_id = ?`,
		name, instanceID,
	).Scan(&status.FailedEvents)
	if err != nil {
		return nil, err
	}
	return status, nil
}
