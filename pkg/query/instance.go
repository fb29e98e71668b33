package query

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

type Instance struct {
	ID        string
	Name      string
	Sequence  int64
	CreatedAt time.Time
	ChangedAt time.Time
}

func (q *Queries) InstanceByID(ctx context.Context, instanceID string) (*Instance, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	var i Instance
	var createdAt, changedAt int64
	err := q.db.QueryRowContext(ctx,
		`SELECT id, name, sequence, created_at, changed_at FROM instances WHERE id = ?`,
		instanceID,
	).Scan(&i.ID, &i.Name, &i.Sequence, &createdAt, &changedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-instance-id", "instance %s not found", instanceID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-instance-scan", "failed to read instance")
	}
	i.CreatedAt = nanosToTime(createdAt)
	i.ChangedAt = nanosToTime(changedAt)
	return &i, nil
}

func (q *Queries) ListInstances(ctx context.Context) ([]Instance, error) {
	rows, err := q.queryRows(ctx,
		`SELECT id, name, sequence, created_at, changed_at FROM instances ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var instances []Instance
	for rows.Next() {
		var i Instance
		var createdAt, changedAt int64
		if err := rows.Scan(&i.ID, &i.Name, &i.Sequence, &createdAt, &changedAt); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-instances-scan", "failed to read instances")
		}
		i.CreatedAt = nanosToTime(createdAt)
		i.ChangedAt = nanosToTime(changedAt)
		instances = append(instances, i)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-instances-rows", "failed to read instances")
	}
	return instances, nil
}
