package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

type Target struct {
	ID               string
	InstanceID       string
	ResourceOwner    string
	Name             string
	Type             domain.TargetType
	Endpoint         string
	TimeoutMillis    int64
	InterruptOnError bool
	SigningKey       string
	Sequence         int64
	CreatedAt        time.Time
	ChangedAt        time.Time
}

// Execution is one hook condition with its ordered targets.
type Execution struct {
	ID         string
	InstanceID string
	Targets    []domain.ExecutionTarget
	Sequence   int64
	CreatedAt  time.Time
	ChangedAt  time.Time
}

type Action struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	Name          string
	Script        string
	TimeoutMillis int64
	AllowedToFail bool
	State         domain.ActionState
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

const targetColumns = `instance_id, id, resource_owner, name, type, endpoint,
	timeout_millis, interrupt_on_error, signing_key, sequence, created_at, changed_at`

func scanTarget(row interface{ Scan(...any) error }) (*Target, error) {
	var t Target
	var createdAt, changedAt int64
	err := row.Scan(&t.InstanceID, &t.ID, &t.ResourceOwner, &t.Name, &t.Type, &t.Endpoint,
		&t.TimeoutMillis, &t.InterruptOnError, &t.SigningKey,
		&t.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	t.CreatedAt = nanosToTime(createdAt)
	t.ChangedAt = nanosToTime(changedAt)
	return &t, nil
}

func (q *Queries) TargetByID(ctx context.Context, instanceID, targetID string) (*Target, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE instance_id = ? AND id = ?`,
		instanceID, targetID)
	target, err := scanTarget(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-target", "target %s not found", targetID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-target-scan", "failed to read target")
	}
	return target, nil
}

func (q *Queries) SearchTargets(ctx context.Context, instanceID string, search SearchRequest) ([]Target, int, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, 0, err
	}
	total, err := q.count(ctx, `SELECT COUNT(*) FROM targets WHERE instance_id = ?`, instanceID)
	if err != nil {
		return nil, 0, err
	}
	order, err := search.orderClause(map[string]bool{
		"name": true, "type": true, "created_at": true, "changed_at": true,
	}, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx,
		`SELECT `+targetColumns+` FROM targets WHERE instance_id = ?`+order,
		instanceID, search.limit(), search.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		target, err := scanTarget(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-targets-scan", "failed to read targets")
		}
		targets = append(targets, *target)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-targets-rows", "failed to read targets")
	}
	return targets, total, nil
}

// ExecutionByCondition returns the target list bound to one condition id.
func (q *Queries) ExecutionByCondition(ctx context.Context, instanceID, conditionID string) (*Execution, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	var e Execution
	var targets string
	var createdAt, changedAt int64
	err := q.db.QueryRowContext(ctx,
		`SELECT instance_id, id, targets, sequence, created_at, changed_at
		 FROM executions WHERE instance_id = ? AND id = ?`,
		instanceID, conditionID,
	).Scan(&e.InstanceID, &e.ID, &targets, &e.Sequence, &createdAt, &changedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-execution", "no execution for condition %s", conditionID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-execution-scan", "failed to read execution")
	}
	if err := json.Unmarshal([]byte(targets), &e.Targets); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-execution-targets", "corrupt execution targets")
	}
	e.CreatedAt = nanosToTime(createdAt)
	e.ChangedAt = nanosToTime(changedAt)
	return &e, nil
}

// ListExecutions returns every condition binding of the instance.
func (q *Queries) ListExecutions(ctx context.Context, instanceID string) ([]Execution, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	rows, err := q.queryRows(ctx,
		`SELECT instance_id, id, targets, sequence, created_at, changed_at
		 FROM executions WHERE instance_id = ? ORDER BY id ASC`, instanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var executions []Execution
	for rows.Next() {
		var e Execution
		var targets string
		var createdAt, changedAt int64
		if err := rows.Scan(&e.InstanceID, &e.ID, &targets, &e.Sequence, &createdAt, &changedAt); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-executions-scan", "failed to read executions")
		}
		if err := json.Unmarshal([]byte(targets), &e.Targets); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-executions-targets", "corrupt execution targets")
		}
		e.CreatedAt = nanosToTime(createdAt)
		e.ChangedAt = nanosToTime(changedAt)
		executions = append(executions, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-executions-rows", "failed to read executions")
	}
	return executions, nil
}

const actionColumns = `instance_id, id, resource_owner, name, script, timeout_millis,
	allowed_to_fail, state, sequence, created_at, changed_at`

func (q *Queries) ActionByID(ctx context.Context, instanceID, actionID string) (*Action, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	var a Action
	var createdAt, changedAt int64
	err := q.db.QueryRowContext(ctx,
		`SELECT `+actionColumns+` FROM actions WHERE instance_id = ? AND id = ?`,
		instanceID, actionID,
	).Scan(&a.InstanceID, &a.ID, &a.ResourceOwner, &a.Name, &a.Script, &a.TimeoutMillis,
		&a.AllowedToFail, &a.State, &a.Sequence, &createdAt, &changedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-action", "action %s not found", actionID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-action-scan", "failed to read action")
	}
	a.CreatedAt = nanosToTime(createdAt)
	a.ChangedAt = nanosToTime(changedAt)
	return &a, nil
}
