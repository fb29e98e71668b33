package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const (
	TargetsProjection    = "targets"
	ExecutionsProjection = "executions"
	ActionsProjection    = "actions"
)

// Targets keeps webhook endpoint configuration. Signing keys are stored
// here too: the hook dispatcher reads them to sign outgoing payloads.
type Targets struct{}

func NewTargets() *Targets { return &Targets{} }

func (*Targets) Name() string { return TargetsProjection }

func (*Targets) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS targets (
			instance_id        TEXT NOT NULL,
			id                 TEXT NOT NULL,
			resource_owner     TEXT NOT NULL,
			name               TEXT NOT NULL,
			type               TEXT NOT NULL,
			endpoint           TEXT NOT NULL,
			timeout_millis     INTEGER NOT NULL,
			interrupt_on_error INTEGER NOT NULL DEFAULT 0,
			signing_key        TEXT NOT NULL,
			sequence           INTEGER NOT NULL,
			created_at         INTEGER NOT NULL,
			changed_at         INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);`)
}

func (*Targets) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.TargetAddedType:
		var payload domain.TargetAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO targets (instance_id, id, resource_owner, name, type, endpoint,
				timeout_millis, interrupt_on_error, signing_key, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.Name,
			string(payload.TargetType), payload.Endpoint,
			payload.TimeoutMillis, boolToInt(payload.InterruptOnError), payload.SigningKey,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.TargetChangedType:
		var payload domain.TargetChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		var interrupt *int
		if payload.InterruptOnError != nil {
			v := boolToInt(*payload.InterruptOnError)
			interrupt = &v
		}
		return exec(ctx, tx, `
			UPDATE targets SET
				name = COALESCE(?, name),
				endpoint = COALESCE(?, endpoint),
				timeout_millis = COALESCE(?, timeout_millis),
				interrupt_on_error = COALESCE(?, interrupt_on_error),
				signing_key = COALESCE(?, signing_key),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, payload.Endpoint, payload.TimeoutMillis, interrupt, payload.SigningKey,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.TargetRemovedType:
		return exec(ctx, tx, `DELETE FROM targets WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM targets WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Executions maps hook conditions to their ordered target lists. The row id
// is the condition id, e.g. "event-user.added" or "request-/v1/users".
type Executions struct{}

func NewExecutions() *Executions { return &Executions{} }

func (*Executions) Name() string { return ExecutionsProjection }

func (*Executions) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS executions (
			instance_id TEXT NOT NULL,
			id          TEXT NOT NULL,
			targets     TEXT NOT NULL DEFAULT '[]',
			sequence    INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			changed_at  INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);`)
}

func (*Executions) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.ExecutionSetType:
		var payload domain.ExecutionSet
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		targets, err := json.Marshal(payload.Targets)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO executions (instance_id, id, targets, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO UPDATE SET
				targets = excluded.targets,
				sequence = excluded.sequence,
				changed_at = excluded.changed_at`,
			event.InstanceID, event.AggregateID, string(targets),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.ExecutionRemovedType:
		return exec(ctx, tx, `DELETE FROM executions WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.TargetRemovedType:
		// drop dangling target references from every execution of the instance
		return pruneExecutionTarget(ctx, tx, event)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM executions WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

// pruneExecutionTarget rewrites the target list of each execution that
// references the removed target. Executions left empty are deleted.
func pruneExecutionTarget(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	rows, err := tx.QueryContext(ctx,
		`SELECT id, targets FROM executions WHERE instance_id = ?`, event.InstanceID)
	if err != nil {
		return err
	}
	defer rows.Close()

	type rewrite struct {
		id      string
		targets []domain.ExecutionTarget
	}
	var rewrites []rewrite
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return err
		}
		var targets []domain.ExecutionTarget
		if err := json.Unmarshal([]byte(raw), &targets); err != nil {
			return err
		}
		kept := targets[:0]
		removed := false
		for _, t := range targets {
			if t.Type == domain.ExecutionTargetTypeTarget && t.TargetID == event.AggregateID {
				removed = true
				continue
			}
			kept = append(kept, t)
		}
		if removed {
			rewrites = append(rewrites, rewrite{id: id, targets: kept})
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for _, r := range rewrites {
		if len(r.targets) == 0 {
			if err := exec(ctx, tx, `DELETE FROM executions WHERE instance_id = ? AND id = ?`,
				event.InstanceID, r.id); err != nil {
				return err
			}
			continue
		}
		data, err := json.Marshal(r.targets)
		if err != nil {
			return err
		}
		if err := exec(ctx, tx, `
			UPDATE executions SET targets = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(data), event.CreatedAt.UnixNano(), event.InstanceID, r.id); err != nil {
			return err
		}
	}
	return nil
}

type Actions struct{}

func NewActions() *Actions { return &Actions{} }

func (*Actions) Name() string { return ActionsProjection }

func (*Actions) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS actions (
			instance_id     TEXT NOT NULL,
			id              TEXT NOT NULL,
			resource_owner  TEXT NOT NULL,
			name            TEXT NOT NULL,
			script          TEXT NOT NULL,
			timeout_millis  INTEGER NOT NULL DEFAULT 0,
			allowed_to_fail INTEGER NOT NULL DEFAULT 0,
			state           TEXT NOT NULL,
			sequence        INTEGER NOT NULL,
			created_at      INTEGER NOT NULL,
			changed_at      INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);`)
}

func (*Actions) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.ActionAddedType:
		var payload domain.ActionAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO actions (instance_id, id, resource_owner, name, script,
				timeout_millis, allowed_to_fail, state, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.Name, payload.Script,
			payload.TimeoutMillis, boolToInt(payload.AllowedToFail), string(domain.ActionStateActive),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.ActionChangedType:
		var payload domain.ActionChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		var allowed *int
		if payload.AllowedToFail != nil {
			v := boolToInt(*payload.AllowedToFail)
			allowed = &v
		}
		return exec(ctx, tx, `
			UPDATE actions SET
				name = COALESCE(?, name),
				script = COALESCE(?, script),
				timeout_millis = COALESCE(?, timeout_millis),
				allowed_to_fail = COALESCE(?, allowed_to_fail),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, payload.Script, payload.TimeoutMillis, allowed,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.ActionDeactivatedType:
		return updateActionState(ctx, tx, event, domain.ActionStateInactive)

	case domain.ActionReactivatedType:
		return updateActionState(ctx, tx, event, domain.ActionStateActive)

	case domain.ActionRemovedType:
		return exec(ctx, tx, `DELETE FROM actions WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM actions WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func updateActionState(ctx context.Context, tx *sql.Tx, event *domain.Event, state domain.ActionState) error {
	return exec(ctx, tx, `
		UPDATE actions SET state = ?, sequence = ?, changed_at = ?
		WHERE instance_id = ? AND id = ?`,
		string(state), event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)
}
