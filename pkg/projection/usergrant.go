package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const UserGrantsProjection = "user_grants"

type UserGrants struct{}

func NewUserGrants() *UserGrants { return &UserGrants{} }

func (*UserGrants) Name() string { return UserGrantsProjection }

func (*UserGrants) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS user_grants (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			user_id        TEXT NOT NULL,
			project_id     TEXT NOT NULL,
			state          TEXT NOT NULL,
			role_keys      TEXT NOT NULL DEFAULT '[]',
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_user_grants_user ON user_grants (instance_id, user_id);
		CREATE INDEX IF NOT EXISTS idx_user_grants_project ON user_grants (instance_id, project_id);`)
}

func (*UserGrants) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.UserGrantAddedType:
		var payload domain.UserGrantAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		roles, err := json.Marshal(payload.RoleKeys)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO user_grants (instance_id, id, resource_owner, user_id, project_id,
				state, role_keys, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.UserID, payload.ProjectID,
			string(domain.GrantStateActive), string(roles),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.UserGrantChangedType:
		var payload domain.UserGrantChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		roles, err := json.Marshal(payload.RoleKeys)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE user_grants SET role_keys = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(roles), event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.UserGrantDeactivatedType:
		return updateGrantState(ctx, tx, event, domain.GrantStateInactive)

	case domain.UserGrantReactivatedType:
		return updateGrantState(ctx, tx, event, domain.GrantStateActive)

	case domain.UserGrantRemovedType:
		return exec(ctx, tx, `DELETE FROM user_grants WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.UserRemovedType:
		return exec(ctx, tx, `DELETE FROM user_grants WHERE instance_id = ? AND user_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.ProjectRemovedType:
		return exec(ctx, tx, `DELETE FROM user_grants WHERE instance_id = ? AND project_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.OrgRemovedType:
		return exec(ctx, tx, `DELETE FROM user_grants WHERE instance_id = ? AND resource_owner = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM user_grants WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func updateGrantState(ctx context.Context, tx *sql.Tx, event *domain.Event, state domain.GrantState) error {
	return exec(ctx, tx, `
		UPDATE user_grants SET state = ?, sequence = ?, changed_at = ?
		WHERE instance_id = ? AND id = ?`,
		string(state), event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)
}
