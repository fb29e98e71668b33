package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const (
	ProjectsProjection       = "projects"
	ProjectRolesProjection   = "project_roles"
	ProjectMembersProjection = "project_members"
	ProjectGrantsProjection  = "project_grants"
)

type Projects struct{}

func NewProjects() *Projects { return &Projects{} }

func (*Projects) Name() string { return ProjectsProjection }

func (*Projects) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS projects (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			name           TEXT NOT NULL,
			state          TEXT NOT NULL,
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects (instance_id, resource_owner);`)
}

func (*Projects) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.ProjectAddedType:
		var payload domain.ProjectAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO projects (instance_id, id, resource_owner, name, state, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.Name,
			string(domain.ProjectStateActive), event.Version,
			event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.ProjectChangedType:
		var payload domain.ProjectChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE projects SET name = COALESCE(?, name), sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.ProjectDeactivatedType:
		return updateProjectState(ctx, tx, event, domain.ProjectStateInactive)

	case domain.ProjectReactivatedType:
		return updateProjectState(ctx, tx, event, domain.ProjectStateActive)

	case domain.ProjectRemovedType:
		return exec(ctx, tx, `DELETE FROM projects WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.OrgRemovedType:
		return exec(ctx, tx, `DELETE FROM projects WHERE instance_id = ? AND resource_owner = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM projects WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func updateProjectState(ctx context.Context, tx *sql.Tx, event *domain.Event, state domain.ProjectState) error {
	return exec(ctx, tx, `
		UPDATE projects SET state = ?, sequence = ?, changed_at = ?
		WHERE instance_id = ? AND id = ?`,
		string(state), event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)
}

type ProjectRoles struct{}

func NewProjectRoles() *ProjectRoles { return &ProjectRoles{} }

func (*ProjectRoles) Name() string { return ProjectRolesProjection }

func (*ProjectRoles) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS project_roles (
			instance_id  TEXT NOT NULL,
			project_id   TEXT NOT NULL,
			role_key     TEXT NOT NULL,
			display_name TEXT NOT NULL DEFAULT '',
			role_group   TEXT NOT NULL DEFAULT '',
			sequence     INTEGER NOT NULL,
			created_at   INTEGER NOT NULL,
			changed_at   INTEGER NOT NULL,
			PRIMARY KEY (instance_id, project_id, role_key)
		);`)
}

func (*ProjectRoles) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.ProjectRoleAddedType:
		var payload domain.ProjectRoleAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO project_roles (instance_id, project_id, role_key, display_name, role_group,
				sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, project_id, role_key) DO NOTHING`,
			event.InstanceID, event.AggregateID, payload.Key, payload.DisplayName, payload.Group,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.ProjectRoleChangedType:
		var payload domain.ProjectRoleChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE project_roles SET
				display_name = COALESCE(?, display_name),
				role_group = COALESCE(?, role_group),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND project_id = ? AND role_key = ?`,
			payload.DisplayName, payload.Group,
			event.Version, event.CreatedAt.UnixNano(),
			event.InstanceID, event.AggregateID, payload.Key)

	case domain.ProjectRoleRemovedType:
		var payload domain.ProjectRoleRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			DELETE FROM project_roles WHERE instance_id = ? AND project_id = ? AND role_key = ?`,
			event.InstanceID, event.AggregateID, payload.Key)

	case domain.ProjectRemovedType:
		return exec(ctx, tx, `DELETE FROM project_roles WHERE instance_id = ? AND project_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM project_roles WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

type ProjectMembers struct{}

func NewProjectMembers() *ProjectMembers { return &ProjectMembers{} }

func (*ProjectMembers) Name() string { return ProjectMembersProjection }

func (*ProjectMembers) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS project_members (
			instance_id TEXT NOT NULL,
			project_id  TEXT NOT NULL,
			user_id     TEXT NOT NULL,
			roles       TEXT NOT NULL,
			sequence    INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			changed_at  INTEGER NOT NULL,
			PRIMARY KEY (instance_id, project_id, user_id)
		);`)
}

func (*ProjectMembers) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.ProjectMemberAddedType, domain.ProjectMemberChangedType:
		var payload domain.ProjectMemberAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		roles, err := json.Marshal(payload.Roles)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO project_members (instance_id, project_id, user_id, roles, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, project_id, user_id) DO UPDATE SET
				roles = excluded.roles,
				sequence = excluded.sequence,
				changed_at = excluded.changed_at`,
			event.InstanceID, event.AggregateID, payload.UserID, string(roles),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.ProjectMemberRemovedType:
		var payload domain.ProjectMemberRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			DELETE FROM project_members WHERE instance_id = ? AND project_id = ? AND user_id = ?`,
			event.InstanceID, event.AggregateID, payload.UserID)

	case domain.UserRemovedType:
		return exec(ctx, tx, `DELETE FROM project_members WHERE instance_id = ? AND user_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.ProjectRemovedType:
		return exec(ctx, tx, `DELETE FROM project_members WHERE instance_id = ? AND project_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM project_members WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

type ProjectGrants struct{}

func NewProjectGrants() *ProjectGrants { return &ProjectGrants{} }

func (*ProjectGrants) Name() string { return ProjectGrantsProjection }

func (*ProjectGrants) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS project_grants (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			project_id     TEXT NOT NULL,
			granted_org_id TEXT NOT NULL,
			role_keys      TEXT NOT NULL,
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_project_grants_project ON project_grants (instance_id, project_id);`)
}

func (*ProjectGrants) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.ProjectGrantAddedType:
		var payload domain.ProjectGrantAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		roleKeys, err := json.Marshal(payload.RoleKeys)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO project_grants (instance_id, id, project_id, granted_org_id, role_keys,
				sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, payload.GrantID, event.AggregateID, payload.GrantedOrgID, string(roleKeys),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.ProjectGrantChangedType:
		var payload domain.ProjectGrantChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		roleKeys, err := json.Marshal(payload.RoleKeys)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE project_grants SET role_keys = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(roleKeys), event.Version, event.CreatedAt.UnixNano(), event.InstanceID, payload.GrantID)

	case domain.ProjectGrantRemovedType:
		var payload domain.ProjectGrantRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `DELETE FROM project_grants WHERE instance_id = ? AND id = ?`,
			event.InstanceID, payload.GrantID)

	case domain.ProjectRemovedType:
		return exec(ctx, tx, `DELETE FROM project_grants WHERE instance_id = ? AND project_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.OrgRemovedType:
		return exec(ctx, tx, `DELETE FROM project_grants WHERE instance_id = ? AND granted_org_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM project_grants WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}
