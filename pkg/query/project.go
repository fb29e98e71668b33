package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

type Project struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	Name          string
	State         domain.ProjectState
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

type ProjectRole struct {
	ProjectID   string
	Key         string
	DisplayName string
	Group       string
}

type ProjectMember struct {
	ProjectID string
	UserID    string
	Roles     []string
}

type ProjectGrant struct {
	ID           string
	ProjectID    string
	GrantedOrgID string
	RoleKeys     []string
}

type ProjectSearch struct {
	SearchRequest
	InstanceID   string
	OrgID        string
	State        domain.ProjectState
	NameContains string
}

var projectSortable = map[string]bool{
	"name": true, "state": true, "created_at": true, "changed_at": true, "sequence": true,
}

const projectColumns = `instance_id, id, resource_owner, name, state, sequence, created_at, changed_at`

func scanProject(row interface{ Scan(...any) error }) (*Project, error) {
	var p Project
	var createdAt, changedAt int64
	err := row.Scan(&p.InstanceID, &p.ID, &p.ResourceOwner, &p.Name, &p.State,
		&p.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = nanosToTime(createdAt)
	p.ChangedAt = nanosToTime(changedAt)
	return &p, nil
}

func (q *Queries) ProjectByID(ctx context.Context, instanceID, projectID string) (*Project, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE instance_id = ? AND id = ?`,
		instanceID, projectID)
	project, err := scanProject(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-project", "project %s not found", projectID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-project-scan", "failed to read project")
	}
	return project, nil
}

func (q *Queries) SearchProjects(ctx context.Context, search ProjectSearch) ([]Project, int, error) {
	if err := requireInstance(search.InstanceID); err != nil {
		return nil, 0, err
	}
	where := ` WHERE instance_id = ?`
	args := []any{search.InstanceID}
	if search.OrgID != "" {
		where += ` AND resource_owner = ?`
		args = append(args, search.OrgID)
	}
	if search.State != "" {
		where += ` AND state = ?`
		args = append(args, string(search.State))
	}
	if search.NameContains != "" {
		where += ` AND name LIKE ?`
		args = append(args, "%"+search.NameContains+"%")
	}

	total, err := q.count(ctx, `SELECT COUNT(*) FROM projects`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	order, err := search.orderClause(projectSortable, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx, `SELECT `+projectColumns+` FROM projects`+where+order,
		append(args, search.limit(), search.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		project, err := scanProject(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-projects-scan", "failed to read projects")
		}
		projects = append(projects, *project)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-projects-rows", "failed to read projects")
	}
	return projects, total, nil
}

func (q *Queries) ProjectRoles(ctx context.Context, instanceID, projectID string) ([]ProjectRole, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	rows, err := q.queryRows(ctx, `
		SELECT project_id, role_key, display_name, role_group FROM project_roles
		WHERE instance_id = ? AND project_id = ? ORDER BY role_key ASC`,
		instanceID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []ProjectRole
	for rows.Next() {
		var r ProjectRole
		if err := rows.Scan(&r.ProjectID, &r.Key, &r.DisplayName, &r.Group); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-roles-scan", "failed to read project roles")
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-roles-rows", "failed to read project roles")
	}
	return roles, nil
}

func (q *Queries) ProjectMembers(ctx context.Context, instanceID, projectID string) ([]ProjectMember, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	rows, err := q.queryRows(ctx, `
		SELECT project_id, user_id, roles FROM project_members
		WHERE instance_id = ? AND project_id = ? ORDER BY user_id ASC`,
		instanceID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []ProjectMember
	for rows.Next() {
		var m ProjectMember
		var roles string
		if err := rows.Scan(&m.ProjectID, &m.UserID, &roles); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-members-scan", "failed to read project members")
		}
		if err := json.Unmarshal([]byte(roles), &m.Roles); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-members-roles", "corrupt member roles")
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-members-rows", "failed to read project members")
	}
	return members, nil
}

func (q *Queries) ProjectGrants(ctx context.Context, instanceID, projectID string) ([]ProjectGrant, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	rows, err := q.queryRows(ctx, `
		SELECT id, project_id, granted_org_id, role_keys FROM project_grants
		WHERE instance_id = ? AND project_id = ? ORDER BY granted_org_id ASC`,
		instanceID, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var grants []ProjectGrant
	for rows.Next() {
		var g ProjectGrant
		var roleKeys string
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.GrantedOrgID, &roleKeys); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-grants-scan", "failed to read project grants")
		}
		if err := json.Unmarshal([]byte(roleKeys), &g.RoleKeys); err != nil {
			return nil, errs.ThrowInternal(err, "QUERY-grants-roles", "corrupt grant role keys")
		}
		grants = append(grants, g)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-grants-rows", "failed to read project grants")
	}
	return grants, nil
}
