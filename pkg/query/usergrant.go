package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

type UserGrant struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	UserID        string
	ProjectID     string
	State         domain.GrantState
	RoleKeys      []string
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

type UserGrantSearch struct {
	SearchRequest
	InstanceID string
	UserID     string
	ProjectID  string
	State      domain.GrantState
}

var userGrantSortable = map[string]bool{
	"user_id": true, "project_id": true, "state": true, "created_at": true, "changed_at": true,
}

const userGrantColumns = `instance_id, id, resource_owner, user_id, project_id, state, role_keys,
	sequence, created_at, changed_at`

func scanUserGrant(row interface{ Scan(...any) error }) (*UserGrant, error) {
	var g UserGrant
	var roleKeys string
	var createdAt, changedAt int64
	err := row.Scan(&g.InstanceID, &g.ID, &g.ResourceOwner, &g.UserID, &g.ProjectID, &g.State,
		&roleKeys, &g.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(roleKeys), &g.RoleKeys); err != nil {
		return nil, err
	}
	g.CreatedAt = nanosToTime(createdAt)
	g.ChangedAt = nanosToTime(changedAt)
	return &g, nil
}

func (q *Queries) UserGrantByID(ctx context.Context, instanceID, grantID string) (*UserGrant, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userGrantColumns+` FROM user_grants WHERE instance_id = ? AND id = ?`,
		instanceID, grantID)
	grant, err := scanUserGrant(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-usergrant", "user grant %s not found", grantID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-usergrant-scan", "failed to read user grant")
	}
	return grant, nil
}

func (q *Queries) SearchUserGrants(ctx context.Context, search UserGrantSearch) ([]UserGrant, int, error) {
	if err := requireInstance(search.InstanceID); err != nil {
		return nil, 0, err
	}
	where := ` WHERE instance_id = ?`
	args := []any{search.InstanceID}
	if search.UserID != "" {
		where += ` AND user_id = ?`
		args = append(args, search.UserID)
	}
	if search.ProjectID != "" {
		where += ` AND project_id = ?`
		args = append(args, search.ProjectID)
	}
	if search.State != "" {
		where += ` AND state = ?`
		args = append(args, string(search.State))
	}

	total, err := q.count(ctx, `SELECT COUNT(*) FROM user_grants`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	order, err := search.orderClause(userGrantSortable, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx, `SELECT `+userGrantColumns+` FROM user_grants`+where+order,
		append(args, search.limit(), search.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var grants []UserGrant
	for rows.Next() {
		grant, err := scanUserGrant(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-usergrants-scan", "failed to read user grants")
		}
		grants = append(grants, *grant)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-usergrants-rows", "failed to read user grants")
	}
	return grants, total, nil
}
