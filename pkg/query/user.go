package query

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

// User is one row of the users read model.
type User struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	Type          domain.UserType
	State         domain.UserState
	Username      string
	FirstName     string
	LastName      string
	Email         string
	EmailVerified bool
	Phone         string
	PhoneVerified bool
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

// UserSearch filters users. InstanceID is required; the rest narrows.
type UserSearch struct {
	SearchRequest
	InstanceID       string
	OrgID            string
	State            domain.UserState
	Type             domain.UserType
	UsernameContains string
}

var userSortable = map[string]bool{
	"username": true, "state": true, "created_at": true, "changed_at": true, "sequence": true,
}

const userColumns = `instance_id, id, resource_owner, type, state, username,
	first_name, last_name, email, email_verified, phone, phone_verified,
	sequence, created_at, changed_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	var createdAt, changedAt int64
	err := row.Scan(&u.InstanceID, &u.ID, &u.ResourceOwner, &u.Type, &u.State, &u.Username,
		&u.FirstName, &u.LastName, &u.Email, &u.EmailVerified, &u.Phone, &u.PhoneVerified,
		&u.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = nanosToTime(createdAt)
	u.ChangedAt = nanosToTime(changedAt)
	return &u, nil
}

// UserByID returns the user, including soft-deleted rows (audit).
func (q *Queries) UserByID(ctx context.Context, instanceID, userID string) (*User, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE instance_id = ? AND id = ?`,
		instanceID, userID)
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-user", "user %s not found", userID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-user-scan", "failed to read user")
	}
	return user, nil
}

// UserByUsername resolves a user by its exact username within an org.
func (q *Queries) UserByUsername(ctx context.Context, instanceID, orgID, username string) (*User, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE instance_id = ? AND resource_owner = ? AND username = ? AND state != ?`,
		instanceID, orgID, username, string(domain.UserStateDeleted))
	user, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-username", "username %s not found", username)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-username-scan", "failed to read user")
	}
	return user, nil
}

// SearchUsers pages through the users of an instance. Total counts the full
// match set regardless of the page.
func (q *Queries) SearchUsers(ctx context.Context, search UserSearch) ([]User, int, error) {
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
	if search.Type != "" {
		where += ` AND type = ?`
		args = append(args, string(search.Type))
	}
	if search.UsernameContains != "" {
		where += ` AND username LIKE ?`
		args = append(args, "%"+search.UsernameContains+"%")
	}

	total, err := q.count(ctx, `SELECT COUNT(*) FROM users`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	order, err := search.orderClause(userSortable, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx, `SELECT `+userColumns+` FROM users`+where+order,
		append(args, search.limit(), search.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-users-scan", "failed to read users")
		}
		users = append(users, *user)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-users-rows", "failed to read users")
	}
	return users, total, nil
}
