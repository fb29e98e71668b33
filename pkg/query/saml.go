package query

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

type SAMLRequest struct {
	ID            string
	InstanceID    string
	ResourceOwner string
	Issuer        string
	ACSURL        string
	RelayState    string
	Binding       string
	State         domain.SAMLRequestState
	UserID        string
	FailureReason string
	Sequence      int64
	CreatedAt     time.Time
	ChangedAt     time.Time
}

type Session struct {
	ID                string
	InstanceID        string
	ResourceOwner     string
	UserID            string
	SessionIndex      string
	State             domain.SessionState
	UserCheckedAt     string
	CheckMethod       string
	TerminationReason string
	LastActivity      time.Time
	Sequence          int64
	CreatedAt         time.Time
	ChangedAt         time.Time
}

type SessionSearch struct {
	SearchRequest
	InstanceID   string
	UserID       string
	SessionIndex string
	State        domain.SessionState
}

const samlRequestColumns = `instance_id, id, resource_owner, issuer, acs_url, relay_state,
	binding, state, user_id, failure_reason, sequence, created_at, changed_at`

func (q *Queries) SAMLRequestByID(ctx context.Context, instanceID, requestID string) (*SAMLRequest, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	var r SAMLRequest
	var createdAt, changedAt int64
	err := q.db.QueryRowContext(ctx,
		`SELECT `+samlRequestColumns+` FROM saml_requests WHERE instance_id = ? AND id = ?`,
		instanceID, requestID,
	).Scan(&r.InstanceID, &r.ID, &r.ResourceOwner, &r.Issuer, &r.ACSURL, &r.RelayState,
		&r.Binding, &r.State, &r.UserID, &r.FailureReason, &r.Sequence, &createdAt, &changedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-samlrequest", "saml request %s not found", requestID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-samlrequest-scan", "failed to read saml request")
	}
	r.CreatedAt = nanosToTime(createdAt)
	r.ChangedAt = nanosToTime(changedAt)
	return &r, nil
}

const sessionColumns = `instance_id, id, resource_owner, user_id, session_index, state,
	user_checked_at, check_method, termination_reason, last_activity, sequence, created_at, changed_at`

func scanSession(row interface{ Scan(...any) error }) (*Session, error) {
	var s Session
	var lastActivity, createdAt, changedAt int64
	err := row.Scan(&s.InstanceID, &s.ID, &s.ResourceOwner, &s.UserID, &s.SessionIndex, &s.State,
		&s.UserCheckedAt, &s.CheckMethod, &s.TerminationReason, &lastActivity,
		&s.Sequence, &createdAt, &changedAt)
	if err != nil {
		return nil, err
	}
	s.LastActivity = nanosToTime(lastActivity)
	s.CreatedAt = nanosToTime(createdAt)
	s.ChangedAt = nanosToTime(changedAt)
	return &s, nil
}

func (q *Queries) SessionByID(ctx context.Context, instanceID, sessionID string) (*Session, error) {
	if err := requireInstance(instanceID); err != nil {
		return nil, err
	}
	row := q.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE instance_id = ? AND id = ?`,
		instanceID, sessionID)
	session, err := scanSession(row)
	if err == sql.ErrNoRows {
		return nil, errs.ThrowNotFound(nil, "QUERY-session", "session %s not found", sessionID)
	}
	if err != nil {
		return nil, errs.ThrowInternal(err, "QUERY-session-scan", "failed to read session")
	}
	return session, nil
}

func (q *Queries) SearchSessions(ctx context.Context, search SessionSearch) ([]Session, int, error) {
	if err := requireInstance(search.InstanceID); err != nil {
		return nil, 0, err
	}
	where := ` WHERE instance_id = ?`
	args := []any{search.InstanceID}
	if search.UserID != "" {
		where += ` AND user_id = ?`
		args = append(args, search.UserID)
	}
	if search.SessionIndex != "" {
		where += ` AND session_index = ?`
		args = append(args, search.SessionIndex)
	}
	if search.State != "" {
		where += ` AND state = ?`
		args = append(args, string(search.State))
	}

	total, err := q.count(ctx, `SELECT COUNT(*) FROM sessions`+where, args...)
	if err != nil {
		return nil, 0, err
	}

	order, err := search.orderClause(map[string]bool{
		"state": true, "last_activity": true, "created_at": true, "changed_at": true,
	}, "created_at")
	if err != nil {
		return nil, 0, err
	}
	rows, err := q.queryRows(ctx, `SELECT `+sessionColumns+` FROM sessions`+where+order,
		append(args, search.limit(), search.Offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, errs.ThrowInternal(err, "QUERY-sessions-scan", "failed to read sessions")
		}
		sessions = append(sessions, *session)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, errs.ThrowInternal(err, "QUERY-sessions-rows", "failed to read sessions")
	}
	return sessions, total, nil
}
