package projection

import (
	"context"
	"database/sql"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const (
	SAMLRequestsProjection = "saml_requests"
	SessionsProjection     = "sessions"
)

type SAMLRequests struct{}

func NewSAMLRequests() *SAMLRequests { return &SAMLRequests{} }

func (*SAMLRequests) Name() string { return SAMLRequestsProjection }

func (*SAMLRequests) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS saml_requests (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			issuer         TEXT NOT NULL,
			acs_url        TEXT NOT NULL,
			relay_state    TEXT NOT NULL DEFAULT '',
			binding        TEXT NOT NULL DEFAULT '',
			state          TEXT NOT NULL,
			user_id        TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_saml_requests_issuer ON saml_requests (instance_id, issuer);`)
}

func (*SAMLRequests) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.SAMLRequestAddedType:
		var payload domain.SAMLRequestAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO saml_requests (instance_id, id, resource_owner, issuer, acs_url,
				relay_state, binding, state, user_id, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.Issuer, payload.ACSURL,
			payload.RelayState, payload.Binding, string(domain.SAMLRequestStateAdded), payload.UserID,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.SAMLRequestSucceededType:
		var payload domain.SAMLRequestSucceeded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE saml_requests SET state = ?, user_id = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(domain.SAMLRequestStateSucceeded), payload.UserID,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.SAMLRequestFailedType:
		var payload domain.SAMLRequestFailed
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE saml_requests SET state = ?, failure_reason = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(domain.SAMLRequestStateFailed), payload.Reason,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM saml_requests WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

type Sessions struct{}

func NewSessions() *Sessions { return &Sessions{} }

func (*Sessions) Name() string { return SessionsProjection }

func (*Sessions) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS sessions (
			instance_id       TEXT NOT NULL,
			id                TEXT NOT NULL,
			resource_owner    TEXT NOT NULL,
			user_id           TEXT NOT NULL DEFAULT '',
			session_index     TEXT NOT NULL DEFAULT '',
			state             TEXT NOT NULL,
			user_checked_at   TEXT NOT NULL DEFAULT '',
			check_method      TEXT NOT NULL DEFAULT '',
			termination_reason TEXT NOT NULL DEFAULT '',
			last_activity     INTEGER NOT NULL,
			sequence          INTEGER NOT NULL,
			created_at        INTEGER NOT NULL,
			changed_at        INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions (instance_id, user_id);
		CREATE INDEX IF NOT EXISTS idx_sessions_index ON sessions (instance_id, session_index);`)
}

func (*Sessions) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.SessionAddedType:
		var payload domain.SessionAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO sessions (instance_id, id, resource_owner, user_id, session_index,
				state, last_activity, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.UserID, payload.SessionIndex,
			string(domain.SessionStateActive), event.CreatedAt.UnixNano(),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.SessionTokenSetType:
		// tokens are write-side state only; bump activity
		return exec(ctx, tx, `
			UPDATE sessions SET last_activity = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			event.CreatedAt.UnixNano(),
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.SessionUserCheckedType:
		var payload domain.SessionUserChecked
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE sessions SET user_id = ?, user_checked_at = ?, check_method = ?,
				last_activity = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.UserID, payload.CheckedAt, payload.Method, event.CreatedAt.UnixNano(),
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.SessionTerminatedType:
		var payload domain.SessionTerminated
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE sessions SET state = ?, termination_reason = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(domain.SessionStateTerminated), payload.Reason,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.UserRemovedType:
		return exec(ctx, tx, `
			UPDATE sessions SET state = ?, termination_reason = 'user removed', changed_at = ?
			WHERE instance_id = ? AND user_id = ? AND state = ?`,
			string(domain.SessionStateTerminated), event.CreatedAt.UnixNano(),
			event.InstanceID, event.AggregateID, string(domain.SessionStateActive))

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM sessions WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}
