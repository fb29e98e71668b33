package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const (
	IDPsProjection       = "idps"
	IDPIntentsProjection = "idp_intents"
)

// IDPs keeps provider configuration without secrets; client secrets stay
// in the event payloads and are only read by the write side.
type IDPs struct{}

func NewIDPs() *IDPs { return &IDPs{} }

func (*IDPs) Name() string { return IDPsProjection }

func (*IDPs) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS idps (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			type           TEXT NOT NULL,
			name           TEXT NOT NULL,
			client_id      TEXT NOT NULL DEFAULT '',
			issuer         TEXT NOT NULL DEFAULT '',
			auth_url       TEXT NOT NULL DEFAULT '',
			token_url      TEXT NOT NULL DEFAULT '',
			user_url       TEXT NOT NULL DEFAULT '',
			scopes         TEXT NOT NULL DEFAULT '[]',
			metadata_url   TEXT NOT NULL DEFAULT '',
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);`)
}

func (*IDPs) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.IDPOAuthAddedType:
		var payload domain.IDPOAuthAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		scopes, err := json.Marshal(payload.Scopes)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO idps (instance_id, id, resource_owner, type, name,
				client_id, auth_url, token_url, user_url, scopes, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, string(domain.IDPTypeOAuth), payload.Name,
			payload.ClientID, payload.AuthURL, payload.TokenURL, payload.UserURL, string(scopes),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.IDPOAuthChangedType:
		var payload domain.IDPOAuthChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		scopes, err := marshalOptionalStrings(payload.Scopes)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE idps SET
				name = COALESCE(?, name),
				client_id = COALESCE(?, client_id),
				auth_url = COALESCE(?, auth_url),
				token_url = COALESCE(?, token_url),
				user_url = COALESCE(?, user_url),
				scopes = COALESCE(?, scopes),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, payload.ClientID, payload.AuthURL, payload.TokenURL, payload.UserURL, scopes,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.IDPOIDCAddedType:
		var payload domain.IDPOIDCAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		scopes, err := json.Marshal(payload.Scopes)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO idps (instance_id, id, resource_owner, type, name,
				client_id, issuer, scopes, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, string(domain.IDPTypeOIDC), payload.Name,
			payload.ClientID, payload.Issuer, string(scopes),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.IDPOIDCChangedType:
		var payload domain.IDPOIDCChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		scopes, err := marshalOptionalStrings(payload.Scopes)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE idps SET
				name = COALESCE(?, name),
				client_id = COALESCE(?, client_id),
				issuer = COALESCE(?, issuer),
				scopes = COALESCE(?, scopes),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, payload.ClientID, payload.Issuer, scopes,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.IDPSAMLAddedType:
		var payload domain.IDPSAMLAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO idps (instance_id, id, resource_owner, type, name,
				metadata_url, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, string(domain.IDPTypeSAML), payload.Name,
			payload.MetadataURL,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.IDPSAMLChangedType:
		var payload domain.IDPSAMLChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE idps SET
				name = COALESCE(?, name),
				metadata_url = COALESCE(?, metadata_url),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, payload.MetadataURL,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.IDPRemovedType:
		return exec(ctx, tx, `DELETE FROM idps WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM idps WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func marshalOptionalStrings(values []string) (*string, error) {
	if values == nil {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	s := string(data)
	return &s, nil
}

// IDPIntents tracks federated login flows, keyed additionally by the CSRF
// state token so callbacks can resolve the intent in one lookup.
type IDPIntents struct{}

func NewIDPIntents() *IDPIntents { return &IDPIntents{} }

func (*IDPIntents) Name() string { return IDPIntentsProjection }

func (*IDPIntents) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS idp_intents (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			idp_id         TEXT NOT NULL,
			idp_type       TEXT NOT NULL,
			state          TEXT NOT NULL,
			state_token    TEXT NOT NULL,
			user_id        TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			expires_at     INTEGER NOT NULL,
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_idp_intents_state_token ON idp_intents (instance_id, state_token);`)
}

func (*IDPIntents) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.IDPIntentStartedType:
		var payload domain.IDPIntentStarted
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO idp_intents (instance_id, id, resource_owner, idp_id, idp_type,
				state, state_token, expires_at, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.IDPID, string(payload.IDPType),
			string(domain.IntentStateStarted), payload.State, payload.ExpiresAt.UnixNano(),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.IDPIntentSucceededType:
		var payload domain.IDPIntentSucceeded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE idp_intents SET state = ?, user_id = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(domain.IntentStateSucceeded), payload.UserID,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.IDPIntentFailedType:
		var payload domain.IDPIntentFailed
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE idp_intents SET state = ?, failure_reason = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			string(domain.IntentStateFailed), payload.Reason,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.IDPRemovedType:
		// open flows against a removed provider cannot complete
		return exec(ctx, tx, `
			UPDATE idp_intents SET state = ?, failure_reason = 'idp removed', changed_at = ?
			WHERE instance_id = ? AND idp_id = ? AND state = ?`,
			string(domain.IntentStateFailed), event.CreatedAt.UnixNano(),
			event.InstanceID, event.AggregateID, string(domain.IntentStateStarted))

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM idp_intents WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}
