package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const AppsProjection = "apps"

// Apps covers OIDC, SAML and API applications in one table; the type
// column discriminates which of the optional columns are meaningful.
type Apps struct{}

func NewApps() *Apps { return &Apps{} }

func (*Apps) Name() string { return AppsProjection }

func (*Apps) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS apps (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			project_id     TEXT NOT NULL,
			type           TEXT NOT NULL,
			state          TEXT NOT NULL,
			name           TEXT NOT NULL,
			client_id      TEXT NOT NULL DEFAULT '',
			entity_id      TEXT NOT NULL DEFAULT '',
			metadata_url   TEXT NOT NULL DEFAULT '',
			acs_url        TEXT NOT NULL DEFAULT '',
			redirect_uris  TEXT NOT NULL DEFAULT '[]',
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_apps_project ON apps (instance_id, project_id);
		CREATE INDEX IF NOT EXISTS idx_apps_client ON apps (instance_id, client_id);
		CREATE INDEX IF NOT EXISTS idx_apps_entity ON apps (instance_id, entity_id);`)
}

func (*Apps) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.AppOIDCAddedType:
		var payload domain.AppOIDCAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		uris, err := json.Marshal(payload.RedirectURIs)
		if err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO apps (instance_id, id, resource_owner, project_id, type, state, name,
				client_id, redirect_uris, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.ProjectID,
			string(domain.AppTypeOIDC), string(domain.AppStateActive), payload.Name,
			payload.ClientID, string(uris),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.AppOIDCChangedType:
		var payload domain.AppOIDCChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		var uris *string
		if payload.RedirectURIs != nil {
			data, err := json.Marshal(payload.RedirectURIs)
			if err != nil {
				return err
			}
			s := string(data)
			uris = &s
		}
		return exec(ctx, tx, `
			UPDATE apps SET
				name = COALESCE(?, name),
				redirect_uris = COALESCE(?, redirect_uris),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, uris,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.AppSAMLAddedType:
		var payload domain.AppSAMLAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO apps (instance_id, id, resource_owner, project_id, type, state, name,
				entity_id, metadata_url, acs_url, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.ProjectID,
			string(domain.AppTypeSAML), string(domain.AppStateActive), payload.Name,
			payload.EntityID, payload.MetadataURL, payload.ACSURL,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.AppSAMLChangedType:
		var payload domain.AppSAMLChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE apps SET
				name = COALESCE(?, name),
				metadata_url = COALESCE(?, metadata_url),
				acs_url = COALESCE(?, acs_url),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, payload.MetadataURL, payload.ACSURL,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.AppAPIAddedType:
		var payload domain.AppAPIAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO apps (instance_id, id, resource_owner, project_id, type, state, name,
				client_id, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner, payload.ProjectID,
			string(domain.AppTypeAPI), string(domain.AppStateActive), payload.Name,
			payload.ClientID,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.AppAPIChangedType:
		var payload domain.AppAPIChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE apps SET name = COALESCE(?, name), sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.AppDeactivatedType:
		return updateAppState(ctx, tx, event, domain.AppStateInactive)

	case domain.AppReactivatedType:
		return updateAppState(ctx, tx, event, domain.AppStateActive)

	case domain.AppRemovedType:
		return exec(ctx, tx, `DELETE FROM apps WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.ProjectRemovedType:
		return exec(ctx, tx, `DELETE FROM apps WHERE instance_id = ? AND project_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.OrgRemovedType:
		return exec(ctx, tx, `DELETE FROM apps WHERE instance_id = ? AND resource_owner = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM apps WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func updateAppState(ctx context.Context, tx *sql.Tx, event *domain.Event, state domain.AppState) error {
	return exec(ctx, tx, `
		UPDATE apps SET state = ?, sequence = ?, changed_at = ?
		WHERE instance_id = ? AND id = ?`,
		string(state), event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)
}
