package projection

import (
	"context"
	"database/sql"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const (
	OrgsProjection       = "orgs"
	OrgDomainsProjection = "org_domains"
)

type Orgs struct{}

func NewOrgs() *Orgs { return &Orgs{} }

func (*Orgs) Name() string { return OrgsProjection }

func (*Orgs) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS orgs (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			name           TEXT NOT NULL,
			state          TEXT NOT NULL,
			primary_domain TEXT NOT NULL DEFAULT '',
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_orgs_name ON orgs (instance_id, name);`)
}

func (*Orgs) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.OrgAddedType:
		var payload domain.OrgAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO orgs (instance_id, id, name, state, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, payload.Name, string(domain.OrgStateActive),
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.OrgChangedType:
		var payload domain.OrgChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE orgs SET name = COALESCE(?, name), sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Name, event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.OrgDeactivatedType:
		return updateOrgState(ctx, tx, event, domain.OrgStateInactive)

	case domain.OrgReactivatedType:
		return updateOrgState(ctx, tx, event, domain.OrgStateActive)

	case domain.OrgDomainPrimarySetType:
		var payload domain.OrgDomainPrimarySet
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE orgs SET primary_domain = ?, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.Domain, event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.OrgRemovedType:
		return exec(ctx, tx, `DELETE FROM orgs WHERE instance_id = ? AND id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM orgs WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func updateOrgState(ctx context.Context, tx *sql.Tx, event *domain.Event, state domain.OrgState) error {
	return exec(ctx, tx, `
		UPDATE orgs SET state = ?, sequence = ?, changed_at = ?
		WHERE instance_id = ? AND id = ?`,
		string(state), event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)
}

type OrgDomains struct{}

func NewOrgDomains() *OrgDomains { return &OrgDomains{} }

func (*OrgDomains) Name() string { return OrgDomainsProjection }

func (*OrgDomains) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS org_domains (
			instance_id TEXT NOT NULL,
			org_id      TEXT NOT NULL,
			domain      TEXT NOT NULL,
			verified    INTEGER NOT NULL DEFAULT 0,
			is_primary  INTEGER NOT NULL DEFAULT 0,
			sequence    INTEGER NOT NULL,
			created_at  INTEGER NOT NULL,
			changed_at  INTEGER NOT NULL,
			PRIMARY KEY (instance_id, org_id, domain)
		);`)
}

func (*OrgDomains) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.OrgDomainAddedType:
		var payload domain.OrgDomainAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO org_domains (instance_id, org_id, domain, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, org_id, domain) DO NOTHING`,
			event.InstanceID, event.AggregateID, payload.Domain,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.OrgDomainVerifiedType:
		var payload domain.OrgDomainVerified
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE org_domains SET verified = 1, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND org_id = ? AND domain = ?`,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID, payload.Domain)

	case domain.OrgDomainPrimarySetType:
		var payload domain.OrgDomainPrimarySet
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		if err := exec(ctx, tx, `
			UPDATE org_domains SET is_primary = 0, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND org_id = ? AND is_primary = 1`,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE org_domains SET is_primary = 1, sequence = ?, changed_at = ?
			WHERE instance_id = ? AND org_id = ? AND domain = ?`,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID, payload.Domain)

	case domain.OrgDomainRemovedType:
		var payload domain.OrgDomainRemoved
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			DELETE FROM org_domains WHERE instance_id = ? AND org_id = ? AND domain = ?`,
			event.InstanceID, event.AggregateID, payload.Domain)

	case domain.OrgRemovedType:
		return exec(ctx, tx, `DELETE FROM org_domains WHERE instance_id = ? AND org_id = ?`,
			event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM org_domains WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}
