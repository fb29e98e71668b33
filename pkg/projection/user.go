package projection

import (
	"context"
	"database/sql"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const UsersProjection = "users"

// Users materializes the user read model, including soft-deleted rows so
// audit queries keep resolving historical user ids.
type Users struct{}

func NewUsers() *Users { return &Users{} }

func (*Users) Name() string { return UsersProjection }

func (*Users) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS users (
			instance_id    TEXT NOT NULL,
			id             TEXT NOT NULL,
			resource_owner TEXT NOT NULL,
			type           TEXT NOT NULL,
			state          TEXT NOT NULL,
			username       TEXT NOT NULL,
			first_name     TEXT NOT NULL DEFAULT '',
			last_name      TEXT NOT NULL DEFAULT '',
			email          TEXT NOT NULL DEFAULT '',
			email_verified INTEGER NOT NULL DEFAULT 0,
			phone          TEXT NOT NULL DEFAULT '',
			phone_verified INTEGER NOT NULL DEFAULT 0,
			sequence       INTEGER NOT NULL,
			created_at     INTEGER NOT NULL,
			changed_at     INTEGER NOT NULL,
			PRIMARY KEY (instance_id, id)
		);
		CREATE INDEX IF NOT EXISTS idx_users_owner ON users (instance_id, resource_owner);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users (instance_id, username);`)
}

func (*Users) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.UserAddedType:
		var payload domain.UserAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO users (instance_id, id, resource_owner, type, state, username,
				first_name, last_name, email, phone, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner,
			string(domain.UserTypeHuman), string(domain.UserStateActive), payload.Username,
			payload.FirstName, payload.LastName, payload.Email, payload.Phone,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.UserMachineAddedType:
		var payload domain.UserMachineAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO users (instance_id, id, resource_owner, type, state, username,
				sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner,
			string(domain.UserTypeMachine), string(domain.UserStateActive), payload.Username,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.UserIDPProvisionedType:
		var payload domain.UserIDPProvisioned
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO users (instance_id, id, resource_owner, type, state, username,
				email, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (instance_id, id) DO NOTHING`,
			event.InstanceID, event.AggregateID, event.Owner,
			string(domain.UserTypeHuman), string(domain.UserStateActive), payload.Username,
			payload.Email, event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.UserProfileChangedType:
		var payload domain.UserProfileChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			UPDATE users SET
				first_name = COALESCE(?, first_name),
				last_name = COALESCE(?, last_name),
				sequence = ?, changed_at = ?
			WHERE instance_id = ? AND id = ?`,
			payload.FirstName, payload.LastName,
			event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.UserUsernameChangedType:
		var payload domain.UserUsernameChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return updateUser(ctx, tx, event, `username = ?`, payload.Username)

	case domain.UserEmailChangedType:
		var payload domain.UserEmailChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return updateUser(ctx, tx, event, `email = ?, email_verified = 0`, payload.Email)

	case domain.UserEmailVerifiedType:
		return updateUser(ctx, tx, event, `email_verified = 1`)

	case domain.UserPhoneChangedType:
		var payload domain.UserPhoneChanged
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return updateUser(ctx, tx, event, `phone = ?, phone_verified = 0`, payload.Phone)

	case domain.UserPhoneVerifiedType:
		return updateUser(ctx, tx, event, `phone_verified = 1`)

	case domain.UserPhoneRemovedType:
		return updateUser(ctx, tx, event, `phone = '', phone_verified = 0`)

	case domain.UserDeactivatedType:
		return updateUser(ctx, tx, event, `state = ?`, string(domain.UserStateInactive))

	case domain.UserReactivatedType, domain.UserUnlockedType:
		return updateUser(ctx, tx, event, `state = ?`, string(domain.UserStateActive))

	case domain.UserLockedType:
		return updateUser(ctx, tx, event, `state = ?`, string(domain.UserStateLocked))

	case domain.UserRemovedType:
		return updateUser(ctx, tx, event, `state = ?`, string(domain.UserStateDeleted))

	case domain.OrgRemovedType:
		// users keep their rows for audit, marked deleted
		return exec(ctx, tx,
			`UPDATE users SET state = ?, sequence = sequence, changed_at = ? WHERE instance_id = ? AND resource_owner = ?`,
			string(domain.UserStateDeleted), event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM users WHERE instance_id = ?`, event.InstanceID)
	}
	return nil
}

func updateUser(ctx context.Context, tx *sql.Tx, event *domain.Event, set string, args ...any) error {
	query := `UPDATE users SET ` + set + `, sequence = ?, changed_at = ? WHERE instance_id = ? AND id = ?`
	args = append(args, event.Version, event.CreatedAt.UnixNano(), event.InstanceID, event.AggregateID)
	return exec(ctx, tx, query, args...)
}
