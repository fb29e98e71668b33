package projection

import (
	"context"
	"database/sql"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
)

const InstancesProjection = "instances"

type Instances struct{}

func NewInstances() *Instances { return &Instances{} }

func (*Instances) Name() string { return InstancesProjection }

func (*Instances) Init(ctx context.Context, db *sql.DB) error {
	return initTable(ctx, db, `
		CREATE TABLE IF NOT EXISTS instances (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			sequence   INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			changed_at INTEGER NOT NULL
		);`)
}

func (*Instances) Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error {
	switch domain.Normalize(event.Type) {
	case domain.InstanceAddedType:
		var payload domain.InstanceAdded
		if err := event.UnmarshalPayload(&payload); err != nil {
			return err
		}
		return exec(ctx, tx, `
			INSERT INTO instances (id, name, sequence, created_at, changed_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO NOTHING`,
			event.InstanceID, payload.Name,
			event.Version, event.CreatedAt.UnixNano(), event.CreatedAt.UnixNano())

	case domain.InstanceRemovedType:
		return exec(ctx, tx, `DELETE FROM instances WHERE id = ?`, event.InstanceID)
	}
	return nil
}
