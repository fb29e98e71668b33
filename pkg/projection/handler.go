// Package projection materializes read models from the event log. Each
// handler owns its tables; the engine drives catch-up from durable
// per-instance cursors and tails committed events through the bus.
package projection

import (
	"context"
	"database/sql"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

// Handler is one projection. Reduce runs inside the cursor transaction, so
// a row update and the cursor advance commit atomically.
type Handler interface {
	// Name is the unique projection name, used as the cursor key.
	Name() string

	// Init creates the read-model tables. It must be idempotent.
	Init(ctx context.Context, db *sql.DB) error

	// Reduce applies one event. Events the handler does not care about must
	// be ignored, not rejected: an error rolls the batch back, holds the
	// cursor and schedules a retry.
	Reduce(ctx context.Context, tx *sql.Tx, event *domain.Event) error
}

func exec(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return errs.ThrowInternal(err, "PROJ-exec", "failed to update read model")
	}
	return nil
}

func initTable(ctx context.Context, db *sql.DB, schema string) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return errs.ThrowInternal(err, "PROJ-init", "failed to create read model table")
	}
	return nil
}
