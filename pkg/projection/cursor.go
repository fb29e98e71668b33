package projection

import (
	"context"
	"database/sql"
	"time"

	"github.com/gatehouse-id/gatehouse/pkg/domain"
	"github.com/gatehouse-id/gatehouse/pkg/errs"
)

const cursorSchema = `
CREATE TABLE IF NOT EXISTS projection_cursors (
	projection_name TEXT NOT NULL,
	instance_id     TEXT NOT NULL,
	position        INTEGER NOT NULL,
	updated_at      INTEGER NOT NULL,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (projection_name, instance_id)
);
CREATE TABLE IF NOT EXISTS projection_failed_events (
	projection_name TEXT NOT NULL,
	instance_id     TEXT NOT NULL,
	event_id        TEXT NOT NULL,
	position        INTEGER NOT NULL,
	event_type      TEXT NOT NULL,
	error           TEXT NOT NULL,
	failed_at       INTEGER NOT NULL,
	PRIMARY KEY (projection_name, event_id)
);`

func ensureCursorTables(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, cursorSchema); err != nil {
		return errs.ThrowInternal(err, "PROJ-cursor-schema", "failed to create cursor tables")
	}
	return nil
}

// loadCursor returns the last processed position of a projection for one
// instance, 0 when the projection never ran.
func loadCursor(ctx context.Context, db *sql.DB, projectionName, instanceID string) (int64, error) {
	var position int64
	err := db.QueryRowContext(ctx,
		`SELECT position FROM projection_cursors WHERE projection_name = ? AND instance_id = ?`,
		projectionName, instanceID,
	).Scan(&position)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, errs.ThrowInternal(err, "PROJ-cursor-load", "failed to load cursor")
	}
	return position, nil
}

// saveCursorTx advances the cursor inside the reduce transaction. A
// successful batch clears the failure state.
func saveCursorTx(ctx context.Context, tx *sql.Tx, projectionName, instanceID string, position int64, now time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projection_cursors (projection_name, instance_id, position, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (projection_name, instance_id) DO UPDATE SET
			position = excluded.position,
			updated_at = excluded.updated_at,
			failure_count = 0,
			last_error = ''`,
		projectionName, instanceID, position, now.UnixNano(),
	)
	if err != nil {
		return errs.ThrowInternal(err, "PROJ-cursor-save", "failed to save cursor")
	}
	return nil
}

// recordReduceFailure runs after the batch transaction rolled back: it bumps
// failure_count and last_error on the cursor row without moving the position,
// and upserts the event into the operator-facing failed-event log.
func recordReduceFailure(ctx context.Context, db *sql.DB, projectionName, instanceID string, event *domain.Event, reduceErr error, now time.Time) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errs.ThrowInternal(err, "PROJ-failure-begin", "failed to begin failure transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projection_cursors (projection_name, instance_id, position, updated_at, failure_count, last_error)
		VALUES (?, ?, 0, ?, 1, ?)
		ON CONFLICT (projection_name, instance_id) DO UPDATE SET
			failure_count = failure_count + 1,
			last_error = excluded.last_error`,
		projectionName, instanceID, now.UnixNano(), reduceErr.Error(),
	)
	if err != nil {
		return errs.ThrowInternal(err, "PROJ-failure-save", "failed to record reduce failure")
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projection_failed_events
			(projection_name, instance_id, event_id, position, event_type, error, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (projection_name, event_id) DO UPDATE SET
			error = excluded.error,
			failed_at = excluded.failed_at`,
		projectionName, instanceID, event.ID, event.Position, event.Type, reduceErr.Error(), now.UnixNano(),
	)
	if err != nil {
		return errs.ThrowInternal(err, "PROJ-failed-save", "failed to record failed event")
	}

	if err := tx.Commit(); err != nil {
		return errs.ThrowInternal(err, "PROJ-failure-commit", "failed to commit failure record")
	}
	return nil
}
