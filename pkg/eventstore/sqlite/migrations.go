package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is one schema step. Migrations run in order inside a transaction
// and are recorded in schema_migrations; already-applied steps are skipped.
type migration struct {
	version int
	name    string
	stmts   []string
}

var migrations = []migration{
	{
		version: 1,
		name:    "events",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS events (
				event_id          TEXT    NOT NULL UNIQUE,
				instance_id       TEXT    NOT NULL,
				aggregate_type    TEXT    NOT NULL,
				aggregate_id      TEXT    NOT NULL,
				aggregate_version INTEGER NOT NULL,
				event_type        TEXT    NOT NULL,
				payload           BLOB,
				creator           TEXT    NOT NULL,
				owner             TEXT    NOT NULL,
				created_at        INTEGER NOT NULL,
				position          INTEGER NOT NULL,
				PRIMARY KEY (instance_id, aggregate_id, aggregate_version)
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS idx_events_position
				ON events (instance_id, position)`,
			`CREATE INDEX IF NOT EXISTS idx_events_event_type
				ON events (instance_id, event_type, position)`,
			`CREATE INDEX IF NOT EXISTS idx_events_aggregate_type
				ON events (instance_id, aggregate_type, position)`,
		},
	},
	{
		version: 2,
		name:    "unique_constraints",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS unique_constraints (
				instance_id TEXT    NOT NULL,
				index_name  TEXT    NOT NULL,
				value       TEXT    NOT NULL,
				aggregate_id TEXT   NOT NULL,
				created_at  INTEGER NOT NULL,
				PRIMARY KEY (instance_id, index_name, value)
			)`,
		},
	},
	{
		version: 3,
		name:    "positions",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS positions (
				instance_id TEXT PRIMARY KEY,
				position    INTEGER NOT NULL
			)`,
		},
	},
}

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at INTEGER NOT NULL
	)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	for _, m := range migrations {
		applied, err := migrationApplied(db, m.version)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin migration %d: %w", m.version, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.Exec(stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %d (%s) failed: %w", m.version, m.name, err)
			}
		}
		if _, err := tx.Exec(
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES (?, ?, strftime('%s','now'))`,
			m.version, m.name,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration %d: %w", m.version, err)
		}
	}
	return nil
}

func migrationApplied(db *sql.DB, version int) (bool, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check migration %d: %w", version, err)
	}
	return n > 0, nil
}
