package db

import (
	"database/sql"
	"errors"
	"fmt"
)

// Migration is one schema step. Versions are applied in order and never
// edited once released.
type Migration struct {
	Version int
	Name    string
	Up      string
}

var migrations = []Migration{
	{
		Version: 1,
		Name:    "status_events",
		Up: `
CREATE TABLE IF NOT EXISTS status_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    timestamp TEXT NOT NULL,
    sid TEXT NOT NULL,
    from_status TEXT NOT NULL DEFAULT '',
    to_status TEXT NOT NULL,
    message TEXT NOT NULL DEFAULT '',
    link TEXT NOT NULL DEFAULT '',
    phone TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_status_events_sid ON status_events(sid, id);
`,
	},
	{
		Version: 2,
		Name:    "gateway_runs",
		Up: `
CREATE TABLE IF NOT EXISTS gateway_runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    sid TEXT NOT NULL,
    run_id TEXT NOT NULL,
    pid INTEGER NOT NULL DEFAULT 0,
    started_at TEXT NOT NULL,
    ended_at TEXT,
    exit_code INTEGER,
    outcome TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_gateway_runs_sid ON gateway_runs(sid, id);
`,
	},
}

// RunMigrations brings the schema to the newest version. Each migration runs
// in its own transaction together with its schema_version row.
func RunMigrations(conn *sql.DB) error {
	if conn == nil {
		return errors.New("run migrations: no connection")
	}
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var current int
	if err := conn.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&current); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		if err := apply(conn, m); err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return nil
}

func apply(conn *sql.DB, m Migration) error {
	tx, err := conn.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.Up); err != nil {
		return err
	}
	if _, err := tx.Exec(`INSERT INTO schema_version(version) VALUES (?)`, m.Version); err != nil {
		return err
	}
	return tx.Commit()
}
