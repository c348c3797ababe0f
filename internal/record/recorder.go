package record

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Recorder is the durable, append-only log of run/stage/gate transitions.
// Every write happens synchronously before the engine proceeds, so this log
// plus the artifact store is the authoritative record on crash recovery.
type Recorder struct {
	conn *sql.DB
	path string
}

// DefaultPath returns ~/.lockstep/lockstep.db, creating the directory if needed.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".lockstep")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "lockstep.db"), nil
}

// Open opens or creates the database at the given path.
func Open(path string) (*Recorder, error) {
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	return &Recorder{conn: conn, path: path}, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	return r.conn.Close()
}

const schemaV1 = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline    TEXT NOT NULL,
    number      INTEGER NOT NULL,
    status      TEXT NOT NULL CHECK(status IN ('Pending','Running','Succeeded','Failed','Aborted')),
    reason      TEXT,
    started_at  TEXT,
    finished_at TEXT,
    created_at  TEXT NOT NULL DEFAULT (datetime('now')),
    UNIQUE(pipeline, number)
);

CREATE TABLE IF NOT EXISTS stage_results (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline   TEXT NOT NULL,
    run_number INTEGER NOT NULL,
    stage      TEXT NOT NULL,
    status     TEXT NOT NULL CHECK(status IN ('Pending','Running','Passed','Failed','Skipped')),
    exit_code  INTEGER,
    reason     TEXT,
    output_ref TEXT,
    timestamp  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_stage_run ON stage_results(pipeline, run_number, stage, id DESC);

CREATE TABLE IF NOT EXISTS gate_results (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline   TEXT NOT NULL,
    run_number INTEGER NOT NULL,
    stage      TEXT NOT NULL,
    policy     TEXT NOT NULL,
    passed     BOOLEAN NOT NULL,
    reason     TEXT,
    timestamp  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_gate_run ON gate_results(pipeline, run_number, stage);

CREATE TABLE IF NOT EXISTS run_events (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    pipeline   TEXT NOT NULL,
    run_number INTEGER NOT NULL,
    stage      TEXT,
    event      TEXT NOT NULL,
    detail     TEXT,
    timestamp  TEXT NOT NULL DEFAULT (datetime('now'))
);
CREATE INDEX IF NOT EXISTS idx_event_run ON run_events(pipeline, run_number, id);
`

// Migrate applies the database schema.
func (r *Recorder) Migrate() error {
	var count int
	err := r.conn.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := r.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(schemaV1); err != nil {
		return fmt.Errorf("apply schema v1: %w", err)
	}
	if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (1)"); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}
