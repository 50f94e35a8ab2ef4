// Package statedb persists session metadata in a SQLite database so the
// console can rediscover its sessions across restarts. Persistence is a
// best-effort collaborator: callers log and continue when a write fails.
package statedb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	_ "modernc.org/sqlite"
)

// SchemaVersion tracks the current database schema version.
// Bump this when adding migrations.
const SchemaVersion = 1

// StateDB wraps a SQLite database for session metadata persistence.
// Thread-safe for concurrent use from multiple goroutines within one process.
// Multiple OS processes can safely read/write via WAL mode + busy timeout.
type StateDB struct {
	db *sql.DB
}

// SessionRow is the persisted metadata for one session.
type SessionRow struct {
	ID           string
	Name         string // sanitized tmux session name, unique
	Label        string // user-facing label before sanitization
	WorkDir      string
	Kind         string // "local" or "remote"
	RemoteURL    string
	Activity     string
	CreatedAt    time.Time
	LastAttached time.Time
}

// Open opens (creating if needed) the database at dbPath.
func Open(dbPath string) (*StateDB, error) {
	// Ensure parent directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("statedb: mkdir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("statedb: open: %w", err)
	}

	// WAL mode: allows concurrent readers while writing
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: wal mode: %w", err)
	}

	// Busy timeout: wait up to 5s if another process holds a lock
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("statedb: busy timeout: %w", err)
	}

	return &StateDB{db: db}, nil
}

// Close checkpoints WAL and closes the database.
func (s *StateDB) Close() error {
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// DB returns the underlying sql.DB for advanced use cases (e.g., testing).
func (s *StateDB) DB() *sql.DB {
	return s.db
}

// Migrate creates tables if they don't exist and records the schema version.
func (s *StateDB) Migrate() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("statedb: begin migrate: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS metadata (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)
	`); err != nil {
		return fmt.Errorf("statedb: create metadata: %w", err)
	}

	if _, err := tx.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id            TEXT PRIMARY KEY,
			name          TEXT NOT NULL UNIQUE,
			label         TEXT NOT NULL,
			work_dir      TEXT NOT NULL DEFAULT '',
			kind          TEXT NOT NULL DEFAULT 'local',
			remote_url    TEXT NOT NULL DEFAULT '',
			activity      TEXT NOT NULL DEFAULT 'unknown',
			created_at    INTEGER NOT NULL,
			last_attached INTEGER NOT NULL DEFAULT 0
		)
	`); err != nil {
		return fmt.Errorf("statedb: create sessions: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES ('schema_version', ?)",
		strconv.Itoa(SchemaVersion),
	); err != nil {
		return fmt.Errorf("statedb: set schema version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("statedb: commit migrate: %w", err)
	}
	return nil
}

// Save inserts or replaces a session row.
func (s *StateDB) Save(row *SessionRow) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sessions (
			id, name, label, work_dir, kind, remote_url, activity,
			created_at, last_attached
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		row.ID, row.Name, row.Label, row.WorkDir, row.Kind, row.RemoteURL,
		row.Activity, row.CreatedAt.Unix(), row.LastAttached.Unix(),
	)
	if err != nil {
		return fmt.Errorf("statedb: save %s: %w", row.Name, err)
	}
	return nil
}

// SaveAll replaces the full session set in a single transaction. Rows not in
// the provided list are deleted so removed sessions don't reappear on reload.
func (s *StateDB) SaveAll(rows []*SessionRow) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if len(rows) == 0 {
		if _, err := tx.Exec("DELETE FROM sessions"); err != nil {
			return err
		}
		return tx.Commit()
	}

	names := make([]any, 0, len(rows))
	placeholders := ""
	for i, row := range rows {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		names = append(names, row.Name)
	}
	if _, err := tx.Exec(
		"DELETE FROM sessions WHERE name NOT IN ("+placeholders+")", names...,
	); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO sessions (
			id, name, label, work_dir, kind, remote_url, activity,
			created_at, last_attached
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(
			row.ID, row.Name, row.Label, row.WorkDir, row.Kind, row.RemoteURL,
			row.Activity, row.CreatedAt.Unix(), row.LastAttached.Unix(),
		); err != nil {
			return fmt.Errorf("statedb: save %s: %w", row.Name, err)
		}
	}
	return tx.Commit()
}

// LoadAll returns all persisted sessions ordered by creation time.
func (s *StateDB) LoadAll() ([]*SessionRow, error) {
	rows, err := s.db.Query(`
		SELECT id, name, label, work_dir, kind, remote_url, activity,
		       created_at, last_attached
		FROM sessions ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("statedb: load: %w", err)
	}
	defer rows.Close()

	var out []*SessionRow
	for rows.Next() {
		var row SessionRow
		var created, attached int64
		if err := rows.Scan(
			&row.ID, &row.Name, &row.Label, &row.WorkDir, &row.Kind,
			&row.RemoteURL, &row.Activity, &created, &attached,
		); err != nil {
			return nil, fmt.Errorf("statedb: scan: %w", err)
		}
		row.CreatedAt = time.Unix(created, 0)
		row.LastAttached = time.Unix(attached, 0)
		out = append(out, &row)
	}
	return out, rows.Err()
}

// Delete removes a session row by name. Missing rows are not an error.
func (s *StateDB) Delete(name string) error {
	_, err := s.db.Exec("DELETE FROM sessions WHERE name = ?", name)
	return err
}

// SetMeta stores a key/value pair in the metadata table.
func (s *StateDB) SetMeta(key, value string) error {
	_, err := s.db.Exec(
		"INSERT OR REPLACE INTO metadata (key, value) VALUES (?, ?)", key, value,
	)
	return err
}

// GetMeta reads a metadata value. Returns "" if the key doesn't exist.
func (s *StateDB) GetMeta(key string) (string, error) {
	var value string
	err := s.db.QueryRow(
		"SELECT value FROM metadata WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
