// Package store provides SQLite persistence for subscriptions, files, the
// download queue, and the archive ledger.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Store manages the SQLite database.
type Store struct {
	db *sql.DB
}

// New creates a Store with the given database path.
// Use ":memory:" for an in-memory database (useful for testing).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db}
	if err := store.createSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS subscriptions (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		is_playlist INTEGER NOT NULL DEFAULT 0,
		type TEXT NOT NULL DEFAULT 'video',
		max_quality TEXT NOT NULL DEFAULT '',
		custom_output TEXT NOT NULL DEFAULT '',
		custom_args TEXT NOT NULL DEFAULT '',
		timerange TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		paused INTEGER NOT NULL DEFAULT 0,
		downloading INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_subscriptions_identity
		ON subscriptions(name, is_playlist, owner_id) WHERE name != '';

	CREATE TABLE IF NOT EXISTS files (
		uid TEXT PRIMARY KEY,
		sub_id TEXT NOT NULL,
		url TEXT NOT NULL,
		path TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		upload_date TEXT NOT NULL DEFAULT '',
		fresh_upload INTEGER NOT NULL DEFAULT 0,
		height REAL NOT NULL DEFAULT 0,
		abr REAL NOT NULL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_files_sub_url ON files(sub_id, url);
	CREATE INDEX IF NOT EXISTS idx_files_sub_path ON files(sub_id, path);

	CREATE TABLE IF NOT EXISTS download_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sub_id TEXT NOT NULL,
		url TEXT NOT NULL,
		running INTEGER NOT NULL DEFAULT 0,
		finished INTEGER NOT NULL DEFAULT 0,
		error TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_queue_sub_url ON download_queue(sub_id, url);

	CREATE TABLE IF NOT EXISTS archives (
		extractor TEXT NOT NULL,
		external_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		owner_id TEXT NOT NULL DEFAULT '',
		sub_id TEXT NOT NULL,
		PRIMARY KEY (extractor, external_id, type, owner_id, sub_id)
	);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Helper functions for boolean<->int conversion (SQLite has no BOOLEAN type)
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func unixToTime(unix int64) time.Time {
	return time.Unix(unix, 0)
}
