// Package storage provides SQLite-backed persistence for holdings, notification settings,
// the deduplication ledger, and the in-app inbox.
package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/stockpulse/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "stockpulse", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS holdings (
			user_id     TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			shares      TEXT NOT NULL DEFAULT '0',
			avg_cost    TEXT NOT NULL DEFAULT '0',
			created_at  INTEGER NOT NULL,
			PRIMARY KEY (user_id, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS notification_settings (
			user_id          TEXT PRIMARY KEY,
			telegram_enabled INTEGER NOT NULL DEFAULT 0,
			telegram_chat_id INTEGER NOT NULL DEFAULT 0,
			in_app_enabled   INTEGER NOT NULL DEFAULT 0,
			voice_enabled    INTEGER NOT NULL DEFAULT 0,
			mode             TEXT NOT NULL DEFAULT 'all'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_settings_chat ON notification_settings(telegram_chat_id)`,
		`CREATE TABLE IF NOT EXISTS sent_notifications (
			user_id     TEXT NOT NULL,
			symbol      TEXT NOT NULL,
			event_kind  TEXT NOT NULL,
			sent_at     INTEGER NOT NULL,
			expires_at  INTEGER NOT NULL,
			UNIQUE (user_id, symbol, event_kind)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sent_expires_at ON sent_notifications(expires_at)`,
		`CREATE TABLE IF NOT EXISTS inbox_notifications (
			id          TEXT PRIMARY KEY,
			user_id     TEXT NOT NULL,
			kind        TEXT NOT NULL,
			title       TEXT NOT NULL,
			body        TEXT NOT NULL,
			segments    TEXT NOT NULL DEFAULT '[]',
			audio_urls  TEXT NOT NULL DEFAULT '[]',
			severity    TEXT,
			symbols     TEXT NOT NULL DEFAULT '[]',
			created_at  INTEGER NOT NULL,
			read        INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_inbox_user_created ON inbox_notifications(user_id, created_at DESC)`,
		`CREATE TABLE IF NOT EXISTS audio_clips (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			content_type TEXT NOT NULL,
			data         BLOB NOT NULL,
			created_at   INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_audio_created ON audio_clips(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
