// This file implements an SQLite-backed session store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

var sqliteQueries = sessionQueries{
	get: `SELECT state, language, interpreter, dream_text, answers, current_question, count_ai_requests, created_at
		FROM sessions WHERE user_id = ? AND expires_at > ?`,
	upsert: `INSERT INTO sessions (user_id, state, language, interpreter, dream_text, answers,
			current_question, count_ai_requests, created_at, updated_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state = excluded.state,
			language = excluded.language,
			interpreter = excluded.interpreter,
			dream_text = excluded.dream_text,
			answers = excluded.answers,
			current_question = excluded.current_question,
			count_ai_requests = excluded.count_ai_requests,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at`,
	remove:      `DELETE FROM sessions WHERE user_id = ?`,
	listByState: `SELECT user_id FROM sessions WHERE state = ? AND expires_at > ?`,
	sweep:       `DELETE FROM sessions WHERE expires_at <= ?`,
	countActive: `SELECT COUNT(*) FROM sessions WHERE expires_at > ?`,

	recordDelivery:  `INSERT OR IGNORE INTO inbound_dedup (delivery_id, user_id, received_at) VALUES (?, ?, ?)`,
	sweepDeliveries: `DELETE FROM inbound_dedup WHERE received_at < ?`,
}

// SQLiteStore persists sessions in a local SQLite file.
type SQLiteStore struct {
	*sqlSessionStore
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	if dsn != ":memory:" {
		dir := filepath.Dir(dsn)
		if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
			slog.Error("Failed to create database directory", "error", err, "dir", dir)
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		slog.Debug("SQLite database directory verified/created", "dir", dir)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	// a single writer keeps SQLite from returning SQLITE_BUSY under concurrent turns
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{&sqlSessionStore{
		name: "SQLiteStore",
		db:   db,
		q:    sqliteQueries,
		ttl:  cfg.TTL,
		now:  cfg.Now,
	}}, nil
}
