// This file implements a PostgreSQL-backed session store.

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

var postgresQueries = sessionQueries{
	get: `SELECT state, language, interpreter, dream_text, answers, current_question, count_ai_requests, created_at
		FROM sessions WHERE user_id = $1 AND expires_at > $2`,
	upsert: `INSERT INTO sessions (user_id, state, language, interpreter, dream_text, answers,
			current_question, count_ai_requests, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id) DO UPDATE SET
			state = EXCLUDED.state,
			language = EXCLUDED.language,
			interpreter = EXCLUDED.interpreter,
			dream_text = EXCLUDED.dream_text,
			answers = EXCLUDED.answers,
			current_question = EXCLUDED.current_question,
			count_ai_requests = EXCLUDED.count_ai_requests,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at`,
	remove:      `DELETE FROM sessions WHERE user_id = $1`,
	listByState: `SELECT user_id FROM sessions WHERE state = $1 AND expires_at > $2`,
	sweep:       `DELETE FROM sessions WHERE expires_at <= $1`,
	countActive: `SELECT COUNT(*) FROM sessions WHERE expires_at > $1`,

	recordDelivery: `INSERT INTO inbound_dedup (delivery_id, user_id, received_at) VALUES ($1, $2, $3)
		ON CONFLICT (delivery_id) DO NOTHING`,
	sweepDeliveries: `DELETE FROM inbound_dedup WHERE received_at < $1`,
}

// PostgresStore persists sessions in PostgreSQL.
type PostgresStore struct {
	*sqlSessionStore
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	cfg := applyOpts(opts)
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		db.Close()
		return nil, err
	}
	slog.Debug("Postgres ping successful")

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{&sqlSessionStore{
		name: "PostgresStore",
		db:   db,
		q:    postgresQueries,
		ttl:  cfg.TTL,
		now:  cfg.Now,
	}}, nil
}
