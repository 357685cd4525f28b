package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// sessionQueries holds the dialect-specific statements for the sessions table.
type sessionQueries struct {
	get         string
	upsert      string
	remove      string
	listByState string
	sweep       string
	countActive string

	recordDelivery  string
	sweepDeliveries string
}

// sqlSessionStore implements SessionStore over database/sql. SQLiteStore and
// PostgresStore differ only in driver setup and statement dialect.
type sqlSessionStore struct {
	name      string
	db        *sql.DB
	q         sessionQueries
	ttl       time.Duration
	now       func() time.Time
	closeOnce sync.Once
	closeErr  error
}

func (s *sqlSessionStore) Get(ctx context.Context, userID string) (models.Session, error) {
	now := s.now()
	var (
		sess                  models.Session
		state                 string
		language, interpreter sql.NullString
		dream                 sql.NullString
		answers               string
		createdAt             int64
	)
	err := s.db.QueryRowContext(ctx, s.q.get, userID, now.UnixMilli()).Scan(
		&state, &language, &interpreter, &dream, &answers,
		&sess.CurrentQuestion, &sess.CountAIRequests, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		slog.Debug(s.name+" Get miss", "userID", userID)
		return models.NewSession(now), nil
	}
	if err != nil {
		slog.Error(s.name+" Get failed", "error", err, "userID", userID)
		return models.Session{}, fmt.Errorf("failed to load session for %s: %w", userID, err)
	}

	sess.State = models.State(state)
	sess.Language = language.String
	sess.Interpreter = interpreter.String
	sess.DreamText = dream.String
	sess.CreatedAt = time.UnixMilli(createdAt).UTC()
	if sess.Answers, err = decodeAnswers(answers); err != nil {
		slog.Error(s.name+" Get answers decode failed", "error", err, "userID", userID)
		return models.Session{}, err
	}
	slog.Debug(s.name+" Get succeeded", "userID", userID, "state", sess.State)
	return sess, nil
}

func (s *sqlSessionStore) Set(ctx context.Context, userID string, sess models.Session) error {
	now := s.now()
	sess = prepare(sess, now)
	answers, err := encodeAnswers(sess.Answers)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q.upsert,
		userID, string(sess.State), nilIfEmpty(sess.Language), nilIfEmpty(sess.Interpreter),
		nilIfEmpty(sess.DreamText), answers, sess.CurrentQuestion, sess.CountAIRequests,
		sess.CreatedAt.UnixMilli(), now.UnixMilli(), expiresAt(sess, s.ttl).UnixMilli())
	if err != nil {
		slog.Error(s.name+" Set failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to save session for %s: %w", userID, err)
	}
	slog.Debug(s.name+" Set succeeded", "userID", userID, "state", sess.State)
	return nil
}

func (s *sqlSessionStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, s.q.remove, userID); err != nil {
		slog.Error(s.name+" Delete failed", "error", err, "userID", userID)
		return fmt.Errorf("failed to delete session for %s: %w", userID, err)
	}
	slog.Debug(s.name+" Delete succeeded", "userID", userID)
	return nil
}

func (s *sqlSessionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *sqlSessionStore) ListByState(ctx context.Context, state models.State) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, s.q.listByState, string(state), s.now().UnixMilli())
	if err != nil {
		slog.Error(s.name+" ListByState query failed", "error", err, "state", state)
		return nil, fmt.Errorf("failed to list sessions in %s: %w", state, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan session id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate session rows: %w", err)
	}
	return ids, nil
}

func (s *sqlSessionStore) DeleteExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.q.sweep, s.now().UnixMilli())
	if err != nil {
		slog.Error(s.name+" DeleteExpired failed", "error", err)
		return 0, fmt.Errorf("failed to delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	s.sweepDeliveries(ctx)
	return n, nil
}

func (s *sqlSessionStore) CountActive(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, s.q.countActive, s.now().UnixMilli()).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (s *sqlSessionStore) Close() error {
	s.closeOnce.Do(func() {
		slog.Debug("Closing " + s.name + " database connection")
		s.closeErr = s.db.Close()
		if s.closeErr != nil {
			slog.Error("Failed to close "+s.name+" database", "error", s.closeErr)
		}
	})
	return s.closeErr
}

// nilIfEmpty returns nil if v is empty, otherwise returns v.
// Used for nullable database columns.
func nilIfEmpty(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
