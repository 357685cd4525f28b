// Package store provides session persistence backends for DreamPipe.
//
// Every backend maps a user id to one models.Session. A missing or expired
// key reads back as the default session, never as an error.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// DefaultSessionTTL is how long a session lives after it was created.
const DefaultSessionTTL = 24 * time.Hour

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown session backend")

// SessionStore persists per-user dialogue sessions.
type SessionStore interface {
	// Get returns the stored session or the default session if none is live.
	Get(ctx context.Context, userID string) (models.Session, error)
	// Set stores the session. The expiry is derived from CreatedAt, so rewriting
	// a session never extends its lifetime.
	Set(ctx context.Context, userID string, s models.Session) error
	// Delete removes the session; deleting a missing key is not an error.
	Delete(ctx context.Context, userID string) error
	// Close releases the backend. Calling it more than once is safe.
	Close() error
}

// Pinger is implemented by backends that can report their reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StateLister is implemented by backends that can enumerate live sessions by state.
type StateLister interface {
	ListByState(ctx context.Context, state models.State) ([]string, error)
}

// Sweeper is implemented by backends without native expiry.
type Sweeper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// Counter is implemented by backends that can count live sessions.
type Counter interface {
	CountActive(ctx context.Context) (int, error)
}

// Backend names a session storage implementation.
type Backend string

const (
	BackendMemory    Backend = "memory"
	BackendRedis     Backend = "redis"
	BackendSQLite    Backend = "sqlite"
	BackendPostgres  Backend = "postgres"
	BackendFirestore Backend = "firestore"
)

// Opts holds configuration shared by the store constructors.
type Opts struct {
	DSN                 string // Postgres connection string or SQLite file path
	RedisURL            string
	FirestoreProject    string
	FirestoreCollection string
	TTL                 time.Duration
	Now                 func() time.Time
}

// Option defines a configuration option for the store constructors.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithRedisURL sets the redis:// URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) { o.RedisURL = url }
}

// WithFirestoreProject sets the Google Cloud project holding the sessions collection.
func WithFirestoreProject(project string) Option {
	return func(o *Opts) { o.FirestoreProject = project }
}

// WithFirestoreCollection overrides the sessions collection name.
func WithFirestoreCollection(name string) Option {
	return func(o *Opts) { o.FirestoreCollection = name }
}

// WithTTL sets the session lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

func applyOpts(opts []Option) Opts {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultSessionTTL
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FirestoreCollection == "" {
		cfg.FirestoreCollection = "sessions"
	}
	return cfg
}

// DetectDSNType returns "postgres" for PostgreSQL connection strings and "sqlite3" otherwise.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	if strings.HasPrefix(d, "postgres://") || strings.HasPrefix(d, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(d, "host=") || strings.Contains(d, "dbname=") || strings.Contains(d, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// New opens the named backend.
func New(ctx context.Context, backend Backend, opts ...Option) (SessionStore, error) {
	slog.Debug("store.New invoked", "backend", backend)
	switch backend {
	case BackendMemory, "":
		return NewMemoryStore(opts...), nil
	case BackendRedis:
		return NewRedisStore(ctx, opts...)
	case BackendSQLite:
		return NewSQLiteStore(opts...)
	case BackendPostgres:
		return NewPostgresStore(opts...)
	case BackendFirestore:
		return NewFirestoreStore(ctx, opts...)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
