// This file implements a Cloud Firestore session store.

package store

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// FirestoreStore keeps one document per user in a sessions collection.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
	ttl        time.Duration
	now        func() time.Time
	closeOnce  sync.Once
	closeErr   error
}

type sessionDoc struct {
	State           string    `firestore:"state"`
	Language        string    `firestore:"language"`
	Interpreter     string    `firestore:"interpreter"`
	DreamText       string    `firestore:"dream_text"`
	Answers         []string  `firestore:"answers"`
	CurrentQuestion int       `firestore:"current_question"`
	CountAIRequests int       `firestore:"count_ai_requests"`
	CreatedAt       time.Time `firestore:"created_at"`
	UpdatedAt       time.Time `firestore:"updated_at"`
	ExpiresAt       time.Time `firestore:"expires_at"`
}

// NewFirestoreStore creates a Firestore client for the configured project.
func NewFirestoreStore(ctx context.Context, opts ...Option) (*FirestoreStore, error) {
	cfg := applyOpts(opts)
	if cfg.FirestoreProject == "" {
		return nil, fmt.Errorf("projectID is required for Firestore store")
	}
	client, err := firestore.NewClient(ctx, cfg.FirestoreProject)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	slog.Info("Firestore session store ready", "project", cfg.FirestoreProject, "collection", cfg.FirestoreCollection)
	return &FirestoreStore{
		client:     client,
		collection: cfg.FirestoreCollection,
		ttl:        cfg.TTL,
		now:        cfg.Now,
	}, nil
}

func (f *FirestoreStore) sessionsCol() *firestore.CollectionRef {
	return f.client.Collection(f.collection)
}

func (f *FirestoreStore) Get(ctx context.Context, userID string) (models.Session, error) {
	now := f.now()
	snap, err := f.sessionsCol().Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return models.NewSession(now), nil
		}
		slog.Error("FirestoreStore Get failed", "error", err, "userID", userID)
		return models.Session{}, fmt.Errorf("firestore Get session: %w", err)
	}
	var doc sessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return models.Session{}, fmt.Errorf("decode sessionDoc: %w", err)
	}
	if !now.Before(doc.ExpiresAt) {
		slog.Debug("FirestoreStore Get expired", "userID", userID)
		return models.NewSession(now), nil
	}
	answers := doc.Answers
	if answers == nil {
		answers = []string{}
	}
	return models.Session{
		State:           models.State(doc.State),
		Language:        doc.Language,
		Interpreter:     doc.Interpreter,
		DreamText:       doc.DreamText,
		Answers:         answers,
		CurrentQuestion: doc.CurrentQuestion,
		CountAIRequests: doc.CountAIRequests,
		CreatedAt:       doc.CreatedAt.UTC(),
	}, nil
}

func (f *FirestoreStore) Set(ctx context.Context, userID string, s models.Session) error {
	now := f.now()
	s = prepare(s, now)
	doc := sessionDoc{
		State:           string(s.State),
		Language:        s.Language,
		Interpreter:     s.Interpreter,
		DreamText:       s.DreamText,
		Answers:         s.Answers,
		CurrentQuestion: s.CurrentQuestion,
		CountAIRequests: s.CountAIRequests,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       now.UTC(),
		ExpiresAt:       expiresAt(s, f.ttl),
	}
	if _, err := f.sessionsCol().Doc(userID).Set(ctx, doc); err != nil {
		slog.Error("FirestoreStore Set failed", "error", err, "userID", userID)
		return fmt.Errorf("firestore Set session: %w", err)
	}
	return nil
}

func (f *FirestoreStore) Delete(ctx context.Context, userID string) error {
	if _, err := f.sessionsCol().Doc(userID).Delete(ctx); err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("firestore Delete session: %w", err)
	}
	return nil
}

// queryIDs runs q and collects document ids.
func (f *FirestoreStore) queryIDs(ctx context.Context, q firestore.Query) ([]string, error) {
	iter := q.Documents(ctx)
	defer iter.Stop()

	var ids []string
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}
		ids = append(ids, snap.Ref.ID)
	}
	return ids, nil
}

func (f *FirestoreStore) ListByState(ctx context.Context, state models.State) ([]string, error) {
	q := f.sessionsCol().Where("state", "==", string(state)).Where("expires_at", ">", f.now().UTC())
	ids, err := f.queryIDs(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("firestore ListByState: %w", err)
	}
	return ids, nil
}

// DeleteExpired removes documents past their expiry. A Firestore TTL policy on
// expires_at does the same server side; this covers projects without one.
func (f *FirestoreStore) DeleteExpired(ctx context.Context) (int64, error) {
	ids, err := f.queryIDs(ctx, f.sessionsCol().Where("expires_at", "<=", f.now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("firestore DeleteExpired: %w", err)
	}
	var n int64
	for _, id := range ids {
		if _, err := f.sessionsCol().Doc(id).Delete(ctx); err != nil {
			slog.Warn("FirestoreStore DeleteExpired failed for document", "id", id, "error", err)
			continue
		}
		n++
	}
	return n, nil
}

func (f *FirestoreStore) CountActive(ctx context.Context) (int, error) {
	ids, err := f.queryIDs(ctx, f.sessionsCol().Where("expires_at", ">", f.now().UTC()))
	if err != nil {
		return 0, fmt.Errorf("firestore CountActive: %w", err)
	}
	return len(ids), nil
}

// Close closes the Firestore client.
func (f *FirestoreStore) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.client.Close()
	})
	return f.closeErr
}
