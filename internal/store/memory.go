package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

type memoryEntry struct {
	session   models.Session
	expiresAt time.Time
}

// MemoryStore keeps sessions in process memory. It is the default backend
// and the degraded-mode target of Fallback.
type MemoryStore struct {
	mu         sync.RWMutex
	entries    map[string]memoryEntry
	deliveries map[string]time.Time
	ttl        time.Duration
	now        func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	cfg := applyOpts(opts)
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		deliveries: make(map[string]time.Time),
		ttl:        cfg.TTL,
		now:        cfg.Now,
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (models.Session, error) {
	now := m.now()
	m.mu.RLock()
	e, ok := m.entries[userID]
	m.mu.RUnlock()
	if !ok || !now.Before(e.expiresAt) {
		slog.Debug("MemoryStore Get miss", "userID", userID, "expired", ok)
		return models.NewSession(now), nil
	}
	return e.session.Clone(), nil
}

func (m *MemoryStore) Set(ctx context.Context, userID string, s models.Session) error {
	s = prepare(s, m.now())
	m.mu.Lock()
	m.entries[userID] = memoryEntry{session: s, expiresAt: expiresAt(s, m.ttl)}
	m.mu.Unlock()
	slog.Debug("MemoryStore Set succeeded", "userID", userID, "state", s.State)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	delete(m.entries, userID)
	m.mu.Unlock()
	return nil
}

// Close drops every entry.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.entries = make(map[string]memoryEntry)
	m.deliveries = make(map[string]time.Time)
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) ListByState(ctx context.Context, state models.State) ([]string, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []string
	for id, e := range m.entries {
		if e.session.State == state && now.Before(e.expiresAt) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context) (int64, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, id)
			n++
		}
	}
	cutoff := now.Add(-DefaultDedupRetention)
	for id, at := range m.deliveries {
		if at.Before(cutoff) {
			delete(m.deliveries, id)
		}
	}
	return n, nil
}

func (m *MemoryStore) RecordDelivery(ctx context.Context, deliveryID, userID string) (bool, error) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if at, ok := m.deliveries[deliveryID]; ok && !at.Before(now.Add(-DefaultDedupRetention)) {
		return false, nil
	}
	m.deliveries[deliveryID] = now
	return true, nil
}

func (m *MemoryStore) CountActive(ctx context.Context) (int, error) {
	now := m.now()
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.entries {
		if now.Before(e.expiresAt) {
			n++
		}
	}
	return n, nil
}
