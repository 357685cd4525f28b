package store

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// Fallback wraps a backend so that session reads and writes never fail.
// Every write is mirrored into memory; when the backend errors, the
// operation is served from the in-memory copy and the error is logged.
// Writes the backend missed are replayed from the mirror on the user's next
// Get, so a record never reverts to an older backend copy.
type Fallback struct {
	primary   SessionStore
	memory    *MemoryStore
	degraded  atomic.Bool
	closeOnce sync.Once
	closeErr  error

	mu sync.Mutex
	// unsynced maps user ids to a write the backend missed; true means delete.
	unsynced map[string]bool
}

// NewFallback wraps primary. Options configure the in-memory mirror.
func NewFallback(primary SessionStore, opts ...Option) *Fallback {
	return &Fallback{primary: primary, memory: NewMemoryStore(opts...), unsynced: make(map[string]bool)}
}

func (f *Fallback) markUnsynced(userID string, deleted bool) {
	f.mu.Lock()
	f.unsynced[userID] = deleted
	f.mu.Unlock()
}

func (f *Fallback) clearUnsynced(userID string) {
	f.mu.Lock()
	delete(f.unsynced, userID)
	f.mu.Unlock()
}

// Unsynced reports how many users have writes the backend has not seen.
func (f *Fallback) Unsynced() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.unsynced)
}

// resync replays a missed write for userID. It reports whether the mirror
// holds the authoritative record.
func (f *Fallback) resync(ctx context.Context, userID string) bool {
	f.mu.Lock()
	deleted, pending := f.unsynced[userID]
	f.mu.Unlock()
	if !pending {
		return false
	}

	var err error
	if deleted {
		err = f.primary.Delete(ctx, userID)
	} else {
		s, _ := f.memory.Get(ctx, userID)
		err = f.primary.Set(ctx, userID, s)
	}
	if err != nil {
		f.markDegraded("resync", userID, err)
		return true
	}
	f.clearUnsynced(userID)
	f.markHealthy()
	slog.Debug("Replayed missed session write", "userID", userID, "deleted", deleted)
	return true
}

// Degraded reports whether the last backend operation failed.
func (f *Fallback) Degraded() bool {
	return f.degraded.Load()
}

func (f *Fallback) markHealthy() {
	if f.degraded.CompareAndSwap(true, false) {
		slog.Info("Session backend recovered")
	}
}

func (f *Fallback) markDegraded(op, userID string, err error) {
	if f.degraded.CompareAndSwap(false, true) {
		slog.Warn("Session backend failing, degrading to in-memory sessions", "op", op, "userID", userID, "error", err)
		return
	}
	slog.Debug("Session backend still failing", "op", op, "userID", userID, "error", err)
}

func (f *Fallback) Get(ctx context.Context, userID string) (models.Session, error) {
	if f.resync(ctx, userID) {
		return f.memory.Get(ctx, userID)
	}
	s, err := f.primary.Get(ctx, userID)
	if err == nil {
		f.markHealthy()
		return s, nil
	}
	f.markDegraded("get", userID, err)
	return f.memory.Get(ctx, userID)
}

func (f *Fallback) Set(ctx context.Context, userID string, s models.Session) error {
	_ = f.memory.Set(ctx, userID, s)
	if err := f.primary.Set(ctx, userID, s); err != nil {
		f.markDegraded("set", userID, err)
		f.markUnsynced(userID, false)
		return nil
	}
	f.clearUnsynced(userID)
	f.markHealthy()
	return nil
}

func (f *Fallback) Delete(ctx context.Context, userID string) error {
	_ = f.memory.Delete(ctx, userID)
	if err := f.primary.Delete(ctx, userID); err != nil {
		f.markDegraded("delete", userID, err)
		f.markUnsynced(userID, true)
		return nil
	}
	f.clearUnsynced(userID)
	return nil
}

// Close closes the backend and drops the mirror. Safe to call repeatedly.
func (f *Fallback) Close() error {
	f.closeOnce.Do(func() {
		f.closeErr = f.primary.Close()
		_ = f.memory.Close()
	})
	return f.closeErr
}

func (f *Fallback) Ping(ctx context.Context) error {
	if p, ok := f.primary.(Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (f *Fallback) ListByState(ctx context.Context, state models.State) ([]string, error) {
	if l, ok := f.primary.(StateLister); ok {
		return l.ListByState(ctx, state)
	}
	return f.memory.ListByState(ctx, state)
}

// DeleteExpired sweeps the mirror and, when it has no native expiry, the backend.
func (f *Fallback) DeleteExpired(ctx context.Context) (int64, error) {
	_, _ = f.memory.DeleteExpired(ctx)
	if sw, ok := f.primary.(Sweeper); ok {
		return sw.DeleteExpired(ctx)
	}
	return 0, nil
}

func (f *Fallback) CountActive(ctx context.Context) (int, error) {
	if c, ok := f.primary.(Counter); ok {
		return c.CountActive(ctx)
	}
	return f.memory.CountActive(ctx)
}

// RecordDelivery asks the backend, falling back to the mirror when it fails
// or cannot dedupe.
func (f *Fallback) RecordDelivery(ctx context.Context, deliveryID, userID string) (bool, error) {
	d, ok := f.primary.(Deduper)
	if !ok {
		return f.memory.RecordDelivery(ctx, deliveryID, userID)
	}
	fresh, err := d.RecordDelivery(ctx, deliveryID, userID)
	if err != nil {
		f.markDegraded("record_delivery", userID, err)
		return f.memory.RecordDelivery(ctx, deliveryID, userID)
	}
	f.markHealthy()
	return fresh, nil
}
