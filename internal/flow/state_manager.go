// Package flow drives the dream interpretation dialogue: per-user session
// state, the transition table, quota checks and per-user serialization.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/store"
)

// SessionManager loads and saves dialogue sessions through a SessionStore.
type SessionManager struct {
	store store.SessionStore
}

// NewSessionManager creates a SessionManager backed by st.
func NewSessionManager(st store.SessionStore) *SessionManager {
	slog.Debug("Creating SessionManager")
	return &SessionManager{store: st}
}

// Load returns the user's session, or a fresh default when none exists.
func (sm *SessionManager) Load(ctx context.Context, userID string) (models.Session, error) {
	s, err := sm.store.Get(ctx, userID)
	if err != nil {
		slog.Error("SessionManager Load error", "error", err, "userID", userID)
		return models.Session{}, err
	}
	slog.Debug("SessionManager Load succeeded", "userID", userID, "state", s.State, "count", s.CountAIRequests)
	return s, nil
}

// Save persists s for userID.
func (sm *SessionManager) Save(ctx context.Context, userID string, s models.Session) error {
	if err := sm.store.Set(ctx, userID, s); err != nil {
		slog.Error("SessionManager Save error", "error", err, "userID", userID, "state", s.State)
		return err
	}
	slog.Debug("SessionManager Save succeeded", "userID", userID, "state", s.State)
	return nil
}

// Reset deletes the user's session and returns the default record that replaces it.
func (sm *SessionManager) Reset(ctx context.Context, userID string) (models.Session, error) {
	if err := sm.store.Delete(ctx, userID); err != nil {
		slog.Error("SessionManager Reset delete error", "error", err, "userID", userID)
		return models.Session{}, fmt.Errorf("reset session: %w", err)
	}
	slog.Info("Session reset", "userID", userID)
	return sm.Load(ctx, userID)
}

// ResetQuota zeroes the user's request counter and keeps everything else.
func (sm *SessionManager) ResetQuota(ctx context.Context, userID string) (models.Session, error) {
	s, err := sm.Load(ctx, userID)
	if err != nil {
		return models.Session{}, err
	}
	s.CountAIRequests = 0
	if err := sm.Save(ctx, userID, s); err != nil {
		return models.Session{}, fmt.Errorf("reset quota: %w", err)
	}
	slog.Info("Quota reset", "userID", userID)
	return s, nil
}
