package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// Deleter removes chat messages.
type Deleter interface {
	Delete(ctx context.Context, chatID, messageID string) error
}

type pendingMessage struct {
	ChatID    string
	MessageID string
}

// Janitor tracks the messages that make up each user's current screen and
// deletes them before the next screen is shown. State is in memory only.
type Janitor struct {
	deleter Deleter
	mu      sync.Mutex
	pending map[string][]pendingMessage
}

// NewJanitor creates a Janitor that deletes through d.
func NewJanitor(d Deleter) *Janitor {
	return &Janitor{deleter: d, pending: make(map[string][]pendingMessage)}
}

// Remember records a message as part of userID's current screen.
func (j *Janitor) Remember(userID, chatID, messageID string) {
	if messageID == "" {
		return
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, p := range j.pending[userID] {
		if p.ChatID == chatID && p.MessageID == messageID {
			return
		}
	}
	j.pending[userID] = append(j.pending[userID], pendingMessage{ChatID: chatID, MessageID: messageID})
}

// Flush deletes every remembered message except those in keep. Deletion is
// best effort; afterwards only the kept messages remain remembered.
func (j *Janitor) Flush(ctx context.Context, userID string, keep ...string) {
	j.mu.Lock()
	list := j.pending[userID]
	delete(j.pending, userID)
	j.mu.Unlock()

	var kept []pendingMessage
	for _, p := range list {
		if contains(keep, p.MessageID) {
			kept = append(kept, p)
			continue
		}
		if err := j.deleter.Delete(ctx, p.ChatID, p.MessageID); err != nil {
			if errors.Is(err, ErrUnsupported) {
				slog.Debug("Janitor delete unsupported", "userID", userID, "messageID", p.MessageID)
				continue
			}
			slog.Warn("Janitor delete failed", "userID", userID, "chatID", p.ChatID, "messageID", p.MessageID, "error", err)
		}
	}

	if len(kept) > 0 {
		j.mu.Lock()
		j.pending[userID] = append(kept, j.pending[userID]...)
		j.mu.Unlock()
	}
}

// Pending returns the message ids currently remembered for userID.
func (j *Janitor) Pending(userID string) []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	ids := make([]string, 0, len(j.pending[userID]))
	for _, p := range j.pending[userID] {
		ids = append(ids, p.MessageID)
	}
	return ids
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
