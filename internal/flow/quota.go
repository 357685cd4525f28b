package flow

import (
	"log/slog"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// DefaultRequestLimit is the number of generations a user gets per session lifetime.
const DefaultRequestLimit = 1

// QuotaGate decides whether a user may start another generation.
type QuotaGate struct {
	limit      int
	privileged map[string]struct{}
}

// NewQuotaGate builds a gate; limits below 1 fall back to DefaultRequestLimit.
func NewQuotaGate(limit int, privileged []string) *QuotaGate {
	if limit < 1 {
		slog.Warn("QuotaGate limit below 1, using default", "limit", limit, "default", DefaultRequestLimit)
		limit = DefaultRequestLimit
	}
	q := &QuotaGate{limit: limit, privileged: make(map[string]struct{}, len(privileged))}
	for _, id := range privileged {
		q.privileged[id] = struct{}{}
	}
	return q
}

// Limit returns the configured per-user limit.
func (q *QuotaGate) Limit() int { return q.limit }

// IsPrivileged reports whether userID bypasses the limit.
func (q *QuotaGate) IsPrivileged(userID string) bool {
	_, ok := q.privileged[userID]
	return ok
}

// HasPermission is true for privileged users and for anyone under the limit.
func (q *QuotaGate) HasPermission(userID string, s models.Session) bool {
	return q.IsPrivileged(userID) || s.CountAIRequests < q.limit
}
