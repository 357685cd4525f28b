package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDedupRetention is how long a delivery id is remembered. Webhook
// providers retry within minutes, so an hour covers every redelivery.
const DefaultDedupRetention = time.Hour

// Deduper is implemented by backends that remember inbound delivery ids so a
// redelivered webhook update is processed once.
type Deduper interface {
	// RecordDelivery stores deliveryID and reports whether it was new.
	RecordDelivery(ctx context.Context, deliveryID, userID string) (bool, error)
}

// RecordDelivery inserts the delivery id; a conflict means it was already seen.
func (s *sqlSessionStore) RecordDelivery(ctx context.Context, deliveryID, userID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q.recordDelivery, deliveryID, userID, s.now().UnixMilli())
	if err != nil {
		slog.Error(s.name+" RecordDelivery failed", "error", err, "deliveryID", deliveryID)
		return false, fmt.Errorf("record delivery failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("record delivery rows affected: %w", err)
	}
	if n == 0 {
		slog.Debug(s.name+" duplicate delivery", "deliveryID", deliveryID, "userID", userID)
	}
	return n == 1, nil
}

// sweepDeliveries drops delivery ids older than the retention window.
func (s *sqlSessionStore) sweepDeliveries(ctx context.Context) {
	cutoff := s.now().Add(-DefaultDedupRetention).UnixMilli()
	res, err := s.db.ExecContext(ctx, s.q.sweepDeliveries, cutoff)
	if err != nil {
		slog.Warn(s.name+" delivery sweep failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Debug(s.name+" swept delivery ids", "removed", n)
	}
}
