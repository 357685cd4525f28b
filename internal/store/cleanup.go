package store

import (
	"context"
	"log/slog"
	"time"
)

// SweepExpired removes expired sessions once. The serve command runs it on
// the maintenance schedule; failures are logged, never fatal.
func SweepExpired(ctx context.Context, sw Sweeper) int64 {
	logger := slog.Default().With(slog.String("component", "store.cleanup"))
	start := time.Now()
	removed, err := sw.DeleteExpired(ctx)
	if err != nil {
		logger.Warn("Expired session sweep failed", "error", err)
		return 0
	}
	if removed > 0 {
		logger.Info("Cleaned up expired sessions", "removed", removed, "duration", time.Since(start))
	}
	return removed
}
