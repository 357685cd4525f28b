package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DreamPipe/internal/flow"
	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/store"
)

// ProcessingSessions returns sessions stuck in processing to the interpreter
// menu. A session is only left in processing when the process died while a
// generation was in flight, so nobody will ever complete it. The request
// counter is not touched: the interrupted generation was never delivered.
type ProcessingSessions struct {
	lister   store.StateLister
	sessions *flow.SessionManager
}

// NewProcessingSessions creates the sweeper over a store that can list by state.
func NewProcessingSessions(lister store.StateLister, sessions *flow.SessionManager) *ProcessingSessions {
	return &ProcessingSessions{lister: lister, sessions: sessions}
}

func (p *ProcessingSessions) Name() string { return "processing-sessions" }

func (p *ProcessingSessions) Recover(ctx context.Context) (int, error) {
	ids, err := p.lister.ListByState(ctx, models.StateProcessing)
	if err != nil {
		return 0, fmt.Errorf("list processing sessions: %w", err)
	}

	reset := 0
	var firstErr error
	for _, userID := range ids {
		s, err := p.sessions.Load(ctx, userID)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		// The listing can race a session that expired or moved on.
		if s.State != models.StateProcessing {
			continue
		}
		s.ResetDialogue()
		if err := p.sessions.Save(ctx, userID, s); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		slog.Info("Recovered interrupted generation", "userID", userID, "count", s.CountAIRequests)
		reset++
	}
	if firstErr != nil {
		return reset, fmt.Errorf("recover processing sessions: %w", firstErr)
	}
	return reset, nil
}
