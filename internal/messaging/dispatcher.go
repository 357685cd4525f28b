package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/DreamPipe/internal/flow"
	"github.com/BTreeMap/DreamPipe/internal/genai"
	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/store"
)

// Dispatcher defaults.
const (
	DefaultPromoDelay        = 15 * time.Second
	DefaultGenerationTimeout = genai.DefaultTimeout
)

// Dispatcher runs one dialogue turn per inbound event.
type Dispatcher struct {
	svc        Service
	machine    *flow.Machine
	sessions   *flow.SessionManager
	generator  genai.Generator
	locks      *flow.UserLocks
	janitor    *Janitor
	counter    store.Counter
	deduper    store.Deduper
	promoDelay time.Duration
	genTimeout time.Duration
	sleep      func(time.Duration)

	wg      sync.WaitGroup
	started time.Time
	stats   dispatchCounters
}

type dispatchCounters struct {
	received    atomic.Int64
	rejected    atomic.Int64
	duplicates  atomic.Int64
	failed      atomic.Int64
	generations atomic.Int64
	genErrors   atomic.Int64
	inFlight    atomic.Int64
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithPromoDelay sets the pause after a promo interlude.
func WithPromoDelay(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.promoDelay = d }
}

// WithGenerationTimeout bounds each generation call.
func WithGenerationTimeout(d time.Duration) DispatcherOption {
	return func(disp *Dispatcher) { disp.genTimeout = d }
}

// WithSessionCounter reports active sessions in Stats.
func WithSessionCounter(c store.Counter) DispatcherOption {
	return func(disp *Dispatcher) { disp.counter = c }
}

// WithDeduper drops events whose delivery id was already seen.
func WithDeduper(dd store.Deduper) DispatcherOption {
	return func(disp *Dispatcher) { disp.deduper = dd }
}

// WithSleep replaces time.Sleep for the promo pause.
func WithSleep(sleep func(time.Duration)) DispatcherOption {
	return func(disp *Dispatcher) { disp.sleep = sleep }
}

// NewDispatcher wires a transport to the dialogue.
func NewDispatcher(svc Service, machine *flow.Machine, sessions *flow.SessionManager, gen genai.Generator, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		svc:        svc,
		machine:    machine,
		sessions:   sessions,
		generator:  gen,
		locks:      flow.NewUserLocks(),
		janitor:    NewJanitor(svc),
		promoDelay: DefaultPromoDelay,
		genTimeout: DefaultGenerationTimeout,
		sleep:      time.Sleep,
		started:    time.Now(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.genTimeout <= 0 {
		d.genTimeout = DefaultGenerationTimeout
	}
	return d
}

// Janitor exposes the dispatcher's message janitor.
func (d *Dispatcher) Janitor() *Janitor { return d.janitor }

// Run consumes inbound events until ctx is cancelled or the transport closes
// its channel, then waits for in-flight turns.
func (d *Dispatcher) Run(ctx context.Context) error {
	slog.Info("Dispatcher started", "transport", d.svc.Name())
	defer d.Wait()
	in := d.svc.Inbound()
	for {
		select {
		case <-ctx.Done():
			slog.Info("Dispatcher stopping", "reason", ctx.Err())
			return nil
		case ev, ok := <-in:
			if !ok {
				slog.Info("Dispatcher inbound channel closed")
				return nil
			}
			d.wg.Add(1)
			go func() {
				defer d.wg.Done()
				d.HandleEvent(ctx, ev)
			}()
		}
	}
}

// Wait blocks until every in-flight turn, including generations, finishes.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// HandleEvent runs one turn and, when the turn asks for it, the generation
// that follows. It never returns an error; failures are logged and answered
// with the generic error screen.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev models.Event) {
	start := time.Now()
	logger := slog.Default().With(
		"turn_id", uuid.NewString(),
		"user_id", ev.UserID,
		"chat_id", ev.ChatID,
		"event", ev.Kind,
	)
	d.stats.received.Add(1)
	d.stats.inFlight.Add(1)
	defer func() {
		d.stats.inFlight.Add(-1)
		if r := recover(); r != nil {
			d.stats.failed.Add(1)
			logger.Error("Turn panicked", "panic", r, "stack", string(debug.Stack()))
		}
		logger.Debug("Turn processed", "duration", time.Since(start))
	}()

	if d.isDuplicate(ctx, logger, ev) {
		d.stats.duplicates.Add(1)
		d.answerCallback(ctx, logger, ev, "")
		return
	}

	if !ev.Private {
		d.stats.rejected.Add(1)
		logger.Debug("Rejecting event from non-private chat")
		d.answerCallback(ctx, logger, ev, "")
		d.render(ctx, logger, ev.UserID, ev.ChatID, "", d.machine.PrivateOnlyScreen(ev.LanguageHint), false)
		return
	}

	pending := d.runTurn(ctx, logger, ev)
	if pending == nil {
		return
	}
	d.runGeneration(context.WithoutCancel(ctx), logger, ev, *pending)
}

// isDuplicate reports a redelivered event. Dedup failures let the event through.
func (d *Dispatcher) isDuplicate(ctx context.Context, logger *slog.Logger, ev models.Event) bool {
	if d.deduper == nil || ev.DeliveryID == "" {
		return false
	}
	fresh, err := d.deduper.RecordDelivery(ctx, ev.DeliveryID, ev.UserID)
	if err != nil {
		logger.Warn("Delivery dedup failed, processing anyway", "delivery_id", ev.DeliveryID, "error", err)
		return false
	}
	if !fresh {
		logger.Info("Dropping redelivered event", "delivery_id", ev.DeliveryID)
	}
	return !fresh
}

type pendingGeneration struct {
	request models.PromptData
	// deferred is shown after the promo pause, right before generation.
	deferred *models.Screen
}

func (d *Dispatcher) runTurn(ctx context.Context, logger *slog.Logger, ev models.Event) *pendingGeneration {
	unlock := d.locks.Lock(ev.UserID)
	defer unlock()

	s, err := d.sessions.Load(ctx, ev.UserID)
	if err != nil {
		logger.Error("Failed to load session, starting over", "error", err)
		s = models.NewSession(time.Now())
	}

	turn, err := d.safeHandleTurn(ev.UserID, s, ev)
	if err != nil {
		d.stats.failed.Add(1)
		if errors.Is(err, flow.ErrCorruptSession) {
			logger.Warn("Stored session is corrupt, resetting", "error", err, "state", s.State)
		} else {
			logger.Error("Turn failed", "error", err, "state", s.State)
		}
		turn = d.machine.RecoveryTurn(s, ev.LanguageHint)
	}
	logger.Debug("Turn computed", "from", s.State, "to", turn.Session.State)

	if err := d.sessions.Save(ctx, ev.UserID, turn.Session); err != nil {
		logger.Error("Failed to save session", "error", err)
	}

	d.answerCallback(ctx, logger, ev, turn.Screen.CallbackAnswer)
	if ev.MessageID != "" {
		d.janitor.Remember(ev.UserID, ev.ChatID, ev.MessageID)
	}

	if turn.Generate == nil {
		d.render(ctx, logger, ev.UserID, ev.ChatID, ev.SourceMessageID, turn.Screen, true)
		return nil
	}

	p := &pendingGeneration{request: *turn.Generate}
	if turn.Interlude != nil {
		d.render(ctx, logger, ev.UserID, ev.ChatID, ev.SourceMessageID, *turn.Interlude, true)
		sc := turn.Screen
		p.deferred = &sc
	} else {
		d.render(ctx, logger, ev.UserID, ev.ChatID, ev.SourceMessageID, turn.Screen, true)
	}
	return p
}

func (d *Dispatcher) safeHandleTurn(userID string, s models.Session, ev models.Event) (turn flow.Turn, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in state machine: %v\n%s", r, debug.Stack())
		}
	}()
	return d.machine.HandleTurn(userID, s, ev)
}

func (d *Dispatcher) runGeneration(ctx context.Context, logger *slog.Logger, ev models.Event, p pendingGeneration) {
	if p.deferred != nil {
		d.sleep(d.promoDelay)
		unlock := d.locks.Lock(ev.UserID)
		s, err := d.sessions.Load(ctx, ev.UserID)
		if err != nil || s.State != models.StateProcessing {
			unlock()
			logger.Warn("Session left processing during promo pause, skipping generation", "state", s.State, "error", err)
			return
		}
		d.render(ctx, logger, ev.UserID, ev.ChatID, "", *p.deferred, true)
		unlock()
	}

	d.stats.generations.Add(1)
	start := time.Now()
	result, genErr := d.generate(ctx, p.request)
	if genErr != nil {
		d.stats.genErrors.Add(1)
		logger.Error("Generation failed", "error", genErr, "interpreter", p.request.Interpreter,
			"timeout", errors.Is(genErr, genai.ErrTimeout),
			"upstream_quota", errors.Is(genErr, genai.ErrUpstreamQuota),
			"duration", time.Since(start))
	} else {
		logger.Info("Generation completed", "interpreter", p.request.Interpreter, "language", p.request.Language, "duration", time.Since(start))
	}

	unlock := d.locks.Lock(ev.UserID)
	defer unlock()

	s, err := d.sessions.Load(ctx, ev.UserID)
	if err != nil {
		logger.Error("Failed to reload session after generation", "error", err)
		return
	}
	turn, err := d.machine.CompleteGeneration(ev.UserID, s, result, genErr)
	if errors.Is(err, flow.ErrStaleGeneration) {
		logger.Warn("Discarding generation for session that moved on", "state", s.State)
		return
	}
	if err != nil {
		logger.Error("Failed to complete generation", "error", err)
		return
	}
	if err := d.sessions.Save(ctx, ev.UserID, turn.Session); err != nil {
		logger.Error("Failed to save session after generation", "error", err)
	}
	d.render(ctx, logger, ev.UserID, ev.ChatID, "", turn.Screen, true)
}

func (d *Dispatcher) generate(ctx context.Context, req models.PromptData) (result string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: generator panicked: %v", genai.ErrService, r)
		}
	}()
	ctx, cancel := context.WithTimeout(ctx, d.genTimeout)
	defer cancel()
	return d.generator.Generate(ctx, req)
}

func (d *Dispatcher) answerCallback(ctx context.Context, logger *slog.Logger, ev models.Event, text string) {
	if ev.Kind != models.EventCallback || ev.CallbackID == "" {
		return
	}
	if err := d.svc.AnswerCallback(ctx, ev, text); err != nil && !errors.Is(err, ErrUnsupported) {
		logger.Warn("Failed to answer callback", "error", err)
	}
}

// render flushes the previous screen and shows sc. The message carrying the
// pressed button (sourceID) is edited in place when sc asks for an edit.
func (d *Dispatcher) render(ctx context.Context, logger *slog.Logger, userID, chatID, sourceID string, sc models.Screen, track bool) {
	if sc.Empty() {
		return
	}
	if track {
		var keep []string
		if sc.Edit != nil && sourceID != "" {
			keep = append(keep, sourceID)
		}
		d.janitor.Flush(ctx, userID, keep...)
	}

	if sc.Edit != nil {
		edited := false
		if sourceID != "" {
			err := d.svc.Edit(ctx, chatID, sourceID, *sc.Edit)
			switch {
			case err == nil:
				edited = true
				if track {
					d.janitor.Remember(userID, chatID, sourceID)
				}
			case errors.Is(err, ErrUnsupported):
				logger.Debug("Edit unsupported, sending new message")
			default:
				logger.Warn("Failed to edit message, sending new one", "error", err, "message_id", sourceID)
			}
		}
		if !edited {
			d.send(ctx, logger, userID, chatID, *sc.Edit, track)
		}
	}

	for _, msg := range sc.Messages {
		d.send(ctx, logger, userID, chatID, msg, track)
	}
}

func (d *Dispatcher) send(ctx context.Context, logger *slog.Logger, userID, chatID string, msg models.Message, track bool) {
	id, err := d.svc.Send(ctx, chatID, msg)
	if err != nil {
		logger.Error("Failed to send message", "error", err)
		return
	}
	if track && !msg.Persistent {
		d.janitor.Remember(userID, chatID, id)
	}
}

// Stats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) Stats(ctx context.Context) models.DispatchStats {
	st := models.DispatchStats{
		Uptime:           time.Since(d.started).Round(time.Second).String(),
		EventsReceived:   d.stats.received.Load(),
		EventsRejected:   d.stats.rejected.Load(),
		Duplicates:       d.stats.duplicates.Load(),
		TurnsFailed:      d.stats.failed.Load(),
		Generations:      d.stats.generations.Load(),
		GenerationErrors: d.stats.genErrors.Load(),
		InFlight:         d.stats.inFlight.Load(),
		ActiveSessions:   -1,
	}
	if d.counter != nil {
		if n, err := d.counter.CountActive(ctx); err == nil {
			st.ActiveSessions = n
		} else {
			slog.Warn("Failed to count active sessions", "error", err)
		}
	}
	return st
}
