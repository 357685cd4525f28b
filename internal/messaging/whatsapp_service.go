package messaging

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/whatsapp"
)

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
// WhatsApp has no inline buttons, so menus are rendered as numbered options.
type WhatsAppService struct {
	client   whatsapp.WhatsAppSender
	waClient *whatsapp.Client // access to underlying client for event handling
	menus    *TextMenus
	events   chan models.Event
	mu       sync.RWMutex
	stopped  bool
}

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	s := &WhatsAppService{
		client: client,
		menus:  NewTextMenus(),
		events: make(chan models.Event, DefaultChannelBufferSize),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		s.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}
	return s
}

func (s *WhatsAppService) Name() string { return "whatsapp" }

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
		return nil
	}
	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if msg, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(msg)
		}
	})
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	slog.Info("WhatsAppService event handler registered")
	return nil
}

// Stop disconnects and closes the inbound channel. Safe to call repeatedly.
func (s *WhatsAppService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	if s.waClient != nil {
		s.waClient.Disconnect()
	}
	close(s.events)
	slog.Info("WhatsAppService stopped and channel closed")
	return nil
}

func (s *WhatsAppService) Inbound() <-chan models.Event { return s.events }

func (s *WhatsAppService) Send(ctx context.Context, chatID string, msg models.Message) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	return s.client.SendMessage(ctx, chatID, s.menus.Render(chatID, msg))
}

func (s *WhatsAppService) Edit(ctx context.Context, chatID, messageID string, msg models.Message) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.EditMessage(ctx, chatID, messageID, s.menus.Render(chatID, msg))
}

func (s *WhatsAppService) Delete(ctx context.Context, chatID, messageID string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return s.client.RevokeMessage(ctx, chatID, messageID)
}

// AnswerCallback is a no-op: numbered replies have no acknowledgement.
func (s *WhatsAppService) AnswerCallback(ctx context.Context, ev models.Event, text string) error {
	return nil
}

// Deliver classifies an inbound text message and queues it for the dispatcher.
func (s *WhatsAppService) Deliver(ev models.Event) {
	s.push(parseTextEvent(s.menus, ev))
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe {
		return
	}
	var text string
	switch {
	case evt.Message.Conversation != nil:
		text = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		text = *evt.Message.ExtendedTextMessage.Text
	default:
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	ev := models.Event{
		UserID:     evt.Info.Sender.User,
		ChatID:     evt.Info.Chat.String(),
		Private:    !evt.Info.IsGroup,
		Text:       text,
		ReceivedAt: evt.Info.Timestamp.UTC(),
	}
	if evt.Info.ID != "" {
		ev.DeliveryID = "wa:" + string(evt.Info.ID)
	}
	s.Deliver(ev)
}

func (s *WhatsAppService) push(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("WhatsAppService dropping event (service stopped)", "userID", ev.UserID)
		return
	}
	if ev.ReceivedAt.IsZero() {
		ev.ReceivedAt = time.Now().UTC()
	}
	if !emit(s.events, ev) {
		slog.Warn("WhatsAppService inbound channel blocked, dropping event", "userID", ev.UserID, "timeout", DefaultChannelTimeout)
	}
}

func (s *WhatsAppService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}
