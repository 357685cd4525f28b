package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/twiliowhatsapp"
)

// TwilioWebhookPath is where the HTTP server mounts the Twilio webhook.
const TwilioWebhookPath = "/webhook/twilio"

// TwilioService implements the Service interface using the Twilio API.
// Twilio cannot edit or delete WhatsApp messages.
type TwilioService struct {
	client    twiliowhatsapp.TwilioWhatsAppSender // real Twilio client or MockClient
	validator *twiliowhatsapp.WebhookValidator
	publicURL string
	menus     *TextMenus
	events    chan models.Event
	mu        sync.RWMutex
	stopped   bool
}

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithSignatureValidation rejects webhook calls without a valid
// X-Twilio-Signature for publicURL (the full webhook URL Twilio calls).
func WithSignatureValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		s.validator = twiliowhatsapp.NewWebhookValidator(authToken)
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.TwilioWhatsAppSender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		client: client,
		menus:  NewTextMenus(),
		events: make(chan models.Event, DefaultChannelBufferSize),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *TwilioService) Name() string { return "twilio" }

// Start stops the service when ctx ends; inbound messages arrive via the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

// Stop closes the inbound channel. Safe to call repeatedly.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.events)
	slog.Info("TwilioService stopped")
	return nil
}

func (s *TwilioService) Inbound() <-chan models.Event { return s.events }

func (s *TwilioService) Send(ctx context.Context, chatID string, msg models.Message) (string, error) {
	if s.isStopped() {
		return "", ErrServiceStopped
	}
	return s.client.SendMessage(ctx, chatID, s.menus.Render(chatID, msg))
}

func (s *TwilioService) Edit(ctx context.Context, chatID, messageID string, msg models.Message) error {
	return ErrUnsupported
}

func (s *TwilioService) Delete(ctx context.Context, chatID, messageID string) error {
	return ErrUnsupported
}

func (s *TwilioService) AnswerCallback(ctx context.Context, ev models.Event, text string) error {
	return nil
}

// WebhookHandler handles inbound Twilio webhook requests and queues the
// message as an event.
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("Failed to parse Twilio webhook form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil && !s.validator.Validate(r, s.publicURL) {
		slog.Warn("Twilio webhook signature rejected", "remote", r.RemoteAddr)
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	from := r.PostFormValue("From")
	body := r.PostFormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("Twilio webhook missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}

	number := twiliowhatsapp.StripAddress(from)
	ev := models.Event{
		UserID:     strings.TrimPrefix(number, "+"),
		ChatID:     number,
		Private:    true,
		Text:       body,
		ReceivedAt: time.Now().UTC(),
	}
	if sid := r.PostFormValue("MessageSid"); sid != "" {
		ev.DeliveryID = "twilio:" + sid
	}
	s.push(parseTextEvent(s.menus, ev))

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

func (s *TwilioService) push(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TwilioService dropping inbound event (service stopped)", "userID", ev.UserID)
		return
	}
	if !emit(s.events, ev) {
		slog.Warn("TwilioService inbound channel blocked, dropping event", "userID", ev.UserID)
	}
}

func (s *TwilioService) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}
