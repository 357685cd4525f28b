package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/BTreeMap/DreamPipe/internal/models"
	"github.com/BTreeMap/DreamPipe/internal/telegram"
)

// TelegramService implements Service on top of the telebot client.
type TelegramService struct {
	client  *telegram.Client
	events  chan models.Event
	mu      sync.RWMutex
	stopped bool
}

// NewTelegramService registers the dialogue handlers on client.
func NewTelegramService(client *telegram.Client) *TelegramService {
	s := &TelegramService{
		client: client,
		events: make(chan models.Event, DefaultChannelBufferSize),
	}
	b := client.Bot()
	b.Handle("/start", s.onCommand(models.EventStart))
	b.Handle("/help", s.onCommand(models.EventHelp))
	b.Handle("/language", s.onCommand(models.EventLanguage))
	b.Handle(tele.OnText, s.onText)
	b.Handle(tele.OnCallback, s.onCallback)
	slog.Debug("TelegramService handlers registered", "mode", client.Mode())
	return s
}

func (s *TelegramService) Name() string { return "telegram" }

// Start begins polling (or accepting webhook updates) in the background.
func (s *TelegramService) Start(ctx context.Context) error {
	slog.Info("TelegramService starting", "mode", s.client.Mode())
	go s.client.Start()
	go func() {
		<-ctx.Done()
		_ = s.Stop()
	}()
	return nil
}

// Stop stops the bot and closes the inbound channel. Safe to call repeatedly.
func (s *TelegramService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	s.client.Stop()
	close(s.events)
	slog.Info("TelegramService stopped")
	return nil
}

func (s *TelegramService) Inbound() <-chan models.Event { return s.events }

func (s *TelegramService) Send(ctx context.Context, chatID string, msg models.Message) (string, error) {
	id, err := parseTelegramID(chatID)
	if err != nil {
		return "", err
	}
	msgID, err := s.client.SendMessage(id, telegram.Render(msg))
	if err != nil {
		return "", err
	}
	return strconv.Itoa(msgID), nil
}

func (s *TelegramService) Edit(ctx context.Context, chatID, messageID string, msg models.Message) error {
	id, err := parseTelegramID(chatID)
	if err != nil {
		return err
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	return s.client.EditMessage(id, mid, telegram.Render(msg))
}

func (s *TelegramService) Delete(ctx context.Context, chatID, messageID string) error {
	id, err := parseTelegramID(chatID)
	if err != nil {
		return err
	}
	mid, err := strconv.Atoi(messageID)
	if err != nil {
		return fmt.Errorf("invalid telegram message id %q: %w", messageID, err)
	}
	return s.client.DeleteMessage(id, mid)
}

func (s *TelegramService) AnswerCallback(ctx context.Context, ev models.Event, text string) error {
	return s.client.AnswerCallback(ev.CallbackID, text)
}

func (s *TelegramService) onCommand(kind models.EventKind) tele.HandlerFunc {
	return func(c tele.Context) error {
		ev := telegramEvent(c)
		ev.Kind = kind
		ev.Text = c.Text()
		s.push(ev)
		return nil
	}
}

func (s *TelegramService) onText(c tele.Context) error {
	ev := telegramEvent(c)
	ev.Text = c.Text()
	if strings.HasPrefix(ev.Text, "/") {
		ev.Kind = models.EventUnknownCommand
	} else {
		ev.Kind = models.EventText
	}
	s.push(ev)
	return nil
}

func (s *TelegramService) onCallback(c tele.Context) error {
	cb := c.Callback()
	if cb == nil {
		return nil
	}
	ev := telegramEvent(c)
	ev.Kind = models.EventCallback
	ev.MessageID = ""
	ev.CallbackID = cb.ID
	ev.Data = strings.TrimPrefix(cb.Data, "\f")
	if cb.Message != nil {
		ev.SourceMessageID = strconv.Itoa(cb.Message.ID)
	}
	s.push(ev)
	return nil
}

func (s *TelegramService) push(ev models.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		slog.Warn("TelegramService dropping event (service stopped)", "userID", ev.UserID)
		return
	}
	if !emit(s.events, ev) {
		slog.Warn("TelegramService inbound channel blocked, dropping event", "userID", ev.UserID, "timeout", DefaultChannelTimeout)
	}
}

func telegramEvent(c tele.Context) models.Event {
	ev := models.Event{ReceivedAt: time.Now().UTC()}
	if id := c.Update().ID; id != 0 {
		ev.DeliveryID = "tg:" + strconv.Itoa(id)
	}
	if u := c.Sender(); u != nil {
		ev.UserID = strconv.FormatInt(u.ID, 10)
		ev.LanguageHint = u.LanguageCode
	}
	if ch := c.Chat(); ch != nil {
		ev.ChatID = strconv.FormatInt(ch.ID, 10)
		ev.Private = ch.Type == tele.ChatPrivate
	}
	if m := c.Message(); m != nil {
		ev.MessageID = strconv.Itoa(m.ID)
	}
	return ev
}

func parseTelegramID(chatID string) (int64, error) {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid telegram chat id %q: %w", chatID, err)
	}
	return id, nil
}
