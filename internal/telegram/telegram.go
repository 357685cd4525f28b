// Package telegram wraps the telebot client for the Telegram Bot API.
package telegram

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"
)

// Constants for Telegram client configuration
const (
	// MaxMessageLength is the Bot API limit for one text message.
	MaxMessageLength = 4096
	// WebhookPath is where the HTTP server mounts the webhook handler.
	WebhookPath = "/webhook/telegram"
	// DefaultPollTimeout is the long polling timeout.
	DefaultPollTimeout = 10 * time.Second
)

var allowedUpdates = []string{"message", "callback_query"}

// Opts holds configuration options for the Telegram client.
type Opts struct {
	Token       string
	WebhookURL  string // public base URL; enables webhook mode
	SecretToken string
	PollTimeout time.Duration
	Offline     bool // skip the getMe call, for tests
}

// Option defines a configuration option for the Telegram client.
type Option func(*Opts)

// WithToken sets the bot token.
func WithToken(token string) Option {
	return func(o *Opts) { o.Token = token }
}

// WithWebhookURL switches from long polling to a webhook at url + WebhookPath.
func WithWebhookURL(url string) Option {
	return func(o *Opts) { o.WebhookURL = url }
}

// WithSecretToken requires Telegram to send this secret with webhook calls.
func WithSecretToken(secret string) Option {
	return func(o *Opts) { o.SecretToken = secret }
}

// WithPollTimeout sets the long polling timeout.
func WithPollTimeout(d time.Duration) Option {
	return func(o *Opts) { o.PollTimeout = d }
}

// WithOffline creates the bot without contacting Telegram.
func WithOffline() Option {
	return func(o *Opts) { o.Offline = true }
}

// Client wraps a telebot Bot.
type Client struct {
	bot     *tele.Bot
	webhook *tele.Webhook
	started atomic.Bool
}

// NewClient creates the bot. The token comes from WithToken or BOT_TOKEN.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("BOT_TOKEN")
	}
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = DefaultPollTimeout
	}
	slog.Debug("Telegram NewClient options set", "webhook", cfg.WebhookURL != "", "offline", cfg.Offline)

	c := &Client{}
	var poller tele.Poller
	if cfg.WebhookURL != "" {
		c.webhook = &tele.Webhook{
			Endpoint:       &tele.WebhookEndpoint{PublicURL: strings.TrimRight(cfg.WebhookURL, "/") + WebhookPath},
			SecretToken:    cfg.SecretToken,
			AllowedUpdates: allowedUpdates,
		}
		poller = c.webhook
	} else {
		poller = &tele.LongPoller{Timeout: cfg.PollTimeout, AllowedUpdates: allowedUpdates}
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		Poller:  poller,
		Offline: cfg.Offline,
		OnError: func(err error, c tele.Context) {
			if c != nil && c.Sender() != nil {
				slog.Error("Telegram handler error", "error", err, "userID", c.Sender().ID)
				return
			}
			slog.Error("Telegram error", "error", err)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	c.bot = bot
	slog.Info("Telegram client created", "username", bot.Me.Username, "mode", c.Mode())
	return c, nil
}

// Bot returns the underlying telebot Bot for handler registration.
func (c *Client) Bot() *tele.Bot { return c.bot }

// Mode reports "webhook" or "polling".
func (c *Client) Mode() string {
	if c.webhook != nil {
		return "webhook"
	}
	return "polling"
}

// WebhookHandler returns the HTTP handler for webhook mode, or nil when polling.
func (c *Client) WebhookHandler() http.Handler {
	if c.webhook == nil {
		return nil
	}
	return c.webhook
}

// Start receives updates until Stop is called. It blocks.
func (c *Client) Start() {
	c.started.Store(true)
	c.bot.Start()
}

// Stop stops receiving updates. It is a no-op when Start was never called.
func (c *Client) Stop() {
	if !c.started.CompareAndSwap(true, false) {
		return
	}
	c.bot.Stop()
}

// SendMessage renders msg and sends it to chatID.
func (c *Client) SendMessage(chatID int64, msg Rendered) (int, error) {
	sent, err := c.bot.Send(tele.ChatID(chatID), msg.Text, msg.Options)
	if err != nil {
		slog.Error("Telegram SendMessage failed", "error", err, "chatID", chatID)
		return 0, fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	slog.Debug("Telegram message sent", "chatID", chatID, "messageID", sent.ID)
	return sent.ID, nil
}

// EditMessage replaces the text and keyboard of a sent message.
func (c *Client) EditMessage(chatID int64, messageID int, msg Rendered) error {
	ref := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	if _, err := c.bot.Edit(ref, msg.Text, msg.Options); err != nil {
		return fmt.Errorf("failed to edit message %d: %w", messageID, err)
	}
	return nil
}

// DeleteMessage removes a message from the chat.
func (c *Client) DeleteMessage(chatID int64, messageID int) error {
	ref := tele.StoredMessage{MessageID: strconv.Itoa(messageID), ChatID: chatID}
	if err := c.bot.Delete(ref); err != nil {
		return fmt.Errorf("failed to delete message %d: %w", messageID, err)
	}
	return nil
}

// AnswerCallback acknowledges a callback query, showing text as a toast when set.
func (c *Client) AnswerCallback(callbackID, text string) error {
	if err := c.bot.Respond(&tele.Callback{ID: callbackID}, &tele.CallbackResponse{Text: text}); err != nil {
		return fmt.Errorf("failed to answer callback: %w", err)
	}
	return nil
}
