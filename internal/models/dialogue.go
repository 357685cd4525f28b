package models

import "time"

// EventKind classifies an inbound transport event.
type EventKind string

const (
	EventStart          EventKind = "start"
	EventHelp           EventKind = "help"
	EventLanguage       EventKind = "language"
	EventCallback       EventKind = "callback"
	EventText           EventKind = "text"
	EventUnknownCommand EventKind = "unknown"
)

// Callback data understood by the dialogue.
const (
	CallbackLanguagePrefix    = "lang_"
	CallbackInterpreterPrefix = "interpreter_"
	CallbackRestart           = "restart_analysis"
)

// Event is one inbound update from a chat transport, already normalized.
type Event struct {
	Kind            EventKind `json:"kind"`
	UserID          string    `json:"user_id"`
	ChatID          string    `json:"chat_id"`
	Private         bool      `json:"private"`
	MessageID       string    `json:"message_id,omitempty"`        // user's own message, if any
	SourceMessageID string    `json:"source_message_id,omitempty"` // bot message carrying the pressed button
	CallbackID      string    `json:"callback_id,omitempty"`
	Data            string    `json:"data,omitempty"`
	Text            string    `json:"text,omitempty"`
	LanguageHint    string    `json:"language_hint,omitempty"`
	DeliveryID      string    `json:"delivery_id,omitempty"` // transport-unique id; redeliveries repeat it
	ReceivedAt      time.Time `json:"received_at"`
}

// Format selects how a transport renders message text.
type Format int

const (
	// FormatPlain sends text as-is.
	FormatPlain Format = iota
	// FormatMarkdown uses *bold* markup written directly in locale tables.
	FormatMarkdown
	// FormatGenerated carries untrusted generated text under a heading;
	// the transport escapes it for its rich-text dialect.
	FormatGenerated
)

// Button is one inline choice; Data is echoed back in a callback event.
type Button struct {
	Text string `json:"text"`
	Data string `json:"data"`
}

// Message is a transport-neutral outgoing message.
type Message struct {
	Heading string     `json:"heading,omitempty"`
	Text    string     `json:"text"`
	Format  Format     `json:"format"`
	Buttons [][]Button `json:"buttons,omitempty"`
	// Persistent messages are not tracked for cleanup and stay in the chat.
	Persistent bool `json:"persistent,omitempty"`
}

// Screen is everything one turn wants the user to see.
type Screen struct {
	// CallbackAnswer is the toast shown for a button press.
	CallbackAnswer string `json:"callback_answer,omitempty"`
	// Edit replaces the message that carried the pressed button.
	Edit     *Message  `json:"edit,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// Empty reports whether the screen renders nothing into the chat.
func (s Screen) Empty() bool {
	return s.Edit == nil && len(s.Messages) == 0
}

// PromptData is what a generator needs to build one interpretation request.
type PromptData struct {
	Language    string   `json:"language"`
	Interpreter string   `json:"interpreter"`
	DreamText   string   `json:"dream_text"`
	Answers     []string `json:"answers"`
}
