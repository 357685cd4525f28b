package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// TextMenus renders inline buttons as numbered text options for transports
// without buttons, and maps a numeric reply back to the button's data.
type TextMenus struct {
	mu   sync.Mutex
	last map[string][]models.Button
}

// NewTextMenus creates an empty menu table.
func NewTextMenus() *TextMenus {
	return &TextMenus{last: make(map[string][]models.Button)}
}

// Render flattens msg into plain text. When msg has buttons they are listed
// as numbered options and become the chat's active menu; a message without
// buttons clears it.
func (t *TextMenus) Render(chatID string, msg models.Message) string {
	var b strings.Builder
	if msg.Heading != "" {
		b.WriteString("*" + msg.Heading + "*\n\n")
	}
	b.WriteString(msg.Text)

	var buttons []models.Button
	for _, row := range msg.Buttons {
		buttons = append(buttons, row...)
	}
	if len(buttons) == 0 {
		t.mu.Lock()
		delete(t.last, chatID)
		t.mu.Unlock()
		return b.String()
	}

	b.WriteString("\n")
	for i, btn := range buttons {
		fmt.Fprintf(&b, "\n%d. %s", i+1, btn.Text)
	}

	t.mu.Lock()
	t.last[chatID] = buttons
	t.mu.Unlock()
	return b.String()
}

// Resolve maps a numeric reply to the data of the chat's active menu.
func (t *TextMenus) Resolve(chatID, text string) (string, bool) {
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(text), "."))
	if err != nil {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	buttons := t.last[chatID]
	if n < 1 || n > len(buttons) {
		return "", false
	}
	return buttons[n-1].Data, true
}

// parseTextEvent classifies a plain-text message from a transport without
// native commands or buttons.
func parseTextEvent(menus *TextMenus, ev models.Event) models.Event {
	text := strings.TrimSpace(ev.Text)
	if data, ok := menus.Resolve(ev.ChatID, text); ok {
		ev.Kind = models.EventCallback
		ev.Data = data
		return ev
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.ToLower(strings.Fields(text)[0])
		switch cmd {
		case "/start":
			ev.Kind = models.EventStart
		case "/help":
			ev.Kind = models.EventHelp
		case "/language":
			ev.Kind = models.EventLanguage
		default:
			ev.Kind = models.EventUnknownCommand
		}
		return ev
	}
	ev.Kind = models.EventText
	return ev
}
