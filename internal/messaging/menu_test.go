package messaging

import (
	"strings"
	"testing"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

func menuMessage() models.Message {
	return models.Message{
		Text: "Choose a dream book:",
		Buttons: [][]models.Button{
			{{Text: "Miller", Data: "interpreter_miller"}},
			{{Text: "Freud", Data: "interpreter_freud"}, {Text: "Jung", Data: "interpreter_jung"}},
		},
	}
}

func TestTextMenus_RenderNumbersButtons(t *testing.T) {
	m := NewTextMenus()
	got := m.Render("c1", menuMessage())
	want := "Choose a dream book:\n\n1. Miller\n2. Freud\n3. Jung"
	if got != want {
		t.Fatalf("unexpected render:\n%q\nwant\n%q", got, want)
	}

	withHeading := m.Render("c2", models.Message{Heading: "Result", Text: "body"})
	if !strings.HasPrefix(withHeading, "*Result*\n\nbody") {
		t.Errorf("expected bold heading, got %q", withHeading)
	}
}

func TestTextMenus_Resolve(t *testing.T) {
	m := NewTextMenus()
	m.Render("c1", menuMessage())

	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{"1", "interpreter_miller", true},
		{" 3. ", "interpreter_jung", true},
		{"0", "", false},
		{"4", "", false},
		{"one", "", false},
	}
	for _, tt := range tests {
		got, ok := m.Resolve("c1", tt.text)
		if got != tt.want || ok != tt.ok {
			t.Errorf("Resolve(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
	if _, ok := m.Resolve("other", "1"); ok {
		t.Error("menus must be per chat")
	}
}

func TestTextMenus_PlainMessageClearsMenu(t *testing.T) {
	m := NewTextMenus()
	m.Render("c1", menuMessage())
	m.Render("c1", models.Message{Text: "Question 1/3"})

	if _, ok := m.Resolve("c1", "2"); ok {
		t.Error("a numeric answer after a plain message must stay text")
	}
}

func TestParseTextEvent(t *testing.T) {
	m := NewTextMenus()
	m.Render("c1", menuMessage())

	tests := []struct {
		text     string
		wantKind models.EventKind
		wantData string
	}{
		{"2", models.EventCallback, "interpreter_freud"},
		{"/start", models.EventStart, ""},
		{"/START now", models.EventStart, ""},
		{"/help", models.EventHelp, ""},
		{"/language", models.EventLanguage, ""},
		{"/foo", models.EventUnknownCommand, ""},
		{"I dreamt of the sea", models.EventText, ""},
	}
	for _, tt := range tests {
		ev := parseTextEvent(m, models.Event{ChatID: "c1", Text: tt.text})
		if ev.Kind != tt.wantKind || ev.Data != tt.wantData {
			t.Errorf("parseTextEvent(%q) = %s/%q; want %s/%q", tt.text, ev.Kind, ev.Data, tt.wantKind, tt.wantData)
		}
	}
}
