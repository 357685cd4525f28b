// Package testutil provides in-memory fakes shared by DreamPipe tests.
package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// ErrNotSupported mirrors a transport that cannot edit or delete.
var ErrNotSupported = errors.New("fake: not supported")

// Outgoing is one call recorded by FakeService.
type Outgoing struct {
	Op        string // "send", "edit", "delete" or "answer"
	ChatID    string
	MessageID string
	Message   models.Message
	Text      string
}

// FakeService is a chat transport that records every outgoing call.
// It satisfies messaging.Service.
type FakeService struct {
	mu      sync.Mutex
	nextID  int
	calls   []Outgoing
	events  chan models.Event
	stopped bool

	// EditErr and DeleteErr, when set, are returned by Edit and Delete.
	EditErr   error
	DeleteErr error
}

// NewFakeService creates a FakeService with a buffered inbound channel.
func NewFakeService() *FakeService {
	return &FakeService{events: make(chan models.Event, 16)}
}

func (f *FakeService) Name() string { return "fake" }

func (f *FakeService) Start(ctx context.Context) error { return nil }

func (f *FakeService) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.stopped {
		f.stopped = true
		close(f.events)
	}
	return nil
}

func (f *FakeService) Inbound() <-chan models.Event { return f.events }

// Push queues an inbound event.
func (f *FakeService) Push(ev models.Event) { f.events <- ev }

func (f *FakeService) Send(ctx context.Context, chatID string, msg models.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("%d", f.nextID)
	f.calls = append(f.calls, Outgoing{Op: "send", ChatID: chatID, MessageID: id, Message: msg})
	return id, nil
}

func (f *FakeService) Edit(ctx context.Context, chatID, messageID string, msg models.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.EditErr != nil {
		return f.EditErr
	}
	f.calls = append(f.calls, Outgoing{Op: "edit", ChatID: chatID, MessageID: messageID, Message: msg})
	return nil
}

func (f *FakeService) Delete(ctx context.Context, chatID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.DeleteErr != nil {
		return f.DeleteErr
	}
	f.calls = append(f.calls, Outgoing{Op: "delete", ChatID: chatID, MessageID: messageID})
	return nil
}

func (f *FakeService) AnswerCallback(ctx context.Context, ev models.Event, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, Outgoing{Op: "answer", ChatID: ev.ChatID, Text: text})
	return nil
}

// Calls returns a copy of every recorded call.
func (f *FakeService) Calls() []Outgoing {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Outgoing(nil), f.calls...)
}

// Ops returns the recorded calls with the given op.
func (f *FakeService) Ops(op string) []Outgoing {
	var out []Outgoing
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Sent returns the messages delivered by Send in order.
func (f *FakeService) Sent() []models.Message {
	var out []models.Message
	for _, c := range f.Ops("send") {
		out = append(out, c.Message)
	}
	return out
}

// Reset forgets recorded calls.
func (f *FakeService) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = nil
}

// FakeGenerator returns a canned interpretation. It satisfies genai.Generator.
type FakeGenerator struct {
	mu       sync.Mutex
	Result   string
	Err      error
	requests []models.PromptData

	// Block, when set, makes Generate wait for ctx to end.
	Block bool
}

func (g *FakeGenerator) Generate(ctx context.Context, data models.PromptData) (string, error) {
	g.mu.Lock()
	g.requests = append(g.requests, data)
	result, err, block := g.Result, g.Err, g.Block
	g.mu.Unlock()

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return result, err
}

// Requests returns the prompt data passed to Generate so far.
func (g *FakeGenerator) Requests() []models.PromptData {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]models.PromptData(nil), g.requests...)
}

// DecodeAPIResponse decodes a JSON API response and checks its status field.
func DecodeAPIResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}
	if resp.Status != string(expectedStatus) {
		t.Errorf("expected status %q, got %q (message %q)", expectedStatus, resp.Status, resp.Message)
	}
	return resp
}
