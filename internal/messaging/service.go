// Package messaging connects chat transports to the dialogue: the Service
// abstraction, the message janitor and the turn dispatcher.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

// Constants for transport configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for inbound event channels
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrUnsupported is returned by transports that cannot perform an operation.
	ErrUnsupported = errors.New("operation not supported by transport")
	// ErrServiceStopped is returned when sending through a stopped transport.
	ErrServiceStopped = errors.New("messaging service stopped")
)

// Service is a chat transport.
type Service interface {
	// Name identifies the transport in logs and health output.
	Name() string

	// Start begins receiving updates.
	Start(ctx context.Context) error

	// Stop stops receiving and closes the inbound channel.
	Stop() error

	// Inbound returns normalized inbound events.
	Inbound() <-chan models.Event

	// Send delivers msg and returns the transport message id.
	Send(ctx context.Context, chatID string, msg models.Message) (string, error)

	// Edit replaces the content of a previously sent message.
	Edit(ctx context.Context, chatID, messageID string, msg models.Message) error

	// Delete removes a message from the chat.
	Delete(ctx context.Context, chatID, messageID string) error

	// AnswerCallback acknowledges a button press, optionally with a toast.
	AnswerCallback(ctx context.Context, ev models.Event, text string) error
}

// emit pushes ev into ch, dropping it if the channel stays full.
func emit(ch chan<- models.Event, ev models.Event) bool {
	select {
	case ch <- ev:
		return true
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}
