// Package messaging provides the pluggable message delivery layer and the
// inbound response processor that feeds the conversation orchestrator.
package messaging

import (
	"context"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
)

// Constants shared by the messaging service implementations.
const (
	// DefaultChannelBufferSize defines the buffer size for receipt and response channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the timeout for non-blocking channel operations.
	DefaultChannelTimeout = 1 * time.Second
)

// Service defines a pluggable message delivery abstraction. It supports
// sending plain text and structured prompts, and provides channels for
// receipt and response events.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient
	// identifier. Each service implements its own recipient rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a plain text message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// SendPrompt sends a structured prompt, flattening it to whatever the
	// transport supports.
	SendPrompt(ctx context.Context, to string, prompt models.Prompt) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Receipts returns a channel of receipt events (sent, delivered, read).
	Receipts() <-chan models.Receipt

	// Responses returns a channel of incoming member responses.
	Responses() <-chan models.Response
}
