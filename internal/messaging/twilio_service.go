package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/twiliowhatsapp"
)

// ErrServiceStopped is returned when a send is attempted after Stop.
var ErrServiceStopped = errors.New("messaging service stopped")

// TwilioService implements the Service interface using the Twilio API.
// Twilio has no live event stream here, so inbound responses must be pushed
// through EmitResponse (e.g., from a webhook handler).
type TwilioService struct {
	client    twiliowhatsapp.Sender
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
	mu        sync.RWMutex
	stopped   bool
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a new TwilioService wrapping the given Sender.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number by removing all non-numeric characters.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start is a no-op for Twilio (no live client).
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes channels and stops the service.
func (s *TwilioService) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return nil
	}
	s.stopped = true
	close(s.done)
	close(s.receipts)
	close(s.responses)
	slog.Info("TwilioService stopped and channels closed")
	return nil
}

// SendMessage sends a plain text message and emits a sent receipt.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	s.mu.RLock()
	if s.stopped {
		s.mu.RUnlock()
		return ErrServiceStopped
	}
	s.mu.RUnlock()

	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService SendMessage validation error", "error", err, "to", to)
		return err
	}

	if err := s.client.SendMessage(ctx, "+"+canonicalTo, body); err != nil {
		return err
	}

	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.StatusTypeSent, Time: time.Now().Unix()})
	return nil
}

// SendPrompt flattens a structured prompt to text and sends it. Twilio's Go
// SDK cannot send WhatsApp interactive messages.
func (s *TwilioService) SendPrompt(ctx context.Context, to string, prompt models.Prompt) error {
	return s.SendMessage(ctx, to, RenderPrompt(prompt))
}

// EmitResponse pushes an inbound response into the Responses channel. Webhook
// handlers call this when Twilio posts an incoming message.
func (s *TwilioService) EmitResponse(r models.Response) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return
	}
	select {
	case s.responses <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService responses channel blocked, dropping message", "from", r.From)
	}
}

// Receipts returns a channel of receipt events.
func (s *TwilioService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *TwilioService) Responses() <-chan models.Response {
	return s.responses
}

func (s *TwilioService) safeEmitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("TwilioService receipts channel blocked, dropping receipt", "to", r.To)
	}
}
