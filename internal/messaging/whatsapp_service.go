package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/whatsapp"
)

// phoneNumberRegex strips everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// canonicalizePhone validates and canonicalizes a phone number to bare digits.
func canonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if recipient != canonical {
		slog.Debug("canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// WhatsAppService implements Service using the Whatsmeow-based whatsapp client.
type WhatsAppService struct {
	client    whatsapp.Sender
	waClient  *whatsapp.Client // access to underlying client for event handling
	receipts  chan models.Receipt
	responses chan models.Response
	done      chan struct{}
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given Sender.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	service := &WhatsAppService{
		client:    client,
		receipts:  make(chan models.Receipt, DefaultChannelBufferSize),
		responses: make(chan models.Response, DefaultChannelBufferSize),
		done:      make(chan struct{}),
	}

	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService created with interface client (likely mock)")
	}

	return service
}

// ValidateAndCanonicalizeRecipient validates and canonicalizes a WhatsApp
// phone number to the bare-digit form whatsmeow JIDs use.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// Start begins background event processing.
func (s *WhatsAppService) Start(ctx context.Context) error {
	slog.Debug("WhatsAppService Start invoked")

	if s.waClient != nil {
		go s.handleEvents(ctx)
		slog.Debug("WhatsAppService event handler started")
	} else {
		slog.Debug("WhatsAppService no full client available, skipping event handling (likely mock)")
	}

	return nil
}

// Stop stops background processing.
func (s *WhatsAppService) Stop() error {
	slog.Info("WhatsAppService Stop invoked")
	close(s.done)
	close(s.receipts)
	close(s.responses)
	slog.Info("WhatsAppService stopped and channels closed")
	return nil
}

// SendMessage sends a message and emits a sent receipt.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService SendMessage validation error", "error", err, "to", to)
		return err
	}

	slog.Debug("WhatsAppService SendMessage invoked", "to", canonicalTo, "body_length", len(body))
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	s.safeEmitReceipt(models.Receipt{To: canonicalTo, Status: models.StatusTypeSent, Time: time.Now().Unix()})
	slog.Info("WhatsAppService message sent and receipt emitted", "to", canonicalTo)
	return nil
}

// SendPrompt flattens a structured prompt to text and sends it.
func (s *WhatsAppService) SendPrompt(ctx context.Context, to string, prompt models.Prompt) error {
	return s.SendMessage(ctx, to, RenderPrompt(prompt))
}

// Receipts returns a channel of receipt events.
func (s *WhatsAppService) Receipts() <-chan models.Receipt {
	return s.receipts
}

// Responses returns a channel of incoming response events.
func (s *WhatsAppService) Responses() <-chan models.Response {
	return s.responses
}

// handleEvents registers the whatsmeow event handler and feeds events into
// the response and receipt channels.
func (s *WhatsAppService) handleEvents(ctx context.Context) {
	slog.Debug("WhatsAppService handleEvents starting")

	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Error("WhatsAppService handleEvents: no client available")
		return
	}

	s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		switch v := evt.(type) {
		case *events.Message:
			s.handleIncomingMessage(v)
		case *events.Receipt:
			s.handleMessageReceipt(v)
		default:
			// Ignore other event types.
		}
	})

	slog.Debug("WhatsAppService event handler registered")

	<-ctx.Done()
	slog.Debug("WhatsAppService handleEvents stopping due to context cancellation")
}

// handleIncomingMessage processes incoming messages from members. Interactive
// replies (buttons, lists) are unwrapped to their reply IDs so flows see the
// same content regardless of how the member answered.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil {
		return
	}

	var messageText string
	switch {
	case evt.Message.GetButtonsResponseMessage() != nil:
		messageText = evt.Message.GetButtonsResponseMessage().GetSelectedButtonID()
	case evt.Message.GetListResponseMessage() != nil:
		messageText = evt.Message.GetListResponseMessage().GetSingleSelectReply().GetSelectedRowID()
	case evt.Message.GetTemplateButtonReplyMessage() != nil:
		messageText = evt.Message.GetTemplateButtonReplyMessage().GetSelectedID()
	case evt.Message.Conversation != nil:
		messageText = *evt.Message.Conversation
	case evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil:
		messageText = *evt.Message.ExtendedTextMessage.Text
	default:
		// Skip non-text messages (images, audio, etc.).
		slog.Debug("WhatsAppService ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	fromNumber := evt.Info.Sender.User
	if !strings.HasPrefix(fromNumber, "+") {
		fromNumber = "+" + fromNumber
	}

	response := models.Response{
		From:      fromNumber,
		Name:      evt.Info.PushName,
		Body:      messageText,
		MessageID: evt.Info.ID,
		Time:      evt.Info.Timestamp.Unix(),
	}

	slog.Debug("WhatsAppService processing incoming message", "from", response.From, "body_length", len(response.Body))

	select {
	case s.responses <- response:
		slog.Info("WhatsAppService incoming message forwarded", "from", response.From)
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService responses channel blocked, dropping message", "from", response.From, "timeout", DefaultChannelTimeout)
	}
}

// handleMessageReceipt processes delivery and read receipts.
func (s *WhatsAppService) handleMessageReceipt(evt *events.Receipt) {
	toNumber := evt.MessageSource.Sender.User
	if !strings.HasPrefix(toNumber, "+") {
		toNumber = "+" + toNumber
	}

	var status models.StatusType
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.StatusTypeDelivered
	case events.ReceiptTypeRead:
		status = models.StatusTypeRead
	case events.ReceiptTypeReadSelf:
		return
	default:
		slog.Debug("WhatsAppService ignoring receipt type", "type", evt.Type, "to", toNumber)
		return
	}

	s.safeEmitReceipt(models.Receipt{To: toNumber, Status: status, Time: evt.Timestamp.Unix()})
}

// safeEmitReceipt sends to the receipts channel without blocking the caller.
func (s *WhatsAppService) safeEmitReceipt(r models.Receipt) {
	select {
	case s.receipts <- r:
	case <-time.After(DefaultChannelTimeout):
		slog.Warn("WhatsAppService receipts channel blocked, dropping receipt", "to", r.To, "status", r.Status)
	}
}
