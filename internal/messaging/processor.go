package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
	"github.com/gymops/gymbuddy/internal/util"
)

// Responder produces the reply for one inbound message. The flow orchestrator
// is the production implementation.
type Responder interface {
	Handle(ctx context.Context, phone, content, pushName string) (models.Prompt, error)
}

// Processor consumes inbound responses from a messaging Service, drops
// transport redeliveries, hands each message to the Responder, and sends the
// reply back out. Send failures are logged and never stop the loop.
type Processor struct {
	svc       Service
	responder Responder
	dedup     store.DedupRepo

	// phoneLocks serializes resolve, handle, remember per phone so two
	// messages from one sender cannot resolve against the same stale prompt
	// or record prompts out of order.
	phoneLocks *util.KeyedMutex

	// lastPrompts remembers the most recent prompt per phone so numeric
	// replies can be resolved against the options it offered.
	mu          sync.Mutex
	lastPrompts map[string]models.Prompt
}

// NewProcessor creates a Processor. dedup may be nil, in which case every
// delivery is processed.
func NewProcessor(svc Service, responder Responder, dedup store.DedupRepo) *Processor {
	return &Processor{
		svc:         svc,
		responder:   responder,
		dedup:       dedup,
		phoneLocks:  util.NewKeyedMutex(),
		lastPrompts: make(map[string]models.Prompt),
	}
}

// Start consumes the service's response and receipt channels until ctx is
// cancelled or the channels close. Each message is processed in its own
// goroutine; messages from one phone are serialized by the per-phone lock in
// process.
func (p *Processor) Start(ctx context.Context) {
	slog.Info("Processor starting")
	responses := p.svc.Responses()
	receipts := p.svc.Receipts()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Processor stopping due to context cancellation")
			return
		case resp, ok := <-responses:
			if !ok {
				slog.Info("Processor stopping, responses channel closed")
				return
			}
			go p.process(ctx, resp)
		case receipt, ok := <-receipts:
			if !ok {
				receipts = nil
				continue
			}
			slog.Debug("Processor receipt", "to", receipt.To, "status", receipt.Status)
		}
	}
}

// process handles one inbound response end to end.
func (p *Processor) process(ctx context.Context, resp models.Response) {
	phone, err := p.svc.ValidateAndCanonicalizeRecipient(resp.From)
	if err != nil {
		slog.Warn("Processor dropping message with invalid sender", "from", resp.From, "error", err)
		return
	}

	if p.dedup != nil && resp.MessageID != "" {
		first, err := p.dedup.RecordInbound(resp.MessageID, phone)
		if err != nil {
			// Dedup storage trouble must not lose the message.
			slog.Error("Processor dedup check failed, processing anyway", "error", err, "messageID", resp.MessageID)
		} else if !first {
			slog.Info("Processor dropping redelivered message", "messageID", resp.MessageID, "phone", phone)
			return
		}
	}

	p.phoneLocks.Lock(phone)
	defer p.phoneLocks.Unlock(phone)

	content := p.resolveContent(phone, resp.Body)
	prompt, err := p.responder.Handle(ctx, phone, content, resp.Name)
	if err != nil {
		slog.Error("Processor responder failed", "error", err, "phone", phone)
		return
	}

	if prompt.Body != "" {
		if err := p.svc.SendPrompt(ctx, phone, prompt); err != nil {
			slog.Error("Processor failed to send reply", "error", err, "phone", phone)
		}
	}
	p.rememberPrompt(phone, prompt)

	if p.dedup != nil && resp.MessageID != "" {
		if err := p.dedup.MarkProcessed(resp.MessageID); err != nil {
			slog.Error("Processor failed to mark message processed", "error", err, "messageID", resp.MessageID)
		}
	}
}

func (p *Processor) resolveContent(phone, body string) string {
	p.mu.Lock()
	last, ok := p.lastPrompts[phone]
	p.mu.Unlock()
	if !ok {
		return body
	}
	return ResolveReply(last, body)
}

func (p *Processor) rememberPrompt(phone string, prompt models.Prompt) {
	p.mu.Lock()
	p.lastPrompts[phone] = prompt
	p.mu.Unlock()
}
