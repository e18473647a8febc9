package messaging

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
)

func TestRenderPromptText(t *testing.T) {
	got := RenderPrompt(models.Text("hello"))
	if got != "hello" {
		t.Errorf("expected plain body, got %q", got)
	}
}

func TestRenderPromptButtons(t *testing.T) {
	p := models.Buttons("Pick one",
		models.Button{ID: "a", Title: "Option A"},
		models.Button{ID: "b", Title: "Option B"},
	)
	p.Header = "Head"
	p.Footer = "Foot"
	got := RenderPrompt(p)

	for _, want := range []string{"*Head*", "Pick one", "1. Option A", "2. Option B", "_Foot_", "Reply with a number"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered prompt missing %q:\n%s", want, got)
		}
	}
}

func TestRenderPromptList(t *testing.T) {
	p := models.Prompt{
		Type: models.PromptTypeList,
		Body: "Schedule",
		Sections: []models.ListSection{
			{Title: "Monday", Rows: []models.ListRow{{ID: "c1", Title: "Yoga", Description: "Priya"}}},
			{Title: "Tuesday", Rows: []models.ListRow{{ID: "c2", Title: "HIIT"}}},
		},
	}
	got := RenderPrompt(p)
	for _, want := range []string{"*Monday*", "1. Yoga (Priya)", "*Tuesday*", "2. HIIT"} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered list missing %q:\n%s", want, got)
		}
	}
}

func TestResolveReply(t *testing.T) {
	buttons := models.Buttons("Pick",
		models.Button{ID: "goal_weight_loss", Title: "Lose Weight"},
		models.Button{ID: "goal_muscle_gain", Title: "Build Muscle"},
	)
	list := models.Prompt{
		Type: models.PromptTypeList,
		Sections: []models.ListSection{
			{Rows: []models.ListRow{{ID: "class_c1", Title: "Yoga"}}},
			{Rows: []models.ListRow{{ID: "class_c2", Title: "HIIT"}}},
		},
	}

	cases := []struct {
		name   string
		prompt models.Prompt
		reply  string
		want   string
	}{
		{"button by number", buttons, "2", "goal_muscle_gain"},
		{"button out of range", buttons, "9", "9"},
		{"free text passthrough", buttons, "build muscle", "build muscle"},
		{"list spans sections", list, "2", "class_c2"},
		{"text prompt ignores numbers", models.Text("hi"), "1", "1"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ResolveReply(tc.prompt, tc.reply); got != tc.want {
				t.Errorf("ResolveReply(%q) = %q, want %q", tc.reply, got, tc.want)
			}
		})
	}
}

func TestCanonicalizePhone(t *testing.T) {
	if _, err := canonicalizePhone(""); err == nil {
		t.Error("expected error for empty recipient")
	}
	if _, err := canonicalizePhone("12"); err == nil {
		t.Error("expected error for too-short number")
	}
	got, err := canonicalizePhone("+1 (555) 000-1111")
	if err != nil {
		t.Fatalf("canonicalizePhone: %v", err)
	}
	if got != "15550001111" {
		t.Errorf("expected 15550001111, got %q", got)
	}
}

// fakeService is an in-memory Service for processor tests.
type fakeService struct {
	mu        sync.Mutex
	sent      []models.Prompt
	responses chan models.Response
	receipts  chan models.Receipt
}

func newFakeService() *fakeService {
	return &fakeService{
		responses: make(chan models.Response, 10),
		receipts:  make(chan models.Receipt, 10),
	}
}

func (f *fakeService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

func (f *fakeService) SendMessage(ctx context.Context, to, body string) error {
	return f.SendPrompt(ctx, to, models.Text(body))
}

func (f *fakeService) SendPrompt(ctx context.Context, to string, prompt models.Prompt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, prompt)
	return nil
}

func (f *fakeService) Start(ctx context.Context) error { return nil }
func (f *fakeService) Stop() error                     { return nil }

func (f *fakeService) Receipts() <-chan models.Receipt   { return f.receipts }
func (f *fakeService) Responses() <-chan models.Response { return f.responses }

func (f *fakeService) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

// echoResponder replies with the content it received.
type echoResponder struct {
	mu    sync.Mutex
	calls []string
}

func (e *echoResponder) Handle(ctx context.Context, phone, content, pushName string) (models.Prompt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, content)
	return models.Text("echo: " + content), nil
}

func (e *echoResponder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestProcessorHandlesAndReplies(t *testing.T) {
	svc := newFakeService()
	responder := &echoResponder{}
	st := store.NewInMemoryStore()
	p := NewProcessor(svc, responder, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	svc.responses <- models.Response{From: "+15550001111", Body: "hi", MessageID: "m1"}
	waitFor(t, func() bool { return svc.sentCount() == 1 })

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if responder.calls[0] != "hi" {
		t.Errorf("expected responder to see %q, got %q", "hi", responder.calls[0])
	}
}

func TestProcessorDropsRedelivery(t *testing.T) {
	svc := newFakeService()
	responder := &echoResponder{}
	st := store.NewInMemoryStore()
	p := NewProcessor(svc, responder, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	svc.responses <- models.Response{From: "+15550001111", Body: "hi", MessageID: "dup"}
	svc.responses <- models.Response{From: "+15550001111", Body: "hi", MessageID: "dup"}
	waitFor(t, func() bool { return responder.callCount() >= 1 })

	// Give the second copy a chance to slip through, then confirm it did not.
	time.Sleep(50 * time.Millisecond)
	if n := responder.callCount(); n != 1 {
		t.Errorf("expected exactly 1 handled message, got %d", n)
	}
}

func TestProcessorResolvesNumericReplies(t *testing.T) {
	svc := newFakeService()
	st := store.NewInMemoryStore()

	responder := &buttonResponder{}
	p := NewProcessor(svc, responder, st)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	svc.responses <- models.Response{From: "+15550001111", Body: "start", MessageID: "m1"}
	waitFor(t, func() bool { return svc.sentCount() == 1 })

	svc.responses <- models.Response{From: "+15550001111", Body: "2", MessageID: "m2"}
	waitFor(t, func() bool { return svc.sentCount() == 2 })

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if responder.second != "opt_b" {
		t.Errorf("expected numeric reply resolved to opt_b, got %q", responder.second)
	}
}

// buttonResponder answers the first message with buttons and records what the
// second message resolved to.
type buttonResponder struct {
	mu     sync.Mutex
	turn   int
	second string
}

func (b *buttonResponder) Handle(ctx context.Context, phone, content, pushName string) (models.Prompt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.turn++
	if b.turn == 1 {
		return models.Buttons("Pick",
			models.Button{ID: "opt_a", Title: "A"},
			models.Button{ID: "opt_b", Title: "B"},
		), nil
	}
	b.second = content
	return models.Text("ok"), nil
}

func TestProcessorDropsInvalidSender(t *testing.T) {
	svc := newFakeService()
	responder := &echoResponder{}
	p := NewProcessor(svc, responder, store.NewInMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	svc.responses <- models.Response{From: "??", Body: "hi"}
	time.Sleep(50 * time.Millisecond)
	if responder.callCount() != 0 {
		t.Error("expected message with invalid sender to be dropped")
	}
}

func TestTwilioServiceSendPrompt(t *testing.T) {
	mock := &recordingSender{}
	svc := NewTwilioService(mock)

	p := models.Buttons("Pick one", models.Button{ID: "a", Title: "Option A"})
	if err := svc.SendPrompt(context.Background(), "+1 555-000-1111", p); err != nil {
		t.Fatalf("SendPrompt: %v", err)
	}
	if len(mock.sent) != 1 {
		t.Fatalf("expected 1 message, got %d", len(mock.sent))
	}
	if mock.sent[0].to != "+15550001111" {
		t.Errorf("expected canonicalized recipient, got %q", mock.sent[0].to)
	}
	if !strings.Contains(mock.sent[0].body, "1. Option A") {
		t.Errorf("expected flattened buttons, got %q", mock.sent[0].body)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := svc.SendMessage(context.Background(), "+15550001111", "late"); err != ErrServiceStopped {
		t.Errorf("expected ErrServiceStopped after Stop, got %v", err)
	}
}

type recordingSender struct {
	sent []struct{ to, body string }
}

func (r *recordingSender) SendMessage(ctx context.Context, to, body string) error {
	r.sent = append(r.sent, struct{ to, body string }{to, body})
	return nil
}

// steppedResponder walks a two-step button menu and records what each turn's
// content resolved to.
type steppedResponder struct {
	mu       sync.Mutex
	turn     int
	resolved []string
}

func (s *steppedResponder) Handle(ctx context.Context, phone, content, pushName string) (models.Prompt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turn++
	s.resolved = append(s.resolved, content)
	switch s.turn {
	case 1:
		return models.Buttons("Step one", models.Button{ID: "step1_a", Title: "A"}), nil
	case 2:
		return models.Buttons("Step two", models.Button{ID: "step2_a", Title: "A"}), nil
	default:
		return models.Text("done"), nil
	}
}

func TestProcessorSerializesRepliesPerPhone(t *testing.T) {
	svc := newFakeService()
	responder := &steppedResponder{}
	p := NewProcessor(svc, responder, store.NewInMemoryStore())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Start(ctx)

	svc.responses <- models.Response{From: "+15550001111", Body: "start", MessageID: "m1"}
	waitFor(t, func() bool { return svc.sentCount() == 1 })

	// Two follow-ups land almost together; each must resolve against the
	// prompt produced by the turn before it, never the same stale prompt.
	svc.responses <- models.Response{From: "+15550001111", Body: "1", MessageID: "m2"}
	svc.responses <- models.Response{From: "+15550001111", Body: "1", MessageID: "m3"}
	waitFor(t, func() bool { return svc.sentCount() == 3 })

	responder.mu.Lock()
	defer responder.mu.Unlock()
	if len(responder.resolved) != 3 || responder.resolved[1] != "step1_a" || responder.resolved[2] != "step2_a" {
		t.Errorf("expected successive replies to resolve against successive prompts, got %v", responder.resolved)
	}
}
