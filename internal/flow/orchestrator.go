package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gymops/gymbuddy/internal/booking"
	"github.com/gymops/gymbuddy/internal/genai"
	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
)

// Orchestrator is the single entry point for inbound chat messages. It holds
// the per-phone lock for the whole turn, then dispatches in precedence order:
// an active flow wins, then new-lead onboarding, then resuming incomplete
// onboarding, then intent classification.
type Orchestrator struct {
	store    store.Store
	states   *StateManager
	engine   *booking.Engine
	ai       genai.ClientInterface
	onboard  *OnboardingFlow
	booking  *BookingFlow
	checkin  *CheckinFlow
	handlers *Handlers
}

// NewOrchestrator wires the flows and handlers together.
func NewOrchestrator(st store.Store, states *StateManager, engine *booking.Engine, ai genai.ClientInterface, handlers *Handlers) *Orchestrator {
	return &Orchestrator{
		store:    st,
		states:   states,
		engine:   engine,
		ai:       ai,
		onboard:  NewOnboardingFlow(states, st),
		booking:  NewBookingFlow(states, engine, st, ai),
		checkin:  NewCheckinFlow(states, st),
		handlers: handlers,
	}
}

// Handle processes one inbound message and returns the reply to send. The
// phone's lock is held for the full turn, so a double-delivered message waits
// for the first copy to finish. Dispatch failures never surface: the flow is
// reset and the member gets a retry prompt.
func (o *Orchestrator) Handle(ctx context.Context, phone, content, pushName string) (prompt models.Prompt, err error) {
	o.states.LockPhone(phone)
	defer o.states.UnlockPhone(phone)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("Orchestrator Handle panicked", "phone", phone, "panic", r)
			prompt, err = o.recoverTurn(ctx, phone)
		}
	}()

	content = strings.TrimSpace(content)
	slog.Info("Orchestrator handling message", "phone", phone, "length", len(content))

	prompt, err = o.dispatch(ctx, phone, content, pushName)
	if err != nil {
		slog.Error("Orchestrator dispatch failed", "phone", phone, "error", err)
		return o.recoverTurn(ctx, phone)
	}
	return prompt, nil
}

// recoverTurn resets whatever flow the phone was in and asks the member to
// try again.
func (o *Orchestrator) recoverTurn(ctx context.Context, phone string) (models.Prompt, error) {
	if err := o.states.Clear(ctx, phone); err != nil {
		slog.Error("Orchestrator recovery clear failed", "phone", phone, "error", err)
	}
	return models.Text("Sorry, something went wrong on my end. 😅 Please try that again, or type *help* to see what I can do."), nil
}

func (o *Orchestrator) dispatch(ctx context.Context, phone, content, pushName string) (models.Prompt, error) {
	member, err := o.store.GetMemberByPhone(phone)
	if err != nil {
		return models.Prompt{}, err
	}

	st, err := o.states.Get(ctx, phone)
	if err != nil {
		return models.Prompt{}, err
	}
	if st.InFlow() && member != nil {
		return o.continueFlow(ctx, st, member, content)
	}

	if member == nil {
		return o.startNewLead(ctx, phone, pushName)
	}

	if !member.OnboardingCompleted {
		return o.onboard.Resume(ctx, member, content)
	}

	return o.handleActiveMember(ctx, member, content)
}

func (o *Orchestrator) continueFlow(ctx context.Context, st *models.ConversationState, member *models.Member, content string) (models.Prompt, error) {
	switch st.CurrentFlow {
	case models.FlowOnboarding:
		return o.onboard.HandleStep(ctx, st, member, content)
	case models.FlowBooking:
		return o.booking.HandleStep(ctx, st, member, content)
	case models.FlowCheckin:
		return o.checkin.HandleStep(ctx, st, member, content)
	case models.FlowEscalated:
		return o.handlers.EscalatedHold(), nil
	default:
		if err := o.states.Clear(ctx, member.Phone); err != nil {
			return models.Prompt{}, err
		}
		return o.handleActiveMember(ctx, member, content)
	}
}

func (o *Orchestrator) startNewLead(ctx context.Context, phone, pushName string) (models.Prompt, error) {
	name := strings.TrimSpace(pushName)
	if name == "" || strings.EqualFold(name, "unknown") {
		name = "New Member"
	}
	now := time.Now()
	member := models.Member{
		ID:        uuid.NewString(),
		Phone:     phone,
		Name:      name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.CreateMember(member); err != nil {
		return models.Prompt{}, err
	}
	slog.Info("Orchestrator created new lead", "phone", phone, "name", name)
	return o.onboard.Start(ctx, &member)
}

func (o *Orchestrator) handleActiveMember(ctx context.Context, member *models.Member, content string) (models.Prompt, error) {
	lower := strings.ToLower(content)

	// Button replies that land outside a flow still mean something.
	switch {
	case strings.HasPrefix(lower, "goal_") || strings.HasPrefix(lower, "diet_"):
		return o.onboard.Resume(ctx, member, content)
	case strings.HasPrefix(lower, booking.ClassButtonPrefix):
		st := &models.ConversationState{Phone: member.Phone, CurrentFlow: models.FlowBooking, CurrentStep: models.StepSelectClass}
		return o.booking.HandleStep(ctx, st, member, content)
	case strings.HasPrefix(lower, booking.CancelButtonPrefix):
		return o.cancelByButton(ctx, member, strings.TrimPrefix(lower, booking.CancelButtonPrefix))
	}

	switch lower {
	case "checkin", "check-in", "check in":
		return o.checkin.Start(ctx, member)
	case "help":
		return o.handlers.Help(member), nil
	}

	result, err := o.ai.ClassifyIntent(ctx, content, false)
	if err != nil {
		return models.Prompt{}, err
	}
	slog.Info("Orchestrator classified intent", "phone", member.Phone, "intent", result.Intent, "confidence", result.Confidence)

	switch result.Intent {
	case models.IntentGreeting, models.IntentNewLead:
		return o.handlers.Greeting(member), nil
	case models.IntentBooking:
		return o.booking.Start(ctx, member, content)
	case models.IntentFAQ:
		return o.handlers.FAQ(content), nil
	case models.IntentHumanHelp:
		return o.escalate(ctx, member)
	case models.IntentWorkout:
		return o.handlers.Workout(ctx, member, content), nil
	case models.IntentDiet:
		return o.handlers.Diet(ctx, member, content), nil
	case models.IntentProgress:
		return o.handlers.Progress(ctx, member)
	case models.IntentCancel:
		return o.handlers.CancelBooking(ctx, member)
	case models.IntentGeneral:
		return o.handlers.General(ctx, member, content), nil
	case models.IntentOffTopic:
		return o.handlers.OffTopic(), nil
	default:
		return o.handlers.Help(member), nil
	}
}

func (o *Orchestrator) cancelByButton(ctx context.Context, member *models.Member, bookingID string) (models.Prompt, error) {
	res, err := o.engine.Cancel(ctx, member.ID, bookingID)
	if err != nil {
		return models.Prompt{}, err
	}
	return models.Text(booking.ResultText(res)), nil
}

// escalate parks the conversation with a human and tells the member.
func (o *Orchestrator) escalate(ctx context.Context, member *models.Member) (models.Prompt, error) {
	if err := o.states.Set(ctx, member.Phone, models.FlowEscalated, "", models.FlowData{}); err != nil {
		return models.Prompt{}, err
	}
	slog.Warn("Orchestrator escalated conversation", "phone", member.Phone)
	return o.handlers.Escalation(), nil
}
