// Package flow implements GymBuddy's conversation state machine: the durable
// per-phone state row, the multi-turn flows (onboarding, booking, check-in),
// and the orchestrator that routes every inbound message.
package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
	"github.com/gymops/gymbuddy/internal/util"
)

// StateManager owns the conversation state rows. Each phone has at most one
// row and at most one active flow; setting a flow overwrites whatever was
// there before. The per-phone lock serializes handling for one identity, so
// a double-delivered message cannot interleave two state transitions.
type StateManager struct {
	store store.Store
	locks *util.KeyedMutex
}

// NewStateManager creates a StateManager backed by a Store.
func NewStateManager(st store.Store) *StateManager {
	slog.Debug("Creating StateManager")
	return &StateManager{store: st, locks: util.NewKeyedMutex()}
}

// LockPhone serializes processing for one phone number. The caller must
// release with UnlockPhone.
func (sm *StateManager) LockPhone(phone string) {
	sm.locks.Lock(phone)
}

// UnlockPhone releases the per-phone lock.
func (sm *StateManager) UnlockPhone(phone string) {
	sm.locks.Unlock(phone)
}

// Get retrieves the conversation state for a phone, or nil if the phone has
// never been seen. A stored step that is not a legal step of the stored flow
// is treated as corrupted: the flow is reset to its initial step, persisted,
// and the repaired state returned. The caller never sees the corruption.
func (sm *StateManager) Get(ctx context.Context, phone string) (*models.ConversationState, error) {
	slog.Debug("StateManager Get", "phone", phone)

	st, err := sm.store.GetConversationState(phone)
	if err != nil {
		slog.Error("StateManager Get error", "error", err, "phone", phone)
		return nil, err
	}
	if st == nil || !st.InFlow() {
		return st, nil
	}

	if !validStep(st.CurrentFlow, st.CurrentStep) {
		slog.Warn("StateManager recovering corrupt state", "phone", phone, "flow", st.CurrentFlow, "step", st.CurrentStep)
		st.CurrentStep = models.InitialStep(st.CurrentFlow)
		st.Data = models.FlowData{}
		st.LastActivity = time.Now()
		if st.CurrentStep == "" {
			// Unknown flow entirely; drop it.
			st.CurrentFlow = ""
			if err := sm.store.ClearConversationState(phone); err != nil {
				return nil, err
			}
			return st, nil
		}
		if err := sm.store.SaveConversationState(*st); err != nil {
			return nil, err
		}
	}
	return st, nil
}

// Set records that the phone is at the given step of the given flow,
// unconditionally replacing any prior flow.
func (sm *StateManager) Set(ctx context.Context, phone string, flow models.FlowType, step models.StepType, data models.FlowData) error {
	slog.Debug("StateManager Set", "phone", phone, "flow", flow, "step", step)

	now := time.Now()
	st := models.ConversationState{
		Phone:        phone,
		CurrentFlow:  flow,
		CurrentStep:  step,
		Data:         data,
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := sm.store.SaveConversationState(st); err != nil {
		slog.Error("StateManager Set error", "error", err, "phone", phone, "flow", flow, "step", step)
		return err
	}
	return nil
}

// Clear ends the active flow for a phone, keeping the row as an activity record.
func (sm *StateManager) Clear(ctx context.Context, phone string) error {
	slog.Debug("StateManager Clear", "phone", phone)
	if err := sm.store.ClearConversationState(phone); err != nil {
		slog.Error("StateManager Clear error", "error", err, "phone", phone)
		return err
	}
	return nil
}

// flowSteps is the closed set of steps per flow.
var flowSteps = map[models.FlowType][]models.StepType{
	models.FlowOnboarding: {models.StepGoalSelection, models.StepDietaryPreference, models.StepWeight, models.StepHeight, models.StepAge},
	models.FlowBooking:    {models.StepSelectClass, models.StepConfirm},
	models.FlowCheckin:    {models.StepWeight, models.StepEnergy, models.StepCompliance},
	models.FlowEscalated:  {},
}

func validStep(flow models.FlowType, step models.StepType) bool {
	steps, ok := flowSteps[flow]
	if !ok {
		return false
	}
	if flow == models.FlowEscalated {
		// Escalated parks the conversation without steps.
		return step == ""
	}
	for _, s := range steps {
		if s == step {
			return true
		}
	}
	return false
}
