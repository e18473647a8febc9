// Package models defines conversation state structures for GymBuddy flows.
package models

import "time"

// FlowType identifies a multi-turn dialogue.
type FlowType string

const (
	// FlowOnboarding collects a new member's goal, diet, and body stats.
	FlowOnboarding FlowType = "onboarding"
	// FlowBooking walks a member through selecting and confirming a class.
	FlowBooking FlowType = "booking"
	// FlowCheckin is the weekly progress check-in.
	FlowCheckin FlowType = "checkin"
	// FlowEscalated parks the conversation while a human follows up.
	FlowEscalated FlowType = "escalated"
)

// StepType identifies the single point a member currently occupies within a flow.
type StepType string

// Onboarding steps, in order.
const (
	StepGoalSelection     StepType = "goal_selection"
	StepDietaryPreference StepType = "dietary_preference"
	StepWeight            StepType = "weight"
	StepHeight            StepType = "height"
	StepAge               StepType = "age"
)

// Booking steps, in order.
const (
	StepSelectClass StepType = "select_class"
	StepConfirm     StepType = "confirm"
)

// Check-in steps, in order. StepWeight is shared with onboarding.
const (
	StepEnergy     StepType = "energy"
	StepCompliance StepType = "compliance"
)

// InitialStep returns the entry step for a flow. Unknown flows map to the
// empty step, which callers treat as corrupted state.
func InitialStep(flow FlowType) StepType {
	switch flow {
	case FlowOnboarding:
		return StepGoalSelection
	case FlowBooking:
		return StepSelectClass
	case FlowCheckin:
		return StepWeight
	default:
		return ""
	}
}

// OnboardingData is the payload carried through the onboarding flow.
type OnboardingData struct {
	Name     string  `json:"name,omitempty"`
	Goal     string  `json:"goal,omitempty"`
	DietPref string  `json:"diet_pref,omitempty"`
	WeightKg float64 `json:"weight,omitempty"`
	HeightCm int     `json:"height,omitempty"`
	Age      int     `json:"age,omitempty"`
}

// BookingData is the payload carried through the booking flow.
type BookingData struct {
	ClassIDs        []string `json:"classes,omitempty"` // candidates shown to the member
	SelectedClassID string   `json:"selected_class_id,omitempty"`
}

// CheckinData is the payload carried through the weekly check-in flow.
type CheckinData struct {
	WeightKg float64 `json:"weight,omitempty"`
	Energy   int     `json:"energy,omitempty"`
}

// FlowData is a tagged variant keyed by flow type: exactly one field is set,
// matching the flow the state row belongs to. This keeps payload shapes
// checked at compile time instead of a free-form map.
type FlowData struct {
	Onboarding *OnboardingData `json:"onboarding,omitempty"`
	Booking    *BookingData    `json:"booking,omitempty"`
	Checkin    *CheckinData    `json:"checkin,omitempty"`
}

// IsZero reports whether no payload is set.
func (d FlowData) IsZero() bool {
	return d.Onboarding == nil && d.Booking == nil && d.Checkin == nil
}

// ConversationState is the single durable row per identity recording what
// step of what flow that identity is in. Clearing nulls the flow columns but
// keeps the row as an activity record.
type ConversationState struct {
	Phone        string    `json:"phone"`
	CurrentFlow  FlowType  `json:"current_flow,omitempty"`
	CurrentStep  StepType  `json:"current_step,omitempty"`
	Data         FlowData  `json:"data,omitempty"`
	LastActivity time.Time `json:"last_activity"`
	CreatedAt    time.Time `json:"created_at"`
}

// InFlow reports whether the state holds an active flow.
func (s *ConversationState) InFlow() bool {
	return s != nil && s.CurrentFlow != ""
}
