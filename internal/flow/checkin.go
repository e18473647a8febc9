package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
)

// CheckinFlow is the weekly progress check-in: current weight, energy level,
// and diet compliance over three steps. The final step updates the member's
// recorded weight.
type CheckinFlow struct {
	states *StateManager
	store  store.Store
}

// NewCheckinFlow creates the check-in flow.
func NewCheckinFlow(states *StateManager, st store.Store) *CheckinFlow {
	return &CheckinFlow{states: states, store: st}
}

// Start begins a weekly check-in, replacing any active flow.
func (f *CheckinFlow) Start(ctx context.Context, member *models.Member) (models.Prompt, error) {
	slog.Info("CheckinFlow starting", "phone", member.Phone)

	data := models.FlowData{Checkin: &models.CheckinData{}}
	if err := f.states.Set(ctx, member.Phone, models.FlowCheckin, models.StepWeight, data); err != nil {
		return models.Prompt{}, err
	}
	return models.Text("📝 *Weekly Check-in*\n\nLet's see how your week went!\n\n*What's your current weight?*\n(Type a number in kg, e.g., 72.5)"), nil
}

// HandleStep processes one inbound message against the current check-in step.
func (f *CheckinFlow) HandleStep(ctx context.Context, st *models.ConversationState, member *models.Member, content string) (models.Prompt, error) {
	content = strings.ToLower(strings.TrimSpace(content))
	data := st.Data.Checkin
	if data == nil {
		data = &models.CheckinData{}
	}
	slog.Debug("CheckinFlow step", "phone", member.Phone, "step", st.CurrentStep)

	switch st.CurrentStep {
	case models.StepWeight:
		return f.handleWeight(ctx, member, content, data)
	case models.StepEnergy:
		return f.handleEnergy(ctx, member, content, data)
	case models.StepCompliance:
		return f.handleCompliance(ctx, member, content, data)
	default:
		return f.Start(ctx, member)
	}
}

func energyButtons(body string) models.Prompt {
	return models.Buttons(body,
		models.Button{ID: "energy_1", Title: "1 - Low 😴"},
		models.Button{ID: "energy_3", Title: "3 - Ok 😊"},
		models.Button{ID: "energy_5", Title: "5 - Great 🔥"},
	)
}

func (f *CheckinFlow) handleWeight(ctx context.Context, member *models.Member, content string, data *models.CheckinData) (models.Prompt, error) {
	weight, err := parseWeight(content)
	if err != nil || weight < minWeightKg || weight > maxWeightKg {
		return models.Text("Please enter your weight as a number (e.g., 72.5 or 72.5kg)"), nil
	}
	data.WeightKg = weight
	if err := f.states.Set(ctx, member.Phone, models.FlowCheckin, models.StepEnergy, models.FlowData{Checkin: data}); err != nil {
		return models.Prompt{}, err
	}
	return energyButtons(fmt.Sprintf("Got it! %.1f kg recorded.\n\nHow's your energy level this week?", weight)), nil
}

func (f *CheckinFlow) handleEnergy(ctx context.Context, member *models.Member, content string, data *models.CheckinData) (models.Prompt, error) {
	var energy int
	if s, ok := strings.CutPrefix(content, "energy_"); ok {
		energy, _ = strconv.Atoi(s)
	} else {
		energy, _ = strconv.Atoi(content)
	}
	if energy < 1 || energy > 5 {
		return energyButtons("Please select an energy level or type a number 1-5"), nil
	}
	data.Energy = energy
	if err := f.states.Set(ctx, member.Phone, models.FlowCheckin, models.StepCompliance, models.FlowData{Checkin: data}); err != nil {
		return models.Prompt{}, err
	}
	return models.Buttons("How well did you follow your diet plan this week?",
		models.Button{ID: "diet_full", Title: "Fully ✅"},
		models.Button{ID: "diet_mostly", Title: "Mostly 👍"},
		models.Button{ID: "diet_poor", Title: "Struggled 😅"},
	), nil
}

func (f *CheckinFlow) handleCompliance(ctx context.Context, member *models.Member, content string, data *models.CheckinData) (models.Prompt, error) {
	compliance := "mostly"
	if s, ok := strings.CutPrefix(content, "diet_"); ok {
		compliance = s
	}

	delta := data.WeightKg - member.WeightKg
	member.WeightKg = data.WeightKg
	if err := f.store.SaveMember(*member); err != nil {
		return models.Prompt{}, err
	}
	if err := f.states.Clear(ctx, member.Phone); err != nil {
		return models.Prompt{}, err
	}
	slog.Info("CheckinFlow completed", "phone", member.Phone, "weight", data.WeightKg, "energy", data.Energy, "compliance", compliance)

	trend := "holding steady"
	switch {
	case delta < -0.2:
		trend = fmt.Sprintf("down %.1f kg", -delta)
	case delta > 0.2:
		trend = fmt.Sprintf("up %.1f kg", delta)
	}
	return models.Text(fmt.Sprintf(`✅ *Check-in Complete!*

📊 Weight: %.1f kg (%s)
⚡ Energy: %d/5
🍎 Diet: %s

Your plan has been updated based on your progress!`, data.WeightKg, trend, data.Energy, compliance)), nil
}
