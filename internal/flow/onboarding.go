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

// Accepted input ranges for onboarding body stats.
const (
	minWeightKg = 30
	maxWeightKg = 250
	minHeightCm = 100
	maxHeightCm = 250
	minAge      = 14
	maxAge      = 100
)

// OnboardingFlow collects a new member's goal, dietary preference, and body
// stats over five steps, then marks the member onboarded. Each parsed answer
// is persisted on the member row as it arrives, so an interrupted onboarding
// resumes at the right step.
type OnboardingFlow struct {
	states *StateManager
	store  store.Store
}

// NewOnboardingFlow creates the onboarding flow.
func NewOnboardingFlow(states *StateManager, st store.Store) *OnboardingFlow {
	return &OnboardingFlow{states: states, store: st}
}

func goalButtons(body string) models.Prompt {
	return models.Buttons(body,
		models.Button{ID: "goal_weight_loss", Title: "Lose Weight 🏃"},
		models.Button{ID: "goal_muscle_gain", Title: "Build Muscle 💪"},
		models.Button{ID: "goal_fitness", Title: "Stay Fit 🌟"},
	)
}

func dietButtons(body string) models.Prompt {
	return models.Buttons(body,
		models.Button{ID: "diet_veg", Title: "Vegetarian 🥬"},
		models.Button{ID: "diet_nonveg", Title: "Non-Veg 🍗"},
		models.Button{ID: "diet_egg", Title: "Eggetarian 🥚"},
	)
}

// Start begins onboarding for a member, replacing any active flow.
func (f *OnboardingFlow) Start(ctx context.Context, member *models.Member) (models.Prompt, error) {
	slog.Info("OnboardingFlow starting", "phone", member.Phone)

	data := models.FlowData{Onboarding: &models.OnboardingData{Name: member.Name}}
	if err := f.states.Set(ctx, member.Phone, models.FlowOnboarding, models.StepGoalSelection, data); err != nil {
		return models.Prompt{}, err
	}

	p := goalButtons(fmt.Sprintf("Hi %s! I'm GymBuddy, your fitness companion.\n\nI'll set you up with classes and plans that fit you. Let's start!\n\n*What's your #1 fitness goal?*", member.Name))
	p.Header = "Welcome to the gym! 🎉"
	p.Footer = "GymBuddy"
	return p, nil
}

// Resume picks onboarding back up at the member's persisted step, recreating
// the state row if it is gone.
func (f *OnboardingFlow) Resume(ctx context.Context, member *models.Member, content string) (models.Prompt, error) {
	step := models.StepType(member.OnboardingStep)
	if !validStep(models.FlowOnboarding, step) {
		step = models.StepGoalSelection
	}
	slog.Debug("OnboardingFlow resuming", "phone", member.Phone, "step", step)

	st, err := f.states.Get(ctx, member.Phone)
	if err != nil {
		return models.Prompt{}, err
	}
	if st == nil || st.CurrentFlow != models.FlowOnboarding {
		data := models.FlowData{Onboarding: &models.OnboardingData{Name: member.Name}}
		if err := f.states.Set(ctx, member.Phone, models.FlowOnboarding, step, data); err != nil {
			return models.Prompt{}, err
		}
		st = &models.ConversationState{Phone: member.Phone, CurrentFlow: models.FlowOnboarding, CurrentStep: step, Data: data}
	}
	return f.HandleStep(ctx, st, member, content)
}

// HandleStep processes one inbound message against the current onboarding
// step. Invalid input re-prompts without advancing.
func (f *OnboardingFlow) HandleStep(ctx context.Context, st *models.ConversationState, member *models.Member, content string) (models.Prompt, error) {
	content = strings.ToLower(strings.TrimSpace(content))
	data := st.Data.Onboarding
	if data == nil {
		data = &models.OnboardingData{Name: member.Name}
	}
	slog.Debug("OnboardingFlow step", "phone", member.Phone, "step", st.CurrentStep)

	switch st.CurrentStep {
	case models.StepGoalSelection:
		return f.handleGoal(ctx, member, content, data)
	case models.StepDietaryPreference:
		return f.handleDiet(ctx, member, content, data)
	case models.StepWeight:
		return f.handleWeight(ctx, member, content, data)
	case models.StepHeight:
		return f.handleHeight(ctx, member, content, data)
	case models.StepAge:
		return f.handleAge(ctx, member, content, data)
	default:
		return f.Start(ctx, member)
	}
}

func (f *OnboardingFlow) advance(ctx context.Context, member *models.Member, step models.StepType, data *models.OnboardingData) error {
	member.OnboardingStep = string(step)
	if err := f.store.SaveMember(*member); err != nil {
		return err
	}
	return f.states.Set(ctx, member.Phone, models.FlowOnboarding, step, models.FlowData{Onboarding: data})
}

func (f *OnboardingFlow) handleGoal(ctx context.Context, member *models.Member, content string, data *models.OnboardingData) (models.Prompt, error) {
	goal := parseGoal(content)
	if goal == "" {
		return goalButtons("Please select your fitness goal:"), nil
	}
	data.Goal = goal
	if err := f.advance(ctx, member, models.StepDietaryPreference, data); err != nil {
		return models.Prompt{}, err
	}

	goalText := map[string]string{
		"weight_loss":     "weight loss",
		"muscle_gain":     "muscle building",
		"general_fitness": "staying fit",
	}[goal]
	return dietButtons(fmt.Sprintf("Great choice! I'll focus on *%s*.\n\n*What's your dietary preference?*", goalText)), nil
}

func (f *OnboardingFlow) handleDiet(ctx context.Context, member *models.Member, content string, data *models.OnboardingData) (models.Prompt, error) {
	diet := parseDiet(content)
	if diet == "" {
		return dietButtons("Please select your dietary preference:"), nil
	}
	data.DietPref = diet
	if err := f.advance(ctx, member, models.StepWeight, data); err != nil {
		return models.Prompt{}, err
	}

	dietText := map[string]string{
		"veg":        "vegetarian",
		"non_veg":    "non-vegetarian",
		"eggetarian": "eggetarian",
	}[diet]
	return models.Text(fmt.Sprintf("Perfect! I'll keep your plans %s. 🍎\n\n*What's your current weight?*\n(Just type a number in kg, e.g., 72 or 72.5)", dietText)), nil
}

func (f *OnboardingFlow) handleWeight(ctx context.Context, member *models.Member, content string, data *models.OnboardingData) (models.Prompt, error) {
	weight, err := parseWeight(content)
	if err != nil {
		return models.Text("Please enter your weight as a number in kg (e.g., 72 or 72.5)"), nil
	}
	if weight < minWeightKg || weight > maxWeightKg {
		return models.Text("That doesn't seem right. Please enter your weight in kg (e.g., 72)"), nil
	}
	data.WeightKg = weight
	if err := f.advance(ctx, member, models.StepHeight, data); err != nil {
		return models.Prompt{}, err
	}
	return models.Text(fmt.Sprintf("Got it! %.1f kg recorded. 📝\n\n*What's your height?*\n(Type in cm, e.g., 170)", weight)), nil
}

func (f *OnboardingFlow) handleHeight(ctx context.Context, member *models.Member, content string, data *models.OnboardingData) (models.Prompt, error) {
	height, err := parseHeight(content)
	if err != nil || height < minHeightCm || height > maxHeightCm {
		return models.Text("Please enter your height in cm (e.g., 170)"), nil
	}
	data.HeightCm = height
	if err := f.advance(ctx, member, models.StepAge, data); err != nil {
		return models.Prompt{}, err
	}
	return models.Text(fmt.Sprintf("Perfect! %d cm. 📏\n\n*Last question - what's your age?*", height)), nil
}

func (f *OnboardingFlow) handleAge(ctx context.Context, member *models.Member, content string, data *models.OnboardingData) (models.Prompt, error) {
	ageStr := strings.TrimSpace(strings.NewReplacer("years", "", "yrs", "").Replace(content))
	age, err := strconv.Atoi(ageStr)
	if err != nil {
		return models.Text("Please enter your age as a number (e.g., 28)"), nil
	}
	if age < minAge || age > maxAge {
		return models.Text(fmt.Sprintf("Please enter a valid age (%d-%d)", minAge, maxAge)), nil
	}
	data.Age = age

	member.PrimaryGoal = data.Goal
	member.DietaryPref = data.DietPref
	member.WeightKg = data.WeightKg
	member.HeightCm = data.HeightCm
	member.Age = age
	member.OnboardingCompleted = true
	member.OnboardingStep = ""
	if err := f.store.SaveMember(*member); err != nil {
		return models.Prompt{}, err
	}
	if err := f.states.Clear(ctx, member.Phone); err != nil {
		return models.Prompt{}, err
	}
	slog.Info("OnboardingFlow completed", "phone", member.Phone, "goal", data.Goal)

	goalText := map[string]string{
		"weight_loss":     "to help you lose weight",
		"muscle_gain":     "to build muscle",
		"general_fitness": "to keep you fit and healthy",
	}[data.Goal]
	return models.Text(fmt.Sprintf(`🎉 *You're all set, %s!*

Your profile is ready %s.

Reply:
💪 *workout* - Workout ideas
🍎 *diet* - Nutrition tips
📅 *classes* - Book a class
📊 *progress* - Check your stats

Let's get started!`, member.Name, goalText)), nil
}

func parseGoal(content string) string {
	switch {
	case strings.Contains(content, "goal_weight_loss"), strings.Contains(content, "weight"),
		strings.Contains(content, "lose"), strings.Contains(content, "fat"):
		return "weight_loss"
	case strings.Contains(content, "goal_muscle"), strings.Contains(content, "muscle"),
		strings.Contains(content, "build"), strings.Contains(content, "gain"):
		return "muscle_gain"
	case strings.Contains(content, "goal_fitness"), strings.Contains(content, "fit"),
		strings.Contains(content, "health"):
		return "general_fitness"
	}
	return ""
}

func parseDiet(content string) string {
	switch {
	case strings.Contains(content, "diet_veg"), content == "veg", strings.Contains(content, "vegetarian") && !strings.Contains(content, "non"):
		return "veg"
	case strings.Contains(content, "diet_nonveg"), strings.Contains(content, "non"),
		strings.Contains(content, "chicken"), strings.Contains(content, "meat"):
		return "non_veg"
	case strings.Contains(content, "diet_egg"), strings.Contains(content, "egg"):
		return "eggetarian"
	}
	return ""
}

func parseWeight(content string) (float64, error) {
	s := strings.TrimSpace(strings.NewReplacer("kgs", "", "kg", "").Replace(content))
	return strconv.ParseFloat(s, 64)
}

// parseHeight accepts centimeters ("170") or feet.inches ("5.7"); values
// under 10 are read as feet.inches.
func parseHeight(content string) (int, error) {
	s := strings.TrimSpace(strings.NewReplacer("cm", "", "'", "", `"`, "").Replace(content))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if strings.Contains(s, ".") && v < 10 {
		parts := strings.SplitN(s, ".", 2)
		feet, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, err
		}
		inches := 0
		if len(parts) > 1 && parts[1] != "" {
			if inches, err = strconv.Atoi(parts[1]); err != nil {
				return 0, err
			}
		}
		return int(float64(feet)*30.48 + float64(inches)*2.54), nil
	}
	return int(v), nil
}
