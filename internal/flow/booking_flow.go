package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gymops/gymbuddy/internal/booking"
	"github.com/gymops/gymbuddy/internal/genai"
	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
)

// listWindowDays is how far ahead the class picker looks.
const listWindowDays = 3

// matchWindow is how close a class start must be to a parsed booking time to
// count as the class the member asked for.
const matchWindow = 30 * time.Minute

// BookingFlow walks a member from "book me a class" to a confirmed booking.
// When the opening message already names a class and time it skips straight
// to confirmation; otherwise it shows the schedule and lets the member pick.
type BookingFlow struct {
	states *StateManager
	engine *booking.Engine
	store  store.Store
	ai     genai.ClientInterface
}

// NewBookingFlow creates the booking flow.
func NewBookingFlow(states *StateManager, engine *booking.Engine, st store.Store, ai genai.ClientInterface) *BookingFlow {
	return &BookingFlow{states: states, engine: engine, store: st, ai: ai}
}

// Start begins the booking flow. A non-empty message is first run through the
// booking detail parser so "book yoga tomorrow 6pm" lands on the confirm step
// directly.
func (f *BookingFlow) Start(ctx context.Context, member *models.Member, message string) (models.Prompt, error) {
	slog.Info("BookingFlow starting", "phone", member.Phone)

	if strings.TrimSpace(message) != "" {
		details, err := f.ai.ParseBookingDetails(ctx, message)
		if err != nil {
			slog.Error("BookingFlow Start parse failed", "phone", member.Phone, "error", err)
		} else if details.Parsed {
			if match, err := f.findMatchingClass(ctx, details); err == nil && match != nil {
				return f.askConfirm(ctx, member, match)
			}
		}
	}
	return f.showClassList(ctx, member)
}

// HandleStep processes one inbound message against the current booking step.
func (f *BookingFlow) HandleStep(ctx context.Context, st *models.ConversationState, member *models.Member, content string) (models.Prompt, error) {
	data := st.Data.Booking
	if data == nil {
		data = &models.BookingData{}
	}
	slog.Debug("BookingFlow step", "phone", member.Phone, "step", st.CurrentStep)

	switch st.CurrentStep {
	case models.StepSelectClass:
		return f.handleSelect(ctx, member, content, data)
	case models.StepConfirm:
		return f.handleConfirm(ctx, member, content, data)
	default:
		return f.Start(ctx, member, content)
	}
}

func (f *BookingFlow) showClassList(ctx context.Context, member *models.Member) (models.Prompt, error) {
	classes, err := f.engine.ListUpcoming(ctx, listWindowDays, "")
	if err != nil {
		return models.Prompt{}, err
	}
	if len(classes) == 0 {
		if err := f.states.Clear(ctx, member.Phone); err != nil {
			return models.Prompt{}, err
		}
		return booking.ClassListPrompt(nil), nil
	}

	ids := make([]string, 0, len(classes))
	for _, c := range classes {
		ids = append(ids, c.ID)
	}
	data := models.FlowData{Booking: &models.BookingData{ClassIDs: ids}}
	if err := f.states.Set(ctx, member.Phone, models.FlowBooking, models.StepSelectClass, data); err != nil {
		return models.Prompt{}, err
	}
	return booking.ClassListPrompt(classes), nil
}

func (f *BookingFlow) askConfirm(ctx context.Context, member *models.Member, class *models.ClassSession) (models.Prompt, error) {
	data := models.FlowData{Booking: &models.BookingData{SelectedClassID: class.ID}}
	if err := f.states.Set(ctx, member.Phone, models.FlowBooking, models.StepConfirm, data); err != nil {
		return models.Prompt{}, err
	}
	return booking.ConfirmPrompt(class), nil
}

func (f *BookingFlow) handleSelect(ctx context.Context, member *models.Member, content string, data *models.BookingData) (models.Prompt, error) {
	content = strings.TrimSpace(content)

	// List replies carry the class ID directly.
	if id, ok := strings.CutPrefix(content, booking.ClassButtonPrefix); ok {
		class, err := f.store.GetClass(id)
		if err != nil {
			return models.Prompt{}, err
		}
		if class != nil && !class.IsCancelled {
			return f.askConfirm(ctx, member, class)
		}
		return f.showClassList(ctx, member)
	}

	// Free text: match by name or time against the classes last shown.
	candidates, err := f.loadCandidates(ctx, data.ClassIDs)
	if err != nil {
		return models.Prompt{}, err
	}
	lower := strings.ToLower(content)
	for i := range candidates {
		if strings.Contains(strings.ToLower(candidates[i].Name), lower) ||
			strings.Contains(lower, strings.ToLower(candidates[i].Name)) {
			return f.askConfirm(ctx, member, &candidates[i])
		}
	}
	for i := range candidates {
		if strings.Contains(lower, strings.ToLower(candidates[i].ScheduledAt.Format("3:04 pm"))) ||
			strings.Contains(lower, candidates[i].ScheduledAt.Format("15:04")) {
			return f.askConfirm(ctx, member, &candidates[i])
		}
	}

	// Last try: let the parser make sense of it.
	if details, err := f.ai.ParseBookingDetails(ctx, content); err == nil && details.Parsed {
		if match, err := f.findMatchingClass(ctx, details); err == nil && match != nil {
			return f.askConfirm(ctx, member, match)
		}
	}
	return f.showClassList(ctx, member)
}

func (f *BookingFlow) handleConfirm(ctx context.Context, member *models.Member, content string, data *models.BookingData) (models.Prompt, error) {
	answer := strings.ToLower(strings.TrimSpace(content))

	if isDecline(answer) {
		if err := f.states.Clear(ctx, member.Phone); err != nil {
			return models.Prompt{}, err
		}
		return models.Text("No problem! Let me know if you'd like to book something else. 👍"), nil
	}

	if isConfirm(answer) {
		class, err := f.store.GetClass(data.SelectedClassID)
		if err != nil {
			return models.Prompt{}, err
		}
		if class == nil {
			if err := f.states.Clear(ctx, member.Phone); err != nil {
				return models.Prompt{}, err
			}
			return models.Text("Sorry, that class is no longer on the schedule. Type *classes* to see what's available."), nil
		}

		res, err := f.engine.Book(ctx, member.ID, class.ID)
		if err != nil {
			return models.Prompt{}, err
		}
		if err := f.states.Clear(ctx, member.Phone); err != nil {
			return models.Prompt{}, err
		}
		slog.Info("BookingFlow booked", "phone", member.Phone, "classID", class.ID, "status", res.Status, "success", res.Success)
		return models.Text(booking.ResultText(res)), nil
	}

	class, err := f.store.GetClass(data.SelectedClassID)
	if err != nil || class == nil {
		return f.showClassList(ctx, member)
	}
	return booking.ConfirmPrompt(class), nil
}

// findMatchingClass searches the upcoming schedule for the class the parsed
// details describe. Name matches are substring checks both ways; a parsed
// time must land within matchWindow of the class start.
func (f *BookingFlow) findMatchingClass(ctx context.Context, details models.BookingDetails) (*models.ClassSession, error) {
	classes, err := f.engine.ListUpcoming(ctx, listWindowDays, "")
	if err != nil {
		return nil, err
	}
	name := strings.ToLower(strings.TrimSpace(details.ClassName))
	for i := range classes {
		c := &classes[i]
		if name != "" {
			cn := strings.ToLower(c.Name)
			if !strings.Contains(cn, name) && !strings.Contains(name, cn) &&
				!strings.Contains(strings.ToLower(c.ClassType), name) {
				continue
			}
		}
		if details.BookingTime != nil {
			diff := c.ScheduledAt.Sub(*details.BookingTime)
			if diff < -matchWindow || diff > matchWindow {
				continue
			}
		}
		if name == "" && details.BookingTime == nil {
			continue
		}
		return c, nil
	}
	return nil, nil
}

func (f *BookingFlow) loadCandidates(ctx context.Context, ids []string) ([]models.ClassSession, error) {
	if len(ids) == 0 {
		return f.engine.ListUpcoming(ctx, listWindowDays, "")
	}
	classes := make([]models.ClassSession, 0, len(ids))
	for _, id := range ids {
		c, err := f.store.GetClass(id)
		if err != nil {
			return nil, err
		}
		if c != nil && !c.IsCancelled {
			classes = append(classes, *c)
		}
	}
	return classes, nil
}

func isConfirm(answer string) bool {
	switch answer {
	case booking.ConfirmButtonID, "confirm", "yes", "y", "book", "book it", "yep", "sure", "ok", "okay":
		return true
	}
	return false
}

func isDecline(answer string) bool {
	switch answer {
	case booking.DeclineButtonID, "cancel", "no", "n", "nope", "nah":
		return true
	}
	return false
}
