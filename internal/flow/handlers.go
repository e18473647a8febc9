package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gymops/gymbuddy/internal/booking"
	"github.com/gymops/gymbuddy/internal/genai"
	"github.com/gymops/gymbuddy/internal/models"
)

// Handlers answers single-turn intents that need no conversation state:
// greetings, FAQs, workout and diet questions, progress summaries, and the
// cancel-a-booking listing.
type Handlers struct {
	engine   *booking.Engine
	ai       genai.ClientInterface
	gymName  string
	gymPhone string
}

// NewHandlers creates the stateless intent handlers. Empty gym details fall
// back to placeholders.
func NewHandlers(engine *booking.Engine, ai genai.ClientInterface, gymName, gymPhone string) *Handlers {
	if gymName == "" {
		gymName = "FitZone Gym"
	}
	if gymPhone == "" {
		gymPhone = "+91 98765 43210"
	}
	return &Handlers{engine: engine, ai: ai, gymName: gymName, gymPhone: gymPhone}
}

// Greeting welcomes a returning member back.
func (h *Handlers) Greeting(member *models.Member) models.Prompt {
	return models.Text(fmt.Sprintf(`Hey %s! 👋

Great to see you! What would you like to do?

💪 *workout* - Today's workout
🍎 *diet* - Your meal plan
📅 *classes* - Book a class
📊 *progress* - Check your stats

Or just tell me what you need!`, member.Name))
}

// FAQ answers membership questions, keyed off what the message asks about.
func (h *Handlers) FAQ(content string) models.Prompt {
	lower := strings.ToLower(content)
	switch {
	case containsAny(lower, "price", "cost", "fee", "how much", "membership"):
		return models.Text(fmt.Sprintf(`💰 *Membership Pricing*

%s offers flexible plans:

• *Monthly*: ₹2,999/month
• *Quarterly*: ₹7,999 (Save 11%%)
• *Annual*: ₹24,999 (Save 30%%)

All plans include:
✅ Full gym access
✅ Group classes
✅ Locker facility
✅ Personal trainer consultation

Reply *join* to start your fitness journey! 🏋️`, h.gymName))
	case containsAny(lower, "location", "where", "address", "directions"):
		return models.Text(fmt.Sprintf(`📍 *%s Location*

123 Fitness Street
Near Central Mall, 2nd Floor
Bangalore - 560001

📞 Contact: %s

🚗 Parking available in basement
🚇 Nearest metro: Central Station (5 min walk)

See you there! 💪`, h.gymName, h.gymPhone))
	case containsAny(lower, "hours", "timing", "open", "close", "when"):
		return models.Text(fmt.Sprintf(`⏰ *%s Hours*

*Monday - Saturday*
🌅 Morning: 5:00 AM - 11:00 AM
🌆 Evening: 4:00 PM - 10:00 PM

*Sunday*
🌅 Morning: 6:00 AM - 12:00 PM
(Evening closed)

Best time to avoid crowds: 📊
• Mornings: 6-7 AM
• Evenings: 8-9 PM`, h.gymName))
	case containsAny(lower, "facilities", "equipment", "amenities"):
		return models.Text(fmt.Sprintf(`🏋️ *%s Facilities*

💪 *Strength Zone*
- Free weights (2-50 kg)
- Cable machines
- Power racks

🏃 *Cardio Zone*
- Treadmills
- Cross trainers
- Spin bikes

🧘 *Studios*
- Yoga studio
- Aerobics hall
- CrossFit area

*Amenities*
🚿 Showers & lockers
💧 RO water
🅿️ Free parking`, h.gymName))
	}
	return models.Text(fmt.Sprintf(`❓ *How can I help?*

Here's what I can tell you about %s:

💰 *pricing* - Membership costs
📍 *location* - How to find us
⏰ *hours* - Opening times
🏋️ *facilities* - What we offer

Just ask! 😊`, h.gymName))
}

// Workout asks the assistant for workout guidance tailored to the member.
func (h *Handlers) Workout(ctx context.Context, member *models.Member, content string) models.Prompt {
	if content == "" || strings.EqualFold(content, "workout") {
		content = "Suggest a workout for today that fits my goal."
	}
	return h.generated(ctx, member, content)
}

// Diet asks the assistant for nutrition guidance tailored to the member.
func (h *Handlers) Diet(ctx context.Context, member *models.Member, content string) models.Prompt {
	if content == "" || strings.EqualFold(content, "diet") {
		content = "Suggest meals for today that fit my goal and dietary preference."
	}
	return h.generated(ctx, member, content)
}

// General answers a free-form fitness question.
func (h *Handlers) General(ctx context.Context, member *models.Member, content string) models.Prompt {
	return h.generated(ctx, member, content)
}

func (h *Handlers) generated(ctx context.Context, member *models.Member, content string) models.Prompt {
	reply, err := h.ai.GenerateReply(ctx, content, member)
	if err != nil {
		slog.Error("Handlers generated reply failed", "phone", member.Phone, "error", err)
		return models.Text("I'm having trouble thinking right now. 😅 Please try again in a moment, or type *help* to see what I can do.")
	}
	return models.Text(reply)
}

// Progress summarizes the member's profile and upcoming bookings.
func (h *Handlers) Progress(ctx context.Context, member *models.Member) (models.Prompt, error) {
	bookings, err := h.engine.ListMemberBookings(ctx, member.ID)
	if err != nil {
		return models.Prompt{}, err
	}

	goalText := map[string]string{
		"weight_loss":     "Weight loss",
		"muscle_gain":     "Muscle gain",
		"general_fitness": "General fitness",
	}[member.PrimaryGoal]
	if goalText == "" {
		goalText = "Not set"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "📊 *Your Progress, %s*\n\n", member.Name)
	fmt.Fprintf(&b, "🎯 Goal: %s\n", goalText)
	if member.WeightKg > 0 {
		fmt.Fprintf(&b, "⚖️ Weight: %.1f kg\n", member.WeightKg)
	}
	if member.HeightCm > 0 && member.WeightKg > 0 {
		m := float64(member.HeightCm) / 100
		fmt.Fprintf(&b, "🧮 BMI: %.1f\n", member.WeightKg/(m*m))
	}
	fmt.Fprintf(&b, "📅 Upcoming classes: %d\n", len(bookings))
	b.WriteString("\nReply *checkin* to log this week's stats!")
	return models.Text(b.String()), nil
}

// CancelBooking lists the member's active bookings so they can pick one to
// cancel.
func (h *Handlers) CancelBooking(ctx context.Context, member *models.Member) (models.Prompt, error) {
	bookings, err := h.engine.ListMemberBookings(ctx, member.ID)
	if err != nil {
		return models.Prompt{}, err
	}
	if len(bookings) == 0 {
		return models.Text("You don't have any upcoming bookings to cancel.\n\nSend *classes* to view the schedule!"), nil
	}
	return booking.CancelListPrompt(bookings), nil
}

// Help lists everything the assistant can do.
func (h *Handlers) Help(member *models.Member) models.Prompt {
	return models.Text(fmt.Sprintf(`*Hi %s! Here's what I can do:* 🤖

💪 *workout* - Get today's workout
🍎 *diet* - View your meal plan
📅 *classes* or *book* - Book a class
📊 *progress* - See your stats
📝 *checkin* - Weekly check-in
❌ *cancel* - Cancel a booking

*Quick FAQs:*
💰 *pricing* - Membership costs
📍 *location* - How to find us
⏰ *hours* - Opening times

Just type any of these or describe what you need!`, member.Name))
}

// OffTopic is the guardrail reply for non-fitness messages.
func (h *Handlers) OffTopic() models.Prompt {
	return models.Text("I'm your gym assistant, so I'm best at helping with fitness topics! 💪\n\nTry asking about:\n• *workout* - Today's workout\n• *diet* - Meal plan\n• *classes* - Book a class\n• *progress* - Your stats")
}

// Escalation is sent when the conversation is handed to a human.
func (h *Handlers) Escalation() models.Prompt {
	return models.Text("I'm passing this to a human manager. They will text you shortly. 🙏\n\nIn the meantime, is there anything else I can help with?")
}

// EscalatedHold is sent while the conversation sits with a human.
func (h *Handlers) EscalatedHold() models.Prompt {
	return models.Text("A manager is looking into your request. Is there anything else I can help with in the meantime? 🏋️")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
