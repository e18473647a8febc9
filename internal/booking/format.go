package booking

import (
	"fmt"
	"strings"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
)

// Button and list reply ID prefixes shared with the booking flow.
const (
	ClassButtonPrefix  = "class_"
	CancelButtonPrefix = "cancel_"
	ConfirmButtonID    = "book_confirm"
	DeclineButtonID    = "book_cancel"
)

// maxButtonRows is the most reply buttons a WhatsApp message may carry;
// longer class lists fall back to a list prompt.
const maxButtonRows = 3

// FormatClassTime renders a class start time the way members see it in chat.
func FormatClassTime(t time.Time) string {
	return t.Format("Mon, Jan 2 at 3:04 PM")
}

// maxListRows caps how many classes a list prompt shows.
const maxListRows = 10

// ClassListPrompt builds the prompt offering classes to book, grouped into
// one list section per day.
func ClassListPrompt(classes []models.ClassSession) models.Prompt {
	if len(classes) == 0 {
		return models.Text("No classes scheduled for the next few days. Check back later! 📅")
	}
	if len(classes) > maxListRows {
		classes = classes[:maxListRows]
	}

	var sections []models.ListSection
	var currentDay string
	var rows []models.ListRow
	for _, c := range classes {
		day := c.ScheduledAt.Format("Monday, Jan 2")
		if day != currentDay {
			if len(rows) > 0 {
				sections = append(sections, models.ListSection{Title: currentDay, Rows: rows})
			}
			currentDay = day
			rows = nil
		}
		status := fmt.Sprintf("✅ %d spots", c.AvailableSlots())
		if c.AvailableSlots() <= 0 {
			status = "⏳ Waitlist"
		}
		rows = append(rows, models.ListRow{
			ID:          ClassButtonPrefix + c.ID,
			Title:       fmt.Sprintf("%s - %s", c.ScheduledAt.Format("3:04 PM"), c.Name),
			Description: fmt.Sprintf("%s | %s", c.TrainerName, status),
		})
	}
	if len(rows) > 0 {
		sections = append(sections, models.ListSection{Title: currentDay, Rows: rows})
	}

	return models.Prompt{
		Type:       models.PromptTypeList,
		Header:     "📅 Class Schedule",
		Body:       "Select a class to book. I'll save your spot!",
		ButtonText: "View Classes",
		Sections:   sections,
		Footer:     "Showing the next few days",
	}
}

// ConfirmPrompt asks the member to confirm booking a specific class.
func ConfirmPrompt(c *models.ClassSession) models.Prompt {
	status := fmt.Sprintf("✅ %d spots available", c.AvailableSlots())
	if c.AvailableSlots() <= 0 {
		status = fmt.Sprintf("⏳ Class is full - you'll be added to the waitlist (position #%d)", c.WaitlistCount+1)
	}
	room := c.Room
	if room == "" {
		room = "Main Floor"
	}
	body := fmt.Sprintf(`*%s*

📅 %s
👤 Trainer: %s
⏱️ Duration: %d minutes
🏠 Location: %s

%s

*Confirm booking?*`, c.Name, FormatClassTime(c.ScheduledAt), c.TrainerName, c.DurationMins, room, status)
	return models.Buttons(body,
		models.Button{ID: ConfirmButtonID, Title: "Book Now ✅"},
		models.Button{ID: DeclineButtonID, Title: "Cancel ❌"},
	)
}

// ResultText renders a booking result as member-facing chat text.
func ResultText(res models.BookingResult) string {
	if !res.Success {
		return res.Message
	}
	switch res.Status {
	case models.StatusBooked:
		if res.Class != nil {
			return fmt.Sprintf("You're booked for *%s* on %s. See you there! 💪",
				res.Class.Name, FormatClassTime(res.Class.ScheduledAt))
		}
		return "You're booked. See you there! 💪"
	case models.StatusWaitlisted:
		return fmt.Sprintf("That class is full, so you're #%d on the waitlist. We'll let you know if a spot opens up.",
			res.WaitlistPosition)
	case models.StatusCancelled:
		if res.Class != nil {
			return fmt.Sprintf("Your booking for *%s* has been cancelled.", res.Class.Name)
		}
		return "Your booking has been cancelled."
	default:
		return "Done!"
	}
}

// MemberBookingsText renders a member's upcoming bookings as chat text.
func MemberBookingsText(bookings []models.MemberBooking) string {
	if len(bookings) == 0 {
		return "You have no upcoming bookings. Want to book a class?"
	}
	var b strings.Builder
	b.WriteString("Your upcoming classes:\n")
	for _, mb := range bookings {
		fmt.Fprintf(&b, "\n• *%s* on %s", mb.Class.Name, FormatClassTime(mb.Class.ScheduledAt))
		if mb.Booking.Status == models.StatusWaitlisted && mb.Booking.WaitlistPosition != nil {
			fmt.Fprintf(&b, " (waitlist #%d)", *mb.Booking.WaitlistPosition)
		}
	}
	return b.String()
}

// CancelListPrompt builds the prompt offering active bookings to cancel.
func CancelListPrompt(bookings []models.MemberBooking) models.Prompt {
	if len(bookings) == 0 {
		return models.Text("You have no upcoming bookings to cancel.")
	}
	var buttons []models.Button
	for _, mb := range bookings {
		if len(buttons) == maxButtonRows {
			break
		}
		buttons = append(buttons, models.Button{
			ID:    CancelButtonPrefix + mb.Booking.ID,
			Title: fmt.Sprintf("%s %s", mb.Class.Name, mb.Class.ScheduledAt.Format("Mon 3:04 PM")),
		})
	}
	return models.Buttons("Which booking would you like to cancel?", buttons...)
}
