// Package models defines the core data structures for GymBuddy.
//
// It includes class sessions, bookings, members, and the structured prompts
// the bot produces, which are shared across modules.
package models

import (
	"errors"
	"time"
)

// BookingStatus represents the lifecycle state of a class booking.
type BookingStatus string

const (
	// StatusBooked indicates a confirmed seat in the class.
	StatusBooked BookingStatus = "booked"
	// StatusWaitlisted indicates the member is queued for a full class.
	StatusWaitlisted BookingStatus = "waitlist"
	// StatusCancelled indicates the booking was cancelled by the member or by a class cancellation.
	StatusCancelled BookingStatus = "cancelled"
	// StatusAttended indicates the member showed up.
	StatusAttended BookingStatus = "attended"
	// StatusNoShow indicates the member held a seat but did not show up.
	StatusNoShow BookingStatus = "no_show"
)

// bookingTransitions is the closed set of legal status transitions.
// Anything not listed here is rejected at the engine boundary.
var bookingTransitions = map[BookingStatus][]BookingStatus{
	StatusBooked:     {StatusCancelled, StatusAttended, StatusNoShow},
	StatusWaitlisted: {StatusBooked, StatusCancelled},
}

// CanTransition reports whether a booking may move from one status to another.
func CanTransition(from, to BookingStatus) bool {
	for _, next := range bookingTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// IsValidBookingStatus checks if the given booking status is supported.
func IsValidBookingStatus(s BookingStatus) bool {
	switch s {
	case StatusBooked, StatusWaitlisted, StatusCancelled, StatusAttended, StatusNoShow:
		return true
	default:
		return false
	}
}

// IsActive reports whether the status holds a claim on a class (booked or waitlisted).
func (s BookingStatus) IsActive() bool {
	return s == StatusBooked || s == StatusWaitlisted
}

// ClassSession represents a scheduled, capacity-bounded gym class instance.
// Sessions are never hard-deleted; cancellation is a flag so history survives.
type ClassSession struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	ClassType          string    `json:"class_type"` // yoga, hiit, spin, strength, dance
	TrainerName        string    `json:"trainer_name"`
	Room               string    `json:"room,omitempty"`
	Intensity          string    `json:"intensity,omitempty"` // low, medium, high
	ScheduledAt        time.Time `json:"scheduled_at"`
	DurationMins       int       `json:"duration_mins"`
	Capacity           int       `json:"capacity"`
	BookedCount        int       `json:"booked_count"`
	WaitlistCount      int       `json:"waitlist_count"`
	IsCancelled        bool      `json:"is_cancelled"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// EndsAt returns the instant the session ends.
func (c *ClassSession) EndsAt() time.Time {
	return c.ScheduledAt.Add(time.Duration(c.DurationMins) * time.Minute)
}

// AvailableSlots returns the number of open seats.
func (c *ClassSession) AvailableSlots() int {
	if n := c.Capacity - c.BookedCount; n > 0 {
		return n
	}
	return 0
}

// Overlaps reports whether two sessions occupy intersecting [start, end) intervals.
func (c *ClassSession) Overlaps(other *ClassSession) bool {
	return c.ScheduledAt.Before(other.EndsAt()) && other.ScheduledAt.Before(c.EndsAt())
}

// Booking represents a member's claim on a ClassSession.
// Rows are never deleted; the status records the full lifecycle.
type Booking struct {
	ID               string        `json:"id"`
	MemberID         string        `json:"member_id"`
	ClassID          string        `json:"class_id"`
	Status           BookingStatus `json:"status"`
	WaitlistPosition *int          `json:"waitlist_position,omitempty"` // set only while waitlisted
	BookedAt         time.Time     `json:"booked_at"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	AttendedAt       *time.Time    `json:"attended_at,omitempty"`
}

// MemberBooking is a booking joined with the session it refers to,
// as returned by member-facing listings.
type MemberBooking struct {
	Booking Booking      `json:"booking"`
	Class   ClassSession `json:"class"`
}

// Member holds the minimal profile the bot needs for lookup and onboarding.
type Member struct {
	ID                  string    `json:"id"`
	Phone               string    `json:"phone"`
	Name                string    `json:"name"`
	PrimaryGoal         string    `json:"primary_goal,omitempty"`    // weight_loss, muscle_gain, general_fitness
	DietaryPref         string    `json:"dietary_pref,omitempty"`    // veg, non_veg, eggetarian
	WeightKg            float64   `json:"weight_kg,omitempty"`
	HeightCm            int       `json:"height_cm,omitempty"`
	Age                 int       `json:"age,omitempty"`
	OnboardingCompleted bool      `json:"onboarding_completed"`
	OnboardingStep      string    `json:"onboarding_step,omitempty"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ErrorKind classifies booking engine failures so chat handlers can render
// user-facing text without inspecting error strings.
type ErrorKind string

const (
	// ErrKindNone marks a successful result.
	ErrKindNone ErrorKind = ""
	// ErrKindNotFound means the class or booking does not exist.
	ErrKindNotFound ErrorKind = "not_found"
	// ErrKindInvalidState means the class is cancelled or already started.
	ErrKindInvalidState ErrorKind = "invalid_state"
	// ErrKindConflict means an overlapping active booking exists; the result carries the conflicting class.
	ErrKindConflict ErrorKind = "conflict"
	// ErrKindWindowViolation means a cancel was attempted inside the cancellation window.
	ErrKindWindowViolation ErrorKind = "window_violation"
	// ErrKindAlreadyBooked means the member already holds an active booking for this class.
	ErrKindAlreadyBooked ErrorKind = "already_booked"
)

// BookingResult is the structured outcome of a booking engine operation.
// Engine operations report domain failures here rather than as Go errors;
// Go errors are reserved for storage faults.
type BookingResult struct {
	Success          bool          `json:"success"`
	Status           BookingStatus `json:"status,omitempty"`
	WaitlistPosition int           `json:"waitlist_position,omitempty"`
	Booking          *Booking      `json:"booking,omitempty"`
	Class            *ClassSession `json:"class,omitempty"`
	ErrorKind        ErrorKind     `json:"error_kind,omitempty"`
	Message          string        `json:"message,omitempty"`
	Conflict         *ClassSession `json:"conflict,omitempty"` // set when ErrorKind is conflict
}

// Error variables shared across modules.
var (
	ErrEmptyPhone      = errors.New("phone cannot be empty")
	ErrEmptyClassName  = errors.New("class name cannot be empty")
	ErrInvalidCapacity = errors.New("capacity must be at least 1")
	ErrInvalidDuration = errors.New("duration must be positive")
)

// ClassParams carries the fields of an administrative class creation request.
type ClassParams struct {
	Name         string    `json:"name"`
	ClassType    string    `json:"class_type"`
	TrainerName  string    `json:"trainer_name"`
	Room         string    `json:"room,omitempty"`
	Intensity    string    `json:"intensity,omitempty"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	DurationMins int       `json:"duration_mins,omitempty"`
	Capacity     int       `json:"capacity,omitempty"`
}

// Validate performs validation on class creation parameters.
func (p *ClassParams) Validate() error {
	if p.Name == "" {
		return ErrEmptyClassName
	}
	if p.Capacity < 1 {
		return ErrInvalidCapacity
	}
	if p.DurationMins <= 0 {
		return ErrInvalidDuration
	}
	return nil
}

// UtilizationStats summarizes how full recent classes were.
type UtilizationStats struct {
	TotalClasses   int                        `json:"total_classes"`
	TotalCapacity  int                        `json:"total_capacity"`
	TotalBooked    int                        `json:"total_booked"`
	AvgUtilization float64                    `json:"avg_utilization"`
	ByType         map[string]TypeUtilization `json:"by_type,omitempty"`
}

// TypeUtilization is the per-class-type slice of UtilizationStats.
type TypeUtilization struct {
	Capacity    int     `json:"capacity"`
	Booked      int     `json:"booked"`
	Utilization float64 `json:"utilization"`
}

// StatusType represents the delivery status of an outbound message.
type StatusType string

const (
	// StatusTypeSent indicates the message left the service.
	StatusTypeSent StatusType = "sent"
	// StatusTypeDelivered indicates the transport confirmed delivery.
	StatusTypeDelivered StatusType = "delivered"
	// StatusTypeRead indicates the member read the message.
	StatusTypeRead StatusType = "read"
)

// Receipt represents a delivery status event for an outbound message.
type Receipt struct {
	To     string     `json:"to"`
	Status StatusType `json:"status"`
	Time   int64      `json:"time"`
}

// Response represents an incoming message from a member.
type Response struct {
	From      string `json:"from"`            // phone number
	Name      string `json:"name,omitempty"`  // push name from the transport, if any
	Body      string `json:"body"`
	MessageID string `json:"message_id,omitempty"` // transport message ID, used for dedup
	Time      int64  `json:"time"`
}

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse is the standard JSON envelope for admin API responses.
type APIResponse struct {
	Status  string      `json:"status"`
	Message string      `json:"message,omitempty"`
	Result  interface{} `json:"result,omitempty"`
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
