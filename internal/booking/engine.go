// Package booking implements the reservation engine for GymBuddy.
//
// The engine enforces capacity, overlap, and cancellation-window rules on top
// of the store's primitives. Domain failures are reported through
// models.BookingResult; Go errors are reserved for storage faults.
package booking

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gymops/gymbuddy/internal/models"
	"github.com/gymops/gymbuddy/internal/store"
	"github.com/gymops/gymbuddy/internal/util"
)

// Default engine configuration constants
const (
	// DefaultCancellationWindow is how long before class start a booking may still be cancelled.
	DefaultCancellationWindow = 4 * time.Hour
	// DefaultDurationMins is applied when a class is created without a duration.
	DefaultDurationMins = 45
	// DefaultCapacity is applied when a class is created without a capacity.
	DefaultCapacity = 20
)

// Opts holds configuration for the booking engine.
type Opts struct {
	CancellationWindow time.Duration
}

// Option configures the booking engine.
type Option func(*Opts)

// WithCancellationWindow overrides the default cancellation window.
func WithCancellationWindow(d time.Duration) Option {
	return func(o *Opts) { o.CancellationWindow = d }
}

// Engine coordinates bookings against the store. Mutating operations on one
// class are serialized through a per-class lock; different classes proceed
// concurrently.
type Engine struct {
	st           store.Store
	classLocks   *util.KeyedMutex
	cancelWindow time.Duration
}

// NewEngine creates a booking engine backed by the given store.
func NewEngine(st store.Store, opts ...Option) *Engine {
	cfg := Opts{CancellationWindow: DefaultCancellationWindow}
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewEngine invoked", "cancellationWindow", cfg.CancellationWindow)
	return &Engine{
		st:           st,
		classLocks:   util.NewKeyedMutex(),
		cancelWindow: cfg.CancellationWindow,
	}
}

// Book reserves a seat in classID for the member, or queues the member on the
// waitlist when the class is full.
func (e *Engine) Book(ctx context.Context, memberID, classID string) (models.BookingResult, error) {
	slog.Debug("Engine.Book invoked", "memberID", memberID, "classID", classID)

	class, err := e.st.GetClass(classID)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to load class %s: %w", classID, err)
	}
	if class == nil {
		return failure(models.ErrKindNotFound, "Class not found."), nil
	}
	if class.IsCancelled {
		return failure(models.ErrKindInvalidState, "This class has been cancelled."), nil
	}
	if !class.ScheduledAt.After(time.Now()) {
		return failure(models.ErrKindInvalidState, "This class has already started."), nil
	}

	existing, err := e.st.FindActiveBooking(memberID, classID)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to check existing booking: %w", err)
	}
	if existing != nil {
		res := failure(models.ErrKindAlreadyBooked, "You already have a booking for this class.")
		res.Booking = existing
		res.Class = class
		return res, nil
	}

	// Overlap check against every active booking the member holds. The scan
	// is deliberately unwindowed: a long class booked days apart can still
	// collide with the requested interval.
	active, err := e.st.ListActiveBookingsByMember(memberID)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to list active bookings: %w", err)
	}
	for i := range active {
		other := active[i].Class
		if other.ID == classID {
			continue
		}
		if class.Overlaps(&other) {
			res := failure(models.ErrKindConflict,
				fmt.Sprintf("This class overlaps with your booking for %s at %s.", other.Name, FormatClassTime(other.ScheduledAt)))
			res.Conflict = &other
			return res, nil
		}
	}

	e.classLocks.Lock(classID)
	defer e.classLocks.Unlock(classID)

	taken, err := e.st.IncrementBooked(classID)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to take seat in class %s: %w", classID, err)
	}

	b := models.Booking{
		ID:       uuid.NewString(),
		MemberID: memberID,
		ClassID:  classID,
		BookedAt: time.Now(),
	}

	var position int
	if taken {
		b.Status = models.StatusBooked
	} else {
		n, err := e.st.CountActiveWaitlist(classID)
		if err != nil {
			return models.BookingResult{}, fmt.Errorf("failed to count waitlist: %w", err)
		}
		// Positions derive from the active count, so after a mid-list
		// cancellation the next join can repeat a surviving number; order
		// between equal positions is unspecified. Switch to
		// MAX(waitlist_position)+1 if unique numbering is ever required.
		position = n + 1
		b.Status = models.StatusWaitlisted
		b.WaitlistPosition = &position
		if err := e.st.IncrementWaitlist(classID); err != nil {
			return models.BookingResult{}, err
		}
	}

	if err := e.st.CreateBooking(b); err != nil {
		// The counter moved before the insert; a failed insert must not
		// strand a phantom seat or waitlist slot.
		var cerr error
		if b.Status == models.StatusBooked {
			cerr = e.st.DecrementBooked(classID)
		} else {
			cerr = e.st.DecrementWaitlist(classID)
		}
		if cerr != nil {
			slog.Error("Engine.Book failed to release counter after insert failure", "error", cerr, "classID", classID, "status", b.Status)
		}
		return models.BookingResult{}, fmt.Errorf("failed to persist booking: %w", err)
	}

	slog.Info("Engine.Book succeeded", "memberID", memberID, "classID", classID, "status", b.Status, "position", position)
	return models.BookingResult{
		Success:          true,
		Status:           b.Status,
		WaitlistPosition: position,
		Booking:          &b,
		Class:            class,
	}, nil
}

// Cancel releases the member's active booking identified by ref, which may be
// a booking ID or a class ID. Cancelling a booked seat promotes the earliest
// waitlisted booking for the same class.
func (e *Engine) Cancel(ctx context.Context, memberID, ref string) (models.BookingResult, error) {
	slog.Debug("Engine.Cancel invoked", "memberID", memberID, "ref", ref)

	b, err := e.resolveActiveBooking(memberID, ref)
	if err != nil {
		return models.BookingResult{}, err
	}
	if b == nil {
		return failure(models.ErrKindNotFound, "No active booking found."), nil
	}

	class, err := e.st.GetClass(b.ClassID)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to load class %s: %w", b.ClassID, err)
	}
	if class == nil {
		return failure(models.ErrKindNotFound, "Class not found."), nil
	}
	if time.Until(class.ScheduledAt) < e.cancelWindow {
		hours := int(e.cancelWindow.Hours())
		return failure(models.ErrKindWindowViolation,
			fmt.Sprintf("Bookings can only be cancelled up to %d hours before class start.", hours)), nil
	}

	e.classLocks.Lock(b.ClassID)
	defer e.classLocks.Unlock(b.ClassID)

	// The status write must land before any counter moves or promotion: a
	// storage fault here leaves the booking active and nothing else changed,
	// never a cancelled member still holding a seat next to a promoted one.
	was := b.Status
	if err := e.st.UpdateBookingStatus(b.ID, models.StatusCancelled); err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to mark booking cancelled: %w", err)
	}

	switch was {
	case models.StatusBooked:
		if err := e.st.DecrementBooked(b.ClassID); err != nil {
			return models.BookingResult{}, err
		}
		if err := e.promoteFirstWaitlisted(b.ClassID); err != nil {
			return models.BookingResult{}, err
		}
	case models.StatusWaitlisted:
		// Remaining waitlist positions keep their numbers; gaps are fine
		// because promotion orders by smallest position, not by density.
		if err := e.st.DecrementWaitlist(b.ClassID); err != nil {
			return models.BookingResult{}, err
		}
	}

	slog.Info("Engine.Cancel succeeded", "memberID", memberID, "bookingID", b.ID, "classID", b.ClassID, "was", was)
	return models.BookingResult{
		Success: true,
		Status:  models.StatusCancelled,
		Booking: b,
		Class:   class,
	}, nil
}

// resolveActiveBooking treats ref as a booking ID first, then as a class ID.
func (e *Engine) resolveActiveBooking(memberID, ref string) (*models.Booking, error) {
	b, err := e.st.GetBooking(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to load booking %s: %w", ref, err)
	}
	if b != nil && b.MemberID == memberID && b.Status.IsActive() {
		return b, nil
	}
	b, err = e.st.FindActiveBooking(memberID, ref)
	if err != nil {
		return nil, fmt.Errorf("failed to find active booking: %w", err)
	}
	return b, nil
}

func (e *Engine) promoteFirstWaitlisted(classID string) error {
	next, err := e.st.FirstWaitlisted(classID)
	if err != nil {
		return fmt.Errorf("failed to find waitlisted booking: %w", err)
	}
	if next == nil {
		return nil
	}

	// Take the freed seat before touching the booking row so a failed
	// promotion can hand the seat back instead of leaking it.
	taken, err := e.st.IncrementBooked(classID)
	if err != nil {
		return err
	}
	if !taken {
		slog.Warn("Engine promotion found no free seat", "classID", classID, "bookingID", next.ID)
		return nil
	}
	if err := e.st.PromoteBooking(next.ID); err != nil {
		if derr := e.st.DecrementBooked(classID); derr != nil {
			slog.Error("Engine promotion failed to release seat after error", "error", derr, "classID", classID)
		}
		return fmt.Errorf("failed to promote booking %s: %w", next.ID, err)
	}
	if err := e.st.DecrementWaitlist(classID); err != nil {
		return err
	}
	slog.Info("Engine promoted waitlisted booking", "classID", classID, "bookingID", next.ID, "memberID", next.MemberID)
	return nil
}

// CancelClass flags the class cancelled and transitions every active booking
// for it to cancelled. No promotion applies.
func (e *Engine) CancelClass(ctx context.Context, classID, reason string) (models.BookingResult, error) {
	slog.Debug("Engine.CancelClass invoked", "classID", classID, "reason", reason)

	class, err := e.st.GetClass(classID)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to load class %s: %w", classID, err)
	}
	if class == nil {
		return failure(models.ErrKindNotFound, "Class not found."), nil
	}
	if class.IsCancelled {
		return failure(models.ErrKindInvalidState, "Class is already cancelled."), nil
	}

	e.classLocks.Lock(classID)
	defer e.classLocks.Unlock(classID)

	if err := e.st.SetClassCancelled(classID, reason); err != nil {
		return models.BookingResult{}, err
	}
	if err := e.st.CancelActiveBookingsForClass(classID); err != nil {
		return models.BookingResult{}, err
	}

	class.IsCancelled = true
	class.CancellationReason = reason
	slog.Info("Engine.CancelClass succeeded", "classID", classID, "reason", reason)
	return models.BookingResult{Success: true, Class: class}, nil
}

// MarkAttendance transitions a booked booking to attended or no-show.
func (e *Engine) MarkAttendance(ctx context.Context, bookingID string, attended bool) (models.BookingResult, error) {
	slog.Debug("Engine.MarkAttendance invoked", "bookingID", bookingID, "attended", attended)

	b, err := e.st.GetBooking(bookingID)
	if err != nil {
		return models.BookingResult{}, fmt.Errorf("failed to load booking %s: %w", bookingID, err)
	}
	if b == nil {
		return failure(models.ErrKindNotFound, "Booking not found."), nil
	}

	target := models.StatusAttended
	if !attended {
		target = models.StatusNoShow
	}
	if !models.CanTransition(b.Status, target) {
		return failure(models.ErrKindInvalidState,
			fmt.Sprintf("Cannot mark a %s booking as %s.", b.Status, target)), nil
	}

	if err := e.st.UpdateBookingStatus(bookingID, target); err != nil {
		return models.BookingResult{}, err
	}
	b.Status = target
	slog.Info("Engine.MarkAttendance succeeded", "bookingID", bookingID, "status", target)
	return models.BookingResult{Success: true, Status: target, Booking: b}, nil
}

// CreateClass is the administrative operation that schedules a new class.
func (e *Engine) CreateClass(ctx context.Context, params models.ClassParams) (*models.ClassSession, error) {
	if params.DurationMins == 0 {
		params.DurationMins = DefaultDurationMins
	}
	if params.Capacity == 0 {
		params.Capacity = DefaultCapacity
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	class := models.ClassSession{
		ID:           uuid.NewString(),
		Name:         params.Name,
		ClassType:    params.ClassType,
		TrainerName:  params.TrainerName,
		Room:         params.Room,
		Intensity:    params.Intensity,
		ScheduledAt:  params.ScheduledAt,
		DurationMins: params.DurationMins,
		Capacity:     params.Capacity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := e.st.CreateClass(class); err != nil {
		return nil, fmt.Errorf("failed to create class: %w", err)
	}
	slog.Info("Engine.CreateClass succeeded", "classID", class.ID, "name", class.Name, "scheduledAt", class.ScheduledAt)
	return &class, nil
}

// ListUpcoming returns non-cancelled classes starting within the next `days`
// days, optionally filtered by class type.
func (e *Engine) ListUpcoming(ctx context.Context, days int, classType string) ([]models.ClassSession, error) {
	if days <= 0 {
		days = 7
	}
	now := time.Now()
	classes, err := e.st.ListUpcomingClasses(now, now.Add(time.Duration(days)*24*time.Hour), classType)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming classes: %w", err)
	}
	return classes, nil
}

// ListMemberBookings returns the member's active bookings for classes that
// have not started yet, joined with class details.
func (e *Engine) ListMemberBookings(ctx context.Context, memberID string) ([]models.MemberBooking, error) {
	bookings, err := e.st.ListUpcomingBookingsByMember(memberID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list member bookings: %w", err)
	}
	return bookings, nil
}

// UtilizationStats summarizes how full classes were over the past `days` days.
func (e *Engine) UtilizationStats(ctx context.Context, days int) (*models.UtilizationStats, error) {
	if days <= 0 {
		days = 30
	}
	now := time.Now()
	classes, err := e.st.ListClassesBetween(now.Add(-time.Duration(days)*24*time.Hour), now)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes for stats: %w", err)
	}

	stats := &models.UtilizationStats{ByType: make(map[string]models.TypeUtilization)}
	for _, c := range classes {
		stats.TotalClasses++
		stats.TotalCapacity += c.Capacity
		stats.TotalBooked += c.BookedCount

		t := stats.ByType[c.ClassType]
		t.Capacity += c.Capacity
		t.Booked += c.BookedCount
		if t.Capacity > 0 {
			t.Utilization = float64(t.Booked) / float64(t.Capacity)
		}
		stats.ByType[c.ClassType] = t
	}
	if stats.TotalCapacity > 0 {
		stats.AvgUtilization = float64(stats.TotalBooked) / float64(stats.TotalCapacity)
	}
	return stats, nil
}

func failure(kind models.ErrorKind, message string) models.BookingResult {
	return models.BookingResult{ErrorKind: kind, Message: message}
}
