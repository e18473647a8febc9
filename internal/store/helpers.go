package store

import (
	"database/sql"
	"fmt"

	"github.com/gymops/gymbuddy/internal/models"
)

// rowScanner abstracts sql.Row and sql.Rows so scan helpers serve both.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// classColumns is the column list every class scan expects, in scan order.
const classColumns = `id, name, class_type, trainer_name, room, intensity, scheduled_at,
	duration_mins, capacity, booked_count, waitlist_count, is_cancelled, cancellation_reason,
	created_at, updated_at`

func scanClass(r rowScanner) (models.ClassSession, error) {
	var c models.ClassSession
	var room, intensity, reason sql.NullString
	err := r.Scan(
		&c.ID, &c.Name, &c.ClassType, &c.TrainerName, &room, &intensity, &c.ScheduledAt,
		&c.DurationMins, &c.Capacity, &c.BookedCount, &c.WaitlistCount, &c.IsCancelled, &reason,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return c, err
	}
	c.Room = room.String
	c.Intensity = intensity.String
	c.CancellationReason = reason.String
	return c, nil
}

// bookingColumns is the column list every booking scan expects, in scan order.
const bookingColumns = `id, member_id, class_id, status, waitlist_position, booked_at, cancelled_at, attended_at`

func scanBooking(r rowScanner) (models.Booking, error) {
	var b models.Booking
	var position sql.NullInt64
	var cancelledAt, attendedAt sql.NullTime
	err := r.Scan(&b.ID, &b.MemberID, &b.ClassID, &b.Status, &position, &b.BookedAt, &cancelledAt, &attendedAt)
	if err != nil {
		return b, err
	}
	if position.Valid {
		p := int(position.Int64)
		b.WaitlistPosition = &p
	}
	if cancelledAt.Valid {
		b.CancelledAt = &cancelledAt.Time
	}
	if attendedAt.Valid {
		b.AttendedAt = &attendedAt.Time
	}
	return b, nil
}

// memberColumns is the column list every member scan expects, in scan order.
const memberColumns = `id, phone, name, primary_goal, dietary_pref, weight_kg, height_cm, age,
	onboarding_completed, onboarding_step, created_at, updated_at`

func scanMember(r rowScanner) (models.Member, error) {
	var m models.Member
	var goal, diet, step sql.NullString
	var weight sql.NullFloat64
	var height, age sql.NullInt64
	err := r.Scan(&m.ID, &m.Phone, &m.Name, &goal, &diet, &weight, &height, &age,
		&m.OnboardingCompleted, &step, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return m, err
	}
	m.PrimaryGoal = goal.String
	m.DietaryPref = diet.String
	m.WeightKg = weight.Float64
	m.HeightCm = int(height.Int64)
	m.Age = int(age.Int64)
	m.OnboardingStep = step.String
	return m, nil
}

func collectBookingsWithClasses(rows *sql.Rows) ([]models.MemberBooking, error) {
	var out []models.MemberBooking
	for rows.Next() {
		var mb models.MemberBooking
		var position sql.NullInt64
		var cancelledAt, attendedAt sql.NullTime
		var room, intensity, reason sql.NullString
		err := rows.Scan(
			&mb.Booking.ID, &mb.Booking.MemberID, &mb.Booking.ClassID, &mb.Booking.Status,
			&position, &mb.Booking.BookedAt, &cancelledAt, &attendedAt,
			&mb.Class.ID, &mb.Class.Name, &mb.Class.ClassType, &mb.Class.TrainerName,
			&room, &intensity, &mb.Class.ScheduledAt, &mb.Class.DurationMins,
			&mb.Class.Capacity, &mb.Class.BookedCount, &mb.Class.WaitlistCount,
			&mb.Class.IsCancelled, &reason, &mb.Class.CreatedAt, &mb.Class.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan member booking row: %w", err)
		}
		if position.Valid {
			p := int(position.Int64)
			mb.Booking.WaitlistPosition = &p
		}
		if cancelledAt.Valid {
			mb.Booking.CancelledAt = &cancelledAt.Time
		}
		if attendedAt.Valid {
			mb.Booking.AttendedAt = &attendedAt.Time
		}
		mb.Class.Room = room.String
		mb.Class.Intensity = intensity.String
		mb.Class.CancellationReason = reason.String
		out = append(out, mb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate member booking rows: %w", err)
	}
	return out, nil
}

// memberBookingJoin selects booking plus joined class columns for member listings.
const memberBookingJoin = `SELECT b.id, b.member_id, b.class_id, b.status, b.waitlist_position,
	b.booked_at, b.cancelled_at, b.attended_at,
	c.id, c.name, c.class_type, c.trainer_name, c.room, c.intensity, c.scheduled_at,
	c.duration_mins, c.capacity, c.booked_count, c.waitlist_count, c.is_cancelled,
	c.cancellation_reason, c.created_at, c.updated_at
	FROM bookings b JOIN classes c ON c.id = b.class_id`
