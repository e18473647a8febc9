// Package store provides storage backends for GymBuddy.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/gymops/gymbuddy/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	slog.Debug("Opening Postgres database connection")
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running Postgres migrations")
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) CreateClass(c models.ClassSession) error {
	_, err := s.db.Exec(`INSERT INTO classes (`+classColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		c.ID, c.Name, c.ClassType, c.TrainerName, nilIfEmpty(c.Room), nilIfEmpty(c.Intensity),
		c.ScheduledAt, c.DurationMins, c.Capacity, c.BookedCount, c.WaitlistCount,
		c.IsCancelled, nilIfEmpty(c.CancellationReason), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateClass failed", "error", err, "classID", c.ID)
		return fmt.Errorf("failed to insert class %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore CreateClass succeeded", "classID", c.ID, "name", c.Name)
	return nil
}

func (s *PostgresStore) GetClass(id string) (*models.ClassSession, error) {
	row := s.db.QueryRow(`SELECT `+classColumns+` FROM classes WHERE id = $1`, id)
	c, err := scanClass(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetClass not found", "classID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetClass failed", "error", err, "classID", id)
		return nil, fmt.Errorf("failed to get class %s: %w", id, err)
	}
	return &c, nil
}

func (s *PostgresStore) ListUpcomingClasses(from, until time.Time, classType string) ([]models.ClassSession, error) {
	query := `SELECT ` + classColumns + ` FROM classes
		WHERE is_cancelled = FALSE AND scheduled_at >= $1 AND scheduled_at <= $2`
	args := []interface{}{from, until}
	if classType != "" {
		query += ` AND LOWER(class_type) = LOWER($3)`
		args = append(args, classType)
	}
	query += ` ORDER BY scheduled_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("PostgresStore ListUpcomingClasses query failed", "error", err)
		return nil, fmt.Errorf("failed to query upcoming classes: %w", err)
	}
	defer rows.Close()

	var out []models.ClassSession
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			slog.Error("PostgresStore ListUpcomingClasses scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan class row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		slog.Error("PostgresStore ListUpcomingClasses rows iteration failed", "error", err)
		return nil, err
	}
	slog.Debug("PostgresStore ListUpcomingClasses succeeded", "count", len(out))
	return out, nil
}

func (s *PostgresStore) ListClassesBetween(from, until time.Time) ([]models.ClassSession, error) {
	rows, err := s.db.Query(`SELECT `+classColumns+` FROM classes
		WHERE is_cancelled = FALSE AND scheduled_at >= $1 AND scheduled_at < $2
		ORDER BY scheduled_at ASC`, from, until)
	if err != nil {
		slog.Error("PostgresStore ListClassesBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query classes: %w", err)
	}
	defer rows.Close()

	var out []models.ClassSession
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			slog.Error("PostgresStore ListClassesBetween scan failed", "error", err)
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PostgresStore) SetClassCancelled(id, reason string) error {
	_, err := s.db.Exec(`UPDATE classes SET is_cancelled = TRUE, cancellation_reason = $1, updated_at = $2
		WHERE id = $3`, nilIfEmpty(reason), time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore SetClassCancelled failed", "error", err, "classID", id)
		return fmt.Errorf("failed to cancel class %s: %w", id, err)
	}
	slog.Debug("PostgresStore SetClassCancelled succeeded", "classID", id)
	return nil
}

// IncrementBooked takes a seat only while one is free. The WHERE clause makes
// the check and the increment a single statement, so concurrent bookers
// cannot both take the last seat.
func (s *PostgresStore) IncrementBooked(classID string) (bool, error) {
	res, err := s.db.Exec(`UPDATE classes SET booked_count = booked_count + 1, updated_at = $1
		WHERE id = $2 AND is_cancelled = FALSE AND booked_count < capacity`, time.Now(), classID)
	if err != nil {
		slog.Error("PostgresStore IncrementBooked failed", "error", err, "classID", classID)
		return false, fmt.Errorf("failed to increment booked count for %s: %w", classID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("PostgresStore IncrementBooked", "classID", classID, "taken", n > 0)
	return n > 0, nil
}

func (s *PostgresStore) DecrementBooked(classID string) error {
	_, err := s.db.Exec(`UPDATE classes SET booked_count = booked_count - 1, updated_at = $1
		WHERE id = $2 AND booked_count > 0`, time.Now(), classID)
	if err != nil {
		slog.Error("PostgresStore DecrementBooked failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to decrement booked count for %s: %w", classID, err)
	}
	return nil
}

func (s *PostgresStore) IncrementWaitlist(classID string) error {
	_, err := s.db.Exec(`UPDATE classes SET waitlist_count = waitlist_count + 1, updated_at = $1
		WHERE id = $2`, time.Now(), classID)
	if err != nil {
		slog.Error("PostgresStore IncrementWaitlist failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to increment waitlist count for %s: %w", classID, err)
	}
	return nil
}

func (s *PostgresStore) DecrementWaitlist(classID string) error {
	_, err := s.db.Exec(`UPDATE classes SET waitlist_count = waitlist_count - 1, updated_at = $1
		WHERE id = $2 AND waitlist_count > 0`, time.Now(), classID)
	if err != nil {
		slog.Error("PostgresStore DecrementWaitlist failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to decrement waitlist count for %s: %w", classID, err)
	}
	return nil
}

func (s *PostgresStore) CreateBooking(b models.Booking) error {
	var position interface{}
	if b.WaitlistPosition != nil {
		position = *b.WaitlistPosition
	}
	_, err := s.db.Exec(`INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		b.ID, b.MemberID, b.ClassID, b.Status, position, b.BookedAt, b.CancelledAt, b.AttendedAt)
	if err != nil {
		slog.Error("PostgresStore CreateBooking failed", "error", err, "bookingID", b.ID)
		return fmt.Errorf("failed to insert booking %s: %w", b.ID, err)
	}
	slog.Debug("PostgresStore CreateBooking succeeded", "bookingID", b.ID, "classID", b.ClassID, "status", b.Status)
	return nil
}

func (s *PostgresStore) GetBooking(id string) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetBooking not found", "bookingID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetBooking failed", "error", err, "bookingID", id)
		return nil, fmt.Errorf("failed to get booking %s: %w", id, err)
	}
	return &b, nil
}

func (s *PostgresStore) FindActiveBooking(memberID, classID string) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+bookingColumns+` FROM bookings
		WHERE member_id = $1 AND class_id = $2 AND status IN ('booked', 'waitlist')
		LIMIT 1`, memberID, classID)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FindActiveBooking failed", "error", err, "memberID", memberID, "classID", classID)
		return nil, fmt.Errorf("failed to find active booking: %w", err)
	}
	return &b, nil
}

func (s *PostgresStore) ListActiveBookingsByMember(memberID string) ([]models.MemberBooking, error) {
	rows, err := s.db.Query(memberBookingJoin+`
		WHERE b.member_id = $1 AND b.status IN ('booked', 'waitlist')
		ORDER BY c.scheduled_at ASC`, memberID)
	if err != nil {
		slog.Error("PostgresStore ListActiveBookingsByMember query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to query member bookings: %w", err)
	}
	defer rows.Close()
	return collectBookingsWithClasses(rows)
}

func (s *PostgresStore) ListUpcomingBookingsByMember(memberID string, from time.Time) ([]models.MemberBooking, error) {
	rows, err := s.db.Query(memberBookingJoin+`
		WHERE b.member_id = $1 AND b.status IN ('booked', 'waitlist') AND c.scheduled_at >= $2
		ORDER BY c.scheduled_at ASC`, memberID, from)
	if err != nil {
		slog.Error("PostgresStore ListUpcomingBookingsByMember query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to query upcoming member bookings: %w", err)
	}
	defer rows.Close()
	return collectBookingsWithClasses(rows)
}

func (s *PostgresStore) CountActiveWaitlist(classID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bookings WHERE class_id = $1 AND status = 'waitlist'`, classID).Scan(&n)
	if err != nil {
		slog.Error("PostgresStore CountActiveWaitlist failed", "error", err, "classID", classID)
		return 0, fmt.Errorf("failed to count waitlist for %s: %w", classID, err)
	}
	return n, nil
}

func (s *PostgresStore) FirstWaitlisted(classID string) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+bookingColumns+` FROM bookings
		WHERE class_id = $1 AND status = 'waitlist' AND waitlist_position IS NOT NULL
		ORDER BY waitlist_position ASC LIMIT 1`, classID)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore FirstWaitlisted failed", "error", err, "classID", classID)
		return nil, fmt.Errorf("failed to find first waitlisted booking for %s: %w", classID, err)
	}
	return &b, nil
}

func (s *PostgresStore) UpdateBookingStatus(id string, status models.BookingStatus) error {
	var query string
	switch status {
	case models.StatusCancelled:
		query = `UPDATE bookings SET status = $1, cancelled_at = $2, waitlist_position = NULL WHERE id = $3`
	case models.StatusAttended, models.StatusNoShow:
		query = `UPDATE bookings SET status = $1, attended_at = $2 WHERE id = $3`
	default:
		_, err := s.db.Exec(`UPDATE bookings SET status = $1 WHERE id = $2`, status, id)
		if err != nil {
			slog.Error("PostgresStore UpdateBookingStatus failed", "error", err, "bookingID", id, "status", status)
			return fmt.Errorf("failed to update booking %s status: %w", id, err)
		}
		return nil
	}
	_, err := s.db.Exec(query, status, time.Now(), id)
	if err != nil {
		slog.Error("PostgresStore UpdateBookingStatus failed", "error", err, "bookingID", id, "status", status)
		return fmt.Errorf("failed to update booking %s status: %w", id, err)
	}
	slog.Debug("PostgresStore UpdateBookingStatus succeeded", "bookingID", id, "status", status)
	return nil
}

func (s *PostgresStore) PromoteBooking(id string) error {
	_, err := s.db.Exec(`UPDATE bookings SET status = 'booked', waitlist_position = NULL WHERE id = $1`, id)
	if err != nil {
		slog.Error("PostgresStore PromoteBooking failed", "error", err, "bookingID", id)
		return fmt.Errorf("failed to promote booking %s: %w", id, err)
	}
	slog.Debug("PostgresStore PromoteBooking succeeded", "bookingID", id)
	return nil
}

func (s *PostgresStore) CancelActiveBookingsForClass(classID string) error {
	_, err := s.db.Exec(`UPDATE bookings SET status = 'cancelled', cancelled_at = $1, waitlist_position = NULL
		WHERE class_id = $2 AND status IN ('booked', 'waitlist')`, time.Now(), classID)
	if err != nil {
		slog.Error("PostgresStore CancelActiveBookingsForClass failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to cancel bookings for class %s: %w", classID, err)
	}
	slog.Debug("PostgresStore CancelActiveBookingsForClass succeeded", "classID", classID)
	return nil
}

func (s *PostgresStore) GetMemberByPhone(phone string) (*models.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberColumns+` FROM members WHERE phone = $1`, phone)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetMemberByPhone not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetMemberByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get member by phone: %w", err)
	}
	return &m, nil
}

func (s *PostgresStore) CreateMember(m models.Member) error {
	_, err := s.db.Exec(`INSERT INTO members (`+memberColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		m.ID, m.Phone, m.Name, nilIfEmpty(m.PrimaryGoal), nilIfEmpty(m.DietaryPref),
		m.WeightKg, m.HeightCm, m.Age, m.OnboardingCompleted, nilIfEmpty(m.OnboardingStep),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore CreateMember failed", "error", err, "phone", m.Phone)
		return fmt.Errorf("failed to insert member %s: %w", m.Phone, err)
	}
	slog.Debug("PostgresStore CreateMember succeeded", "memberID", m.ID, "phone", m.Phone)
	return nil
}

func (s *PostgresStore) SaveMember(m models.Member) error {
	_, err := s.db.Exec(`UPDATE members SET name = $1, primary_goal = $2, dietary_pref = $3,
		weight_kg = $4, height_cm = $5, age = $6, onboarding_completed = $7, onboarding_step = $8,
		updated_at = $9 WHERE id = $10`,
		m.Name, nilIfEmpty(m.PrimaryGoal), nilIfEmpty(m.DietaryPref),
		m.WeightKg, m.HeightCm, m.Age, m.OnboardingCompleted, nilIfEmpty(m.OnboardingStep),
		time.Now(), m.ID)
	if err != nil {
		slog.Error("PostgresStore SaveMember failed", "error", err, "memberID", m.ID)
		return fmt.Errorf("failed to save member %s: %w", m.ID, err)
	}
	slog.Debug("PostgresStore SaveMember succeeded", "memberID", m.ID)
	return nil
}

func (s *PostgresStore) GetConversationState(phone string) (*models.ConversationState, error) {
	var st models.ConversationState
	var flow, step, dataJSON sql.NullString
	err := s.db.QueryRow(`SELECT phone, current_flow, current_step, flow_data, last_activity, created_at
		FROM conversation_states WHERE phone = $1`, phone).Scan(
		&st.Phone, &flow, &step, &dataJSON, &st.LastActivity, &st.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversationState not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversationState failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	st.CurrentFlow = models.FlowType(flow.String)
	st.CurrentStep = models.StepType(step.String)
	if dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &st.Data); err != nil {
			slog.Error("PostgresStore GetConversationState JSON unmarshal failed", "error", err, "phone", phone)
			// Keep the flow and step; the state manager decides whether a
			// missing payload makes the state unusable.
			st.Data = models.FlowData{}
		}
	}
	slog.Debug("PostgresStore GetConversationState found", "phone", phone, "flow", st.CurrentFlow, "step", st.CurrentStep)
	return &st, nil
}

func (s *PostgresStore) SaveConversationState(st models.ConversationState) error {
	var dataJSON interface{}
	if !st.Data.IsZero() {
		jsonBytes, err := json.Marshal(st.Data)
		if err != nil {
			slog.Error("PostgresStore SaveConversationState JSON marshal failed", "error", err, "phone", st.Phone)
			return err
		}
		dataJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(`INSERT INTO conversation_states (phone, current_flow, current_step, flow_data, last_activity, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (phone) DO UPDATE SET
			current_flow = EXCLUDED.current_flow,
			current_step = EXCLUDED.current_step,
			flow_data = EXCLUDED.flow_data,
			last_activity = EXCLUDED.last_activity`,
		st.Phone, nilIfEmpty(string(st.CurrentFlow)), nilIfEmpty(string(st.CurrentStep)),
		dataJSON, st.LastActivity, st.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveConversationState failed", "error", err, "phone", st.Phone, "flow", st.CurrentFlow)
		return fmt.Errorf("failed to save conversation state for %s: %w", st.Phone, err)
	}
	slog.Debug("PostgresStore SaveConversationState succeeded", "phone", st.Phone, "flow", st.CurrentFlow, "step", st.CurrentStep)
	return nil
}

func (s *PostgresStore) ClearConversationState(phone string) error {
	_, err := s.db.Exec(`UPDATE conversation_states SET current_flow = NULL, current_step = NULL,
		flow_data = NULL, last_activity = $1 WHERE phone = $2`, time.Now(), phone)
	if err != nil {
		slog.Error("PostgresStore ClearConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to clear conversation state for %s: %w", phone, err)
	}
	slog.Debug("PostgresStore ClearConversationState succeeded", "phone", phone)
	return nil
}

// Close closes the Postgres database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing Postgres database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close Postgres database", "error", err)
	}
	return err
}
