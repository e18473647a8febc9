// Package store provides storage backends for GymBuddy.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/gymops/gymbuddy/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	// Apply options
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	// Determine DSN (required)
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	slog.Debug("Opening SQLite database connection")
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	slog.Debug("Running SQLite migrations")
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) CreateClass(c models.ClassSession) error {
	_, err := s.db.Exec(`INSERT INTO classes (`+classColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Name, c.ClassType, c.TrainerName, nilIfEmpty(c.Room), nilIfEmpty(c.Intensity),
		c.ScheduledAt, c.DurationMins, c.Capacity, c.BookedCount, c.WaitlistCount,
		c.IsCancelled, nilIfEmpty(c.CancellationReason), c.CreatedAt, c.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateClass failed", "error", err, "classID", c.ID)
		return fmt.Errorf("failed to insert class %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore CreateClass succeeded", "classID", c.ID, "name", c.Name)
	return nil
}

func (s *SQLiteStore) GetClass(id string) (*models.ClassSession, error) {
	row := s.db.QueryRow(`SELECT `+classColumns+` FROM classes WHERE id = ?`, id)
	c, err := scanClass(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetClass not found", "classID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetClass failed", "error", err, "classID", id)
		return nil, fmt.Errorf("failed to get class %s: %w", id, err)
	}
	return &c, nil
}

func (s *SQLiteStore) ListUpcomingClasses(from, until time.Time, classType string) ([]models.ClassSession, error) {
	query := `SELECT ` + classColumns + ` FROM classes
		WHERE is_cancelled = 0 AND scheduled_at >= ? AND scheduled_at <= ?`
	args := []interface{}{from, until}
	if classType != "" {
		query += ` AND LOWER(class_type) = LOWER(?)`
		args = append(args, classType)
	}
	query += ` ORDER BY scheduled_at ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		slog.Error("SQLiteStore ListUpcomingClasses query failed", "error", err)
		return nil, fmt.Errorf("failed to query upcoming classes: %w", err)
	}
	defer rows.Close()

	var out []models.ClassSession
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			slog.Error("SQLiteStore ListUpcomingClasses scan failed", "error", err)
			return nil, fmt.Errorf("failed to scan class row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		slog.Error("SQLiteStore ListUpcomingClasses rows iteration failed", "error", err)
		return nil, err
	}
	slog.Debug("SQLiteStore ListUpcomingClasses succeeded", "count", len(out))
	return out, nil
}

func (s *SQLiteStore) ListClassesBetween(from, until time.Time) ([]models.ClassSession, error) {
	rows, err := s.db.Query(`SELECT `+classColumns+` FROM classes
		WHERE is_cancelled = 0 AND scheduled_at >= ? AND scheduled_at < ?
		ORDER BY scheduled_at ASC`, from, until)
	if err != nil {
		slog.Error("SQLiteStore ListClassesBetween query failed", "error", err)
		return nil, fmt.Errorf("failed to query classes: %w", err)
	}
	defer rows.Close()

	var out []models.ClassSession
	for rows.Next() {
		c, err := scanClass(rows)
		if err != nil {
			slog.Error("SQLiteStore ListClassesBetween scan failed", "error", err)
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLiteStore) SetClassCancelled(id, reason string) error {
	_, err := s.db.Exec(`UPDATE classes SET is_cancelled = 1, cancellation_reason = ?, updated_at = ?
		WHERE id = ?`, nilIfEmpty(reason), time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore SetClassCancelled failed", "error", err, "classID", id)
		return fmt.Errorf("failed to cancel class %s: %w", id, err)
	}
	slog.Debug("SQLiteStore SetClassCancelled succeeded", "classID", id)
	return nil
}

// IncrementBooked takes a seat only while one is free. The WHERE clause makes
// the check and the increment a single statement, so concurrent bookers
// cannot both take the last seat.
func (s *SQLiteStore) IncrementBooked(classID string) (bool, error) {
	res, err := s.db.Exec(`UPDATE classes SET booked_count = booked_count + 1, updated_at = ?
		WHERE id = ? AND is_cancelled = 0 AND booked_count < capacity`, time.Now(), classID)
	if err != nil {
		slog.Error("SQLiteStore IncrementBooked failed", "error", err, "classID", classID)
		return false, fmt.Errorf("failed to increment booked count for %s: %w", classID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	slog.Debug("SQLiteStore IncrementBooked", "classID", classID, "taken", n > 0)
	return n > 0, nil
}

func (s *SQLiteStore) DecrementBooked(classID string) error {
	_, err := s.db.Exec(`UPDATE classes SET booked_count = booked_count - 1, updated_at = ?
		WHERE id = ? AND booked_count > 0`, time.Now(), classID)
	if err != nil {
		slog.Error("SQLiteStore DecrementBooked failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to decrement booked count for %s: %w", classID, err)
	}
	return nil
}

func (s *SQLiteStore) IncrementWaitlist(classID string) error {
	_, err := s.db.Exec(`UPDATE classes SET waitlist_count = waitlist_count + 1, updated_at = ?
		WHERE id = ?`, time.Now(), classID)
	if err != nil {
		slog.Error("SQLiteStore IncrementWaitlist failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to increment waitlist count for %s: %w", classID, err)
	}
	return nil
}

func (s *SQLiteStore) DecrementWaitlist(classID string) error {
	_, err := s.db.Exec(`UPDATE classes SET waitlist_count = waitlist_count - 1, updated_at = ?
		WHERE id = ? AND waitlist_count > 0`, time.Now(), classID)
	if err != nil {
		slog.Error("SQLiteStore DecrementWaitlist failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to decrement waitlist count for %s: %w", classID, err)
	}
	return nil
}

func (s *SQLiteStore) CreateBooking(b models.Booking) error {
	var position interface{}
	if b.WaitlistPosition != nil {
		position = *b.WaitlistPosition
	}
	_, err := s.db.Exec(`INSERT INTO bookings (`+bookingColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.MemberID, b.ClassID, b.Status, position, b.BookedAt, b.CancelledAt, b.AttendedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateBooking failed", "error", err, "bookingID", b.ID)
		return fmt.Errorf("failed to insert booking %s: %w", b.ID, err)
	}
	slog.Debug("SQLiteStore CreateBooking succeeded", "bookingID", b.ID, "classID", b.ClassID, "status", b.Status)
	return nil
}

func (s *SQLiteStore) GetBooking(id string) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetBooking not found", "bookingID", id)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetBooking failed", "error", err, "bookingID", id)
		return nil, fmt.Errorf("failed to get booking %s: %w", id, err)
	}
	return &b, nil
}

func (s *SQLiteStore) FindActiveBooking(memberID, classID string) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+bookingColumns+` FROM bookings
		WHERE member_id = ? AND class_id = ? AND status IN ('booked', 'waitlist')
		LIMIT 1`, memberID, classID)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FindActiveBooking failed", "error", err, "memberID", memberID, "classID", classID)
		return nil, fmt.Errorf("failed to find active booking: %w", err)
	}
	return &b, nil
}

func (s *SQLiteStore) ListActiveBookingsByMember(memberID string) ([]models.MemberBooking, error) {
	rows, err := s.db.Query(memberBookingJoin+`
		WHERE b.member_id = ? AND b.status IN ('booked', 'waitlist')
		ORDER BY c.scheduled_at ASC`, memberID)
	if err != nil {
		slog.Error("SQLiteStore ListActiveBookingsByMember query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to query member bookings: %w", err)
	}
	defer rows.Close()
	return collectBookingsWithClasses(rows)
}

func (s *SQLiteStore) ListUpcomingBookingsByMember(memberID string, from time.Time) ([]models.MemberBooking, error) {
	rows, err := s.db.Query(memberBookingJoin+`
		WHERE b.member_id = ? AND b.status IN ('booked', 'waitlist') AND c.scheduled_at >= ?
		ORDER BY c.scheduled_at ASC`, memberID, from)
	if err != nil {
		slog.Error("SQLiteStore ListUpcomingBookingsByMember query failed", "error", err, "memberID", memberID)
		return nil, fmt.Errorf("failed to query upcoming member bookings: %w", err)
	}
	defer rows.Close()
	return collectBookingsWithClasses(rows)
}

func (s *SQLiteStore) CountActiveWaitlist(classID string) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM bookings WHERE class_id = ? AND status = 'waitlist'`, classID).Scan(&n)
	if err != nil {
		slog.Error("SQLiteStore CountActiveWaitlist failed", "error", err, "classID", classID)
		return 0, fmt.Errorf("failed to count waitlist for %s: %w", classID, err)
	}
	return n, nil
}

func (s *SQLiteStore) FirstWaitlisted(classID string) (*models.Booking, error) {
	row := s.db.QueryRow(`SELECT `+bookingColumns+` FROM bookings
		WHERE class_id = ? AND status = 'waitlist' AND waitlist_position IS NOT NULL
		ORDER BY waitlist_position ASC LIMIT 1`, classID)
	b, err := scanBooking(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore FirstWaitlisted failed", "error", err, "classID", classID)
		return nil, fmt.Errorf("failed to find first waitlisted booking for %s: %w", classID, err)
	}
	return &b, nil
}

func (s *SQLiteStore) UpdateBookingStatus(id string, status models.BookingStatus) error {
	var query string
	switch status {
	case models.StatusCancelled:
		query = `UPDATE bookings SET status = ?, cancelled_at = ?, waitlist_position = NULL WHERE id = ?`
	case models.StatusAttended, models.StatusNoShow:
		query = `UPDATE bookings SET status = ?, attended_at = ? WHERE id = ?`
	default:
		_, err := s.db.Exec(`UPDATE bookings SET status = ? WHERE id = ?`, status, id)
		if err != nil {
			slog.Error("SQLiteStore UpdateBookingStatus failed", "error", err, "bookingID", id, "status", status)
			return fmt.Errorf("failed to update booking %s status: %w", id, err)
		}
		return nil
	}
	_, err := s.db.Exec(query, status, time.Now(), id)
	if err != nil {
		slog.Error("SQLiteStore UpdateBookingStatus failed", "error", err, "bookingID", id, "status", status)
		return fmt.Errorf("failed to update booking %s status: %w", id, err)
	}
	slog.Debug("SQLiteStore UpdateBookingStatus succeeded", "bookingID", id, "status", status)
	return nil
}

func (s *SQLiteStore) PromoteBooking(id string) error {
	_, err := s.db.Exec(`UPDATE bookings SET status = 'booked', waitlist_position = NULL WHERE id = ?`, id)
	if err != nil {
		slog.Error("SQLiteStore PromoteBooking failed", "error", err, "bookingID", id)
		return fmt.Errorf("failed to promote booking %s: %w", id, err)
	}
	slog.Debug("SQLiteStore PromoteBooking succeeded", "bookingID", id)
	return nil
}

func (s *SQLiteStore) CancelActiveBookingsForClass(classID string) error {
	_, err := s.db.Exec(`UPDATE bookings SET status = 'cancelled', cancelled_at = ?, waitlist_position = NULL
		WHERE class_id = ? AND status IN ('booked', 'waitlist')`, time.Now(), classID)
	if err != nil {
		slog.Error("SQLiteStore CancelActiveBookingsForClass failed", "error", err, "classID", classID)
		return fmt.Errorf("failed to cancel bookings for class %s: %w", classID, err)
	}
	slog.Debug("SQLiteStore CancelActiveBookingsForClass succeeded", "classID", classID)
	return nil
}

func (s *SQLiteStore) GetMemberByPhone(phone string) (*models.Member, error) {
	row := s.db.QueryRow(`SELECT `+memberColumns+` FROM members WHERE phone = ?`, phone)
	m, err := scanMember(row)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetMemberByPhone not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetMemberByPhone failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get member by phone: %w", err)
	}
	return &m, nil
}

func (s *SQLiteStore) CreateMember(m models.Member) error {
	_, err := s.db.Exec(`INSERT INTO members (`+memberColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Phone, m.Name, nilIfEmpty(m.PrimaryGoal), nilIfEmpty(m.DietaryPref),
		m.WeightKg, m.HeightCm, m.Age, m.OnboardingCompleted, nilIfEmpty(m.OnboardingStep),
		m.CreatedAt, m.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore CreateMember failed", "error", err, "phone", m.Phone)
		return fmt.Errorf("failed to insert member %s: %w", m.Phone, err)
	}
	slog.Debug("SQLiteStore CreateMember succeeded", "memberID", m.ID, "phone", m.Phone)
	return nil
}

func (s *SQLiteStore) SaveMember(m models.Member) error {
	_, err := s.db.Exec(`UPDATE members SET name = ?, primary_goal = ?, dietary_pref = ?,
		weight_kg = ?, height_cm = ?, age = ?, onboarding_completed = ?, onboarding_step = ?,
		updated_at = ? WHERE id = ?`,
		m.Name, nilIfEmpty(m.PrimaryGoal), nilIfEmpty(m.DietaryPref),
		m.WeightKg, m.HeightCm, m.Age, m.OnboardingCompleted, nilIfEmpty(m.OnboardingStep),
		time.Now(), m.ID)
	if err != nil {
		slog.Error("SQLiteStore SaveMember failed", "error", err, "memberID", m.ID)
		return fmt.Errorf("failed to save member %s: %w", m.ID, err)
	}
	slog.Debug("SQLiteStore SaveMember succeeded", "memberID", m.ID)
	return nil
}

func (s *SQLiteStore) GetConversationState(phone string) (*models.ConversationState, error) {
	var st models.ConversationState
	var flow, step, dataJSON sql.NullString
	err := s.db.QueryRow(`SELECT phone, current_flow, current_step, flow_data, last_activity, created_at
		FROM conversation_states WHERE phone = ?`, phone).Scan(
		&st.Phone, &flow, &step, &dataJSON, &st.LastActivity, &st.CreatedAt)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversationState not found", "phone", phone)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversationState failed", "error", err, "phone", phone)
		return nil, fmt.Errorf("failed to get conversation state: %w", err)
	}
	st.CurrentFlow = models.FlowType(flow.String)
	st.CurrentStep = models.StepType(step.String)
	if dataJSON.String != "" {
		if err := json.Unmarshal([]byte(dataJSON.String), &st.Data); err != nil {
			slog.Error("SQLiteStore GetConversationState JSON unmarshal failed", "error", err, "phone", phone)
			// Keep the flow and step; the state manager decides whether a
			// missing payload makes the state unusable.
			st.Data = models.FlowData{}
		}
	}
	slog.Debug("SQLiteStore GetConversationState found", "phone", phone, "flow", st.CurrentFlow, "step", st.CurrentStep)
	return &st, nil
}

func (s *SQLiteStore) SaveConversationState(st models.ConversationState) error {
	var dataJSON interface{}
	if !st.Data.IsZero() {
		jsonBytes, err := json.Marshal(st.Data)
		if err != nil {
			slog.Error("SQLiteStore SaveConversationState JSON marshal failed", "error", err, "phone", st.Phone)
			return err
		}
		dataJSON = string(jsonBytes)
	}

	_, err := s.db.Exec(`INSERT INTO conversation_states (phone, current_flow, current_step, flow_data, last_activity, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(phone) DO UPDATE SET
			current_flow = excluded.current_flow,
			current_step = excluded.current_step,
			flow_data = excluded.flow_data,
			last_activity = excluded.last_activity`,
		st.Phone, nilIfEmpty(string(st.CurrentFlow)), nilIfEmpty(string(st.CurrentStep)),
		dataJSON, st.LastActivity, st.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveConversationState failed", "error", err, "phone", st.Phone, "flow", st.CurrentFlow)
		return fmt.Errorf("failed to save conversation state for %s: %w", st.Phone, err)
	}
	slog.Debug("SQLiteStore SaveConversationState succeeded", "phone", st.Phone, "flow", st.CurrentFlow, "step", st.CurrentStep)
	return nil
}

func (s *SQLiteStore) ClearConversationState(phone string) error {
	_, err := s.db.Exec(`UPDATE conversation_states SET current_flow = NULL, current_step = NULL,
		flow_data = NULL, last_activity = ? WHERE phone = ?`, time.Now(), phone)
	if err != nil {
		slog.Error("SQLiteStore ClearConversationState failed", "error", err, "phone", phone)
		return fmt.Errorf("failed to clear conversation state for %s: %w", phone, err)
	}
	slog.Debug("SQLiteStore ClearConversationState succeeded", "phone", phone)
	return nil
}

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
