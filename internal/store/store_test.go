package store

import (
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
)

func testClass(id string, capacity int, at time.Time) models.ClassSession {
	now := time.Now()
	return models.ClassSession{
		ID:           id,
		Name:         "Morning Yoga",
		ClassType:    "yoga",
		TrainerName:  "Priya",
		Room:         "Studio A",
		Intensity:    "low",
		ScheduledAt:  at,
		DurationMins: 45,
		Capacity:     capacity,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func TestInMemoryStoreClasses(t *testing.T) {
	s := NewInMemoryStore()
	at := time.Now().Add(24 * time.Hour)
	if err := s.CreateClass(testClass("c1", 10, at)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c, err := s.GetClass("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil || c.Name != "Morning Yoga" {
		t.Fatal("class not stored or retrieved correctly")
	}

	missing, err := s.GetClass("nope")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if missing != nil {
		t.Error("expected nil for missing class")
	}

	classes, err := s.ListUpcomingClasses(time.Now(), time.Now().Add(48*time.Hour), "yoga")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(classes) != 1 {
		t.Errorf("expected 1 upcoming yoga class, got %d", len(classes))
	}

	classes, err = s.ListUpcomingClasses(time.Now(), time.Now().Add(48*time.Hour), "hiit")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(classes) != 0 {
		t.Errorf("expected no hiit classes, got %d", len(classes))
	}

	if err := s.SetClassCancelled("c1", "trainer sick"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, _ = s.GetClass("c1")
	if !c.IsCancelled || c.CancellationReason != "trainer sick" {
		t.Error("cancellation not recorded")
	}
}

func TestInMemoryStoreIncrementBooked(t *testing.T) {
	s := NewInMemoryStore()
	s.CreateClass(testClass("c1", 2, time.Now().Add(time.Hour)))

	for i := 0; i < 2; i++ {
		ok, err := s.IncrementBooked("c1")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !ok {
			t.Fatalf("increment %d should have taken a seat", i)
		}
	}

	ok, err := s.IncrementBooked("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("increment past capacity should report false")
	}

	c, _ := s.GetClass("c1")
	if c.BookedCount != 2 {
		t.Errorf("expected booked_count 2, got %d", c.BookedCount)
	}

	if err := s.DecrementBooked("c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, _ = s.IncrementBooked("c1")
	if !ok {
		t.Error("seat freed by decrement should be bookable again")
	}
}

func TestInMemoryStoreIncrementBookedCancelledClass(t *testing.T) {
	s := NewInMemoryStore()
	s.CreateClass(testClass("c1", 10, time.Now().Add(time.Hour)))
	s.SetClassCancelled("c1", "")

	ok, err := s.IncrementBooked("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("cancelled class should not accept bookings")
	}
}

func TestInMemoryStoreBookings(t *testing.T) {
	s := NewInMemoryStore()
	at := time.Now().Add(24 * time.Hour)
	s.CreateClass(testClass("c1", 10, at))

	b := models.Booking{ID: "b1", MemberID: "m1", ClassID: "c1", Status: models.StatusBooked, BookedAt: time.Now()}
	if err := s.CreateBooking(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	found, err := s.FindActiveBooking("m1", "c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found == nil || found.ID != "b1" {
		t.Fatal("active booking not found")
	}

	if err := s.UpdateBookingStatus("b1", models.StatusCancelled); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found, _ = s.FindActiveBooking("m1", "c1")
	if found != nil {
		t.Error("cancelled booking should not be active")
	}
	got, _ := s.GetBooking("b1")
	if got.CancelledAt == nil {
		t.Error("cancelled_at should be set")
	}
}

func TestInMemoryStoreWaitlistOrder(t *testing.T) {
	s := NewInMemoryStore()
	s.CreateClass(testClass("c1", 1, time.Now().Add(time.Hour)))

	p1, p2 := 1, 2
	s.CreateBooking(models.Booking{ID: "w1", MemberID: "m1", ClassID: "c1", Status: models.StatusWaitlisted, WaitlistPosition: &p1, BookedAt: time.Now()})
	s.CreateBooking(models.Booking{ID: "w2", MemberID: "m2", ClassID: "c1", Status: models.StatusWaitlisted, WaitlistPosition: &p2, BookedAt: time.Now()})

	n, err := s.CountActiveWaitlist("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected waitlist count 2, got %d", n)
	}

	first, err := s.FirstWaitlisted("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == nil || first.ID != "w1" {
		t.Fatal("expected w1 at the head of the waitlist")
	}

	if err := s.PromoteBooking("w1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	promoted, _ := s.GetBooking("w1")
	if promoted.Status != models.StatusBooked || promoted.WaitlistPosition != nil {
		t.Error("promotion should set status booked and clear position")
	}

	first, _ = s.FirstWaitlisted("c1")
	if first == nil || first.ID != "w2" {
		t.Error("w2 should now head the waitlist")
	}
}

func TestInMemoryStoreCancelActiveBookingsForClass(t *testing.T) {
	s := NewInMemoryStore()
	s.CreateClass(testClass("c1", 1, time.Now().Add(time.Hour)))
	pos := 1
	s.CreateBooking(models.Booking{ID: "b1", MemberID: "m1", ClassID: "c1", Status: models.StatusBooked, BookedAt: time.Now()})
	s.CreateBooking(models.Booking{ID: "b2", MemberID: "m2", ClassID: "c1", Status: models.StatusWaitlisted, WaitlistPosition: &pos, BookedAt: time.Now()})

	if err := s.CancelActiveBookingsForClass("c1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range []string{"b1", "b2"} {
		b, _ := s.GetBooking(id)
		if b.Status != models.StatusCancelled {
			t.Errorf("booking %s should be cancelled, got %s", id, b.Status)
		}
	}
}

func TestInMemoryStoreConversationState(t *testing.T) {
	s := NewInMemoryStore()
	created := time.Now().Add(-time.Hour)
	st := models.ConversationState{
		Phone:       "+15551234",
		CurrentFlow: models.FlowOnboarding,
		CurrentStep: models.StepGoalSelection,
		Data: models.FlowData{
			Onboarding: &models.OnboardingData{Name: "Asha"},
		},
		LastActivity: time.Now(),
		CreatedAt:    created,
	}
	if err := s.SaveConversationState(st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := s.GetConversationState("+15551234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.CurrentFlow != models.FlowOnboarding || got.Data.Onboarding == nil {
		t.Fatal("state not stored or retrieved correctly")
	}

	// Re-saving must not reset created_at.
	st.CurrentStep = models.StepDietaryPreference
	st.CreatedAt = time.Now()
	s.SaveConversationState(st)
	got, _ = s.GetConversationState("+15551234")
	if !got.CreatedAt.Equal(created) {
		t.Error("created_at should be preserved on upsert")
	}
	if got.CurrentStep != models.StepDietaryPreference {
		t.Error("step should advance on upsert")
	}

	if err := s.ClearConversationState("+15551234"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, _ = s.GetConversationState("+15551234")
	if got == nil {
		t.Fatal("clear should keep the row")
	}
	if got.InFlow() || !got.Data.IsZero() {
		t.Error("clear should null flow, step, and data")
	}
}

func TestInMemoryStoreDedup(t *testing.T) {
	s := NewInMemoryStore()
	first, err := s.RecordInbound("msg1", "+15551234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first {
		t.Error("first delivery should report true")
	}
	second, err := s.RecordInbound("msg1", "+15551234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second {
		t.Error("redelivery should report false")
	}
	if err := s.MarkProcessed("msg1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestSQLiteStore(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "gymbuddy.db")
	s, err := NewSQLiteStore(WithSQLiteDSN(dsn))
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	defer s.Close()

	at := time.Now().Add(24 * time.Hour).Truncate(time.Second)
	if err := s.CreateClass(testClass("c1", 2, at)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c, err := s.GetClass("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c == nil || c.TrainerName != "Priya" {
		t.Fatal("class not stored or retrieved correctly")
	}

	ok, err := s.IncrementBooked("c1")
	if err != nil || !ok {
		t.Fatalf("expected seat taken, ok=%v err=%v", ok, err)
	}
	s.IncrementBooked("c1")
	ok, _ = s.IncrementBooked("c1")
	if ok {
		t.Error("increment past capacity should report false")
	}

	pos := 1
	b := models.Booking{ID: "b1", MemberID: "m1", ClassID: "c1", Status: models.StatusWaitlisted, WaitlistPosition: &pos, BookedAt: time.Now()}
	if err := s.CreateBooking(b); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first, err := s.FirstWaitlisted("c1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first == nil || first.WaitlistPosition == nil || *first.WaitlistPosition != 1 {
		t.Fatal("waitlisted booking not retrieved correctly")
	}

	now := time.Now()
	m := models.Member{ID: "m1", Phone: "+15551234", Name: "Asha", CreatedAt: now, UpdatedAt: now}
	if err := s.CreateMember(m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	m.PrimaryGoal = "weight_loss"
	m.OnboardingCompleted = true
	if err := s.SaveMember(m); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := s.GetMemberByPhone("+15551234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got == nil || got.PrimaryGoal != "weight_loss" || !got.OnboardingCompleted {
		t.Fatal("member not saved or retrieved correctly")
	}

	st := models.ConversationState{
		Phone:        "+15551234",
		CurrentFlow:  models.FlowBooking,
		CurrentStep:  models.StepSelectClass,
		Data:         models.FlowData{Booking: &models.BookingData{ClassIDs: []string{"c1"}}},
		LastActivity: now,
		CreatedAt:    now,
	}
	if err := s.SaveConversationState(st); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotSt, err := s.GetConversationState("+15551234")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotSt == nil || gotSt.Data.Booking == nil || len(gotSt.Data.Booking.ClassIDs) != 1 {
		t.Fatal("conversation state round trip failed")
	}
	if err := s.ClearConversationState("+15551234"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	gotSt, _ = s.GetConversationState("+15551234")
	if gotSt == nil || gotSt.InFlow() {
		t.Error("clear should keep the row with null flow")
	}

	dup, err := s.RecordInbound("msg1", "+15551234")
	if err != nil || !dup {
		t.Fatalf("first delivery should insert, ok=%v err=%v", dup, err)
	}
	dup, _ = s.RecordInbound("msg1", "+15551234")
	if dup {
		t.Error("redelivery should report false")
	}
}

func TestPostgresStore(t *testing.T) {
	// This test requires a running PostgreSQL instance.
	// Set the DATABASE_URL environment variable for connection string.
	connStr := getenvOrSkip(t, "DATABASE_URL")
	pg, err := NewPostgresStore(WithPostgresDSN(connStr))
	if err != nil {
		t.Skipf("Postgres not available: %v", err)
	}
	defer pg.Close()

	// Clean up tables before test
	pg.db.Exec("DELETE FROM bookings")
	pg.db.Exec("DELETE FROM classes")

	at := time.Now().Add(24 * time.Hour)
	if err := pg.CreateClass(testClass("c1", 1, at)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ok, err := pg.IncrementBooked("c1")
	if err != nil || !ok {
		t.Fatalf("expected seat taken, ok=%v err=%v", ok, err)
	}
	ok, _ = pg.IncrementBooked("c1")
	if ok {
		t.Error("increment past capacity should report false")
	}
}

func getenvOrSkip(t *testing.T, key string) string {
	v := ""
	if val, ok := syscall.Getenv(key); ok {
		v = val
	}
	if v == "" {
		t.Skipf("env %s not set", key)
	}
	return v
}
