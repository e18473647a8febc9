// Package store provides storage backends for GymBuddy.
//
// It exposes read/write primitives for class sessions, bookings, members, and
// conversation state. No business rules live here; the booking engine and the
// flow layer compose these primitives.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gymops/gymbuddy/internal/models"
)

// Store is the persistence abstraction shared by all backends.
type Store interface {
	// Class sessions.
	CreateClass(c models.ClassSession) error
	GetClass(id string) (*models.ClassSession, error)
	ListUpcomingClasses(from, until time.Time, classType string) ([]models.ClassSession, error)
	ListClassesBetween(from, until time.Time) ([]models.ClassSession, error)
	SetClassCancelled(id, reason string) error

	// Atomic counter primitives. IncrementBooked is conditional: it reports
	// false when the class is full or cancelled, so two writers can never
	// both take the last seat.
	IncrementBooked(classID string) (bool, error)
	DecrementBooked(classID string) error
	IncrementWaitlist(classID string) error
	DecrementWaitlist(classID string) error

	// Bookings.
	CreateBooking(b models.Booking) error
	GetBooking(id string) (*models.Booking, error)
	FindActiveBooking(memberID, classID string) (*models.Booking, error)
	ListActiveBookingsByMember(memberID string) ([]models.MemberBooking, error)
	ListUpcomingBookingsByMember(memberID string, from time.Time) ([]models.MemberBooking, error)
	CountActiveWaitlist(classID string) (int, error)
	FirstWaitlisted(classID string) (*models.Booking, error)
	UpdateBookingStatus(id string, status models.BookingStatus) error
	PromoteBooking(id string) error
	CancelActiveBookingsForClass(classID string) error

	// Members.
	GetMemberByPhone(phone string) (*models.Member, error)
	CreateMember(m models.Member) error
	SaveMember(m models.Member) error

	// Conversation state, keyed uniquely by phone.
	GetConversationState(phone string) (*models.ConversationState, error)
	SaveConversationState(st models.ConversationState) error
	ClearConversationState(phone string) error

	Close() error
}

// InMemoryStore is a mutex-guarded in-memory implementation used in tests.
type InMemoryStore struct {
	mu       sync.RWMutex
	classes  map[string]*models.ClassSession
	bookings map[string]*models.Booking
	members  map[string]*models.Member // keyed by phone
	states   map[string]*models.ConversationState
	dedup    map[string]*DedupRecord
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		classes:  make(map[string]*models.ClassSession),
		bookings: make(map[string]*models.Booking),
		members:  make(map[string]*models.Member),
		states:   make(map[string]*models.ConversationState),
		dedup:    make(map[string]*DedupRecord),
	}
}

func (s *InMemoryStore) CreateClass(c models.ClassSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.classes[c.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetClass(id string) (*models.ClassSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.classes[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (s *InMemoryStore) ListUpcomingClasses(from, until time.Time, classType string) ([]models.ClassSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClassSession
	for _, c := range s.classes {
		if c.IsCancelled {
			continue
		}
		if c.ScheduledAt.Before(from) || c.ScheduledAt.After(until) {
			continue
		}
		if classType != "" && !strings.EqualFold(c.ClassType, classType) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *InMemoryStore) ListClassesBetween(from, until time.Time) ([]models.ClassSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ClassSession
	for _, c := range s.classes {
		if c.IsCancelled {
			continue
		}
		if c.ScheduledAt.Before(from) || !c.ScheduledAt.Before(until) {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *InMemoryStore) SetClassCancelled(id, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[id]
	if !ok {
		return nil
	}
	c.IsCancelled = true
	c.CancellationReason = reason
	c.UpdatedAt = time.Now()
	return nil
}

func (s *InMemoryStore) IncrementBooked(classID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[classID]
	if !ok || c.IsCancelled || c.BookedCount >= c.Capacity {
		return false, nil
	}
	c.BookedCount++
	c.UpdatedAt = time.Now()
	return true, nil
}

func (s *InMemoryStore) DecrementBooked(classID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classes[classID]; ok && c.BookedCount > 0 {
		c.BookedCount--
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) IncrementWaitlist(classID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classes[classID]; ok {
		c.WaitlistCount++
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) DecrementWaitlist(classID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classes[classID]; ok && c.WaitlistCount > 0 {
		c.WaitlistCount--
		c.UpdatedAt = time.Now()
	}
	return nil
}

func (s *InMemoryStore) CreateBooking(b models.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := b
	s.bookings[b.ID] = &cp
	return nil
}

func (s *InMemoryStore) GetBooking(id string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (s *InMemoryStore) FindActiveBooking(memberID, classID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, b := range s.bookings {
		if b.MemberID == memberID && b.ClassID == classID && b.Status.IsActive() {
			cp := *b
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *InMemoryStore) ListActiveBookingsByMember(memberID string) ([]models.MemberBooking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.MemberBooking
	for _, b := range s.bookings {
		if b.MemberID != memberID || !b.Status.IsActive() {
			continue
		}
		c, ok := s.classes[b.ClassID]
		if !ok {
			continue
		}
		out = append(out, models.MemberBooking{Booking: *b, Class: *c})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Class.ScheduledAt.Before(out[j].Class.ScheduledAt) })
	return out, nil
}

func (s *InMemoryStore) ListUpcomingBookingsByMember(memberID string, from time.Time) ([]models.MemberBooking, error) {
	all, err := s.ListActiveBookingsByMember(memberID)
	if err != nil {
		return nil, err
	}
	var out []models.MemberBooking
	for _, mb := range all {
		if !mb.Class.ScheduledAt.Before(from) {
			out = append(out, mb)
		}
	}
	return out, nil
}

func (s *InMemoryStore) CountActiveWaitlist(classID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, b := range s.bookings {
		if b.ClassID == classID && b.Status == models.StatusWaitlisted {
			n++
		}
	}
	return n, nil
}

func (s *InMemoryStore) FirstWaitlisted(classID string) (*models.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var first *models.Booking
	for _, b := range s.bookings {
		if b.ClassID != classID || b.Status != models.StatusWaitlisted || b.WaitlistPosition == nil {
			continue
		}
		if first == nil || *b.WaitlistPosition < *first.WaitlistPosition {
			first = b
		}
	}
	if first == nil {
		return nil, nil
	}
	cp := *first
	return &cp, nil
}

func (s *InMemoryStore) UpdateBookingStatus(id string, status models.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil
	}
	now := time.Now()
	b.Status = status
	switch status {
	case models.StatusCancelled:
		b.CancelledAt = &now
		b.WaitlistPosition = nil
	case models.StatusAttended, models.StatusNoShow:
		b.AttendedAt = &now
	}
	return nil
}

func (s *InMemoryStore) PromoteBooking(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.bookings[id]; ok {
		b.Status = models.StatusBooked
		b.WaitlistPosition = nil
	}
	return nil
}

func (s *InMemoryStore) CancelActiveBookingsForClass(classID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for _, b := range s.bookings {
		if b.ClassID == classID && b.Status.IsActive() {
			b.Status = models.StatusCancelled
			b.CancelledAt = &now
			b.WaitlistPosition = nil
		}
	}
	return nil
}

func (s *InMemoryStore) GetMemberByPhone(phone string) (*models.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[phone]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *InMemoryStore) CreateMember(m models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.members[m.Phone] = &cp
	return nil
}

func (s *InMemoryStore) SaveMember(m models.Member) error {
	return s.CreateMember(m)
}

func (s *InMemoryStore) GetConversationState(phone string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[phone]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *InMemoryStore) SaveConversationState(st models.ConversationState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := st
	if existing, ok := s.states[st.Phone]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.states[st.Phone] = &cp
	return nil
}

func (s *InMemoryStore) ClearConversationState(phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.states[phone]; ok {
		st.CurrentFlow = ""
		st.CurrentStep = ""
		st.Data = models.FlowData{}
		st.LastActivity = time.Now()
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
