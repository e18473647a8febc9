// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import "time"

// DedupRecord represents an inbound message deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	Phone       string     `json:"phone"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound message deduplication.
// Chat transports may redeliver a message; recording the transport message ID
// lets the processing loop drop the second delivery.
type DedupRepo interface {
	// RecordInbound inserts a new inbound message record. Returns false if
	// the message was already recorded (duplicate).
	RecordInbound(messageID, phone string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for a message.
	MarkProcessed(messageID string) error
}

// Compile-time check that InMemoryStore implements DedupRepo.
var _ DedupRepo = (*InMemoryStore)(nil)

func (s *InMemoryStore) RecordInbound(messageID, phone string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.dedup[messageID]; ok {
		return false, nil
	}
	s.dedup[messageID] = &DedupRecord{MessageID: messageID, Phone: phone, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.dedup[messageID]; ok {
		now := time.Now()
		rec.ProcessedAt = &now
	}
	return nil
}
