package store

import (
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements DedupRepo.
var _ DedupRepo = (*SQLiteStore)(nil)

// RecordInbound inserts the message ID if it has not been seen. The INSERT OR
// IGNORE plus the rows-affected check keeps first-delivery detection atomic
// when a transport redelivers concurrently.
func (s *SQLiteStore) RecordInbound(messageID, phone string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT OR IGNORE INTO inbound_dedup (message_id, phone, received_at) VALUES (?, ?, ?)`,
		messageID, phone, time.Now(),
	)
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = ? WHERE message_id = ?`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
