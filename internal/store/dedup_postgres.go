package store

import (
	"fmt"
	"time"
)

// Compile-time check that PostgresStore implements DedupRepo.
var _ DedupRepo = (*PostgresStore)(nil)

// RecordInbound inserts the message ID if it has not been seen. ON CONFLICT
// DO NOTHING plus the rows-affected check keeps first-delivery detection
// atomic when a transport redelivers concurrently.
func (s *PostgresStore) RecordInbound(messageID, phone string) (bool, error) {
	res, err := s.db.Exec(
		`INSERT INTO inbound_dedup (message_id, phone, received_at) VALUES ($1, $2, $3)
		ON CONFLICT (message_id) DO NOTHING`,
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

func (s *PostgresStore) MarkProcessed(messageID string) error {
	_, err := s.db.Exec(
		`UPDATE inbound_dedup SET processed_at = $1 WHERE message_id = $2`,
		time.Now(), messageID,
	)
	if err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
