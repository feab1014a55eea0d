package store

import (
	"context"
	"fmt"
	"time"
)

// Seen reports whether a notification with this idempotency key was delivered.
func (s *Store) Seen(ctx context.Context, key string) (bool, error) {
	var n int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM notification_receipts WHERE idempotency_key = ?`, key).Scan(&n); err != nil {
		return false, fmt.Errorf("checking receipt: %w", err)
	}
	return n > 0, nil
}

// Record stores a delivery receipt. Recording the same key twice is not an error.
func (s *Store) Record(ctx context.Context, key string) error {
	_, err := s.exec(ctx, `INSERT INTO notification_receipts (idempotency_key, recorded_at) VALUES (?, ?)`, key, time.Now().UTC())
	if err != nil && !s.dialect.isUnique(err) {
		return fmt.Errorf("recording receipt: %w", err)
	}
	return nil
}

// PruneReceipts deletes receipts recorded before the cutoff.
func (s *Store) PruneReceipts(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM notification_receipts WHERE recorded_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning receipts: %w", err)
	}
	return res.RowsAffected()
}
