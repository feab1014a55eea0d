package store

import (
	"context"
	"fmt"
	"time"

	"github.com/riskinsure/fileretrieval/internal/domain"
	"github.com/riskinsure/fileretrieval/internal/ledger"
)

var _ ledger.Ledger = (*Store)(nil)

func (s *Store) Exists(ctx context.Context, configurationID, dedupKey string) (bool, error) {
	var n int
	err := s.queryRow(ctx,
		`SELECT COUNT(*) FROM discovered_files WHERE configuration_id = ? AND dedup_key = ?`,
		configurationID, dedupKey,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking ledger: %w", err)
	}
	return n > 0, nil
}

// Insert records a discovered file. The unique index on
// (configuration_id, dedup_key) turns a concurrent duplicate into
// ledger.ErrDuplicate.
func (s *Store) Insert(ctx context.Context, f domain.DiscoveredFile) error {
	_, err := s.exec(ctx,
		`INSERT INTO discovered_files (configuration_id, dedup_key, file_uri, size, last_modified, discovered_at, execution_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ConfigurationID, f.DedupKey, f.FileURI, f.Size, f.LastModified.UTC(), f.DiscoveredAt.UTC(), f.ExecutionID,
	)
	if err != nil {
		if s.dialect.isUnique(err) {
			return ledger.ErrDuplicate
		}
		return fmt.Errorf("inserting ledger entry: %w", err)
	}
	return nil
}

func (s *Store) CountByExecution(ctx context.Context, executionID string) (int, error) {
	var n int
	err := s.queryRow(ctx, `SELECT COUNT(*) FROM discovered_files WHERE execution_id = ?`, executionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting ledger entries: %w", err)
	}
	return n, nil
}

// Prune deletes ledger entries discovered before the cutoff. A pruned file
// that is still on the remote will be announced again.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM discovered_files WHERE discovered_at < ?`, before.UTC())
	if err != nil {
		return 0, fmt.Errorf("pruning ledger: %w", err)
	}
	return res.RowsAffected()
}

// LedgerFilter narrows ListDiscovered. Zero values match everything.
type LedgerFilter struct {
	ConfigurationID string
	ExecutionID     string
	Since           time.Time
	Limit           int
}

// ListDiscovered returns ledger entries, newest first.
func (s *Store) ListDiscovered(ctx context.Context, f LedgerFilter) ([]domain.DiscoveredFile, error) {
	q := `SELECT configuration_id, dedup_key, file_uri, size, last_modified, discovered_at, execution_id
	      FROM discovered_files WHERE 1 = 1`
	var args []any
	if f.ConfigurationID != "" {
		q += ` AND configuration_id = ?`
		args = append(args, f.ConfigurationID)
	}
	if f.ExecutionID != "" {
		q += ` AND execution_id = ?`
		args = append(args, f.ExecutionID)
	}
	if !f.Since.IsZero() {
		q += ` AND discovered_at >= ?`
		args = append(args, f.Since.UTC())
	}
	q = s.dialect.limit(q+` ORDER BY discovered_at DESC`, f.Limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing ledger: %w", err)
	}
	defer rows.Close()

	var out []domain.DiscoveredFile
	for rows.Next() {
		var d domain.DiscoveredFile
		if err := rows.Scan(&d.ConfigurationID, &d.DedupKey, &d.FileURI, &d.Size, &d.LastModified, &d.DiscoveredAt, &d.ExecutionID); err != nil {
			return nil, fmt.Errorf("scanning ledger entry: %w", err)
		}
		d.LastModified = d.LastModified.UTC()
		d.DiscoveredAt = d.DiscoveredAt.UTC()
		out = append(out, d)
	}
	return out, rows.Err()
}
