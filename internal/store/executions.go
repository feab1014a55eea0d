package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/riskinsure/fileretrieval/internal/domain"
)

const executionColumns = `id, client_id, configuration_id, scheduled_time, started_at, completed_at, status,
	discovered_count, dispatched_count, failure_reason, is_manual_trigger, triggered_by`

// Create inserts a new execution.
func (s *Store) Create(ctx context.Context, e domain.Execution) error {
	_, err := s.exec(ctx,
		`INSERT INTO executions (`+executionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ClientID, e.ConfigurationID, e.ScheduledTime.UTC(), e.StartedAt.UTC(), nullTime(e.CompletedAt),
		string(e.Status), e.DiscoveredCount, e.DispatchedCount, e.FailureReason, e.IsManualTrigger, e.TriggeredBy,
	)
	if err != nil {
		return fmt.Errorf("creating execution %s: %w", e.ID, err)
	}
	return nil
}

// Update overwrites the mutable fields of a running execution. Executions in
// a terminal status are never modified again.
func (s *Store) Update(ctx context.Context, e domain.Execution) error {
	res, err := s.exec(ctx,
		`UPDATE executions
		 SET completed_at = ?, status = ?, discovered_count = ?, dispatched_count = ?, failure_reason = ?
		 WHERE id = ? AND status = ?`,
		nullTime(e.CompletedAt), string(e.Status), e.DiscoveredCount, e.DispatchedCount, e.FailureReason,
		e.ID, string(domain.ExecutionStatusRunning),
	)
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", e.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating execution %s: %w", e.ID, err)
	}
	if n > 0 {
		return nil
	}
	if _, err := s.Get(ctx, e.ID); err != nil {
		return err
	}
	return fmt.Errorf("execution %s: %w", e.ID, ErrTerminal)
}

// Get returns one execution or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (domain.Execution, error) {
	row := s.queryRow(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Execution{}, fmt.Errorf("execution %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return domain.Execution{}, fmt.Errorf("loading execution %s: %w", id, err)
	}
	return e, nil
}

// ExecutionFilter narrows List. Zero values match everything.
type ExecutionFilter struct {
	ClientID        string
	ConfigurationID string
	Status          domain.ExecutionStatus
	Since           time.Time
	Limit           int
}

// List returns executions, most recently started first.
func (s *Store) List(ctx context.Context, f ExecutionFilter) ([]domain.Execution, error) {
	q := `SELECT ` + executionColumns + ` FROM executions WHERE 1 = 1`
	var args []any
	if f.ClientID != "" {
		q += ` AND client_id = ?`
		args = append(args, f.ClientID)
	}
	if f.ConfigurationID != "" {
		q += ` AND configuration_id = ?`
		args = append(args, f.ConfigurationID)
	}
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if !f.Since.IsZero() {
		q += ` AND started_at >= ?`
		args = append(args, f.Since.UTC())
	}
	q = s.dialect.limit(q+` ORDER BY started_at DESC`, f.Limit)

	rows, err := s.query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	defer rows.Close()

	var out []domain.Execution
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AbandonStale fails executions still Running that started before olderThan.
// They belong to processes that died or to transient failures the bus never
// redelivered.
func (s *Store) AbandonStale(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.exec(ctx,
		`UPDATE executions SET status = ?, failure_reason = ?, completed_at = ?
		 WHERE status = ? AND started_at < ?`,
		string(domain.ExecutionStatusFailed), "abandoned", time.Now().UTC(),
		string(domain.ExecutionStatusRunning), olderThan.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("abandoning stale executions: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExecution(sc scanner) (domain.Execution, error) {
	var (
		e         domain.Execution
		status    string
		completed sql.NullTime
	)
	err := sc.Scan(&e.ID, &e.ClientID, &e.ConfigurationID, &e.ScheduledTime, &e.StartedAt, &completed, &status,
		&e.DiscoveredCount, &e.DispatchedCount, &e.FailureReason, &e.IsManualTrigger, &e.TriggeredBy)
	if err != nil {
		return domain.Execution{}, err
	}
	e.Status = domain.ExecutionStatus(status)
	e.ScheduledTime = e.ScheduledTime.UTC()
	e.StartedAt = e.StartedAt.UTC()
	if completed.Valid {
		t := completed.Time.UTC()
		e.CompletedAt = &t
	}
	return e, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
