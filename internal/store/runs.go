// ABOUTME: SQLite persistence for pipeline runs and their per-node events
// ABOUTME: Runs are created as running and finished with an outcome and final state

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// CreateRun inserts a new run.
// Returns ErrDuplicateRun if the ID is taken.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO runs (id, student, input_type, raw_input, status, outcome, state_json, error, created_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Student,
		run.InputType,
		run.RawInput,
		string(run.Status),
		nullString(run.Outcome),
		nullString(string(run.State)),
		nullString(run.Error),
		formatTime(run.CreatedAt),
		nullTime(run.FinishedAt),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateRun
		}
		return fmt.Errorf("inserting run: %w", err)
	}

	s.logger.Debug("created run", "id", run.ID, "student", run.Student, "input_type", run.InputType)
	return nil
}

// GetRun retrieves a run by ID.
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, student, input_type, raw_input, status, outcome, state_json, error, created_at, finished_at
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// UpdateRun writes the mutable fields of a run: status, outcome, state, error, finished_at.
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore) UpdateRun(ctx context.Context, run *Run) error {
	query := `
		UPDATE runs
		SET status = ?, outcome = ?, state_json = ?, error = ?, finished_at = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(run.Status),
		nullString(run.Outcome),
		nullString(string(run.State)),
		nullString(run.Error),
		nullTime(run.FinishedAt),
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("updating run: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated run", "id", run.ID, "status", run.Status, "outcome", run.Outcome)
	return nil
}

// ListRuns returns runs newest first.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	query := `
		SELECT id, student, input_type, raw_input, status, outcome, state_json, error, created_at, finished_at
		FROM runs
		WHERE 1=1
	`
	var args []any
	if filter.Student != "" {
		query += " AND student = ?"
		args = append(args, filter.Student)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run rows: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var status, createdAt string
	var outcome, state, errMsg, finishedAt sql.NullString

	err := row.Scan(
		&run.ID,
		&run.Student,
		&run.InputType,
		&run.RawInput,
		&status,
		&outcome,
		&state,
		&errMsg,
		&createdAt,
		&finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}

	run.Status = RunStatus(status)
	run.Outcome = outcome.String
	if state.Valid && state.String != "" {
		run.State = []byte(state.String)
	}
	run.Error = errMsg.String

	if run.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	if finishedAt.Valid {
		t, err := parseTime("finished_at", finishedAt.String)
		if err != nil {
			return nil, err
		}
		run.FinishedAt = &t
	}
	return &run, nil
}

// SaveRunEvent appends a node event to a run.
func (s *SQLiteStore) SaveRunEvent(ctx context.Context, event *RunEvent) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO run_events (id, run_id, seq, node, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.RunID,
		event.Seq,
		event.Node,
		nullString(event.Message),
		formatTime(event.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting run event: %w", err)
	}

	s.logger.Debug("saved run event", "run_id", event.RunID, "seq", event.Seq, "node", event.Node)
	return nil
}

// GetRunEvents returns a run's events in execution order.
func (s *SQLiteStore) GetRunEvents(ctx context.Context, runID string) ([]*RunEvent, error) {
	query := `
		SELECT id, run_id, seq, node, message, created_at
		FROM run_events
		WHERE run_id = ?
		ORDER BY seq ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*RunEvent
	for rows.Next() {
		var ev RunEvent
		var message sql.NullString
		var createdAt string

		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.Seq, &ev.Node, &message, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning run event row: %w", err)
		}
		ev.Message = message.String
		if ev.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating run event rows: %w", err)
	}

	return events, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}
