// ABOUTME: SQLite persistence for confirmed solutions and student feedback
// ABOUTME: Also converts memory to and from the legacy JSON list format

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// SaveMemory stores a confirmed problem and solution.
func (s *SQLiteStore) SaveMemory(ctx context.Context, entry *MemoryEntry) error {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO memory (id, run_id, problem, solution, verified, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		nullString(entry.RunID),
		entry.Problem,
		entry.Solution,
		boolInt(entry.Verified),
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting memory entry: %w", err)
	}

	s.logger.Debug("saved memory entry", "id", entry.ID, "run_id", entry.RunID)
	return nil
}

// ListMemory returns memory entries oldest first.
// If limit is 0 or negative, all entries are returned.
func (s *SQLiteStore) ListMemory(ctx context.Context, limit int) ([]*MemoryEntry, error) {
	query := `
		SELECT id, run_id, problem, solution, verified, created_at
		FROM memory
		ORDER BY created_at ASC, id ASC
	`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying memory: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []*MemoryEntry
	for rows.Next() {
		var e MemoryEntry
		var runID sql.NullString
		var verified int
		var createdAt string

		if err := rows.Scan(&e.ID, &runID, &e.Problem, &e.Solution, &verified, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning memory row: %w", err)
		}
		e.RunID = runID.String
		e.Verified = verified != 0
		if e.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating memory rows: %w", err)
	}

	return entries, nil
}

// SaveFeedback stores a student's verdict on a run.
// Returns ErrNotFound if the run doesn't exist.
func (s *SQLiteStore) SaveFeedback(ctx context.Context, fb *Feedback) error {
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	var exists int
	err := s.db.QueryRowContext(ctx, `SELECT 1 FROM runs WHERE id = ?`, fb.RunID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking run: %w", err)
	}

	query := `
		INSERT INTO feedback (id, run_id, student, accurate, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		fb.ID,
		fb.RunID,
		fb.Student,
		boolInt(fb.Accurate),
		nullString(fb.Comment),
		formatTime(fb.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting feedback: %w", err)
	}

	s.logger.Debug("saved feedback", "run_id", fb.RunID, "accurate", fb.Accurate)
	return nil
}

// ListFeedback returns feedback for a run, oldest first.
func (s *SQLiteStore) ListFeedback(ctx context.Context, runID string) ([]*Feedback, error) {
	query := `
		SELECT id, run_id, student, accurate, comment, created_at
		FROM feedback
		WHERE run_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying feedback: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Feedback
	for rows.Next() {
		var fb Feedback
		var accurate int
		var comment sql.NullString
		var createdAt string

		if err := rows.Scan(&fb.ID, &fb.RunID, &fb.Student, &accurate, &comment, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning feedback row: %w", err)
		}
		fb.Accurate = accurate != 0
		fb.Comment = comment.String
		if fb.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		out = append(out, &fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating feedback rows: %w", err)
	}

	return out, nil
}

// LegacyEntry is one element of the flat JSON memory file:
// [{"problem": ..., "solution": ..., "verified": true}, ...]
type LegacyEntry struct {
	Problem  string `json:"problem"`
	Solution string `json:"solution"`
	Verified bool   `json:"verified"`
}

// WriteLegacyJSON writes entries as an indented legacy JSON list.
func WriteLegacyJSON(w io.Writer, entries []*MemoryEntry) error {
	out := make([]LegacyEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, LegacyEntry{Problem: e.Problem, Solution: e.Solution, Verified: e.Verified})
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("encoding memory: %w", err)
	}
	return nil
}

// ReadLegacyJSON parses a legacy JSON memory list. Entries missing a
// problem or solution are skipped.
func ReadLegacyJSON(r io.Reader) ([]LegacyEntry, error) {
	var raw []LegacyEntry
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decoding memory: %w", err)
	}
	out := raw[:0]
	for _, e := range raw {
		if e.Problem == "" || e.Solution == "" {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
