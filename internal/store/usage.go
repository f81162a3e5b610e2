// ABOUTME: SQLite implementation for token usage tracking
// ABOUTME: Stores and retrieves per-run model token consumption for analytics

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveUsage stores a token usage record.
func (s *SQLiteStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	if usage.CreatedAt.IsZero() {
		usage.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO token_usage (id, run_id, node, provider, model, input_tokens, output_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		usage.ID,
		usage.RunID,
		usage.Node,
		usage.Provider,
		usage.Model,
		usage.InputTokens,
		usage.OutputTokens,
		formatTime(usage.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting usage: %w", err)
	}

	s.logger.Debug("saved token usage",
		"run_id", usage.RunID,
		"node", usage.Node,
		"input_tokens", usage.InputTokens,
		"output_tokens", usage.OutputTokens,
	)
	return nil
}

// GetRunUsage retrieves all usage records for a run.
func (s *SQLiteStore) GetRunUsage(ctx context.Context, runID string) ([]*TokenUsage, error) {
	query := `
		SELECT id, run_id, node, provider, model, input_tokens, output_tokens, created_at
		FROM token_usage
		WHERE run_id = ?
		ORDER BY created_at ASC
	`

	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("querying run usage: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var usages []*TokenUsage
	for rows.Next() {
		usage, err := scanUsage(rows)
		if err != nil {
			return nil, err
		}
		usages = append(usages, usage)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating usage rows: %w", err)
	}

	return usages, nil
}

// GetUsageStats returns aggregated usage, optionally only records at or after since.
func (s *SQLiteStore) GetUsageStats(ctx context.Context, since *time.Time) (*UsageStats, error) {
	query := `
		SELECT
			COALESCE(SUM(input_tokens), 0) as total_input,
			COALESCE(SUM(output_tokens), 0) as total_output,
			COUNT(*) as request_count
		FROM token_usage
		WHERE 1=1
	`
	args := []any{}

	if since != nil {
		query += " AND created_at >= ?"
		args = append(args, formatTime(*since))
	}

	var stats UsageStats
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.TotalInput,
		&stats.TotalOutput,
		&stats.RequestCount,
	)
	if err != nil {
		return nil, fmt.Errorf("querying usage stats: %w", err)
	}

	return &stats, nil
}

// scanUsage scans a single usage row into a TokenUsage struct.
func scanUsage(rows *sql.Rows) (*TokenUsage, error) {
	var usage TokenUsage
	var createdAtStr string

	err := rows.Scan(
		&usage.ID,
		&usage.RunID,
		&usage.Node,
		&usage.Provider,
		&usage.Model,
		&usage.InputTokens,
		&usage.OutputTokens,
		&createdAtStr,
	)
	if err != nil {
		return nil, fmt.Errorf("scanning usage row: %w", err)
	}

	usage.CreatedAt, err = parseTime("created_at", createdAtStr)
	if err != nil {
		return nil, err
	}

	return &usage, nil
}
