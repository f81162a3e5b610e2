// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Opens the database, creates the schema, and applies column migrations

package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// connectionPragmas run on every new pooled connection. Setting them with
// db.Exec would reach only whichever connection ran the statement.
var connectionPragmas = []string{
	"journal_mode(WAL)",
	"foreign_keys(1)",
	"busy_timeout(5000)",
}

// dataSourceName builds the modernc DSN for path with connectionPragmas.
func dataSourceName(path string) string {
	params := make([]string, len(connectionPragmas))
	for i, p := range connectionPragmas {
		params[i] = "_pragma=" + p
	}
	return "file:" + path + "?" + strings.Join(params, "&")
}

// DB exposes the underlying handle so the knowledge base can share the file.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id          TEXT PRIMARY KEY,
			student     TEXT NOT NULL DEFAULT '',
			input_type  TEXT NOT NULL,
			raw_input   TEXT NOT NULL,
			status      TEXT NOT NULL,
			outcome     TEXT,
			state_json  TEXT,
			error       TEXT,
			created_at  TEXT NOT NULL,
			finished_at TEXT,

			CHECK (status IN ('running', 'completed', 'failed'))
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at DESC);

		CREATE TABLE IF NOT EXISTS run_events (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq        INTEGER NOT NULL,
			node       TEXT NOT NULL,
			message    TEXT,
			created_at TEXT NOT NULL,

			UNIQUE(run_id, seq)
		);

		CREATE INDEX IF NOT EXISTS idx_run_events_run ON run_events(run_id, seq);

		CREATE TABLE IF NOT EXISTS memory (
			id         TEXT PRIMARY KEY,
			run_id     TEXT,
			problem    TEXT NOT NULL,
			solution   TEXT NOT NULL,
			verified   INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_memory_created ON memory(created_at);

		CREATE TABLE IF NOT EXISTS feedback (
			id         TEXT PRIMARY KEY,
			run_id     TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			student    TEXT NOT NULL DEFAULT '',
			accurate   INTEGER NOT NULL,
			comment    TEXT,
			created_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_feedback_run ON feedback(run_id);

		CREATE TABLE IF NOT EXISTS token_usage (
			id            TEXT PRIMARY KEY,
			run_id        TEXT NOT NULL,
			node          TEXT NOT NULL DEFAULT '',
			provider      TEXT NOT NULL,
			model         TEXT NOT NULL DEFAULT '',
			input_tokens  INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_token_usage_run ON token_usage(run_id);
		CREATE INDEX IF NOT EXISTS idx_token_usage_created ON token_usage(created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies schema migrations for existing databases.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "runs",
			column: "student",
			apply:  `ALTER TABLE runs ADD COLUMN student TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "token_usage",
			column: "model",
			apply:  `ALTER TABLE token_usage ADD COLUMN model TEXT NOT NULL DEFAULT ''`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_runs_student ON runs(student, created_at DESC)`); err != nil {
		return fmt.Errorf("creating student index: %w", err)
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// nullString returns nil for empty strings, otherwise the string
func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(field, s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
