// ABOUTME: Store interface and data types for mentor-gateway persistence
// ABOUTME: Defines Run, RunEvent, MemoryEntry, Feedback, and TokenUsage records

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateRun is returned when creating a run whose ID already exists
var ErrDuplicateRun = errors.New("run already exists")

// RunStatus tracks a run's lifecycle
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one pass of a submission through the tutoring pipeline
type Run struct {
	ID        string    `json:"id"`
	Student   string    `json:"student"`
	InputType string    `json:"input_type"`
	RawInput  string    `json:"raw_input"`
	Status    RunStatus `json:"status"`
	Outcome   string    `json:"outcome,omitempty"`
	// State is the final pipeline state as JSON
	State      json.RawMessage `json:"state,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// RunEvent records one finished pipeline node
type RunEvent struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Seq       int       `json:"seq"`
	Node      string    `json:"node"`
	Message   string    `json:"message,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryEntry is a solution a student confirmed as accurate
type MemoryEntry struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	Problem   string    `json:"problem"`
	Solution  string    `json:"solution"`
	Verified  bool      `json:"verified"`
	CreatedAt time.Time `json:"created_at"`
}

// Feedback is a student's verdict on a run
type Feedback struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Student   string    `json:"student"`
	Accurate  bool      `json:"accurate"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// TokenUsage records model token consumption for one call in a run
type TokenUsage struct {
	ID           string    `json:"id"`
	RunID        string    `json:"run_id"`
	Node         string    `json:"node"`
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// UsageStats aggregates token usage
type UsageStats struct {
	TotalInput   int64 `json:"total_input"`
	TotalOutput  int64 `json:"total_output"`
	RequestCount int64 `json:"request_count"`
}

// RunFilter narrows ListRuns
type RunFilter struct {
	Student string
	Status  RunStatus
	Limit   int
}

// Store defines the interface for run, memory, and feedback persistence
type Store interface {
	// Runs
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)

	// Run events (one per finished node)
	SaveRunEvent(ctx context.Context, event *RunEvent) error
	GetRunEvents(ctx context.Context, runID string) ([]*RunEvent, error)

	// Problem memory
	SaveMemory(ctx context.Context, entry *MemoryEntry) error
	ListMemory(ctx context.Context, limit int) ([]*MemoryEntry, error)

	// Feedback
	SaveFeedback(ctx context.Context, fb *Feedback) error
	ListFeedback(ctx context.Context, runID string) ([]*Feedback, error)

	// Token usage
	SaveUsage(ctx context.Context, usage *TokenUsage) error
	GetRunUsage(ctx context.Context, runID string) ([]*TokenUsage, error)
	GetUsageStats(ctx context.Context, since *time.Time) (*UsageStats, error)

	// Close releases any resources held by the store
	Close() error
}
