// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu       sync.RWMutex
	runs     map[string]*Run          // keyed by run ID
	events   map[string][]*RunEvent   // keyed by run ID
	memory   []*MemoryEntry           // insertion order
	feedback map[string][]*Feedback   // keyed by run ID
	usage    map[string][]*TokenUsage // keyed by run ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		runs:     make(map[string]*Run),
		events:   make(map[string][]*RunEvent),
		feedback: make(map[string][]*Feedback),
		usage:    make(map[string][]*TokenUsage),
	}
}

// CreateRun stores a new run.
func (m *MockStore) CreateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[run.ID]; ok {
		return ErrDuplicateRun
	}
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}

	// Make a copy to avoid external modification
	r := copyRun(run)
	m.runs[r.ID] = r
	return nil
}

// GetRun retrieves a run by ID.
func (m *MockStore) GetRun(ctx context.Context, id string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyRun(r), nil
}

// UpdateRun replaces the mutable fields of a run.
func (m *MockStore) UpdateRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.runs[run.ID]
	if !ok {
		return ErrNotFound
	}
	updated := copyRun(existing)
	updated.Status = run.Status
	updated.Outcome = run.Outcome
	updated.State = append([]byte(nil), run.State...)
	updated.Error = run.Error
	if run.FinishedAt != nil {
		t := *run.FinishedAt
		updated.FinishedAt = &t
	} else {
		updated.FinishedAt = nil
	}
	m.runs[run.ID] = updated
	return nil
}

// ListRuns returns runs newest first.
func (m *MockStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Run
	for _, r := range m.runs {
		if filter.Student != "" && r.Student != filter.Student {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		out = append(out, copyRun(r))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveRunEvent appends an event to a run.
func (m *MockStore) SaveRunEvent(ctx context.Context, event *RunEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[event.RunID]; !ok {
		return ErrNotFound
	}
	e := *event
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.events[e.RunID] = append(m.events[e.RunID], &e)
	return nil
}

// GetRunEvents returns a run's events ordered by sequence.
func (m *MockStore) GetRunEvents(ctx context.Context, runID string) ([]*RunEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*RunEvent, 0, len(m.events[runID]))
	for _, e := range m.events[runID] {
		c := *e
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

// SaveMemory stores a confirmed solution.
func (m *MockStore) SaveMemory(ctx context.Context, entry *MemoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := *entry
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.memory = append(m.memory, &e)
	return nil
}

// ListMemory returns memory entries in insertion order.
func (m *MockStore) ListMemory(ctx context.Context, limit int) ([]*MemoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.memory)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]*MemoryEntry, 0, n)
	for _, e := range m.memory[:n] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

// SaveFeedback stores feedback for an existing run.
func (m *MockStore) SaveFeedback(ctx context.Context, fb *Feedback) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.runs[fb.RunID]; !ok {
		return ErrNotFound
	}
	f := *fb
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	m.feedback[f.RunID] = append(m.feedback[f.RunID], &f)
	return nil
}

// ListFeedback returns feedback for a run.
func (m *MockStore) ListFeedback(ctx context.Context, runID string) ([]*Feedback, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Feedback, 0, len(m.feedback[runID]))
	for _, f := range m.feedback[runID] {
		c := *f
		out = append(out, &c)
	}
	return out, nil
}

// SaveUsage stores a token usage record.
func (m *MockStore) SaveUsage(ctx context.Context, usage *TokenUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u := *usage
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	m.usage[u.RunID] = append(m.usage[u.RunID], &u)
	return nil
}

// GetRunUsage returns usage records for a run.
func (m *MockStore) GetRunUsage(ctx context.Context, runID string) ([]*TokenUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*TokenUsage, 0, len(m.usage[runID]))
	for _, u := range m.usage[runID] {
		c := *u
		out = append(out, &c)
	}
	return out, nil
}

// GetUsageStats aggregates all usage records at or after since.
func (m *MockStore) GetUsageStats(ctx context.Context, since *time.Time) (*UsageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var stats UsageStats
	for _, records := range m.usage {
		for _, u := range records {
			if since != nil && u.CreatedAt.Before(*since) {
				continue
			}
			stats.TotalInput += int64(u.InputTokens)
			stats.TotalOutput += int64(u.OutputTokens)
			stats.RequestCount++
		}
	}
	return &stats, nil
}

// Close is a no-op for MockStore.
func (m *MockStore) Close() error {
	return nil
}

func copyRun(r *Run) *Run {
	c := *r
	c.State = append([]byte(nil), r.State...)
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		c.FinishedAt = &t
	}
	return &c
}

// Ensure implementations satisfy the Store interface.
var (
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MockStore)(nil)
)
