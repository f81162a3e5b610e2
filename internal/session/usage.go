// ABOUTME: Model client wrapper that records token usage against the current run
// ABOUTME: Attributes each call to the graph node that made it

package session

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/2389/mentor-gateway/internal/graph"
	"github.com/2389/mentor-gateway/internal/llm"
	"github.com/2389/mentor-gateway/internal/store"
)

type runIDKey struct{}

// WithRunID tags ctx with the run whose model calls should be recorded.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey{}, runID)
}

// RunIDFromContext returns the run ID set by WithRunID, or "".
func RunIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// UsageSaver persists token usage records.
type UsageSaver interface {
	SaveUsage(ctx context.Context, usage *store.TokenUsage) error
}

// UsageRecorder is an llm.Provider that saves token counts for calls made
// inside a run.
type UsageRecorder struct {
	next   llm.Provider
	saver  UsageSaver
	logger *slog.Logger
}

// RecordUsage wraps next so successful chat calls inside a run are saved.
func RecordUsage(next llm.Provider, saver UsageSaver, logger *slog.Logger) *UsageRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &UsageRecorder{next: next, saver: saver, logger: logger.With("component", "usage")}
}

// Name returns the wrapped provider's name.
func (u *UsageRecorder) Name() string {
	return u.next.Name()
}

// Chat forwards to the wrapped provider and records usage. Failing to save
// usage never fails the call.
func (u *UsageRecorder) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := u.next.Chat(ctx, req)
	if err != nil {
		return nil, err
	}

	runID := RunIDFromContext(ctx)
	if runID == "" {
		return resp, nil
	}

	usage := &store.TokenUsage{
		ID:           uuid.New().String(),
		RunID:        runID,
		Node:         graph.NodeFromContext(ctx),
		Provider:     u.next.Name(),
		Model:        resp.Model,
		InputTokens:  resp.PromptTokens,
		OutputTokens: resp.CompletionTokens,
	}
	if err := u.saver.SaveUsage(context.WithoutCancel(ctx), usage); err != nil {
		u.logger.Warn("failed to save token usage", "run_id", runID, "node", usage.Node, "error", err)
	}
	return resp, nil
}
