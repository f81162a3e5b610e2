// ABOUTME: Tests for the token usage recording provider
// ABOUTME: Checks attribution to run and node and that calls outside runs are not recorded

package session

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/mentor-gateway/internal/graph"
	"github.com/2389/mentor-gateway/internal/llm"
	"github.com/2389/mentor-gateway/internal/store"
)

type countingProvider struct {
	err error
}

func (p *countingProvider) Name() string { return "openai" }

func (p *countingProvider) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if p.err != nil {
		return nil, p.err
	}
	return &llm.ChatResponse{Content: "ok", Model: "gpt-4o", PromptTokens: 120, CompletionTokens: 30}, nil
}

type usageState struct{}

func TestUsageRecorder_RecordsWithinRun(t *testing.T) {
	ms := store.NewMockStore()
	rec := RecordUsage(&countingProvider{}, ms, nil)
	assert.Equal(t, "openai", rec.Name())

	// Drive the call through a graph so the node name is on the context.
	r, err := graph.New[usageState]().
		AddNode("solver", func(ctx context.Context, _ usageState) (graph.Update[usageState], error) {
			_, err := rec.Chat(ctx, &llm.ChatRequest{})
			return nil, err
		}).
		AddEdge("solver", graph.End).
		SetEntryPoint("solver").
		Compile()
	require.NoError(t, err)

	_, err = r.Invoke(WithRunID(context.Background(), "run-1"), usageState{})
	require.NoError(t, err)

	usage, err := ms.GetRunUsage(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, usage, 1)
	assert.Equal(t, "solver", usage[0].Node)
	assert.Equal(t, "openai", usage[0].Provider)
	assert.Equal(t, "gpt-4o", usage[0].Model)
	assert.Equal(t, 120, usage[0].InputTokens)
	assert.Equal(t, 30, usage[0].OutputTokens)
}

func TestUsageRecorder_SkipsOutsideRunAndOnError(t *testing.T) {
	ms := store.NewMockStore()

	_, err := RecordUsage(&countingProvider{}, ms, nil).Chat(context.Background(), &llm.ChatRequest{})
	require.NoError(t, err)

	failing := RecordUsage(&countingProvider{err: errors.New("boom")}, ms, nil)
	_, err = failing.Chat(WithRunID(context.Background(), "run-2"), &llm.ChatRequest{})
	assert.Error(t, err)

	stats, err := ms.GetUsageStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.RequestCount)
}
