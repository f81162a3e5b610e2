// ABOUTME: Retry wrapper for embedders using Fibonacci backoff
// ABOUTME: Shares the transient-error classification of the llm package

package embedding

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/2389/mentor-gateway/internal/llm"
)

type retryingEmbedder struct {
	next       Embedder
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
}

// WithRetry wraps next so transient failures are retried.
func WithRetry(next Embedder, maxRetries int, backoff time.Duration, logger *slog.Logger) Embedder {
	if backoff <= 0 {
		backoff = time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingEmbedder{next: next, maxRetries: uint64(maxRetries), backoff: backoff, logger: logger}
}

func (r *retryingEmbedder) Name() string {
	return r.next.Name()
}

func (r *retryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	b := retry.WithMaxRetries(r.maxRetries, retry.NewFibonacci(r.backoff))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		var err error
		vectors, err = r.next.Embed(ctx, texts)
		if err != nil && llm.IsRetryable(err) {
			r.logger.Warn("embedding failed, retrying", "engine", r.next.Name(), "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}
