// ABOUTME: Retry wrapper for model clients using Fibonacci backoff
// ABOUTME: Retries rate limits, server errors, and transport failures only

package llm

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryingClient retries transient failures of an underlying Client.
type RetryingClient struct {
	next       Client
	maxRetries uint64
	backoff    time.Duration
	logger     *slog.Logger
}

// WithRetry wraps next so transient failures are retried up to maxRetries
// times with Fibonacci backoff starting at backoff.
func WithRetry(next Client, maxRetries int, backoff time.Duration, logger *slog.Logger) *RetryingClient {
	if backoff <= 0 {
		backoff = time.Second
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetryingClient{
		next:       next,
		maxRetries: uint64(maxRetries),
		backoff:    backoff,
		logger:     logger,
	}
}

// Name returns the wrapped provider's name.
func (c *RetryingClient) Name() string {
	return c.next.Name()
}

// Chat calls the wrapped client, retrying transient errors.
func (c *RetryingClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	var resp *ChatResponse
	err := c.do(ctx, "chat", func(ctx context.Context) error {
		var err error
		resp, err = c.next.Chat(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Transcribe calls the wrapped client, retrying transient errors.
func (c *RetryingClient) Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error) {
	var text string
	err := c.do(ctx, "transcribe", func(ctx context.Context) error {
		var err error
		text, err = c.next.Transcribe(ctx, req)
		return err
	})
	return text, err
}

func (c *RetryingClient) do(ctx context.Context, op string, fn func(context.Context) error) error {
	attempt := 0
	b := retry.WithMaxRetries(c.maxRetries, retry.NewFibonacci(c.backoff))
	return retry.Do(ctx, b, func(ctx context.Context) error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if IsRetryable(err) {
			c.logger.Warn("model call failed, retrying",
				"provider", c.next.Name(),
				"operation", op,
				"attempt", attempt,
				"error", err,
			)
			return retry.RetryableError(err)
		}
		return err
	})
}
