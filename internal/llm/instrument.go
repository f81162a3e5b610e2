// ABOUTME: Prometheus instrumentation wrapper for model clients
// ABOUTME: Records request counts and latency per provider and operation

package llm

import (
	"context"
	"time"

	"github.com/2389/mentor-gateway/internal/metrics"
)

// InstrumentedClient records metrics around an underlying Client.
type InstrumentedClient struct {
	next Client
}

// Instrument wraps next with request metrics.
func Instrument(next Client) *InstrumentedClient {
	return &InstrumentedClient{next: next}
}

// Name returns the wrapped provider's name.
func (c *InstrumentedClient) Name() string {
	return c.next.Name()
}

// Chat calls the wrapped client and records the outcome.
func (c *InstrumentedClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	resp, err := c.next.Chat(ctx, req)
	c.observe("chat", start, err)
	return resp, err
}

// Transcribe calls the wrapped client and records the outcome.
func (c *InstrumentedClient) Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error) {
	start := time.Now()
	text, err := c.next.Transcribe(ctx, req)
	c.observe("transcribe", start, err)
	return text, err
}

func (c *InstrumentedClient) observe(op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.ModelRequests.WithLabelValues(c.next.Name(), op, result).Inc()
	metrics.ModelLatency.WithLabelValues(c.next.Name(), op).Observe(time.Since(start).Seconds())
}
