// ABOUTME: Tests for the retry wrapper and structured output helpers
// ABOUTME: Uses a scripted fake client to count attempts

package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	errs       []error
	content    string
	calls      int
	lastReq    *ChatRequest
	transcript string
}

func (c *scriptedClient) Name() string { return "scripted" }

func (c *scriptedClient) next() error {
	c.calls++
	if len(c.errs) == 0 {
		return nil
	}
	err := c.errs[0]
	c.errs = c.errs[1:]
	return err
}

func (c *scriptedClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	c.lastReq = req
	if err := c.next(); err != nil {
		return nil, err
	}
	return &ChatResponse{Content: c.content}, nil
}

func (c *scriptedClient) Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error) {
	if err := c.next(); err != nil {
		return "", err
	}
	return c.transcript, nil
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	fake := &scriptedClient{
		errs:    []error{&StatusError{StatusCode: 500}, &StatusError{StatusCode: 429}},
		content: "done",
	}
	c := WithRetry(fake, 3, time.Millisecond, nil)

	resp, err := c.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "done", resp.Content)
	assert.Equal(t, 3, fake.calls)
}

func TestWithRetry_StopsOnPermanentError(t *testing.T) {
	fake := &scriptedClient{errs: []error{&StatusError{StatusCode: 400, Body: "bad"}}}
	c := WithRetry(fake, 3, time.Millisecond, nil)

	_, err := c.Chat(context.Background(), &ChatRequest{})
	require.Error(t, err)
	assert.Equal(t, 1, fake.calls)

	var statusErr *StatusError
	assert.True(t, errors.As(err, &statusErr))
}

func TestWithRetry_GivesUp(t *testing.T) {
	fake := &scriptedClient{errs: []error{
		&StatusError{StatusCode: 502}, &StatusError{StatusCode: 502}, &StatusError{StatusCode: 502},
	}}
	c := WithRetry(fake, 2, time.Millisecond, nil)

	_, err := c.Transcribe(context.Background(), &TranscriptionRequest{})
	require.Error(t, err)
	assert.Equal(t, 3, fake.calls)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 502, statusErr.StatusCode)
}

func TestChatJSON(t *testing.T) {
	fake := &scriptedClient{content: "```json\n{\"topic\": \"algebra\", \"needs_clarification\": false}\n```"}

	var out struct {
		Topic              string `json:"topic"`
		NeedsClarification bool   `json:"needs_clarification"`
	}
	err := ChatJSON(context.Background(), fake, &ChatRequest{
		SystemPrompt: "Parse it.",
		Format: &ResponseFormat{Name: "parsed", Schema: ObjectSchema(map[string]any{
			"topic":               map[string]any{"type": "string"},
			"needs_clarification": map[string]any{"type": "boolean"},
		})},
	}, &out)
	require.NoError(t, err)
	assert.Equal(t, "algebra", out.Topic)
	assert.False(t, out.NeedsClarification)
	assert.Contains(t, fake.lastReq.SystemPrompt, "Parse it.")
	assert.Contains(t, fake.lastReq.SystemPrompt, `"needs_clarification"`)
}

func TestChatJSON_Malformed(t *testing.T) {
	fake := &scriptedClient{content: "I cannot answer that."}
	var out map[string]any
	err := ChatJSON(context.Background(), fake, &ChatRequest{}, &out)
	assert.ErrorIs(t, err, ErrMalformedOutput)
}

func TestExtractJSON(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSON(`{"a":1}`))
	assert.Equal(t, `{"a":1}`, ExtractJSON("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":{"b":2}}`, ExtractJSON(`Here you go: {"a":{"b":2}} hope it helps`))
	assert.Equal(t, "", ExtractJSON("no json"))
}

func TestObjectSchema_RequiredSorted(t *testing.T) {
	s := ObjectSchema(map[string]any{"z": 1, "a": 2, "m": 3})
	assert.Equal(t, []string{"a", "m", "z"}, s["required"])
	assert.Equal(t, false, s["additionalProperties"])
}
