// ABOUTME: Tests for the OpenAI-compatible provider against an httptest server
// ABOUTME: Covers chat payloads, vision parts, JSON schema format, errors, and transcription

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chatReply(content string) string {
	b, _ := json.Marshal(map[string]any{
		"id":    "chatcmpl-1",
		"model": "gpt-4o",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]any{"role": "assistant", "content": content},
			"finish_reason": "stop",
		}},
		"usage": map[string]any{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
	})
	return string(b)
}

func TestOpenAIProvider_Chat(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, chatReply("x = 2"))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: srv.URL + "/", APIKey: "sk-test", Model: "gpt-4o"})
	resp, err := p.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "You are a tutor.",
		Messages:     []Message{{Role: RoleUser, Content: "solve x+1=3"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "x = 2", resp.Content)
	assert.Equal(t, 15, resp.TokensUsed)
	assert.Equal(t, "stop", resp.FinishReason)

	assert.Equal(t, "gpt-4o", got["model"])
	assert.Equal(t, float64(0), got["temperature"], "temperature 0 must be sent explicitly")
	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "solve x+1=3", msgs[1].(map[string]any)["content"])
	assert.NotContains(t, got, "response_format")
}

func TestOpenAIProvider_ChatWithImageAndSchema(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = io.WriteString(w, chatReply(`{"ok":true}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: srv.URL, APIKey: "k", Model: "gpt-4o"})
	_, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{
			Role:    RoleUser,
			Content: "read this",
			Images:  []Attachment{{MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}},
		}},
		Format: &ResponseFormat{Name: "check", Schema: ObjectSchema(map[string]any{"ok": map[string]any{"type": "boolean"}})},
	})
	require.NoError(t, err)

	parts := got["messages"].([]any)[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	image := parts[1].(map[string]any)["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(image, "data:image/png;base64,"))

	format := got["response_format"].(map[string]any)
	assert.Equal(t, "json_schema", format["type"])
	schema := format["json_schema"].(map[string]any)
	assert.Equal(t, "check", schema["name"])
	assert.Equal(t, true, schema["strict"])
}

func TestOpenAIProvider_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":"slow down"}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: srv.URL, APIKey: "k"})
	_, err := p.Chat(context.Background(), &ChatRequest{Messages: []Message{{Role: RoleUser, Content: "hi"}}})
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "slow down")
	assert.True(t, IsRetryable(err))
}

func TestOpenAIProvider_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: srv.URL, APIKey: "k"})
	_, err := p.Chat(context.Background(), &ChatRequest{})
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIProvider_MissingKey(t *testing.T) {
	p := NewOpenAIProvider(&ProviderConfig{})
	_, err := p.Chat(context.Background(), &ChatRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, IsRetryable(err))

	_, err = p.Transcribe(context.Background(), &TranscriptionRequest{})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestOpenAIProvider_Transcribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "gpt-4o-transcribe", r.FormValue("model"))
		assert.Contains(t, r.FormValue("prompt"), "math problem")

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "question.mp3", hdr.Filename)
		data, _ := io.ReadAll(f)
		assert.Equal(t, []byte("ID3audio"), data)

		_, _ = io.WriteString(w, `{"text":"integral of x squared"}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(&ProviderConfig{Endpoint: srv.URL, APIKey: "k", TranscriptionModel: "gpt-4o-transcribe"})
	text, err := p.Transcribe(context.Background(), &TranscriptionRequest{
		Filename: "question.mp3",
		MimeType: "audio/mpeg",
		Prompt:   "The following is a math problem.",
		Audio:    []byte("ID3audio"),
	})
	require.NoError(t, err)
	assert.Equal(t, "integral of x squared", text)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"rate limited", &StatusError{StatusCode: 429}, true},
		{"server error", &StatusError{StatusCode: 503}, true},
		{"bad request", &StatusError{StatusCode: 400}, false},
		{"unauthorized", &StatusError{StatusCode: 401}, false},
		{"empty response", ErrEmptyResponse, true},
		{"malformed", ErrMalformedOutput, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}
