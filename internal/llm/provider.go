// ABOUTME: Provider interfaces and request/response types for hosted language models
// ABOUTME: Shared by the OpenAI and Gemini implementations and their wrappers

package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

// MaxErrorBodySize limits how much of an error response body is read (1MB).
const MaxErrorBodySize = 1 * 1024 * 1024

// Role values for Message.Role
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

var (
	// ErrNotConfigured is returned when a provider is missing its API key.
	ErrNotConfigured = errors.New("provider not configured")

	// ErrEmptyResponse is returned when the model returns no content.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrMalformedOutput is returned when structured output cannot be decoded.
	ErrMalformedOutput = errors.New("malformed structured output")

	// ErrTranscriptionUnsupported is returned by providers without speech-to-text.
	ErrTranscriptionUnsupported = errors.New("transcription not supported by provider")
)

// readLimitedBody reads up to maxBytes from r, returning the bytes read.
func readLimitedBody(r io.Reader, maxBytes int64) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, maxBytes))
}

// Provider sends chat completions to a hosted model.
type Provider interface {
	// Chat sends a message and returns the response.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name returns the provider identifier.
	Name() string
}

// Transcriber converts recorded speech to text.
type Transcriber interface {
	Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error)
}

// Client is a provider that can also transcribe audio.
type Client interface {
	Provider
	Transcriber
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	// Model to use (provider-specific). Empty selects the provider default.
	Model string

	// SystemPrompt sets the model's behavior.
	SystemPrompt string

	// Messages in the conversation.
	Messages []Message

	// MaxTokens limits response length. Zero leaves the provider default.
	MaxTokens int

	// Temperature is always sent; the pipeline runs at 0.
	Temperature float64

	// Format requests a JSON object matching a schema.
	Format *ResponseFormat
}

// Message represents a conversation message.
type Message struct {
	Role    string
	Content string
	Images  []Attachment
}

// Attachment is inline binary content such as an image.
type Attachment struct {
	MimeType string
	Data     []byte
}

// ResponseFormat describes the JSON object the model must return.
type ResponseFormat struct {
	Name   string
	Schema map[string]any
}

// ChatResponse contains the model's response.
type ChatResponse struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
	TokensUsed       int
	Duration         time.Duration
	FinishReason     string
}

// TranscriptionRequest is an audio clip to transcribe.
type TranscriptionRequest struct {
	Model    string
	Filename string
	MimeType string
	// Prompt biases the transcription vocabulary.
	Prompt string
	Audio  []byte
}

// ProviderConfig contains configuration for a model provider.
type ProviderConfig struct {
	Endpoint           string
	APIKey             string
	Model              string
	TranscriptionModel string
	Timeout            time.Duration
}

// StatusError is a non-200 response from a provider API.
type StatusError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error (status %d): %s", e.Provider, e.StatusCode, e.Body)
}

// IsRetryable reports whether err is worth retrying: rate limits, server
// errors, and transport failures. Context cancellation never is.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrTranscriptionUnsupported) {
		return false
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == 429 || statusErr.StatusCode >= 500
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	return errors.Is(err, ErrEmptyResponse) || errors.Is(err, io.ErrUnexpectedEOF)
}
