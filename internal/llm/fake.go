// ABOUTME: In-memory fake Client for tests
// ABOUTME: Records requests and answers through caller-supplied functions

package llm

import (
	"context"
	"sync"
)

// FakeClient is a Client whose replies come from ChatFunc and TranscribeFunc.
type FakeClient struct {
	ChatFunc       func(req *ChatRequest) (string, error)
	TranscribeFunc func(req *TranscriptionRequest) (string, error)

	mu             sync.Mutex
	requests       []*ChatRequest
	transcriptions []*TranscriptionRequest
}

// Name returns "fake".
func (f *FakeClient) Name() string {
	return "fake"
}

// Chat records req and returns ChatFunc's reply.
func (f *FakeClient) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ChatFunc == nil {
		return nil, ErrEmptyResponse
	}
	content, err := f.ChatFunc(req)
	if err != nil {
		return nil, err
	}
	return &ChatResponse{Content: content, Model: req.Model}, nil
}

// Transcribe records req and returns TranscribeFunc's reply.
func (f *FakeClient) Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error) {
	f.mu.Lock()
	f.transcriptions = append(f.transcriptions, req)
	f.mu.Unlock()

	if f.TranscribeFunc == nil {
		return "", ErrTranscriptionUnsupported
	}
	return f.TranscribeFunc(req)
}

// Requests returns the chat requests seen so far.
func (f *FakeClient) Requests() []*ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

// Transcriptions returns the transcription requests seen so far.
func (f *FakeClient) Transcriptions() []*TranscriptionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*TranscriptionRequest, len(f.transcriptions))
	copy(out, f.transcriptions)
	return out
}
