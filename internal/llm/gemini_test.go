// ABOUTME: Tests for the Gemini provider against an httptest server
// ABOUTME: Checks generateContent payloads, JSON schema mode, usage mapping, and transcription

package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func geminiReply(text string) string {
	b, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{
				"role":  "model",
				"parts": []map[string]any{{"text": text}},
			},
			"finishReason": "STOP",
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     12,
			"candidatesTokenCount": 4,
			"totalTokenCount":      16,
		},
		"modelVersion": "gemini-2.0-flash",
	})
	return string(b)
}

// geminiServer records the decoded body of the last generateContent call.
func geminiServer(t *testing.T, model, reply string, got *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1beta/models/"+model+":generateContent", r.URL.Path)
		assert.Equal(t, "gm-test", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, reply)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGemini(t *testing.T, endpoint string) *GeminiProvider {
	t.Helper()
	p, err := NewGeminiProvider(context.Background(), &ProviderConfig{
		Endpoint:           endpoint,
		APIKey:             "gm-test",
		Model:              "gemini-2.0-flash",
		TranscriptionModel: "gemini-2.0-flash-lite",
	})
	require.NoError(t, err)
	return p
}

func TestGeminiProvider_Chat(t *testing.T) {
	var got map[string]any
	srv := geminiServer(t, "gemini-2.0-flash", geminiReply("x = 2"), &got)
	p := newTestGemini(t, srv.URL)

	resp, err := p.Chat(context.Background(), &ChatRequest{
		SystemPrompt: "You are a tutor.",
		Messages: []Message{
			{Role: RoleUser, Content: "solve x+1=3"},
			{Role: RoleAssistant, Content: "What do you subtract?"},
			{Role: RoleUser, Content: "1"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "x = 2", resp.Content)
	assert.Equal(t, "gemini-2.0-flash", resp.Model)
	assert.Equal(t, 12, resp.PromptTokens)
	assert.Equal(t, 4, resp.CompletionTokens)
	assert.Equal(t, 16, resp.TokensUsed)
	assert.Equal(t, "STOP", resp.FinishReason)

	genCfg := got["generationConfig"].(map[string]any)
	assert.Equal(t, float64(0), genCfg["temperature"], "temperature 0 must be sent explicitly")
	assert.NotContains(t, genCfg, "responseMimeType")

	sys := got["systemInstruction"].(map[string]any)
	sysParts := sys["parts"].([]any)
	require.Len(t, sysParts, 1)
	assert.Equal(t, "You are a tutor.", sysParts[0].(map[string]any)["text"])

	contents := got["contents"].([]any)
	require.Len(t, contents, 3)
	roles := make([]string, len(contents))
	for i, c := range contents {
		roles[i] = c.(map[string]any)["role"].(string)
	}
	assert.Equal(t, []string{"user", "model", "user"}, roles)
}

func TestGeminiProvider_ChatWithImageAndSchema(t *testing.T) {
	var got map[string]any
	srv := geminiServer(t, "gemini-2.0-flash", geminiReply(`{"answer":"2"}`), &got)
	p := newTestGemini(t, srv.URL)

	schema := ObjectSchema(map[string]any{"answer": map[string]any{"type": "string"}})
	resp, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{
			Role:    RoleUser,
			Content: "what does this say?",
			Images: []Attachment{
				{MimeType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}},
				{Data: []byte{0xff, 0xd8}},
			},
		}},
		Format: &ResponseFormat{Name: "answer", Schema: schema},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"2"}`, resp.Content)

	genCfg := got["generationConfig"].(map[string]any)
	assert.Equal(t, "application/json", genCfg["responseMimeType"])
	sentSchema, ok := genCfg["responseJsonSchema"].(map[string]any)
	require.True(t, ok, "schema must be sent natively")
	assert.Equal(t, "object", sentSchema["type"])
	assert.Contains(t, sentSchema["properties"], "answer")

	contents := got["contents"].([]any)
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 3)
	assert.Equal(t, "what does this say?", parts[0].(map[string]any)["text"])

	png := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/png", png["mimeType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0x89, 'P', 'N', 'G'}), png["data"])

	jpeg := parts[2].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "image/jpeg", jpeg["mimeType"], "images without a type default to jpeg")
}

func TestGeminiProvider_EmptyResponse(t *testing.T) {
	var got map[string]any
	srv := geminiServer(t, "gemini-2.0-flash", geminiReply("  "), &got)
	p := newTestGemini(t, srv.URL)

	_, err := p.Chat(context.Background(), &ChatRequest{
		Messages: []Message{{Role: RoleUser, Content: "hi"}},
	})
	assert.True(t, errors.Is(err, ErrEmptyResponse))
}

func TestGeminiProvider_MissingKey(t *testing.T) {
	_, err := NewGeminiProvider(context.Background(), &ProviderConfig{Model: "gemini-2.0-flash"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestGeminiProvider_Transcribe(t *testing.T) {
	var got map[string]any
	srv := geminiServer(t, "gemini-2.0-flash-lite", geminiReply("  what is two plus two\n"), &got)
	p := newTestGemini(t, srv.URL)

	audio := []byte("OggS-audio")
	text, err := p.Transcribe(context.Background(), &TranscriptionRequest{
		Filename: "clip.ogg",
		MimeType: "audio/ogg",
		Prompt:   "Math vocabulary.",
		Audio:    audio,
	})
	require.NoError(t, err)
	assert.Equal(t, "what is two plus two", text)

	genCfg := got["generationConfig"].(map[string]any)
	assert.Equal(t, float64(0), genCfg["temperature"])

	contents := got["contents"].([]any)
	require.Len(t, contents, 1)
	parts := contents[0].(map[string]any)["parts"].([]any)
	require.Len(t, parts, 2)
	assert.Contains(t, parts[0].(map[string]any)["text"], "Transcribe this audio exactly.")
	assert.Contains(t, parts[0].(map[string]any)["text"], "Math vocabulary.")

	blob := parts[1].(map[string]any)["inlineData"].(map[string]any)
	assert.Equal(t, "audio/ogg", blob["mimeType"])
	assert.Equal(t, base64.StdEncoding.EncodeToString(audio), blob["data"])
}
