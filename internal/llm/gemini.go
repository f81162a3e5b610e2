// ABOUTME: Gemini provider backed by the google.golang.org/genai SDK
// ABOUTME: Handles chat, vision parts, JSON output mode, and audio transcription

package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

// GeminiProvider implements Client using the Gemini API.
type GeminiProvider struct {
	client             *genai.Client
	model              string
	transcriptionModel string
}

// NewGeminiProvider creates a Gemini provider. The SDK client is created
// eagerly so a bad key surfaces at startup.
func NewGeminiProvider(ctx context.Context, cfg *ProviderConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini: %w", ErrNotConfigured)
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Endpoint != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.Endpoint}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	transcriptionModel := cfg.TranscriptionModel
	if transcriptionModel == "" {
		transcriptionModel = cfg.Model
	}

	return &GeminiProvider{
		client:             client,
		model:              cfg.Model,
		transcriptionModel: transcriptionModel,
	}, nil
}

// Name returns the provider identifier.
func (p *GeminiProvider) Name() string {
	return "gemini"
}

// Chat sends a request through GenerateContent. Structured output sets JSON
// mode and passes the schema as responseJsonSchema.
func (p *GeminiProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(req.Temperature)),
	}
	if req.SystemPrompt != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Format != nil {
		genCfg.ResponseMIMEType = "application/json"
		genCfg.ResponseJsonSchema = req.Format.Schema
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, toGeminiContents(req.Messages), genCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("gemini: %w", ErrEmptyResponse)
	}

	out := &ChatResponse{
		Content:  text,
		Model:    model,
		Duration: time.Since(start),
	}
	if resp.UsageMetadata != nil {
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.CompletionTokens = int(resp.UsageMetadata.CandidatesTokenCount)
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	if len(resp.Candidates) > 0 {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	return out, nil
}

// Transcribe sends the clip as an inline audio part with the prompt as the
// instruction. Gemini has no dedicated transcription endpoint.
func (p *GeminiProvider) Transcribe(ctx context.Context, req *TranscriptionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = p.transcriptionModel
	}

	instruction := "Transcribe this audio exactly. Output only the transcript."
	if req.Prompt != "" {
		instruction = instruction + "\n" + req.Prompt
	}

	parts := []*genai.Part{
		genai.NewPartFromText(instruction),
		genai.NewPartFromBytes(req.Audio, req.MimeType),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := p.client.Models.GenerateContent(ctx, model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](0),
	})
	if err != nil {
		return "", fmt.Errorf("gemini transcribe: %w", err)
	}
	return strings.TrimSpace(resp.Text()), nil
}

// toGeminiContents maps chat messages to genai contents. System messages
// inside the list are sent as user turns since Gemini only accepts user and
// model roles in contents.
func toGeminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, msg := range msgs {
		role := genai.Role(genai.RoleUser)
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}

		parts := make([]*genai.Part, 0, len(msg.Images)+1)
		if msg.Content != "" {
			parts = append(parts, genai.NewPartFromText(msg.Content))
		}
		for _, img := range msg.Images {
			mimeType := img.MimeType
			if mimeType == "" {
				mimeType = "image/jpeg"
			}
			parts = append(parts, genai.NewPartFromBytes(img.Data, mimeType))
		}
		if len(parts) == 0 {
			continue
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}
