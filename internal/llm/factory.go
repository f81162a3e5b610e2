// ABOUTME: Builds the configured model client with retry and metrics wrappers
// ABOUTME: Selects OpenAI or Gemini from config.LLMConfig

package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/2389/mentor-gateway/internal/config"
)

// New creates the model client described by cfg. The result retries
// transient failures and records metrics for every call.
func New(ctx context.Context, cfg config.LLMConfig, logger *slog.Logger) (Client, error) {
	pcfg := &ProviderConfig{
		Endpoint:           cfg.Endpoint,
		APIKey:             cfg.APIKey,
		Model:              cfg.Model,
		TranscriptionModel: cfg.TranscriptionModel,
		Timeout:            cfg.Timeout,
	}

	var base Client
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		base = NewOpenAIProvider(pcfg)
	case config.ProviderGemini:
		gp, err := NewGeminiProvider(ctx, pcfg)
		if err != nil {
			return nil, err
		}
		base = gp
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}

	return WithRetry(Instrument(base), cfg.MaxRetries, cfg.RetryBackoff, logger), nil
}
