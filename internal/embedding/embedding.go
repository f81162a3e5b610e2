// ABOUTME: Embedder interface, provider factory, and vector math helpers
// ABOUTME: Vectors are float32 and stored as little-endian blobs

package embedding

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/2389/mentor-gateway/internal/config"
)

// ErrDimensionMismatch is returned when comparing vectors of different length.
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Embedder turns text into vectors.
type Embedder interface {
	// Embed returns one vector per input text, in order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Name identifies the provider and model, e.g. "openai:text-embedding-3-small".
	Name() string
}

// New creates the embedder described by cfg, with transient failures
// retried the same way model calls are.
func New(ctx context.Context, cfg config.EmbeddingConfig, maxRetries int, backoff time.Duration, logger *slog.Logger) (Embedder, error) {
	var e Embedder
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		e = NewOpenAIEmbedder(cfg.Endpoint, cfg.APIKey, cfg.Model)
	case config.ProviderGemini:
		g, err := NewGenAIEmbedder(ctx, cfg.Endpoint, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, err
		}
		e = g
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s (use 'openai' or 'gemini')", cfg.Provider)
	}
	return WithRetry(e, maxRetries, backoff, logger), nil
}

// CosineSimilarity returns a value between -1 and 1, where 1 means identical
// direction. Zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}

	var dot, aMag, bMag float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		aMag += float64(a[i]) * float64(a[i])
		bMag += float64(b[i]) * float64(b[i])
	}
	if aMag == 0 || bMag == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(aMag) * math.Sqrt(bMag)), nil
}

// EncodeBlob encodes a vector as a little-endian float32 blob.
func EncodeBlob(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}

// DecodeBlob decodes a blob written by EncodeBlob. Returns nil for malformed input.
func DecodeBlob(blob []byte) []float32 {
	if len(blob) == 0 || len(blob)%4 != 0 {
		return nil
	}
	vec := make([]float32, len(blob)/4)
	if err := binary.Read(bytes.NewReader(blob), binary.LittleEndian, &vec); err != nil {
		return nil
	}
	return vec
}
