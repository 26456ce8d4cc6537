// Package embedding turns query text into vectors: OpenAI, local ONNX and mock providers,
// plus caching and retry wrappers.
package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/retry"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions returns the embedding length, or 0 when the provider decides it.
	Dimensions() int
	Close() error
}

// Config selects and configures an embedding provider.
type Config struct {
	Provider   string // openai, onnx, mock
	Model      string
	APIKey     string
	APIURL     string
	Dimensions int
	ModelPath  string
	MaxTokens  int
	CacheSize  int
	Timeout    time.Duration
	Retry      retry.Config
}

// New builds the configured embedder wrapped with caching and, when enabled, retries.
func New(cfg Config, logger *zap.Logger) (Embedder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		base Embedder
		err  error
	)
	switch cfg.Provider {
	case "openai":
		base, err = NewOpenAIEmbedder(OpenAIConfig{
			APIKey:     cfg.APIKey,
			APIURL:     cfg.APIURL,
			Model:      cfg.Model,
			Dimensions: cfg.Dimensions,
		}, &http.Client{Timeout: cfg.Timeout})
	case "onnx":
		base, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case "mock", "":
		base = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s (supported: openai, onnx, mock)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Retry.Enabled() {
		base = NewRetryEmbedder(base, cfg.Retry, logger)
	}
	if cfg.CacheSize > 0 {
		base = NewCachedEmbedder(base, cfg.CacheSize)
	}
	logger.Info("embedder ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", base.Dimensions()))
	return base, nil
}

// embedEach implements EmbedBatch on top of Embed.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	embeddings := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		embeddings[i] = emb
	}
	return embeddings, nil
}
