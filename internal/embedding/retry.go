package embedding

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/retry"
)

// RetryEmbedder retries transient provider failures with exponential backoff.
type RetryEmbedder struct {
	inner  Embedder
	config retry.Config
	logger *zap.Logger
}

// NewRetryEmbedder wraps inner with retry logic.
func NewRetryEmbedder(inner Embedder, config retry.Config, logger *zap.Logger) *RetryEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryEmbedder{inner: inner, config: config, logger: logger}
}

// Embed calls the wrapped embedder, retrying transient failures.
func (r *RetryEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return retry.Do(ctx, r.config, r.logger, "embed", func(ctx context.Context) ([]float32, error) {
		return r.inner.Embed(ctx, text)
	})
}

// EmbedBatch calls the wrapped embedder, retrying transient failures.
func (r *RetryEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return retry.Do(ctx, r.config, r.logger, "embed_batch", func(ctx context.Context) ([][]float32, error) {
		return r.inner.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the wrapped embedder's dimension.
func (r *RetryEmbedder) Dimensions() int {
	return r.inner.Dimensions()
}

// Close closes the wrapped embedder.
func (r *RetryEmbedder) Close() error {
	return r.inner.Close()
}
