package generation

import (
	"context"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/retry"
)

// RetryGenerator retries transient provider failures with exponential backoff.
type RetryGenerator struct {
	inner  Generator
	config retry.Config
	logger *zap.Logger
}

// NewRetryGenerator wraps inner with retry logic.
func NewRetryGenerator(inner Generator, config retry.Config, logger *zap.Logger) *RetryGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RetryGenerator{inner: inner, config: config, logger: logger}
}

// Name returns the wrapped generator's name.
func (r *RetryGenerator) Name() string { return r.inner.Name() }

// Generate calls the wrapped generator, retrying transient failures.
func (r *RetryGenerator) Generate(ctx context.Context, prompt string, opts Options) (string, error) {
	return retry.Do(ctx, r.config, r.logger, "generate", func(ctx context.Context) (string, error) {
		return r.inner.Generate(ctx, prompt, opts)
	})
}
