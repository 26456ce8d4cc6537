// Package generation produces fresh responses on cache misses.
package generation

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/retry"
)

// DefaultMaxTokens caps generated responses when nothing is configured.
const DefaultMaxTokens = 1024

// Options tunes a single Generate call. Zero values fall back to the generator's defaults.
type Options struct {
	Model     string
	MaxTokens int
}

// Generator produces a response for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Name() string
}

// Config selects and configures a generation provider.
type Config struct {
	Provider  string // openai, anthropic, mock
	Model     string
	APIKey    string
	APIURL    string
	MaxTokens int
	Timeout   time.Duration
	Retry     retry.Config
}

// New builds the configured generator, wrapped with retries when enabled.
func New(cfg Config, logger *zap.Logger) (Generator, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}

	var (
		g   Generator
		err error
	)
	switch cfg.Provider {
	case "openai":
		g, err = NewOpenAIGenerator(ProviderConfig{
			APIKey: cfg.APIKey, APIURL: cfg.APIURL, Model: cfg.Model, MaxTokens: cfg.MaxTokens,
		}, httpClient)
	case "anthropic":
		g, err = NewAnthropicGenerator(ProviderConfig{
			APIKey: cfg.APIKey, APIURL: cfg.APIURL, Model: cfg.Model, MaxTokens: cfg.MaxTokens,
		}, httpClient)
	case "mock", "":
		g = NewMockGenerator()
	default:
		return nil, fmt.Errorf("unknown generation provider: %s (supported: openai, anthropic, mock)", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	if cfg.Retry.Enabled() {
		g = NewRetryGenerator(g, cfg.Retry, logger)
	}
	logger.Info("generator ready", zap.String("provider", g.Name()), zap.String("model", cfg.Model))
	return g, nil
}

// ProviderConfig is shared by the hosted generators. APIURL targets compatible servers.
type ProviderConfig struct {
	APIKey    string
	APIURL    string
	Model     string
	MaxTokens int
}

func (c ProviderConfig) resolve(opts Options, defaultModel string) (string, int64) {
	model := opts.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = defaultModel
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.MaxTokens
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return model, int64(maxTokens)
}
