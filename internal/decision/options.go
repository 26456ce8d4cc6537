package decision

import (
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/generation"
)

const (
	// DefaultThreshold is the minimum exact cosine similarity for a hit.
	DefaultThreshold = 0.8
	// DefaultTopK is the number of approximate candidates re-scored per query.
	DefaultTopK = 5
	// DefaultMissTimeout bounds one shared generate-and-store on a miss.
	DefaultMissTimeout = 2 * time.Minute
)

// Option configures an Engine.
type Option func(*Engine)

// WithThreshold sets the hit threshold. Invalid values are rejected by New.
func WithThreshold(threshold float64) Option {
	return func(e *Engine) {
		e.initialThreshold = threshold
	}
}

// WithTopK sets how many candidates are fetched from the index.
func WithTopK(k int) Option {
	return func(e *Engine) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithPromptPrefix sets text placed before every generated prompt.
func WithPromptPrefix(prefix string) Option {
	return func(e *Engine) {
		e.promptPrefix = prefix
	}
}

// WithGenerationOptions sets the options passed to every Generate call.
func WithGenerationOptions(opts generation.Options) Option {
	return func(e *Engine) {
		e.genOpts = opts
	}
}

// WithTally records every decision into t.
func WithTally(t *Tally) Option {
	return func(e *Engine) {
		e.tally = t
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMissTimeout bounds the shared generate-and-store work of a miss, independent of the
// callers waiting on it.
func WithMissTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.missTimeout = d
		}
	}
}
