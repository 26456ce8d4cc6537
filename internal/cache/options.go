package cache

import (
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/vector"
)

// DefaultLazyCapacity is the capacity given to an index first created by a store.
const DefaultLazyCapacity = 1000

// Option configures an Engine.
type Option func(*Engine)

// WithDimension fixes the embedding dimension. Without it the dimension is taken from the
// most recently written collection, or from the first stored vector.
func WithDimension(dimension int) Option {
	return func(e *Engine) {
		if dimension > 0 {
			e.dimension = dimension
		}
	}
}

// WithIndexOptions selects the vector index built on load and after clear.
func WithIndexOptions(opts vector.Options) Option {
	return func(e *Engine) {
		e.indexOpts = opts
	}
}

// WithLazyCapacity sets the capacity of an index created by the first store into an empty cache.
func WithLazyCapacity(capacity int) Option {
	return func(e *Engine) {
		if capacity > 0 {
			e.lazyCapacity = capacity
		}
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
