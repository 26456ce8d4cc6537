// Package vector provides approximate nearest-neighbor indexes over cosine distance.
package vector

import "context"

// VectorIndex is a growable k-NN index over fixed-dimension vectors keyed by uint64 ids.
// Initialize must be called exactly once before Insert or Search; a cleared cache builds a
// fresh instance instead of re-initializing.
type VectorIndex interface {
	Initialize(dimension, initialCapacity int) error
	Insert(vector []float32, id uint64) error
	// Search returns up to min(k, CurrentCount()) results ordered by ascending cosine distance.
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	CurrentCount() int
	Capacity() int
	Dimension() int
	Initialized() bool
	Stats() IndexStats
	Type() string
}

// VectorResult is a single index hit.
type VectorResult struct {
	ID       uint64
	Distance float64 // cosine distance, 1 - cosine similarity
}

// IndexStats is introspection data for the stats endpoint.
type IndexStats struct {
	Type      string `json:"type"`
	Dimension int    `json:"dimension"`
	Count     int    `json:"count"`
	Capacity  int    `json:"capacity"`
	MaxLevel  int    `json:"max_level,omitempty"`
}

// DefaultCapacityIncrement is the number of slots added when an index is full.
const DefaultCapacityIncrement = 1000

// grownCapacity returns the capacity after one growth step. Growth is additive and never shrinks.
func grownCapacity(current, increment int) int {
	if increment <= 0 {
		increment = DefaultCapacityIncrement
	}
	return current + increment
}
