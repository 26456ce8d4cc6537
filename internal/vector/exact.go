package vector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hyperjump/semcache/internal/models"
)

// ExactIndex is a brute-force cosine index. Suitable for tests and small caches
// where HNSW recall loss is not acceptable.
type ExactIndex struct {
	dimension   int
	capacity    int
	increment   int
	ids         []uint64
	vectors     [][]float32
	seen        map[uint64]struct{}
	initialized bool
	mu          sync.RWMutex
}

// NewExactIndex creates an uninitialized exact index.
func NewExactIndex(capacityIncrement int) *ExactIndex {
	if capacityIncrement <= 0 {
		capacityIncrement = DefaultCapacityIncrement
	}
	return &ExactIndex{increment: capacityIncrement}
}

// Type returns the index type identifier.
func (e *ExactIndex) Type() string {
	return string(IndexTypeExact)
}

// Initialize fixes the dimension and reserves initialCapacity slots.
func (e *ExactIndex) Initialize(dimension, initialCapacity int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return models.ErrIndexInitialized
	}
	e.dimension = dimension
	e.capacity = initialCapacity
	e.ids = make([]uint64, 0, initialCapacity)
	e.vectors = make([][]float32, 0, initialCapacity)
	e.seen = make(map[uint64]struct{}, initialCapacity)
	e.initialized = true
	return nil
}

// Insert stores a normalized copy of vector under id.
func (e *ExactIndex) Insert(vector []float32, id uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return models.ErrUninitializedIndex
	}
	if err := models.CheckDimension(vector, e.dimension); err != nil {
		return err
	}
	if _, ok := e.seen[id]; ok {
		return fmt.Errorf("%w: %d", models.ErrDuplicateID, id)
	}
	if len(e.ids) >= e.capacity {
		e.capacity = grownCapacity(e.capacity, e.increment)
	}
	e.ids = append(e.ids, id)
	e.vectors = append(e.vectors, Normalized(vector))
	e.seen[id] = struct{}{}
	return nil
}

// Search scores every stored vector and returns the k closest. Ties keep insertion order.
func (e *ExactIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if !e.initialized {
		return nil, models.ErrUninitializedIndex
	}
	if err := models.CheckDimension(query, e.dimension); err != nil {
		return nil, err
	}
	if k <= 0 || len(e.ids) == 0 {
		return []*VectorResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := Normalized(query)
	results := make([]*VectorResult, len(e.ids))
	for i, vec := range e.vectors {
		results[i] = &VectorResult{ID: e.ids[i], Distance: float64(cosineDistance(q, vec))}
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Distance < results[j].Distance })
	if k < len(results) {
		results = results[:k]
	}
	return results, nil
}

// CurrentCount returns the number of stored vectors.
func (e *ExactIndex) CurrentCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.ids)
}

// Capacity returns the logical capacity.
func (e *ExactIndex) Capacity() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.capacity
}

// Dimension returns the configured dimension.
func (e *ExactIndex) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

// Initialized reports whether Initialize has run.
func (e *ExactIndex) Initialized() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialized
}

// Stats returns index introspection data.
func (e *ExactIndex) Stats() IndexStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return IndexStats{
		Type:      e.Type(),
		Dimension: e.dimension,
		Count:     len(e.ids),
		Capacity:  e.capacity,
	}
}
