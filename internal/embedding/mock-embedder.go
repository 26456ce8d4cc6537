package embedding

import (
	"context"
	"math"
	"sync"
	"sync/atomic"

	"github.com/hyperjump/semcache/pkg/utils"
)

// MockEmbedder is a deterministic embedder for tests and offline runs. Words are hashed into
// buckets of a fixed-dimension vector, so texts sharing words score a positive cosine
// similarity and the same text always gets the same embedding. Set pins an explicit vector
// for a text.
type MockEmbedder struct {
	dimensions int
	calls      atomic.Int64
	fixed      map[string][]float32
	err        error
	mu         sync.RWMutex
}

// NewMockEmbedder returns an embedder that produces deterministic embeddings of the given dimensions.
func NewMockEmbedder(dimensions int) *MockEmbedder {
	if dimensions <= 0 {
		dimensions = 384
	}
	return &MockEmbedder{dimensions: dimensions, fixed: make(map[string][]float32)}
}

// Set makes Embed(text) return vec.
func (e *MockEmbedder) Set(text string, vec []float32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fixed[text] = cloneVector(vec)
}

// FailWith makes every subsequent call return err. A nil err restores normal behavior.
func (e *MockEmbedder) FailWith(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.err = err
}

// Calls returns the number of Embed calls made.
func (e *MockEmbedder) Calls() int {
	return int(e.calls.Load())
}

// Embed returns the pinned vector for text, or a deterministic bag-of-words vector.
func (e *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.calls.Add(1)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.RLock()
	vec, ok := e.fixed[text]
	err := e.err
	e.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if ok {
		return cloneVector(vec), nil
	}

	emb := make([]float32, e.dimensions)
	words := SplitWords(text)
	for _, w := range words {
		h := HashString(w)
		sign := float32(1)
		if (h>>16)&1 == 1 {
			sign = -1
		}
		emb[h%e.dimensions] += sign
	}
	if len(words) == 0 {
		// No words (punctuation only or empty); derive the vector from the raw text.
		h := HashString(text)
		for i := range emb {
			emb[i] = float32(math.Sin(float64(h*(i+1)))*0.1 + 0.01)
		}
	}
	utils.NormalizeL2(emb)
	return emb, nil
}

// EmbedBatch calls Embed for each text.
func (e *MockEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the embedding dimension.
func (e *MockEmbedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEmbedder.
func (e *MockEmbedder) Close() error {
	return nil
}
