package vector

import "fmt"

// IndexType represents the type of vector index to use.
type IndexType string

const (
	// IndexTypeHNSW uses an HNSW graph for approximate search. The default.
	IndexTypeHNSW IndexType = "hnsw"
	// IndexTypeExact uses brute-force search. Good for small caches (<10k records) and tests.
	IndexTypeExact IndexType = "exact"
)

// Options selects and tunes an index built by NewVectorIndex.
type Options struct {
	Type string
	HNSW HNSWOptions
}

// NewVectorIndex creates an uninitialized vector index of the specified type.
// Supported types: "hnsw" (default), "exact".
func NewVectorIndex(opts Options) (VectorIndex, error) {
	switch IndexType(opts.Type) {
	case IndexTypeHNSW, "":
		return NewHNSWIndex(opts.HNSW), nil
	case IndexTypeExact:
		return NewExactIndex(opts.HNSW.CapacityIncrement), nil
	default:
		return nil, fmt.Errorf("unknown index type: %s (supported: hnsw, exact)", opts.Type)
	}
}
