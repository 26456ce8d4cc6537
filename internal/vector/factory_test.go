package vector

import (
	"testing"
)

func TestNewVectorIndex_HNSW(t *testing.T) {
	idx, err := NewVectorIndex(Options{Type: "hnsw"})
	if err != nil {
		t.Fatalf("NewVectorIndex(hnsw): %v", err)
	}
	if idx.Type() != "hnsw" {
		t.Errorf("Type=%s, want hnsw", idx.Type())
	}
	if idx.Initialized() {
		t.Error("new index should not be initialized")
	}
}

func TestNewVectorIndex_Empty(t *testing.T) {
	// Empty string defaults to hnsw
	idx, err := NewVectorIndex(Options{})
	if err != nil {
		t.Fatalf("NewVectorIndex(''): %v", err)
	}
	if _, ok := idx.(*HNSWIndex); !ok {
		t.Errorf("expected *HNSWIndex, got %T", idx)
	}
}

func TestNewVectorIndex_Exact(t *testing.T) {
	idx, err := NewVectorIndex(Options{Type: "exact"})
	if err != nil {
		t.Fatalf("NewVectorIndex(exact): %v", err)
	}
	if _, ok := idx.(*ExactIndex); !ok {
		t.Errorf("expected *ExactIndex, got %T", idx)
	}
}

func TestNewVectorIndex_Unknown(t *testing.T) {
	_, err := NewVectorIndex(Options{Type: "faiss"})
	if err == nil {
		t.Error("expected error for unknown index type")
	}
}
