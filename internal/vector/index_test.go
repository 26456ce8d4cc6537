package vector

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/hyperjump/semcache/internal/models"
)

// indexes returns one fresh instance of every implementation.
func indexes() map[string]func() VectorIndex {
	return map[string]func() VectorIndex{
		"hnsw":  func() VectorIndex { return NewHNSWIndex(HNSWOptions{}) },
		"exact": func() VectorIndex { return NewExactIndex(0) },
	}
}

func randomVectors(rng *rand.Rand, n, dim int) [][]float32 {
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = rng.Float32()*2 - 1
		}
		out[i] = v
	}
	return out
}

func TestIndex_InsertSearch(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			if err := idx.Initialize(3, 10); err != nil {
				t.Fatal(err)
			}
			ctx := context.Background()
			vecs := [][]float32{
				{1, 0, 0},
				{0.9, 0.1, 0},
				{0, 1, 0},
			}
			for i, v := range vecs {
				if err := idx.Insert(v, uint64(i)); err != nil {
					t.Fatalf("Insert(%d): %v", i, err)
				}
			}
			if idx.CurrentCount() != 3 {
				t.Errorf("CurrentCount=%d, want 3", idx.CurrentCount())
			}

			results, err := idx.Search(ctx, []float32{1, 0, 0}, 2)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 2 {
				t.Fatalf("expected 2 results, got %d", len(results))
			}
			if results[0].ID != 0 {
				t.Errorf("top result should be 0, got %d", results[0].ID)
			}
			if results[1].ID != 1 {
				t.Errorf("second result should be 1, got %d", results[1].ID)
			}
			if results[0].Distance > results[1].Distance {
				t.Error("results should be ordered by ascending distance")
			}
		})
	}
}

func TestIndex_SearchCapsAtCount(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			if err := idx.Initialize(2, 1); err != nil {
				t.Fatal(err)
			}
			_ = idx.Insert([]float32{1, 0}, 7)
			_ = idx.Insert([]float32{0, 1}, 8)
			results, err := idx.Search(context.Background(), []float32{1, 1}, 5)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 2 {
				t.Errorf("expected 2 results, got %d", len(results))
			}
		})
	}
}

func TestIndex_EmptySearch(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			if err := idx.Initialize(4, 1); err != nil {
				t.Fatal(err)
			}
			results, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 5)
			if err != nil {
				t.Fatal(err)
			}
			if len(results) != 0 {
				t.Errorf("expected no results, got %d", len(results))
			}
		})
	}
}

func TestIndex_Uninitialized(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			if err := idx.Insert([]float32{1}, 0); !errors.Is(err, models.ErrUninitializedIndex) {
				t.Errorf("Insert err=%v, want ErrUninitializedIndex", err)
			}
			if _, err := idx.Search(context.Background(), []float32{1}, 1); !errors.Is(err, models.ErrUninitializedIndex) {
				t.Errorf("Search err=%v, want ErrUninitializedIndex", err)
			}
		})
	}
}

func TestIndex_InitializeTwice(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			if err := idx.Initialize(2, 1); err != nil {
				t.Fatal(err)
			}
			if err := idx.Initialize(2, 1); !errors.Is(err, models.ErrIndexInitialized) {
				t.Errorf("second Initialize err=%v, want ErrIndexInitialized", err)
			}
			if err := newIndex().Initialize(0, 1); err == nil {
				t.Error("expected error for zero dimension")
			}
		})
	}
}

func TestIndex_DimensionMismatch(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			if err := idx.Initialize(3, 1); err != nil {
				t.Fatal(err)
			}
			err := idx.Insert([]float32{1, 0}, 0)
			var dimErr *models.DimensionMismatchError
			if !errors.As(err, &dimErr) {
				t.Fatalf("Insert err=%v, want DimensionMismatchError", err)
			}
			if dimErr.Expected != 3 || dimErr.Actual != 2 {
				t.Errorf("got expected=%d actual=%d", dimErr.Expected, dimErr.Actual)
			}
			if _, err := idx.Search(context.Background(), []float32{1, 0, 0, 0}, 1); !errors.Is(err, models.ErrDimensionMismatch) {
				t.Errorf("Search err=%v, want ErrDimensionMismatch", err)
			}
			if idx.CurrentCount() != 0 {
				t.Errorf("rejected insert changed count to %d", idx.CurrentCount())
			}
		})
	}
}

func TestIndex_DuplicateID(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			_ = idx.Initialize(2, 4)
			if err := idx.Insert([]float32{1, 0}, 1); err != nil {
				t.Fatal(err)
			}
			if err := idx.Insert([]float32{0, 1}, 1); !errors.Is(err, models.ErrDuplicateID) {
				t.Errorf("err=%v, want ErrDuplicateID", err)
			}
			if idx.CurrentCount() != 1 {
				t.Errorf("CurrentCount=%d, want 1", idx.CurrentCount())
			}
		})
	}
}

func TestIndex_CapacityGrowth(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			if err := idx.Initialize(2, 1); err != nil {
				t.Fatal(err)
			}
			if idx.Capacity() != 1 {
				t.Fatalf("Capacity=%d, want 1", idx.Capacity())
			}
			_ = idx.Insert([]float32{1, 0}, 0)
			if idx.Capacity() != 1 {
				t.Errorf("Capacity after first insert=%d, want 1", idx.Capacity())
			}
			_ = idx.Insert([]float32{0, 1}, 1)
			if idx.Capacity() != 1+DefaultCapacityIncrement {
				t.Errorf("Capacity after growth=%d, want %d", idx.Capacity(), 1+DefaultCapacityIncrement)
			}
			if idx.CurrentCount() > idx.Capacity() {
				t.Error("count must never exceed capacity")
			}
		})
	}
}

func TestIndex_ZeroCapacityClamped(t *testing.T) {
	idx := NewHNSWIndex(HNSWOptions{})
	if err := idx.Initialize(2, 0); err != nil {
		t.Fatal(err)
	}
	if idx.Capacity() != 1 {
		t.Errorf("Capacity=%d, want 1", idx.Capacity())
	}
}

func TestIndex_SearchCanceled(t *testing.T) {
	for name, newIndex := range indexes() {
		t.Run(name, func(t *testing.T) {
			idx := newIndex()
			_ = idx.Initialize(2, 1)
			_ = idx.Insert([]float32{1, 0}, 0)
			ctx, cancel := context.WithCancel(context.Background())
			cancel()
			if _, err := idx.Search(ctx, []float32{1, 0}, 1); !errors.Is(err, context.Canceled) {
				t.Errorf("err=%v, want context.Canceled", err)
			}
		})
	}
}

func TestExactIndex_TiesKeepInsertionOrder(t *testing.T) {
	idx := NewExactIndex(0)
	_ = idx.Initialize(2, 4)
	_ = idx.Insert([]float32{1, 0}, 5)
	_ = idx.Insert([]float32{2, 0}, 3)
	_ = idx.Insert([]float32{3, 0}, 9)
	results, err := idx.Search(context.Background(), []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	want := []uint64{5, 3, 9}
	for i, r := range results {
		if r.ID != want[i] {
			t.Errorf("results[%d].ID=%d, want %d", i, r.ID, want[i])
		}
	}
}

func TestHNSWIndex_Recall(t *testing.T) {
	const (
		n   = 1500
		dim = 16
		k   = 5
	)
	rng := rand.New(rand.NewSource(7))
	vecs := randomVectors(rng, n, dim)

	hnsw := NewHNSWIndex(HNSWOptions{})
	exact := NewExactIndex(0)
	// Start small to exercise growth while the graph is being built.
	_ = hnsw.Initialize(dim, 100)
	_ = exact.Initialize(dim, 100)
	for i, v := range vecs {
		if err := hnsw.Insert(v, uint64(i)); err != nil {
			t.Fatalf("hnsw Insert(%d): %v", i, err)
		}
		if err := exact.Insert(v, uint64(i)); err != nil {
			t.Fatalf("exact Insert(%d): %v", i, err)
		}
	}
	if hnsw.CurrentCount() != n {
		t.Fatalf("CurrentCount=%d, want %d", hnsw.CurrentCount(), n)
	}

	ctx := context.Background()
	queries := randomVectors(rng, 50, dim)
	var found, total int
	for _, q := range queries {
		want, _ := exact.Search(ctx, q, k)
		got, err := hnsw.Search(ctx, q, k)
		if err != nil {
			t.Fatal(err)
		}
		ids := make(map[uint64]bool, len(got))
		for _, r := range got {
			ids[r.ID] = true
		}
		for _, r := range want {
			total++
			if ids[r.ID] {
				found++
			}
		}
	}
	recall := float64(found) / float64(total)
	if recall < 0.9 {
		t.Errorf("recall@%d=%.3f, want >= 0.9", k, recall)
	}
	t.Logf("recall@%d=%.3f max_level=%d", k, recall, hnsw.Stats().MaxLevel)
}

func TestHNSWIndex_FindsStoredVectors(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	vecs := randomVectors(rng, 300, 8)
	idx := NewHNSWIndex(HNSWOptions{M: 8, EfConstruction: 100})
	_ = idx.Initialize(8, 1)
	for i, v := range vecs {
		if err := idx.Insert(v, uint64(1000+i)); err != nil {
			t.Fatal(err)
		}
	}
	for i, v := range vecs {
		results, err := idx.Search(context.Background(), v, 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(results) != 1 || results[0].ID != uint64(1000+i) {
			t.Fatalf("vector %d: got %+v", i, results)
		}
		if results[0].Distance > 1e-4 {
			t.Errorf("vector %d: self distance %v", i, results[0].Distance)
		}
	}
}
