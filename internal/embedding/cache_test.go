package embedding

import (
	"context"
	"errors"
	"testing"
)

func TestEmbeddingCache_GetSet(t *testing.T) {
	c := NewEmbeddingCache(2)
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("expected b to remain")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be present")
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
}

func TestEmbeddingCache_ReturnsCopies(t *testing.T) {
	c := NewEmbeddingCache(1)
	c.Set("a", []float32{1})
	v, _ := c.Get("a")
	v[0] = 9
	again, _ := c.Get("a")
	if again[0] != 1 {
		t.Errorf("cached value was mutated: %v", again)
	}
}

func TestCachedEmbedder(t *testing.T) {
	inner := NewMockEmbedder(8)
	c := NewCachedEmbedder(inner, 10)
	ctx := context.Background()

	first, err := c.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Embed(ctx, "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if inner.Calls() != 1 {
		t.Errorf("inner calls=%d, want 1", inner.Calls())
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("cached embedding differs")
		}
	}

	batch, err := c.EmbedBatch(ctx, []string{"hello world", "new text"})
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 || batch[1] == nil {
		t.Fatalf("batch=%v", batch)
	}
	if inner.Calls() != 2 {
		t.Errorf("inner calls=%d, want 2", inner.Calls())
	}
	if c.Dimensions() != 8 {
		t.Errorf("Dimensions=%d", c.Dimensions())
	}
}

func TestCachedEmbedder_ErrorsNotCached(t *testing.T) {
	inner := NewMockEmbedder(4)
	c := NewCachedEmbedder(inner, 10)
	inner.FailWith(errors.New("down"))
	if _, err := c.Embed(context.Background(), "x"); err == nil {
		t.Fatal("expected error")
	}
	inner.FailWith(nil)
	if _, err := c.Embed(context.Background(), "x"); err != nil {
		t.Fatal(err)
	}
	if inner.Calls() != 2 {
		t.Errorf("inner calls=%d, want 2", inner.Calls())
	}
}
