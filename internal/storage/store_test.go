package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/semcache/internal/models"
)

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type backendFactory func(t *testing.T, opts ...Option) Backend

// runRecordStoreSuite checks the RecordStore contract against one backend.
func runRecordStoreSuite(t *testing.T, newBackend backendFactory) {
	ctx := context.Background()
	rec := func(id uint64, v ...float32) *models.EmbeddingRecord {
		return models.NewEmbeddingRecord(id, "query", v, "response")
	}

	t.Run("put and get", func(t *testing.T) {
		store, err := newBackend(t).Collection(ctx, 2)
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, rec(0, 1, 0)))
		require.NoError(t, store.Put(ctx, rec(1, 0, 1)))
		require.NoError(t, store.Put(ctx, rec(2, 1, 1)))

		all, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 3)
		for i, r := range all {
			assert.Equal(t, uint64(i), r.ID)
		}
		assert.Equal(t, []float32{0, 1}, all[1].Embedding)

		n, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("get many keeps request order and drops missing", func(t *testing.T) {
		store, err := newBackend(t).Collection(ctx, 2)
		require.NoError(t, err)
		for i := uint64(0); i < 3; i++ {
			require.NoError(t, store.Put(ctx, rec(i, 1, float32(i))))
		}

		got, err := store.GetMany(ctx, []uint64{2, 99, 0})
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, uint64(2), got[0].ID)
		assert.Equal(t, uint64(0), got[1].ID)

		none, err := store.GetMany(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("put is an upsert", func(t *testing.T) {
		store, err := newBackend(t).Collection(ctx, 2)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, rec(5, 1, 0)))
		updated := rec(5, 0, 1)
		updated.Response = "second"
		require.NoError(t, store.Put(ctx, updated))

		all, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, "second", all[0].Response)
	})

	t.Run("dimension mismatch rejected", func(t *testing.T) {
		store, err := newBackend(t).Collection(ctx, 3)
		require.NoError(t, err)
		err = store.Put(ctx, rec(0, 1, 0))
		assert.True(t, errors.Is(err, models.ErrDimensionMismatch))
		n, _ := store.Count(ctx)
		assert.Zero(t, n)
	})

	t.Run("collections are scoped per dimension", func(t *testing.T) {
		b := newBackend(t)
		two, err := b.Collection(ctx, 2)
		require.NoError(t, err)
		three, err := b.Collection(ctx, 3)
		require.NoError(t, err)
		assert.NotEqual(t, two.Name(), three.Name())

		require.NoError(t, two.Put(ctx, rec(0, 1, 0)))
		require.NoError(t, three.Put(ctx, rec(0, 1, 0, 0)))
		require.NoError(t, three.Clear(ctx))

		n, _ := two.Count(ctx)
		assert.Equal(t, int64(1), n)
		n, _ = three.Count(ctx)
		assert.Zero(t, n)

		dims, err := b.Dimensions(ctx)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, dims)
	})

	t.Run("clear removes everything", func(t *testing.T) {
		store, err := newBackend(t).Collection(ctx, 2)
		require.NoError(t, err)
		require.NoError(t, store.Put(ctx, rec(0, 1, 0)))
		require.NoError(t, store.Clear(ctx))
		all, err := store.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("collection ttl refreshed by every write", func(t *testing.T) {
		clock := newFakeClock()
		store, err := newBackend(t, WithTTL(time.Minute, TTLModeCollection), WithClock(clock.Now)).Collection(ctx, 2)
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, rec(0, 1, 0)))
		clock.Advance(50 * time.Second)
		require.NoError(t, store.Put(ctx, rec(1, 0, 1)))
		clock.Advance(50 * time.Second)

		// 100s after the first write, but only 50s after the last one.
		all, err := store.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 2)

		clock.Advance(11 * time.Second)
		all, err = store.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all, "whole collection should expire together")
	})

	t.Run("record ttl expires records independently", func(t *testing.T) {
		clock := newFakeClock()
		store, err := newBackend(t, WithTTL(time.Minute, TTLModeRecord), WithClock(clock.Now)).Collection(ctx, 2)
		require.NoError(t, err)

		require.NoError(t, store.Put(ctx, rec(0, 1, 0)))
		clock.Advance(50 * time.Second)
		require.NoError(t, store.Put(ctx, rec(1, 0, 1)))
		clock.Advance(20 * time.Second)

		all, err := store.GetAll(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, uint64(1), all[0].ID)

		got, err := store.GetMany(ctx, []uint64{0, 1})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(1), got[0].ID)
	})
}

func TestMemoryBackend_RecordStore(t *testing.T) {
	runRecordStoreSuite(t, func(t *testing.T, opts ...Option) Backend {
		b, err := NewMemoryBackend(opts...)
		require.NoError(t, err)
		return b
	})
}

func TestMemoryBackend_ReturnsCopies(t *testing.T) {
	b, err := NewMemoryBackend()
	require.NoError(t, err)
	ctx := context.Background()
	store, _ := b.Collection(ctx, 2)
	vec := []float32{1, 0}
	require.NoError(t, store.Put(ctx, models.NewEmbeddingRecord(0, "q", vec, "r")))

	all, _ := store.GetAll(ctx)
	all[0].Embedding[0] = 42
	again, _ := store.GetAll(ctx)
	assert.Equal(t, float32(1), again[0].Embedding[0])
}

func TestNew_UnknownType(t *testing.T) {
	_, err := New("redis", "", "")
	assert.Error(t, err)
}

func TestNew_Memory(t *testing.T) {
	b, err := New("memory", "", "")
	require.NoError(t, err)
	_, ok := b.(*MemoryBackend)
	assert.True(t, ok)
}
