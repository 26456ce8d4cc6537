package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/hyperjump/semcache/internal/models"
)

// MemoryBackend keeps collections in process memory. Nothing survives a restart;
// intended for tests and throwaway caches.
type MemoryBackend struct {
	opts        options
	collections map[string]*memoryCollection
	mu          sync.Mutex
}

type memoryCollection struct {
	backend   *MemoryBackend
	name      string
	dimension int
	records   map[uint64]*memoryEntry
	updatedAt int64
	expiresAt *int64
}

type memoryEntry struct {
	rec       models.EmbeddingRecord
	expiresAt *int64
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend(opts ...Option) (*MemoryBackend, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	return &MemoryBackend{opts: o, collections: make(map[string]*memoryCollection)}, nil
}

// Collection returns the store for dimension.
func (b *MemoryBackend) Collection(ctx context.Context, dimension int) (RecordStore, error) {
	if err := checkDimension(dimension); err != nil {
		return nil, err
	}
	name := collectionName(b.opts.prefix, dimension)
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.collections[name]
	if !ok {
		c = &memoryCollection{backend: b, name: name, dimension: dimension, records: make(map[uint64]*memoryEntry)}
		b.collections[name] = c
	}
	return c, nil
}

// Dimensions lists non-empty live collections, most recently written first.
func (b *MemoryBackend) Dimensions(ctx context.Context) ([]int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	live := make([]*memoryCollection, 0, len(b.collections))
	for _, c := range b.collections {
		c.purgeLocked()
		if len(c.records) > 0 {
			live = append(live, c)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].updatedAt > live[j].updatedAt })
	dims := make([]int, len(live))
	for i, c := range live {
		dims[i] = c.dimension
	}
	return dims, nil
}

// Close is a no-op for MemoryBackend.
func (b *MemoryBackend) Close() error {
	return nil
}

func (c *memoryCollection) Name() string { return c.name }

// purgeLocked drops expired state. Caller holds backend.mu.
func (c *memoryCollection) purgeLocked() {
	now := c.backend.opts.now().UnixMilli()
	if c.expiresAt != nil && *c.expiresAt <= now {
		c.records = make(map[uint64]*memoryEntry)
		c.expiresAt = nil
		return
	}
	for id, e := range c.records {
		if e.expiresAt != nil && *e.expiresAt <= now {
			delete(c.records, id)
		}
	}
}

func (c *memoryCollection) Put(ctx context.Context, rec *models.EmbeddingRecord) error {
	if err := models.CheckDimension(rec.Embedding, c.dimension); err != nil {
		return err
	}
	b := c.backend
	b.mu.Lock()
	defer b.mu.Unlock()
	c.purgeLocked()

	now := b.opts.now()
	expiry := b.opts.expiresAt(now)
	entry := &memoryEntry{rec: copyRecord(rec)}
	if b.opts.ttlMode == TTLModeRecord {
		entry.expiresAt = expiry
	} else {
		c.expiresAt = expiry
	}
	c.records[rec.ID] = entry
	c.updatedAt = now.UnixNano()
	return nil
}

func (c *memoryCollection) GetAll(ctx context.Context) ([]*models.EmbeddingRecord, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.purgeLocked()
	recs := make([]*models.EmbeddingRecord, 0, len(c.records))
	for _, e := range c.records {
		r := copyRecord(&e.rec)
		recs = append(recs, &r)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].ID < recs[j].ID })
	return recs, nil
}

func (c *memoryCollection) GetMany(ctx context.Context, ids []uint64) ([]*models.EmbeddingRecord, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.purgeLocked()
	recs := make([]*models.EmbeddingRecord, 0, len(ids))
	for _, id := range ids {
		if e, ok := c.records[id]; ok {
			r := copyRecord(&e.rec)
			recs = append(recs, &r)
		}
	}
	return recs, nil
}

func (c *memoryCollection) Count(ctx context.Context) (int64, error) {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.purgeLocked()
	return int64(len(c.records)), nil
}

func (c *memoryCollection) Clear(ctx context.Context) error {
	c.backend.mu.Lock()
	defer c.backend.mu.Unlock()
	c.records = make(map[uint64]*memoryEntry)
	c.expiresAt = nil
	return nil
}

func copyRecord(rec *models.EmbeddingRecord) models.EmbeddingRecord {
	out := *rec
	if rec.Embedding != nil {
		out.Embedding = make([]float32, len(rec.Embedding))
		copy(out.Embedding, rec.Embedding)
	}
	return out
}
