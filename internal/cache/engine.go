// Package cache owns the record store and vector index that back the semantic cache and
// keeps them consistent.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/storage"
	"github.com/hyperjump/semcache/internal/vector"
)

// State is the engine lifecycle state.
type State int32

const (
	// StateEmpty means no index is loaded: before the first load and after Clear.
	StateEmpty State = iota
	// StateLoading means the index is being rebuilt from the store.
	StateLoading
	// StateReady means the index mirrors the store and serves searches.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Engine pairs one RecordStore with one VectorIndex of the same dimension.
//
// Store calls are serialized: id assignment, the record write and the index insert happen under
// the write lock. Searches share the read lock. A crash between record write and index insert
// leaves a record the index does not know about; the next load picks it up.
type Engine struct {
	backend      storage.Backend
	indexOpts    vector.Options
	lazyCapacity int
	logger       *zap.Logger

	mu        sync.RWMutex
	state     State
	dimension int
	store     storage.RecordStore
	index     vector.VectorIndex
	nextID    uint64
}

// Stats is a snapshot of engine state.
type Stats struct {
	State          State
	Dimension      int
	Records        int64
	NextID         uint64
	Index          vector.IndexStats
	DiskUsageBytes *int64
}

// New creates an engine over backend. Call Initialize to load existing records; searches
// and stores load lazily otherwise.
func New(backend storage.Backend, opts ...Option) *Engine {
	e := &Engine{
		backend:      backend,
		lazyCapacity: DefaultLazyCapacity,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize loads all records and rebuilds the index. Loading an already loaded engine
// rebuilds it from the store again.
func (e *Engine) Initialize(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.loadLocked(ctx)
}

// loadLocked rebuilds the index from the store. Caller holds the write lock.
func (e *Engine) loadLocked(ctx context.Context) error {
	if e.dimension == 0 {
		dims, err := e.backend.Dimensions(ctx)
		if err != nil {
			return fmt.Errorf("failed to list collections: %w", err)
		}
		if len(dims) == 0 {
			// Nothing stored yet; the first vector will fix the dimension.
			e.state = StateEmpty
			return nil
		}
		e.dimension = dims[0]
		if len(dims) > 1 {
			e.logger.Warn("multiple collections found, using the most recent",
				zap.Int("dimension", dims[0]),
				zap.Ints("dimensions", dims))
		}
	}
	if err := e.bindLocked(ctx); err != nil {
		return err
	}

	prev := e.state
	e.state = StateLoading
	recs, err := e.store.GetAll(ctx)
	if err != nil {
		e.state = prev
		return fmt.Errorf("failed to load records: %w", err)
	}
	for _, r := range recs {
		if r.Embedding == nil {
			e.state = prev
			return &models.CorruptRecordError{ID: r.ID, Reason: "missing or undecodable embedding"}
		}
		if len(r.Embedding) != e.dimension {
			e.state = prev
			return &models.CorruptRecordError{
				ID:     r.ID,
				Reason: fmt.Sprintf("embedding has %d components, collection dimension is %d", len(r.Embedding), e.dimension),
			}
		}
	}

	idx, err := vector.NewVectorIndex(e.indexOpts)
	if err != nil {
		e.state = prev
		return err
	}
	if err := idx.Initialize(e.dimension, max(len(recs), 1)); err != nil {
		e.state = prev
		return err
	}
	var next uint64
	for _, r := range recs {
		if err := idx.Insert(r.Embedding, r.ID); err != nil {
			e.state = prev
			return fmt.Errorf("failed to index record %d: %w", r.ID, err)
		}
		if r.ID >= next {
			next = r.ID + 1
		}
	}

	e.index = idx
	e.nextID = next
	e.state = StateReady
	e.logger.Info("cache loaded",
		zap.String("collection", e.store.Name()),
		zap.Int("dimension", e.dimension),
		zap.Int("records", len(recs)),
		zap.Uint64("next_id", next))
	return nil
}

// bindLocked opens the collection for e.dimension once.
func (e *Engine) bindLocked(ctx context.Context) error {
	if e.store != nil {
		return nil
	}
	store, err := e.backend.Collection(ctx, e.dimension)
	if err != nil {
		return fmt.Errorf("failed to open collection: %w", err)
	}
	e.store = store
	return nil
}

// Store assigns the next id to a new record, writes it and indexes it.
func (e *Engine) Store(ctx context.Context, query string, embedding []float32, response string) (*models.EmbeddingRecord, error) {
	if len(embedding) == 0 {
		return nil, &models.DimensionMismatchError{Expected: e.Dimension(), Actual: 0}
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.dimension == 0 && e.state == StateEmpty {
		if err := e.loadLocked(ctx); err != nil {
			return nil, err
		}
		if e.dimension == 0 {
			e.dimension = len(embedding)
			e.logger.Info("embedding dimension inferred", zap.Int("dimension", e.dimension))
		}
	}
	if err := models.CheckDimension(embedding, e.dimension); err != nil {
		return nil, err
	}
	if err := e.bindLocked(ctx); err != nil {
		return nil, err
	}
	if err := e.ensureIndexLocked(ctx); err != nil {
		return nil, err
	}

	rec := models.NewEmbeddingRecord(e.nextID, query, embedding, response)
	if err := e.store.Put(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record %d: %w", rec.ID, err)
	}
	e.nextID++
	if err := e.index.Insert(rec.Embedding, rec.ID); err != nil {
		// The record is durable; the next load indexes it.
		e.logger.Error("record stored but not indexed",
			zap.Uint64("record_id", rec.ID),
			zap.Error(err))
		return nil, fmt.Errorf("failed to index record %d: %w", rec.ID, err)
	}
	e.logger.Debug("record stored",
		zap.Uint64("record_id", rec.ID),
		zap.Int("index_count", e.index.CurrentCount()))
	return rec, nil
}

// ensureIndexLocked makes the index ready before a store. An empty store gets a fresh index
// with the lazy capacity; a non-empty one is loaded so no stored id is reused.
func (e *Engine) ensureIndexLocked(ctx context.Context) error {
	if e.state == StateReady {
		return nil
	}
	n, err := e.store.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count records: %w", err)
	}
	if n > 0 {
		return e.loadLocked(ctx)
	}
	idx, err := vector.NewVectorIndex(e.indexOpts)
	if err != nil {
		return err
	}
	if err := idx.Initialize(e.dimension, e.lazyCapacity); err != nil {
		return err
	}
	e.logger.Info("index initialized for first record",
		zap.Int("dimension", e.dimension),
		zap.Int("capacity", e.lazyCapacity))
	e.index = idx
	e.state = StateReady
	return nil
}

// SearchSimilar returns up to k stored records nearest to embedding, in index rank order.
// Ids the store no longer has are dropped. When the store has expired records the index still
// holds, the index is rebuilt from the store and the search runs once more.
func (e *Engine) SearchSimilar(ctx context.Context, embedding []float32, k int) ([]*models.EmbeddingRecord, error) {
	if dim := e.Dimension(); dim > 0 {
		if err := models.CheckDimension(embedding, dim); err != nil {
			return nil, err
		}
	}
	if err := e.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	recs, stale, err := e.search(ctx, embedding, k)
	if err != nil || !stale {
		return recs, err
	}
	if err := e.rebuild(ctx); err != nil {
		return nil, err
	}
	recs, _, err = e.search(ctx, embedding, k)
	return recs, err
}

// search runs one index query and hydrates the hits. stale reports that the store was missing
// some of the ids the index returned.
func (e *Engine) search(ctx context.Context, embedding []float32, k int) (recs []*models.EmbeddingRecord, stale bool, err error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.dimension == 0 {
		// Nothing has ever been stored.
		return []*models.EmbeddingRecord{}, false, nil
	}
	if err := models.CheckDimension(embedding, e.dimension); err != nil {
		return nil, false, err
	}
	if e.state != StateReady {
		// Cleared concurrently.
		return []*models.EmbeddingRecord{}, false, nil
	}
	if k <= 0 || e.index.CurrentCount() == 0 {
		return []*models.EmbeddingRecord{}, false, nil
	}

	hits, err := e.index.Search(ctx, embedding, min(k, e.index.CurrentCount()))
	if err != nil {
		if errors.Is(err, models.ErrUninitializedIndex) {
			return []*models.EmbeddingRecord{}, false, nil
		}
		return nil, false, err
	}
	ids := make([]uint64, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	found, err := e.store.GetMany(ctx, ids)
	if err != nil {
		return nil, false, fmt.Errorf("failed to hydrate candidates: %w", err)
	}
	stale = len(found) < len(ids)
	out := found[:0]
	for _, r := range found {
		if len(r.Embedding) != e.dimension {
			e.logger.Warn("dropping candidate with malformed embedding", zap.Uint64("record_id", r.ID))
			continue
		}
		out = append(out, r)
	}
	return out, stale, nil
}

// rebuild reloads the index from the store after records expired under it. The id cursor
// never moves backwards, so ids of expired records are not handed out again.
func (e *Engine) rebuild(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateReady {
		return nil
	}
	before := e.index.CurrentCount()
	next := e.nextID
	if err := e.loadLocked(ctx); err != nil {
		return err
	}
	e.nextID = max(e.nextID, next)
	e.logger.Info("index rebuilt after records expired",
		zap.Int("before", before),
		zap.Int("after", e.index.CurrentCount()))
	return nil
}

// ensureLoaded loads the index when it has not been loaded since start or the last Clear.
func (e *Engine) ensureLoaded(ctx context.Context) error {
	e.mu.RLock()
	ready := e.state == StateReady
	e.mu.RUnlock()
	if ready {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state == StateReady {
		return nil
	}
	return e.loadLocked(ctx)
}

// Clear removes every record, drops the index and resets the id cursor to 0.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil && e.dimension > 0 {
		if err := e.bindLocked(ctx); err != nil {
			return err
		}
	}
	if e.store != nil {
		if err := e.store.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear records: %w", err)
		}
	}
	e.index = nil
	e.nextID = 0
	e.state = StateEmpty
	e.logger.Info("cache cleared", zap.Int("dimension", e.dimension))
	return nil
}

// State returns the lifecycle state.
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Dimension returns the bound dimension, or 0 when not yet known.
func (e *Engine) Dimension() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.dimension
}

// NextID returns the id the next stored record will get.
func (e *Engine) NextID() uint64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.nextID
}

// Stats returns a snapshot of engine and index state.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	s := &Stats{
		State:     e.state,
		Dimension: e.dimension,
		NextID:    e.nextID,
	}
	s.Index = e.indexStatsLocked()
	if e.store != nil {
		n, err := e.store.Count(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to count records: %w", err)
		}
		s.Records = n
	}
	if dr, ok := e.backend.(storage.DiskReporter); ok {
		if n, err := dr.DiskUsageBytes(); err == nil {
			s.DiskUsageBytes = &n
		}
	}
	return s, nil
}

// IndexStats returns the index statistics without querying the store.
func (e *Engine) IndexStats() vector.IndexStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.indexStatsLocked()
}

func (e *Engine) indexStatsLocked() vector.IndexStats {
	if e.index != nil {
		return e.index.Stats()
	}
	st := vector.IndexStats{Type: e.indexOpts.Type, Dimension: e.dimension}
	if st.Type == "" {
		st.Type = string(vector.IndexTypeHNSW)
	}
	return st
}
