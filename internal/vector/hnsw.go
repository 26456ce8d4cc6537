package vector

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/bits-and-blooms/bitset"

	"github.com/hyperjump/semcache/internal/models"
)

// HNSWOptions configures the HNSW graph.
type HNSWOptions struct {
	// M is the number of links created per node on layers above 0. Layer 0 allows 2*M.
	M int
	// EfConstruction is the candidate list size used while inserting.
	EfConstruction int
	// EfSearch is the candidate list size used while searching. Raised to k when smaller.
	EfSearch int
	// CapacityIncrement is the number of slots added when the index is full.
	CapacityIncrement int
	// Seed drives level assignment. Zero uses a fixed default so builds are reproducible.
	Seed int64
}

// DefaultHNSWOptions returns the options used when none are configured.
func DefaultHNSWOptions() HNSWOptions {
	return HNSWOptions{
		M:                 16,
		EfConstruction:    200,
		EfSearch:          64,
		CapacityIncrement: DefaultCapacityIncrement,
		Seed:              42,
	}
}

type hnswNode struct {
	id     uint64
	vector []float32 // normalized copy
	level  int
	links  [][]uint32 // per layer, slots of neighbours
}

// HNSWIndex is a hierarchical navigable small world graph over cosine distance.
// External uint64 ids map to dense internal slots; inserting an existing id is rejected.
type HNSWIndex struct {
	opts        HNSWOptions
	dimension   int
	capacity    int
	mmax        int
	mmax0       int
	ml          float64
	nodes       []*hnswNode
	slots       map[uint64]uint32
	entry       uint32
	maxLevel    int
	initialized bool
	rng         *rand.Rand
	mu          sync.RWMutex
}

// NewHNSWIndex creates an uninitialized HNSW index.
func NewHNSWIndex(opts HNSWOptions) *HNSWIndex {
	def := DefaultHNSWOptions()
	if opts.M < 2 {
		// M == 1 makes ml = 1/ln(1) infinite.
		opts.M = def.M
	}
	if opts.EfConstruction <= 0 {
		opts.EfConstruction = def.EfConstruction
	}
	if opts.EfSearch <= 0 {
		opts.EfSearch = def.EfSearch
	}
	if opts.CapacityIncrement <= 0 {
		opts.CapacityIncrement = def.CapacityIncrement
	}
	if opts.Seed == 0 {
		opts.Seed = def.Seed
	}
	return &HNSWIndex{
		opts:  opts,
		mmax:  opts.M,
		mmax0: 2 * opts.M,
		ml:    1 / math.Log(float64(opts.M)),
		rng:   rand.New(rand.NewSource(opts.Seed)), // nolint:gosec
	}
}

// Type returns the index type identifier.
func (h *HNSWIndex) Type() string {
	return string(IndexTypeHNSW)
}

// Initialize allocates the graph for initialCapacity points of the given dimension.
func (h *HNSWIndex) Initialize(dimension, initialCapacity int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.initialized {
		return models.ErrIndexInitialized
	}
	h.dimension = dimension
	h.capacity = initialCapacity
	h.nodes = make([]*hnswNode, 0, initialCapacity)
	h.slots = make(map[uint64]uint32, initialCapacity)
	h.initialized = true
	return nil
}

// Insert adds vector under id, growing capacity first when the index is full.
func (h *HNSWIndex) Insert(vector []float32, id uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.initialized {
		return models.ErrUninitializedIndex
	}
	if err := models.CheckDimension(vector, h.dimension); err != nil {
		return err
	}
	if _, exists := h.slots[id]; exists {
		return fmt.Errorf("%w: %d", models.ErrDuplicateID, id)
	}
	if len(h.nodes) >= h.capacity {
		h.growLocked()
	}

	level := h.randomLevel()
	node := &hnswNode{
		id:     id,
		vector: Normalized(vector),
		level:  level,
		links:  make([][]uint32, level+1),
	}
	slot := uint32(len(h.nodes))
	h.nodes = append(h.nodes, node)
	h.slots[id] = slot

	if slot == 0 {
		h.entry = slot
		h.maxLevel = level
		return nil
	}

	ep := queueItem{slot: h.entry, distance: cosineDistance(node.vector, h.nodes[h.entry].vector)}
	for l := h.maxLevel; l > level; l-- {
		ep = h.greedyClosest(node.vector, ep, l)
	}

	for l := min(level, h.maxLevel); l >= 0; l-- {
		candidates := h.searchLayer(node.vector, ep, h.opts.EfConstruction, l)
		neighbours := h.selectNeighbours(candidates, h.opts.M)
		node.links[l] = make([]uint32, 0, len(neighbours))
		for _, n := range neighbours {
			node.links[l] = append(node.links[l], n.slot)
		}
		for _, n := range neighbours {
			h.link(n.slot, slot, l)
		}
		if len(candidates) > 0 {
			ep = candidates[0]
		}
	}

	if level > h.maxLevel {
		h.entry = slot
		h.maxLevel = level
	}
	return nil
}

// Search returns up to k ids closest to query by cosine distance.
func (h *HNSWIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if !h.initialized {
		return nil, models.ErrUninitializedIndex
	}
	if err := models.CheckDimension(query, h.dimension); err != nil {
		return nil, err
	}
	if k <= 0 || len(h.nodes) == 0 {
		return []*VectorResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	k = min(k, len(h.nodes))

	q := Normalized(query)
	ep := queueItem{slot: h.entry, distance: cosineDistance(q, h.nodes[h.entry].vector)}
	for l := h.maxLevel; l > 0; l-- {
		ep = h.greedyClosest(q, ep, l)
	}
	candidates := h.searchLayer(q, ep, max(h.opts.EfSearch, k), 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]*VectorResult, len(candidates))
	for i, c := range candidates {
		results[i] = &VectorResult{ID: h.nodes[c.slot].id, Distance: float64(c.distance)}
	}
	return results, nil
}

// CurrentCount returns the number of points in the index.
func (h *HNSWIndex) CurrentCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.nodes)
}

// Capacity returns the number of allocated slots.
func (h *HNSWIndex) Capacity() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.capacity
}

// Dimension returns the configured dimension, or 0 before Initialize.
func (h *HNSWIndex) Dimension() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dimension
}

// Initialized reports whether Initialize has run.
func (h *HNSWIndex) Initialized() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.initialized
}

// Stats returns graph introspection data.
func (h *HNSWIndex) Stats() IndexStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return IndexStats{
		Type:      h.Type(),
		Dimension: h.dimension,
		Count:     len(h.nodes),
		Capacity:  h.capacity,
		MaxLevel:  h.maxLevel,
	}
}

func (h *HNSWIndex) growLocked() {
	h.capacity = grownCapacity(h.capacity, h.opts.CapacityIncrement)
	nodes := make([]*hnswNode, len(h.nodes), h.capacity)
	copy(nodes, h.nodes)
	h.nodes = nodes
}

func (h *HNSWIndex) randomLevel() int {
	return int(math.Floor(-math.Log(1-h.rng.Float64()) * h.ml))
}

// greedyClosest walks layer l from ep, moving to any closer neighbour until none is closer.
func (h *HNSWIndex) greedyClosest(q []float32, ep queueItem, l int) queueItem {
	for changed := true; changed; {
		changed = false
		node := h.nodes[ep.slot]
		if l >= len(node.links) {
			break
		}
		for _, n := range node.links[l] {
			if d := cosineDistance(q, h.nodes[n].vector); d < ep.distance {
				ep = queueItem{slot: n, distance: d}
				changed = true
			}
		}
	}
	return ep
}

// searchLayer returns up to ef closest slots on layer l, sorted by ascending distance.
func (h *HNSWIndex) searchLayer(q []float32, ep queueItem, ef, l int) []queueItem {
	visited := bitset.New(uint(len(h.nodes)))
	visited.Set(uint(ep.slot))

	candidates := &priorityQueue{}
	results := &priorityQueue{max: true}
	candidates.push(ep)
	results.push(ep)

	for candidates.Len() > 0 {
		c := candidates.pop()
		if c.distance > results.top().distance {
			break
		}
		node := h.nodes[c.slot]
		if l >= len(node.links) {
			continue
		}
		for _, n := range node.links[l] {
			if visited.Test(uint(n)) {
				continue
			}
			visited.Set(uint(n))
			d := cosineDistance(q, h.nodes[n].vector)
			if results.Len() < ef || d < results.top().distance {
				item := queueItem{slot: n, distance: d}
				candidates.push(item)
				results.push(item)
				if results.Len() > ef {
					results.pop()
				}
			}
		}
	}

	out := make([]queueItem, results.Len())
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = results.pop()
	}
	return out
}

// selectNeighbours applies the HNSW neighbour heuristic to candidates sorted by ascending
// distance: a candidate is kept when it is closer to the base than to every kept neighbour.
// Pruned candidates backfill the result when fewer than m survive.
func (h *HNSWIndex) selectNeighbours(candidates []queueItem, m int) []queueItem {
	if len(candidates) <= m {
		return candidates
	}
	selected := make([]queueItem, 0, m)
	pruned := make([]queueItem, 0, len(candidates))
	for _, c := range candidates {
		if len(selected) >= m {
			break
		}
		keep := true
		for _, s := range selected {
			if cosineDistance(h.nodes[c.slot].vector, h.nodes[s.slot].vector) < c.distance {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, c)
		} else {
			pruned = append(pruned, c)
		}
	}
	for i := 0; len(selected) < m && i < len(pruned); i++ {
		selected = append(selected, pruned[i])
	}
	return selected
}

// link adds a back-link from slot `from` to `to` on layer l, re-selecting neighbours when
// the node exceeds its connection budget.
func (h *HNSWIndex) link(from, to uint32, l int) {
	node := h.nodes[from]
	if l >= len(node.links) {
		return
	}
	node.links[l] = append(node.links[l], to)
	maxConn := h.mmax
	if l == 0 {
		maxConn = h.mmax0
	}
	if len(node.links[l]) <= maxConn {
		return
	}
	candidates := make([]queueItem, len(node.links[l]))
	for i, n := range node.links[l] {
		candidates[i] = queueItem{slot: n, distance: cosineDistance(node.vector, h.nodes[n].vector)}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	kept := h.selectNeighbours(candidates, maxConn)
	links := make([]uint32, len(kept))
	for i, c := range kept {
		links[i] = c.slot
	}
	node.links[l] = links
}
