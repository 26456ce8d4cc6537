// Package decision answers queries from the semantic cache, falling back to generation on a miss.
package decision

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/semcache/internal/generation"
	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/vector"
	"github.com/hyperjump/semcache/pkg/utils"
)

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Cache is the similarity store consulted on every query.
type Cache interface {
	SearchSimilar(ctx context.Context, embedding []float32, k int) ([]*models.EmbeddingRecord, error)
	Store(ctx context.Context, query string, embedding []float32, response string) (*models.EmbeddingRecord, error)
}

// Engine decides between serving a cached response and generating a fresh one.
type Engine struct {
	cache     Cache
	embedder  Embedder
	generator generation.Generator

	initialThreshold float64
	threshold        atomic.Uint64 // math.Float64bits
	topK             int
	promptPrefix     string
	genOpts          generation.Options
	tally            *Tally
	logger           *zap.Logger
	missTimeout      time.Duration

	misses    singleflight.Group
	flightsMu sync.Mutex
	flights   map[string]*missFlight
}

// missFlight is the context shared by every caller waiting on one generation. It is
// cancelled when the last waiter leaves, so one caller giving up never fails the others.
type missFlight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// New creates a decision engine.
func New(cache Cache, embedder Embedder, generator generation.Generator, opts ...Option) (*Engine, error) {
	if cache == nil || embedder == nil || generator == nil {
		return nil, fmt.Errorf("decision engine requires a cache, an embedder and a generator")
	}
	e := &Engine{
		cache:            cache,
		embedder:         embedder,
		generator:        generator,
		initialThreshold: DefaultThreshold,
		topK:             DefaultTopK,
		logger:           zap.NewNop(),
		missTimeout:      DefaultMissTimeout,
		flights:          make(map[string]*missFlight),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.SetThreshold(e.initialThreshold); err != nil {
		return nil, err
	}
	return e, nil
}

// ValidateThreshold rejects thresholds outside (0, 1].
func ValidateThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold <= 0 || threshold > 1 {
		return fmt.Errorf("similarity threshold must be in (0, 1], got %v", threshold)
	}
	return nil
}

// SetThreshold changes the hit threshold for subsequent queries.
func (e *Engine) SetThreshold(threshold float64) error {
	if err := ValidateThreshold(threshold); err != nil {
		return err
	}
	e.threshold.Store(math.Float64bits(threshold))
	return nil
}

// Threshold returns the current hit threshold.
func (e *Engine) Threshold() float64 {
	return math.Float64frombits(e.threshold.Load())
}

// TopK returns the number of candidates re-scored per query.
func (e *Engine) TopK() int {
	return e.topK
}

// Query answers query, serving the best cached response when its exact similarity reaches the
// threshold and generating (then storing) a fresh one otherwise. additionalContext is only
// added to the generation prompt; the query text alone is embedded and stored.
func (e *Engine) Query(ctx context.Context, query, additionalContext string) (*models.Decision, error) {
	start := time.Now()
	query = utils.NormalizeText(query)

	embedding, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, models.ProviderError("embed", err)
	}

	candidates, err := ApproximateCandidates(ctx, e.cache, embedding, e.topK)
	if err != nil {
		return nil, err
	}

	threshold := e.Threshold()
	best, similarity := ExactRescore(embedding, candidates)
	if best != nil && similarity >= threshold {
		d := &models.Decision{
			Outcome:    models.OutcomeHit,
			Response:   best.Response,
			Similarity: similarity,
			RecordID:   best.ID,
			Candidates: len(candidates),
			Latency:    time.Since(start),
		}
		e.record(d)
		e.logger.Debug("cache hit",
			zap.Uint64("record_id", best.ID),
			zap.Float64("similarity", similarity),
			zap.Float64("threshold", threshold))
		return d, nil
	}

	record, shared, err := e.generate(ctx, query, additionalContext, embedding)
	if err != nil {
		return nil, err
	}
	d := &models.Decision{
		Outcome:    models.OutcomeMiss,
		Response:   record.Response,
		Similarity: similarity,
		RecordID:   record.ID,
		Candidates: len(candidates),
		Latency:    time.Since(start),
		Shared:     shared,
	}
	e.record(d)
	e.logger.Debug("cache miss",
		zap.Uint64("record_id", record.ID),
		zap.Float64("best_similarity", similarity),
		zap.Float64("threshold", threshold),
		zap.Int("candidates", len(candidates)),
		zap.Bool("shared", shared))
	return d, nil
}

// generate produces and stores a response. Concurrent misses for the same query and context
// share one generation call. Each caller stops waiting when its own ctx ends; the shared work
// is cancelled only once every waiter has left, and is bounded by the miss timeout.
func (e *Engine) generate(ctx context.Context, query, additionalContext string, embedding []float32) (*models.EmbeddingRecord, bool, error) {
	key := query + "\x00" + additionalContext
	flight := e.joinFlight(ctx, key)
	defer e.leaveFlight(key, flight)

	ch := e.misses.DoChan(key, func() (interface{}, error) {
		prompt := BuildPrompt(e.promptPrefix, additionalContext, query)
		response, err := e.generator.Generate(flight.ctx, prompt, e.genOpts)
		if err != nil {
			return nil, models.ProviderError("generate", err)
		}
		record, err := e.cache.Store(flight.ctx, query, embedding, response)
		if err != nil {
			return nil, fmt.Errorf("failed to store generated response: %w", err)
		}
		return record, nil
	})

	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Shared, res.Err
		}
		return res.Val.(*models.EmbeddingRecord), res.Shared, nil
	}
}

// joinFlight registers the caller as a waiter on key, creating the shared context on first use.
// The shared context keeps ctx's values but not its cancellation.
func (e *Engine) joinFlight(ctx context.Context, key string) *missFlight {
	e.flightsMu.Lock()
	defer e.flightsMu.Unlock()
	f, ok := e.flights[key]
	if !ok {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.missTimeout)
		f = &missFlight{ctx: fctx, cancel: cancel}
		e.flights[key] = f
	}
	f.waiters++
	return f
}

// leaveFlight drops a waiter. The last one out cancels the shared work and forgets the call so
// a later miss starts a fresh generation instead of joining a cancelled one.
func (e *Engine) leaveFlight(key string, f *missFlight) {
	e.flightsMu.Lock()
	defer e.flightsMu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if e.flights[key] == f {
		delete(e.flights, key)
		e.misses.Forget(key)
	}
}

func (e *Engine) record(d *models.Decision) {
	if e.tally != nil {
		e.tally.Record(d)
	}
}

// ApproximateCandidates fetches up to k records whose embeddings are near embedding in the
// approximate index, in rank order.
func ApproximateCandidates(ctx context.Context, cache Cache, embedding []float32, k int) ([]*models.EmbeddingRecord, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	candidates, err := cache.SearchSimilar(ctx, embedding, k)
	if err != nil {
		return nil, fmt.Errorf("failed to search cache: %w", err)
	}
	return candidates, nil
}

// ExactRescore computes the exact cosine similarity between embedding and every candidate and
// returns the best one. Ties keep the earliest candidate. It returns nil when there are no
// candidates.
func ExactRescore(embedding []float32, candidates []*models.EmbeddingRecord) (*models.EmbeddingRecord, float64) {
	var (
		best    *models.EmbeddingRecord
		bestSim float64
	)
	for _, c := range candidates {
		sim := vector.CosineSimilarity(embedding, c.Embedding)
		if best == nil || sim > bestSim {
			best, bestSim = c, sim
		}
	}
	return best, bestSim
}

// BuildPrompt joins the optional prefix and context lines with the query.
func BuildPrompt(prefix, additionalContext, query string) string {
	var sb strings.Builder
	if prefix != "" {
		sb.WriteString(prefix)
		sb.WriteString("\n")
	}
	if additionalContext != "" {
		sb.WriteString(additionalContext)
		sb.WriteString("\n")
	}
	sb.WriteString(query)
	return sb.String()
}
