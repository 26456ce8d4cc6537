package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/pkg/utils"
)

// Embedder embeds questions in batches.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Store persists a question, its embedding and its answer.
type Store interface {
	Store(ctx context.Context, query string, embedding []float32, response string) (*models.EmbeddingRecord, error)
}

const (
	defaultBatchSize   = 32
	defaultConcurrency = 4
)

// Seeder embeds and stores Q&A pairs.
type Seeder struct {
	embedder    Embedder
	store       Store
	batchSize   int
	concurrency int
	logger      *zap.Logger
}

// Option configures a Seeder.
type Option func(*Seeder)

// WithLogger sets a logger for progress output.
func WithLogger(l *zap.Logger) Option {
	return func(s *Seeder) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBatchSize sets how many questions are embedded per provider call.
func WithBatchSize(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithConcurrency bounds the number of embedding batches in flight.
func WithConcurrency(n int) Option {
	return func(s *Seeder) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// NewSeeder creates a seeder over embedder and store.
func NewSeeder(embedder Embedder, store Store, opts ...Option) *Seeder {
	s := &Seeder{
		embedder:    embedder,
		store:       store,
		batchSize:   defaultBatchSize,
		concurrency: defaultConcurrency,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Report summarizes a seed run.
type Report struct {
	RunID    string        `json:"run_id"`
	Stored   int           `json:"stored"`
	FirstID  uint64        `json:"first_id"`
	LastID   uint64        `json:"last_id"`
	Duration time.Duration `json:"duration"`
}

// Run embeds and stores up to limit pairs (all when limit <= 0) in dataset order. Embedding
// runs in concurrent batches; stores run sequentially so ids follow dataset order. On error the
// report counts what was stored before the failure.
func (s *Seeder) Run(ctx context.Context, pairs []Pair, limit int) (*Report, error) {
	start := time.Now()
	report := &Report{RunID: uuid.New().String()}
	if limit > 0 && limit < len(pairs) {
		pairs = pairs[:limit]
	}
	if len(pairs) == 0 {
		return report, nil
	}

	embeddings := make([][]float32, len(pairs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for lo := 0; lo < len(pairs); lo += s.batchSize {
		hi := min(lo+s.batchSize, len(pairs))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i := range texts {
				texts[i] = pairs[lo+i].Question
			}
			embs, err := s.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return models.ProviderError("embed", err)
			}
			if len(embs) != len(texts) {
				return fmt.Errorf("embedder returned %d vectors for %d texts", len(embs), len(texts))
			}
			copy(embeddings[lo:hi], embs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		report.Duration = time.Since(start)
		return report, err
	}

	for i, p := range pairs {
		if err := ctx.Err(); err != nil {
			report.Duration = time.Since(start)
			return report, err
		}
		rec, err := s.store.Store(ctx, p.Question, embeddings[i], p.Answer)
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("store pair %d: %w", i, err)
		}
		if report.Stored == 0 {
			report.FirstID = rec.ID
		}
		report.LastID = rec.ID
		report.Stored++
	}
	report.Duration = time.Since(start)
	s.logger.Info("seed run complete",
		zap.String("run_id", report.RunID),
		zap.Int("stored", report.Stored),
		zap.Duration("duration", report.Duration))
	return report, nil
}

// StorePair embeds and stores a single pair.
func (s *Seeder) StorePair(ctx context.Context, p Pair) (*models.EmbeddingRecord, error) {
	p.Question = utils.NormalizeText(p.Question)
	embs, err := s.embedder.EmbedBatch(ctx, []string{p.Question})
	if err != nil {
		return nil, models.ProviderError("embed", err)
	}
	if len(embs) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(embs))
	}
	return s.store.Store(ctx, p.Question, embs[0], p.Answer)
}
