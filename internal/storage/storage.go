// Package storage defines the persistence interfaces for embedding records.
package storage

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/models"
)

// RecordStore is a durable id → record mapping for one collection. A collection holds
// records of a single embedding dimension.
type RecordStore interface {
	// Put upserts rec under rec.ID. With a positive TTL the expiry is (re)set on every write.
	Put(ctx context.Context, rec *models.EmbeddingRecord) error
	// GetAll returns every live record ordered by id. Records whose embedding cannot be
	// decoded are returned with a nil Embedding.
	GetAll(ctx context.Context) ([]*models.EmbeddingRecord, error)
	// GetMany returns the records for ids in the order requested. Missing ids are omitted.
	GetMany(ctx context.Context, ids []uint64) ([]*models.EmbeddingRecord, error)
	// Count returns the number of live records.
	Count(ctx context.Context) (int64, error)
	// Clear removes the entire collection.
	Clear(ctx context.Context) error
	// Name returns the collection name.
	Name() string
}

// Backend opens collections, one per embedding dimension.
type Backend interface {
	Collection(ctx context.Context, dimension int) (RecordStore, error)
	// Dimensions lists dimensions of live collections, most recently written first.
	Dimensions(ctx context.Context) ([]int, error)
	Close() error
}

// DiskReporter is implemented by backends that keep their data in local files.
type DiskReporter interface {
	DiskUsageBytes() (int64, error)
}

// TTLMode selects what a TTL applies to.
type TTLMode string

const (
	// TTLModeCollection expires the whole collection; every write pushes the expiry forward.
	TTLModeCollection TTLMode = "collection"
	// TTLModeRecord expires each record independently.
	TTLModeRecord TTLMode = "record"
)

// DefaultCollectionPrefix names collections "<prefix>_<dimension>".
const DefaultCollectionPrefix = "embeddings"

var identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,40}$`)

// Option configures a Backend.
type Option func(*options)

type options struct {
	ttl     time.Duration
	ttlMode TTLMode
	prefix  string
	logger  *zap.Logger
	now     func() time.Time
}

func defaultOptions() options {
	return options{
		ttlMode: TTLModeCollection,
		prefix:  DefaultCollectionPrefix,
		logger:  zap.NewNop(),
		now:     time.Now,
	}
}

func applyOptions(opts []Option) (options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.ttl < 0 {
		return o, fmt.Errorf("ttl must not be negative, got %s", o.ttl)
	}
	switch o.ttlMode {
	case TTLModeCollection, TTLModeRecord:
	default:
		return o, fmt.Errorf("unknown ttl mode: %s (supported: collection, record)", o.ttlMode)
	}
	if !identifierPattern.MatchString(o.prefix) {
		return o, fmt.Errorf("invalid collection prefix %q", o.prefix)
	}
	return o, nil
}

// WithTTL sets the expiry applied on writes. Zero disables expiry.
func WithTTL(ttl time.Duration, mode TTLMode) Option {
	return func(o *options) {
		o.ttl = ttl
		if mode != "" {
			o.ttlMode = mode
		}
	}
}

// WithPrefix sets the collection name prefix.
func WithPrefix(prefix string) Option {
	return func(o *options) {
		if prefix != "" {
			o.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// collectionName returns the collection name for a dimension.
func collectionName(prefix string, dimension int) string {
	return fmt.Sprintf("%s_%d", prefix, dimension)
}

// expiresAt returns the expiry in epoch millis for a write at now, or nil without a TTL.
func (o options) expiresAt(now time.Time) *int64 {
	if o.ttl <= 0 {
		return nil
	}
	ms := now.Add(o.ttl).UnixMilli()
	return &ms
}

// New opens the backend named by storageType.
// Supported types: "sqlite" (default), "postgres", "memory".
func New(storageType, databasePath, postgresDSN string, opts ...Option) (Backend, error) {
	switch storageType {
	case "sqlite", "":
		return NewSQLiteBackend(databasePath, opts...)
	case "postgres":
		return NewPostgresBackend(postgresDSN, opts...)
	case "memory":
		return NewMemoryBackend(opts...)
	default:
		return nil, fmt.Errorf("unknown storage type: %s (supported: sqlite, postgres, memory)", storageType)
	}
}

func checkDimension(dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("dimension must be positive, got %d", dimension)
	}
	return nil
}

// orderByIDs reorders records to follow ids, dropping ids with no record.
func orderByIDs(ids []uint64, recs []*models.EmbeddingRecord) []*models.EmbeddingRecord {
	byID := make(map[uint64]*models.EmbeddingRecord, len(recs))
	for _, r := range recs {
		byID[r.ID] = r
	}
	out := make([]*models.EmbeddingRecord, 0, len(ids))
	for _, id := range ids {
		if r, ok := byID[id]; ok {
			out = append(out, r)
		}
	}
	return out
}
