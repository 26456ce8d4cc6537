package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/models"
)

// PostgresBackend stores each collection in its own table with a pgvector column.
// Table names are "<prefix>_<dimension>"; the prefix is validated as an identifier.
type PostgresBackend struct {
	db   *sqlx.DB
	opts options
}

type pgRecord struct {
	ID        int64           `db:"id"`
	Query     string          `db:"query"`
	Embedding pgvector.Vector `db:"embedding"`
	Response  string          `db:"response"`
	Timestamp int64           `db:"created_at"`
}

// NewPostgresBackend connects to dsn and ensures the vector extension and collections table.
func NewPostgresBackend(dsn string, opts ...Option) (*PostgresBackend, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	b := &PostgresBackend{db: db, opts: o}
	if err := b.ensureSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return b, nil
}

func (b *PostgresBackend) collectionsTable() string {
	return pq.QuoteIdentifier(b.opts.prefix + "_collections")
}

func (b *PostgresBackend) ensureSchema(ctx context.Context) error {
	if _, err := b.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	_, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			name TEXT PRIMARY KEY,
			dimension INTEGER NOT NULL,
			updated_at BIGINT NOT NULL,
			expires_at BIGINT
		)`, b.collectionsTable()))
	return err
}

// Collection returns the store for dimension, creating its table if needed.
func (b *PostgresBackend) Collection(ctx context.Context, dimension int) (RecordStore, error) {
	if err := checkDimension(dimension); err != nil {
		return nil, err
	}
	c := &pgCollection{
		backend:   b,
		name:      collectionName(b.opts.prefix, dimension),
		dimension: dimension,
	}
	if _, err := b.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id BIGINT PRIMARY KEY,
			query TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			response TEXT NOT NULL,
			created_at BIGINT NOT NULL,
			expires_at BIGINT
		)`, c.table(), dimension)); err != nil {
		return nil, fmt.Errorf("failed to create collection table %s: %w", c.name, err)
	}
	return c, nil
}

// Dimensions lists live collections, most recently written first.
func (b *PostgresBackend) Dimensions(ctx context.Context) ([]int, error) {
	var dims []int
	err := b.db.SelectContext(ctx, &dims, fmt.Sprintf(
		`SELECT dimension FROM %s WHERE expires_at IS NULL OR expires_at > $1 ORDER BY updated_at DESC`,
		b.collectionsTable()), b.opts.now().UnixMilli())
	return dims, err
}

// Close closes the connection pool.
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

type pgCollection struct {
	backend   *PostgresBackend
	name      string
	dimension int
}

func (c *pgCollection) Name() string { return c.name }

func (c *pgCollection) table() string {
	return pq.QuoteIdentifier(c.name)
}

// expired truncates the collection when the collection itself has expired.
func (c *pgCollection) expired(ctx context.Context, tx *sqlx.Tx) error {
	var expiresAt sql.NullInt64
	err := tx.GetContext(ctx, &expiresAt, fmt.Sprintf(
		`SELECT expires_at FROM %s WHERE name = $1`, c.backend.collectionsTable()), c.name)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	if expiresAt.Valid && expiresAt.Int64 <= c.backend.opts.now().UnixMilli() {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, c.table())); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, fmt.Sprintf(
			`DELETE FROM %s WHERE name = $1`, c.backend.collectionsTable()), c.name)
		return err
	}
	return nil
}

func (c *pgCollection) Put(ctx context.Context, rec *models.EmbeddingRecord) error {
	if err := models.CheckDimension(rec.Embedding, c.dimension); err != nil {
		return err
	}
	o := c.backend.opts
	now := o.now()
	expiry := o.expiresAt(now)
	var collectionExpiry, recordExpiry *int64
	if o.ttlMode == TTLModeRecord {
		recordExpiry = expiry
	} else {
		collectionExpiry = expiry
	}

	tx, err := c.backend.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := c.expired(ctx, tx); err != nil {
		return fmt.Errorf("failed to check collection expiry: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (name, dimension, updated_at, expires_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET updated_at = EXCLUDED.updated_at, expires_at = EXCLUDED.expires_at`,
		c.backend.collectionsTable()),
		c.name, c.dimension, now.UnixMilli(), collectionExpiry,
	); err != nil {
		return fmt.Errorf("failed to update collection: %w", err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, query, embedding, response, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			query = EXCLUDED.query,
			embedding = EXCLUDED.embedding,
			response = EXCLUDED.response,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at`, c.table()),
		int64(rec.ID), rec.Query, pgvector.NewVector(rec.Embedding), rec.Response, rec.Timestamp, recordExpiry,
	); err != nil {
		return fmt.Errorf("failed to write record %d: %w", rec.ID, err)
	}
	return tx.Commit()
}

// liveWhere filters expired records and records of an expired collection. $1 = now, $2 = name.
func (c *pgCollection) liveWhere() string {
	return fmt.Sprintf(`(expires_at IS NULL OR expires_at > $1)
		AND NOT EXISTS (SELECT 1 FROM %s c WHERE c.name = $2 AND c.expires_at IS NOT NULL AND c.expires_at <= $1)`,
		c.backend.collectionsTable())
}

func (c *pgCollection) GetAll(ctx context.Context) ([]*models.EmbeddingRecord, error) {
	var rows []pgRecord
	err := c.backend.db.SelectContext(ctx, &rows, fmt.Sprintf(
		`SELECT id, query, embedding, response, created_at FROM %s WHERE %s ORDER BY id`,
		c.table(), c.liveWhere()),
		c.backend.opts.now().UnixMilli(), c.name)
	if err != nil {
		return nil, err
	}
	return c.toRecords(rows), nil
}

func (c *pgCollection) GetMany(ctx context.Context, ids []uint64) ([]*models.EmbeddingRecord, error) {
	if len(ids) == 0 {
		return []*models.EmbeddingRecord{}, nil
	}
	keys := make([]int64, len(ids))
	for i, id := range ids {
		keys[i] = int64(id)
	}
	var rows []pgRecord
	err := c.backend.db.SelectContext(ctx, &rows, fmt.Sprintf(
		`SELECT id, query, embedding, response, created_at FROM %s WHERE %s AND id = ANY($3)`,
		c.table(), c.liveWhere()),
		c.backend.opts.now().UnixMilli(), c.name, pq.Array(keys))
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, c.toRecords(rows)), nil
}

func (c *pgCollection) toRecords(rows []pgRecord) []*models.EmbeddingRecord {
	recs := make([]*models.EmbeddingRecord, len(rows))
	for i, r := range rows {
		vec := r.Embedding.Slice()
		if len(vec) == 0 {
			c.backend.opts.logger.Warn("empty embedding",
				zap.String("collection", c.name),
				zap.Int64("record_id", r.ID))
			vec = nil
		}
		recs[i] = &models.EmbeddingRecord{
			ID:        uint64(r.ID),
			Query:     r.Query,
			Embedding: vec,
			Response:  r.Response,
			Timestamp: r.Timestamp,
		}
	}
	return recs
}

func (c *pgCollection) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.backend.db.GetContext(ctx, &count, fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE %s`, c.table(), c.liveWhere()),
		c.backend.opts.now().UnixMilli(), c.name)
	return count, err
}

func (c *pgCollection) Clear(ctx context.Context) error {
	tx, err := c.backend.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, c.table())); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`DELETE FROM %s WHERE name = $1`, c.backend.collectionsTable()), c.name); err != nil {
		return err
	}
	return tx.Commit()
}
