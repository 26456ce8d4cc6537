package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/models"
)

// SQLiteBackend keeps all collections in one SQLite database.
type SQLiteBackend struct {
	db   *sql.DB
	path string
	opts options
}

// NewSQLiteBackend opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteBackend(dbPath string, opts ...Option) (*SQLiteBackend, error) {
	o, err := applyOptions(opts)
	if err != nil {
		return nil, err
	}
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteBackend{db: db, path: dbPath, opts: o}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS collections (
		name TEXT PRIMARY KEY,
		dimension INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		expires_at INTEGER
	);

	CREATE TABLE IF NOT EXISTS records (
		collection TEXT NOT NULL,
		id INTEGER NOT NULL,
		query TEXT NOT NULL,
		embedding TEXT NOT NULL,
		response TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		expires_at INTEGER,
		PRIMARY KEY (collection, id)
	);

	CREATE INDEX IF NOT EXISTS idx_records_expires_at ON records(collection, expires_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Collection returns the store for dimension, creating nothing until the first Put.
func (b *SQLiteBackend) Collection(ctx context.Context, dimension int) (RecordStore, error) {
	if err := checkDimension(dimension); err != nil {
		return nil, err
	}
	return &sqliteCollection{
		backend:   b,
		name:      collectionName(b.opts.prefix, dimension),
		dimension: dimension,
	}, nil
}

// Dimensions lists live collections, most recently written first.
func (b *SQLiteBackend) Dimensions(ctx context.Context) ([]int, error) {
	if err := b.purgeExpired(ctx); err != nil {
		return nil, err
	}
	rows, err := b.db.QueryContext(ctx,
		`SELECT name, dimension FROM collections ORDER BY updated_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var dims []int
	for rows.Next() {
		var (
			name string
			d    int
		)
		if err := rows.Scan(&name, &d); err != nil {
			return nil, err
		}
		if name == collectionName(b.opts.prefix, d) {
			dims = append(dims, d)
		}
	}
	return dims, rows.Err()
}

// DiskUsageBytes returns the size of the database and its WAL files.
func (b *SQLiteBackend) DiskUsageBytes() (int64, error) {
	return DiskUsageBytes(sqliteFiles(b.path)...)
}

// Close closes the database connection.
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

// purgeExpired drops collections past their expiry and records past theirs.
func (b *SQLiteBackend) purgeExpired(ctx context.Context) error {
	now := b.opts.now().UnixMilli()
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection IN
		 (SELECT name FROM collections WHERE expires_at IS NOT NULL AND expires_at <= ?)`, now,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM collections WHERE expires_at IS NOT NULL AND expires_at <= ?`, now,
	); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE expires_at IS NOT NULL AND expires_at <= ?`, now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteCollection struct {
	backend   *SQLiteBackend
	name      string
	dimension int
}

func (c *sqliteCollection) Name() string { return c.name }

// Put upserts a record and refreshes the collection row.
func (c *sqliteCollection) Put(ctx context.Context, rec *models.EmbeddingRecord) error {
	if err := models.CheckDimension(rec.Embedding, c.dimension); err != nil {
		return err
	}
	embeddingJSON, err := EncodeEmbedding(rec.Embedding)
	if err != nil {
		return err
	}
	o := c.backend.opts
	now := o.now()
	expiry := o.expiresAt(now)

	tx, err := c.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// A collection past its expiry is gone even if the purge has not run yet.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM records WHERE collection = ? AND EXISTS
		 (SELECT 1 FROM collections WHERE name = ? AND expires_at IS NOT NULL AND expires_at <= ?)`,
		c.name, c.name, now.UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to purge expired collection: %w", err)
	}

	var collectionExpiry, recordExpiry *int64
	if o.ttlMode == TTLModeRecord {
		recordExpiry = expiry
	} else {
		collectionExpiry = expiry
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO collections (name, dimension, updated_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET updated_at = excluded.updated_at, expires_at = excluded.expires_at`,
		c.name, c.dimension, now.UnixMilli(), collectionExpiry,
	); err != nil {
		return fmt.Errorf("failed to update collection: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO records (collection, id, query, embedding, response, timestamp, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(collection, id) DO UPDATE SET
			query = excluded.query,
			embedding = excluded.embedding,
			response = excluded.response,
			timestamp = excluded.timestamp,
			expires_at = excluded.expires_at`,
		c.name, int64(rec.ID), rec.Query, embeddingJSON, rec.Response, rec.Timestamp, recordExpiry,
	); err != nil {
		return fmt.Errorf("failed to write record %d: %w", rec.ID, err)
	}
	return tx.Commit()
}

// liveFilter selects non-expired rows of this collection. Arguments: name, now, name, now.
const liveFilter = `r.collection = ?
	AND (r.expires_at IS NULL OR r.expires_at > ?)
	AND NOT EXISTS (SELECT 1 FROM collections c
		WHERE c.name = ? AND c.expires_at IS NOT NULL AND c.expires_at <= ?)`

func (c *sqliteCollection) liveArgs() []any {
	now := c.backend.opts.now().UnixMilli()
	return []any{c.name, now, c.name, now}
}

// GetAll returns every live record ordered by id.
func (c *sqliteCollection) GetAll(ctx context.Context) ([]*models.EmbeddingRecord, error) {
	rows, err := c.backend.db.QueryContext(ctx,
		`SELECT r.id, r.query, r.embedding, r.response, r.timestamp
		 FROM records r WHERE `+liveFilter+` ORDER BY r.id`,
		c.liveArgs()...,
	)
	if err != nil {
		return nil, err
	}
	return c.scanRecords(rows)
}

// GetMany returns live records for ids in request order.
func (c *sqliteCollection) GetMany(ctx context.Context, ids []uint64) ([]*models.EmbeddingRecord, error) {
	if len(ids) == 0 {
		return []*models.EmbeddingRecord{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := c.liveArgs()
	for _, id := range ids {
		args = append(args, int64(id))
	}
	rows, err := c.backend.db.QueryContext(ctx,
		`SELECT r.id, r.query, r.embedding, r.response, r.timestamp
		 FROM records r WHERE `+liveFilter+` AND r.id IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return nil, err
	}
	recs, err := c.scanRecords(rows)
	if err != nil {
		return nil, err
	}
	return orderByIDs(ids, recs), nil
}

func (c *sqliteCollection) scanRecords(rows *sql.Rows) ([]*models.EmbeddingRecord, error) {
	defer rows.Close()
	recs := make([]*models.EmbeddingRecord, 0)
	for rows.Next() {
		var (
			id            int64
			rec           models.EmbeddingRecord
			embeddingJSON string
		)
		if err := rows.Scan(&id, &rec.Query, &embeddingJSON, &rec.Response, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.ID = uint64(id)
		vec, err := DecodeEmbedding(embeddingJSON)
		if err != nil {
			c.backend.opts.logger.Warn("undecodable embedding",
				zap.String("collection", c.name),
				zap.Uint64("record_id", rec.ID),
				zap.Error(err))
		}
		rec.Embedding = vec
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}

// Count returns the number of live records.
func (c *sqliteCollection) Count(ctx context.Context) (int64, error) {
	var count int64
	err := c.backend.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM records r WHERE `+liveFilter,
		c.liveArgs()...,
	).Scan(&count)
	return count, err
}

// Clear deletes the collection and all of its records.
func (c *sqliteCollection) Clear(ctx context.Context) error {
	tx, err := c.backend.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM records WHERE collection = ?`, c.name); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM collections WHERE name = ?`, c.name); err != nil {
		return err
	}
	return tx.Commit()
}
