// Package models defines core data structures for cached records, queries, and decisions.
package models

import "time"

// EmbeddingRecord is one cached question/answer pair. Records are never mutated after creation.
type EmbeddingRecord struct {
	ID        uint64    `json:"id" db:"id"`
	Query     string    `json:"query" db:"query"`
	Embedding []float32 `json:"embedding" db:"-"`
	Response  string    `json:"response" db:"response"`
	Timestamp int64     `json:"timestamp" db:"timestamp"` // epoch millis
}

// NewEmbeddingRecord builds a record stamped with the current time.
func NewEmbeddingRecord(id uint64, query string, embedding []float32, response string) *EmbeddingRecord {
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	return &EmbeddingRecord{
		ID:        id,
		Query:     query,
		Embedding: vec,
		Response:  response,
		Timestamp: time.Now().UnixMilli(),
	}
}

// CreatedAt returns the record timestamp as a time.Time.
func (r *EmbeddingRecord) CreatedAt() time.Time {
	return time.UnixMilli(r.Timestamp)
}
