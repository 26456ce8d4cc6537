package models

import (
	"fmt"
	"strings"
)

// QueryRequest is the input for a cache query.
type QueryRequest struct {
	Query   string `json:"query"`
	Context string `json:"context,omitempty"` // additional context prepended to the prompt on a miss
}

// Validate trims the query and rejects empty input.
func (q *QueryRequest) Validate() error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	return nil
}

// QueryResponse is the API response for a cache query.
type QueryResponse struct {
	RequestID  string  `json:"request_id"`
	Outcome    Outcome `json:"outcome"`
	Response   string  `json:"response"`
	Similarity float64 `json:"similarity"`
	RecordID   uint64  `json:"record_id"`
	Candidates int     `json:"candidates"`
	LatencyMs  int64   `json:"latency_ms"`
}

// NewQueryResponse converts a decision into the API shape.
func NewQueryResponse(requestID string, d *Decision) *QueryResponse {
	return &QueryResponse{
		RequestID:  requestID,
		Outcome:    d.Outcome,
		Response:   d.Response,
		Similarity: d.Similarity,
		RecordID:   d.RecordID,
		Candidates: d.Candidates,
		LatencyMs:  d.Latency.Milliseconds(),
	}
}

// RecordInput is the input for storing a question/answer pair directly.
type RecordInput struct {
	Query    string `json:"query"`
	Response string `json:"response"`
}

// Validate rejects pairs with an empty query or response.
func (r *RecordInput) Validate() error {
	r.Query = strings.TrimSpace(r.Query)
	if r.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	if strings.TrimSpace(r.Response) == "" {
		return fmt.Errorf("response cannot be empty")
	}
	return nil
}

// StatsResponse is the shape of GET /api/v1/stats.
type StatsResponse struct {
	State          string  `json:"state"`
	Dimension      int     `json:"dimension"`
	Records        int64   `json:"records"`
	IndexCount     int     `json:"index_count"`
	IndexCapacity  int     `json:"index_capacity"`
	IndexType      string  `json:"index_type"`
	NextID         uint64  `json:"next_id"`
	Threshold      float64 `json:"similarity_threshold"`
	TopK           int     `json:"top_k"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	DiskUsageBytes *int64  `json:"disk_usage_bytes,omitempty"`
}
