package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/metrics"
	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/seed"
)

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	requestID := uuid.New().String()
	w.Header().Set("X-Request-Id", requestID)
	s.logger.Debug("query request", zap.String("request_id", requestID), zap.String("query", req.Query))

	d, err := s.decider.Query(r.Context(), req.Query, req.Context)
	if err != nil {
		s.failed(w, "query", requestID, err)
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveDecision(d)
		if !d.Hit() {
			// A miss stored one record; the index mirrors the live store.
			idx := s.cache.IndexStats()
			s.metrics.SetIndexSize(idx.Count, idx.Capacity)
			s.metrics.SetRecords(int64(idx.Count))
		}
	}
	s.respondJSON(w, http.StatusOK, models.NewQueryResponse(requestID, d))
}

func (s *Server) handleStoreRecord(w http.ResponseWriter, r *http.Request) {
	var input models.RecordInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := input.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	requestID := uuid.New().String()
	rec, err := s.seeder.StorePair(r.Context(), seed.Pair{Question: input.Query, Answer: input.Response})
	if err != nil {
		s.failed(w, "store_record", requestID, err)
		return
	}
	s.refreshGauges(r.Context())
	s.respondJSON(w, http.StatusCreated, map[string]interface{}{
		"id":        rec.ID,
		"query":     rec.Query,
		"response":  rec.Response,
		"timestamp": rec.Timestamp,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(r.Context()); err != nil {
		s.failed(w, "clear", "", err)
		return
	}
	s.logger.Info("cache cleared")
	s.refreshGauges(r.Context())
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.cache.Stats(r.Context())
	if err != nil {
		s.failed(w, "stats", "", err)
		return
	}
	resp := &models.StatsResponse{
		State:          stats.State.String(),
		Dimension:      stats.Dimension,
		Records:        stats.Records,
		IndexCount:     stats.Index.Count,
		IndexCapacity:  stats.Index.Capacity,
		IndexType:      stats.Index.Type,
		NextID:         stats.NextID,
		Threshold:      s.decider.Threshold(),
		TopK:           s.decider.TopK(),
		DiskUsageBytes: stats.DiskUsageBytes,
	}
	if s.metrics != nil {
		s.metrics.SetIndexSize(stats.Index.Count, stats.Index.Capacity)
		s.metrics.SetRecords(stats.Records)
	}
	if s.tally != nil {
		t := s.tally.Snapshot()
		resp.Hits, resp.Misses, resp.HitRate = t.Hits, t.Misses, t.HitRate
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok", "state": s.cache.State().String()})
}

// refreshGauges copies index and store sizes into the metrics gauges. It counts the store, so
// only writes and /stats call it.
func (s *Server) refreshGauges(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	stats, err := s.cache.Stats(ctx)
	if err != nil {
		return
	}
	s.metrics.SetIndexSize(stats.Index.Count, stats.Index.Capacity)
	s.metrics.SetRecords(stats.Records)
}

// failed logs err and writes the status its taxonomy maps to.
func (s *Server) failed(w http.ResponseWriter, op, requestID string, err error) {
	status := statusForError(err)
	fields := []zap.Field{zap.String("op", op), zap.String("kind", metrics.ErrorKind(err)), zap.Error(err)}
	if requestID != "" {
		fields = append(fields, zap.String("request_id", requestID))
	}
	if status >= http.StatusInternalServerError && status != http.StatusBadGateway {
		s.logger.Error("request failed", fields...)
	} else {
		s.logger.Warn("request failed", fields...)
	}
	if s.metrics != nil {
		s.metrics.ObserveError(op, err)
	}
	s.respondError(w, status, err.Error())
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, models.ErrDimensionMismatch):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrProvider):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
