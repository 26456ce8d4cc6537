package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/cache"
	"github.com/hyperjump/semcache/internal/config"
	"github.com/hyperjump/semcache/internal/decision"
	"github.com/hyperjump/semcache/internal/embedding"
	"github.com/hyperjump/semcache/internal/generation"
	"github.com/hyperjump/semcache/internal/metrics"
	"github.com/hyperjump/semcache/internal/models"
	"github.com/hyperjump/semcache/internal/seed"
	"github.com/hyperjump/semcache/internal/storage"
	"github.com/hyperjump/semcache/internal/vector"
)

type testEnv struct {
	srv       *httptest.Server
	embedder  *embedding.MockEmbedder
	generator *generation.MockGenerator
	cache     *cache.Engine
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend, err := storage.NewSQLiteBackend(t.TempDir() + "/cache.db")
	require.NoError(t, err)
	t.Cleanup(func() { _ = backend.Close() })

	c := cache.New(backend, cache.WithIndexOptions(vector.Options{Type: "hnsw"}))
	require.NoError(t, c.Initialize(context.Background()))

	embedder := embedding.NewMockEmbedder(64)
	generator := generation.NewMockGenerator()
	tally := &decision.Tally{}
	decider, err := decision.New(c, embedder, generator, decision.WithTally(tally))
	require.NoError(t, err)

	s := NewServer(decider, c, seed.NewSeeder(embedder, c), &config.ServerConfig{Port: 8080}, zap.NewNop(),
		WithMetrics(metrics.NewMetrics("test")), WithTally(tally))
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, embedder: embedder, generator: generator, cache: c}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestQuery_MissThenHit(t *testing.T) {
	env := newTestEnv(t)
	env.generator.Set("What is the capital of France?", "Paris")

	var first models.QueryResponse
	resp := env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "What is the capital of France?"}, &first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.OutcomeMiss, first.Outcome)
	assert.Equal(t, "Paris", first.Response)
	assert.NotEmpty(t, first.RequestID)
	assert.Equal(t, first.RequestID, resp.Header.Get("X-Request-Id"))

	var second models.QueryResponse
	resp = env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "what is the capital of france"}, &second)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.OutcomeHit, second.Outcome)
	assert.Equal(t, "Paris", second.Response)
	assert.Equal(t, first.RecordID, second.RecordID)
	assert.Equal(t, 1, env.generator.Calls())

	var stats models.StatsResponse
	env.do(t, http.MethodGet, "/api/v1/stats", nil, &stats)
	assert.EqualValues(t, 1, stats.Hits)
	assert.EqualValues(t, 1, stats.Misses)
	assert.EqualValues(t, 1, stats.Records)
	assert.Equal(t, 64, stats.Dimension)
	assert.Equal(t, "ready", stats.State)
	assert.Equal(t, decision.DefaultThreshold, stats.Threshold)
	require.NotNil(t, stats.DiskUsageBytes)
	assert.Greater(t, *stats.DiskUsageBytes, int64(0))
}

func TestQuery_ContextOnlyInPrompt(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/api/v1/query",
		map[string]string{"query": "Reset my router", "context": "Model: XR500"}, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"Model: XR500\nReset my router"}, env.generator.Prompts())
}

func TestQuery_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	var out map[string]string
	resp := env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "   "}, &out)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, out["error"], "empty")

	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/api/v1/query", strings.NewReader("{not json"))
	require.NoError(t, err)
	raw, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
}

func TestQuery_ProviderFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t)
	env.generator.FailWith(errors.New("upstream 503"))

	var out map[string]string
	resp := env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "hello"}, &out)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, out["error"], "upstream 503")

	stats, err := env.cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Records)
}

func TestQuery_DimensionMismatchIsBadRequest(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/records", map[string]string{"query": "seeded", "response": "x"}, nil)
	env.embedder.Set("short vector", []float32{1, 0})

	resp := env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "short vector"}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreRecord(t *testing.T) {
	env := newTestEnv(t)

	var rec map[string]interface{}
	resp := env.do(t, http.MethodPost, "/api/v1/records",
		map[string]string{"query": "My printer won't turn on", "response": "Check the power cable."}, &rec)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.EqualValues(t, 0, rec["id"])

	var q models.QueryResponse
	env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "my printer won't turn on"}, &q)
	assert.Equal(t, models.OutcomeHit, q.Outcome)
	assert.Equal(t, "Check the power cable.", q.Response)
	assert.Zero(t, env.generator.Calls())

	resp = env.do(t, http.MethodPost, "/api/v1/records", map[string]string{"query": "q", "response": " "}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestClear(t *testing.T) {
	env := newTestEnv(t)
	env.do(t, http.MethodPost, "/api/v1/records", map[string]string{"query": "a question", "response": "an answer"}, nil)

	resp := env.do(t, http.MethodDelete, "/api/v1/cache", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats models.StatsResponse
	env.do(t, http.MethodGet, "/api/v1/stats", nil, &stats)
	assert.Zero(t, stats.Records)
	assert.Zero(t, stats.NextID)
	assert.Equal(t, "empty", stats.State)

	var q models.QueryResponse
	env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "a question"}, &q)
	assert.Equal(t, models.OutcomeMiss, q.Outcome)
	assert.Zero(t, q.RecordID)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	var health map[string]string
	resp := env.do(t, http.MethodGet, "/health", nil, &health)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", health["status"])

	env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": "hello"}, nil)

	resp, err := env.srv.Client().Get(env.srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `semcache_cache_decisions_total{outcome="MISS"} 1`)
	assert.Contains(t, string(body), `semcache_api_time_seconds_count{handler="/api/v1/query",method="POST",status_code="200"} 1`)
	assert.Contains(t, string(body), "semcache_cache_records 1")
}

// countingBackend counts Count calls on the collections it hands out.
type countingBackend struct {
	storage.Backend
	counts atomic.Int64
}

func (b *countingBackend) Collection(ctx context.Context, dimension int) (storage.RecordStore, error) {
	store, err := b.Backend.Collection(ctx, dimension)
	if err != nil {
		return nil, err
	}
	return &countingStore{RecordStore: store, counts: &b.counts}, nil
}

type countingStore struct {
	storage.RecordStore
	counts *atomic.Int64
}

func (s *countingStore) Count(ctx context.Context) (int64, error) {
	s.counts.Add(1)
	return s.RecordStore.Count(ctx)
}

func TestQuery_GaugesWithoutCountingStore(t *testing.T) {
	mem, err := storage.NewMemoryBackend()
	require.NoError(t, err)
	backend := &countingBackend{Backend: mem}
	c := cache.New(backend, cache.WithIndexOptions(vector.Options{Type: "exact"}))
	embedder := embedding.NewMockEmbedder(64)
	decider, err := decision.New(c, embedder, generation.NewMockGenerator())
	require.NoError(t, err)
	s := NewServer(decider, c, seed.NewSeeder(embedder, c), &config.ServerConfig{Port: 8080}, zap.NewNop(),
		WithMetrics(metrics.NewMetrics("test")))
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	env := &testEnv{srv: srv, embedder: embedder, cache: c}

	resp := env.do(t, http.MethodPost, "/api/v1/records", map[string]string{"query": "seeded question", "response": "seeded answer"}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	before := backend.counts.Load()

	for _, q := range []string{"seeded question", "something else entirely"} {
		resp = env.do(t, http.MethodPost, "/api/v1/query", map[string]string{"query": q}, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, before, backend.counts.Load())

	resp, err = srv.Client().Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "semcache_cache_records 2")
	assert.Contains(t, string(body), "semcache_cache_index_points 2")
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForError(&models.DimensionMismatchError{Expected: 2, Actual: 3}))
	assert.Equal(t, http.StatusBadGateway, statusForError(models.ProviderError("embed", context.DeadlineExceeded)))
	assert.Equal(t, http.StatusInternalServerError, statusForError(&models.CorruptRecordError{ID: 1}))
	assert.Equal(t, http.StatusGatewayTimeout, statusForError(context.DeadlineExceeded))
	assert.Equal(t, http.StatusInternalServerError, statusForError(errors.New("boom")))
}
