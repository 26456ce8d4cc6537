// Package metrics exposes Prometheus collectors for cache decisions, provider failures and
// index size.
package metrics

import (
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hyperjump/semcache/internal/models"
)

const (
	MetricsNamespace         = "semcache"
	MetricsSubsystemSystem   = "system"
	MetricsSubsystemAPI      = "api"
	MetricsSubsystemCache    = "cache"
	MetricsSubsystemProvider = "provider"

	MetricsVersionLabel = "version"
)

// Metrics records cache and API activity.
type Metrics interface {
	GetRegistry() *prometheus.Registry
	Handler() http.Handler

	ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64)
	ObserveDecision(d *models.Decision)
	ObserveError(op string, err error)
	SetIndexSize(count, capacity int)
	SetRecords(n int64)
}

// metrics used to instrumentate metrics in prometheus.
type metrics struct {
	registry *prometheus.Registry

	startTime prometheus.Gauge
	info      prometheus.Gauge

	apiTime *prometheus.HistogramVec

	decisionsTotal *prometheus.CounterVec
	decisionTime   *prometheus.HistogramVec
	similarity     prometheus.Histogram
	sharedMisses   prometheus.Counter
	providerErrors *prometheus.CounterVec
	indexPoints    prometheus.Gauge
	indexCapacity  prometheus.Gauge
	records        prometheus.Gauge
}

// NewMetrics creates a collector with its own registry.
func NewMetrics(version string) Metrics {
	m := &metrics{}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: MetricsNamespace,
	}))
	m.registry.MustRegister(collectors.NewGoCollector())

	m.startTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemSystem,
		Name:      "start_timestamp_seconds",
		Help:      "The time the server started.",
	})
	m.startTime.SetToCurrentTime()
	m.registry.MustRegister(m.startTime)

	m.info = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace:   MetricsNamespace,
		Subsystem:   MetricsSubsystemSystem,
		Name:        "info",
		Help:        "The server version.",
		ConstLabels: map[string]string{MetricsVersionLabel: version},
	})
	m.info.Set(1)
	m.registry.MustRegister(m.info)

	m.apiTime = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: MetricsNamespace,
			Subsystem: MetricsSubsystemAPI,
			Name:      "time_seconds",
			Help:      "Time to execute the api handler",
		},
		[]string{"handler", "method", "status_code"},
	)
	m.registry.MustRegister(m.apiTime)

	m.decisionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "decisions_total",
		Help:      "The total number of query decisions by outcome.",
	}, []string{"outcome"})
	m.registry.MustRegister(m.decisionsTotal)

	m.decisionTime = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "decision_seconds",
		Help:      "Time to answer a query, by outcome.",
	}, []string{"outcome"})
	m.registry.MustRegister(m.decisionTime)

	m.similarity = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "best_similarity",
		Help:      "Exact cosine similarity of the best candidate per query.",
		Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
	})
	m.registry.MustRegister(m.similarity)

	m.sharedMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "shared_misses_total",
		Help:      "Misses answered by a concurrent identical generation.",
	})
	m.registry.MustRegister(m.sharedMisses)

	m.providerErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemProvider,
		Name:      "errors_total",
		Help:      "The total number of failed requests, by operation and kind.",
	}, []string{"op", "kind"})
	m.registry.MustRegister(m.providerErrors)

	m.indexPoints = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "index_points",
		Help:      "Points in the vector index.",
	})
	m.registry.MustRegister(m.indexPoints)

	m.indexCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "index_capacity",
		Help:      "Allocated slots in the vector index.",
	})
	m.registry.MustRegister(m.indexCapacity)

	m.records = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Subsystem: MetricsSubsystemCache,
		Name:      "records",
		Help:      "Records in the record store.",
	})
	m.registry.MustRegister(m.records)

	return m
}

func (m *metrics) GetRegistry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *metrics) ObserveAPIEndpointDuration(handler, method, statusCode string, elapsed float64) {
	if m != nil {
		m.apiTime.With(prometheus.Labels{"handler": handler, "method": method, "status_code": statusCode}).Observe(elapsed)
	}
}

func (m *metrics) ObserveDecision(d *models.Decision) {
	if m == nil || d == nil {
		return
	}
	outcome := string(d.Outcome)
	m.decisionsTotal.WithLabelValues(outcome).Inc()
	m.decisionTime.WithLabelValues(outcome).Observe(d.Latency.Seconds())
	if d.Candidates > 0 {
		m.similarity.Observe(d.Similarity)
	}
	if d.Shared {
		m.sharedMisses.Inc()
	}
}

// ObserveError counts a failed operation, classified by the error taxonomy.
func (m *metrics) ObserveError(op string, err error) {
	if m == nil || err == nil {
		return
	}
	m.providerErrors.WithLabelValues(op, ErrorKind(err)).Inc()
}

func (m *metrics) SetIndexSize(count, capacity int) {
	if m != nil {
		m.indexPoints.Set(float64(count))
		m.indexCapacity.Set(float64(capacity))
	}
}

func (m *metrics) SetRecords(n int64) {
	if m != nil {
		m.records.Set(float64(n))
	}
}

// ErrorKind names the taxonomy class of err for labels and logs.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, models.ErrProvider):
		return "provider"
	case errors.Is(err, models.ErrDimensionMismatch):
		return "dimension_mismatch"
	case errors.Is(err, models.ErrCorruptRecord):
		return "corrupt_record"
	default:
		return "internal"
	}
}
