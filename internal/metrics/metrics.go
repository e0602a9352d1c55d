// Package metrics holds the prometheus collectors of the engine. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Answer strategies.
const (
	StrategyRemote   = "remote"
	StrategyLocal    = "local"
	StrategyGuidance = "guidance"
)

// Metrics groups the engine collectors and their registry.
type Metrics struct {
	queriesTotal      prometheus.Counter
	answersTotal      *prometheus.CounterVec
	remoteFailures    *prometheus.CounterVec
	retrievalFailures prometheus.Counter
	buildDuration     prometheus.Histogram
	indexedDocuments  prometheus.Gauge

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates and registers all collectors on a fresh registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "intellichat"
	}
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.queriesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "queries_total",
		Help:      "Total number of queries answered by the pipeline",
	})
	m.answersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "answers_total",
		Help:      "Answers by the strategy that produced them",
	}, []string{"strategy"})
	m.remoteFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "remote_generation_failures_total",
		Help:      "Remote generation failures by kind",
	}, []string{"kind"})
	m.retrievalFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "retrieval_failures_total",
		Help:      "Searches that degraded to an empty result",
	})
	m.buildDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "index_build_duration_seconds",
		Help:      "Time spent building the vector index",
		Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
	})
	m.indexedDocuments = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "indexed_documents",
		Help:      "Number of documents in the ready index",
	})
	m.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	m.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path"})

	m.registry.MustRegister(
		m.queriesTotal,
		m.answersTotal,
		m.remoteFailures,
		m.retrievalFailures,
		m.buildDuration,
		m.indexedDocuments,
		m.requestsTotal,
		m.requestDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// QueryServed counts one pipeline query.
func (m *Metrics) QueryServed() {
	if m == nil {
		return
	}
	m.queriesTotal.Inc()
}

// Answered counts one answer produced by strategy.
func (m *Metrics) Answered(strategy string) {
	if m == nil {
		return
	}
	m.answersTotal.WithLabelValues(strategy).Inc()
}

// RemoteFailed counts one remote generation failure.
func (m *Metrics) RemoteFailed(kind string) {
	if m == nil {
		return
	}
	m.remoteFailures.WithLabelValues(kind).Inc()
}

// RetrievalFailed counts one degraded search.
func (m *Metrics) RetrievalFailed() {
	if m == nil {
		return
	}
	m.retrievalFailures.Inc()
}

// IndexBuilt records a completed build.
func (m *Metrics) IndexBuilt(d time.Duration) {
	if m == nil {
		return
	}
	m.buildDuration.Observe(d.Seconds())
}

// IndexReady records the size of the index that became ready.
func (m *Metrics) IndexReady(docs int) {
	if m == nil {
		return
	}
	m.indexedDocuments.Set(float64(docs))
}

// Middleware records request counts and latencies.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		c.Next()
		m.requestsTotal.WithLabelValues(c.Request.Method, path, statusClass(c.Writer.Status())).Inc()
		m.requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() gin.HandlerFunc {
	h := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	return gin.WrapH(h)
}

func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
