// Package metrics exposes Prometheus instrumentation for the ingestion and
// query pipelines. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "docrag"

const (
	StatusOK    = "ok"
	StatusError = "error"
)

type Metrics struct {
	registry *prometheus.Registry

	// IngestRuns counts ingestion runs by status (ok, error).
	IngestRuns *prometheus.CounterVec
	// IngestDuration tracks wall time of whole ingestion runs.
	IngestDuration prometheus.Histogram
	// PagesSkipped counts blank pages excluded from ingestion.
	PagesSkipped prometheus.Counter
	// ChunksStored is the current number of chunks in the store.
	ChunksStored prometheus.Gauge
	// EmbedCalls counts provider embedding calls by status.
	EmbedCalls *prometheus.CounterVec
	// EmbedDuration tracks single embedding call latency.
	EmbedDuration prometheus.Histogram
	// Queries counts queries by mode (cited, simple, search) and status.
	Queries *prometheus.CounterVec
	// QueryDuration tracks end-to-end query latency including answer synthesis.
	QueryDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry together with the Go and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		IngestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Total number of ingestion runs by status",
		}, []string{"status"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Duration of ingestion runs in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		PagesSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pages_skipped_total",
			Help:      "Blank pages excluded from ingestion",
		}),
		ChunksStored: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "chunks",
			Help:      "Number of chunks currently held in the vector store",
		}),
		EmbedCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "calls_total",
			Help:      "Embedding provider calls by status",
		}, []string{"status"}),
		EmbedDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Latency of single embedding provider calls",
			Buckets:   prometheus.DefBuckets,
		}),
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "total",
			Help:      "Queries by mode and status",
		}, []string{"mode", "status"}),
		QueryDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "query",
			Name:      "duration_seconds",
			Help:      "End-to-end query latency by mode",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mode"}),
	}
	reg.MustRegister(
		m.IngestRuns, m.IngestDuration, m.PagesSkipped, m.ChunksStored,
		m.EmbedCalls, m.EmbedDuration, m.Queries, m.QueryDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveEmbed(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.EmbedCalls.WithLabelValues(status(err)).Inc()
	m.EmbedDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveIngest(d time.Duration, pagesSkipped, chunksStored int, err error) {
	if m == nil {
		return
	}
	m.IngestRuns.WithLabelValues(status(err)).Inc()
	m.IngestDuration.Observe(d.Seconds())
	m.PagesSkipped.Add(float64(pagesSkipped))
	m.ChunksStored.Set(float64(chunksStored))
}

func (m *Metrics) ObserveQuery(mode string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Queries.WithLabelValues(mode, status(err)).Inc()
	m.QueryDuration.WithLabelValues(mode).Observe(d.Seconds())
}

func status(err error) string {
	if err != nil {
		return StatusError
	}
	return StatusOK
}
