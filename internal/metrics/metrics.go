// Package metrics holds the Prometheus instruments of one running engine.
// Every method is safe to call on a nil *Metrics, which records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "semsearch"

// Batch outcomes recorded by the orchestrator
const (
	OutcomeOK      = "ok"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
	OutcomeTimeout = "timeout"
)

// Metrics is a set of instruments registered on a private registry
type Metrics struct {
	registry *prometheus.Registry

	embedBatches   *prometheus.CounterVec
	embedDuration  prometheus.Histogram
	fallbackChunks *prometheus.CounterVec
	indexRuns      *prometheus.CounterVec
	indexDuration  prometheus.Histogram
	indexFiles     *prometheus.CounterVec
	chunksWritten  prometheus.Counter
	searches       *prometheus.CounterVec
	searchDuration prometheus.Histogram
	storeChunks    prometheus.Gauge
	storeFiles     prometheus.Gauge
}

// New creates the instruments on a fresh registry, together with the Go
// runtime and process collectors
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		embedBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "batches_total",
			Help:      "Worker embedding batches by outcome",
		}, []string{"outcome"}),
		embedDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one EmbedBatch call including fallback",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		fallbackChunks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "fallback_chunks_total",
			Help:      "Chunks recomputed on the sequential fallback path by outcome",
		}, []string{"outcome"}),
		indexRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "runs_total",
			Help:      "Indexing runs by status",
		}, []string{"status"}),
		indexDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "run_duration_seconds",
			Help:      "Duration of completed indexing runs",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14),
		}),
		indexFiles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "files_total",
			Help:      "Files seen by indexing runs by result",
		}, []string{"result"}),
		chunksWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "chunks_written_total",
			Help:      "Chunks written to the store",
		}),
		searches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Search requests, labelled by whether indexing was in progress",
		}, []string{"partial"}),
		searchDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Search latency",
			Buckets:   prometheus.DefBuckets,
		}),
		storeChunks: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "chunks",
			Help:      "Chunks in the store after the last run",
		}),
		storeFiles: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      "files",
			Help:      "Files with a stored hash after the last run",
		}),
	}
}

// Registry returns the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// EmbedBatch records one worker slice outcome
func (m *Metrics) EmbedBatch(outcome string) {
	if m == nil {
		return
	}
	m.embedBatches.WithLabelValues(outcome).Inc()
}

// EmbedDuration records the duration of one EmbedBatch call
func (m *Metrics) EmbedDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.embedDuration.Observe(d.Seconds())
}

// FallbackChunk records one chunk recomputed on the fallback path
func (m *Metrics) FallbackChunk(ok bool) {
	if m == nil {
		return
	}
	outcome := OutcomeOK
	if !ok {
		outcome = OutcomeError
	}
	m.fallbackChunks.WithLabelValues(outcome).Inc()
}

// IndexRun records a finished or skipped indexing run
func (m *Metrics) IndexRun(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.indexRuns.WithLabelValues(status).Inc()
	if d > 0 {
		m.indexDuration.Observe(d.Seconds())
	}
}

// IndexFiles adds n files with the given result (processed, skipped, failed, pruned)
func (m *Metrics) IndexFiles(result string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.indexFiles.WithLabelValues(result).Add(float64(n))
}

// ChunksWritten adds n written chunks
func (m *Metrics) ChunksWritten(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.chunksWritten.Add(float64(n))
}

// StoreSize sets the store gauges
func (m *Metrics) StoreSize(chunks, files int) {
	if m == nil {
		return
	}
	m.storeChunks.Set(float64(chunks))
	m.storeFiles.Set(float64(files))
}

// Search records one search request
func (m *Metrics) Search(partial bool, d time.Duration) {
	if m == nil {
		return
	}
	label := "false"
	if partial {
		label = "true"
	}
	m.searches.WithLabelValues(label).Inc()
	m.searchDuration.Observe(d.Seconds())
}
