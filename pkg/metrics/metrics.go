// Package metrics provides Prometheus instrumentation for clusterstream.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Document ingestion result labels.
const (
	ResultAccepted          = "accepted"
	ResultDuplicate         = "duplicate"
	ResultMalformed         = "malformed"
	ResultDimensionMismatch = "dimension_mismatch"
)

// Metrics holds all Prometheus metric collectors for the consumer.
type Metrics struct {
	BatchesProcessed  prometheus.Counter
	DocumentsIngested *prometheus.CounterVec
	PoolSize          prometheus.Gauge
	ClusterCount      prometheus.Gauge
	SingletonCount    prometheus.Gauge
	StageDuration     *prometheus.HistogramVec
	MergesTotal       prometheus.Counter
	BridgedSkipped    prometheus.Counter
	CheckpointSeconds prometheus.Histogram
	CheckpointBytes   prometheus.Gauge
	SinkRowsWritten   *prometheus.CounterVec
	SinkDuplicateKeys prometheus.Counter

	registry *prometheus.Registry
}

// New creates and registers all clusterstream metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	// Include default Go and process collectors
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		BatchesProcessed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clusterstream_batches_processed_total",
				Help: "Total clustering steps completed.",
			},
		),
		DocumentsIngested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clusterstream_documents_ingested_total",
				Help: "Documents pulled from the queue by parse/dedup result.",
			},
			[]string{"result"},
		),
		PoolSize: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clusterstream_pool_size",
				Help: "Slots currently in the pool (clusters plus singletons).",
			},
		),
		ClusterCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clusterstream_cluster_count",
				Help: "Slots that have ever reached two members.",
			},
		),
		SingletonCount: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clusterstream_singleton_count",
				Help: "Slots holding a single member.",
			},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "clusterstream_step_duration_seconds",
				Help:    "Latency of each step stage.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
			},
			[]string{"stage"},
		),
		MergesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clusterstream_merges_total",
				Help: "Singletons absorbed into survivors across all steps.",
			},
		),
		BridgedSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clusterstream_bridged_clusters_skipped_total",
				Help: "Existing clusters that shared a DBSCAN label with a survivor but were not absorbed.",
			},
		),
		CheckpointSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "clusterstream_checkpoint_duration_seconds",
				Help:    "Latency of pool snapshot writes.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
		),
		CheckpointBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "clusterstream_checkpoint_bytes",
				Help: "Size of the most recent checkpoint blob.",
			},
		),
		SinkRowsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "clusterstream_sink_rows_written_total",
				Help: "Rows upserted to the key-value store by row type.",
			},
			[]string{"type"},
		),
		SinkDuplicateKeys: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "clusterstream_sink_duplicate_keys_total",
				Help: "Key collisions collapsed within a single sink batch.",
			},
		),
		registry: reg,
	}

	reg.MustRegister(
		m.BatchesProcessed,
		m.DocumentsIngested,
		m.PoolSize,
		m.ClusterCount,
		m.SingletonCount,
		m.StageDuration,
		m.MergesTotal,
		m.BridgedSkipped,
		m.CheckpointSeconds,
		m.CheckpointBytes,
		m.SinkRowsWritten,
		m.SinkDuplicateKeys,
	)

	return m
}

// Handler returns an http.Handler that serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveStage records the latency of one step stage.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// RecordPool updates the pool gauges after a step or restore.
func (m *Metrics) RecordPool(size, clusters int) {
	m.PoolSize.Set(float64(size))
	m.ClusterCount.Set(float64(clusters))
	m.SingletonCount.Set(float64(size - clusters))
}
