// Package metrics holds the Prometheus collectors for ingestion runs.
//
// Every method is safe to call on a nil *Metrics, so components can take an
// optional collector without guarding each call site.
//
// Metrics:
//   - ragingest_files_total{result} - files parsed or failed
//   - ragingest_batches_total{result} - batches delivered or failed
//   - ragingest_fragments_total{stage} - fragments parsed, emitted or delivered
//   - ragingest_missing_parents_total - unresolved parent references
//   - ragingest_sink_insert_seconds - sink insert latency
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label values.
const (
	ResultOK     = "ok"
	ResultFailed = "failed"

	StageParsed    = "parsed"
	StageEmitted   = "emitted"
	StageDelivered = "delivered"
)

// Metrics groups the ingestion collectors.
type Metrics struct {
	FilesTotal          *prometheus.CounterVec
	BatchesTotal        *prometheus.CounterVec
	FragmentsTotal      *prometheus.CounterVec
	MissingParentsTotal prometheus.Counter
	SinkInsertDuration  prometheus.Histogram
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer for the process-wide /metrics endpoint or a
// fresh prometheus.NewRegistry() in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FilesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragingest_files_total",
				Help: "Source files processed by result",
			},
			[]string{"result"},
		),
		BatchesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragingest_batches_total",
				Help: "Batches handed to the sink by result",
			},
			[]string{"result"},
		),
		FragmentsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragingest_fragments_total",
				Help: "Fragments seen at each pipeline stage",
			},
			[]string{"stage"},
		),
		MissingParentsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Name: "ragingest_missing_parents_total",
				Help: "Fragments whose parent reference could not be resolved",
			},
		),
		SinkInsertDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragingest_sink_insert_seconds",
				Help:    "Duration of sink insert calls in seconds",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
			},
		),
	}
}

// FileParsed records a parsed file and the fragments it produced.
func (m *Metrics) FileParsed(fragments int) {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(ResultOK).Inc()
	m.FragmentsTotal.WithLabelValues(StageParsed).Add(float64(fragments))
}

// FileFailed records a file that could not be parsed.
func (m *Metrics) FileFailed() {
	if m == nil {
		return
	}
	m.FilesTotal.WithLabelValues(ResultFailed).Inc()
}

// FragmentsEmitted records merged fragments placed into batches.
func (m *Metrics) FragmentsEmitted(n int) {
	if m == nil {
		return
	}
	m.FragmentsTotal.WithLabelValues(StageEmitted).Add(float64(n))
}

// MissingParents records unresolved parent references.
func (m *Metrics) MissingParents(n int) {
	if m == nil || n == 0 {
		return
	}
	m.MissingParentsTotal.Add(float64(n))
}

// BatchDelivered records a successful sink insert.
func (m *Metrics) BatchDelivered(size int, took time.Duration) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(ResultOK).Inc()
	m.FragmentsTotal.WithLabelValues(StageDelivered).Add(float64(size))
	m.SinkInsertDuration.Observe(took.Seconds())
}

// BatchFailed records a failed sink insert.
func (m *Metrics) BatchFailed(took time.Duration) {
	if m == nil {
		return
	}
	m.BatchesTotal.WithLabelValues(ResultFailed).Inc()
	m.SinkInsertDuration.Observe(took.Seconds())
}
