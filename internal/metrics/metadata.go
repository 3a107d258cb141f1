package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetadataMetrics holds metrics related to record store operations.
type MetadataMetrics struct {
	// LatencyHistogram tracks record store latencies broken down by operation and status.
	// Labels: operation (query, update, delete), status (success, failure).
	// A query is timed until its iterator is opened, not until it is drained.
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total record store operations by operation and status.
	RequestsTotal *prometheus.CounterVec

	// RecordsStreamedTotal counts records returned by query iterators.
	RecordsStreamedTotal prometheus.Counter
}

// Record store operation label values.
const (
	OpQuery  = "query"
	OpUpdate = "update"
	OpDelete = "delete"
)

// DefaultMetadataLatencyBuckets are latency buckets for record store operations.
// Metadata calls are usually sub-ms to tens of ms; Firestore round trips sit
// toward the upper end.
var DefaultMetadataLatencyBuckets = []float64{
	0.0001, // 0.1ms
	0.0005, // 0.5ms
	0.001,  // 1ms
	0.002,  // 2ms
	0.005,  // 5ms
	0.01,   // 10ms
	0.025,  // 25ms
	0.05,   // 50ms
	0.1,    // 100ms
	0.25,   // 250ms
	0.5,    // 500ms
	1.0,    // 1s
	2.5,    // 2.5s
	5.0,    // 5s
}

// NewMetadataMetrics creates and registers record store metrics.
// Uses promauto for automatic registration with the default registry.
func NewMetadataMetrics() *MetadataMetrics {
	return newMetadataMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewMetadataMetricsWithRegistry creates record store metrics registered with a custom registry.
func NewMetadataMetricsWithRegistry(reg prometheus.Registerer) *MetadataMetrics {
	return newMetadataMetrics(promauto.With(reg))
}

func newMetadataMetrics(f promauto.Factory) *MetadataMetrics {
	return &MetadataMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lifecycled",
				Subsystem: "metadata",
				Name:      "operation_latency_seconds",
				Help:      "Record store operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultMetadataLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lifecycled",
				Subsystem: "metadata",
				Name:      "operations_total",
				Help:      "Total number of record store operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
		RecordsStreamedTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lifecycled",
				Subsystem: "metadata",
				Name:      "records_streamed_total",
				Help:      "Total number of records returned by query iterators.",
			},
		),
	}
}

// RecordOperation records a record store operation latency and increments the request counter.
func (m *MetadataMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordQuery records opening a query.
func (m *MetadataMetrics) RecordQuery(durationSeconds float64, success bool) {
	m.RecordOperation(OpQuery, durationSeconds, success)
}

// RecordUpdate records a field update.
func (m *MetadataMetrics) RecordUpdate(durationSeconds float64, success bool) {
	m.RecordOperation(OpUpdate, durationSeconds, success)
}

// RecordDelete records a record delete.
func (m *MetadataMetrics) RecordDelete(durationSeconds float64, success bool) {
	m.RecordOperation(OpDelete, durationSeconds, success)
}

// RecordStreamed adds count to the streamed records counter.
func (m *MetadataMetrics) RecordStreamed(count int) {
	if count > 0 {
		m.RecordsStreamedTotal.Add(float64(count))
	}
}
