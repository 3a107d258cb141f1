package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ObjectStoreMetrics holds metrics related to blob store operations.
type ObjectStoreMetrics struct {
	// LatencyHistogram tracks blob store operation latencies broken down by operation and status.
	// Labels: operation (put, head, delete), status (success, failure)
	LatencyHistogram *prometheus.HistogramVec

	// RequestsTotal tracks total blob store operations by operation and status.
	RequestsTotal *prometheus.CounterVec

	// BytesWrittenTotal tracks bytes uploaded by successful puts.
	BytesWrittenTotal prometheus.Counter
}

// Object store operation label values.
const (
	OpObjPut    = "put"
	OpObjHead   = "head"
	OpObjDelete = "delete"
)

// DefaultObjectStoreLatencyBuckets are latency buckets for object store operations.
// Optimized for S3/GCS blob operations which typically range from tens of ms to seconds.
var DefaultObjectStoreLatencyBuckets = []float64{
	0.001, // 1ms
	0.005, // 5ms
	0.01,  // 10ms
	0.025, // 25ms
	0.05,  // 50ms
	0.1,   // 100ms
	0.25,  // 250ms
	0.5,   // 500ms
	1.0,   // 1s
	2.5,   // 2.5s
	5.0,   // 5s
	10.0,  // 10s
	30.0,  // 30s
	60.0,  // 60s
}

// NewObjectStoreMetrics creates and registers object store metrics.
// Uses promauto for automatic registration with the default registry.
func NewObjectStoreMetrics() *ObjectStoreMetrics {
	return newObjectStoreMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewObjectStoreMetricsWithRegistry creates object store metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewObjectStoreMetricsWithRegistry(reg prometheus.Registerer) *ObjectStoreMetrics {
	return newObjectStoreMetrics(promauto.With(reg))
}

func newObjectStoreMetrics(f promauto.Factory) *ObjectStoreMetrics {
	return &ObjectStoreMetrics{
		LatencyHistogram: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lifecycled",
				Subsystem: "objectstore",
				Name:      "operation_latency_seconds",
				Help:      "Object store operation latency in seconds, broken down by operation and status.",
				Buckets:   DefaultObjectStoreLatencyBuckets,
			},
			[]string{"operation", "status"},
		),
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lifecycled",
				Subsystem: "objectstore",
				Name:      "operations_total",
				Help:      "Total number of object store operations, broken down by operation and status.",
			},
			[]string{"operation", "status"},
		),
		BytesWrittenTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: "lifecycled",
				Subsystem: "objectstore",
				Name:      "bytes_written_total",
				Help:      "Total bytes written by successful puts.",
			},
		),
	}
}

// RecordOperation records an object store operation latency and increments the request counter.
func (m *ObjectStoreMetrics) RecordOperation(operation string, durationSeconds float64, success bool) {
	status := statusLabel(success)
	m.LatencyHistogram.WithLabelValues(operation, status).Observe(durationSeconds)
	m.RequestsTotal.WithLabelValues(operation, status).Inc()
}

// RecordPut records a Put operation.
func (m *ObjectStoreMetrics) RecordPut(durationSeconds float64, success bool, bytes int64) {
	m.RecordOperation(OpObjPut, durationSeconds, success)
	if success && bytes > 0 {
		m.BytesWrittenTotal.Add(float64(bytes))
	}
}

// RecordHead records a Head operation.
func (m *ObjectStoreMetrics) RecordHead(durationSeconds float64, success bool) {
	m.RecordOperation(OpObjHead, durationSeconds, success)
}

// RecordDelete records a Delete operation.
func (m *ObjectStoreMetrics) RecordDelete(durationSeconds float64, success bool) {
	m.RecordOperation(OpObjDelete, durationSeconds, success)
}
