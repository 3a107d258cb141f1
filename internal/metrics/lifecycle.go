package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LifecycleMetrics holds metrics for reconciler cycles.
type LifecycleMetrics struct {
	// CyclesTotal counts completed cycles by result (success, failure).
	CyclesTotal *prometheus.CounterVec

	// CycleDuration tracks wall time of whole cycles.
	CycleDuration prometheus.Histogram

	// SweepDuration tracks wall time per sweep.
	// Labels: sweep (validity, expiration, deletion), status (success, failure)
	SweepDuration *prometheus.HistogramVec

	// RecordsTotal counts records changed by the reconciler.
	// Labels: action (validated, marked, deleted)
	RecordsTotal *prometheus.CounterVec

	// FailuresTotal counts per-record failures by kind.
	// Labels: kind (transient_lookup, not_found_on_delete, unexpected_store_failure)
	FailuresTotal *prometheus.CounterVec

	// LastSuccess is the unix time of the last cycle that completed without error.
	LastSuccess prometheus.Gauge
}

// DefaultCycleLatencyBuckets cover cycles from a few ms (empty collection)
// to several minutes (large backlog of deletions).
var DefaultCycleLatencyBuckets = []float64{
	0.005, // 5ms
	0.025, // 25ms
	0.1,   // 100ms
	0.5,   // 500ms
	1.0,   // 1s
	5.0,   // 5s
	15.0,  // 15s
	60.0,  // 1m
	300.0, // 5m
	900.0, // 15m
}

// NewLifecycleMetrics creates and registers reconciler metrics.
// Uses promauto for automatic registration with the default registry.
func NewLifecycleMetrics() *LifecycleMetrics {
	return newLifecycleMetrics(promauto.With(prometheus.DefaultRegisterer))
}

// NewLifecycleMetricsWithRegistry creates reconciler metrics registered with a custom registry.
// Useful for testing to avoid conflicts with the default registry.
func NewLifecycleMetricsWithRegistry(reg prometheus.Registerer) *LifecycleMetrics {
	return newLifecycleMetrics(promauto.With(reg))
}

func newLifecycleMetrics(f promauto.Factory) *LifecycleMetrics {
	return &LifecycleMetrics{
		CyclesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lifecycled",
				Subsystem: "reconciler",
				Name:      "cycles_total",
				Help:      "Total number of reconciliation cycles, broken down by result.",
			},
			[]string{"status"},
		),
		CycleDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "lifecycled",
				Subsystem: "reconciler",
				Name:      "cycle_duration_seconds",
				Help:      "Duration of reconciliation cycles in seconds.",
				Buckets:   DefaultCycleLatencyBuckets,
			},
		),
		SweepDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "lifecycled",
				Subsystem: "reconciler",
				Name:      "sweep_duration_seconds",
				Help:      "Duration of individual sweeps in seconds, broken down by sweep and status.",
				Buckets:   DefaultCycleLatencyBuckets,
			},
			[]string{"sweep", "status"},
		),
		RecordsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lifecycled",
				Subsystem: "reconciler",
				Name:      "records_total",
				Help:      "Total number of records changed, broken down by action.",
			},
			[]string{"action"},
		),
		FailuresTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "lifecycled",
				Subsystem: "reconciler",
				Name:      "failures_total",
				Help:      "Total number of per-record failures, broken down by kind.",
			},
			[]string{"kind"},
		),
		LastSuccess: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "lifecycled",
				Subsystem: "reconciler",
				Name:      "last_success_timestamp_seconds",
				Help:      "Unix time of the last cycle that completed without error.",
			},
		),
	}
}

// RecordCycle records a finished cycle.
func (m *LifecycleMetrics) RecordCycle(durationSeconds float64, success bool) {
	m.CyclesTotal.WithLabelValues(statusLabel(success)).Inc()
	m.CycleDuration.Observe(durationSeconds)
	if success {
		m.LastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordSweep records a finished sweep.
func (m *LifecycleMetrics) RecordSweep(sweep string, durationSeconds float64, success bool) {
	m.SweepDuration.WithLabelValues(sweep, statusLabel(success)).Observe(durationSeconds)
}

// RecordRecords adds count records for action.
func (m *LifecycleMetrics) RecordRecords(action string, count int) {
	if count > 0 {
		m.RecordsTotal.WithLabelValues(action).Add(float64(count))
	}
}

// RecordFailure counts one failure of kind.
func (m *LifecycleMetrics) RecordFailure(kind string) {
	m.FailuresTotal.WithLabelValues(kind).Inc()
}
