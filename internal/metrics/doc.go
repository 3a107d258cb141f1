// Package metrics provides Prometheus metrics for observability.
//
// This package exposes metrics for lifecycled operations including:
//   - Reconciler cycles by result, cycle latency and per-sweep latency
//   - Records validated, marked for deletion and deleted
//   - Failures by kind (transient_lookup, not_found_on_delete, unexpected_store_failure)
//   - Metadata store latency by operation (query, update, delete) and records streamed
//   - Object store latency by operation (put, head, delete) and bytes written
//
// Metrics are served on /metrics by the health server in Prometheus format.
//
// Usage:
//
//	lifecycleMetrics := metrics.NewLifecycleMetrics()
//	records := metadata.NewInstrumentedStore(store, metrics.NewMetadataMetrics())
//	blobs := objectstore.NewInstrumentedStore(blobStore, metrics.NewObjectStoreMetrics())
//	reconciler := lifecycle.NewReconciler(records, blobs, lifecycle.Config{Metrics: lifecycleMetrics})
package metrics

// Status label values.
const (
	StatusSuccess = "success"
	StatusFailure = "failure"
)

func statusLabel(success bool) string {
	if success {
		return StatusSuccess
	}
	return StatusFailure
}
