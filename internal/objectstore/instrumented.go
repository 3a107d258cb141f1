package objectstore

import (
	"context"
	"io"
	"time"
)

// ObjectStoreMetricsRecorder is the interface for recording object store operation metrics.
// This allows the objectstore package to be decoupled from the metrics package.
type ObjectStoreMetricsRecorder interface {
	RecordPut(durationSeconds float64, success bool, bytes int64)
	RecordHead(durationSeconds float64, success bool)
	RecordDelete(durationSeconds float64, success bool)
}

// InstrumentedStore wraps a Store and records metrics for each operation.
type InstrumentedStore struct {
	store   Store
	metrics ObjectStoreMetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a Store.
// If metrics is nil, no metrics are recorded and operations pass through directly.
func NewInstrumentedStore(store Store, metrics ObjectStoreMetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

// Put stores an object at the given key.
func (s *InstrumentedStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	start := time.Now()
	err := s.store.Put(ctx, key, reader, size, contentType)
	if s.metrics != nil {
		s.metrics.RecordPut(time.Since(start).Seconds(), err == nil, size)
	}
	return err
}

// Head retrieves object metadata. A missing object is a failed lookup.
func (s *InstrumentedStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	start := time.Now()
	meta, err := s.store.Head(ctx, key)
	if s.metrics != nil {
		s.metrics.RecordHead(time.Since(start).Seconds(), err == nil)
	}
	return meta, err
}

// Delete removes an object. ErrNotFound counts as success.
func (s *InstrumentedStore) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := s.store.Delete(ctx, key)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), err == nil || IsNotFound(err))
	}
	return err
}

// Close releases resources held by the underlying store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

var _ Store = (*InstrumentedStore)(nil)
