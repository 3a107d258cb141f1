package metadata

import (
	"context"
	"time"
)

// MetricsRecorder is the interface for recording record store metrics.
// This allows the metadata package to be decoupled from the metrics package.
type MetricsRecorder interface {
	RecordQuery(durationSeconds float64, success bool)
	RecordUpdate(durationSeconds float64, success bool)
	RecordDelete(durationSeconds float64, success bool)
	RecordStreamed(count int)
}

// InstrumentedStore wraps a RecordStore and records metrics for each operation.
type InstrumentedStore struct {
	store   RecordStore
	metrics MetricsRecorder
}

// NewInstrumentedStore creates an instrumented wrapper around a RecordStore.
// If metrics is nil, no metrics are recorded and operations pass through directly.
func NewInstrumentedStore(store RecordStore, metrics MetricsRecorder) *InstrumentedStore {
	return &InstrumentedStore{
		store:   store,
		metrics: metrics,
	}
}

// Query opens a result stream. The recorded latency covers opening the
// stream only; streamed records are counted as the iterator advances.
func (s *InstrumentedStore) Query(ctx context.Context, filter Filter) (RecordIterator, error) {
	start := time.Now()
	it, err := s.store.Query(ctx, filter)
	if s.metrics == nil {
		return it, err
	}
	s.metrics.RecordQuery(time.Since(start).Seconds(), err == nil)
	if err != nil {
		return nil, err
	}
	return &instrumentedIterator{it: it, metrics: s.metrics}, nil
}

// UpdateFields applies a partial update. A NotFound result counts as success,
// since callers treat it as already satisfied.
func (s *InstrumentedStore) UpdateFields(ctx context.Context, id string, fields Fields) error {
	start := time.Now()
	err := s.store.UpdateFields(ctx, id, fields)
	if s.metrics != nil {
		s.metrics.RecordUpdate(time.Since(start).Seconds(), err == nil || IsNotFound(err))
	}
	return err
}

// Delete removes a record.
func (s *InstrumentedStore) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.store.Delete(ctx, id)
	if s.metrics != nil {
		s.metrics.RecordDelete(time.Since(start).Seconds(), err == nil || IsNotFound(err))
	}
	return err
}

// Ping checks the underlying store.
func (s *InstrumentedStore) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Close releases resources held by the store.
func (s *InstrumentedStore) Close() error {
	return s.store.Close()
}

type instrumentedIterator struct {
	it      RecordIterator
	metrics MetricsRecorder
}

func (i *instrumentedIterator) Next() (Record, error) {
	r, err := i.it.Next()
	if err == nil {
		i.metrics.RecordStreamed(1)
	}
	return r, err
}

func (i *instrumentedIterator) Close() error {
	return i.it.Close()
}

// Ensure InstrumentedStore implements RecordStore.
var _ RecordStore = (*InstrumentedStore)(nil)
