package objectstore

import (
	"context"
	"io"
	"sync"
	"time"
)

// MockStore is an in-memory implementation of the Store interface for testing.
type MockStore struct {
	mu         sync.RWMutex
	objects    map[string]ObjectMeta
	headErrs   map[string]error
	deleteErrs map[string]error
	deletes    []string
	closed     bool
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		objects:    make(map[string]ObjectMeta),
		headErrs:   make(map[string]error),
		deleteErrs: make(map[string]error),
	}
}

// AddObject registers an object of the given size without content.
func (s *MockStore) AddObject(key string, size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = ObjectMeta{Key: key, Size: size, LastModified: time.Now().UnixMilli()}
}

// Exists reports whether an object is stored under key.
func (s *MockStore) Exists(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[key]
	return ok
}

// SetHeadError makes Head for key fail with err. Pass nil to clear.
func (s *MockStore) SetHeadError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.headErrs, key)
		return
	}
	s.headErrs[key] = err
}

// SetDeleteError makes Delete for key fail with err. Pass nil to clear.
func (s *MockStore) SetDeleteError(key string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.deleteErrs, key)
		return
	}
	s.deleteErrs[key] = err
}

// Deletes returns the keys passed to Delete, in call order.
func (s *MockStore) Deletes() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.deletes...)
}

func (s *MockStore) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	n, err := io.Copy(io.Discard, reader)
	if err != nil {
		return &ObjectError{Op: "Put", Key: key, Err: err}
	}
	s.objects[key] = ObjectMeta{
		Key:          key,
		Size:         n,
		ContentType:  contentType,
		ETag:         "mock-etag",
		LastModified: time.Now().UnixMilli(),
	}
	return nil
}

// Head returns ErrNotFound for absent keys, the same way the GCS backend does.
func (s *MockStore) Head(ctx context.Context, key string) (ObjectMeta, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ObjectMeta{}, ErrStoreClosed
	}
	if err := s.headErrs[key]; err != nil {
		return ObjectMeta{}, &ObjectError{Op: "Head", Key: key, Err: err}
	}
	meta, ok := s.objects[key]
	if !ok {
		return ObjectMeta{}, &ObjectError{Op: "Head", Key: key, Err: ErrNotFound}
	}
	return meta, nil
}

// Delete reports ErrNotFound for absent keys, the same way the GCS backend does.
func (s *MockStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.deletes = append(s.deletes, key)
	if err := s.deleteErrs[key]; err != nil {
		return &ObjectError{Op: "Delete", Key: key, Err: err}
	}
	if _, ok := s.objects[key]; !ok {
		return &ObjectError{Op: "Delete", Key: key, Err: ErrNotFound}
	}
	delete(s.objects, key)
	return nil
}

func (s *MockStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

var _ Store = (*MockStore)(nil)
