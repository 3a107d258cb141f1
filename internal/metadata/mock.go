package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// MockStore implements RecordStore and LeaseStore in memory for testing.
// It is exported so that tests in other packages can use it.
type MockStore struct {
	mu      sync.RWMutex
	records map[string]Record
	kv      map[string]GetResult
	closed  bool
	nextVer Version

	queryErr   error
	updateErrs map[string]error
	deleteErrs map[string]error
	pingErr    error
	corrupt    map[string]bool

	openIterators int

	queries []Filter
	updates []string
	deletes []string
}

// NewMockStore creates a new MockStore for testing.
func NewMockStore() *MockStore {
	return &MockStore{
		records:    make(map[string]Record),
		kv:         make(map[string]GetResult),
		nextVer:    1,
		updateErrs: make(map[string]error),
		deleteErrs: make(map[string]error),
		corrupt:    make(map[string]bool),
	}
}

// Add inserts or replaces a record.
func (m *MockStore) Add(r Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[r.ID] = r
}

// Record returns the stored record with the given id.
func (m *MockStore) Record(id string) (Record, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.records[id]
	return r, ok
}

// Len returns the number of stored records.
func (m *MockStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

// SetQueryError makes every subsequent Query fail with err. Pass nil to clear.
func (m *MockStore) SetQueryError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryErr = err
}

// SetUpdateError makes UpdateFields for id fail with err. Pass nil to clear.
func (m *MockStore) SetUpdateError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.updateErrs, id)
		return
	}
	m.updateErrs[id] = err
}

// SetDeleteError makes Delete for id fail with err. Pass nil to clear.
func (m *MockStore) SetDeleteError(id string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.deleteErrs, id)
		return
	}
	m.deleteErrs[id] = err
}

// SetPingError makes Ping fail with err.
func (m *MockStore) SetPingError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
}

// MarkCorrupt makes iterators fail to decode id with ErrInvalidRecord, as a
// backend does for a stored document of the wrong shape. The iterator stays
// usable after the error.
func (m *MockStore) MarkCorrupt(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.corrupt[id] = true
}

// OpenIterators returns the number of iterators not yet closed.
func (m *MockStore) OpenIterators() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openIterators
}

// Queries returns the filters passed to Query, in call order.
func (m *MockStore) Queries() []Filter {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Filter(nil), m.queries...)
}

// Updates returns the ids passed to UpdateFields, in call order.
func (m *MockStore) Updates() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.updates...)
}

// Deletes returns the ids passed to Delete, in call order.
func (m *MockStore) Deletes() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.deletes...)
}

// Query snapshots the matching ids in id order. Each record is re-read when
// the iterator reaches it, so updates and deletes made during iteration are
// observed the same way a server-side cursor would observe them.
func (m *MockStore) Query(_ context.Context, filter Filter) (RecordIterator, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	m.queries = append(m.queries, filter)
	if m.queryErr != nil {
		return nil, m.queryErr
	}

	var ids []string
	for id, r := range m.records {
		if filter.Match(r) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	m.openIterators++
	return &mockIterator{store: m, ids: ids}, nil
}

func (m *MockStore) UpdateFields(_ context.Context, id string, fields Fields) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.updates = append(m.updates, id)
	if err := m.updateErrs[id]; err != nil {
		return &RecordError{Op: "Update", ID: id, Err: err}
	}
	r, ok := m.records[id]
	if !ok {
		return &RecordError{Op: "Update", ID: id, Err: ErrNotFound}
	}
	m.records[id] = fields.Apply(r)
	return nil
}

func (m *MockStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	m.deletes = append(m.deletes, id)
	if err := m.deleteErrs[id]; err != nil {
		return &RecordError{Op: "Delete", ID: id, Err: err}
	}
	if _, ok := m.records[id]; !ok {
		return &RecordError{Op: "Delete", ID: id, Err: ErrNotFound}
	}
	delete(m.records, id)
	return nil
}

func (m *MockStore) Ping(_ context.Context) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrStoreClosed
	}
	return m.pingErr
}

func (m *MockStore) Get(_ context.Context, key string) (GetResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return GetResult{}, ErrStoreClosed
	}
	res, ok := m.kv[key]
	if !ok {
		return GetResult{Exists: false}, nil
	}
	return res, nil
}

func (m *MockStore) PutEphemeral(_ context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, ErrStoreClosed
	}

	expectNotExists, expectedVersion := ExtractEphemeralOptions(opts)
	existing, ok := m.kv[key]
	if expectNotExists && ok {
		return 0, ErrVersionMismatch
	}
	if expectedVersion != nil && (!ok || existing.Version != *expectedVersion) {
		return 0, ErrVersionMismatch
	}

	ver := m.nextVer
	m.nextVer++
	m.kv[key] = GetResult{Value: value, Version: ver, Exists: true}
	return ver, nil
}

func (m *MockStore) DeleteKey(_ context.Context, key string, opts ...DeleteOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	existing, ok := m.kv[key]
	if !ok {
		return nil
	}
	if v := ExtractDeleteExpectedVersion(opts); v != nil && existing.Version != *v {
		return ErrVersionMismatch
	}
	delete(m.kv, key)
	return nil
}

// ExpireSession drops every ephemeral key, as if the client session ended.
func (m *MockStore) ExpireSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kv = make(map[string]GetResult)
}

func (m *MockStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockIterator struct {
	store  *MockStore
	ids    []string
	pos    int
	closed bool
}

func (it *mockIterator) Next() (Record, error) {
	if it.closed {
		return Record{}, ErrDone
	}
	it.store.mu.RLock()
	defer it.store.mu.RUnlock()

	for it.pos < len(it.ids) {
		id := it.ids[it.pos]
		it.pos++
		r, ok := it.store.records[id]
		if !ok {
			continue
		}
		if it.store.corrupt[id] {
			return Record{}, &RecordError{Op: "Query", ID: id, Err: fmt.Errorf("%w: undecodable document", ErrInvalidRecord)}
		}
		return r, nil
	}
	return Record{}, ErrDone
}

func (it *mockIterator) Close() error {
	if it.closed {
		return nil
	}
	it.closed = true
	it.store.mu.Lock()
	it.store.openIterators--
	it.store.mu.Unlock()
	return nil
}

var (
	_ RecordStore = (*MockStore)(nil)
	_ LeaseStore  = (*MockStore)(nil)
)
