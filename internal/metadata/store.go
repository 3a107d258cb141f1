// Package metadata defines the RecordStore interface and the record model
// for uploaded objects tracked by the lifecycle reconciler.
//
// A record is created outside of this repository when an object is uploaded.
// The reconciler only reads records through streaming queries, flips the
// isValid and deleteFlag fields, and deletes records once their object is gone.
//
// Backends:
//   - firestore: the original document collection (wire compatible)
//   - oxia: JSON documents under a per-collection key prefix
//   - postgres: a lifecycle_records table
//
// [MockStore] is an in-memory implementation for tests in other packages.
package metadata

import (
	"context"
	"errors"
	"fmt"
)

// Common errors returned by RecordStore operations.
var (
	// ErrNotFound is returned when a record does not exist (anymore).
	// Callers of UpdateFields and Delete treat it as an already satisfied
	// condition, since a concurrent reconciler may have won the race.
	ErrNotFound = errors.New("metadata: record not found")

	// ErrDone is returned by RecordIterator.Next when the result set is exhausted.
	ErrDone = errors.New("metadata: no more records")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("metadata: store closed")

	// ErrVersionMismatch is returned when the expected version does not match
	// the current version during a compare-and-set operation.
	ErrVersionMismatch = errors.New("metadata: version mismatch")

	// ErrInvalidRecord is returned when a stored document cannot be decoded.
	ErrInvalidRecord = errors.New("metadata: invalid record")
)

// RecordError wraps an error with the record id for context.
type RecordError struct {
	Op  string // Operation that failed (e.g., "Update", "Delete")
	ID  string // Record id
	Err error  // Underlying error
}

func (e *RecordError) Error() string {
	return fmt.Sprintf("metadata: %s %q: %v", e.Op, e.ID, e.Err)
}

func (e *RecordError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err indicates the record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// RecordIterator streams query results one record at a time.
//
// Implementations fetch lazily from the backend, so a large collection is
// never materialised in memory. Callers must call Close when done, even after
// Next has returned ErrDone or an error.
//
// Example usage:
//
//	it, err := store.Query(ctx, filter)
//	if err != nil {
//	    return err
//	}
//	defer it.Close()
//
//	for {
//	    rec, err := it.Next()
//	    if errors.Is(err, metadata.ErrDone) {
//	        break
//	    }
//	    if err != nil {
//	        return err
//	    }
//	    // Process rec...
//	}
type RecordIterator interface {
	// Next returns the next matching record, ErrDone once the result set is
	// exhausted, or the backend error that interrupted the stream.
	Next() (Record, error)

	// Close releases resources associated with the iterator.
	Close() error
}

// RecordStore is the interface for record storage operations.
//
// All operations accept a context.Context for cancellation and timeouts.
// Implementations must be safe for concurrent use.
type RecordStore interface {
	// Query returns a lazy iterator over the records matching every
	// predicate set in filter.
	Query(ctx context.Context, filter Filter) (RecordIterator, error)

	// UpdateFields applies a partial update to the record with the given id.
	// Only the fields set in Fields are written.
	// Returns ErrNotFound (possibly wrapped) if the record no longer exists.
	UpdateFields(ctx context.Context, id string, fields Fields) error

	// Delete removes the record with the given id.
	// Backends that can tell return ErrNotFound (possibly wrapped) when the
	// record is already gone.
	Delete(ctx context.Context, id string) error

	// Ping verifies that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases resources held by the store.
	// After Close is called, all operations return ErrStoreClosed.
	Close() error
}

// Version represents a key's version in a versioned key-value backend.
// A zero version indicates the key has never been written.
type Version int64

// GetResult is the result of a key-value Get operation.
type GetResult struct {
	Value   []byte
	Version Version
	Exists  bool
}

// DeleteOption configures a key-value Delete operation.
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	expectedVersion *Version
}

// WithDeleteExpectedVersion specifies the expected version for a conditional delete.
// If the current version does not match, the Delete fails with ErrVersionMismatch.
func WithDeleteExpectedVersion(v Version) DeleteOption {
	return func(o *deleteOptions) {
		o.expectedVersion = &v
	}
}

// ExtractDeleteExpectedVersion extracts the expected version from Delete options.
// Returns nil if no expected version was specified.
func ExtractDeleteExpectedVersion(opts []DeleteOption) *Version {
	var dOpts deleteOptions
	for _, opt := range opts {
		opt(&dOpts)
	}
	return dOpts.expectedVersion
}

// EphemeralOption configures a PutEphemeral operation.
type EphemeralOption func(*ephemeralOptions)

type ephemeralOptions struct {
	expectNotExists bool
	expectedVersion *Version
}

// WithEphemeralExpectNotExists configures PutEphemeral to fail with
// ErrVersionMismatch if the key already exists. Use this for acquiring
// a new lease when you want to ensure no other process has the lease.
func WithEphemeralExpectNotExists() EphemeralOption {
	return func(o *ephemeralOptions) {
		o.expectNotExists = true
	}
}

// WithEphemeralExpectedVersion configures PutEphemeral to fail with
// ErrVersionMismatch if the key's current version doesn't match.
// Use this for renewing a lease you already hold.
func WithEphemeralExpectedVersion(v Version) EphemeralOption {
	return func(o *ephemeralOptions) {
		o.expectedVersion = &v
	}
}

// ExtractEphemeralOptions extracts options from EphemeralOption slice.
func ExtractEphemeralOptions(opts []EphemeralOption) (expectNotExists bool, expectedVersion *Version) {
	var o ephemeralOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o.expectNotExists, o.expectedVersion
}

// LeaseStore is the subset of key-value operations needed to hold a
// session-bound lease. Only backends with ephemeral keys implement it
// (Oxia, and MockStore for tests).
type LeaseStore interface {
	// Get retrieves a value by key.
	// Returns GetResult with Exists=false if the key does not exist (not an error).
	Get(ctx context.Context, key string) (GetResult, error)

	// PutEphemeral stores a value that is automatically deleted when
	// the client session ends.
	PutEphemeral(ctx context.Context, key string, value []byte, opts ...EphemeralOption) (Version, error)

	// DeleteKey removes a key, optionally with version checking.
	// Returns nil if the key does not exist.
	DeleteKey(ctx context.Context, key string, opts ...DeleteOption) error
}
