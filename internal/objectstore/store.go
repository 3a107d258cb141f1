// Package objectstore defines the Store interface for the bucket holding
// uploaded blobs.
//
// The reconciler needs only a size lookup and a delete; Put exists so tools
// and tests can upload blobs through the same backends.
//
// # Usage
//
//	store, err := gcs.New(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	meta, err := store.Head(ctx, "slides/abc123.pdf")
//	if err != nil {
//	    if errors.Is(err, objectstore.ErrNotFound) {
//	        // Handle missing object
//	    }
//	    return err
//	}
//	fmt.Println(meta.Size)
//
// Backends: gcs (Google Cloud Storage), s3 (AWS SDK, any S3-compatible
// endpoint) and minio (minio-go client).
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
)

// Common errors returned by Store implementations.
var (
	// ErrNotFound is returned when the requested object does not exist.
	ErrNotFound = errors.New("object not found")

	// ErrBucketNotFound is returned when the configured bucket does not exist.
	ErrBucketNotFound = errors.New("bucket not found")

	// ErrAccessDenied is returned when the credentials lack permission for the operation.
	ErrAccessDenied = errors.New("access denied")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store closed")
)

// ObjectError wraps an error with the object key for context.
type ObjectError struct {
	Op  string // Operation that failed (e.g., "Put", "Head", "Delete")
	Key string // Object key
	Err error  // Underlying error
}

func (e *ObjectError) Error() string {
	return fmt.Sprintf("objectstore: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *ObjectError) Unwrap() error {
	return e.Err
}

// ObjectMeta contains metadata about an object.
type ObjectMeta struct {
	// Key is the object's key (path) in the bucket.
	Key string

	// Size is the object's size in bytes.
	Size int64

	// ContentType is the MIME type of the object.
	ContentType string

	// ETag is the entity tag reported by the backend.
	ETag string

	// LastModified is the Unix timestamp (milliseconds) when the object was last modified.
	LastModified int64
}

// Store is the interface for object storage operations.
//
// All methods accept a context for cancellation and deadline propagation.
// Implementations should return wrapped errors using [ObjectError] where appropriate.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Store interface {
	// Put stores an object at the given key.
	//
	// The reader is consumed until EOF or error. The size parameter must match
	// the total bytes that will be read; some storage providers require this upfront.
	//
	// Common errors:
	//   - ErrBucketNotFound: bucket doesn't exist
	//   - ErrAccessDenied: insufficient permissions
	Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error

	// Head retrieves object metadata without the body.
	//
	// Returns an error if the object doesn't exist or can't be read:
	//   - ErrNotFound: object doesn't exist
	//   - ErrAccessDenied: insufficient permissions
	Head(ctx context.Context, key string) (ObjectMeta, error)

	// Delete removes an object.
	//
	// Backends that report a missing object return ErrNotFound (GCS);
	// S3-compatible backends succeed silently. Callers treat both as done.
	Delete(ctx context.Context, key string) error

	// Close releases resources associated with the store.
	//
	// After Close returns, all other methods will return errors.
	Close() error
}

// IsNotFound reports whether err indicates the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
