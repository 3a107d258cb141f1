// Package gcs implements objectstore.Store on a Google Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/slidecast/lifecycled/internal/objectstore"
)

// Config configures a GCS store.
type Config struct {
	// Bucket is the name of the GCS bucket.
	Bucket string

	// CredentialsFile is a service account key file. If empty, uses
	// application default credentials. STORAGE_EMULATOR_HOST is honoured
	// by the client library.
	CredentialsFile string

	// Endpoint overrides the API endpoint (for fake servers).
	Endpoint string
}

// Store implements objectstore.Store using Google Cloud Storage.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	closed bool
	mu     sync.RWMutex
}

// New creates a new GCS store with the given configuration.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("gcs: bucket name is required")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcs: failed to create client: %w", err)
	}

	return &Store{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
	}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return objectstore.ErrStoreClosed
	}
	return nil
}

// Put uploads an object through a resumable writer. GCS does not need the
// size upfront.
func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}

	w := s.bucket.Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := io.Copy(w, reader); err != nil {
		_ = w.Close()
		return wrapError("Put", key, err)
	}
	if err := w.Close(); err != nil {
		return wrapError("Put", key, err)
	}
	return nil
}

// Head reads the object attributes.
func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return objectstore.ObjectMeta{}, err
	}

	attrs, err := s.bucket.Object(key).Attrs(ctx)
	if err != nil {
		return objectstore.ObjectMeta{}, wrapError("Head", key, err)
	}

	return objectstore.ObjectMeta{
		Key:          key,
		Size:         attrs.Size,
		ContentType:  attrs.ContentType,
		ETag:         attrs.Etag,
		LastModified: attrs.Updated.UnixMilli(),
	}, nil
}

// Delete removes an object. GCS reports missing objects, which surface as
// objectstore.ErrNotFound.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if err := s.bucket.Object(key).Delete(ctx); err != nil {
		return wrapError("Delete", key, err)
	}
	return nil
}

// Close releases the client.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// wrapError maps client library errors onto objectstore sentinels.
func wrapError(op, key string, err error) error {
	switch {
	case errors.Is(err, storage.ErrObjectNotExist):
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	case errors.Is(err, storage.ErrBucketNotExist):
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrBucketNotFound}
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusNotFound:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
		case http.StatusForbidden, http.StatusUnauthorized:
			return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
		}
	}

	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

var _ objectstore.Store = (*Store)(nil)
