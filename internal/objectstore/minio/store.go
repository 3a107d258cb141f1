// Package minio implements objectstore.Store with the minio-go client, for
// MinIO and other S3-compatible servers.
package minio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/slidecast/lifecycled/internal/objectstore"
)

// Config configures a MinIO store.
type Config struct {
	Endpoint        string // host:port, e.g. "localhost:9000"
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	Bucket          string
	Region          string
}

// Store implements objectstore.Store using minio-go.
type Store struct {
	client *minio.Client
	bucket string
	closed bool
	mu     sync.RWMutex
}

// New creates a client and verifies the bucket exists.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("minio: endpoint is required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("minio: bucket name is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("minio: failed to create client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("minio: failed to check bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		return nil, &objectstore.ObjectError{Op: "New", Key: cfg.Bucket, Err: objectstore.ErrBucketNotFound}
	}

	return &Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return objectstore.ErrStoreClosed
	}
	return nil
}

// Put stores an object at the given key.
func (s *Store) Put(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	_, err := s.client.PutObject(ctx, s.bucket, key, reader, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return wrapError("Put", key, err)
	}
	return nil
}

// Head stats the object.
func (s *Store) Head(ctx context.Context, key string) (objectstore.ObjectMeta, error) {
	if err := s.checkClosed(); err != nil {
		return objectstore.ObjectMeta{}, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return objectstore.ObjectMeta{}, wrapError("Head", key, err)
	}
	return objectstore.ObjectMeta{
		Key:          key,
		Size:         info.Size,
		ContentType:  info.ContentType,
		ETag:         info.ETag,
		LastModified: info.LastModified.UnixMilli(),
	}, nil
}

// Delete removes an object. Like S3, missing keys succeed.
func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.checkClosed(); err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		wrapped := wrapError("Delete", key, err)
		if errors.Is(wrapped, objectstore.ErrNotFound) {
			return nil
		}
		return wrapped
	}
	return nil
}

// Close marks the store closed. minio-go holds no resources to release.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// wrapError maps minio error responses onto objectstore sentinels.
func wrapError(op, key string, err error) error {
	resp := minio.ToErrorResponse(err)
	switch {
	case resp.Code == "NoSuchBucket":
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrBucketNotFound}
	case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrNotFound}
	case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
		return &objectstore.ObjectError{Op: op, Key: key, Err: objectstore.ErrAccessDenied}
	}
	return &objectstore.ObjectError{Op: op, Key: key, Err: err}
}

var _ objectstore.Store = (*Store)(nil)
