package minio

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slidecast/lifecycled/internal/objectstore"
)

func TestNewValidation(t *testing.T) {
	_, err := New(context.Background(), Config{Bucket: "b"})
	assert.ErrorContains(t, err, "endpoint is required")

	_, err = New(context.Background(), Config{Endpoint: "localhost:9000"})
	assert.ErrorContains(t, err, "bucket name is required")
}

func TestWrapError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", minio.ErrorResponse{Code: "NoSuchKey", StatusCode: http.StatusNotFound}, objectstore.ErrNotFound},
		{"no such bucket", minio.ErrorResponse{Code: "NoSuchBucket", StatusCode: http.StatusNotFound}, objectstore.ErrBucketNotFound},
		{"bare 404", minio.ErrorResponse{StatusCode: http.StatusNotFound}, objectstore.ErrNotFound},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, objectstore.ErrAccessDenied},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.ErrorIs(t, wrapError("Head", "k", tc.err), tc.want)
		})
	}

	other := errors.New("connection reset")
	got := wrapError("Delete", "k", other)
	assert.ErrorIs(t, got, other)
	assert.False(t, objectstore.IsNotFound(got))
}

// newTestStore connects to a MinIO server given by MINIO_TEST_ENDPOINT
// (host:port, credentials minioadmin/minioadmin) and creates a fresh bucket.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	ctx := context.Background()
	bucket := "lifecycled-" + uuid.NewString()[:8]

	admin, err := minio.New(endpoint, &minio.Options{
		Creds: credentialsForTest(),
	})
	require.NoError(t, err)
	require.NoError(t, admin.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}))

	store, err := New(ctx, Config{
		Endpoint:        endpoint,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          bucket,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestIntegration_HeadDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	data := []byte("0123456789")
	require.NoError(t, store.Put(ctx, "slides/a.pdf", bytes.NewReader(data), int64(len(data)), "application/pdf"))

	meta, err := store.Head(ctx, "slides/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(10), meta.Size)

	require.NoError(t, store.Delete(ctx, "slides/a.pdf"))
	require.NoError(t, store.Delete(ctx, "slides/a.pdf"))

	_, err = store.Head(ctx, "slides/a.pdf")
	assert.ErrorIs(t, err, objectstore.ErrNotFound)
}

func TestIntegration_MissingBucket(t *testing.T) {
	endpoint := os.Getenv("MINIO_TEST_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_TEST_ENDPOINT not set")
	}
	_, err := New(context.Background(), Config{
		Endpoint:        endpoint,
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		Bucket:          "does-not-exist-" + uuid.NewString()[:8],
	})
	assert.ErrorIs(t, err, objectstore.ErrBucketNotFound)
}

func credentialsForTest() *credentials.Credentials {
	return credentials.NewStaticV4("minioadmin", "minioadmin", "")
}
