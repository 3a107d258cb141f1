package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/slidecast/lifecycled/internal/objectstore"
)

var (
	testMinioProc    *os.Process
	testMinioPort    = "19000"
	testMinioDir     string
	minioAvailable   bool
	minioSkipMessage string
)

func TestMain(m *testing.M) {
	if err := startMinio(); err != nil {
		minioSkipMessage = fmt.Sprintf("MinIO not available: %v", err)
		minioAvailable = false
	} else {
		minioAvailable = true
	}
	code := m.Run()
	stopMinio()
	os.Exit(code)
}

func skipIfMinioUnavailable(t *testing.T) {
	t.Helper()
	if !minioAvailable {
		t.Skip(minioSkipMessage)
	}
}

// startMinio launches a MinIO binary from /tmp/minio, if present.
func startMinio() error {
	minioPath := "/tmp/minio"
	if _, err := os.Stat(minioPath); os.IsNotExist(err) {
		return fmt.Errorf("minio binary not found at %s", minioPath)
	}

	dataDir, err := os.MkdirTemp("", "minio-data-*")
	if err != nil {
		return fmt.Errorf("failed to create temp dir: %w", err)
	}
	testMinioDir = dataDir

	cmd := exec.Command(minioPath, "server", dataDir, "--address", ":"+testMinioPort, "--quiet")
	cmd.Env = append(os.Environ(), "MINIO_ROOT_USER=minioadmin", "MINIO_ROOT_PASSWORD=minioadmin")
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		_ = os.RemoveAll(dataDir)
		return fmt.Errorf("failed to start minio: %w", err)
	}
	testMinioProc = cmd.Process

	// Wait for MinIO to answer.
	cfg := minioConfig("readiness-probe")
	for i := 0; i < 50; i++ {
		time.Sleep(100 * time.Millisecond)
		store, err := New(context.Background(), cfg)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err = store.client.ListBuckets(ctx, &s3.ListBucketsInput{})
		cancel()
		_ = store.Close()
		if err == nil {
			return nil
		}
	}
	return errors.New("minio did not become ready")
}

func stopMinio() {
	if testMinioProc != nil {
		_ = testMinioProc.Kill()
		_, _ = testMinioProc.Wait()
	}
	if testMinioDir != "" {
		_ = os.RemoveAll(testMinioDir)
	}
}

func minioConfig(bucket string) Config {
	return Config{
		Bucket:          bucket,
		Endpoint:        "http://localhost:" + testMinioPort,
		Region:          "us-east-1",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		UsePathStyle:    true,
	}
}

func testStore(t *testing.T, bucket string) *Store {
	t.Helper()
	skipIfMinioUnavailable(t)
	ctx := context.Background()

	store, err := New(ctx, minioConfig(bucket))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	_, err = store.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(bucket)})
	if err != nil && !strings.Contains(err.Error(), "BucketAlreadyOwnedByYou") && !strings.Contains(err.Error(), "BucketAlreadyExists") {
		t.Fatalf("Failed to create bucket: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

func TestNew(t *testing.T) {
	_, err := New(context.Background(), Config{})
	if err == nil {
		t.Fatal("expected error for missing bucket")
	}
	if !strings.Contains(err.Error(), "bucket name is required") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWrapError(t *testing.T) {
	s := &Store{bucket: "b"}

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"no such key", &types.NoSuchKey{}, objectstore.ErrNotFound},
		{"no such bucket", &types.NoSuchBucket{}, objectstore.ErrBucketNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := s.wrapError("Head", "k", tc.err)
			if !errors.Is(got, tc.want) {
				t.Errorf("wrapError() = %v, want %v", got, tc.want)
			}
			var objErr *objectstore.ObjectError
			if !errors.As(got, &objErr) || objErr.Op != "Head" || objErr.Key != "k" {
				t.Errorf("wrapError() = %#v, want ObjectError for Head k", got)
			}
		})
	}

	other := errors.New("boom")
	if got := s.wrapError("Delete", "k", other); !errors.Is(got, other) {
		t.Errorf("wrapError() should keep unknown errors, got %v", got)
	}
	if s.wrapError("Delete", "k", nil) != nil {
		t.Error("wrapError(nil) should be nil")
	}
}

func TestHeadReportsSize(t *testing.T) {
	store := testStore(t, "head-size")
	ctx := context.Background()

	data := []byte("twelve bytes")
	if err := store.Put(ctx, "slides/a.pdf", bytes.NewReader(data), int64(len(data)), "application/pdf"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	meta, err := store.Head(ctx, "slides/a.pdf")
	if err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if meta.Size != int64(len(data)) {
		t.Errorf("Size = %d, want %d", meta.Size, len(data))
	}
	if meta.ContentType != "application/pdf" {
		t.Errorf("ContentType = %q", meta.ContentType)
	}
	if meta.LastModified == 0 {
		t.Error("LastModified should be set")
	}
}

func TestHeadNotFound(t *testing.T) {
	store := testStore(t, "head-missing")

	_, err := store.Head(context.Background(), "missing")
	if !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Head(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := testStore(t, "delete-idem")
	ctx := context.Background()

	if err := store.Put(ctx, "k", bytes.NewReader([]byte("x")), 1, "text/plain"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("second Delete failed: %v", err)
	}
	if _, err := store.Head(ctx, "k"); !errors.Is(err, objectstore.ErrNotFound) {
		t.Errorf("Head after Delete = %v, want ErrNotFound", err)
	}
}

func TestClosedStore(t *testing.T) {
	store := &Store{bucket: "b"}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ctx := context.Background()
	if _, err := store.Head(ctx, "k"); !errors.Is(err, objectstore.ErrStoreClosed) {
		t.Errorf("Head after Close = %v", err)
	}
	if err := store.Delete(ctx, "k"); !errors.Is(err, objectstore.ErrStoreClosed) {
		t.Errorf("Delete after Close = %v", err)
	}
	if err := store.Put(ctx, "k", bytes.NewReader(nil), 0, ""); !errors.Is(err, objectstore.ErrStoreClosed) {
		t.Errorf("Put after Close = %v", err)
	}
}
