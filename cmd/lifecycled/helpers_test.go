package main

import (
	"testing"
	"time"

	"github.com/slidecast/lifecycled/internal/config"
	"github.com/slidecast/lifecycled/internal/logging"
	"github.com/slidecast/lifecycled/internal/metadata"
	"github.com/slidecast/lifecycled/internal/metadata/oxia"
)

// testConfig returns a configuration for tests that inject mock stores.
func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Metadata.Collection = "uploads"
	cfg.ObjectStore.Bucket = "test-bucket"
	cfg.Lifecycle.Interval = 10 * time.Millisecond
	cfg.Observability.HealthAddr = "127.0.0.1:0"
	return cfg
}

// testConfigWithOxia returns a configuration backed by an embedded Oxia server.
func testConfigWithOxia(t *testing.T) *config.Config {
	t.Helper()

	server := oxia.StartTestServer(t)

	cfg := testConfig()
	cfg.Metadata.Backend = config.MetadataOxia
	cfg.Metadata.Oxia.ServiceAddress = server.Addr()
	cfg.Metadata.Oxia.Namespace = "default" // Use default namespace from embedded Oxia server
	cfg.ObjectStore.Backend = config.ObjectStoreS3
	cfg.ObjectStore.S3.Endpoint = "http://localhost:9000"
	cfg.ObjectStore.S3.AccessKey = "minioadmin"
	cfg.ObjectStore.S3.SecretKey = "minioadmin"
	cfg.ObjectStore.S3.UsePathStyle = true
	return cfg
}

func quietLogger() *logging.Logger {
	logger := logging.DefaultLogger()
	logger.SetLevel(logging.LevelError)
	return logger
}

// expiredRecord returns a record that one cycle flags and deletes.
func expiredRecord(id string) metadata.Record {
	return metadata.Record{
		ID:       id,
		Name:     id + ".pdf",
		Size:     1024,
		Created:  time.Now().Add(-48 * time.Hour),
		Lifetime: metadata.Lifetime6h,
		IsValid:  true,
	}
}

// waitForHealthServer waits for the daemon's health server to be ready.
func waitForHealthServer(t *testing.T, d *Daemon, errCh <-chan error) string {
	t.Helper()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case err := <-errCh:
			t.Fatalf("daemon failed to start: %v", err)
		default:
		}

		if addr := d.HealthServerAddr(); addr != "" {
			return addr
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("timeout waiting for health server to start")
	return ""
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}
