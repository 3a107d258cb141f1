package oxia

import (
	"context"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// TestServer represents an embedded Oxia standalone server for testing.
// It lives outside a _test.go file so the lease and lifecycle packages can
// run against a real server too.
type TestServer struct {
	standalone *dataserver.Standalone
	addr       string
	dir        string
}

// Addr returns the service address of the test server.
func (s *TestServer) Addr() string {
	return s.addr
}

// Close shuts down the test server and cleans up resources.
func (s *TestServer) Close() error {
	var err error
	if s.standalone != nil {
		err = s.standalone.Close()
	}
	if s.dir != "" {
		_ = os.RemoveAll(s.dir)
	}
	return err
}

var (
	externalAddr     string
	externalAddrOnce sync.Once
)

// getExternalServiceAddress returns the service address from environment
// variable OXIA_SERVICE_ADDRESS if set, empty string otherwise.
func getExternalServiceAddress() string {
	externalAddrOnce.Do(func() {
		externalAddr = os.Getenv("OXIA_SERVICE_ADDRESS")
	})
	return externalAddr
}

// StartTestServer starts an Oxia standalone server for testing.
// If OXIA_SERVICE_ADDRESS is set, it returns a wrapper around the external server.
// Otherwise, it starts an embedded standalone server.
// The server is automatically closed via t.Cleanup.
func StartTestServer(t *testing.T) *TestServer {
	t.Helper()

	// Check if external server address is set
	if addr := getExternalServiceAddress(); addr != "" {
		t.Logf("Using external Oxia server at %s", addr)
		return &TestServer{addr: addr}
	}

	// Create temporary directory for the standalone server
	dir, err := os.MkdirTemp("", "oxia-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}

	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(dir))
	if err != nil {
		os.RemoveAll(dir)
		t.Fatalf("failed to start Oxia standalone server: %v", err)
	}

	srv := &TestServer{
		standalone: standalone,
		addr:       standalone.ServiceAddr(),
		dir:        dir,
	}

	t.Cleanup(func() {
		_ = srv.Close()
	})

	t.Logf("Started embedded Oxia server at %s", srv.addr)
	return srv
}

// StartTestStore starts a test server and returns a store connected to it
// for the given collection. The store is closed via t.Cleanup.
func StartTestStore(t *testing.T, collection string) *Store {
	t.Helper()

	srv := StartTestServer(t)
	store, err := New(context.Background(), Config{
		ServiceAddress: srv.Addr(),
		Namespace:      "default",
		Collection:     collection,
		RequestTimeout: 10 * time.Second,
		SessionTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

var _ io.Closer = (*TestServer)(nil)
