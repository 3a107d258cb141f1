package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/slidecast/lifecycled/internal/metadata"
	"github.com/slidecast/lifecycled/internal/objectstore"
)

func TestHealthServer_Readyz_NoChecks(t *testing.T) {
	h := NewHealthServer(":0", nil)

	w := httptest.NewRecorder()
	h.handleReadyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if status := decodeStatus(t, w); status.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", status.Status)
	}
}

func TestHealthServer_Readyz_ShuttingDownSkipsChecks(t *testing.T) {
	h := NewHealthServer(":0", nil)
	called := false
	h.RegisterReadinessCheck(NewFuncChecker("component", func(ctx context.Context) error {
		called = true
		return nil
	}))
	h.SetShuttingDown()

	w := httptest.NewRecorder()
	h.handleReadyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	if status := decodeStatus(t, w); status.Status != "shutting_down" {
		t.Errorf("expected status 'shutting_down', got %q", status.Status)
	}
	if called {
		t.Error("readiness checks should not run while shutting down")
	}
}

func TestHealthServer_Readyz_Timeout(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.SetReadinessTimeout(50 * time.Millisecond)
	h.RegisterReadinessCheck(NewFuncChecker("slow_component", func(ctx context.Context) error {
		select {
		case <-time.After(2 * time.Second):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}))

	status := h.CheckReadiness(context.Background())
	if status.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got %q", status.Status)
	}
	if check := status.Checks["slow_component"]; check.Healthy {
		t.Error("expected slow_component check to be unhealthy due to timeout")
	}
}

func TestRecordStoreChecker(t *testing.T) {
	ctx := context.Background()

	if err := NewRecordStoreChecker(nil).CheckReady(ctx); err == nil {
		t.Error("expected error for nil store")
	}

	store := metadata.NewMockStore()
	checker := NewRecordStoreChecker(store)
	if checker.Name() != "record_store" {
		t.Errorf("unexpected name %q", checker.Name())
	}
	if err := checker.CheckReady(ctx); err != nil {
		t.Errorf("expected healthy store, got %v", err)
	}

	store.SetPingError(errors.New("firestore unavailable"))
	if err := checker.CheckReady(ctx); err == nil {
		t.Error("expected ping error to surface")
	}

	store.SetPingError(nil)
	store.Close()
	if err := checker.CheckReady(ctx); !errors.Is(err, metadata.ErrStoreClosed) {
		t.Errorf("expected ErrStoreClosed, got %v", err)
	}
}

func TestObjectStoreChecker(t *testing.T) {
	ctx := context.Background()

	if err := NewObjectStoreChecker(nil, "").CheckReady(ctx); err == nil {
		t.Error("expected error for nil store")
	}

	tests := []struct {
		name    string
		setup   func(s *objectstore.MockStore)
		healthy bool
	}{
		{"probe key absent", func(s *objectstore.MockStore) {}, true},
		{"probe key present", func(s *objectstore.MockStore) { s.AddObject(DefaultProbeKey, 0) }, true},
		{"access denied", func(s *objectstore.MockStore) {
			s.SetHeadError(DefaultProbeKey, objectstore.ErrAccessDenied)
		}, false},
		{"bucket missing", func(s *objectstore.MockStore) {
			s.SetHeadError(DefaultProbeKey, objectstore.ErrBucketNotFound)
		}, false},
		{"connection refused", func(s *objectstore.MockStore) {
			s.SetHeadError(DefaultProbeKey, errors.New("dial tcp: connection refused"))
		}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := objectstore.NewMockStore()
			tc.setup(store)
			err := NewObjectStoreChecker(store, "").CheckReady(ctx)
			if tc.healthy && err != nil {
				t.Errorf("expected healthy, got %v", err)
			}
			if !tc.healthy && err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestObjectStoreChecker_CustomProbeKey(t *testing.T) {
	store := objectstore.NewMockStore()
	store.SetHeadError(DefaultProbeKey, objectstore.ErrAccessDenied)

	if err := NewObjectStoreChecker(store, "health/probe").CheckReady(context.Background()); err != nil {
		t.Errorf("expected custom probe key to be used, got %v", err)
	}
}

func TestWorkerChecker(t *testing.T) {
	ctx := context.Background()
	if err := NewWorkerChecker(nil).CheckReady(ctx); err != nil {
		t.Errorf("expected nil func to be healthy, got %v", err)
	}
	if err := NewWorkerChecker(func() bool { return true }).CheckReady(ctx); err != nil {
		t.Errorf("expected running worker to be healthy, got %v", err)
	}
	if err := NewWorkerChecker(func() bool { return false }).CheckReady(ctx); err == nil {
		t.Error("expected stopped worker to be unhealthy")
	}
}

func TestFuncChecker_NilFunc(t *testing.T) {
	checker := NewFuncChecker("noop", nil)
	if checker.Name() != "noop" {
		t.Errorf("unexpected name %q", checker.Name())
	}
	if err := checker.CheckReady(context.Background()); err != nil {
		t.Errorf("expected nil func to be healthy, got %v", err)
	}
}

func TestReadyz_Dependencies(t *testing.T) {
	records := metadata.NewMockStore()
	blobs := objectstore.NewMockStore()

	h := NewHealthServer(":0", nil)
	h.RegisterReadinessCheck(NewRecordStoreChecker(records))
	h.RegisterReadinessCheck(NewObjectStoreChecker(blobs, ""))
	h.RegisterReadinessCheck(NewWorkerChecker(func() bool { return true }))

	w := httptest.NewRecorder()
	h.handleReadyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	status := decodeStatus(t, w)
	for _, name := range []string{"record_store", "object_store", "reconciler"} {
		if check, ok := status.Checks[name]; !ok || !check.Healthy {
			t.Errorf("expected %s check to be present and healthy", name)
		}
	}

	// One failing dependency makes the whole daemon not ready.
	blobs.SetHeadError(DefaultProbeKey, objectstore.ErrAccessDenied)

	w = httptest.NewRecorder()
	h.handleReadyz(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	status = decodeStatus(t, w)
	if status.Status != "not_ready" {
		t.Errorf("expected status 'not_ready', got %q", status.Status)
	}
	if status.Checks["object_store"].Healthy {
		t.Error("expected object_store check to be unhealthy")
	}
	if !status.Checks["record_store"].Healthy {
		t.Error("expected record_store check to stay healthy")
	}
}
