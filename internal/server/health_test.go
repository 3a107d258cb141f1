package server

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func decodeStatus(t *testing.T, w *httptest.ResponseRecorder) HealthStatus {
	t.Helper()
	var status HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&status); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return status
}

func TestHealthServer_Healthz_OK(t *testing.T) {
	h := NewHealthServer(":0", nil)

	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got %q", ct)
	}
	status := decodeStatus(t, w)
	if status.Status != "ok" {
		t.Errorf("expected status 'ok', got %q", status.Status)
	}
	if check := status.Checks["shutdown"]; !check.Healthy {
		t.Error("expected shutdown check to be healthy")
	}
}

func TestHealthServer_Healthz_ShuttingDown(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.SetShuttingDown()
	if !h.IsShuttingDown() {
		t.Error("should be shutting down after SetShuttingDown")
	}

	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}
	status := decodeStatus(t, w)
	if status.Status != "shutting_down" {
		t.Errorf("expected status 'shutting_down', got %q", status.Status)
	}
	if check, ok := status.Checks["shutdown"]; !ok || check.Healthy {
		t.Error("expected shutdown check to be unhealthy")
	}
}

func TestHealthServer_Healthz_ReconcilerHeartbeat(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.RegisterGoroutine("reconciler")

	status := h.CheckHealth()
	if status.Status != "ok" || !status.Goroutines["reconciler"] {
		t.Fatalf("expected healthy reconciler, got %+v", status)
	}

	h.UnregisterGoroutine("reconciler")
	status = h.CheckHealth()
	if status.Status != "degraded" {
		t.Errorf("expected status 'degraded', got %q", status.Status)
	}
	if status.Goroutines["reconciler"] {
		t.Error("stopped goroutine should show as not running")
	}
}

func TestHealthServer_GoroutineStale(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.RegisterGoroutine("reconciler")

	h.mu.Lock()
	h.goroutines["reconciler"].lastCheck = time.Now().Add(-DefaultGoroutineStaleAfter - time.Second)
	h.mu.Unlock()

	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected status %d, got %d", http.StatusServiceUnavailable, w.Code)
	}

	// A heartbeat brings it back.
	h.UpdateGoroutine("reconciler")
	if status := h.CheckHealth(); status.Status != "ok" {
		t.Errorf("expected status 'ok' after heartbeat, got %q", status.Status)
	}
}

func TestHealthServer_SetGoroutineStaleAfter(t *testing.T) {
	h := NewHealthServer(":0", nil)
	h.SetGoroutineStaleAfter(10 * time.Minute)
	h.SetGoroutineStaleAfter(0) // ignored
	h.RegisterGoroutine("reconciler")

	h.mu.Lock()
	h.goroutines["reconciler"].lastCheck = time.Now().Add(-5 * time.Minute)
	h.mu.Unlock()

	if status := h.CheckHealth(); status.Status != "ok" {
		t.Errorf("expected long cycle to stay healthy, got %q", status.Status)
	}
}

func TestHealthServer_MethodNotAllowed(t *testing.T) {
	h := NewHealthServer(":0", nil)
	for _, path := range []string{"/healthz", "/readyz"} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, path, nil)
		if path == "/healthz" {
			h.handleHealthz(w, req)
		} else {
			h.handleReadyz(w, req)
		}
		if w.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s: expected status %d, got %d", path, http.StatusMethodNotAllowed, w.Code)
		}
	}
}

func TestHealthServer_HeadMethod(t *testing.T) {
	h := NewHealthServer(":0", nil)

	w := httptest.NewRecorder()
	h.handleHealthz(w, httptest.NewRequest(http.MethodHead, "/healthz", nil))

	if w.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, w.Code)
	}
	if w.Body.Len() != 0 {
		t.Errorf("HEAD response should have no body, got %d bytes", w.Body.Len())
	}
}

func TestHealthServer_StartServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lifecycled_test_total",
		Help: "Test counter.",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	h := NewHealthServer("127.0.0.1:0", nil)
	h.RegisterMetrics(reg)
	if err := h.Start(); err != nil {
		t.Fatalf("failed to start health server: %v", err)
	}
	defer h.Close()

	resp, err := http.Get("http://" + h.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, resp.StatusCode)
	}

	resp, err = http.Get("http://" + h.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(body), "lifecycled_test_total 3") {
		t.Errorf("expected counter in metrics output, got:\n%s", body)
	}
}

func TestHealthServer_AddrBeforeStart(t *testing.T) {
	h := NewHealthServer(":9090", nil)
	if h.Addr() != ":9090" {
		t.Errorf("expected configured address, got %q", h.Addr())
	}
}

func TestHealthServer_CloseWithoutStart(t *testing.T) {
	h := NewHealthServer(":0", nil)
	if err := h.Close(); err != nil {
		t.Errorf("Close() without Start() should not error: %v", err)
	}
}
