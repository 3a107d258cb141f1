package objectstore

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

// mockMetrics records all metric calls for testing.
type mockMetrics struct {
	puts    []putCall
	heads   []opCall
	deletes []opCall
}

type putCall struct {
	duration float64
	success  bool
	bytes    int64
}

type opCall struct {
	duration float64
	success  bool
}

func (m *mockMetrics) RecordPut(duration float64, success bool, bytes int64) {
	m.puts = append(m.puts, putCall{duration, success, bytes})
}

func (m *mockMetrics) RecordHead(duration float64, success bool) {
	m.heads = append(m.heads, opCall{duration, success})
}

func (m *mockMetrics) RecordDelete(duration float64, success bool) {
	m.deletes = append(m.deletes, opCall{duration, success})
}

func TestInstrumentedStore_Put(t *testing.T) {
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(NewMockStore(), metrics)

	data := []byte("test data")
	if err := store.Put(context.Background(), "k", bytes.NewReader(data), int64(len(data)), "application/octet-stream"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if len(metrics.puts) != 1 {
		t.Fatalf("expected 1 put call, got %d", len(metrics.puts))
	}
	if !metrics.puts[0].success {
		t.Error("expected success=true")
	}
	if metrics.puts[0].bytes != int64(len(data)) {
		t.Errorf("expected bytes=%d, got %d", len(data), metrics.puts[0].bytes)
	}
	if metrics.puts[0].duration < 0 {
		t.Error("expected non-negative duration")
	}
}

func TestInstrumentedStore_Head(t *testing.T) {
	inner := NewMockStore()
	inner.AddObject("present", 10)
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(inner, metrics)
	ctx := context.Background()

	if _, err := store.Head(ctx, "present"); err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if _, err := store.Head(ctx, "absent"); !IsNotFound(err) {
		t.Fatalf("Head(absent) = %v, want ErrNotFound", err)
	}

	if len(metrics.heads) != 2 {
		t.Fatalf("expected 2 head calls, got %d", len(metrics.heads))
	}
	if !metrics.heads[0].success || metrics.heads[1].success {
		t.Errorf("unexpected head outcomes: %+v", metrics.heads)
	}
}

func TestInstrumentedStore_DeleteNotFoundIsSuccess(t *testing.T) {
	inner := NewMockStore()
	inner.AddObject("x", 1)
	inner.AddObject("denied", 1)
	inner.SetDeleteError("denied", ErrAccessDenied)
	metrics := &mockMetrics{}
	store := NewInstrumentedStore(inner, metrics)
	ctx := context.Background()

	if err := store.Delete(ctx, "x"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "x"); !IsNotFound(err) {
		t.Fatalf("second Delete = %v, want ErrNotFound", err)
	}
	if err := store.Delete(ctx, "denied"); !errors.Is(err, ErrAccessDenied) {
		t.Fatalf("Delete(denied) = %v, want ErrAccessDenied", err)
	}

	want := []bool{true, true, false}
	if len(metrics.deletes) != len(want) {
		t.Fatalf("expected %d delete calls, got %d", len(want), len(metrics.deletes))
	}
	for i, w := range want {
		if metrics.deletes[i].success != w {
			t.Errorf("delete call %d success = %v, want %v", i, metrics.deletes[i].success, w)
		}
	}
}

func TestInstrumentedStore_NilMetrics(t *testing.T) {
	inner := NewMockStore()
	inner.AddObject("k", 3)
	store := NewInstrumentedStore(inner, nil)
	ctx := context.Background()

	if _, err := store.Head(ctx, "k"); err != nil {
		t.Fatalf("Head failed: %v", err)
	}
	if err := store.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}
