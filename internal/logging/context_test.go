package logging

import (
	"context"
	"testing"
)

func TestCorrelationIDCtx(t *testing.T) {
	if got := CorrelationIDFromCtx(context.Background()); got != "" {
		t.Errorf("CorrelationIDFromCtx() = %q, want empty string", got)
	}

	ctx := WithCorrelationIDCtx(context.Background(), "cycle-123")
	if got := CorrelationIDFromCtx(ctx); got != "cycle-123" {
		t.Errorf("CorrelationIDFromCtx() = %q, want %q", got, "cycle-123")
	}
}

func TestContextLoggerPrefersCtxLogger(t *testing.T) {
	attached, attachedBuf := newJSONLogger(LevelInfo)
	base, baseBuf := newJSONLogger(LevelInfo)

	ctx := WithLoggerCtx(context.Background(), attached.With(map[string]any{"sweep": "validity"}))
	ContextLogger(ctx, base).Info("from ctx")

	if baseBuf.Len() != 0 {
		t.Errorf("base logger should not be used, got %q", baseBuf.String())
	}
	entry := decodeEntry(t, attachedBuf)
	if entry.Fields["sweep"] != "validity" {
		t.Errorf("fields[sweep] = %v, want validity", entry.Fields["sweep"])
	}
}

func TestContextLoggerFallsBackToBase(t *testing.T) {
	base, buf := newJSONLogger(LevelInfo)

	ctx := WithCorrelationIDCtx(context.Background(), "cycle-456")
	ContextLogger(ctx, base).Info("from base")

	entry := decodeEntry(t, buf)
	if entry.CorrelationID != "cycle-456" {
		t.Errorf("correlationId = %q, want %q", entry.CorrelationID, "cycle-456")
	}
}

func TestContextLoggerFallsBackToGlobal(t *testing.T) {
	prev := Global()
	defer SetGlobal(prev)

	global, buf := newJSONLogger(LevelInfo)
	SetGlobal(global)

	ContextLogger(context.Background(), nil).Info("from global")

	if entry := decodeEntry(t, buf); entry.Message != "from global" {
		t.Errorf("message = %q, want %q", entry.Message, "from global")
	}
}

func TestContextLoggerCorrelationIDAcrossSweeps(t *testing.T) {
	base, buf := newJSONLogger(LevelInfo)

	// A cycle attaches its logger and id once; each sweep derives from ctx.
	ctx := WithCorrelationIDCtx(context.Background(), "cycle-789")
	ctx = WithLoggerCtx(ctx, base.WithCorrelationID("cycle-789"))

	for _, sweep := range []string{"validity", "expiration", "deletion"} {
		buf.Reset()
		ContextLogger(ctx, nil).With(map[string]any{"sweep": sweep}).Info("sweep complete")

		entry := decodeEntry(t, buf)
		if entry.CorrelationID != "cycle-789" {
			t.Errorf("%s: correlationId = %q, want %q", sweep, entry.CorrelationID, "cycle-789")
		}
		if entry.Fields["sweep"] != sweep {
			t.Errorf("%s: fields[sweep] = %v", sweep, entry.Fields["sweep"])
		}
	}
}
