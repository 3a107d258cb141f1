package server

import (
	"context"
	"errors"

	"github.com/slidecast/lifecycled/internal/metadata"
	"github.com/slidecast/lifecycled/internal/objectstore"
)

// RecordStoreChecker implements ReadinessChecker for the record store.
type RecordStoreChecker struct {
	store metadata.RecordStore
}

// NewRecordStoreChecker creates a new RecordStoreChecker.
func NewRecordStoreChecker(store metadata.RecordStore) *RecordStoreChecker {
	return &RecordStoreChecker{store: store}
}

// Name returns the name of this component for health status display.
func (c *RecordStoreChecker) Name() string {
	return "record_store"
}

// CheckReady pings the record store.
func (c *RecordStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("record store not configured")
	}
	return c.store.Ping(ctx)
}

// ObjectStoreChecker implements ReadinessChecker for the blob store.
// It issues a Head for a probe key that normally does not exist; a not-found
// answer proves the bucket is reachable with the configured credentials.
type ObjectStoreChecker struct {
	store    objectstore.Store
	probeKey string
}

// DefaultProbeKey is the key probed when none is configured.
const DefaultProbeKey = ".lifecycled-probe"

// NewObjectStoreChecker creates a new ObjectStoreChecker.
func NewObjectStoreChecker(store objectstore.Store, probeKey string) *ObjectStoreChecker {
	if probeKey == "" {
		probeKey = DefaultProbeKey
	}
	return &ObjectStoreChecker{store: store, probeKey: probeKey}
}

// Name returns the name of this component for health status display.
func (c *ObjectStoreChecker) Name() string {
	return "object_store"
}

// CheckReady heads the probe key. ErrNotFound counts as healthy;
// access denied, a missing bucket and transport errors do not.
func (c *ObjectStoreChecker) CheckReady(ctx context.Context) error {
	if c.store == nil {
		return errors.New("object store not configured")
	}
	_, err := c.store.Head(ctx, c.probeKey)
	if err == nil || errors.Is(err, objectstore.ErrNotFound) {
		return nil
	}
	return err
}

// WorkerChecker implements ReadinessChecker for the reconciler worker.
type WorkerChecker struct {
	isRunning func() bool
}

// NewWorkerChecker creates a new WorkerChecker.
// The isRunning function should return true while the worker loop is active.
func NewWorkerChecker(isRunning func() bool) *WorkerChecker {
	return &WorkerChecker{isRunning: isRunning}
}

// Name returns the name of this component for health status display.
func (c *WorkerChecker) Name() string {
	return "reconciler"
}

// CheckReady verifies the worker loop is running.
func (c *WorkerChecker) CheckReady(ctx context.Context) error {
	if c.isRunning == nil {
		return nil
	}
	if !c.isRunning() {
		return errors.New("reconciler worker is not running")
	}
	return nil
}

// FuncChecker is a simple ReadinessChecker that wraps a function.
type FuncChecker struct {
	name  string
	check func(context.Context) error
}

// NewFuncChecker creates a new FuncChecker with the given name and check function.
func NewFuncChecker(name string, check func(context.Context) error) *FuncChecker {
	return &FuncChecker{name: name, check: check}
}

// Name returns the name of this component.
func (c *FuncChecker) Name() string {
	return c.name
}

// CheckReady calls the wrapped function.
func (c *FuncChecker) CheckReady(ctx context.Context) error {
	if c.check == nil {
		return nil
	}
	return c.check(ctx)
}
