package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/slidecast/lifecycled/internal/config"
	"github.com/slidecast/lifecycled/internal/lease"
	"github.com/slidecast/lifecycled/internal/lifecycle"
	"github.com/slidecast/lifecycled/internal/logging"
	"github.com/slidecast/lifecycled/internal/metadata"
	"github.com/slidecast/lifecycled/internal/metrics"
	"github.com/slidecast/lifecycled/internal/objectstore"
	"github.com/slidecast/lifecycled/internal/server"
)

// reconcilerGoroutine is the name the worker heartbeat reports under.
const reconcilerGoroutine = "reconciler"

// minStaleAfter bounds how long a single cycle may run before liveness
// reports the reconciler as stuck.
const minStaleAfter = 15 * time.Minute

var errLeaseNotHeld = errors.New("lease is held by another instance")

// DaemonOptions contains the configuration for creating a daemon.
type DaemonOptions struct {
	Config    *config.Config
	Logger    *logging.Logger
	HolderID  string
	Version   string
	GitCommit string
	BuildTime string

	// Records and Blobs replace the configured backends when set.
	// The daemon takes ownership and closes them on shutdown.
	Records metadata.RecordStore
	Blobs   objectstore.Store
}

// Daemon represents a running lifecycled instance.
type Daemon struct {
	opts   DaemonOptions
	logger *logging.Logger

	registry     *prometheus.Registry
	records      metadata.RecordStore
	blobs        objectstore.Store
	reconciler   *lifecycle.Reconciler
	leaseManager *lease.Manager
	worker       *lifecycle.Worker
	healthServer *server.HealthServer

	mu       sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once

	statusMu  sync.RWMutex
	lastCycle *lifecycle.CycleResult
	lastErr   error
}

// DaemonStatus is served on /status.
type DaemonStatus struct {
	Version   string                 `json:"version"`
	HolderID  string                 `json:"holderId,omitempty"`
	LeaseHeld bool                   `json:"leaseHeld,omitempty"`
	LastCycle *lifecycle.CycleResult `json:"lastCycle,omitempty"`
	LastError string                 `json:"lastError,omitempty"`
}

// NewDaemon creates a daemon. Backends are not contacted until Start or RunOnce.
func NewDaemon(opts DaemonOptions) (*Daemon, error) {
	if opts.Config == nil {
		return nil, errors.New("config is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Daemon{
		opts:   opts,
		logger: logger,
		stopCh: make(chan struct{}),
	}, nil
}

// init opens the stores and builds the reconciler and optional lease.
func (d *Daemon) init(ctx context.Context) error {
	cfg := d.opts.Config

	d.registry = prometheus.NewRegistry()
	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	records := d.opts.Records
	if records == nil {
		var err error
		records, err = openRecordStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open %s record store: %w", cfg.Metadata.Backend, err)
		}
	}
	d.mu.Lock()
	d.records = records
	d.mu.Unlock()

	blobs := d.opts.Blobs
	if blobs == nil {
		var err error
		blobs, err = openObjectStore(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to open %s object store: %w", cfg.ObjectStore.Backend, err)
		}
	}
	d.mu.Lock()
	d.blobs = blobs
	d.mu.Unlock()

	d.reconciler = lifecycle.NewReconciler(
		metadata.NewInstrumentedStore(records, metrics.NewMetadataMetricsWithRegistry(d.registry)),
		objectstore.NewInstrumentedStore(blobs, metrics.NewObjectStoreMetricsWithRegistry(d.registry)),
		lifecycle.Config{
			ValidityWindow: cfg.Lifecycle.ValidityWindow,
			Metrics:        metrics.NewLifecycleMetricsWithRegistry(d.registry),
			Logger:         d.logger,
		},
	)

	if cfg.Lease.Enabled {
		leaseStore, ok := records.(metadata.LeaseStore)
		if !ok {
			return fmt.Errorf("metadata backend %q does not support leases", cfg.Metadata.Backend)
		}
		holderID := d.opts.HolderID
		if holderID == "" {
			holderID = cfg.Lease.HolderID
		}
		m, err := lease.NewManager(leaseStore, cfg.Metadata.Collection, holderID)
		if err != nil {
			return fmt.Errorf("failed to create lease manager: %w", err)
		}
		d.leaseManager = m
	}
	return nil
}

// Start opens the backends, starts the health server and the reconciler
// worker, and blocks until Shutdown is called or ctx is cancelled.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()

	cfg := d.opts.Config

	d.logger.Infof("starting lifecycled", map[string]any{
		"version":     d.opts.Version,
		"collection":  cfg.Metadata.Collection,
		"metadata":    cfg.Metadata.Backend,
		"objectStore": cfg.ObjectStore.Backend,
		"bucket":      cfg.ObjectStore.Bucket,
	})

	if err := d.init(ctx); err != nil {
		d.closeStores()
		return err
	}

	var gate lifecycle.LeaseGate
	if d.leaseManager != nil {
		gate = d.leaseManager
		d.logger.Infof("single-runner lease enabled", map[string]any{
			"holderId": d.leaseManager.HolderID(),
		})
	}

	healthServer := server.NewHealthServer(cfg.Observability.HealthAddr, d.logger)
	healthServer.RegisterMetrics(d.registry)
	healthServer.RegisterHandler("/status", http.HandlerFunc(d.handleStatus))
	healthServer.RegisterGoroutine(reconcilerGoroutine)
	healthServer.SetGoroutineStaleAfter(max(minStaleAfter, 10*cfg.Lifecycle.Interval))

	worker := lifecycle.NewWorker(d.reconciler, lifecycle.WorkerConfig{
		Interval:  cfg.Lifecycle.Interval,
		Lease:     gate,
		Heartbeat: func() { healthServer.UpdateGoroutine(reconcilerGoroutine) },
		OnCycle:   d.recordCycle,
		Logger:    d.logger,
	})

	healthServer.RegisterReadinessCheck(server.NewRecordStoreChecker(d.records))
	healthServer.RegisterReadinessCheck(server.NewObjectStoreChecker(d.blobs, cfg.ObjectStore.ProbeKey))
	healthServer.RegisterReadinessCheck(server.NewWorkerChecker(worker.IsRunning))

	if err := healthServer.Start(); err != nil {
		d.closeStores()
		return fmt.Errorf("failed to start health server: %w", err)
	}

	d.mu.Lock()
	d.healthServer = healthServer
	d.worker = worker
	d.mu.Unlock()

	worker.Start()

	d.logger.Infof("lifecycled started", map[string]any{
		"healthAddr":     healthServer.Addr(),
		"interval":       cfg.Lifecycle.Interval.String(),
		"validityWindow": cfg.Lifecycle.ValidityWindow.String(),
	})

	select {
	case <-d.stopCh:
	case <-ctx.Done():
	}
	return nil
}

// RunOnce runs a single cycle against the configured backends and closes
// them. With the lease enabled it fails with errLeaseNotHeld when another
// instance holds the lease.
func (d *Daemon) RunOnce(ctx context.Context) (*lifecycle.CycleResult, error) {
	d.mu.Lock()
	if d.started {
		d.mu.Unlock()
		return nil, errors.New("daemon already started")
	}
	d.started = true
	d.mu.Unlock()
	defer d.closeStores()

	if err := d.init(ctx); err != nil {
		return nil, err
	}

	if d.leaseManager != nil {
		held, err := d.leaseManager.TryAcquire(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire lease: %w", err)
		}
		if !held {
			return nil, errLeaseNotHeld
		}
		defer func() {
			if err := d.leaseManager.Release(context.Background()); err != nil {
				d.logger.Warnf("failed to release lease", map[string]any{"error": err.Error()})
			}
		}()
	}

	return d.reconciler.RunCycle(ctx)
}

func (d *Daemon) recordCycle(result *lifecycle.CycleResult, err error) {
	d.statusMu.Lock()
	defer d.statusMu.Unlock()
	d.lastCycle = result
	d.lastErr = err
}

// Status reports the outcome of the most recent cycle.
func (d *Daemon) Status() DaemonStatus {
	d.statusMu.RLock()
	status := DaemonStatus{Version: d.opts.Version, LastCycle: d.lastCycle}
	if d.lastErr != nil {
		status.LastError = d.lastErr.Error()
	}
	d.statusMu.RUnlock()

	if d.leaseManager != nil {
		status.HolderID = d.leaseManager.HolderID()
		status.LeaseHeld = d.leaseManager.Held()
	}
	return status
}

func (d *Daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(d.Status()); err != nil {
		d.logger.Warnf("failed to write status", map[string]any{"error": err.Error()})
	}
}

// HealthServerAddr returns the address the health server is listening on, or empty if not yet listening.
// This method is thread-safe.
func (d *Daemon) HealthServerAddr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.healthServer == nil {
		return ""
	}
	return d.healthServer.Addr()
}

// Shutdown gracefully stops the daemon. An in-flight cycle is allowed to
// finish until ctx expires; if it is still running then, Shutdown returns an
// error and leaves the stores, lease and health server in place.
func (d *Daemon) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	healthServer := d.healthServer
	worker := d.worker
	d.mu.Unlock()

	d.logger.Info("shutting down lifecycled")

	if healthServer != nil {
		healthServer.SetShuttingDown()
	}

	d.stopOnce.Do(func() { close(d.stopCh) })

	// The stores and the lease stay open while a cycle is still running so it
	// is not cut off mid-sweep. Shutdown can be called again to finish.
	if worker != nil {
		if err := worker.StopWithContext(ctx); err != nil {
			d.logger.Warnf("reconciler did not stop before shutdown deadline", map[string]any{
				"error": err.Error(),
			})
			return fmt.Errorf("reconciler still running: %w", err)
		}
	}

	if d.leaseManager != nil {
		if err := d.leaseManager.Release(ctx); err != nil {
			d.logger.Warnf("failed to release lease", map[string]any{
				"error": err.Error(),
			})
		}
	}

	if healthServer != nil {
		healthServer.UnregisterGoroutine(reconcilerGoroutine)
		if err := healthServer.Shutdown(ctx); err != nil {
			d.logger.Warnf("error closing health server", map[string]any{
				"error": err.Error(),
			})
		}
	}

	d.closeStores()

	d.logger.Info("lifecycled shutdown complete")
	return nil
}

func (d *Daemon) closeStores() {
	d.mu.Lock()
	records, blobs := d.records, d.blobs
	d.records, d.blobs = nil, nil
	d.mu.Unlock()

	if records != nil {
		if err := records.Close(); err != nil {
			d.logger.Warnf("error closing record store", map[string]any{
				"error": err.Error(),
			})
		}
	}
	if blobs != nil {
		if err := blobs.Close(); err != nil {
			d.logger.Warnf("error closing object store", map[string]any{
				"error": err.Error(),
			})
		}
	}
}
