package lifecycle

import (
	"context"
	"sync"
	"time"

	"github.com/slidecast/lifecycled/internal/logging"
)

// DefaultInterval is the delay between the end of one cycle and the start of
// the next.
const DefaultInterval = time.Second

// Cycler runs one reconciliation cycle. *Reconciler implements it.
type Cycler interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// LeaseGate decides whether this instance may run the next cycle.
// *lease.Manager implements it.
type LeaseGate interface {
	// TryAcquire acquires or renews the lease and reports whether this
	// instance holds it.
	TryAcquire(ctx context.Context) (bool, error)
}

// WorkerConfig configures the Worker.
type WorkerConfig struct {
	// Interval is the pause between cycles.
	// Default: 1s
	Interval time.Duration

	// Lease gates each cycle when set. Without it every instance runs cycles.
	Lease LeaseGate

	// Heartbeat is called on every loop iteration, including skipped ones.
	Heartbeat func()

	// OnCycle is called after every cycle that ran.
	OnCycle func(*CycleResult, error)

	Logger *logging.Logger
}

// Worker runs reconciliation cycles in a background goroutine until stopped.
type Worker struct {
	cycler Cycler
	config WorkerConfig
	logger *logging.Logger

	mu       sync.Mutex
	running  bool
	stopping bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker creates a new Worker.
func NewWorker(cycler Cycler, config WorkerConfig) *Worker {
	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}
	logger := config.Logger
	if logger == nil {
		logger = logging.Global()
	}
	return &Worker{
		cycler: cycler,
		config: config,
		logger: logger.With(map[string]any{"component": "lifecycle-worker"}),
	}
}

// Start begins the background loop. The first cycle runs immediately.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.run()
}

// Stop stops scheduling new cycles and waits for the in-flight cycle to
// complete. Concurrent and repeated calls all wait for the same loop.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	if !w.stopping {
		w.stopping = true
		close(w.stopCh)
	}
	doneCh := w.doneCh
	w.mu.Unlock()

	<-doneCh

	w.mu.Lock()
	w.running = false
	w.stopping = false
	w.mu.Unlock()
}

// StopWithContext is like Stop but gives up waiting when ctx is done.
// The in-flight cycle keeps running in that case.
func (w *Worker) StopWithContext(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the loop is active.
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *Worker) run() {
	defer close(w.doneCh)

	// Cycles are never cancelled mid-sweep; shutdown waits for them instead.
	ctx := context.Background()

	w.tick(ctx)

	timer := time.NewTimer(w.config.Interval)
	defer timer.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-timer.C:
			w.tick(ctx)
			timer.Reset(w.config.Interval)
		}
	}
}

func (w *Worker) tick(ctx context.Context) {
	if w.config.Heartbeat != nil {
		w.config.Heartbeat()
	}

	if w.config.Lease != nil {
		held, err := w.config.Lease.TryAcquire(ctx)
		if err != nil {
			w.logger.Warnf("lease check failed, skipping cycle", map[string]any{"error": err.Error()})
			return
		}
		if !held {
			w.logger.Debug("lease held by another instance, skipping cycle")
			return
		}
	}

	result, err := w.cycler.RunCycle(ctx)
	if err != nil {
		w.logger.Warnf("cycle failed, retrying after interval", map[string]any{
			"error":    err.Error(),
			"interval": w.config.Interval.String(),
		})
	}
	if w.config.OnCycle != nil {
		w.config.OnCycle(result, err)
	}
}
