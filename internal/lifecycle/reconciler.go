package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/slidecast/lifecycled/internal/logging"
	"github.com/slidecast/lifecycled/internal/metadata"
	"github.com/slidecast/lifecycled/internal/objectstore"
)

// DefaultValidityWindow is how far back the validity sweep looks for
// unvalidated records.
const DefaultValidityWindow = time.Hour

// FailureKind classifies per-record failures that do not abort a sweep.
type FailureKind string

const (
	// FailureTransientLookup means the blob size lookup failed. The record is
	// left untouched and looked at again next cycle.
	FailureTransientLookup FailureKind = "transient_lookup"

	// FailureNotFoundOnDelete means the blob or record was already gone.
	FailureNotFoundOnDelete FailureKind = "not_found_on_delete"

	// FailureUnexpectedStore means a blob delete failed for another reason.
	// The record is still deleted.
	FailureUnexpectedStore FailureKind = "unexpected_store_failure"

	// FailureInvalidRecord means a stored record could not be decoded.
	FailureInvalidRecord FailureKind = "invalid_record"
)

// Sweep names, used as log field and metric label.
const (
	SweepValidity   = "validity"
	SweepExpiration = "expiration"
	SweepDeletion   = "deletion"
)

// Record actions counted by the metrics recorder.
const (
	ActionValidated = "validated"
	ActionMarked    = "marked"
	ActionDeleted   = "deleted"
)

// MetricsRecorder receives reconciler measurements.
// *metrics.LifecycleMetrics implements it.
type MetricsRecorder interface {
	RecordCycle(durationSeconds float64, success bool)
	RecordSweep(sweep string, durationSeconds float64, success bool)
	RecordRecords(action string, count int)
	RecordFailure(kind string)
}

type noopMetrics struct{}

func (noopMetrics) RecordCycle(float64, bool)         {}
func (noopMetrics) RecordSweep(string, float64, bool) {}
func (noopMetrics) RecordRecords(string, int)         {}
func (noopMetrics) RecordFailure(string)              {}

// Config configures a Reconciler.
type Config struct {
	// ValidityWindow bounds the age of records considered by the validity sweep.
	// Default: 1h
	ValidityWindow time.Duration

	// Metrics is optional.
	Metrics MetricsRecorder

	// Logger defaults to the global logger.
	Logger *logging.Logger

	// Now returns the current time. Default: time.Now
	Now func() time.Time
}

// ValidityResult summarises one validity sweep.
type ValidityResult struct {
	Scanned        int `json:"scanned"`
	Validated      int `json:"validated"`
	LookupFailures int `json:"lookupFailures"`
	SizeMismatches int `json:"sizeMismatches"`
	Vanished       int `json:"vanished"`
	Invalid        int `json:"invalid"`
}

// ExpirationResult summarises one expiration sweep.
type ExpirationResult struct {
	Scanned       int `json:"scanned"`
	Marked        int `json:"marked"`
	NotYetExpired int `json:"notYetExpired"`
	Vanished      int `json:"vanished"`
	Invalid       int `json:"invalid"`
}

// DeletionResult summarises one deletion sweep.
type DeletionResult struct {
	Scanned            int `json:"scanned"`
	Deleted            int `json:"deleted"`
	BlobsMissing       int `json:"blobsMissing"`
	BlobDeleteFailures int `json:"blobDeleteFailures"`
	RecordsMissing     int `json:"recordsMissing"`
	Invalid            int `json:"invalid"`
}

// CycleResult is the outcome of one RunCycle call. Sweeps that did not run
// because an earlier sweep failed keep their zero value.
type CycleResult struct {
	CorrelationID string           `json:"correlationId"`
	StartedAt     time.Time        `json:"startedAt"`
	Duration      time.Duration    `json:"duration"`
	Validity      ValidityResult   `json:"validity"`
	Expiration    ExpirationResult `json:"expiration"`
	Deletion      DeletionResult   `json:"deletion"`
}

func (r *CycleResult) logFields() map[string]any {
	return map[string]any{
		"durationMs":         r.Duration.Milliseconds(),
		"validated":          r.Validity.Validated,
		"lookupFailures":     r.Validity.LookupFailures,
		"sizeMismatches":     r.Validity.SizeMismatches,
		"marked":             r.Expiration.Marked,
		"deleted":            r.Deletion.Deleted,
		"blobsMissing":       r.Deletion.BlobsMissing,
		"blobDeleteFailures": r.Deletion.BlobDeleteFailures,
	}
}

// Reconciler runs the lifecycle sweeps against a record store and a blob store.
// It is safe to call its methods from one goroutine at a time; running
// cycles concurrently is allowed by the stores but gives no ordering guarantees.
type Reconciler struct {
	records metadata.RecordStore
	blobs   objectstore.Store

	window  time.Duration
	metrics MetricsRecorder
	logger  *logging.Logger
	now     func() time.Time
}

// NewReconciler creates a Reconciler.
func NewReconciler(records metadata.RecordStore, blobs objectstore.Store, cfg Config) *Reconciler {
	if cfg.ValidityWindow <= 0 {
		cfg.ValidityWindow = DefaultValidityWindow
	}
	if cfg.Metrics == nil {
		cfg.Metrics = noopMetrics{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Global()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		records: records,
		blobs:   blobs,
		window:  cfg.ValidityWindow,
		metrics: cfg.Metrics,
		logger:  cfg.Logger,
		now:     cfg.Now,
	}
}

// RunCycle runs the validity, expiration and deletion sweeps once, in that
// order. The first sweep error ends the cycle; later sweeps do not run.
// The returned result is non-nil even on error.
func (r *Reconciler) RunCycle(ctx context.Context) (*CycleResult, error) {
	id := uuid.NewString()
	logger := r.logger.WithCorrelationID(id)
	ctx = logging.WithCorrelationIDCtx(ctx, id)
	ctx = logging.WithLoggerCtx(ctx, logger)

	result := &CycleResult{CorrelationID: id, StartedAt: r.now().UTC()}
	start := time.Now()
	err := r.runSweeps(ctx, result)
	result.Duration = time.Since(start)
	r.metrics.RecordCycle(result.Duration.Seconds(), err == nil)

	fields := result.logFields()
	if err != nil {
		fields["error"] = err.Error()
		logger.Errorf("lifecycle cycle failed", fields)
		return result, err
	}
	logger.Infof("lifecycle cycle complete", fields)
	return result, nil
}

func (r *Reconciler) runSweeps(ctx context.Context, result *CycleResult) error {
	var err error
	if result.Validity, err = r.CheckValidity(ctx); err != nil {
		return err
	}
	if result.Expiration, err = r.MarkExpired(ctx); err != nil {
		return err
	}
	result.Deletion, err = r.DeleteMarked(ctx)
	return err
}

// CheckValidity marks recent, unvalidated records as valid once the stored
// blob has the recorded size.
//
// A failed size lookup leaves the record untouched. Update errors other than
// ErrNotFound end the sweep.
func (r *Reconciler) CheckValidity(ctx context.Context) (ValidityResult, error) {
	var res ValidityResult
	logger := logging.ContextLogger(ctx, r.logger).With(map[string]any{"sweep": SweepValidity})
	start := time.Now()

	since := r.now().Add(-r.window)
	filter := metadata.Filter{
		CreatedAtOrAfter: metadata.Time(since),
		IsValid:          metadata.Bool(false),
	}

	err := r.forEach(ctx, logger, filter, &res.Invalid, func(rec metadata.Record) error {
		res.Scanned++

		meta, err := r.blobs.Head(ctx, rec.Name)
		if err != nil {
			res.LookupFailures++
			r.metrics.RecordFailure(string(FailureTransientLookup))
			logger.Debugf("blob lookup failed, retrying next cycle", map[string]any{
				"recordId":    rec.ID,
				"blob":        rec.Name,
				"failureKind": string(FailureTransientLookup),
				"error":       err.Error(),
			})
			return nil
		}
		if meta.Size != rec.Size {
			res.SizeMismatches++
			return nil
		}

		if err := r.records.UpdateFields(ctx, rec.ID, metadata.Fields{IsValid: metadata.Bool(true)}); err != nil {
			if metadata.IsNotFound(err) {
				res.Vanished++
				return nil
			}
			return fmt.Errorf("mark record %s valid: %w", rec.ID, err)
		}
		res.Validated++
		return nil
	})

	r.metrics.RecordRecords(ActionValidated, res.Validated)
	r.finishSweep(SweepValidity, start, err)
	if err != nil {
		return res, fmt.Errorf("validity sweep: %w", err)
	}
	return res, nil
}

// MarkExpired sets deleteFlag on records with a deletable lifetime whose
// retention period has elapsed. It never looks at isValid or refCount.
func (r *Reconciler) MarkExpired(ctx context.Context) (ExpirationResult, error) {
	var res ExpirationResult
	logger := logging.ContextLogger(ctx, r.logger).With(map[string]any{"sweep": SweepExpiration})
	start := time.Now()

	filter := metadata.Filter{
		Lifetimes:  metadata.DeletableLifetimes,
		DeleteFlag: metadata.Bool(false),
	}

	err := r.forEach(ctx, logger, filter, &res.Invalid, func(rec metadata.Record) error {
		res.Scanned++

		retention, ok := rec.Lifetime.Retention()
		if !ok {
			// Backends filter on lifetime; an undeletable record here is stale data.
			res.NotYetExpired++
			return nil
		}
		threshold := r.now().Add(-retention)
		if !rec.Created.Before(threshold) {
			res.NotYetExpired++
			return nil
		}

		if err := r.records.UpdateFields(ctx, rec.ID, metadata.Fields{DeleteFlag: metadata.Bool(true)}); err != nil {
			if metadata.IsNotFound(err) {
				res.Vanished++
				return nil
			}
			return fmt.Errorf("flag record %s for deletion: %w", rec.ID, err)
		}
		res.Marked++
		return nil
	})

	r.metrics.RecordRecords(ActionMarked, res.Marked)
	r.finishSweep(SweepExpiration, start, err)
	if err != nil {
		return res, fmt.Errorf("expiration sweep: %w", err)
	}
	return res, nil
}

// DeleteMarked deletes the blob and then the record of every flagged record
// that is no longer referenced.
//
// A missing blob counts as deleted. Any other blob delete failure is logged
// and the record is deleted anyway. Record delete errors other than
// ErrNotFound end the sweep.
func (r *Reconciler) DeleteMarked(ctx context.Context) (DeletionResult, error) {
	var res DeletionResult
	logger := logging.ContextLogger(ctx, r.logger).With(map[string]any{"sweep": SweepDeletion})
	start := time.Now()

	filter := metadata.Filter{
		DeleteFlag: metadata.Bool(true),
		RefCount:   metadata.Int64(0),
	}

	err := r.forEach(ctx, logger, filter, &res.Invalid, func(rec metadata.Record) error {
		res.Scanned++

		if err := r.blobs.Delete(ctx, rec.Name); err != nil {
			fields := map[string]any{
				"recordId": rec.ID,
				"blob":     rec.Name,
				"error":    err.Error(),
			}
			if errors.Is(err, objectstore.ErrNotFound) {
				res.BlobsMissing++
				r.metrics.RecordFailure(string(FailureNotFoundOnDelete))
				fields["failureKind"] = string(FailureNotFoundOnDelete)
				logger.Debugf("blob already gone", fields)
			} else {
				res.BlobDeleteFailures++
				r.metrics.RecordFailure(string(FailureUnexpectedStore))
				fields["failureKind"] = string(FailureUnexpectedStore)
				logger.ErrorStack("blob delete failed, deleting record anyway", fields)
			}
		} else {
			logger.Debugf("deleted blob", map[string]any{"recordId": rec.ID, "blob": rec.Name})
		}

		if err := r.records.Delete(ctx, rec.ID); err != nil {
			if metadata.IsNotFound(err) {
				res.RecordsMissing++
				r.metrics.RecordFailure(string(FailureNotFoundOnDelete))
				return nil
			}
			return fmt.Errorf("delete record %s: %w", rec.ID, err)
		}
		res.Deleted++
		return nil
	})

	r.metrics.RecordRecords(ActionDeleted, res.Deleted)
	r.finishSweep(SweepDeletion, start, err)
	if err != nil {
		return res, fmt.Errorf("deletion sweep: %w", err)
	}
	return res, nil
}

// forEach streams the records matching filter into fn, one at a time.
// Records that fail to decode are logged, counted in invalid and skipped.
// Any other iterator error, and any error from fn, stops the stream.
func (r *Reconciler) forEach(ctx context.Context, logger *logging.Logger, filter metadata.Filter, invalid *int, fn func(metadata.Record) error) error {
	it, err := r.records.Query(ctx, filter)
	if err != nil {
		return fmt.Errorf("query records: %w", err)
	}
	defer it.Close()

	for {
		rec, err := it.Next()
		if errors.Is(err, metadata.ErrDone) {
			return nil
		}
		if errors.Is(err, metadata.ErrInvalidRecord) {
			*invalid++
			r.metrics.RecordFailure(string(FailureInvalidRecord))
			logger.Warnf("skipping undecodable record", map[string]any{
				"failureKind": string(FailureInvalidRecord),
				"error":       err.Error(),
			})
			continue
		}
		if err != nil {
			return fmt.Errorf("read records: %w", err)
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}

func (r *Reconciler) finishSweep(sweep string, start time.Time, err error) {
	r.metrics.RecordSweep(sweep, time.Since(start).Seconds(), err == nil)
}
