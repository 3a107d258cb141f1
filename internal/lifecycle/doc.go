// Package lifecycle implements the reconciler that drives uploaded objects
// through their lifecycle.
//
// # Cycle
//
// A cycle ([Reconciler.RunCycle]) runs three sweeps in strict order:
//
//  1. Validity ([Reconciler.CheckValidity]): recent records whose isValid
//     flag is still false are compared against the stored blob size. A match
//     sets isValid. Lookup failures are swallowed and retried next cycle.
//  2. Expiration ([Reconciler.MarkExpired]): records with a deletable lifetime
//     whose retention period has elapsed get deleteFlag set.
//  3. Deletion ([Reconciler.DeleteMarked]): flagged records with a zero
//     refCount lose their blob first and then their record.
//
// Each sweep streams its query result one record at a time.
//
// # Worker
//
// [Worker] runs cycles back to back with a fixed delay between the end of one
// cycle and the start of the next. A failed cycle is logged and retried after
// the delay. Stop waits for the in-flight cycle to finish.
//
//	worker := lifecycle.NewWorker(reconciler, lifecycle.WorkerConfig{
//	    Interval: time.Second,
//	})
//	worker.Start()
//	defer worker.Stop()
package lifecycle
