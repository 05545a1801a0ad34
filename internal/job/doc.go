// Package job defines the work item and batch model shared by the executor,
// scheduler, registry, and API layers.
//
// Items are mutated only through their own methods, each of which holds the
// item lock for the whole transition. Snapshot therefore never observes a
// completed item without its output path or a failed item without its error
// detail. Batch status is a pure function of member stages; see
// DeriveBatchStatus.
package job
