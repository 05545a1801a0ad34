// Package workflow exposes every caller operation of tubemux through a single
// Manager.
//
// The Manager wires the registry, executor, scheduler, archive writer and
// history ledger together. Validation errors surface synchronously from the
// call that caused them; failures during background execution are recorded
// on the item and observed by polling.
//
// Standalone jobs run immediately in their own goroutine. Batch items are
// resolved in a separate phase and then admitted through the shared
// scheduler, which enforces the process-wide concurrency limit and retries.
package workflow
