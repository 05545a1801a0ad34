// Package registry keeps the in-memory set of work items and batches.
//
// The registry owns deletion: removing an entry cancels its executor, waits
// a bounded time for it to exit, and releases the item's output and scratch
// files. Expired entries are swept through the same path.
package registry
