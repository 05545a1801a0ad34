// Package progress maps stage-local download and merge signals onto a single
// 0-100 progress value per work item.
//
// A Plan assigns each phase a slice of the global range. Executors emit
// Events onto a channel; one Tracker goroutine per attempt consumes them,
// coalesces writes with a token-bucket limiter, and is the only writer of
// the item's progress while the attempt runs.
package progress
