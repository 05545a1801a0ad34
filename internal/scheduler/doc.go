// Package scheduler admits batch items to the executor under a process-wide
// concurrency limit and retries failed attempts.
package scheduler
