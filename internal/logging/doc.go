// Package logging assembles structured slog loggers used across tubemux.
//
// It owns the console and JSON handlers, level parsing, and output routing,
// and exposes context-aware helpers so executor and scheduler code tag log
// lines with item ids, batch ids, stages, and request ids automatically.
// NewNop gives tests and optional wiring a logger that cannot fail.
package logging
