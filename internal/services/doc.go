// Package services defines shared utilities consumed by the download
// pipeline and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, batch IDs, stage names, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into the short causes recorded on work items and the status codes the
//     API returns.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability, retries) stays uniform.
package services
