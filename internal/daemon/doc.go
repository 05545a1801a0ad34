// Package daemon coordinates the long-running tubemux process.
//
// It wires configuration, the history ledger, and the workflow manager into a
// single lifecycle with flock-based locking to prevent multiple instances,
// runs directory preflight before accepting work, and serves the HTTP API the
// CLI talks to.
//
// Keep orchestration logic here: job execution lives in workflow and its
// collaborators while the daemon focuses on startup, shutdown, and transport.
package daemon
