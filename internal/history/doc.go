// Package history persists terminal job outcomes to a SQLite ledger.
//
// The in-memory registry forgets items once they expire; the ledger keeps a
// durable record of what was downloaded, what failed and why. Writes are best
// effort from the daemon's perspective and never block job progress.
package history
