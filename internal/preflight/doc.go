// Package preflight provides readiness checks for the filesystem paths and
// external binaries tubemux depends on.
//
// The daemon runs RunAll before accepting work and refuses to start when a
// directory check fails. The status endpoint reuses the individual checks to
// report directory health and free space.
package preflight
