// Command tubemux is the command-line client for the tubemux daemon.
//
// Every command except "config" talks to the daemon over its HTTP API; the
// bind address and bearer token come from the shared configuration file.
package main
