// Package api defines the HTTP transport types shared by the daemon's API
// server and the CLI, and a client for that API.
package api
