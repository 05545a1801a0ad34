// Package config loads, normalizes, and validates tubemux configuration.
//
// Configuration is read from TOML. Defaults cover every field so a missing
// file still yields a usable daemon; paths are tilde-expanded and made
// absolute, and Validate rejects limits that would stall the scheduler or
// retention sweep. CreateSample writes the embedded sample config used by
// `tubemux config init`.
package config
