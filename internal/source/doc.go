// Package source resolves media references into encodings and opens byte
// streams for a chosen encoding.
//
// Provider is the contract the executor and workflow depend on. YTDLP is the
// production implementation: it shells out to yt-dlp with -J for resolution
// and streams `-f <id> -o -` output for downloads.
package source
