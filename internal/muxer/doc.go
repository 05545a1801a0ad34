// Package muxer merges separate video and audio scratch files into a single
// container. FFmpeg performs a stream copy and reports progress through
// `-progress pipe:2`, converted to a percentage against the source duration.
package muxer
