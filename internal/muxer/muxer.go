package muxer

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	"tubemux/internal/logging"
	"tubemux/internal/services"
)

// Request describes one merge.
type Request struct {
	VideoPath       string
	AudioPath       string
	OutputPath      string
	DurationSeconds float64
}

// ProgressFunc receives merge percentages in [0,100].
type ProgressFunc func(percent float64)

// Muxer combines elementary streams.
type Muxer interface {
	Merge(ctx context.Context, req Request, progress ProgressFunc) error
}

const progressTimePrefix = "out_time_us="

// FFmpeg implements Muxer with a copy-codec ffmpeg invocation.
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// NewFFmpeg constructs the muxer. An empty binary defaults to "ffmpeg".
func NewFFmpeg(binary string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	return &FFmpeg{binary: binary, logger: logging.NewComponentLogger(logger, "muxer")}
}

// BuildArgs returns the ffmpeg arguments for req.
func BuildArgs(req Request) []string {
	return []string{
		"-hide_banner", "-nostdin", "-nostats", "-y",
		"-i", req.VideoPath,
		"-i", req.AudioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c", "copy",
		"-progress", "pipe:2",
		req.OutputPath,
	}
}

// Merge runs ffmpeg and blocks until it exits. Cancelling ctx kills the process.
func (f *FFmpeg) Merge(ctx context.Context, req Request, progress ProgressFunc) error {
	cmd := exec.CommandContext(ctx, f.binary, BuildArgs(req)...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return services.Wrap(services.ErrMerge, "muxer", "merge", "create stderr pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return services.Wrap(services.ErrMerge, "muxer", "merge", "start ffmpeg", err)
	}

	lastLine := monitorProgress(stderr, req.DurationSeconds, progress)

	if err := cmd.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		message := "ffmpeg failed"
		if lastLine != "" {
			message = "ffmpeg failed: " + lastLine
		}
		return services.Wrap(services.ErrMerge, "muxer", "merge", message, err)
	}
	f.logger.Debug("merge finished", logging.String("output", req.OutputPath))
	return nil
}

// monitorProgress consumes ffmpeg's stderr and returns the last diagnostic
// line that was not part of the progress key=value stream.
func monitorProgress(r io.Reader, durationSeconds float64, progress ProgressFunc) string {
	var lastLine string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if percent, ok := ParseProgressLine(line, durationSeconds); ok {
			if progress != nil {
				progress(percent)
			}
			continue
		}
		if isProgressKey(line) {
			continue
		}
		lastLine = line
	}
	return lastLine
}

// ParseProgressLine converts an `out_time_us=` line to a percentage of
// durationSeconds. Without a positive duration no percentage is known.
func ParseProgressLine(line string, durationSeconds float64) (float64, bool) {
	if durationSeconds <= 0 || !strings.HasPrefix(line, progressTimePrefix) {
		return 0, false
	}
	micros, err := strconv.ParseInt(strings.TrimPrefix(line, progressTimePrefix), 10, 64)
	if err != nil || micros < 0 {
		return 0, false
	}
	percent := float64(micros) / 1e6 / durationSeconds * 100
	return min(percent, 100), true
}

func isProgressKey(line string) bool {
	key, _, ok := strings.Cut(line, "=")
	if !ok {
		return false
	}
	switch key {
	case "frame", "fps", "stream_0_0_q", "bitrate", "total_size", "out_time_us", "out_time_ms",
		"out_time", "dup_frames", "drop_frames", "speed", "progress":
		return true
	}
	return false
}
