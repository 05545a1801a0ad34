package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/services"
)

// YTDLP implements Provider on top of the yt-dlp binary.
type YTDLP struct {
	binary         string
	extraArgs      []string
	resolveTimeout time.Duration
	logger         *slog.Logger
}

// NewYTDLP constructs a provider. An empty binary defaults to "yt-dlp".
func NewYTDLP(binary string, extraArgs []string, resolveTimeout time.Duration, logger *slog.Logger) *YTDLP {
	if strings.TrimSpace(binary) == "" {
		binary = "yt-dlp"
	}
	if resolveTimeout <= 0 {
		resolveTimeout = time.Minute
	}
	return &YTDLP{
		binary:         binary,
		extraArgs:      append([]string(nil), extraArgs...),
		resolveTimeout: resolveTimeout,
		logger:         logging.NewComponentLogger(logger, "source"),
	}
}

type ytdlpInfo struct {
	Title     string        `json:"title"`
	Uploader  string        `json:"uploader"`
	Channel   string        `json:"channel"`
	Thumbnail string        `json:"thumbnail"`
	Duration  float64       `json:"duration"`
	Formats   []ytdlpFormat `json:"formats"`
}

type ytdlpFormat struct {
	FormatID       string `json:"format_id"`
	FormatNote     string `json:"format_note"`
	Ext            string `json:"ext"`
	VCodec         string `json:"vcodec"`
	ACodec         string `json:"acodec"`
	Height         int    `json:"height"`
	Filesize       int64  `json:"filesize"`
	FilesizeApprox int64  `json:"filesize_approx"`
}

// Resolve runs `yt-dlp -J` and converts the formats into encodings.
func (y *YTDLP) Resolve(ctx context.Context, sourceRef string) (*job.SourceInfo, error) {
	if err := ValidateRef(sourceRef); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, y.resolveTimeout)
	defer cancel()

	args := append([]string{"-J", "--no-playlist", "--no-warnings"}, y.extraArgs...)
	args = append(args, strings.TrimSpace(sourceRef))
	cmd := exec.CommandContext(ctx, y.binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil && errors.Is(ctx.Err(), context.Canceled) {
			return nil, ctx.Err()
		}
		return nil, services.Wrap(services.ErrInvalidSource, "source", "resolve", firstLine(stderr.String(), "yt-dlp could not resolve source"), err)
	}
	return ParseInfo(stdout.Bytes())
}

// ParseInfo converts yt-dlp -J output into SourceInfo. Formats carrying
// neither audio nor video (storyboards) are skipped.
func ParseInfo(data []byte) (*job.SourceInfo, error) {
	var raw ytdlpInfo
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, services.Wrap(services.ErrInvalidSource, "source", "parse info", "unreadable yt-dlp output", err)
	}
	info := &job.SourceInfo{
		Title:           strings.TrimSpace(raw.Title),
		Author:          strings.TrimSpace(raw.Uploader),
		Thumbnail:       raw.Thumbnail,
		DurationSeconds: raw.Duration,
	}
	if info.Author == "" {
		info.Author = strings.TrimSpace(raw.Channel)
	}
	for _, f := range raw.Formats {
		enc := job.Encoding{
			ID:           f.FormatID,
			QualityLabel: qualityLabel(f),
			Container:    f.Ext,
			HasVideo:     hasCodec(f.VCodec),
			HasAudio:     hasCodec(f.ACodec),
			ApproxBytes:  f.Filesize,
		}
		if enc.ApproxBytes <= 0 {
			enc.ApproxBytes = f.FilesizeApprox
		}
		if enc.ID == "" || (!enc.HasVideo && !enc.HasAudio) {
			continue
		}
		info.Encodings = append(info.Encodings, enc)
	}
	if len(info.Encodings) == 0 {
		return nil, services.Wrap(services.ErrInvalidSource, "source", "parse info", "source lists no downloadable encodings", nil)
	}
	return info, nil
}

func hasCodec(codec string) bool {
	codec = strings.TrimSpace(codec)
	return codec != "" && codec != "none"
}

func qualityLabel(f ytdlpFormat) string {
	if note := strings.TrimSpace(f.FormatNote); note != "" {
		return note
	}
	if f.Height > 0 {
		return fmt.Sprintf("%dp", f.Height)
	}
	if hasCodec(f.ACodec) && !hasCodec(f.VCodec) {
		return "audio"
	}
	return ""
}

func firstLine(text, fallback string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return fallback
}

// Open starts `yt-dlp -f <id> -o -` and returns its stdout. The stream
// reports a non-zero exit as a transfer error once stdout is drained.
func (y *YTDLP) Open(ctx context.Context, sourceRef string, encoding job.Encoding) (*Stream, error) {
	if err := ValidateRef(sourceRef); err != nil {
		return nil, err
	}
	args := append([]string{"-f", encoding.ID, "-o", "-", "--no-part", "--no-playlist", "--quiet", "--no-warnings"}, y.extraArgs...)
	args = append(args, strings.TrimSpace(sourceRef))
	cmd := exec.CommandContext(ctx, y.binary, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, services.Wrap(services.ErrTransfer, "source", "open stream", "create stdout pipe", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, services.Wrap(services.ErrTransfer, "source", "open stream", "start yt-dlp", err)
	}
	y.logger.Debug("stream opened",
		logging.String("encoding", encoding.ID),
		logging.Int64("approx_bytes", encoding.ApproxBytes),
	)
	return &Stream{
		ReadCloser: &commandStream{cmd: cmd, stdout: stdout, stderr: stderr},
		Total:      encoding.ApproxBytes,
	}, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer

	once    sync.Once
	waitErr error
}

func (s *commandStream) Read(p []byte) (int, error) {
	n, err := s.stdout.Read(p)
	if errors.Is(err, io.EOF) {
		if waitErr := s.wait(); waitErr != nil {
			return n, waitErr
		}
	}
	return n, err
}

func (s *commandStream) wait() error {
	s.once.Do(func() {
		if err := s.cmd.Wait(); err != nil {
			s.waitErr = services.Wrap(services.ErrTransfer, "source", "stream", firstLine(s.stderr.String(), "yt-dlp exited with error"), err)
		}
	})
	return s.waitErr
}

// Close stops yt-dlp if it is still running and reaps it.
func (s *commandStream) Close() error {
	_ = s.stdout.Close()
	if s.cmd.Process != nil && s.cmd.ProcessState == nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.wait()
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
