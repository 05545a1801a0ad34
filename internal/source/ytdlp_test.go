package source

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"tubemux/internal/job"
	"tubemux/internal/services"
)

const sampleInfo = `{
  "title": "Sample Clip",
  "uploader": "",
  "channel": "Example Channel",
  "duration": 12.5,
  "formats": [
    {"format_id": "sb0", "ext": "mhtml", "vcodec": "none", "acodec": "none"},
    {"format_id": "140", "ext": "m4a", "vcodec": "none", "acodec": "mp4a.40.2", "filesize": 2048},
    {"format_id": "137", "ext": "mp4", "vcodec": "avc1", "acodec": "none", "height": 1080, "filesize_approx": 90000},
    {"format_id": "18", "ext": "mp4", "vcodec": "avc1", "acodec": "mp4a", "format_note": "360p"}
  ]
}`

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo([]byte(sampleInfo))
	if err != nil {
		t.Fatalf("ParseInfo: %v", err)
	}
	if info.Title != "Sample Clip" || info.Author != "Example Channel" {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(info.Encodings) != 3 {
		t.Fatalf("expected storyboard skipped, got %d encodings", len(info.Encodings))
	}
	audio, _ := info.Encoding("140")
	if !audio.AudioOnly() || audio.QualityLabel != "audio" || audio.ApproxBytes != 2048 {
		t.Fatalf("unexpected audio encoding %+v", audio)
	}
	video, _ := info.Encoding("137")
	if video.HasAudio || video.QualityLabel != "1080p" || video.ApproxBytes != 90000 {
		t.Fatalf("unexpected video encoding %+v", video)
	}
}

func TestParseInfoRejectsEmpty(t *testing.T) {
	for _, payload := range []string{"not json", `{"title":"x","formats":[]}`} {
		if _, err := ParseInfo([]byte(payload)); !errors.Is(err, services.ErrInvalidSource) {
			t.Fatalf("expected invalid source for %q, got %v", payload, err)
		}
	}
}

func TestValidateRef(t *testing.T) {
	tests := []struct {
		ref string
		ok  bool
	}{
		{"https://www.youtube.com/watch?v=abc", true},
		{"http://example.test/v", true},
		{"", false},
		{"not a url", false},
		{"ftp://example.test/v", false},
		{"https://", false},
	}
	for _, tt := range tests {
		err := ValidateRef(tt.ref)
		if (err == nil) != tt.ok {
			t.Errorf("ValidateRef(%q) = %v, want ok=%v", tt.ref, err, tt.ok)
		}
		if err != nil && !errors.Is(err, services.ErrInvalidSource) {
			t.Errorf("expected ErrInvalidSource for %q, got %v", tt.ref, err)
		}
	}
}

func writeStub(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell stubs require a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "yt-dlp")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write stub: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "info.json"), []byte(sampleInfo), 0o644); err != nil {
		t.Fatalf("write info: %v", err)
	}
	return path
}

func TestYTDLPResolveAndOpen(t *testing.T) {
	stub := writeStub(t, `
dir=$(dirname "$0")
case "$1" in
  -J) cat "$dir/info.json" ;;
  -f) printf 'media-bytes' ;;
esac
`)
	provider := NewYTDLP(stub, nil, 5*time.Second, nil)
	ctx := context.Background()

	info, err := provider.Resolve(ctx, "https://example.test/watch?v=1")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	enc, ok := info.Encoding("18")
	if !ok {
		t.Fatal("expected encoding 18")
	}

	stream, err := provider.Open(ctx, "https://example.test/watch?v=1", enc)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, err := io.ReadAll(stream)
	stream.Close()
	if err != nil {
		t.Fatalf("read stream: %v", err)
	}
	if string(data) != "media-bytes" {
		t.Fatalf("unexpected stream payload %q", data)
	}
}

func TestYTDLPFailures(t *testing.T) {
	stub := writeStub(t, `
echo "ERROR: video unavailable" >&2
printf 'partial'
exit 1
`)
	provider := NewYTDLP(stub, nil, 5*time.Second, nil)
	ctx := context.Background()

	if _, err := provider.Resolve(ctx, "https://example.test/gone"); !errors.Is(err, services.ErrInvalidSource) {
		t.Fatalf("expected invalid source, got %v", err)
	}
	if _, err := provider.Resolve(ctx, "nope"); !errors.Is(err, services.ErrInvalidSource) {
		t.Fatalf("expected invalid source for malformed ref, got %v", err)
	}

	stream, err := provider.Open(ctx, "https://example.test/gone", job.Encoding{ID: "18"})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer stream.Close()
	_, err = io.ReadAll(stream)
	if !errors.Is(err, services.ErrTransfer) {
		t.Fatalf("expected transfer error after non-zero exit, got %v", err)
	}
}
