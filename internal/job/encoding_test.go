package job_test

import (
	"testing"
	"time"

	"tubemux/internal/job"
)

var testTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func TestDefaultEncoding(t *testing.T) {
	info := &job.SourceInfo{Encodings: []job.Encoding{
		{ID: "137", HasVideo: true},
		{ID: "18", HasVideo: true, HasAudio: true},
		{ID: "22", HasVideo: true, HasAudio: true},
	}}
	tests := []struct {
		name      string
		preferred job.EncodingID
		want      string
	}{
		{"unset picks first muxed", job.EncodingID{}, "18"},
		{"listed preference wins", job.SomeEncoding("137"), "137"},
		{"unlisted preference falls back", job.SomeEncoding("999"), "18"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			enc, ok := info.DefaultEncoding(tt.preferred)
			if !ok || enc.ID != tt.want {
				t.Fatalf("DefaultEncoding = %q %v, want %q", enc.ID, ok, tt.want)
			}
		})
	}

	videoOnly := &job.SourceInfo{Encodings: []job.Encoding{{ID: "137", HasVideo: true}, {ID: "140", HasAudio: true}}}
	if enc, _ := videoOnly.DefaultEncoding(job.EncodingID{}); enc.ID != "137" {
		t.Fatalf("expected first listed without muxed encodings, got %q", enc.ID)
	}
	if _, ok := (&job.SourceInfo{}).DefaultEncoding(job.EncodingID{}); ok {
		t.Fatal("expected no default for empty encoding list")
	}
}

func TestAudioCounterpart(t *testing.T) {
	info := &job.SourceInfo{Encodings: []job.Encoding{
		{ID: "137", HasVideo: true, ApproxBytes: 900},
		{ID: "139", HasAudio: true, ApproxBytes: 100},
		{ID: "140", HasAudio: true, ApproxBytes: 300},
		{ID: "251", HasAudio: true, ApproxBytes: 300},
		{ID: "18", HasAudio: true, HasVideo: true, ApproxBytes: 5000},
	}}
	enc, ok := info.AudioCounterpart()
	if !ok || enc.ID != "140" {
		t.Fatalf("expected first largest audio-only encoding 140, got %q %v", enc.ID, ok)
	}
	none := &job.SourceInfo{Encodings: []job.Encoding{{ID: "137", HasVideo: true}}}
	if _, ok := none.AudioCounterpart(); ok {
		t.Fatal("expected no counterpart")
	}
}

func TestEncodingClassification(t *testing.T) {
	if !(job.Encoding{HasAudio: true}).SelfContained() {
		t.Fatal("audio-only encodings are self-contained")
	}
	if (job.Encoding{HasVideo: true}).SelfContained() {
		t.Fatal("video-only encodings need a counterpart")
	}
	if got := (job.Encoding{Container: ".MP4"}).Extension(); got != "mp4" {
		t.Fatalf("unexpected extension %q", got)
	}
	if got := (job.Encoding{}).Extension(); got != "bin" {
		t.Fatalf("unexpected fallback extension %q", got)
	}
}
