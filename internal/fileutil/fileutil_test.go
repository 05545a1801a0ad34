package fileutil

import (
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestRemoveIfExistsIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scratch.part")
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 2; i++ {
		if err := RemoveIfExists(path); err != nil {
			t.Fatalf("RemoveIfExists attempt %d: %v", i, err)
		}
	}
	if Exists(path) {
		t.Fatal("expected file removed")
	}
	if err := RemoveAll("", path); err != nil {
		t.Fatalf("RemoveAll: %v", err)
	}
}

func TestPromoteRenames(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "work", "a.part")
	dst := filepath.Join(dir, "out", "a.mp4")
	if err := os.MkdirAll(filepath.Dir(src), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := Promote(src, dst); err != nil {
		t.Fatalf("Promote: %v", err)
	}
	if Exists(src) || !Exists(dst) {
		t.Fatal("expected source moved to destination")
	}
}

func TestOpenWithCallbackReportsCompletion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp4")
	if err := os.WriteFile(path, []byte("0123456789"), 0o644); err != nil {
		t.Fatal(err)
	}

	var calls []bool
	full, err := OpenWithCallback(path, func(complete bool) { calls = append(calls, complete) })
	if err != nil {
		t.Fatal(err)
	}
	if _, err := io.Copy(io.Discard, full); err != nil {
		t.Fatal(err)
	}
	full.Close()
	full.Close()

	partial, err := OpenWithCallback(path, func(complete bool) { calls = append(calls, complete) })
	if err != nil {
		t.Fatal(err)
	}
	buf := make([]byte, 3)
	if _, err := partial.Read(buf); err != nil {
		t.Fatal(err)
	}
	partial.Close()

	if len(calls) != 2 || !calls[0] || calls[1] {
		t.Fatalf("unexpected callback results %v", calls)
	}
}
