package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tubemux/internal/logging"
	"tubemux/internal/testsupport"
)

func TestBuildOpensHistoryWhenEnabled(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	d, err := build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer d.Close()

	if _, err := os.Stat(cfg.History.Path); err != nil {
		t.Fatalf("expected history database: %v", err)
	}
	if got := d.Status(context.Background()).HistoryPath; got != cfg.History.Path {
		t.Fatalf("history path = %q, want %q", got, cfg.History.Path)
	}
}

func TestBuildWithoutHistory(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.History.Enabled = false
	d, err := build(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer d.Close()

	if _, err := os.Stat(cfg.History.Path); !os.IsNotExist(err) {
		t.Fatalf("history database should not exist, stat err = %v", err)
	}
	if d.Status(context.Background()).Workflow.HistoryEnabled {
		t.Fatal("expected history disabled")
	}
}

func TestRunServesUntilCanceled(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	configPath := filepath.Join(testsupport.BaseDir(cfg), "config.toml")
	testsupport.WriteConfig(t, configPath, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, configPath) }()

	waitForLock(t, cfg.LockPath())
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return after cancel")
	}
}

func waitForLock(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("daemon lock %s never appeared", path)
}
