package registry_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/registry"
	"tubemux/internal/services"
	"tubemux/internal/testsupport"
)

const ref = "https://video.example/watch?v=abc"

func newRegistry(t *testing.T, opts registry.Options) *registry.Registry {
	t.Helper()
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.CancelWait == 0 {
		opts.CancelWait = time.Second
	}
	reg := registry.New(opts, logging.NewNop())
	t.Cleanup(reg.Close)
	return reg
}

func completedItem(t *testing.T, dir string, opts ...job.ItemOption) *job.Item {
	t.Helper()
	item := job.NewItem(ref, opts...)
	item.SetResolved(testsupport.MuxedInfo("Clip"), "18")
	if _, err := item.BeginAttempt(); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}
	output := filepath.Join(dir, item.ID()+".mp4")
	testsupport.WriteFile(t, output, 16)
	if err := item.Complete(output); err != nil {
		t.Fatalf("Complete: %v", err)
	}
	return item
}

func TestGetUnknownReturnsNotFound(t *testing.T) {
	reg := newRegistry(t, registry.Options{})
	if _, err := reg.Get("missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := reg.GetBatch("missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := reg.Delete("missing"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteReleasesOutputAndScratch(t *testing.T) {
	workDir := t.TempDir()
	outDir := t.TempDir()
	reg := newRegistry(t, registry.Options{WorkDir: workDir})
	item := completedItem(t, outDir)
	scratch := filepath.Join(workDir, item.ID()+".1.video.mp4")
	testsupport.WriteFile(t, scratch, 8)
	other := filepath.Join(workDir, "someone-else.1.video.mp4")
	testsupport.WriteFile(t, other, 8)
	output := item.OutputPath()

	var removed []job.Snapshot
	reg.OnRemove(func(s job.Snapshot) { removed = append(removed, s) })
	reg.Insert(item)

	if err := reg.Delete(item.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	for _, path := range []string{output, scratch} {
		if _, err := os.Stat(path); !os.IsNotExist(err) {
			t.Fatalf("%s should be removed, stat err=%v", path, err)
		}
	}
	if _, err := os.Stat(other); err != nil {
		t.Fatalf("unrelated scratch removed: %v", err)
	}
	if err := reg.Delete(item.ID()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("second delete should be ErrNotFound, got %v", err)
	}
	if len(removed) != 1 || removed[0].ID != item.ID() {
		t.Fatalf("OnRemove not called once: %+v", removed)
	}
}

func TestDeleteCancelsAndWaitsForExecutor(t *testing.T) {
	reg := newRegistry(t, registry.Options{})
	item := job.NewItem(ref)
	reg.Insert(item)

	ctx, cancel := context.WithCancel(context.Background())
	finish, err := reg.Attach(item.ID(), cancel)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := reg.Attach(item.ID(), cancel); !errors.Is(err, registry.ErrAlreadyAttached) {
		t.Fatalf("expected ErrAlreadyAttached, got %v", err)
	}
	if reg.Active() != 1 {
		t.Fatalf("Active = %d", reg.Active())
	}

	exited := make(chan struct{})
	go func() {
		<-ctx.Done()
		time.Sleep(20 * time.Millisecond)
		close(exited)
		finish()
	}()

	if err := reg.Delete(item.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	select {
	case <-exited:
	default:
		t.Fatal("Delete returned before the executor exited")
	}
}

func TestDeleteBoundedByCancelWait(t *testing.T) {
	reg := newRegistry(t, registry.Options{CancelWait: 30 * time.Millisecond})
	item := job.NewItem(ref)
	reg.Insert(item)
	finish, err := reg.Attach(item.ID(), func() {})
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	defer finish()

	start := time.Now()
	if err := reg.Delete(item.ID()); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Delete waited %v", elapsed)
	}
}

func TestDeleteBatchRemovesItems(t *testing.T) {
	outDir := t.TempDir()
	reg := newRegistry(t, registry.Options{})
	first := completedItem(t, outDir)
	second := job.NewItem(ref)
	batch := job.NewBatch([]string{first.ID(), second.ID()}, job.EncodingID{}, time.Now())
	reg.InsertBatch(batch, first, second)

	if got := reg.BatchItems(batch); len(got) != 2 || got[0] != first {
		t.Fatalf("BatchItems order wrong: %v", got)
	}
	output := first.OutputPath()
	if err := reg.DeleteBatch(batch.ID); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if _, err := os.Stat(output); !os.IsNotExist(err) {
		t.Fatalf("batch artifact not released")
	}
	if items, batches := reg.Counts(); items != 0 || batches != 0 {
		t.Fatalf("counts = %d items %d batches", items, batches)
	}
	if err := reg.DeleteBatch(batch.ID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRefreshBatch(t *testing.T) {
	reg := newRegistry(t, registry.Options{})
	a := job.NewItem(ref)
	b := job.NewItem(ref)
	batch := job.NewBatch([]string{a.ID(), b.ID()}, job.EncodingID{}, time.Now())
	reg.InsertBatch(batch, a, b)

	if err := a.BeginResolve(); err != nil {
		t.Fatalf("BeginResolve: %v", err)
	}
	if got := reg.RefreshBatch(batch.ID); got != job.BatchFetchingInfo {
		t.Fatalf("status = %s", got)
	}
	if err := a.Fail(services.Wrap(services.ErrInvalidSource, "test", "resolve", "bad", nil)); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if err := b.Fail(errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	if got := reg.RefreshBatch(batch.ID); got != job.BatchFailed {
		t.Fatalf("status = %s", got)
	}
	if batch.CachedStatus() != job.BatchFailed {
		t.Fatalf("cached status not updated")
	}
	if got := reg.RefreshBatch("gone"); got != "" {
		t.Fatalf("unknown batch refresh = %q", got)
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base }
	reg := newRegistry(t, registry.Options{JobExpiry: time.Hour, BatchExpiry: 6 * time.Hour})

	old := job.NewItem(ref, job.WithClock(clock))
	fresh := job.NewItem(ref, job.WithClock(func() time.Time { return base.Add(50 * time.Minute) }))
	batchItem := job.NewItem(ref, job.WithClock(clock), job.WithBatch("b"))
	batch := job.NewBatch([]string{batchItem.ID()}, job.EncodingID{}, base)
	reg.Insert(old)
	reg.Insert(fresh)
	reg.InsertBatch(batch, batchItem)

	items, batches := reg.Sweep(base.Add(90 * time.Minute))
	if items != 1 || batches != 0 {
		t.Fatalf("first sweep removed %d items %d batches", items, batches)
	}
	if _, err := reg.Get(fresh.ID()); err != nil {
		t.Fatalf("fresh item swept: %v", err)
	}
	if _, err := reg.Get(batchItem.ID()); err != nil {
		t.Fatalf("batch items follow batch expiry: %v", err)
	}

	items, batches = reg.Sweep(base.Add(7 * time.Hour))
	if items != 1 || batches != 1 {
		t.Fatalf("second sweep removed %d items %d batches", items, batches)
	}
	if n, b := reg.Counts(); n != 0 || b != 0 {
		t.Fatalf("registry not empty: %d items %d batches", n, b)
	}
}

func TestSweepSparesActiveItems(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return base }
	reg := newRegistry(t, registry.Options{JobExpiry: time.Hour, BatchExpiry: 6 * time.Hour})

	running := job.NewItem(ref, job.WithClock(clock))
	reg.Insert(running)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	finish, err := reg.Attach(running.ID(), cancel)
	if err != nil {
		t.Fatalf("Attach: %v", err)
	}
	if _, err := running.BeginAttempt(); err != nil {
		t.Fatalf("BeginAttempt: %v", err)
	}

	queued := job.NewItem(ref, job.WithClock(clock), job.WithBatch("b"))
	batch := job.NewBatch([]string{queued.ID()}, job.EncodingID{}, base)
	reg.InsertBatch(batch, queued)
	if err := queued.Queue(); err != nil {
		t.Fatalf("Queue: %v", err)
	}

	items, batches := reg.Sweep(base.Add(7 * time.Hour))
	if items != 0 || batches != 0 {
		t.Fatalf("sweep removed active work: %d items %d batches", items, batches)
	}
	if ctx.Err() != nil {
		t.Fatal("sweep cancelled a running executor")
	}
	if _, err := reg.Get(running.ID()); err != nil {
		t.Fatalf("running item swept: %v", err)
	}
	if _, err := reg.GetBatch(batch.ID); err != nil {
		t.Fatalf("batch with queued item swept: %v", err)
	}

	if err := running.Fail(errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	finish()
	if err := queued.Fail(errors.New("boom")); err != nil {
		t.Fatalf("Fail: %v", err)
	}
	items, batches = reg.Sweep(base.Add(7 * time.Hour))
	if items != 1 || batches != 1 {
		t.Fatalf("idle entries not swept: %d items %d batches", items, batches)
	}
}

func TestScheduleDelete(t *testing.T) {
	reg := newRegistry(t, registry.Options{})
	item := job.NewItem(ref)
	reg.Insert(item)

	var wg sync.WaitGroup
	wg.Add(1)
	reg.OnRemove(func(job.Snapshot) { wg.Done() })
	reg.ScheduleDelete(item.ID(), 10*time.Millisecond)

	waitCh := make(chan struct{})
	go func() { wg.Wait(); close(waitCh) }()
	select {
	case <-waitCh:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduled delete did not run")
	}
	if _, err := reg.Get(item.ID()); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("item still present: %v", err)
	}
}

func TestCloseStopsTimers(t *testing.T) {
	reg := newRegistry(t, registry.Options{})
	item := job.NewItem(ref)
	reg.Insert(item)
	reg.ScheduleDelete(item.ID(), 20*time.Millisecond)
	reg.Close()
	time.Sleep(60 * time.Millisecond)
	if _, err := reg.Get(item.ID()); err != nil {
		t.Fatalf("timer fired after Close: %v", err)
	}
}
