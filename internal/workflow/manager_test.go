package workflow_test

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"tubemux/internal/config"
	"tubemux/internal/history"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/services"
	"tubemux/internal/testsupport"
	"tubemux/internal/workflow"
)

type env struct {
	cfg      *config.Config
	provider *testsupport.FakeProvider
	muxer    *testsupport.FakeMuxer
	history  *history.Store
	mgr      *workflow.Manager
}

func newEnv(t *testing.T, opts ...testsupport.ConfigOption) *env {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	provider := testsupport.NewFakeProvider()
	mux := testsupport.NewFakeMuxer(10, 60, 100)
	store := testsupport.MustOpenHistory(t, cfg)
	mgr := workflow.NewManager(cfg, provider, mux, logging.NewNop(), workflow.WithHistory(store))
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return &env{cfg: cfg, provider: provider, muxer: mux, history: store, mgr: mgr}
}

func ref(n int) string {
	return fmt.Sprintf("https://video.example/watch?v=%d", n)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitTerminal(t *testing.T, mgr *workflow.Manager, id string) job.Snapshot {
	t.Helper()
	var snap job.Snapshot
	waitFor(t, "job "+id+" to finish", func() bool {
		var err error
		snap, err = mgr.Job(id)
		return err == nil && snap.Stage.IsTerminal()
	})
	return snap
}

func TestCreateJobDeliversAndSchedulesDeletion(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("My Clip"))

	id, err := e.mgr.CreateJob(context.Background(), ref(1), "137")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	snap := waitTerminal(t, e.mgr, id)
	if snap.Stage != job.StageCompleted || snap.Progress != 100 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	artifact, err := e.mgr.OpenJobOutput(id)
	if err != nil {
		t.Fatalf("OpenJobOutput: %v", err)
	}
	if artifact.FileName != "My Clip.mp4" {
		t.Fatalf("file name = %q", artifact.FileName)
	}
	data, err := io.ReadAll(artifact)
	if err != nil {
		t.Fatalf("read artifact: %v", err)
	}
	if want := "payload-137-" + ref(1) + "payload-140-" + ref(1); string(data) != want {
		t.Fatalf("artifact = %q", data)
	}
	if err := artifact.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	waitFor(t, "delivered job to be deleted", func() bool {
		_, err := e.mgr.Job(id)
		return errors.Is(err, services.ErrNotFound)
	})
	if files := testsupport.ListFiles(t, e.cfg.Paths.OutputDir); len(files) != 0 {
		t.Fatalf("output not released: %v", files)
	}

	records, err := e.mgr.History(context.Background(), history.Filter{})
	if err != nil || len(records) != 1 || records[0].Stage != job.StageCompleted {
		t.Fatalf("history = %+v, %v", records, err)
	}
}

func TestCreateJobValidationIsSynchronous(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Clip"))
	e.provider.FailResolve(ref(2), services.Wrap(services.ErrInvalidSource, "fake", "resolve", "video unavailable", nil))

	tests := []struct {
		name     string
		ref      string
		encoding string
		want     error
	}{
		{name: "malformed", ref: "not a url", want: services.ErrInvalidSource},
		{name: "unresolvable", ref: ref(2), want: services.ErrInvalidSource},
		{name: "unknown ref", ref: ref(3), want: services.ErrInvalidSource},
		{name: "unlisted encoding", ref: ref(1), encoding: "999", want: services.ErrInvalidEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.mgr.CreateJob(context.Background(), tt.ref, tt.encoding); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
	if items, _ := e.mgr.Registry().Counts(); items != 0 {
		t.Fatalf("rejected jobs must not be registered, got %d", items)
	}
}

func TestCreateJobDefaultsToMuxedEncoding(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Clip"))
	id, err := e.mgr.CreateJob(context.Background(), ref(1), "")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	snap := waitTerminal(t, e.mgr, id)
	if !snap.Encoding.Set || snap.Encoding.Value != "18" {
		t.Fatalf("default encoding = %+v", snap.Encoding)
	}
	if e.muxer.Calls() != 0 {
		t.Fatalf("muxed encoding must not merge")
	}
}

func TestVideoOnlyWithoutAudioFails(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.VideoOnlyInfo("Silent"))

	id, err := e.mgr.CreateJob(context.Background(), ref(1), "137")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	snap := waitTerminal(t, e.mgr, id)
	if snap.Stage != job.StageFailed || snap.ErrorKind != services.KindNoMatchingCounterpart {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if snap.ErrorDetail == "" {
		t.Fatal("failed job must carry an error detail")
	}
	if files := testsupport.ListFiles(t, e.cfg.Paths.WorkDir); len(files) != 0 {
		t.Fatalf("scratch files left behind: %v", files)
	}
	if _, err := e.mgr.OpenJobOutput(id); !errors.Is(err, services.ErrAlreadyFailed) {
		t.Fatalf("expected ErrAlreadyFailed, got %v", err)
	}
}

func TestOpenJobOutputNotReadyAndDelete(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Clip")).BlockStreams()

	id, err := e.mgr.CreateJob(context.Background(), ref(1), "18")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	waitFor(t, "stream to open", func() bool { return e.provider.OpenCalls() > 0 })
	if _, err := e.mgr.OpenJobOutput(id); !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
	if err := e.mgr.DeleteJob(id); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := e.mgr.Job(id); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := e.mgr.DeleteJob(id); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
	e.mgr.Wait()
	if files := testsupport.ListFiles(t, e.cfg.Paths.WorkDir); len(files) != 0 {
		t.Fatalf("scratch files left behind: %v", files)
	}
}

func TestCreateBatchRejectsEmptyList(t *testing.T) {
	e := newEnv(t)
	if _, _, err := e.mgr.CreateBatch([]string{" ", ""}, ""); !errors.Is(err, services.ErrEmptyList) {
		t.Fatalf("expected ErrEmptyList, got %v", err)
	}
}

func TestBatchWithMalformedItem(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("First"))
	e.provider.AddSource(ref(3), testsupport.MuxedInfo("Third"))

	batchID, count, err := e.mgr.CreateBatch([]string{ref(1), "::malformed::", ref(3)}, "")
	if err != nil || count != 3 {
		t.Fatalf("CreateBatch = %d, %v", count, err)
	}
	view, err := e.mgr.Batch(batchID)
	if err != nil || view.Status != job.BatchCreated {
		t.Fatalf("initial batch = %+v, %v", view, err)
	}

	resolved, err := e.mgr.ResolveBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if resolved.Ready != 2 || resolved.Failed != 1 {
		t.Fatalf("resolve result = %+v", resolved)
	}
	if resolved.Items[1].ErrorKind != string(services.KindInvalidSource) {
		t.Fatalf("malformed item = %+v", resolved.Items[1])
	}
	if view, _ := e.mgr.Batch(batchID); view.Status != job.BatchReady {
		t.Fatalf("status after resolve = %s", view.Status)
	}

	queued, err := e.mgr.StartBatch(context.Background(), batchID, nil)
	if err != nil || queued != 2 {
		t.Fatalf("StartBatch = %d, %v", queued, err)
	}
	e.mgr.Wait()

	view, err = e.mgr.Batch(batchID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if view.Status != job.BatchCompleted {
		t.Fatalf("status = %s", view.Status)
	}
	if view.Counts.Completed != 2 || view.Counts.Failed != 1 || view.Counts.Total != 3 {
		t.Fatalf("counts = %+v", view.Counts)
	}
	if view.Progress != 100 {
		t.Fatalf("batch progress = %v, want mean of non-failed items", view.Progress)
	}
}

func TestBatchRetriesThenCompletes(t *testing.T) {
	e := newEnv(t, testsupport.WithScheduler(3, 2))
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Flaky")).FailOpens(ref(1), 2)

	batchID, _, err := e.mgr.CreateBatch([]string{ref(1)}, "18")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := e.mgr.ResolveBatch(context.Background(), batchID); err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if _, err := e.mgr.StartBatch(context.Background(), batchID, nil); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	e.mgr.Wait()

	view, _ := e.mgr.Batch(batchID)
	if view.Status != job.BatchCompleted || view.Items[0].Stage != job.StageCompleted {
		t.Fatalf("batch = %+v", view)
	}
	if view.Items[0].Attempts != 3 {
		t.Fatalf("attempts = %d", view.Items[0].Attempts)
	}
}

func TestBatchBoundedConcurrency(t *testing.T) {
	e := newEnv(t, testsupport.WithScheduler(3, 0))
	e.provider.SetDelay(20 * time.Millisecond)
	refs := make([]string, 10)
	for i := range refs {
		refs[i] = ref(i)
		e.provider.AddSource(refs[i], testsupport.MuxedInfo(fmt.Sprintf("Clip %d", i)))
	}
	batchID, _, err := e.mgr.CreateBatch(refs, "18")
	if err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	if _, err := e.mgr.ResolveBatch(context.Background(), batchID); err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if queued, _ := e.mgr.StartBatch(context.Background(), batchID, nil); queued != 10 {
		t.Fatalf("queued = %d", queued)
	}
	e.mgr.Wait()
	if got := e.provider.MaxActive(); got > 3 {
		t.Fatalf("max concurrent downloads = %d, want <= 3", got)
	}
	if view, _ := e.mgr.Batch(batchID); view.Counts.Completed != 10 {
		t.Fatalf("counts = %+v", view.Counts)
	}
}

func TestStartBatchRejectsUnlistedOverride(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("One")).AddSource(ref(2), testsupport.MuxedInfo("Two"))
	batchID, _, _ := e.mgr.CreateBatch([]string{ref(1), ref(2)}, "")
	resolved, err := e.mgr.ResolveBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}

	overrides := map[string]string{
		resolved.Items[0].ID: "nope",
		resolved.Items[1].ID: "140",
	}
	queued, err := e.mgr.StartBatch(context.Background(), batchID, overrides)
	if err != nil || queued != 1 {
		t.Fatalf("StartBatch = %d, %v", queued, err)
	}
	e.mgr.Wait()
	view, _ := e.mgr.Batch(batchID)
	if view.Items[0].Stage != job.StageFailed || view.Items[0].ErrorKind != string(services.KindInvalidEncoding) {
		t.Fatalf("override item = %+v", view.Items[0])
	}
	if view.Items[1].Stage != job.StageCompleted || view.Items[1].Encoding != "140" {
		t.Fatalf("second item = %+v", view.Items[1])
	}
}

func TestBundleWithoutCompletedItems(t *testing.T) {
	e := newEnv(t)
	batchID, _, _ := e.mgr.CreateBatch([]string{"bad-one", "bad-two"}, "")
	if _, err := e.mgr.ResolveBatch(context.Background(), batchID); err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if view, _ := e.mgr.Batch(batchID); view.Status != job.BatchFailed {
		t.Fatalf("status = %s", view.Status)
	}
	if _, err := e.mgr.OpenBatchBundle(context.Background(), batchID); !errors.Is(err, services.ErrNoCompletedItems) {
		t.Fatalf("expected ErrNoCompletedItems, got %v", err)
	}
	if files := testsupport.ListFiles(t, e.cfg.Paths.BundleDir); len(files) != 0 {
		t.Fatalf("bundle written: %v", files)
	}
}

func TestBundleContainsCompletedItems(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Same")).AddSource(ref(2), testsupport.MuxedInfo("Same"))
	batchID, _, _ := e.mgr.CreateBatch([]string{ref(1), "broken", ref(2)}, "18")
	if _, err := e.mgr.ResolveBatch(context.Background(), batchID); err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if _, err := e.mgr.StartBatch(context.Background(), batchID, nil); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	e.mgr.Wait()

	artifact, err := e.mgr.OpenBatchBundle(context.Background(), batchID)
	if err != nil {
		t.Fatalf("OpenBatchBundle: %v", err)
	}
	data, err := io.ReadAll(artifact)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if err := artifact.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("zip reader: %v", err)
	}
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	if len(names) != 2 || names[0] != "Same.mp4" || names[1] != "Same (2).mp4" {
		t.Fatalf("entries = %v", names)
	}
	waitFor(t, "bundle removal", func() bool {
		return len(testsupport.ListFiles(t, e.cfg.Paths.BundleDir)) == 0
	})
	if view, _ := e.mgr.Batch(batchID); view.Counts.Completed != 2 {
		t.Fatalf("bundle delivery must not remove batch items: %+v", view.Counts)
	}
}

func TestOpenBatchItem(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Solo"))
	batchID, _, _ := e.mgr.CreateBatch([]string{ref(1)}, "18")
	resolved, _ := e.mgr.ResolveBatch(context.Background(), batchID)
	itemID := resolved.Items[0].ID

	if _, err := e.mgr.OpenBatchItem(batchID, itemID); !errors.Is(err, services.ErrNotReady) {
		t.Fatalf("expected ErrNotReady before start, got %v", err)
	}
	if _, err := e.mgr.StartBatch(context.Background(), batchID, nil); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	e.mgr.Wait()

	artifact, err := e.mgr.OpenBatchItem(batchID, itemID)
	if err != nil {
		t.Fatalf("OpenBatchItem: %v", err)
	}
	if _, err := io.Copy(io.Discard, artifact); err != nil {
		t.Fatalf("read: %v", err)
	}
	artifact.Close()
	if _, err := e.mgr.Job(itemID); err != nil {
		t.Fatalf("batch item removed after delivery: %v", err)
	}
	if _, err := e.mgr.OpenBatchItem("other", itemID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unknown batch, got %v", err)
	}
}

func TestJobEndpointsIgnoreBatchItems(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Member"))
	batchID, _, _ := e.mgr.CreateBatch([]string{ref(1)}, "18")
	resolved, err := e.mgr.ResolveBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	itemID := resolved.Items[0].ID
	if _, err := e.mgr.StartBatch(context.Background(), batchID, nil); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	e.mgr.Wait()

	if _, err := e.mgr.OpenJobOutput(itemID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound opening a batch item as a job, got %v", err)
	}
	if err := e.mgr.DeleteJob(itemID); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected ErrNotFound deleting a batch item as a job, got %v", err)
	}

	view, err := e.mgr.Batch(batchID)
	if err != nil {
		t.Fatalf("Batch: %v", err)
	}
	if view.Counts.Total != 1 || view.Counts.Completed != 1 {
		t.Fatalf("batch lost its item: %+v", view.Counts)
	}
	bundle, err := e.mgr.OpenBatchBundle(context.Background(), batchID)
	if err != nil {
		t.Fatalf("OpenBatchBundle: %v", err)
	}
	bundle.Close()
}

func TestDeleteBatchReleasesArtifacts(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("One"))
	batchID, _, _ := e.mgr.CreateBatch([]string{ref(1)}, "")
	if _, err := e.mgr.ResolveBatch(context.Background(), batchID); err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if _, err := e.mgr.StartBatch(context.Background(), batchID, nil); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	e.mgr.Wait()
	if files := testsupport.ListFiles(t, e.cfg.Paths.OutputDir); len(files) != 1 {
		t.Fatalf("expected one artifact, got %v", files)
	}

	if err := e.mgr.DeleteBatch(batchID); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}
	if files := testsupport.ListFiles(t, e.cfg.Paths.OutputDir); len(files) != 0 {
		t.Fatalf("artifacts not released: %v", files)
	}
	for _, call := range []func() error{
		func() error { return e.mgr.DeleteBatch(batchID) },
		func() error { _, err := e.mgr.Batch(batchID); return err },
		func() error { _, err := e.mgr.ResolveBatch(context.Background(), batchID); return err },
		func() error { _, err := e.mgr.StartBatch(context.Background(), batchID, nil); return err },
		func() error { _, err := e.mgr.OpenBatchBundle(context.Background(), batchID); return err },
	} {
		if err := call(); !errors.Is(err, services.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
}

func TestDeletingUnstartedBatchRecordsHistory(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("Never Started"))
	batchID, _, _ := e.mgr.CreateBatch([]string{ref(1)}, "")
	resolved, err := e.mgr.ResolveBatch(context.Background(), batchID)
	if err != nil {
		t.Fatalf("ResolveBatch: %v", err)
	}
	if err := e.mgr.DeleteBatch(batchID); err != nil {
		t.Fatalf("DeleteBatch: %v", err)
	}

	records, err := e.mgr.History(context.Background(), history.Filter{BatchID: batchID})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected one record, got %+v", records)
	}
	got := records[0]
	if got.ItemID != resolved.Items[0].ID || got.Stage != job.StageFailed || got.ErrorKind != services.KindCanceled {
		t.Fatalf("unexpected record %+v", got)
	}
}

func TestStatusCountsEntries(t *testing.T) {
	e := newEnv(t)
	e.provider.AddSource(ref(1), testsupport.MuxedInfo("One"))
	if _, _, err := e.mgr.CreateBatch([]string{ref(1), ref(2)}, ""); err != nil {
		t.Fatalf("CreateBatch: %v", err)
	}
	status := e.mgr.Status(context.Background())
	if !status.Running || status.Jobs != 2 || status.Batches != 1 {
		t.Fatalf("status = %+v", status)
	}
	if status.StageCounts[job.StagePending] != 2 {
		t.Fatalf("stage counts = %v", status.StageCounts)
	}
	if status.AdmissionLimit != e.cfg.Scheduler.MaxConcurrent || !status.HistoryEnabled {
		t.Fatalf("status = %+v", status)
	}
	for _, dir := range status.Directories {
		if !dir.Passed {
			t.Fatalf("directory check failed: %+v", dir)
		}
	}
}

func TestStopCancelsRunningJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	provider := testsupport.NewFakeProvider().AddSource(ref(1), testsupport.MuxedInfo("Clip")).BlockStreams()
	mgr := workflow.NewManager(cfg, provider, testsupport.NewFakeMuxer(), logging.NewNop())
	if err := mgr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	id, err := mgr.CreateJob(context.Background(), ref(1), "18")
	if err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	waitFor(t, "stream to open", func() bool { return provider.OpenCalls() > 0 })

	done := make(chan struct{})
	go func() { mgr.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
	snap, err := mgr.Job(id)
	if err != nil {
		t.Fatalf("Job: %v", err)
	}
	if snap.Stage != job.StageFailed || snap.ErrorKind != services.KindCanceled {
		t.Fatalf("snapshot after stop = %+v", snap)
	}
	if files := testsupport.ListFiles(t, cfg.Paths.WorkDir); len(files) != 0 {
		t.Fatalf("scratch files left behind: %v", files)
	}
	if _, err := mgr.History(context.Background(), history.Filter{}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected disabled history error, got %v", err)
	}
}
