package job_test

import (
	"testing"

	"tubemux/internal/job"
)

func TestDeriveBatchStatus(t *testing.T) {
	tests := []struct {
		name   string
		stages []job.Stage
		want   job.BatchStatus
	}{
		{"empty", nil, job.BatchCreated},
		{"all pending", []job.Stage{job.StagePending, job.StagePending}, job.BatchCreated},
		{"fetching wins over active", []job.Stage{job.StageFetchingInfo, job.StageDownloading}, job.BatchFetchingInfo},
		{"queued counts as downloading", []job.Stage{job.StageQueued, job.StageCompleted}, job.BatchDownloading},
		{"merging counts as downloading", []job.Stage{job.StageMerging, job.StageFailed}, job.BatchDownloading},
		{"all failed", []job.Stage{job.StageFailed, job.StageFailed}, job.BatchFailed},
		{"mixed terminal", []job.Stage{job.StageCompleted, job.StageFailed}, job.BatchCompleted},
		{"ready with failures", []job.Stage{job.StageReady, job.StageFailed, job.StageReady}, job.BatchReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := job.DeriveBatchStatus(tt.stages); got != tt.want {
				t.Fatalf("DeriveBatchStatus = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCountStagesSumsToTotal(t *testing.T) {
	stages := []job.Stage{job.StageReady, job.StageQueued, job.StageDownloading, job.StageCompleted, job.StageFailed}
	counts := job.CountStages(stages)
	if counts.Completed+counts.Failed+counts.Pending != counts.Total {
		t.Fatalf("counts do not sum: %+v", counts)
	}
	if counts.Ready != 1 || counts.Active != 2 {
		t.Fatalf("unexpected breakdown %+v", counts)
	}
}

func TestBatchProgressIgnoresFailed(t *testing.T) {
	items := []job.Snapshot{
		{Stage: job.StageCompleted, Progress: 100},
		{Stage: job.StageDownloading, Progress: 50},
		{Stage: job.StageFailed, Progress: 12},
	}
	if got := job.BatchProgress(items); got != 75 {
		t.Fatalf("expected 75, got %v", got)
	}
	if got := job.BatchProgress([]job.Snapshot{{Stage: job.StageFailed}}); got != 0 {
		t.Fatalf("expected 0 with no eligible items, got %v", got)
	}
}

func TestBatchRefreshCaches(t *testing.T) {
	batch := job.NewBatch([]string{"a", "b"}, job.EncodingID{}, testTime)
	if batch.CachedStatus() != job.BatchCreated {
		t.Fatalf("unexpected initial status %q", batch.CachedStatus())
	}
	batch.Refresh([]job.Stage{job.StageReady, job.StageReady})
	if batch.CachedStatus() != job.BatchReady {
		t.Fatalf("expected cached ready, got %q", batch.CachedStatus())
	}
}
