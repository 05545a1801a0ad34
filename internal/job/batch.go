package job

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the aggregate state of a batch, derived from its items.
type BatchStatus string

const (
	BatchCreated      BatchStatus = "created"
	BatchFetchingInfo BatchStatus = "fetching_info"
	BatchReady        BatchStatus = "ready"
	BatchDownloading  BatchStatus = "downloading"
	BatchCompleted    BatchStatus = "completed"
	BatchFailed       BatchStatus = "failed"
)

// Batch is an ordered collection of item ids. Item order is insertion order
// and drives archive naming, not execution order.
type Batch struct {
	ID              string
	ItemIDs         []string
	CreatedAt       time.Time
	DefaultEncoding EncodingID

	mu     sync.Mutex
	status BatchStatus
}

// NewBatch creates a batch over the given item ids.
func NewBatch(itemIDs []string, defaultEncoding EncodingID, createdAt time.Time) *Batch {
	return &Batch{
		ID:              uuid.NewString(),
		ItemIDs:         append([]string(nil), itemIDs...),
		CreatedAt:       createdAt,
		DefaultEncoding: defaultEncoding,
		status:          BatchCreated,
	}
}

// CachedStatus returns the status computed at the last item transition.
func (b *Batch) CachedStatus() BatchStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.status
}

// Refresh recomputes and caches the status from the given member stages.
func (b *Batch) Refresh(stages []Stage) BatchStatus {
	status := DeriveBatchStatus(stages)
	b.mu.Lock()
	b.status = status
	b.mu.Unlock()
	return status
}

// DeriveBatchStatus computes the aggregate status; the first matching rule wins.
func DeriveBatchStatus(stages []Stage) BatchStatus {
	if len(stages) == 0 {
		return BatchCreated
	}
	var fetching, active, failed, terminal, ready bool
	failedCount, terminalCount := 0, 0
	for _, stage := range stages {
		switch stage {
		case StageFetchingInfo:
			fetching = true
		case StageQueued, StageDownloading, StageMerging:
			active = true
		case StageFailed:
			failedCount++
			terminalCount++
		case StageCompleted:
			terminalCount++
		case StageReady:
			ready = true
		}
	}
	failed = failedCount == len(stages)
	terminal = terminalCount == len(stages)
	switch {
	case fetching:
		return BatchFetchingInfo
	case active:
		return BatchDownloading
	case failed:
		return BatchFailed
	case terminal:
		return BatchCompleted
	case ready:
		return BatchReady
	default:
		return BatchCreated
	}
}

// Counts summarizes member stages. Pending covers every non-terminal item,
// so Completed+Failed+Pending always equals Total.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Ready     int `json:"ready"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// CountStages recomputes counts by scanning the stages.
func CountStages(stages []Stage) Counts {
	counts := Counts{Total: len(stages)}
	for _, stage := range stages {
		switch {
		case stage == StageCompleted:
			counts.Completed++
		case stage == StageFailed:
			counts.Failed++
		default:
			counts.Pending++
			if stage == StageReady {
				counts.Ready++
			}
			if stage.IsActive() {
				counts.Active++
			}
		}
	}
	return counts
}

// BatchProgress is the mean progress of non-failed items, or 0 when none.
func BatchProgress(items []Snapshot) float64 {
	var (
		sum   float64
		count int
	)
	for _, item := range items {
		if item.Stage == StageFailed {
			continue
		}
		sum += item.Progress
		count++
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// Stages extracts the stage of every snapshot, preserving order.
func Stages(items []Snapshot) []Stage {
	stages := make([]Stage, len(items))
	for idx, item := range items {
		stages[idx] = item.Stage
	}
	return stages
}
