package workflow

import (
	"tubemux/internal/job"
	"tubemux/internal/preflight"
)

// ItemSummary is the per-item view included in batch responses.
type ItemSummary struct {
	ID          string    `json:"id"`
	SourceRef   string    `json:"source_ref"`
	Title       string    `json:"title,omitempty"`
	Encoding    string    `json:"encoding,omitempty"`
	Stage       job.Stage `json:"stage"`
	Progress    float64   `json:"progress"`
	ErrorKind   string    `json:"error_kind,omitempty"`
	ErrorDetail string    `json:"error_detail,omitempty"`
	Attempts    int       `json:"attempts"`
}

// BatchView is the aggregate state of a batch.
type BatchView struct {
	ID       string          `json:"id"`
	Status   job.BatchStatus `json:"status"`
	Progress float64         `json:"progress"`
	Counts   job.Counts      `json:"counts"`
	Items    []ItemSummary   `json:"items"`
}

// ResolveResult reports the outcome of the info-resolution phase.
type ResolveResult struct {
	BatchID string        `json:"batch_id"`
	Ready   int           `json:"ready"`
	Failed  int           `json:"failed"`
	Items   []ItemSummary `json:"items"`
}

// StatusSummary represents lightweight daemon diagnostics.
type StatusSummary struct {
	Running         bool               `json:"running"`
	Jobs            int                `json:"jobs"`
	Batches         int                `json:"batches"`
	ActiveItems     int                `json:"active_items"`
	AdmittedBatch   int                `json:"admitted_batch_items"`
	AdmissionLimit  int                `json:"admission_limit"`
	StageCounts     map[job.Stage]int  `json:"stage_counts"`
	Directories     []preflight.Result `json:"directories"`
	HistoryEnabled  bool               `json:"history_enabled"`
	HistoryFailures int64              `json:"history_failures,omitempty"`
}

func summarize(snap job.Snapshot) ItemSummary {
	summary := ItemSummary{
		ID:          snap.ID,
		SourceRef:   snap.SourceRef,
		Title:       snap.Title(),
		Stage:       snap.Stage,
		Progress:    snap.Progress,
		ErrorKind:   string(snap.ErrorKind),
		ErrorDetail: snap.ErrorDetail,
		Attempts:    snap.Attempts,
	}
	if snap.Encoding.Set {
		summary.Encoding = snap.Encoding.Value
	}
	return summary
}
