package api

import (
	"time"

	"tubemux/internal/deps"
	"tubemux/internal/history"
	"tubemux/internal/job"
	"tubemux/internal/workflow"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// CreateJobRequest starts a standalone job.
type CreateJobRequest struct {
	SourceRef string `json:"source_ref"`
	Encoding  string `json:"encoding,omitempty"`
}

// CreateJobResponse returns the new job id.
type CreateJobResponse struct {
	ID string `json:"id"`
}

// Job is the polling view of a job or batch item.
type Job struct {
	ID          string     `json:"id"`
	SourceRef   string     `json:"source_ref"`
	BatchID     string     `json:"batch_id,omitempty"`
	Title       string     `json:"title,omitempty"`
	Encoding    string     `json:"encoding,omitempty"`
	Stage       string     `json:"stage"`
	Progress    float64    `json:"progress"`
	ErrorKind   string     `json:"error_kind,omitempty"`
	ErrorDetail string     `json:"error_detail,omitempty"`
	Attempts    int        `json:"attempts"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// FromSnapshot converts an item snapshot to its transport form.
func FromSnapshot(s job.Snapshot) Job {
	out := Job{
		ID:          s.ID,
		SourceRef:   s.SourceRef,
		BatchID:     s.BatchID,
		Title:       s.Title(),
		Stage:       string(s.Stage),
		Progress:    s.Progress,
		ErrorKind:   string(s.ErrorKind),
		ErrorDetail: s.ErrorDetail,
		Attempts:    s.Attempts,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
	if s.Encoding.Set {
		out.Encoding = s.Encoding.Value
	}
	if !s.FinishedAt.IsZero() {
		finished := s.FinishedAt
		out.FinishedAt = &finished
	}
	return out
}

// CreateBatchRequest registers a batch of source references.
type CreateBatchRequest struct {
	SourceRefs      []string `json:"source_refs"`
	DefaultEncoding string   `json:"default_encoding,omitempty"`
}

// CreateBatchResponse returns the new batch id and its size.
type CreateBatchResponse struct {
	ID    string `json:"id"`
	Items int    `json:"items"`
}

// ResolveBatchResponse summarizes the info-resolution phase.
type ResolveBatchResponse = workflow.ResolveResult

// StartBatchRequest optionally overrides encodings per item id.
type StartBatchRequest struct {
	Overrides map[string]string `json:"overrides,omitempty"`
}

// StartBatchResponse reports how many items were queued.
type StartBatchResponse struct {
	Queued int `json:"queued"`
}

// BatchResponse is the aggregate batch view.
type BatchResponse = workflow.BatchView

// DaemonStatus reports daemon runtime information.
type DaemonStatus struct {
	Running      bool                   `json:"running"`
	PID          int                    `json:"pid"`
	LockFilePath string                 `json:"lock_file_path"`
	HistoryPath  string                 `json:"history_path,omitempty"`
	Workflow     workflow.StatusSummary `json:"workflow"`
	Dependencies []deps.Status          `json:"dependencies"`
}

// HistoryResponse lists recorded outcomes.
type HistoryResponse struct {
	Records []history.Record `json:"records"`
}

// ClearHistoryResponse reports how many outcomes were deleted.
type ClearHistoryResponse struct {
	Removed int64 `json:"removed"`
}
