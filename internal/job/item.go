package job

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"tubemux/internal/services"
)

// MaxActiveProgress caps progress for items that have not completed, so 100
// is only ever observed together with StageCompleted.
const MaxActiveProgress = 99.9

// ErrInvalidTransition reports a stage change the lifecycle does not allow.
var ErrInvalidTransition = errors.New("invalid stage transition")

// Item is one download and merge task. The zero value is not usable; build
// items with NewItem.
type Item struct {
	id        string
	sourceRef string
	batchID   string
	createdAt time.Time

	mu          sync.RWMutex
	encoding    EncodingID
	info        *SourceInfo
	stage       Stage
	progress    float64
	errorKind   services.ErrorKind
	errorDetail string
	outputPath  string
	attempts    int
	updatedAt   time.Time
	finishedAt  time.Time
	now         func() time.Time
}

// Snapshot is an immutable copy of an item's observable state.
type Snapshot struct {
	ID          string             `json:"id"`
	SourceRef   string             `json:"source_ref"`
	BatchID     string             `json:"batch_id,omitempty"`
	Encoding    EncodingID         `json:"-"`
	Info        *SourceInfo        `json:"info,omitempty"`
	Stage       Stage              `json:"stage"`
	Progress    float64            `json:"progress"`
	ErrorKind   services.ErrorKind `json:"error_kind,omitempty"`
	ErrorDetail string             `json:"error_detail,omitempty"`
	OutputPath  string             `json:"-"`
	Attempts    int                `json:"attempts"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	FinishedAt  time.Time          `json:"finished_at,omitzero"`
}

// Title returns the resolved title, or "" before resolution.
func (s Snapshot) Title() string {
	if s.Info == nil {
		return ""
	}
	return s.Info.Title
}

// ItemOption customizes NewItem.
type ItemOption func(*Item)

// WithBatch records the owning batch.
func WithBatch(batchID string) ItemOption {
	return func(i *Item) { i.batchID = batchID }
}

// WithEncoding preselects an encoding.
func WithEncoding(id EncodingID) ItemOption {
	return func(i *Item) { i.encoding = id }
}

// WithClock overrides the time source, mainly for expiry tests.
func WithClock(now func() time.Time) ItemOption {
	return func(i *Item) {
		if now != nil {
			i.now = now
		}
	}
}

// NewItem creates a pending item with a fresh id.
func NewItem(sourceRef string, opts ...ItemOption) *Item {
	item := &Item{
		id:        uuid.NewString(),
		sourceRef: sourceRef,
		stage:     StagePending,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(item)
	}
	item.createdAt = item.now()
	item.updatedAt = item.createdAt
	return item
}

func (i *Item) ID() string           { return i.id }
func (i *Item) SourceRef() string    { return i.sourceRef }
func (i *Item) BatchID() string      { return i.batchID }
func (i *Item) CreatedAt() time.Time { return i.createdAt }

// Snapshot returns a consistent copy of the item.
func (i *Item) Snapshot() Snapshot {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return Snapshot{
		ID:          i.id,
		SourceRef:   i.sourceRef,
		BatchID:     i.batchID,
		Encoding:    i.encoding,
		Info:        i.info.Clone(),
		Stage:       i.stage,
		Progress:    i.progress,
		ErrorKind:   i.errorKind,
		ErrorDetail: i.errorDetail,
		OutputPath:  i.outputPath,
		Attempts:    i.attempts,
		CreatedAt:   i.createdAt,
		UpdatedAt:   i.updatedAt,
		FinishedAt:  i.finishedAt,
	}
}

// Stage returns the current stage.
func (i *Item) Stage() Stage {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.stage
}

// Progress returns the current global progress.
func (i *Item) Progress() float64 {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.progress
}

// Attempts returns how many executor attempts have started.
func (i *Item) Attempts() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.attempts
}

// OutputPath returns the finished artifact path, or "" unless completed.
func (i *Item) OutputPath() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.outputPath
}

// Resolution returns the selected encoding and resolved info.
func (i *Item) Resolution() (EncodingID, *SourceInfo) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.encoding, i.info.Clone()
}

func (i *Item) transitionLocked(next Stage) error {
	if !i.stage.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, i.stage, next)
	}
	i.stage = next
	i.updatedAt = i.now()
	return nil
}

// BeginResolve moves a pending item into info resolution.
func (i *Item) BeginResolve() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transitionLocked(StageFetchingInfo)
}

// SetResolved records resolved info and the selected encoding, leaving the
// stage untouched. Standalone jobs resolve synchronously and never pass
// through StageReady.
func (i *Item) SetResolved(info *SourceInfo, encoding string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.info = info.Clone()
	i.encoding = SomeEncoding(encoding)
	i.updatedAt = i.now()
}

// MarkReady records resolution results and moves the item to StageReady.
func (i *Item) MarkReady(info *SourceInfo, encoding string) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StageReady); err != nil {
		return err
	}
	i.info = info.Clone()
	i.encoding = SomeEncoding(encoding)
	return nil
}

// SelectEncoding overrides the chosen encoding before download starts.
func (i *Item) SelectEncoding(id string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.encoding = SomeEncoding(id)
	i.updatedAt = i.now()
}

// Queue marks the item as waiting for admission. A retried item has its
// progress reset and its previous error cleared.
func (i *Item) Queue() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StageQueued); err != nil {
		return err
	}
	i.progress = 0
	i.errorKind = ""
	i.errorDetail = ""
	return nil
}

// BeginAttempt moves the item into StageDownloading for a new attempt and
// returns the attempt number.
func (i *Item) BeginAttempt() (int, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StageDownloading); err != nil {
		return 0, err
	}
	i.attempts++
	i.progress = 0
	return i.attempts, nil
}

// BeginMerge moves a downloading item into StageMerging.
func (i *Item) BeginMerge() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.transitionLocked(StageMerging)
}

// SetProgress raises progress; lower values and writes to terminal items are
// ignored. Values are capped at MaxActiveProgress.
func (i *Item) SetProgress(value float64) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.stage.IsTerminal() {
		return false
	}
	value = min(max(value, 0), MaxActiveProgress)
	if value <= i.progress {
		return false
	}
	i.progress = value
	i.updatedAt = i.now()
	return true
}

// Complete marks the item completed with its artifact path in one step.
func (i *Item) Complete(outputPath string) error {
	if outputPath == "" {
		return errors.New("complete: output path required")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StageCompleted); err != nil {
		return err
	}
	i.progress = 100
	i.outputPath = outputPath
	i.errorKind = ""
	i.errorDetail = ""
	i.finishedAt = i.updatedAt
	return nil
}

// Fail marks the item failed with a short cause derived from err.
func (i *Item) Fail(err error) error {
	if err == nil {
		err = errors.New("failed without error detail")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := i.transitionLocked(StageFailed); err != nil {
		return err
	}
	i.errorKind = services.KindOf(err)
	i.errorDetail = services.Summary(err)
	i.outputPath = ""
	i.finishedAt = i.updatedAt
	return nil
}

// ReleaseOutput clears and returns the artifact path so cleanup happens once.
func (i *Item) ReleaseOutput() string {
	i.mu.Lock()
	defer i.mu.Unlock()
	path := i.outputPath
	i.outputPath = ""
	return path
}
