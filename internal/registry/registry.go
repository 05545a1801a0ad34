package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"tubemux/internal/fileutil"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/services"
)

// Options configures retention and cancellation behaviour.
type Options struct {
	WorkDir       string
	JobExpiry     time.Duration
	BatchExpiry   time.Duration
	SweepInterval time.Duration
	CancelWait    time.Duration
	Now           func() time.Time
}

// ErrAlreadyAttached is returned when an item already has a running executor.
var ErrAlreadyAttached = errors.New("item already has an active executor")

type entry struct {
	item   *job.Item
	cancel context.CancelFunc
	done   chan struct{}
}

// Registry is a concurrency-safe store of items and batches.
type Registry struct {
	opts   Options
	logger *slog.Logger

	mu      sync.RWMutex
	items   map[string]*entry
	batches map[string]*job.Batch
	timers  map[string]*time.Timer
	closed  bool

	removed func(job.Snapshot)
}

// New constructs an empty registry.
func New(opts Options, logger *slog.Logger) *Registry {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		opts:    opts,
		logger:  logging.NewComponentLogger(logger, "registry"),
		items:   make(map[string]*entry),
		batches: make(map[string]*job.Batch),
		timers:  make(map[string]*time.Timer),
	}
}

// OnRemove registers a callback invoked with the final snapshot of every
// deleted item. It must be set before the registry is shared.
func (r *Registry) OnRemove(fn func(job.Snapshot)) {
	r.removed = fn
}

// Insert adds a standalone or batch item.
func (r *Registry) Insert(item *job.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[item.ID()] = &entry{item: item}
}

// Get returns the item with id.
func (r *Registry) Get(id string) (*job.Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.items[id]
	if !ok {
		return nil, notFound("item", id)
	}
	return e.item, nil
}

// Items returns every item ordered by creation time.
func (r *Registry) Items() []*job.Item {
	r.mu.RLock()
	items := make([]*job.Item, 0, len(r.items))
	for _, e := range r.items {
		items = append(items, e.item)
	}
	r.mu.RUnlock()
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt().Equal(items[j].CreatedAt()) {
			return items[i].ID() < items[j].ID()
		}
		return items[i].CreatedAt().Before(items[j].CreatedAt())
	})
	return items
}

// InsertBatch adds a batch together with its items.
func (r *Registry) InsertBatch(batch *job.Batch, items ...*job.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, item := range items {
		r.items[item.ID()] = &entry{item: item}
	}
	r.batches[batch.ID] = batch
}

// GetBatch returns the batch with id.
func (r *Registry) GetBatch(id string) (*job.Batch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	batch, ok := r.batches[id]
	if !ok {
		return nil, notFound("batch", id)
	}
	return batch, nil
}

// Batches returns every batch ordered by creation time.
func (r *Registry) Batches() []*job.Batch {
	r.mu.RLock()
	batches := make([]*job.Batch, 0, len(r.batches))
	for _, b := range r.batches {
		batches = append(batches, b)
	}
	r.mu.RUnlock()
	sort.SliceStable(batches, func(i, j int) bool {
		return batches[i].CreatedAt.Before(batches[j].CreatedAt)
	})
	return batches
}

// BatchItems returns the batch's items in submission order, skipping any
// that were removed.
func (r *Registry) BatchItems(batch *job.Batch) []*job.Item {
	r.mu.RLock()
	defer r.mu.RUnlock()
	items := make([]*job.Item, 0, len(batch.ItemIDs))
	for _, id := range batch.ItemIDs {
		if e, ok := r.items[id]; ok {
			items = append(items, e.item)
		}
	}
	return items
}

// RefreshBatch recomputes and caches the status of batchID. Unknown batches
// are ignored so late executor transitions after deletion are harmless.
func (r *Registry) RefreshBatch(batchID string) job.BatchStatus {
	if batchID == "" {
		return ""
	}
	batch, err := r.GetBatch(batchID)
	if err != nil {
		return ""
	}
	items := r.BatchItems(batch)
	stages := make([]job.Stage, 0, len(items))
	for _, item := range items {
		stages = append(stages, item.Stage())
	}
	return batch.Refresh(stages)
}

// Attach registers the cancel func of a running executor for id. The returned
// func must be called when the executor exits.
func (r *Registry) Attach(id string, cancel context.CancelFunc) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.items[id]
	if !ok {
		return nil, notFound("item", id)
	}
	if e.done != nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyAttached, id)
	}
	done := make(chan struct{})
	e.cancel = cancel
	e.done = done
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if e.done == done {
				e.cancel = nil
				e.done = nil
			}
			r.mu.Unlock()
			close(done)
		})
	}, nil
}

// Active reports the number of items with an attached executor.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.items {
		if e.done != nil {
			n++
		}
	}
	return n
}

// Counts reports the number of items and batches held.
func (r *Registry) Counts() (items, batches int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items), len(r.batches)
}

// Delete removes an item, cancelling its executor and releasing its files.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	e, ok := r.items[id]
	if !ok {
		r.mu.Unlock()
		return notFound("item", id)
	}
	delete(r.items, id)
	r.stopTimerLocked(id)
	cancel, done := e.cancel, e.done
	r.mu.Unlock()

	r.release(e.item, cancel, done)
	return nil
}

// DeleteBatch removes a batch and every item it still holds.
func (r *Registry) DeleteBatch(id string) error {
	r.mu.Lock()
	batch, ok := r.batches[id]
	if !ok {
		r.mu.Unlock()
		return notFound("batch", id)
	}
	delete(r.batches, id)
	r.stopTimerLocked(id)
	var victims []*entry
	for _, itemID := range batch.ItemIDs {
		if e, ok := r.items[itemID]; ok {
			delete(r.items, itemID)
			r.stopTimerLocked(itemID)
			victims = append(victims, e)
		}
	}
	r.mu.Unlock()

	for _, e := range victims {
		if e.cancel != nil {
			e.cancel()
		}
	}
	for _, e := range victims {
		r.release(e.item, nil, e.done)
	}
	return nil
}

func (r *Registry) release(item *job.Item, cancel context.CancelFunc, done chan struct{}) {
	logger := r.logger.With(logging.String(logging.FieldItemID, item.ID()))
	if cancel != nil {
		cancel()
	}
	if done != nil && r.opts.CancelWait > 0 {
		timer := time.NewTimer(r.opts.CancelWait)
		select {
		case <-done:
		case <-timer.C:
			logger.Warn("executor did not exit before cancel wait elapsed",
				logging.Duration("cancel_wait", r.opts.CancelWait),
				logging.String(logging.FieldErrorHint, "scratch files are removed regardless; the executor exits on its next read"),
			)
		}
		timer.Stop()
	}

	paths := []string{item.ReleaseOutput()}
	if r.opts.WorkDir != "" {
		scratch, err := filepath.Glob(filepath.Join(r.opts.WorkDir, item.ID()+".*"))
		if err == nil {
			paths = append(paths, scratch...)
		}
	}
	if err := fileutil.RemoveAll(paths...); err != nil {
		logger.Warn("release files incomplete", logging.Error(err))
	}
	logger.Debug("item removed", logging.String(logging.FieldEventType, "item_removed"))
	if r.removed != nil {
		r.removed(item.Snapshot())
	}
}

// ScheduleDelete deletes id after the delay. Rescheduling replaces the
// previous timer.
func (r *Registry) ScheduleDelete(id string, after time.Duration) {
	r.Schedule(id, after, func() {
		if err := r.Delete(id); err != nil && !errors.Is(err, services.ErrNotFound) {
			r.logger.Warn("scheduled delete failed", logging.String(logging.FieldItemID, id), logging.Error(err))
		}
	})
}

// Schedule runs fn once after the delay under key. Timers are dropped when
// the keyed entry is deleted or the registry closes.
func (r *Registry) Schedule(key string, after time.Duration, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.stopTimerLocked(key)
	var timer *time.Timer
	timer = time.AfterFunc(after, func() {
		r.mu.Lock()
		if r.timers[key] == timer {
			delete(r.timers, key)
		}
		r.mu.Unlock()
		fn()
	})
	r.timers[key] = timer
}

func (r *Registry) stopTimerLocked(key string) {
	if timer, ok := r.timers[key]; ok {
		timer.Stop()
		delete(r.timers, key)
	}
}

// Sweep deletes standalone items older than the job expiry and batches
// older than the batch expiry. Entries with work in flight are kept until a
// later sweep finds them idle. It returns how many of each were removed.
func (r *Registry) Sweep(now time.Time) (items, batches int) {
	var itemIDs, batchIDs []string
	r.mu.RLock()
	for id, e := range r.items {
		if e.item.BatchID() != "" || r.opts.JobExpiry <= 0 || now.Sub(e.item.CreatedAt()) <= r.opts.JobExpiry {
			continue
		}
		if !busy(e) {
			itemIDs = append(itemIDs, id)
		}
	}
	for id, b := range r.batches {
		if r.opts.BatchExpiry <= 0 || now.Sub(b.CreatedAt) <= r.opts.BatchExpiry {
			continue
		}
		if !r.batchBusyLocked(b) {
			batchIDs = append(batchIDs, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range itemIDs {
		if r.Delete(id) == nil {
			items++
		}
	}
	for _, id := range batchIDs {
		if r.DeleteBatch(id) == nil {
			batches++
		}
	}
	if items > 0 || batches > 0 {
		r.logger.Info("expired entries swept",
			logging.String(logging.FieldEventType, "sweep"),
			logging.Int("items", items),
			logging.Int("batches", batches),
		)
	}
	return items, batches
}

// busy reports whether an executor owns the item or it waits for one.
func busy(e *entry) bool {
	if e.done != nil {
		return true
	}
	stage := e.item.Stage()
	return stage.IsActive() || stage == job.StageFetchingInfo
}

func (r *Registry) batchBusyLocked(b *job.Batch) bool {
	for _, id := range b.ItemIDs {
		if e, ok := r.items[id]; ok && busy(e) {
			return true
		}
	}
	return false
}

// Run sweeps on every interval tick until ctx ends.
func (r *Registry) Run(ctx context.Context) {
	interval := r.opts.SweepInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.opts.Now())
		}
	}
}

// Close stops pending timers and cancels every running executor.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	for key, timer := range r.timers {
		timer.Stop()
		delete(r.timers, key)
	}
	for _, e := range r.items {
		if e.cancel != nil {
			e.cancel()
		}
	}
	r.mu.Unlock()
}

func notFound(kind, id string) error {
	return services.Wrap(services.ErrNotFound, "registry", "lookup", fmt.Sprintf("%s %q not found", kind, id), nil)
}
