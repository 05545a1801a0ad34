package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"tubemux/internal/archive"
	"tubemux/internal/fileutil"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/services"
	"tubemux/internal/source"
)

// CreateBatch registers one pending item per source reference. References
// are validated during resolution, not here.
func (m *Manager) CreateBatch(sourceRefs []string, defaultEncoding string) (string, int, error) {
	refs := make([]string, 0, len(sourceRefs))
	for _, ref := range sourceRefs {
		if ref = strings.TrimSpace(ref); ref != "" {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return "", 0, services.Wrap(services.ErrEmptyList, "workflow", "create batch", "no source references supplied", nil)
	}

	var preferred job.EncodingID
	if id := strings.TrimSpace(defaultEncoding); id != "" {
		preferred = job.SomeEncoding(id)
	}
	batch := job.NewBatch(nil, preferred, time.Now())
	items := make([]*job.Item, 0, len(refs))
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		item := job.NewItem(ref, job.WithBatch(batch.ID))
		items = append(items, item)
		ids = append(ids, item.ID())
	}
	batch.ItemIDs = ids
	m.registry.InsertBatch(batch, items...)
	m.registry.RefreshBatch(batch.ID)

	m.logger.Info("batch created",
		logging.String(logging.FieldBatchID, batch.ID),
		logging.String(logging.FieldEventType, "batch_created"),
		logging.Int("items", len(items)),
	)
	return batch.ID, len(items), nil
}

// ResolveBatch fetches source info for every pending item of the batch with
// at most max_concurrent provider calls in flight. Resolved items become
// ready with a default encoding; unresolvable ones fail.
func (m *Manager) ResolveBatch(ctx context.Context, batchID string) (ResolveResult, error) {
	batch, err := m.registry.GetBatch(batchID)
	if err != nil {
		return ResolveResult{}, err
	}
	ctx = services.WithBatchID(ctx, batchID)
	logger := logging.WithContext(ctx, m.logger)

	var pending []*job.Item
	for _, item := range m.registry.BatchItems(batch) {
		if item.Stage() != job.StagePending {
			continue
		}
		if err := item.BeginResolve(); err == nil {
			pending = append(pending, item)
		}
	}
	m.registry.RefreshBatch(batchID)

	slots := make(chan struct{}, max(m.cfg.Scheduler.MaxConcurrent, 1))
	var wg sync.WaitGroup
	for _, item := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()
			select {
			case slots <- struct{}{}:
			case <-ctx.Done():
				m.failResolution(logger, item, ctx.Err())
				return
			}
			defer func() { <-slots }()
			m.resolveItem(ctx, logger, batch, item)
		}()
	}
	wg.Wait()
	m.registry.RefreshBatch(batchID)

	result := ResolveResult{BatchID: batchID}
	for _, item := range m.registry.BatchItems(batch) {
		snap := item.Snapshot()
		switch snap.Stage {
		case job.StageReady:
			result.Ready++
		case job.StageFailed:
			result.Failed++
		}
		result.Items = append(result.Items, summarize(snap))
	}
	logger.Info("batch resolved",
		logging.String(logging.FieldEventType, "batch_resolved"),
		logging.Int("ready", result.Ready),
		logging.Int("failed", result.Failed),
	)
	return result, ctx.Err()
}

func (m *Manager) resolveItem(ctx context.Context, logger *slog.Logger, batch *job.Batch, item *job.Item) {
	if err := source.ValidateRef(item.SourceRef()); err != nil {
		m.failResolution(logger, item, err)
		return
	}
	info, err := m.resolve(ctx, item.SourceRef())
	if err != nil {
		m.failResolution(logger, item, err)
		return
	}
	enc, _ := info.DefaultEncoding(batch.DefaultEncoding)
	if err := item.MarkReady(info, enc.ID); err != nil {
		logger.Debug("item left resolution early", logging.String(logging.FieldItemID, item.ID()), logging.Error(err))
		return
	}
	m.registry.RefreshBatch(batch.ID)
}

func (m *Manager) failResolution(logger *slog.Logger, item *job.Item, err error) {
	if failErr := item.Fail(err); failErr != nil {
		return
	}
	m.registry.RefreshBatch(item.BatchID())
	logger.Warn("item resolution failed",
		logging.Args(append(logging.ErrorAttrs(err),
			logging.String(logging.FieldItemID, item.ID()),
			logging.String(logging.FieldEventType, "resolve_failed"),
		)...)...,
	)
	m.recordOutcome(item.Snapshot())
}

// StartBatch submits every ready item of the batch to the scheduler.
// overrides maps item ids to encoding ids; an override the source does not
// list fails that item instead of queuing it. Returns the queued count.
func (m *Manager) StartBatch(ctx context.Context, batchID string, overrides map[string]string) (int, error) {
	batch, err := m.registry.GetBatch(batchID)
	if err != nil {
		return 0, err
	}
	logger := logging.WithContext(services.WithBatchID(ctx, batchID), m.logger)

	var ready []*job.Item
	for _, item := range m.registry.BatchItems(batch) {
		if item.Stage() != job.StageReady {
			continue
		}
		if id := strings.TrimSpace(overrides[item.ID()]); id != "" {
			_, info := item.Resolution()
			if _, ok := info.Encoding(id); !ok {
				m.failResolution(logger, item, services.Wrap(services.ErrInvalidEncoding, "workflow", "start batch",
					fmt.Sprintf("encoding %q is not offered by the source", id), nil))
				continue
			}
			item.SelectEncoding(id)
		}
		ready = append(ready, item)
	}

	queued, err := m.scheduler.Submit(m.baseCtx, ready)
	if err != nil {
		logger.Warn("some items were not queued", logging.Error(err))
	}
	m.registry.RefreshBatch(batchID)
	logger.Info("batch started",
		logging.String(logging.FieldEventType, "batch_started"),
		logging.Int("queued", queued),
	)
	return queued, nil
}

// Batch returns the aggregate view of a batch.
func (m *Manager) Batch(batchID string) (BatchView, error) {
	batch, err := m.registry.GetBatch(batchID)
	if err != nil {
		return BatchView{}, err
	}
	items := m.registry.BatchItems(batch)
	snaps := make([]job.Snapshot, 0, len(items))
	view := BatchView{ID: batch.ID, Items: make([]ItemSummary, 0, len(items))}
	for _, item := range items {
		snap := item.Snapshot()
		snaps = append(snaps, snap)
		view.Items = append(view.Items, summarize(snap))
	}
	stages := job.Stages(snaps)
	view.Status = batch.Refresh(stages)
	view.Counts = job.CountStages(stages)
	view.Progress = job.BatchProgress(snaps)
	return view, nil
}

// OpenBatchBundle zips the artifacts of every completed item. The bundle is
// removed bundle_grace after it has been read in full, or immediately when
// the caller stops early.
func (m *Manager) OpenBatchBundle(ctx context.Context, batchID string) (*Artifact, error) {
	batch, err := m.registry.GetBatch(batchID)
	if err != nil {
		return nil, err
	}
	items := m.registry.BatchItems(batch)
	snaps := make([]job.Snapshot, 0, len(items))
	for _, item := range items {
		snap := item.Snapshot()
		if snap.Stage == job.StageCompleted && !fileutil.Exists(snap.OutputPath) {
			continue
		}
		snaps = append(snaps, snap)
	}

	path, err := m.archiver.Create(ctx, m.cfg.Paths.BundleDir, archive.EntriesFor(snaps))
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.bundles[path] = struct{}{}
	m.mu.Unlock()

	reader, err := fileutil.OpenWithCallback(path, func(complete bool) {
		if !complete {
			m.removeBundle(path)
			return
		}
		m.registry.Schedule("bundle:"+path, m.cfg.BundleGrace(), func() { m.removeBundle(path) })
	})
	if err != nil {
		m.removeBundle(path)
		return nil, services.Wrap(services.ErrArtifactMissing, "workflow", "open bundle", "open archive", err)
	}
	return &Artifact{OnCloseReader: reader, FileName: "batch-" + batchID + ".zip"}, nil
}

func (m *Manager) removeBundle(path string) {
	m.mu.Lock()
	delete(m.bundles, path)
	m.mu.Unlock()
	if err := fileutil.RemoveIfExists(path); err != nil {
		m.logger.Warn("bundle cleanup failed", logging.String("path", path), logging.Error(err))
	}
}

// OpenBatchItem opens the artifact of one batch item. Batch artifacts stay
// available until the batch is deleted or expires.
func (m *Manager) OpenBatchItem(batchID, itemID string) (*Artifact, error) {
	if _, err := m.registry.GetBatch(batchID); err != nil {
		return nil, err
	}
	item, err := m.registry.Get(itemID)
	if err != nil {
		return nil, err
	}
	if item.BatchID() != batchID {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "open batch item",
			fmt.Sprintf("item %q is not part of batch %q", itemID, batchID), nil)
	}
	return m.openArtifact(item, nil)
}

// DeleteBatch cancels outstanding work and releases every artifact of the
// batch immediately.
func (m *Manager) DeleteBatch(batchID string) error {
	if err := m.registry.DeleteBatch(batchID); err != nil {
		return err
	}
	m.logger.Info("batch deleted",
		logging.String(logging.FieldBatchID, batchID),
		logging.String(logging.FieldEventType, "batch_deleted"),
	)
	return nil
}
