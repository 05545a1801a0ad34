package workflow

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"tubemux/internal/archive"
	"tubemux/internal/fileutil"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/services"
	"tubemux/internal/source"
)

// Artifact is a finished file opened for delivery.
type Artifact struct {
	*fileutil.OnCloseReader
	// FileName is the suggested download name.
	FileName string
}

// CreateJob resolves sourceRef, validates encodingID against the listed
// encodings, and starts a standalone download. An empty encodingID selects
// the default encoding.
func (m *Manager) CreateJob(ctx context.Context, sourceRef, encodingID string) (string, error) {
	sourceRef = strings.TrimSpace(sourceRef)
	if err := source.ValidateRef(sourceRef); err != nil {
		return "", err
	}
	info, err := m.resolve(ctx, sourceRef)
	if err != nil {
		return "", err
	}

	encodingID = strings.TrimSpace(encodingID)
	if encodingID == "" {
		enc, ok := info.DefaultEncoding(job.EncodingID{})
		if !ok {
			return "", services.Wrap(services.ErrInvalidEncoding, "workflow", "create job", "source lists no encodings", nil)
		}
		encodingID = enc.ID
	} else if _, ok := info.Encoding(encodingID); !ok {
		return "", services.Wrap(services.ErrInvalidEncoding, "workflow", "create job", fmt.Sprintf("encoding %q is not offered by the source", encodingID), nil)
	}

	item := job.NewItem(sourceRef)
	item.SetResolved(info, encodingID)
	m.registry.Insert(item)

	runCtx, cancel := context.WithCancel(m.baseCtx)
	finish, err := m.registry.Attach(item.ID(), cancel)
	if err != nil {
		cancel()
		return "", err
	}
	m.jobs.Add(1)
	go m.runJob(runCtx, cancel, finish, item)

	m.logger.Info("job created",
		logging.String(logging.FieldItemID, item.ID()),
		logging.String(logging.FieldEventType, "job_created"),
		logging.String("title", info.Title),
		logging.String("encoding", encodingID),
	)
	return item.ID(), nil
}

func (m *Manager) runJob(ctx context.Context, cancel context.CancelFunc, finish func(), item *job.Item) {
	defer m.jobs.Done()
	defer finish()
	defer cancel()

	err := m.executor.Run(ctx, item)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		if failErr := item.Fail(err); failErr != nil {
			m.logger.Debug("job already terminal", logging.String(logging.FieldItemID, item.ID()), logging.Error(failErr))
			return
		}
		m.logger.Warn("job failed",
			logging.Args(append(logging.ErrorAttrs(err),
				logging.String(logging.FieldItemID, item.ID()),
				logging.String(logging.FieldEventType, "job_failed"),
			)...)...,
		)
	}
	m.recordOutcome(item.Snapshot())
}

// Job returns the current snapshot of a standalone job or batch item.
func (m *Manager) Job(id string) (job.Snapshot, error) {
	item, err := m.registry.Get(id)
	if err != nil {
		return job.Snapshot{}, err
	}
	return item.Snapshot(), nil
}

// OpenJobOutput opens a completed job's artifact. Once the caller has read
// it to the end and closed it, the job is deleted after the delivery grace.
func (m *Manager) OpenJobOutput(id string) (*Artifact, error) {
	item, err := m.standalone(id)
	if err != nil {
		return nil, err
	}
	return m.openArtifact(item, func(complete bool) {
		if complete {
			m.registry.ScheduleDelete(id, m.cfg.DeliveryGrace())
		}
	})
}

// DeleteJob cancels a job if it is running and releases its files. Batch
// items are only removed together with their batch.
func (m *Manager) DeleteJob(id string) error {
	if _, err := m.standalone(id); err != nil {
		return err
	}
	return m.registry.Delete(id)
}

// standalone looks up id and hides batch items, which the job endpoints must
// not deliver or delete.
func (m *Manager) standalone(id string) (*job.Item, error) {
	item, err := m.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if item.BatchID() != "" {
		return nil, services.Wrap(services.ErrNotFound, "workflow", "lookup job",
			fmt.Sprintf("%s belongs to batch %s; use the batch endpoints", id, item.BatchID()), nil)
	}
	return item, nil
}

func (m *Manager) openArtifact(item *job.Item, onClosed func(complete bool)) (*Artifact, error) {
	snap := item.Snapshot()
	switch snap.Stage {
	case job.StageCompleted:
	case job.StageFailed:
		return nil, services.Wrap(services.ErrAlreadyFailed, "workflow", "open output", snap.ErrorDetail, nil)
	default:
		return nil, services.Wrap(services.ErrNotReady, "workflow", "open output", fmt.Sprintf("item is %s (%.1f%%)", snap.Stage, snap.Progress), nil)
	}
	if snap.OutputPath == "" || !fileutil.Exists(snap.OutputPath) {
		return nil, services.Wrap(services.ErrArtifactMissing, "workflow", "open output", "artifact was released", nil)
	}
	reader, err := fileutil.OpenWithCallback(snap.OutputPath, onClosed)
	if err != nil {
		return nil, services.Wrap(services.ErrArtifactMissing, "workflow", "open output", "open artifact", err)
	}
	name := archive.EntryName(snap.Title(), snap.ID, filepath.Ext(snap.OutputPath), map[string]struct{}{})
	return &Artifact{OnCloseReader: reader, FileName: name}, nil
}

func (m *Manager) resolve(ctx context.Context, sourceRef string) (*job.SourceInfo, error) {
	info, err := m.provider.Resolve(ctx, sourceRef)
	if err != nil {
		if services.KindOf(err) == services.KindUnknown {
			err = services.Wrap(services.ErrInvalidSource, "workflow", "resolve", "source could not be resolved", err)
		}
		return nil, err
	}
	if info == nil || len(info.Encodings) == 0 {
		return nil, services.Wrap(services.ErrInvalidEncoding, "workflow", "resolve", "source lists no encodings", nil)
	}
	return info, nil
}
