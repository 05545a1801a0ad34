package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"tubemux/internal/fileutil"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/muxer"
	"tubemux/internal/progress"
	"tubemux/internal/services"
	"tubemux/internal/source"
)

// Options configures where attempts write.
type Options struct {
	WorkDir          string
	OutputDir        string
	UpdatesPerSecond float64
}

// Executor runs attempts for work items.
type Executor struct {
	provider source.Provider
	muxer    muxer.Muxer
	opts     Options
	logger   *slog.Logger
}

// New constructs an Executor.
func New(provider source.Provider, mux muxer.Muxer, opts Options, logger *slog.Logger) *Executor {
	return &Executor{
		provider: provider,
		muxer:    mux,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "executor"),
	}
}

// ScratchPrefix is the file name prefix of every scratch file for itemID.
func ScratchPrefix(itemID string) string {
	return itemID + "."
}

// Retryable reports whether a failed attempt may succeed if repeated.
// Validation failures and cancellation are final.
func Retryable(err error) bool {
	switch services.KindOf(err) {
	case services.KindInvalidSource, services.KindInvalidEncoding, services.KindNoMatchingCounterpart, services.KindCanceled:
		return false
	default:
		return err != nil
	}
}

type attempt struct {
	item    *job.Item
	plan    Plan
	number  int
	events  chan<- progress.Event
	scratch []string
	output  string
}

// Run performs one attempt. On success the item is completed; on error the
// item is left in its last non-terminal stage for the caller to fail or requeue.
func (e *Executor) Run(ctx context.Context, item *job.Item) (err error) {
	ctx = services.WithItemID(ctx, item.ID())
	if batchID := item.BatchID(); batchID != "" {
		ctx = services.WithBatchID(ctx, batchID)
	}
	logger := logging.WithContext(ctx, e.logger)

	selected, info := item.Resolution()
	plan, err := PlanFor(info, selected)
	if err != nil {
		return err
	}
	number, err := item.BeginAttempt()
	if err != nil {
		return err
	}
	logger.Info("attempt started",
		logging.String(logging.FieldEventType, "attempt_started"),
		logging.Int("attempt", number),
		logging.String("encoding", plan.Primary.ID),
		logging.Bool("merge", plan.Merge),
	)

	tracker := progress.NewTracker(plan.Weights(), item, e.opts.UpdatesPerSecond, logger)
	events, stopTracker := progress.Start(tracker, 64)
	a := &attempt{item: item, plan: plan, number: number, events: events}

	defer func() {
		stopTracker()
		if err == nil {
			return
		}
		if cleanupErr := fileutil.RemoveAll(append(a.scratch, a.output)...); cleanupErr != nil {
			logger.Warn("attempt cleanup incomplete", logging.Error(cleanupErr))
		}
	}()

	if plan.Merge {
		err = e.runMerged(ctx, a)
	} else {
		err = e.runSingle(ctx, a)
	}
	if err != nil {
		logger.Warn("attempt failed",
			logging.Args(append(logging.ErrorAttrs(err),
				logging.String(logging.FieldEventType, "attempt_failed"),
				logging.Int("attempt", number),
			)...)...,
		)
		return err
	}

	stopTracker()
	if err = item.Complete(a.output); err != nil {
		return err
	}
	logger.Info("item completed",
		logging.String(logging.FieldEventType, "item_completed"),
		logging.String("output", a.output),
	)
	return nil
}

func (e *Executor) runSingle(ctx context.Context, a *attempt) error {
	scratch := e.scratchPath(a, "stream", a.plan.Primary)
	if err := e.download(ctx, a, progress.PhaseDownload, a.plan.Primary, scratch); err != nil {
		return err
	}
	output := e.outputPath(a.item, a.plan.Primary)
	a.output = output
	if err := fileutil.Promote(scratch, output); err != nil {
		return services.Wrap(services.ErrTransfer, "executor", "promote", "move scratch file to output", err)
	}
	a.scratch = nil
	return nil
}

func (e *Executor) runMerged(ctx context.Context, a *attempt) error {
	videoPath := e.scratchPath(a, "video", a.plan.Primary)
	if err := e.download(ctx, a, progress.PhaseVideo, a.plan.Primary, videoPath); err != nil {
		return err
	}
	audioPath := e.scratchPath(a, "audio", a.plan.Counterpart)
	if err := e.download(ctx, a, progress.PhaseAudio, a.plan.Counterpart, audioPath); err != nil {
		return err
	}
	if err := a.item.BeginMerge(); err != nil {
		return err
	}

	_, info := a.item.Resolution()
	a.output = e.outputPath(a.item, a.plan.Primary)
	emitter := progress.NewEmitter(ctx, a.events, a.item.ID(), progress.PhaseMerge, 0)
	req := muxer.Request{VideoPath: videoPath, AudioPath: audioPath, OutputPath: a.output}
	if info != nil {
		req.DurationSeconds = info.DurationSeconds
	}
	if err := e.muxer.Merge(ctx, req, emitter.Percent); err != nil {
		if services.KindOf(err) == services.KindUnknown {
			err = services.Wrap(services.ErrMerge, "executor", "merge", "muxer failed", err)
		}
		return err
	}
	emitter.Done()
	if !fileutil.Exists(a.output) {
		return services.Wrap(services.ErrMerge, "executor", "merge", "muxer produced no output", nil)
	}
	if err := fileutil.RemoveAll(a.scratch...); err != nil {
		e.logger.Warn("scratch cleanup incomplete", logging.Error(err))
	}
	a.scratch = nil
	return nil
}

func (e *Executor) download(ctx context.Context, a *attempt, phase progress.Phase, enc job.Encoding, path string) error {
	stream, err := e.provider.Open(ctx, a.item.SourceRef(), enc)
	if err != nil {
		return classifyTransfer(ctx, err, "open stream")
	}
	defer stream.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return services.Wrap(services.ErrTransfer, "executor", "download", "create work dir", err)
	}
	a.scratch = append(a.scratch, path)
	file, err := os.Create(path)
	if err != nil {
		return services.Wrap(services.ErrTransfer, "executor", "download", "create scratch file", err)
	}

	emitter := progress.NewEmitter(ctx, a.events, a.item.ID(), phase, stream.Total)
	_, copyErr := io.Copy(io.MultiWriter(file, emitter), stream)
	closeErr := file.Close()
	if copyErr != nil {
		return classifyTransfer(ctx, copyErr, "download "+string(phase))
	}
	if closeErr != nil {
		return services.Wrap(services.ErrTransfer, "executor", "download", "flush scratch file", closeErr)
	}
	emitter.Done()
	return nil
}

func classifyTransfer(ctx context.Context, err error, operation string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if services.KindOf(err) != services.KindUnknown {
		return err
	}
	return services.Wrap(services.ErrTransfer, "executor", operation, "stream interrupted", err)
}

func (e *Executor) scratchPath(a *attempt, role string, enc job.Encoding) string {
	name := fmt.Sprintf("%s%d.%s.%s", ScratchPrefix(a.item.ID()), a.number, role, enc.Extension())
	return filepath.Join(e.opts.WorkDir, name)
}

func (e *Executor) outputPath(item *job.Item, enc job.Encoding) string {
	return filepath.Join(e.opts.OutputDir, item.ID()+"."+enc.Extension())
}
