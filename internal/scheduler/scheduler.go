package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tubemux/internal/executor"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/registry"
	"tubemux/internal/services"
)

// Runner performs one attempt for an item.
type Runner interface {
	Run(ctx context.Context, item *job.Item) error
}

// Options configures admission and retry.
type Options struct {
	MaxConcurrent int
	MaxRetries    int
	RetryDelay    time.Duration
}

// ErrInFlight is returned for an item that is already admitted or waiting.
var ErrInFlight = errors.New("item already scheduled")

// Scheduler runs submitted items with at most MaxConcurrent attempts at once
// across every batch.
type Scheduler struct {
	runner   Runner
	registry *registry.Registry
	opts     Options
	logger   *slog.Logger
	slots    chan struct{}

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
	active   atomic.Int32
	peak     atomic.Int32

	terminal func(job.Snapshot)
}

// New constructs a scheduler.
func New(runner Runner, reg *registry.Registry, opts Options, logger *slog.Logger) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 1
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Scheduler{
		runner:   runner,
		registry: reg,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "scheduler"),
		slots:    make(chan struct{}, opts.MaxConcurrent),
		inflight: make(map[string]struct{}),
	}
}

// OnTerminal registers a callback for items reaching completed or failed.
// It must be set before the first Submit.
func (s *Scheduler) OnTerminal(fn func(job.Snapshot)) {
	s.terminal = fn
}

// Submit queues items and starts a worker for each. Workers live until the
// item is terminal or ctx ends. Items already in flight, or whose stage
// cannot move to queued, are skipped and reported in the returned error.
func (s *Scheduler) Submit(ctx context.Context, items []*job.Item) (int, error) {
	var (
		queued int
		errs   []error
	)
	touched := make(map[string]struct{})
	for _, item := range items {
		if err := s.admit(ctx, item); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", item.ID(), err))
			continue
		}
		queued++
		touched[item.BatchID()] = struct{}{}
	}
	for batchID := range touched {
		s.registry.RefreshBatch(batchID)
	}
	return queued, errors.Join(errs...)
}

func (s *Scheduler) admit(ctx context.Context, item *job.Item) error {
	s.mu.Lock()
	if _, ok := s.inflight[item.ID()]; ok {
		s.mu.Unlock()
		return ErrInFlight
	}
	s.inflight[item.ID()] = struct{}{}
	s.mu.Unlock()

	itemCtx, cancel := context.WithCancel(ctx)
	finish, err := s.registry.Attach(item.ID(), cancel)
	if err == nil {
		err = item.Queue()
		if err != nil {
			finish()
		}
	}
	if err != nil {
		cancel()
		s.forget(item.ID())
		return err
	}

	s.wg.Add(1)
	go s.work(itemCtx, cancel, finish, item)
	return nil
}

func (s *Scheduler) forget(id string) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.mu.Unlock()
}

func (s *Scheduler) work(ctx context.Context, cancel context.CancelFunc, finish func(), item *job.Item) {
	defer s.wg.Done()
	defer s.forget(item.ID())
	defer finish()
	defer cancel()

	ctx = services.WithItemID(ctx, item.ID())
	ctx = services.WithBatchID(ctx, item.BatchID())
	logger := logging.WithContext(ctx, s.logger)

	for {
		if err := s.acquire(ctx); err != nil {
			s.fail(logger, item, err)
			return
		}
		s.registry.RefreshBatch(item.BatchID())
		err := s.runner.Run(ctx, item)
		s.release()

		if err == nil {
			s.registry.RefreshBatch(item.BatchID())
			s.notify(item)
			return
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			s.fail(logger, item, ctxErr)
			return
		}
		attempts := item.Attempts()
		if !executor.Retryable(err) || attempts > s.opts.MaxRetries {
			s.fail(logger, item, err)
			return
		}
		if qErr := item.Queue(); qErr != nil {
			s.fail(logger, item, err)
			return
		}
		s.registry.RefreshBatch(item.BatchID())
		logger.Info("attempt requeued",
			logging.Args(append(logging.ErrorAttrs(err),
				logging.String(logging.FieldEventType, "attempt_requeued"),
				logging.Int("attempt", attempts),
				logging.Int("max_retries", s.opts.MaxRetries),
			)...)...,
		)
		if !sleep(ctx, s.opts.RetryDelay) {
			s.fail(logger, item, ctx.Err())
			return
		}
	}
}

func (s *Scheduler) fail(logger *slog.Logger, item *job.Item, err error) {
	if failErr := item.Fail(err); failErr != nil {
		logger.Debug("item already terminal", logging.Error(failErr))
		return
	}
	s.registry.RefreshBatch(item.BatchID())
	logger.Warn("item failed",
		logging.Args(append(logging.ErrorAttrs(err),
			logging.String(logging.FieldEventType, "item_failed"),
			logging.Int("attempts", item.Attempts()),
		)...)...,
	)
	s.notify(item)
}

func (s *Scheduler) notify(item *job.Item) {
	if s.terminal != nil {
		s.terminal(item.Snapshot())
	}
}

func (s *Scheduler) acquire(ctx context.Context) error {
	select {
	case s.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	n := s.active.Add(1)
	for {
		peak := s.peak.Load()
		if n <= peak || s.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	return nil
}

func (s *Scheduler) release() {
	s.active.Add(-1)
	<-s.slots
}

// Active reports the number of attempts currently holding a slot.
func (s *Scheduler) Active() int {
	return int(s.active.Load())
}

// Peak reports the highest number of simultaneously admitted attempts.
func (s *Scheduler) Peak() int {
	return int(s.peak.Load())
}

// Limit reports the configured admission limit.
func (s *Scheduler) Limit() int {
	return cap(s.slots)
}

// Wait blocks until every submitted item has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
