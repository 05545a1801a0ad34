package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tubemux/internal/archive"
	"tubemux/internal/config"
	"tubemux/internal/executor"
	"tubemux/internal/history"
	"tubemux/internal/job"
	"tubemux/internal/logging"
	"tubemux/internal/muxer"
	"tubemux/internal/registry"
	"tubemux/internal/scheduler"
	"tubemux/internal/services"
	"tubemux/internal/source"
)

// Manager coordinates jobs, batches and their artifacts.
type Manager struct {
	cfg       *config.Config
	provider  source.Provider
	logger    *slog.Logger
	registry  *registry.Registry
	executor  *executor.Executor
	scheduler *scheduler.Scheduler
	archiver  *archive.Writer
	history   *history.Store

	baseCtx    context.Context
	baseCancel context.CancelFunc

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	jobs    sync.WaitGroup
	bundles map[string]struct{}

	historyFailures atomic.Int64
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*Manager)

// WithHistory records terminal outcomes to store.
func WithHistory(store *history.Store) ManagerOption {
	return func(m *Manager) {
		m.history = store
	}
}

// NewManager constructs a workflow manager around a source provider and muxer.
func NewManager(cfg *config.Config, provider source.Provider, mux muxer.Muxer, logger *slog.Logger, opts ...ManagerOption) *Manager {
	logger = logging.NewComponentLogger(logger, "workflow")
	baseCtx, baseCancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:        cfg,
		provider:   provider,
		logger:     logger,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		bundles:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}

	m.registry = registry.New(registry.Options{
		WorkDir:       cfg.Paths.WorkDir,
		JobExpiry:     cfg.JobExpiry(),
		BatchExpiry:   cfg.BatchExpiry(),
		SweepInterval: cfg.SweepInterval(),
		CancelWait:    cfg.CancelWait(),
	}, logger)
	m.registry.OnRemove(m.recordRemoval)
	m.executor = executor.New(provider, mux, executor.Options{
		WorkDir:          cfg.Paths.WorkDir,
		OutputDir:        cfg.Paths.OutputDir,
		UpdatesPerSecond: cfg.Progress.UpdatesPerSecond,
	}, logger)
	m.scheduler = scheduler.New(m.executor, m.registry, scheduler.Options{
		MaxConcurrent: cfg.Scheduler.MaxConcurrent,
		MaxRetries:    cfg.Scheduler.MaxRetries,
		RetryDelay:    cfg.RetryDelay(),
	}, logger)
	m.scheduler.OnTerminal(m.recordOutcome)
	m.archiver = archive.NewWriter(logger)
	return m
}

// Start runs the expiry sweep until Stop is called or ctx ends.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		m.registry.Run(runCtx)
	}()
	m.logger.Info("workflow started",
		logging.String(logging.FieldEventType, "workflow_started"),
		logging.Int("max_concurrent", m.cfg.Scheduler.MaxConcurrent),
		logging.Int("max_retries", m.cfg.Scheduler.MaxRetries),
	)
	return nil
}

// Stop cancels every running job, waits for executors to exit, and removes
// undelivered bundles. The Manager cannot be restarted afterwards.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	bundles := make([]string, 0, len(m.bundles))
	for path := range m.bundles {
		bundles = append(bundles, path)
	}
	m.bundles = map[string]struct{}{}
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.baseCancel()
	m.registry.Close()
	m.wg.Wait()
	m.scheduler.Wait()
	m.jobs.Wait()
	for _, path := range bundles {
		m.removeBundle(path)
	}
	m.logger.Info("workflow stopped", logging.String(logging.FieldEventType, "workflow_stopped"))
}

// Registry exposes the item store for diagnostics and tests.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Wait blocks until every admitted batch item and standalone job has
// finished. Intended for tests and graceful drains.
func (m *Manager) Wait() {
	m.scheduler.Wait()
	m.jobs.Wait()
}

func (m *Manager) recordOutcome(snap job.Snapshot) {
	if m.history == nil || !snap.Stage.IsTerminal() {
		return
	}
	if err := m.history.Record(context.WithoutCancel(m.baseCtx), snap); err != nil {
		m.historyFailures.Add(1)
		m.logger.Warn("history record failed",
			logging.String(logging.FieldItemID, snap.ID),
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the history database path and permissions"),
		)
	}
}

// recordRemoval closes the history entry of an item deleted before it
// finished. Items that reached a terminal stage were recorded already.
func (m *Manager) recordRemoval(snap job.Snapshot) {
	if snap.Stage.IsTerminal() {
		return
	}
	m.logger.Info("unfinished item removed",
		logging.String(logging.FieldItemID, snap.ID),
		logging.String(logging.FieldEventType, "item_removed"),
		logging.String("stage", string(snap.Stage)),
	)
	snap.Stage = job.StageFailed
	snap.ErrorKind = services.KindCanceled
	snap.ErrorDetail = "removed before completion"
	snap.FinishedAt = time.Now()
	m.recordOutcome(snap)
}
