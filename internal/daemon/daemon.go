package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/gofrs/flock"

	"tubemux/internal/config"
	"tubemux/internal/deps"
	"tubemux/internal/history"
	"tubemux/internal/logging"
	"tubemux/internal/preflight"
	"tubemux/internal/staging"
	"tubemux/internal/workflow"
)

// Daemon owns the workflow manager and enforces single-instance execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	workflow *workflow.Manager
	history  *history.Store
	api      *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool
	PID          int
	LockFilePath string
	HistoryPath  string
	Workflow     workflow.StatusSummary
	Dependencies []deps.Status
}

// New constructs a daemon. store may be nil when the history ledger is
// disabled.
func New(cfg *config.Config, logger *slog.Logger, wf *workflow.Manager, store *history.Store) (*Daemon, error) {
	if cfg == nil || wf == nil {
		return nil, errors.New("daemon requires config and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		workflow: wf,
		history:  store,
		lockPath: cfg.LockPath(),
		lock:     flock.New(cfg.LockPath()),
	}
	d.api = newAPIServer(cfg, d, logger)
	return d, nil
}

// Start runs preflight, acquires the daemon lock, removes files orphaned by a
// previous process, launches the workflow manager, and begins serving the API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	if err := preflight.Failed(preflight.RunAll(ctx, d.cfg)); err != nil {
		return err
	}
	if err := deps.MissingRequired(preflight.CheckSystemDeps(ctx, d.cfg)); err != nil {
		logging.WarnWithContext(d.logger, "required binaries unavailable", "dependency_missing",
			logging.Error(err),
		)
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another tubemux daemon instance is already running")
	}

	staging.CleanOrphaned(ctx, []string{d.cfg.Paths.WorkDir, d.cfg.Paths.OutputDir, d.cfg.Paths.BundleDir}, d.logger)

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		cancel()
		d.workflow.Stop()
		_ = d.lock.Unlock()
		return err
	}

	d.cancel = cancel
	d.running.Store(true)
	d.logger.Info("tubemux daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.String("api", d.api.address()),
	)
	return nil
}

// Stop stops the API, cancels running jobs, and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.CompareAndSwap(true, false) {
		return
	}
	d.api.stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("tubemux daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.history != nil {
		return d.history.Close()
	}
	return nil
}

// Address returns the address the API listens on, or "" before Start.
func (d *Daemon) Address() string {
	return d.api.address()
}

// Status returns the current daemon status.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		PID:          os.Getpid(),
		LockFilePath: d.lockPath,
		Workflow:     d.workflow.Status(ctx),
		Dependencies: preflight.CheckSystemDeps(ctx, d.cfg),
	}
	if d.history != nil {
		status.HistoryPath = d.history.Path()
	}
	return status
}
