package workflow

import (
	"context"

	"tubemux/internal/history"
	"tubemux/internal/job"
	"tubemux/internal/preflight"
	"tubemux/internal/services"
)

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	m.mu.RUnlock()

	items, batches := m.registry.Counts()
	stages := make(map[job.Stage]int)
	for _, item := range m.registry.Items() {
		stages[item.Stage()]++
	}
	return StatusSummary{
		Running:         running,
		Jobs:            items,
		Batches:         batches,
		ActiveItems:     m.registry.Active(),
		AdmittedBatch:   m.scheduler.Active(),
		AdmissionLimit:  m.scheduler.Limit(),
		StageCounts:     stages,
		Directories:     preflight.RunAll(ctx, m.cfg),
		HistoryEnabled:  m.history != nil,
		HistoryFailures: m.historyFailures.Load(),
	}
}

// History lists recorded outcomes, newest first.
func (m *Manager) History(ctx context.Context, filter history.Filter) ([]history.Record, error) {
	if m.history == nil {
		return nil, services.Wrap(services.ErrConfiguration, "workflow", "history", "history ledger is disabled", nil)
	}
	return m.history.List(ctx, filter)
}

// ClearHistory deletes every recorded outcome.
func (m *Manager) ClearHistory(ctx context.Context) (int64, error) {
	if m.history == nil {
		return 0, services.Wrap(services.ErrConfiguration, "workflow", "history", "history ledger is disabled", nil)
	}
	return m.history.Clear(ctx)
}
