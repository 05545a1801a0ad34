package progress

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"

	"tubemux/internal/logging"
)

// Event is one progress signal from an executor phase.
type Event struct {
	ItemID     string
	Phase      Phase
	Bytes      int64
	Total      int64
	Percent    float64
	HasPercent bool
	Done       bool
}

// Sink receives coalesced progress values. *job.Item satisfies it.
type Sink interface {
	SetProgress(value float64) bool
}

// DefaultUpdatesPerSecond bounds progress writes per item.
const DefaultUpdatesPerSecond = 10

// Tracker turns an event stream into rate-limited progress writes.
type Tracker struct {
	plan    Plan
	sink    Sink
	limiter *rate.Limiter
	logger  *slog.Logger
	sampler *logging.ProgressSampler
}

// NewTracker builds a tracker for one attempt.
func NewTracker(plan Plan, sink Sink, updatesPerSecond float64, logger *slog.Logger) *Tracker {
	if updatesPerSecond <= 0 {
		updatesPerSecond = DefaultUpdatesPerSecond
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Tracker{
		plan:    plan,
		sink:    sink,
		limiter: rate.NewLimiter(rate.Limit(updatesPerSecond), 1),
		logger:  logger,
		sampler: logging.NewProgressSampler(5),
	}
}

// Run consumes events until the channel closes. A value held back by the
// limiter is flushed on close; phase-completion events are never held back.
func (t *Tracker) Run(events <-chan Event) {
	var (
		pending float64
		dirty   bool
		current float64
	)
	for ev := range events {
		value, ok := t.plan.Value(ev)
		if !ok || value <= current {
			continue
		}
		pending = max(pending, value)
		dirty = true
		if ev.Done || t.limiter.Allow() {
			t.write(ev.Phase, pending)
			current = pending
			dirty = false
		}
	}
	if dirty {
		t.write("", pending)
	}
}

func (t *Tracker) write(phase Phase, value float64) {
	if t.sink == nil {
		return
	}
	if t.sink.SetProgress(value) && t.sampler.ShouldLog(value, string(phase)) {
		t.logger.Debug("progress updated",
			logging.String("phase", string(phase)),
			logging.Float64("progress", value),
		)
	}
}

// Emitter sends events for one phase without blocking past cancellation.
type Emitter struct {
	ctx    context.Context
	events chan<- Event
	itemID string
	phase  Phase
	total  int64
	bytes  int64
}

// NewEmitter creates an emitter for a phase with a declared total (<=0 when unknown).
func NewEmitter(ctx context.Context, events chan<- Event, itemID string, phase Phase, total int64) *Emitter {
	return &Emitter{ctx: ctx, events: events, itemID: itemID, phase: phase, total: total}
}

// Write counts bytes so an Emitter can sit behind io.TeeReader or io.MultiWriter.
func (e *Emitter) Write(p []byte) (int, error) {
	e.bytes += int64(len(p))
	e.send(Event{Bytes: e.bytes, Total: e.total})
	return len(p), nil
}

// Percent reports a merge percentage.
func (e *Emitter) Percent(value float64) {
	e.send(Event{Percent: value, HasPercent: true})
}

// Done snaps the phase to its upper bound.
func (e *Emitter) Done() {
	e.send(Event{Bytes: e.bytes, Total: e.total, Done: true})
}

// Bytes returns the number of bytes counted so far.
func (e *Emitter) Bytes() int64 {
	return e.bytes
}

func (e *Emitter) send(ev Event) {
	ev.ItemID = e.itemID
	ev.Phase = e.phase
	select {
	case e.events <- ev:
	case <-e.ctx.Done():
	}
}

// Start runs a tracker in its own goroutine and returns the event channel
// plus a stop func that closes the channel and waits for the final flush.
func Start(t *Tracker, buffer int) (chan<- Event, func()) {
	events := make(chan Event, buffer)
	done := make(chan struct{})
	go func() {
		defer close(done)
		t.Run(events)
	}()
	stopped := false
	return events, func() {
		if stopped {
			return
		}
		stopped = true
		close(events)
		<-done
	}
}
