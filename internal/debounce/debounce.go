// Package debounce collapses bursts of calls into one trailing-edge execution.
package debounce

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/models"
)

// MaxWait is the longest accepted debounce window.
const MaxWait = time.Minute

// Timer is a pending callback that can be stopped.
type Timer interface {
	Stop() bool
}

// Clock schedules callbacks. The default clock is backed by time.AfterFunc.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// Debouncer runs the last function given to Call once no call happened for the wait window.
// At most one execution is pending at any time.
type Debouncer struct {
	wait   time.Duration
	clock  Clock
	logger *zap.Logger

	mu      sync.Mutex
	timer   Timer
	pending func()
	gen     uint64
	stopped bool
}

// Option configures a Debouncer.
type Option func(*Debouncer)

// WithClock replaces the real clock, mainly for tests.
func WithClock(c Clock) Option {
	return func(d *Debouncer) { d.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Debouncer) { d.logger = l }
}

// New creates a debouncer. A zero or negative wait disables coalescing: Call runs fn
// synchronously.
func New(wait time.Duration, opts ...Option) (*Debouncer, error) {
	if wait > MaxWait {
		return nil, models.NewValidationError("debounce window", "%s exceeds %s", wait, MaxWait)
	}
	d := &Debouncer{wait: wait, clock: realClock{}, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Wait returns the debounce window.
func (d *Debouncer) Wait() time.Duration { return d.wait }

// Call schedules fn, replacing any pending execution.
func (d *Debouncer) Call(fn func()) {
	if d.wait <= 0 {
		d.mu.Lock()
		stopped := d.stopped
		d.mu.Unlock()
		if !stopped {
			fn()
		}
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	d.cancelLocked()
	d.gen++
	gen := d.gen
	d.pending = fn
	d.timer = d.clock.AfterFunc(d.wait, func() { d.fire(gen) })
}

// fire runs the pending function if gen is still current. A timer that lost the race
// against Cancel or a newer Call finds a different generation and does nothing.
func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.pending == nil {
		d.mu.Unlock()
		d.logger.Debug("stale debounce timer dropped")
		return
	}
	fn := d.pending
	d.pending = nil
	d.timer = nil
	d.mu.Unlock()
	fn()
}

// Flush runs the pending execution now, if any. Returns true when something ran.
func (d *Debouncer) Flush() bool {
	d.mu.Lock()
	fn := d.pending
	d.cancelLocked()
	d.mu.Unlock()
	if fn == nil {
		return false
	}
	fn()
	return true
}

// Cancel drops the pending execution. Returns true when one was pending.
func (d *Debouncer) Cancel() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	had := d.pending != nil
	d.cancelLocked()
	return had
}

// Pending reports whether an execution is scheduled.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending != nil
}

// Stop cancels the pending execution and ignores later calls.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	d.stopped = true
}

func (d *Debouncer) cancelLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.pending = nil
	d.gen++
}
