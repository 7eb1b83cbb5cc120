package debounce

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hyperjump/archivext/internal/models"
)

// fakeClock fires timers only when Advance moves past their deadline.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Duration
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *fakeClock
	deadline time.Duration
	f        func()
	stopped  bool
	fired    bool
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, deadline: c.now + d, f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += d
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && t.deadline <= c.now {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (c *fakeClock) active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func newFake(t *testing.T, wait time.Duration) (*Debouncer, *fakeClock) {
	t.Helper()
	clock := &fakeClock{}
	d, err := New(wait, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	return d, clock
}

func TestCall_burstRunsOnceAfterLastCall(t *testing.T) {
	d, clock := newFake(t, 300*time.Millisecond)
	var runs []int
	for i := 0; i < 5; i++ {
		i := i
		d.Call(func() { runs = append(runs, i) })
		clock.Advance(100 * time.Millisecond)
	}
	if len(runs) != 0 {
		t.Fatalf("ran during burst: %v", runs)
	}
	if clock.active() != 1 {
		t.Fatalf("%d timers outstanding, want 1", clock.active())
	}
	clock.Advance(199 * time.Millisecond)
	if len(runs) != 0 {
		t.Fatalf("ran before the window elapsed: %v", runs)
	}
	clock.Advance(time.Millisecond)
	if len(runs) != 1 || runs[0] != 4 {
		t.Fatalf("runs = %v, want [4]", runs)
	}
	if d.Pending() {
		t.Error("still pending after run")
	}
}

func TestCall_separateBurstsRunSeparately(t *testing.T) {
	d, clock := newFake(t, 50*time.Millisecond)
	n := 0
	d.Call(func() { n++ })
	clock.Advance(60 * time.Millisecond)
	d.Call(func() { n++ })
	clock.Advance(60 * time.Millisecond)
	if n != 2 {
		t.Errorf("n = %d, want 2", n)
	}
}

func TestCall_zeroWaitRunsSynchronously(t *testing.T) {
	for _, wait := range []time.Duration{0, -time.Second} {
		d, err := New(wait)
		if err != nil {
			t.Fatal(err)
		}
		n := 0
		for i := 0; i < 3; i++ {
			d.Call(func() { n++ })
		}
		if n != 3 {
			t.Errorf("wait %v: n = %d, want 3", wait, n)
		}
		if d.Pending() {
			t.Errorf("wait %v: pending", wait)
		}
	}
}

func TestNew_rejectsLongWindow(t *testing.T) {
	_, err := New(MaxWait + time.Millisecond)
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("error = %v, want ValidationError", err)
	}
	if _, err := New(MaxWait); err != nil {
		t.Errorf("New(MaxWait) = %v", err)
	}
}

func TestCancel(t *testing.T) {
	d, clock := newFake(t, time.Second)
	ran := false
	d.Call(func() { ran = true })
	if !d.Cancel() {
		t.Error("Cancel() = false with a pending call")
	}
	clock.Advance(2 * time.Second)
	if ran {
		t.Error("cancelled call ran")
	}
	if d.Cancel() {
		t.Error("Cancel() = true with nothing pending")
	}
}

func TestStaleTimerDoesNotRun(t *testing.T) {
	clock := &fakeClock{}
	d, _ := New(time.Second, WithClock(clock))
	ran := 0
	d.Call(func() { ran++ })

	// Capture the timer callback as if it had already started firing, then cancel.
	clock.mu.Lock()
	stale := clock.timers[0].f
	clock.mu.Unlock()
	d.Cancel()
	stale()
	if ran != 0 {
		t.Errorf("stale timer ran the callback")
	}
}

func TestFlush(t *testing.T) {
	d, clock := newFake(t, time.Second)
	ran := 0
	d.Call(func() { ran++ })
	if !d.Flush() {
		t.Fatal("Flush() = false")
	}
	if ran != 1 {
		t.Fatalf("ran = %d", ran)
	}
	clock.Advance(2 * time.Second)
	if ran != 1 {
		t.Errorf("flushed call ran again: %d", ran)
	}
	if d.Flush() {
		t.Error("Flush() = true with nothing pending")
	}
}

func TestStop(t *testing.T) {
	d, clock := newFake(t, time.Second)
	ran := false
	d.Call(func() { ran = true })
	d.Stop()
	d.Call(func() { ran = true })
	clock.Advance(2 * time.Second)
	if ran || d.Pending() {
		t.Errorf("ran=%v pending=%v after Stop", ran, d.Pending())
	}
}

func TestRealClock(t *testing.T) {
	d, err := New(20 * time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	var n int32
	done := make(chan struct{})
	start := time.Now()
	var last time.Time
	for i := 0; i < 10; i++ {
		last = time.Now()
		d.Call(func() {
			atomic.AddInt32(&n, 1)
			close(done)
		})
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced call never ran")
	}
	if elapsed := time.Since(last); elapsed < 20*time.Millisecond {
		t.Errorf("ran %v after the last call, want >= 20ms (burst started %v ago)", elapsed, time.Since(start))
	}
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&n); got != 1 {
		t.Errorf("ran %d times, want 1", got)
	}
}
