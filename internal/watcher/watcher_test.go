package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/hyperjump/archivext/internal/archive"
	"github.com/hyperjump/archivext/internal/debounce"
)

type stubTimer struct{ stopped bool }

func (t *stubTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type stubClock struct {
	mu    sync.Mutex
	fns   []func()
	timer []*stubTimer
}

func (c *stubClock) AfterFunc(_ time.Duration, f func()) debounce.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &stubTimer{}
	c.fns = append(c.fns, f)
	c.timer = append(c.timer, t)
	return t
}

func (c *stubClock) fire() {
	c.mu.Lock()
	fns, timers := c.fns, c.timer
	c.fns, c.timer = nil, nil
	c.mu.Unlock()
	for i, f := range fns {
		if !timers[i].stopped {
			f()
		}
	}
}

func matchArchives(path string) bool {
	ok, _ := filepath.Match(archive.DefaultPattern, filepath.Base(path))
	return ok
}

func TestWatcher_handleEvent_coalescesMatchingEvents(t *testing.T) {
	clock := &stubClock{}
	var calls int32
	w, err := New("/archives", matchArchives, func() { atomic.AddInt32(&calls, 1) },
		WithDebounce(time.Second), WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}

	events := []fsnotify.Event{
		{Name: "/archives/archives_2023.txt", Op: fsnotify.Write},
		{Name: "/archives/archives_2024.txt", Op: fsnotify.Create},
		{Name: "/archives/notes.txt", Op: fsnotify.Write},
		{Name: "/archives/archives_2023.txt", Op: fsnotify.Chmod},
		{Name: "/archives/archives_2022.txt", Op: fsnotify.Remove},
	}
	for _, ev := range events {
		w.handleEvent(w.debouncer, ev)
	}
	if !w.Pending() {
		t.Fatal("expected a pending reload")
	}
	clock.fire()
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("onChange calls = %d, want 1", got)
	}
}

func TestWatcher_handleEvent_ignoresOtherFiles(t *testing.T) {
	clock := &stubClock{}
	w, err := New("/archives", matchArchives, func() { t.Error("unexpected reload") }, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	w.handleEvent(w.debouncer, fsnotify.Event{Name: "/archives/archives_23.txt", Op: fsnotify.Write})
	w.handleEvent(w.debouncer, fsnotify.Event{Name: "/archives/session.db", Op: fsnotify.Create})
	if w.Pending() {
		t.Error("non-archive events scheduled a reload")
	}
	clock.fire()
}

func TestNew_rejectsLongDebounce(t *testing.T) {
	if _, err := New(t.TempDir(), nil, nil, WithDebounce(2*time.Minute)); err == nil {
		t.Error("expected error for a debounce above the maximum")
	}
}

func TestWatcher_Start_createsMissingDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "archives", "nested")
	w, err := New(dir, matchArchives, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()
	if _, err := os.Stat(dir); err != nil {
		t.Errorf("directory should exist after Start: %v", err)
	}
}

func TestWatcher_reloadsOnArchiveWrite(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan struct{}, 4)
	w, err := New(dir, matchArchives, func() { changed <- struct{}{} }, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, "ignored.log"), []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, archive.FileName(2023)), []byte("Date | ...\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after writing an archive file")
	}
}

func TestWatcher_StopDropsPendingReload(t *testing.T) {
	clock := &stubClock{}
	w, err := New(t.TempDir(), nil, func() { t.Error("reload after Stop") }, WithClock(clock))
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(w.debouncer, fsnotify.Event{Name: filepath.Join(w.Dir(), "a"), Op: fsnotify.Write})
	w.Stop()
	w.Stop()
	clock.fire()
}

func TestWatcher_restartAfterStop(t *testing.T) {
	dir := t.TempDir()
	changed := make(chan struct{}, 4)
	w, err := New(dir, matchArchives, func() { changed <- struct{}{} }, WithDebounce(50*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	w.Stop()
	if err := w.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer w.Stop()

	if err := os.WriteFile(filepath.Join(dir, archive.FileName(2024)), []byte("Date | ...\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case <-changed:
	case <-time.After(3 * time.Second):
		t.Fatal("restarted watcher did not reload")
	}
}
