// Package watcher reloads the archives when files of the archive directory change.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/archivext/internal/debounce"
)

const defaultDebounce = 400 * time.Millisecond

// Watcher watches one directory and calls onChange once per burst of events on
// files accepted by match.
type Watcher struct {
	dir      string
	match    func(path string) bool
	onChange func()
	wait     time.Duration
	clock    debounce.Clock
	logger   *zap.Logger

	mu        sync.Mutex
	watcher   *fsnotify.Watcher
	debouncer *debounce.Debouncer
	done      chan struct{}
	started   bool
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long the directory must stay quiet before onChange runs.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.wait = d }
}

// WithClock replaces the debounce clock.
func WithClock(c debounce.Clock) Option {
	return func(w *Watcher) { w.clock = c }
}

// New creates a watcher over dir. A nil match accepts every file.
func New(dir string, match func(path string) bool, onChange func(), opts ...Option) (*Watcher, error) {
	w := &Watcher{
		dir:      filepath.Clean(dir),
		match:    match,
		onChange: onChange,
		wait:     defaultDebounce,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(w)
	}
	d, err := w.newDebouncer()
	if err != nil {
		return nil, err
	}
	w.debouncer = d
	return w, nil
}

func (w *Watcher) newDebouncer() (*debounce.Debouncer, error) {
	opts := []debounce.Option{debounce.WithLogger(w.logger)}
	if w.clock != nil {
		opts = append(opts, debounce.WithClock(w.clock))
	}
	return debounce.New(w.wait, opts...)
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start starts watching. It runs until ctx is cancelled or Stop is called.
// A missing directory is created. A stopped watcher can be started again.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	// The previous run stopped its debouncer for good.
	d, err := w.newDebouncer()
	if err != nil {
		_ = fw.Close()
		return err
	}
	w.debouncer = d
	w.watcher = fw
	w.done = make(chan struct{})
	w.started = true
	w.logger.Debug("watcher starting", zap.String("dir", w.dir), zap.Duration("debounce", w.wait))
	go w.run(ctx, fw, d, w.done)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher, d *debounce.Debouncer, done <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(d, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(d *debounce.Debouncer, ev fsnotify.Event) {
	if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
		return
	}
	if w.match != nil && !w.match(ev.Name) {
		return
	}
	w.logger.Debug("watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	d.Call(func() {
		w.logger.Debug("archive directory changed", zap.String("dir", w.dir))
		if w.onChange != nil {
			w.onChange()
		}
	})
}

// Pending reports whether a reload is scheduled.
func (w *Watcher) Pending() bool {
	w.mu.Lock()
	d := w.debouncer
	w.mu.Unlock()
	return d.Pending()
}

// Stop stops the watcher and drops a pending reload.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	w.debouncer.Stop()
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	close(w.done)
	w.mu.Unlock()
}
