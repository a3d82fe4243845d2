package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/shared/async"
	"github.com/desduvauchelle/tamias-sub001/internal/shared/logging"
	"github.com/fsnotify/fsnotify"
)

const defaultWatchDebounce = 750 * time.Millisecond

// Watcher reloads a RuntimeCache when the config file changes on disk.
type Watcher struct {
	path     string
	cache    *RuntimeCache
	logger   logging.Logger
	debounce time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	fs       *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// WatcherOption customizes a Watcher.
type WatcherOption func(*Watcher)

// WithWatchDebounce sets the debounce window for reloads.
func WithWatchDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the diagnostics logger.
func WithWatchLogger(logger logging.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = logging.OrNop(logger) }
}

// NewWatcher constructs a watcher for path.
func NewWatcher(path string, cache *RuntimeCache, opts ...WatcherOption) (*Watcher, error) {
	if cache == nil {
		return nil, fmt.Errorf("runtime config cache required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("config path required")
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w := &Watcher{
		path:     filepath.Clean(path),
		cache:    cache,
		logger:   logging.Nop(),
		debounce: defaultWatchDebounce,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start watches the config file's directory so editors that replace the
// file via rename are still observed.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.fs != nil {
		w.mu.Unlock()
		return nil
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		w.mu.Unlock()
		_ = fsWatcher.Close()
		return err
	}
	w.fs = fsWatcher
	w.mu.Unlock()

	async.Go(w.logger, "config.watch", func() { w.loop(fsWatcher) })
	if ctx != nil {
		async.Go(w.logger, "config.watch.ctx", func() {
			select {
			case <-ctx.Done():
				w.Stop()
			case <-w.stopCh:
			}
		})
	}
	return nil
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.timer != nil {
			w.timer.Stop()
			w.timer = nil
		}
		if w.fs != nil {
			_ = w.fs.Close()
			w.fs = nil
		}
	})
}

func (w *Watcher) loop(fsWatcher *fsnotify.Watcher) {
	for {
		select {
		case <-w.stopCh:
			return
		case event, ok := <-fsWatcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				w.scheduleReload()
			}
		case err, ok := <-fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error: %v", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Name == "" {
		return false
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	return filepath.Clean(event.Name) == w.path
}

func (w *Watcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.stopCh:
			return
		default:
		}
		if err := w.cache.Reload(context.Background()); err != nil {
			w.logger.Warn("Config reload failed: %v", err)
			return
		}
		w.logger.Info("Config reloaded from %s", w.path)
	})
}
