// Package watcher watches the config file with fsnotify and applies hot-reloadable settings.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/semcache/internal/config"
)

const defaultDebounce = 400 * time.Millisecond

// ConfigWatcher invokes a callback when the watched file changes. Editors often replace a
// file instead of writing it in place, so the parent directory is watched and events are
// filtered by name.
type ConfigWatcher struct {
	path     string
	onChange func(path string)
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	timer    *time.Timer
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger // optional; when set, logs debug events
}

// WatcherOption configures a ConfigWatcher.
type WatcherOption func(*ConfigWatcher)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *ConfigWatcher) { w.logger = l }
}

// WithDebounce sets how long the file must be quiet before onChange runs.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *ConfigWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewConfigWatcher creates a watcher for path. onChange runs after writes settle.
func NewConfigWatcher(path string, onChange func(path string), opts ...WatcherOption) *ConfigWatcher {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	w := &ConfigWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		debounce: defaultDebounce,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start starts the watcher. It runs until ctx is cancelled or Stop is called.
func (w *ConfigWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	if w.logger != nil {
		w.logger.Debug("config watcher starting", zap.String("path", w.path))
	}
	w.mu.Unlock()
	go w.run(ctx, watcher)
	return nil
}

func (w *ConfigWatcher) run(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil && w.logger != nil {
				w.logger.Debug("config watcher error", zap.Error(err))
			}
		}
	}
}

func (w *ConfigWatcher) handleEvent(ev fsnotify.Event) {
	if filepath.Clean(ev.Name) != w.path {
		return
	}
	if w.logger != nil {
		w.logger.Debug("config watcher event", zap.String("op", ev.Op.String()), zap.String("path", ev.Name))
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
		w.debounceChange()
	}
}

func (w *ConfigWatcher) debounceChange() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		w.timer = nil
		w.mu.Unlock()
		if w.onChange != nil {
			w.onChange(w.path)
		}
	})
}

// Path returns the watched file.
func (w *ConfigWatcher) Path() string {
	return w.path
}

// Stop stops the watcher and releases resources.
func (w *ConfigWatcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

// ThresholdSetter receives reloaded similarity thresholds.
type ThresholdSetter interface {
	SetThreshold(threshold float64) error
	Threshold() float64
}

// ReloadThreshold loads the config at path and applies its similarity threshold to target.
// Invalid files leave the current threshold in place.
func ReloadThreshold(path string, target ThresholdSetter, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Warn("config reload failed, keeping current settings", zap.String("path", path), zap.Error(err))
		return err
	}
	previous := target.Threshold()
	if err := target.SetThreshold(cfg.Cache.SimilarityThreshold); err != nil {
		logger.Warn("config reload rejected threshold", zap.Error(err))
		return err
	}
	if previous != cfg.Cache.SimilarityThreshold {
		logger.Info("similarity threshold reloaded",
			zap.Float64("previous", previous),
			zap.Float64("threshold", cfg.Cache.SimilarityThreshold))
	}
	return nil
}

// NewThresholdWatcher watches the config at path and hot-reloads its similarity threshold.
func NewThresholdWatcher(path string, target ThresholdSetter, logger *zap.Logger, opts ...WatcherOption) *ConfigWatcher {
	return NewConfigWatcher(path, func(p string) {
		_ = ReloadThreshold(p, target, logger)
	}, append([]WatcherOption{WithLogger(logger)}, opts...)...)
}
