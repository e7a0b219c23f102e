package config

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce coalesces the burst of fsnotify events editors and
// configuration management tools produce on save.
const reloadDebounce = 500 * time.Millisecond

// Watcher loads a configuration file and keeps it fresh. The active config
// is swapped atomically; a failed reload keeps the previous config.
type Watcher struct {
	current  atomic.Pointer[Config]
	path     string
	fs       *fsnotify.Watcher
	onReload []func(*Config)
	logger   *slog.Logger
}

// NewWatcher loads the file at path and returns a watcher around it.
func NewWatcher(path string, logger *slog.Logger) (*Watcher, error) {
	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{path: path, logger: logger}
	w.current.Store(cfg)
	return w, nil
}

// Current returns the active configuration. Safe for concurrent use.
func (w *Watcher) Current() *Config {
	return w.current.Load()
}

// OnReload registers a callback invoked after each successful reload.
// Callbacks must be registered before Start.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.onReload = append(w.onReload, fn)
}

// Start begins watching the file for changes until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fs.Add(w.path); err != nil {
		_ = fs.Close()
		return err
	}
	w.fs = fs

	go w.loop(ctx)
	return nil
}

func (w *Watcher) loop(ctx context.Context) {
	var pending *time.Timer

	for {
		select {
		case <-ctx.Done():
			if pending != nil {
				pending.Stop()
			}
			_ = w.fs.Close()
			return

		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if pending != nil {
				pending.Stop()
			}
			pending = time.AfterFunc(reloadDebounce, w.reload)

		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error("config reload failed, keeping current", "error", err)
		return
	}

	w.current.Store(cfg)
	w.logger.Info("configuration reloaded", "path", w.path)

	for _, fn := range w.onReload {
		fn(cfg)
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	if w.fs != nil {
		return w.fs.Close()
	}
	return nil
}
