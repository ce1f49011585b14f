package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce groups a burst of writes into a single reload.
const DefaultDebounce = 1500 * time.Millisecond

var errWatcherClosed = errors.New("file watcher closed")

// FileWatcher reloads one file after it changes and passes the result to
// apply. It watches the parent directory, so a file replaced by rename or
// created after Serve starts is still seen. A file that fails to load is
// logged and apply is not called.
type FileWatcher[T any] struct {
	path     string
	debounce time.Duration
	load     func() (T, error)
	apply    func(T)
	logger   *slog.Logger
}

// NewFileWatcher creates a watcher for path. A debounce of zero or less
// uses DefaultDebounce.
func NewFileWatcher[T any](path string, debounce time.Duration, load func() (T, error), apply func(T), logger *slog.Logger) *FileWatcher[T] {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &FileWatcher[T]{
		path:     filepath.Clean(path),
		debounce: debounce,
		load:     load,
		apply:    apply,
		logger:   logger,
	}
}

// Serve watches until ctx is done.
func (w *FileWatcher[T]) Serve(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	w.logger.Info("Watching config file", "path", w.path, "debounce", w.debounce)

	pending := time.NewTimer(w.debounce)
	pending.Stop()
	defer pending.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("Config watcher stopped", "path", w.path)
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return errWatcherClosed
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("Config file touched", "op", ev.Op.String())
			pending.Reset(w.debounce)

		case <-pending.C:
			w.reload()

		case err, ok := <-fw.Errors:
			if !ok {
				return errWatcherClosed
			}
			w.logger.Warn("Config watch error", "error", err)
		}
	}
}

// relevant reports whether ev changed the watched file. Write covers
// in-place edits, Create covers a rename onto the path.
func (w *FileWatcher[T]) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)
}

func (w *FileWatcher[T]) reload() {
	value, err := w.load()
	if err != nil {
		w.logger.Warn("Ignoring config file that failed to load", "path", w.path, "error", err)
		return
	}
	w.logger.Info("Config file reloaded", "path", w.path)
	w.apply(value)
}
