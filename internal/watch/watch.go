// Package watch re-runs a pipeline whenever its file changes on disk.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// RunFunc is invoked for the initial run and for every debounced re-run.
// It must handle run failures itself; a failed run never stops the watch.
type RunFunc func(ctx context.Context, path string)

// Watcher re-runs one pipeline file on change.
type Watcher struct {
	path     string
	debounce time.Duration
	watcher  *fsnotify.Watcher
	run      RunFunc
}

// New creates a watcher for a pipeline file. Editors replace files rather
// than writing in place, so the containing directory is watched and events
// are filtered by file name.
func New(path string, run RunFunc) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	return &Watcher{
		path:     abs,
		debounce: 500 * time.Millisecond,
		watcher:  fw,
		run:      run,
	}, nil
}

// Watch runs the pipeline once, then blocks, re-running it after every
// debounced change until ctx is canceled. Runs execute sequentially in the
// watch loop, so a re-run never overlaps the previous one.
func (w *Watcher) Watch(ctx context.Context) error {
	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	defer w.watcher.Close()

	slog.Info("watching pipeline", "path", w.path)
	w.run(ctx, w.path)

	base := filepath.Base(w.path)
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			slog.Debug("pipeline file changed", "op", ev.Op.String(), "file", ev.Name)
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			slog.Error("file watcher error", "error", err)

		case <-timerC:
			timer = nil
			timerC = nil
			w.run(ctx, w.path)
		}
	}
}
