// Package watcher nudges the scheduler when the live database, or the
// remote copy in a local folder, changes on disk.
package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/custodia-labs/nestsync/internal/logger"
)

// DefaultDebounce is used when no debounce is configured.
const DefaultDebounce = 10 * time.Second

// sidecarSuffixes are SQLite files that change alongside the database.
var sidecarSuffixes = []string{"-wal", "-journal"}

// Nudger receives debounced change notifications.
type Nudger interface {
	Nudge()
}

// NudgeFunc adapts a plain function to Nudger.
type NudgeFunc func()

// Nudge calls f.
func (f NudgeFunc) Nudge() { f() }

// Watcher monitors the directories holding a set of files and nudges once
// the files have stopped changing.
type Watcher struct {
	watcher   *fsnotify.Watcher
	debouncer *Debouncer
	names     map[string]struct{}
	dirs      []string

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a watcher for files. Each file's directory is watched; only
// events for the file itself and its SQLite sidecars count.
func New(files []string, debounce time.Duration, target Nudger) (*Watcher, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("watcher: no files to watch")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watcher: %w", err)
	}

	w := &Watcher{
		watcher:   fsWatcher,
		debouncer: NewDebouncer(debounce, target.Nudge),
		names:     make(map[string]struct{}),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}

	seen := make(map[string]struct{})
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			fsWatcher.Close()
			return nil, fmt.Errorf("watcher: %w", err)
		}
		w.names[abs] = struct{}{}
		for _, suffix := range sidecarSuffixes {
			w.names[abs+suffix] = struct{}{}
		}

		dir := filepath.Dir(abs)
		if _, ok := seen[dir]; !ok {
			seen[dir] = struct{}{}
			w.dirs = append(w.dirs, dir)
		}
	}

	return w, nil
}

// Start begins watching. Events are processed until ctx ends or Stop.
// The first file's directory must be watchable; the others are skipped
// with a warning when they are not.
func (w *Watcher) Start(ctx context.Context) error {
	for i, dir := range w.dirs {
		if err := w.watcher.Add(dir); err != nil {
			if i == 0 {
				return fmt.Errorf("watcher: watch %s: %w", dir, err)
			}
			logger.Warn("watcher: skipping %s: %v", dir, err)
		}
	}

	go w.processEvents(ctx)

	logger.Info("watcher: watching %d director(ies)", len(w.dirs))
	return nil
}

// Stop stops watching and cancels any pending nudge.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.debouncer.Stop()
		err = w.watcher.Close()
	})
	return err
}

// Done is closed once event processing has ended.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

func (w *Watcher) processEvents(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.debouncer.Stop()
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.relevant(event) {
				logger.Debug("watcher: %s %s", event.Op, event.Name)
				w.debouncer.Add()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher: %v", err)
		}
	}
}

// relevant filters out chmod noise and unrelated files in the directory.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op == fsnotify.Chmod {
		return false
	}
	name, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	_, ok := w.names[name]
	return ok
}
