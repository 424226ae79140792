package faq

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the index when the FAQ file changes on disk. Events are
// debounced so editors that write in multiple syscalls trigger a single
// rebuild.
type Watcher struct {
	index         *Index
	watcher       *fsnotify.Watcher
	debounceDelay time.Duration

	mu         sync.Mutex
	cancel     context.CancelFunc
	isWatching bool
}

// NewWatcher creates a watcher over the index's FAQ file.
func NewWatcher(index *Index) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		index:         index,
		watcher:       fsw,
		debounceDelay: 500 * time.Millisecond,
	}, nil
}

// Start begins watching. The parent directory is watched rather than the
// file itself, so atomic rename-replace writes are still seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.isWatching {
		return nil
	}

	dir := filepath.Dir(w.index.path)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	ctx, w.cancel = context.WithCancel(ctx)
	w.isWatching = true
	go w.loop(ctx)

	slog.Info("watching FAQ file for changes", "path", w.index.path)
	return nil
}

// Stop stops watching and releases the underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.isWatching {
		return nil
	}
	w.cancel()
	w.isWatching = false
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	target := filepath.Clean(w.index.path)

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounceDelay, func() {
				if err := w.index.Reload(ctx); err != nil {
					slog.Error("FAQ reload failed", "error", err)
					return
				}
				slog.Info("FAQ index reloaded", "variants", w.index.Size())
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("FAQ watcher error", "error", err)
		}
	}
}
