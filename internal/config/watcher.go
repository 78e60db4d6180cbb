package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/banshee-data/shelfd/internal/monitoring"
)

// Watcher reloads a settings file into a Store whenever it changes on disk.
type Watcher struct {
	path     string
	store    *Store
	fsw      *fsnotify.Watcher
	settle   time.Duration
	reloaded chan struct{}
}

// NewWatcher watches the directory containing path. Editors often replace
// files by rename, so watching the file itself would lose the watch.
func NewWatcher(path string, store *Store) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create settings watcher: %w", err)
	}
	clean := filepath.Clean(path)
	if err := fsw.Add(filepath.Dir(clean)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", filepath.Dir(clean), err)
	}
	return &Watcher{
		path:     clean,
		store:    store,
		fsw:      fsw,
		settle:   50 * time.Millisecond,
		reloaded: make(chan struct{}, 1),
	}, nil
}

// Reloaded is signalled after each successful reload.
func (w *Watcher) Reloaded() <-chan struct{} {
	return w.reloaded
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) {
				// Writes arrive in bursts; reload once they settle.
				pending = time.After(w.settle)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			monitoring.Logf("[settings] watcher error: %v", err)
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	s, err := LoadSettings(w.path)
	if err != nil {
		monitoring.Logf("[settings] reload of %s failed, keeping current settings: %v", w.path, err)
		return
	}
	if err := w.store.Update(DefaultSettings().Merge(s)); err != nil {
		monitoring.Logf("[settings] rejected reload of %s: %v", w.path, err)
		return
	}
	monitoring.Logf("[settings] reloaded %s", w.path)
	select {
	case w.reloaded <- struct{}{}:
	default:
	}
}
