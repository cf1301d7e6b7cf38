package cli

import (
	"context"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce is how long a file must stay quiet before a change is
// reported.
const watchDebounce = 100 * time.Millisecond

// Watcher reports changed scenario, schema and golden files under a set of
// directories.
type Watcher struct {
	Changes <-chan string // Read-only external channel

	changes chan string
	done    chan struct{}
	exts    []string
	watcher *fsnotify.Watcher
}

// NewWatcher watches dirs (not recursively) for files with one of exts.
func NewWatcher(dirs []string, exts ...string) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		if err := fw.Add(dir); err != nil {
			fw.Close()
			return nil, err
		}
	}

	ch := make(chan string, 16)
	w := &Watcher{
		Changes: ch,
		changes: ch,
		done:    make(chan struct{}),
		exts:    exts,
		watcher: fw,
	}
	go w.loop()
	return w, nil
}

// Stop closes the watcher and its channel.
func (w *Watcher) Stop() {
	w.watcher.Close()
	<-w.done // Wait for loop to exit
	close(w.changes)
}

func (w *Watcher) loop() {
	defer close(w.done)

	pending := make(map[string]time.Time)
	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event.Name) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				pending[event.Name] = time.Now()
			}

		case <-ticker.C:
			now := time.Now()
			for file, t := range pending {
				if now.Sub(t) < watchDebounce {
					continue
				}
				delete(pending, file)
				select {
				case w.changes <- file:
				default:
					// A rerun is already queued.
				}
			}

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) relevant(name string) bool {
	return slices.Contains(w.exts, filepath.Ext(name))
}

// watchAndRerun calls rerun after every batch of changes until ctx ends.
func watchAndRerun(ctx context.Context, w *Watcher, rerun func(changed string)) {
	for {
		select {
		case <-ctx.Done():
			return
		case file, ok := <-w.Changes:
			if !ok {
				return
			}
			// Collapse changes that arrived together.
			for len(w.Changes) > 0 {
				<-w.Changes
			}
			rerun(file)
		}
	}
}
