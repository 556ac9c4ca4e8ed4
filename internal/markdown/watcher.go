package markdown

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"unimem/internal/logging"

	"github.com/fsnotify/fsnotify"
)

// Watcher keeps a Store's index in sync with edits made outside the process.
// Events are debounced per file so a burst of writes causes one reload.
type Watcher struct {
	mu       sync.Mutex
	store    *Store
	log      *logging.Logger
	watcher  *fsnotify.Watcher
	debounce time.Duration
	pending  map[string]time.Time
	onReload func(rel string)
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool

	stats WatcherStats
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events  int
	Reloads int
	Errors  int
}

// NewWatcher creates a watcher for store. onReload, when non-nil, is called
// after each file reload.
func NewWatcher(store *Store, debounce time.Duration, onReload func(rel string)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 300 * time.Millisecond
	}
	return &Watcher{
		store:    store,
		log:      store.log,
		watcher:  fw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		onReload: onReload,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Start begins watching the store folders. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	for _, f := range Folders {
		dir := filepath.Join(w.store.root, f)
		if err := os.MkdirAll(dir, 0755); err != nil {
			w.log.Warn("Watcher: failed to create %s: %v", dir, err)
			continue
		}
		w.addTree(dir)
	}

	go w.run(ctx)
	return nil
}

// addTree watches dir and every directory below it; fsnotify is not recursive.
func (w *Watcher) addTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := w.watcher.Add(path); err != nil {
			w.log.Warn("Watcher: failed to watch %s: %v", path, err)
		} else {
			w.log.Debug("Watcher: watching %s", path)
		}
		return nil
	})
}

// Stop ends the watch loop and releases the OS watcher.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		w.log.Error("Watcher: error closing: %v", err)
	}
	w.log.Debug("Watcher: stopped")
}

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 3
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Error("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			w.addTree(event.Name)
			return
		}
	}

	rel, err := filepath.Rel(w.store.root, event.Name)
	if err != nil {
		return
	}
	rel = filepath.ToSlash(rel)
	if !Matches(rel) {
		return
	}

	w.mu.Lock()
	w.stats.Events++
	w.pending[rel] = time.Now()
	w.mu.Unlock()
}

// flush reloads files whose last event is older than the debounce window.
func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for rel, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, rel)
			delete(w.pending, rel)
		}
	}
	w.mu.Unlock()

	for _, rel := range ready {
		if err := w.store.ReloadFile(rel); err != nil {
			w.log.Warn("Watcher: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()
			continue
		}
		w.mu.Lock()
		w.stats.Reloads++
		w.mu.Unlock()
		if w.onReload != nil {
			w.onReload(rel)
		}
	}
}
