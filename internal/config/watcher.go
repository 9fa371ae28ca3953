package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/loykin/svcdeck/internal/service"
)

// Watcher reloads the services and settings files when they are edited
// outside the daemon. Writes made through the Store are ignored.
type Watcher struct {
	store    *Store
	fs       *fsnotify.Watcher
	debounce time.Duration

	// OnServices receives the decoded registry after an external edit.
	OnServices func([]service.Spec)
	// OnSettings receives the decoded settings after an external edit.
	OnSettings func(Settings)

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// NewWatcher watches store.Dir. Callbacks must be set before Run.
func NewWatcher(store *Store, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir, err := filepath.Abs(store.Dir)
	if err != nil {
		dir = store.Dir
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if debounce <= 0 {
		debounce = 200 * time.Millisecond
	}
	return &Watcher{store: store, fs: fw, debounce: debounce, timers: make(map[string]*time.Timer)}, nil
}

// Run processes events until ctx is done, then closes the watcher.
func (w *Watcher) Run(ctx context.Context) {
	defer w.close()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			switch filepath.Base(ev.Name) {
			case ServicesFile, SettingsFile:
				w.schedule(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("config watcher error", "error", err)
		}
	}
}

// schedule coalesces bursts of events on one file into a single reload.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok && t.Stop() {
		t.Reset(w.debounce)
		return
	}
	w.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		if w.timers[path] == t {
			delete(w.timers, path)
		}
		w.mu.Unlock()
		w.reload(path)
	})
	w.timers[path] = t
}

func (w *Watcher) reload(path string) {
	b, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("config reload read failed", "path", path, "error", err)
		return
	}
	if w.store.IsOwnWrite(path, b) {
		return
	}
	switch filepath.Base(path) {
	case ServicesFile:
		specs, err := DecodeServices(b)
		if err != nil {
			slog.Warn("ignoring invalid services file", "path", path, "error", err)
			return
		}
		slog.Info("services file changed", "path", path, "count", len(specs))
		if w.OnServices != nil {
			w.OnServices(specs)
		}
	case SettingsFile:
		st, err := w.store.LoadSettings()
		if err != nil {
			slog.Warn("ignoring invalid settings file", "path", path, "error", err)
			return
		}
		slog.Info("settings file changed", "path", path)
		if w.OnSettings != nil {
			w.OnSettings(st)
		}
	}
}

func (w *Watcher) close() {
	_ = w.fs.Close()
	w.mu.Lock()
	for p, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, p)
	}
	w.mu.Unlock()
	w.wg.Wait()
}
