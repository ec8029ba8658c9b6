package credential

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"refsession/pkg/logging"
)

const (
	// DefaultWatchPollInterval is the fallback polling interval when fsnotify
	// is not available.
	DefaultWatchPollInterval = 2 * time.Second

	// DefaultWatchDebounce is the time to wait after the last file event
	// before re-reading the session file.
	DefaultWatchDebounce = 250 * time.Millisecond
)

// fileWatcherConfig holds configuration for the session file watcher.
type fileWatcherConfig struct {
	Dir          string
	FileName     string
	PollInterval time.Duration
	Debounce     time.Duration

	// OnChange is called, debounced, after the watched file changes.
	OnChange func()
}

// fileWatcher monitors the session file with fsnotify, falling back to
// polling when fsnotify cannot watch the directory.
type fileWatcher struct {
	mu sync.Mutex

	config    fileWatcherConfig
	fsWatcher *fsnotify.Watcher
	stopCh    chan struct{}
	running   bool

	debounceMu    sync.Mutex
	debounceTimer *time.Timer
}

func newFileWatcher(config fileWatcherConfig) *fileWatcher {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultWatchPollInterval
	}
	if config.Debounce <= 0 {
		config.Debounce = DefaultWatchDebounce
	}
	return &fileWatcher{config: config}
}

// Start begins watching. It never fails: if fsnotify is unavailable it polls.
func (w *fileWatcher) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}
	w.stopCh = make(chan struct{})
	w.running = true

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logging.Warn("CredentialStore", "fsnotify not available, falling back to polling: %v", err)
		go w.poll(w.stopCh)
		return
	}

	if err := watcher.Add(w.config.Dir); err != nil {
		logging.Warn("CredentialStore", "Failed to watch directory %s, falling back to polling: %v", w.config.Dir, err)
		_ = watcher.Close()
		go w.poll(w.stopCh)
		return
	}
	w.fsWatcher = watcher

	go w.processEvents(w.stopCh, watcher.Events, watcher.Errors)
	logging.Debug("CredentialStore", "Watching %s for session changes", w.config.Dir)
}

// processEvents handles fsnotify events. Channels are passed in so Stop can
// close the watcher without racing this goroutine.
func (w *fileWatcher) processEvents(stopCh <-chan struct{}, eventsCh <-chan fsnotify.Event, errorsCh <-chan error) {
	for {
		select {
		case <-stopCh:
			return

		case event, ok := <-eventsCh:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != w.config.FileName {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.triggerDebounced()

		case err, ok := <-errorsCh:
			if !ok {
				return
			}
			logging.Error("CredentialStore", err, "fsnotify error")
		}
	}
}

func (w *fileWatcher) poll(stopCh <-chan struct{}) {
	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// The store compares disk state with what it last saw, so an
			// unconditional check is enough.
			w.fire()
		}
	}
}

// triggerDebounced collapses the burst of events produced by a temp-file
// write and rename into one callback.
func (w *fileWatcher) triggerDebounced() {
	w.debounceMu.Lock()
	defer w.debounceMu.Unlock()

	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
	}
	w.debounceTimer = time.AfterFunc(w.config.Debounce, w.fire)
}

func (w *fileWatcher) fire() {
	w.mu.Lock()
	running := w.running
	callback := w.config.OnChange
	w.mu.Unlock()

	if running && callback != nil {
		callback()
	}
}

// Stop stops the watcher. It is safe to call more than once.
func (w *fileWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	w.running = false
	close(w.stopCh)

	w.debounceMu.Lock()
	if w.debounceTimer != nil {
		w.debounceTimer.Stop()
		w.debounceTimer = nil
	}
	w.debounceMu.Unlock()

	if w.fsWatcher != nil {
		if err := w.fsWatcher.Close(); err != nil {
			logging.Warn("CredentialStore", "Error closing fsnotify watcher: %v", err)
		}
		w.fsWatcher = nil
	}
}
