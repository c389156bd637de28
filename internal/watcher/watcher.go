// Package watcher reports source files changing on disk under the workspace
// folders, so declarations that other files contribute are picked up.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"

	"github.com/alucardeht/dynmethod/internal/logger"
)

var log = logger.ForComponent("watcher")

type Config struct {
	Enabled bool `json:"enabled"`
	// DebounceWindow coalesces bursts such as a branch switch or a package
	// install into one batch.
	DebounceWindow time.Duration `json:"debounce_window"`
	MaxBatchSize   int           `json:"max_batch_size"`
	// IgnorePatterns are doublestar globs matched against absolute paths.
	IgnorePatterns []string `json:"ignore_patterns"`
	WatchHidden    bool     `json:"watch_hidden"`
}

// DefaultConfig skips dependency and build output trees, which only hold
// generated JavaScript.
func DefaultConfig() Config {
	return Config{
		Enabled:        true,
		DebounceWindow: 250 * time.Millisecond,
		MaxBatchSize:   200,
		IgnorePatterns: []string{
			"**/node_modules/**",
			"**/bower_components/**",
			"**/dist/**",
			"**/out/**",
			"**/coverage/**",
			"**/*.min.js",
		},
	}
}

// Watcher watches workspace roots recursively. Relevant events are batched
// by a Debouncer and handed to onChange.
type Watcher struct {
	config   Config
	relevant func(path string) bool
	onChange func([]FileEvent)

	fsWatcher   *fsnotify.Watcher
	fsWatcherMu sync.Mutex
	debouncer   *Debouncer

	mu      sync.RWMutex
	roots   []string
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New creates a watcher. relevant filters paths (nil keeps all of them);
// onChange receives each debounced batch.
func New(config Config, relevant func(path string) bool, onChange func([]FileEvent)) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		config:    config,
		relevant:  relevant,
		onChange:  onChange,
		fsWatcher: fsWatcher,
	}
	w.debouncer = NewDebouncer(config.DebounceWindow, config.MaxBatchSize, w.onFlush)
	return w, nil
}

func (w *Watcher) addToWatcher(path string) error {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Add(path)
}

func (w *Watcher) removeFromWatcher(path string) {
	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	_ = w.fsWatcher.Remove(path)
}

// AddRoot watches path and every directory below it that is not ignored.
func (w *Watcher) AddRoot(path string) error {
	w.mu.Lock()
	for _, root := range w.roots {
		if root == path {
			w.mu.Unlock()
			return nil
		}
	}
	w.roots = append(w.roots, path)
	w.mu.Unlock()

	if err := w.addToWatcher(path); err != nil {
		return err
	}
	w.walkAndAdd(path)

	log.Info("watching workspace folder", "path", path)
	return nil
}

func (w *Watcher) walkAndAdd(path string) {
	entries, err := os.ReadDir(path)
	if err != nil {
		log.Debug("failed to read directory", "path", path, "error", err)
		return
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		dir := filepath.Join(path, entry.Name())
		if w.shouldIgnore(dir) {
			continue
		}
		if err := w.addToWatcher(dir); err != nil {
			log.Debug("failed to watch directory", "path", dir, "error", err)
			continue
		}
		w.walkAndAdd(dir)
	}
}

// RemoveRoot stops watching path and the directories below it.
func (w *Watcher) RemoveRoot(path string) {
	w.mu.Lock()
	for i, root := range w.roots {
		if root == path {
			w.roots = append(w.roots[:i], w.roots[i+1:]...)
			break
		}
	}
	w.mu.Unlock()

	w.fsWatcherMu.Lock()
	watched := w.fsWatcher.WatchList()
	w.fsWatcherMu.Unlock()

	prefix := path + string(filepath.Separator)
	for _, dir := range watched {
		if dir == path || strings.HasPrefix(dir, prefix) {
			w.removeFromWatcher(dir)
		}
	}
}

func (w *Watcher) Roots() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return append([]string(nil), w.roots...)
}

func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}

	w.running = true
	ctx, w.cancel = context.WithCancel(ctx)
	w.done = make(chan struct{})
	go w.handleEvents(ctx)
}

func (w *Watcher) handleEvents(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			log.Debug("file event", "path", event.Name, "op", event.Op.String())

			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && !w.shouldIgnore(event.Name) {
					if err := w.addToWatcher(event.Name); err == nil {
						w.walkAndAdd(event.Name)
					}
					continue
				}
			}

			if fileEvent, ok := w.convertEvent(event); ok {
				w.debouncer.Add(fileEvent)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			log.Warn("watch error", "error", err)
		}
	}
}

func (w *Watcher) convertEvent(event fsnotify.Event) (FileEvent, bool) {
	if w.shouldIgnore(event.Name) {
		return FileEvent{}, false
	}
	if w.relevant != nil && !w.relevant(event.Name) {
		return FileEvent{}, false
	}

	var eventType EventType
	switch {
	case event.Has(fsnotify.Create):
		eventType = EventCreate
	case event.Has(fsnotify.Write):
		eventType = EventModify
	case event.Has(fsnotify.Remove):
		eventType = EventDelete
	case event.Has(fsnotify.Rename):
		eventType = EventRename
	default:
		return FileEvent{}, false
	}

	return FileEvent{Path: event.Name, Type: eventType, Timestamp: time.Now()}, true
}

func (w *Watcher) onFlush(events []FileEvent) {
	log.Debug("file changes settled", "count", len(events))
	if w.onChange != nil {
		w.onChange(events)
	}
}

func (w *Watcher) shouldIgnore(path string) bool {
	if !w.config.WatchHidden && strings.HasPrefix(filepath.Base(path), ".") {
		return true
	}

	slashed := strings.TrimPrefix(filepath.ToSlash(path), "/")
	for _, pattern := range w.config.IgnorePatterns {
		if match, _ := doublestar.Match(pattern, slashed); match {
			return true
		}
		// "**/dir/**" does not match the directory itself.
		if trimmed := strings.TrimSuffix(pattern, "/**"); trimmed != pattern {
			if match, _ := doublestar.Match(trimmed, slashed); match {
				return true
			}
		}
	}
	return false
}

// Stop ends event handling, flushes pending events and closes the
// underlying watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		w.fsWatcherMu.Lock()
		defer w.fsWatcherMu.Unlock()
		return w.fsWatcher.Close()
	}
	w.running = false
	w.cancel()
	done := w.done
	w.mu.Unlock()

	<-done
	w.debouncer.Stop()

	w.fsWatcherMu.Lock()
	defer w.fsWatcherMu.Unlock()
	return w.fsWatcher.Close()
}
