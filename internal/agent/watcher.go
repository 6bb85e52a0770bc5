package agent

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultReloadDelay coalesces bursts of writes into one rediscovery.
const DefaultReloadDelay = 100 * time.Millisecond

// Watcher rediscovers a Registry whenever its agent files change, so
// availability edits made by the agent management side reach the router
// on the next routing decision.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	delay    time.Duration

	// OnReload is called after every successful rediscovery (optional).
	OnReload func(count int)
	// OnError is called for watcher and discovery errors (optional).
	OnError func(err error)

	mu     sync.Mutex
	timer  *time.Timer
	done   chan struct{}
	closed bool
}

// NewWatcher creates a watcher for registry. Set the callbacks, then call Start.
func NewWatcher(registry *Registry) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		registry: registry,
		watcher:  fsw,
		delay:    DefaultReloadDelay,
		done:     make(chan struct{}),
	}, nil
}

// Start watches registry.AgentsDir and the category directories of known agents.
func (w *Watcher) Start() error {
	if err := w.watcher.Add(w.registry.AgentsDir); err != nil {
		return err
	}
	for _, def := range w.registry.List() {
		dir := filepath.Dir(def.FilePath)
		if dir != w.registry.AgentsDir {
			// Errors only mean live edits in that category are missed.
			_ = w.watcher.Add(dir)
		}
	}

	go w.loop()
	return nil
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".md") {
				continue
			}
			if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.schedule()
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.reportError(err)
		}
	}
}

func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.reload)
}

func (w *Watcher) reload() {
	w.mu.Lock()
	closed := w.closed
	w.mu.Unlock()
	if closed {
		return
	}

	agents, err := w.registry.Discover()
	if err != nil {
		w.reportError(err)
		return
	}
	if w.OnReload != nil {
		w.OnReload(len(agents))
	}
}

func (w *Watcher) reportError(err error) {
	if w.OnError != nil {
		w.OnError(err)
	}
}

// Close stops watching. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()

	close(w.done)
	return w.watcher.Close()
}
