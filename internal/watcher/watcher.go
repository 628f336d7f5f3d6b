// Package watcher turns filesystem events on the library root into scan
// triggers, debounced so a bulk copy of a new work fires one scan instead
// of hundreds.
package watcher

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultDebounce is the quiet period after the last event before the
// callback fires.
const DefaultDebounce = 5 * time.Second

// Callback is invoked once per debounced burst of events.
type Callback func()

// Watcher monitors the library root (top level only; works are direct
// subdirectories) and invokes the callback after the debounce period.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	callback  Callback
	logger    zerolog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	stop    chan struct{}
	stopped chan struct{}
}

func New(root string, debounce time.Duration, callback Callback, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		fsWatcher: fsw,
		root:      root,
		debounce:  debounce,
		callback:  callback,
		logger:    logger,
		stop:      make(chan struct{}),
		stopped:   make(chan struct{}),
	}, nil
}

// Start runs the event loop until Stop is called.
func (w *Watcher) Start() {
	go w.loop()
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().Str("path", event.Name).Str("op", event.Op.String()).
				Msg("library change observed")
			w.reset()
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("watcher error")
		}
	}
}

// reset arms (or re-arms) the debounce timer.
func (w *Watcher) reset() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.callback)
}

// Stop ends the event loop and cancels any pending trigger.
func (w *Watcher) Stop() {
	close(w.stop)
	w.fsWatcher.Close()
	<-w.stopped

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}
