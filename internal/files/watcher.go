package files

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"gdb-bridge/internal/logger"
)

// ChangeCallback is called, debounced, after the watched directory changed.
type ChangeCallback func(key, dir string)

// Watcher watches one directory per key (a client) for entry changes.
type Watcher struct {
	mu       sync.Mutex
	watches  map[string]*dirWatch
	debounce time.Duration
	log      *logger.Logger
}

type dirWatch struct {
	key       string
	dir       string
	fsWatcher *fsnotify.Watcher
	cancel    chan struct{}
	done      chan struct{}
	callback  ChangeCallback
}

// NewWatcher creates a Watcher that coalesces bursts of events within debounce.
func NewWatcher(debounce time.Duration, log *logger.Logger) *Watcher {
	return &Watcher{
		watches:  make(map[string]*dirWatch),
		debounce: debounce,
		log:      log,
	}
}

// Watch starts watching dir for key, replacing any previous watch of key.
func (w *Watcher) Watch(key, dir string, callback ChangeCallback) error {
	fsW, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := fsW.Add(dir); err != nil {
		fsW.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	dw := &dirWatch{
		key:       key,
		dir:       dir,
		fsWatcher: fsW,
		cancel:    make(chan struct{}),
		done:      make(chan struct{}),
		callback:  callback,
	}

	w.mu.Lock()
	prev := w.watches[key]
	w.watches[key] = dw
	w.mu.Unlock()

	if prev != nil {
		prev.stop()
	}

	go w.watchLoop(dw)
	return nil
}

// Unwatch stops the watch held by key, if any.
func (w *Watcher) Unwatch(key string) {
	w.mu.Lock()
	dw, ok := w.watches[key]
	if ok {
		delete(w.watches, key)
	}
	w.mu.Unlock()

	if ok {
		dw.stop()
	}
}

// Watching returns the directory watched for key.
func (w *Watcher) Watching(key string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dw, ok := w.watches[key]
	if !ok {
		return "", false
	}
	return dw.dir, true
}

// Shutdown stops all watches.
func (w *Watcher) Shutdown() {
	w.mu.Lock()
	keys := make([]string, 0, len(w.watches))
	for key := range w.watches {
		keys = append(keys, key)
	}
	w.mu.Unlock()

	for _, key := range keys {
		w.Unwatch(key)
	}
}

func (dw *dirWatch) stop() {
	close(dw.cancel)
	dw.fsWatcher.Close()
	<-dw.done
}

// watchLoop processes fsnotify events with debouncing. The callback runs on
// this goroutine, so once stop returns no callback is running or pending.
func (w *Watcher) watchLoop(dw *dirWatch) {
	defer close(dw.done)

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-dw.cancel:
			return

		case event, ok := <-dw.fsWatcher.Events:
			if !ok {
				return
			}
			// Writes count too: they change size and mtime.
			w.log.Debug("directory event", zap.String("key", dw.key), zap.String("event", event.String()))
			debounce.Reset(w.debounce)

		case <-debounce.C:
			select {
			case <-dw.cancel:
				return
			default:
			}
			dw.callback(dw.key, dw.dir)

		case err, ok := <-dw.fsWatcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("directory watcher error", zap.String("key", dw.key), zap.String("dir", dw.dir), zap.Error(err))
		}
	}
}
