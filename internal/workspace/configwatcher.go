// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package workspace

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/coder/cmux-sub011/internal/cmuxconfig"
	"github.com/coder/cmux-sub011/internal/events"
)

// EventConfigReloaded is published whenever the config file watcher detects
// an external change and reloads the store.
const EventConfigReloaded = "config.reloaded"

// ConfigWatcher watches config.json for writes made by another process (or
// a hand edit) sharing the same cmux home directory, and reloads the given
// Store when one is seen. Reloads are debounced so a burst of writes from
// an atomic rename-based save collapses into a single reload.
type ConfigWatcher struct {
	store *cmuxconfig.Store
	bus   events.EventBus

	watcher  *fsnotify.Watcher
	debounce time.Duration

	mu      sync.Mutex
	timer   *time.Timer
	closed  bool
	closeCh chan struct{}
	wg      sync.WaitGroup
}

// NewConfigWatcher starts watching path's parent directory (fsnotify can't
// reliably watch a single file across editors that save via rename) for
// changes to the file named at path, reloading store on each settled
// change.
func NewConfigWatcher(store *cmuxconfig.Store, bus events.EventBus, path string, debounce time.Duration) (*ConfigWatcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("workspace: create config watcher: %w", err)
	}

	dir := filepath.Dir(path)
	if err := fsWatcher.Add(dir); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("workspace: watch %s: %w", dir, err)
	}

	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}

	w := &ConfigWatcher{
		store:    store,
		bus:      bus,
		watcher:  fsWatcher,
		debounce: debounce,
		closeCh:  make(chan struct{}),
	}

	target := filepath.Clean(path)
	w.wg.Add(1)
	go w.run(target)

	return w, nil
}

func (w *ConfigWatcher) run(target string) {
	defer w.wg.Done()

	for {
		select {
		case <-w.closeCh:
			return

		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			w.scheduleReload()

		case _, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *ConfigWatcher) scheduleReload() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.reload)
}

func (w *ConfigWatcher) reload() {
	if err := w.store.Reload(); err != nil {
		return
	}
	if w.bus == nil {
		return
	}
	_ = w.bus.Publish(context.Background(), events.Event{
		Type:    EventConfigReloaded,
		Payload: map[string]interface{}{},
	})
}

// Close stops the watcher goroutine and releases the underlying fsnotify
// watcher.
func (w *ConfigWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	close(w.closeCh)
	w.mu.Unlock()

	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
