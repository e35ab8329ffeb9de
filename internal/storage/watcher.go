// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-indexes session documents as they change on disk.
type Watcher struct {
	cat      *Catalog
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func(path string, meta SessionMeta, err error)

	mu      sync.Mutex
	pending map[string]time.Time // path -> last change time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// WatchOption configures a Watcher.
type WatchOption func(*Watcher)

// OnChange registers fn to run after each debounced re-index. meta is zero
// when the document was removed.
func OnChange(fn func(path string, meta SessionMeta, err error)) WatchOption {
	return func(w *Watcher) {
		w.onChange = fn
	}
}

// NewWatcher creates a watcher for cat. Call Start to begin watching.
func NewWatcher(cat *Catalog, opts ...WatchOption) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := cat.config.WatchDebounce
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		cat:      cat,
		watcher:  fw,
		debounce: debounce,
		pending:  make(map[string]time.Time),
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start adds the root and its subdirectories and starts processing events.
func (w *Watcher) Start() error {
	if err := w.addRecursive(w.cat.root); err != nil {
		return err
	}
	w.wg.Add(2)
	go w.processEvents()
	go w.processPending()
	return nil
}

// Close stops watching and waits for in-progress indexing to finish.
func (w *Watcher) Close() error {
	w.cancel()
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

// Pending returns the number of changes waiting out the debounce period.
func (w *Watcher) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.cat.root && w.cat.ignoreDir(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(path); err != nil {
			w.cat.log.Warn().Str("dir", path).Err(err).Msg("failed to watch directory")
		}
		return nil
	})
}

func (w *Watcher) processEvents() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if !w.cat.ignoreDir(info.Name()) {
						_ = w.addRecursive(event.Name)
					}
					continue
				}
			}
			if !w.cat.wants(event.Name) {
				continue
			}
			// Removals and renames are re-checked on disk after the debounce,
			// which also covers editors that save by rename.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
				event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				w.mu.Lock()
				w.pending[event.Name] = time.Now()
				w.mu.Unlock()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.cat.log.Warn().Err(err).Msg("watcher error")
		}
	}
}

func (w *Watcher) processPending() {
	defer w.wg.Done()

	tick := w.debounce / 5
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			now := time.Now()
			var ready []string

			w.mu.Lock()
			for path, changed := range w.pending {
				if now.Sub(changed) >= w.debounce {
					ready = append(ready, path)
					delete(w.pending, path)
				}
			}
			w.mu.Unlock()

			for _, path := range ready {
				meta, err := w.cat.IndexFile(w.ctx, path)
				if err != nil {
					w.cat.log.Warn().Str("path", path).Err(err).Msg("failed to re-index session")
				}
				if w.onChange != nil {
					w.onChange(path, meta, err)
				}
			}
		}
	}
}
