// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package library

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// =============================================================================
// DIRECTORY WATCHER
// =============================================================================

// Watcher observes the library directory and notifies when the model
// set changes. Bursts of events (downloads write in chunks, editors
// rename) are debounced into a single notification.
type Watcher struct {
	lib      *Library
	watcher  *fsnotify.Watcher
	debounce time.Duration
	onChange func([]ModelFile)

	mu        sync.Mutex
	lastEvent time.Time
	dirty     bool

	ctx    context.Context
	cancel context.CancelFunc
}

// Watch starts observing the library directory. onChange receives the
// fresh model list after each debounced change burst.
func (l *Library) Watch(debounce time.Duration, onChange func([]ModelFile)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(l.dir); err != nil {
		fsw.Close()
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		lib:      l,
		watcher:  fsw,
		debounce: debounce,
		onChange: onChange,
		ctx:      ctx,
		cancel:   cancel,
	}
	go w.processEvents()
	go w.processPending()
	return w, nil
}

// Close stops watching and releases resources.
func (w *Watcher) Close() error {
	w.cancel()
	return w.watcher.Close()
}

func (w *Watcher) processEvents() {
	for {
		select {
		case <-w.ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			// Only model files matter; partial download temp files and
			// unrelated writes are noise.
			if !strings.HasSuffix(event.Name, modelExt) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.mu.Lock()
			w.lastEvent = time.Now()
			w.dirty = true
			w.mu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.lib.log.Warn().Err(err).Msg("model watcher error")
		}
	}
}

func (w *Watcher) processPending() {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return

		case <-ticker.C:
			w.mu.Lock()
			fire := w.dirty && time.Since(w.lastEvent) >= w.debounce
			if fire {
				w.dirty = false
			}
			w.mu.Unlock()
			if !fire {
				continue
			}

			models, err := w.lib.List()
			if err != nil {
				w.lib.log.Warn().Err(err).Msg("failed to rescan models directory")
				continue
			}
			w.onChange(models)
		}
	}
}
