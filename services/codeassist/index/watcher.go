// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReindexFunc is called after each debounced rescan with the number of
// parsed files or the scan error.
type ReindexFunc func(parsed int, err error)

// WatcherOptions configures a Watcher.
type WatcherOptions struct {
	// Debounce is how long the tree must be quiet before a rescan.
	// Default: 500ms
	Debounce time.Duration

	// IgnoreDirs are directory base names that are not watched.
	IgnoreDirs []string

	// OnReindex is called after every rescan. Optional.
	OnReindex ReindexFunc
}

// DefaultWatcherOptions returns the defaults.
func DefaultWatcherOptions() WatcherOptions {
	return WatcherOptions{
		Debounce:   500 * time.Millisecond,
		IgnoreDirs: []string{".git", "node_modules", "__pycache__", ".venv", ".idea"},
	}
}

// Watcher rescans a project into an Index when files change.
//
// # Description
//
// Events are collected until the debounce window passes without new ones,
// then IndexDirectory runs once for the whole root. The index is always
// rebuilt from scratch; individual events only decide when.
//
// # Thread Safety
//
// Start and Stop are safe to call from any goroutine. Rescans run on a
// single goroutine, so they never overlap.
type Watcher struct {
	root    string
	index   *Index
	opts    WatcherOptions
	ignore  map[string]bool
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher for root that rescans into idx.
func NewWatcher(root string, idx *Index, opts *WatcherOptions) (*Watcher, error) {
	if opts == nil {
		defaults := DefaultWatcherOptions()
		opts = &defaults
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultWatcherOptions().Debounce
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ignore := make(map[string]bool, len(opts.IgnoreDirs))
	for _, name := range opts.IgnoreDirs {
		ignore[name] = true
	}

	return &Watcher{
		root:    root,
		index:   idx,
		opts:    *opts,
		ignore:  ignore,
		watcher: fw,
		logger:  idx.logger,
		done:    make(chan struct{}),
	}, nil
}

// Start registers every directory under root and begins watching. It
// returns once registration is done; events are handled in the background
// until ctx is canceled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.addRecursive(w.root); err != nil {
		return err
	}
	go w.loop(ctx)
	return nil
}

// Stop stops watching. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		w.watcher.Close()
	})
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if path != root && w.ignore[d.Name()] {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if w.ignore[filepath.Base(filepath.Dir(event.Name))] || w.ignore[filepath.Base(event.Name)] {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(event.Name); err != nil {
						w.logger.Warn("failed to watch new directory",
							slog.String("dir", event.Name),
							slog.String("error", err.Error()))
					}
				}
			}
			if timer == nil {
				timer = time.NewTimer(w.opts.Debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", slog.String("error", err.Error()))

		case <-timerC:
			timer = nil
			timerC = nil
			parsed, err := w.index.IndexDirectory(ctx, w.root)
			if err != nil {
				w.logger.Warn("rescan failed",
					slog.String("root", w.root),
					slog.String("error", err.Error()))
			}
			if w.opts.OnReindex != nil {
				w.opts.OnReindex(parsed, err)
			}
		}
	}
}
