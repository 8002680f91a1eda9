// fleetd - Worker Fleet Supervisor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetd

// Package watch reports settled file changes under a set of paths.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tomtom215/fleetd/internal/logging"
)

// Watcher watches files and directory trees and calls onSettled once a
// burst of changes has been quiet for the debounce window. Only changes
// made after Serve starts are reported. It implements suture.Service.
type Watcher struct {
	paths     []string
	debouncer *Debouncer

	mu    sync.Mutex
	dirs  map[string]bool // every directory inside a watched tree
	files map[string]bool // individually watched files

	ready chan struct{}
	once  sync.Once
	name  string
}

// New creates a Watcher over paths. Directories are watched recursively;
// files are watched through their parent directory so that editors that
// replace the file on save are still seen.
func New(paths []string, window time.Duration, onSettled func(path string)) *Watcher {
	return &Watcher{
		paths:     append([]string(nil), paths...),
		debouncer: NewDebouncer(window, onSettled),
		dirs:      make(map[string]bool),
		files:     make(map[string]bool),
		ready:     make(chan struct{}),
		name:      "file-watcher",
	}
}

// Ready is closed once the initial watches are registered.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Serve implements suture.Service.
func (w *Watcher) Serve(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fw.Close()
	// Serve is restarted by the supervisor, so only drop the pending call.
	defer w.debouncer.Cancel()

	w.mu.Lock()
	w.dirs = make(map[string]bool)
	w.files = make(map[string]bool)
	w.mu.Unlock()

	for _, p := range w.paths {
		if err := w.add(fw, p); err != nil {
			logging.Warn().Err(err).Str("path", p).Msg("Cannot watch path")
		}
	}
	w.once.Do(func() { close(w.ready) })

	logging.Info().Strs("paths", w.paths).Msg("File watcher started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-fw.Events:
			if !ok {
				return errors.New("fsnotify event channel closed")
			}
			w.handle(fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("fsnotify error channel closed")
			}
			logging.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *Watcher) handle(fw *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op == fsnotify.Chmod {
		return
	}
	name := filepath.Clean(event.Name)
	if !w.matches(name) {
		return
	}

	// New directories inside a watched tree join the watch.
	if event.Has(fsnotify.Create) && w.inTree(filepath.Dir(name)) {
		if info, err := os.Stat(name); err == nil && info.IsDir() {
			if err := w.addTree(fw, name); err != nil {
				logging.Warn().Err(err).Str("path", name).Msg("Cannot watch new directory")
			}
		}
	}

	logging.Debug().Str("path", name).Str("op", event.Op.String()).Msg("File change")
	w.debouncer.Trigger(name)
}

func (w *Watcher) matches(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[name] || w.dirs[filepath.Dir(name)] || w.dirs[name]
}

func (w *Watcher) inTree(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dirs[dir]
}

func (w *Watcher) add(fw *fsnotify.Watcher, path string) error {
	path = filepath.Clean(path)
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return w.addTree(fw, path)
	}

	if err := fw.Add(filepath.Dir(path)); err != nil {
		return err
	}
	w.mu.Lock()
	w.files[path] = true
	w.mu.Unlock()
	return nil
}

func (w *Watcher) addTree(fw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := fw.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		w.mu.Lock()
		w.dirs[filepath.Clean(p)] = true
		w.mu.Unlock()
		return nil
	})
}

// String implements fmt.Stringer for suture logging.
func (w *Watcher) String() string {
	return w.name
}
