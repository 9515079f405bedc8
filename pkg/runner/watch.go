// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file reruns the benchmarks whenever one of their executables is
// rebuilt. The watches sit on the executables' directories, not the
// files: build tools replace binaries instead of writing them in place,
// which would drop a file watch on the first rebuild.

package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the quiet window after the last change before a
// rerun starts. Linkers touch the output file several times.
const defaultDebounce = 500 * time.Millisecond

// Watcher reruns the configured benchmarks whenever one of their
// commands changes on disk.
//
// Description:
//
//	The watcher performs one initial run and then waits for changes to
//	the benchmark executables. Changes are debounced: a rebuild touching
//	the binary several times triggers a single rerun once the window
//	passes without further events. Regressions and failed runs are
//	logged and do not stop the loop.
//
// Thread Safety: Run must be called once; Stop is safe from any
// goroutine and idempotent.
type Watcher struct {
	runner   *Runner
	debounce time.Duration

	fsw     *fsnotify.Watcher
	targets map[string]struct{}

	done     chan struct{}
	stopOnce sync.Once
}

// NewWatcher creates a watcher over the runner's configured benchmarks.
// A non-positive debounce selects the default window.
func NewWatcher(r *Runner, debounce time.Duration) (*Watcher, error) {
	if debounce <= 0 {
		debounce = defaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		runner:   r,
		debounce: debounce,
		fsw:      fsw,
		targets:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	root := r.cfg.ProjectRoot
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to resolve working directory: %w", err)
		}
	}

	dirs := make(map[string]struct{})
	for _, bench := range r.cfg.Benchmarks {
		path := bench.Command
		if !filepath.IsAbs(path) {
			path = filepath.Join(root, path)
		}
		path = filepath.Clean(path)
		w.targets[path] = struct{}{}
		dirs[filepath.Dir(path)] = struct{}{}
	}
	for dir := range dirs {
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return nil, fmt.Errorf("failed to watch '%s': %w", dir, err)
		}
	}
	return w, nil
}

// Run performs the initial run and then reruns on every change until the
// context is canceled or Stop is called.
func (w *Watcher) Run(ctx context.Context, opts ...RunOption) error {
	if ctx == nil {
		return errors.New("context must not be nil")
	}
	defer w.Stop()

	w.rerun(ctx, opts)

	var timer *time.Timer
	var timerC <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.done:
			return nil
		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(event) {
				continue
			}
			w.runner.logger.Debug("benchmark executable changed",
				slog.String("path", event.Name),
				slog.String("op", event.Op.String()))
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				timerC = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.runner.logger.Warn("file watcher error", slog.String("error", err.Error()))
		case <-timerC:
			timer = nil
			timerC = nil
			w.rerun(ctx, opts)
		}
	}
}

// Stop ends the watch loop and releases the file watcher.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
		_ = w.fsw.Close()
	})
}

// relevant reports whether the event touches one of the watched
// executables with an operation that changes its content.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) && !event.Op.Has(fsnotify.Rename) {
		return false
	}
	_, ok := w.targets[filepath.Clean(event.Name)]
	return ok
}

// rerun runs all benchmarks once and reports the outcome. Failures keep
// the watch alive: the next rebuild gets the next attempt.
func (w *Watcher) rerun(ctx context.Context, opts []RunOption) {
	res, err := w.runner.RunAll(ctx, opts...)
	switch {
	case err != nil:
		w.runner.logger.Error("run failed", slog.String("error", err.Error()))
	case res.IsRegressed():
		w.runner.logger.Warn("run regressed",
			slog.Int("regressed", res.Regressed),
			slog.Int("clean", res.Clean))
	default:
		w.runner.logger.Info("run clean", slog.Int("benchmarks", len(res.Summaries)))
	}
	w.runner.logger.Info("watching for changes", slog.Int("executables", len(w.targets)))
}
