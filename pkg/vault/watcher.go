// Copyright 2025 Hivemind Labs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@hivemindlabs.io
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package vault

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// EventKind classifies a file-change event.
type EventKind string

const (
	EventCreated  EventKind = "created"
	EventModified EventKind = "modified"
	EventDeleted  EventKind = "deleted"
)

// Event is a debounced change to a single markdown file. Path is absolute.
// A rename arrives as a deleted event for the old path followed by a
// created event for the new one.
type Event struct {
	Kind EventKind
	Path string
}

// WatcherConfig configures a Watcher.
type WatcherConfig struct {
	// Root is the vault root directory.
	Root string

	// Debounce is the coalescing window per path. Defaults to 100ms.
	Debounce time.Duration

	// ExcludeGlobs are extra exclusion patterns, relative to Root.
	ExcludeGlobs []string

	// PollInterval is the rescan interval when the OS watcher is lost and
	// the watcher falls back to polling. Defaults to 2s.
	PollInterval time.Duration

	// QueueSize bounds the outgoing event channel. When the consumer is
	// slow, events stay in the per-path pending map (latest state wins)
	// instead of being dropped. Defaults to 256.
	QueueSize int

	Logger *slog.Logger
}

// Watcher streams debounced file-change events for a vault subtree.
type Watcher struct {
	cfg    WatcherConfig
	root   string
	logger *slog.Logger
	events chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent
}

type pendingEvent struct {
	kind EventKind
	seen time.Time
}

// NewWatcher creates a watcher for the vault root. Call Run to start it.
func NewWatcher(cfg WatcherConfig) (*Watcher, error) {
	absRoot, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve watch root: %w", err)
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = 100 * time.Millisecond
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Watcher{
		cfg:     cfg,
		root:    absRoot,
		logger:  cfg.Logger,
		events:  make(chan Event, cfg.QueueSize),
		pending: make(map[string]*pendingEvent),
	}, nil
}

// Events returns the outgoing event channel. It is closed when Run returns.
func (w *Watcher) Events() <-chan Event { return w.events }

// Run watches the vault until ctx is cancelled. If the OS watcher cannot be
// created or is lost (for example when the inotify limit is exceeded), Run
// logs a warning and degrades to polling at a coarser interval.
func (w *Watcher) Run(ctx context.Context) error {
	defer close(w.events)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("vault.watch.fallback_poll", "err", err)
		return w.runPollLoop(ctx)
	}
	defer fsw.Close() //nolint:errcheck

	if err := w.addTree(fsw, w.root); err != nil {
		w.logger.Warn("vault.watch.fallback_poll", "err", err)
		return w.runPollLoop(ctx)
	}

	flushEvery := w.cfg.Debounce / 2
	if flushEvery < 10*time.Millisecond {
		flushEvery = 10 * time.Millisecond
	}
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-fsw.Events:
			if !ok {
				return w.runPollLoop(ctx)
			}
			w.handleFsnotify(fsw, ev)

		case err, ok := <-fsw.Errors:
			if !ok {
				return w.runPollLoop(ctx)
			}
			// A watcher error usually means the OS watch descriptor budget
			// is exhausted. Degrade to polling rather than miss changes.
			w.logger.Warn("vault.watch.error_fallback_poll", "err", err)
			_ = fsw.Close()
			return w.runPollLoop(ctx)

		case now := <-ticker.C:
			w.flush(now)
		}
	}
}

// addTree registers a directory and its subdirectories with the OS watcher,
// skipping excluded directories.
func (w *Watcher) addTree(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDir(d.Name()) {
			return fs.SkipDir
		}
		rel := relSlash(w.root, path)
		if path != root && (matchesAny(w.cfg.ExcludeGlobs, rel) || matchesAny(w.cfg.ExcludeGlobs, rel+"/")) {
			return fs.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return err
		}
		return nil
	})
}

func (w *Watcher) handleFsnotify(fsw *fsnotify.Watcher, ev fsnotify.Event) {
	if ev.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if !skipDir(filepath.Base(ev.Name)) {
				if err := w.addTree(fsw, ev.Name); err != nil {
					w.logger.Warn("vault.watch.add_dir", "path", ev.Name, "err", err)
				}
			}
			return
		}
	}

	name := filepath.Base(ev.Name)
	if !IsMarkdown(ev.Name) || strings.HasPrefix(name, ".") {
		return
	}
	rel := relSlash(w.root, ev.Name)
	if matchesAny(w.cfg.ExcludeGlobs, rel) {
		return
	}

	switch {
	case ev.Op&fsnotify.Create != 0:
		w.record(ev.Name, EventCreated)
	case ev.Op&fsnotify.Write != 0:
		w.record(ev.Name, EventModified)
	case ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		w.record(ev.Name, EventDeleted)
	}
}

// record coalesces an event into the pending map. The latest state wins,
// except that a create followed by writes stays a create: downstream has
// not seen the file yet either way.
func (w *Watcher) record(path string, kind EventKind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	now := time.Now()
	if p, ok := w.pending[path]; ok {
		if !(p.kind == EventCreated && kind == EventModified) {
			p.kind = kind
		}
		p.seen = now
		return
	}
	w.pending[path] = &pendingEvent{kind: kind, seen: now}
}

// flush emits pending events whose debounce window has elapsed. When the
// consumer's queue is full the entry stays pending and keeps coalescing.
func (w *Watcher) flush(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, p := range w.pending {
		if now.Sub(p.seen) < w.cfg.Debounce {
			continue
		}
		select {
		case w.events <- Event{Kind: p.kind, Path: path}:
			delete(w.pending, path)
		default:
		}
	}
}

// runPollLoop is the degraded mode: rescan the vault at PollInterval and
// synthesize events from modtime and existence diffs.
func (w *Watcher) runPollLoop(ctx context.Context) error {
	w.logger.Warn("vault.watch.polling", "interval", w.cfg.PollInterval)

	known := w.snapshot()
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			current := w.snapshot()
			for path, mod := range current {
				prev, ok := known[path]
				if !ok {
					w.record(path, EventCreated)
				} else if !mod.Equal(prev) {
					w.record(path, EventModified)
				}
			}
			for path := range known {
				if _, ok := current[path]; !ok {
					w.record(path, EventDeleted)
				}
			}
			known = current
			// Poll cadence exceeds the debounce window, so flush directly.
			w.flush(now.Add(w.cfg.Debounce))
		}
	}
}

func (w *Watcher) snapshot() map[string]time.Time {
	out := make(map[string]time.Time)
	files, err := Scan(w.root, w.cfg.ExcludeGlobs)
	if err != nil {
		w.logger.Warn("vault.watch.poll_scan", "err", err)
		return out
	}
	for _, f := range files {
		if info, err := os.Stat(f.AbsPath); err == nil {
			out[f.AbsPath] = info.ModTime()
		}
	}
	return out
}
