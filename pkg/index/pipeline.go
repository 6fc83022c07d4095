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

// Package index orchestrates the ingestion pipeline: scan, parse, graph
// build, persist, and the live watch loop that keeps the index in step
// with the vault.
package index

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hivemindlabs/hivemind/pkg/graph"
	"github.com/hivemindlabs/hivemind/pkg/storage"
	"github.com/hivemindlabs/hivemind/pkg/template"
	"github.com/hivemindlabs/hivemind/pkg/vault"
)

// Rebuild strategies.
const (
	StrategyFull        = "full"
	StrategyIncremental = "incremental"
)

// Config configures a Pipeline.
type Config struct {
	// VaultPath is the vault root directory.
	VaultPath string

	// ExcludeGlobs are extra exclusion patterns relative to the root.
	ExcludeGlobs []string

	// Workers sizes the parse pool for initial builds. Defaults to the CPU
	// count, capped at 4. Watch events are applied serially regardless.
	Workers int

	// Strategy selects how Rebuild refreshes an existing index.
	// StrategyIncremental re-applies only files whose size or modification
	// time changed since they were indexed; StrategyFull (the zero value
	// too) always clears and re-indexes. The initial Build is always full.
	Strategy string

	// BatchSize bounds how many node writes share one store transaction
	// during a full build. Defaults to 100.
	BatchSize int

	// Debounce is the watcher coalescing window.
	Debounce time.Duration

	// Progress, when set, is called after each file is parsed during a
	// build. It must be safe for concurrent use.
	Progress func(done, total int)

	Metrics *Metrics
	Logger  *slog.Logger
}

// ParseFailure records a file the build tolerated but could not parse.
type ParseFailure struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// BuildResult is the outcome of a full build.
type BuildResult struct {
	graph.BuildStats
	ParseFailures []ParseFailure `json:"parseFailures,omitempty"`
}

// Pipeline owns the wiring between vault, parser, graph builder and store.
type Pipeline struct {
	cfg      Config
	registry *template.Registry
	store    *storage.Store
	graph    *graph.Graph
	builder  *graph.Builder
	logger   *slog.Logger

	// mu serializes all graph and store mutation: initial builds, rebuilds
	// requested through tools, and watch-event application. The builder
	// itself is single-threaded.
	mu sync.Mutex
}

// NewPipeline wires a pipeline. The registry may have no active template;
// edge inference then falls back to the built-in table.
func NewPipeline(reg *template.Registry, store *storage.Store, cfg Config) *Pipeline {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
		if cfg.Workers > 4 {
			cfg.Workers = 4
		}
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	g := graph.New()
	b := graph.NewBuilder(reg, g, store, cfg.Logger)
	b.SetBatchSize(cfg.BatchSize)
	return &Pipeline{
		cfg:      cfg,
		registry: reg,
		store:    store,
		graph:    g,
		builder:  b,
		logger:   cfg.Logger,
	}
}

// Graph returns the live projection for search and tools.
func (p *Pipeline) Graph() *graph.Graph { return p.graph }

// Store returns the persistence layer.
func (p *Pipeline) Store() *storage.Store { return p.store }

// Build scans the vault, parses every markdown file on a worker pool, and
// rebuilds the graph and store from scratch. Per-file parse errors are
// tolerated and reported; they never abort the build.
func (p *Pipeline) Build(ctx context.Context) (*BuildResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	start := time.Now()

	files, err := vault.Scan(p.cfg.VaultPath, p.cfg.ExcludeGlobs)
	if err != nil {
		return nil, err
	}
	p.logger.Info("local.index.build.start",
		"vault", p.cfg.VaultPath, "files", len(files), "workers", p.cfg.Workers)

	notes, failures := p.parseAll(ctx, files)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := p.store.Clear(ctx); err != nil {
		return nil, err
	}
	stats, err := p.builder.Build(ctx, notes)
	if err != nil {
		return nil, err
	}

	result := &BuildResult{BuildStats: *stats, ParseFailures: failures}
	result.Duration = time.Since(start)
	p.cfg.Metrics.observeBuild(result.Duration.Seconds(), stats.NodesCreated, len(failures))
	p.logger.Info("local.index.build.done",
		"nodes", stats.NodesCreated, "edges", stats.EdgesCreated,
		"skipped", stats.SkippedFiles, "parse_errors", len(failures),
		"unresolved_links", stats.UnresolvedLinks,
		"duration", result.Duration.Round(time.Millisecond))
	return result, nil
}

// Rebuild refreshes the index. With the incremental strategy it diffs the
// vault against the indexed file states and applies only the changes; a
// dirty projection or any failure mid-diff falls back to a full build. It
// backs the rebuild_index tool and recovery after a store failure.
func (p *Pipeline) Rebuild(ctx context.Context) (*BuildResult, error) {
	if p.cfg.Strategy == StrategyIncremental {
		if res, ok := p.incrementalRebuild(ctx); ok {
			return res, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return p.Build(ctx)
}

// incrementalRebuild applies create/modify/delete deltas for files whose
// size or modification time changed since they were indexed. It reports
// false when the caller must run a full build instead.
func (p *Pipeline) incrementalRebuild(ctx context.Context) (*BuildResult, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	known := p.builder.Files()
	if p.builder.Dirty() || len(known) == 0 {
		return nil, false
	}

	start := time.Now()
	files, err := vault.Scan(p.cfg.VaultPath, p.cfg.ExcludeGlobs)
	if err != nil {
		p.logger.Warn("local.index.rebuild.scan_failed", "err", err)
		return nil, false
	}

	result := &BuildResult{}
	result.FilesScanned = len(files)
	seen := make(map[string]struct{}, len(files))
	changed := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return nil, false
		}
		seen[f.AbsPath] = struct{}{}
		prev, indexed := known[f.AbsPath]
		if indexed {
			if info, err := os.Stat(f.AbsPath); err == nil &&
				info.Size() == prev.Size && info.ModTime().Equal(prev.Modified) {
				continue
			}
		}
		note, err := vault.ParseFile(f.AbsPath)
		if err != nil {
			result.ParseFailures = append(result.ParseFailures,
				ParseFailure{Path: f.AbsPath, Err: err.Error()})
			continue
		}
		if indexed {
			err = p.builder.ApplyModify(ctx, note)
		} else {
			err = p.builder.ApplyCreate(ctx, note)
		}
		if err != nil {
			p.logger.Warn("local.index.rebuild.apply_failed", "path", f.AbsPath, "err", err)
			return nil, false
		}
		changed++
	}
	for path := range known {
		if _, ok := seen[path]; ok {
			continue
		}
		if err := p.builder.ApplyDelete(ctx, path); err != nil {
			p.logger.Warn("local.index.rebuild.delete_failed", "path", path, "err", err)
			return nil, false
		}
		changed++
	}

	result.NodesCreated = p.graph.NodeCount()
	result.EdgesCreated = p.graph.EdgeCount()
	result.Duration = time.Since(start)
	p.logger.Info("local.index.rebuild.incremental",
		"files", len(files), "changed", changed,
		"duration", result.Duration.Round(time.Millisecond))
	return result, true
}

// parseAll fans files out to the worker pool. Results keep scan order so
// builds are deterministic.
func (p *Pipeline) parseAll(ctx context.Context, files []vault.File) ([]*vault.Note, []ParseFailure) {
	type job struct {
		i int
		f vault.File
	}
	parsed := make([]*vault.Note, len(files))
	failed := make([]*ParseFailure, len(files))

	jobs := make(chan job)
	var done atomic.Int64
	var wg sync.WaitGroup
	for w := 0; w < p.cfg.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				note, err := vault.ParseFile(j.f.AbsPath)
				if err != nil {
					failed[j.i] = &ParseFailure{Path: j.f.AbsPath, Err: err.Error()}
					p.logger.Warn("local.index.parse_file.error",
						"path", j.f.AbsPath, "err", err)
				} else {
					parsed[j.i] = note
				}
				n := done.Add(1)
				if p.cfg.Progress != nil {
					p.cfg.Progress(int(n), len(files))
				}
			}
		}()
	}

feed:
	for i, f := range files {
		select {
		case jobs <- job{i, f}:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	var notes []*vault.Note
	var failures []ParseFailure
	for i := range files {
		if parsed[i] != nil {
			notes = append(notes, parsed[i])
		} else if failed[i] != nil {
			failures = append(failures, *failed[i])
		}
	}
	return notes, failures
}

// Watch runs the file watcher and applies debounced events serially in
// arrival order, which preserves per-path ordering. It returns when ctx is
// cancelled.
func (p *Pipeline) Watch(ctx context.Context) error {
	w, err := vault.NewWatcher(vault.WatcherConfig{
		Root:         p.cfg.VaultPath,
		Debounce:     p.cfg.Debounce,
		ExcludeGlobs: p.cfg.ExcludeGlobs,
		Logger:       p.logger,
	})
	if err != nil {
		return err
	}

	runErr := make(chan error, 1)
	go func() { runErr <- w.Run(ctx) }()

	for ev := range w.Events() {
		if p.applyEvent(ctx, ev) {
			p.logger.Warn("local.index.watch.rebuild_after_error")
			if _, err := p.Rebuild(ctx); err != nil {
				p.logger.Error("local.index.watch.rebuild_failed", "err", err)
			}
		}
	}

	err = <-runErr
	if errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil
	}
	return err
}

// applyEvent applies one watch event under the pipeline lock and reports
// whether a store failure left the projection dirty.
func (p *Pipeline) applyEvent(ctx context.Context, ev vault.Event) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.cfg.Metrics.countWatchEvent(string(ev.Kind))
	p.logger.Debug("local.index.watch.event", "kind", ev.Kind, "path", ev.Path)

	switch ev.Kind {
	case vault.EventDeleted:
		if err := p.builder.ApplyDelete(ctx, ev.Path); err != nil {
			p.logger.Error("local.index.watch.delete", "path", ev.Path, "err", err)
		}

	case vault.EventCreated, vault.EventModified:
		note, err := vault.ParseFile(ev.Path)
		if err != nil {
			if p.cfg.Metrics != nil {
				p.cfg.Metrics.ParseErrors.Inc()
			}
			p.logger.Warn("local.index.watch.parse", "path", ev.Path, "err", err)
			return p.builder.Dirty()
		}
		if ev.Kind == vault.EventCreated {
			err = p.builder.ApplyCreate(ctx, note)
		} else {
			err = p.builder.ApplyModify(ctx, note)
		}
		if err != nil {
			p.logger.Error("local.index.watch.apply",
				"kind", ev.Kind, "path", ev.Path, "err", err)
		}
	}
	return p.builder.Dirty()
}
