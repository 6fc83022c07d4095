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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/hivemindlabs/hivemind/internal/errors"
	"github.com/hivemindlabs/hivemind/internal/ui"
	"github.com/hivemindlabs/hivemind/pkg/index"
	"github.com/hivemindlabs/hivemind/pkg/search"
	"github.com/hivemindlabs/hivemind/pkg/storage"
	"github.com/hivemindlabs/hivemind/pkg/tools"
)

// runStart executes the 'start' CLI command: build the index from the
// vault, start the file watcher, and serve MCP over stdio until the client
// closes stdin or the process receives SIGINT/SIGTERM.
//
// Stdout carries only JSON-RPC; everything human-facing goes to stderr.
//
// Flags:
//   - --vault: Override the configured vault directory
//   - --no-watch: Do not watch the vault for changes
//   - --metrics-addr: Serve Prometheus metrics on this address (e.g. :9464)
//
// Examples:
//
//	hivemind start
//	hivemind start --no-watch
//	hivemind start --metrics-addr :9464
func runStart(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("start", flag.ExitOnError)
	vaultOverride := fs.String("vault", "", "Vault directory (overrides vault.path from the config)")
	noWatch := fs.Bool("no-watch", false, "Do not watch the vault for changes")
	metricsAddr := fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hivemind start [options]

Description:
  Index the vault, keep the index in step with file changes, and serve
  the vault's tools to MCP clients over stdio.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(errors.ExitFailure)
	}

	logger := newLogger(globals)

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if *vaultOverride != "" {
		cfg.Vault.Path = *vaultOverride
	}
	reg, err := cfg.BuildRegistry()
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	dbPath := cfg.DatabasePath()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot create index directory",
			fmt.Sprintf("Failed to create %s", filepath.Dir(dbPath)),
			"Check the vault directory is writable",
			err,
		), globals.JSON)
	}
	store, err := storage.Open(dbPath, storage.Options{
		EnableFTS: cfg.Indexing.EnableFullTextSearch,
		Logger:    logger,
	})
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open index database",
			fmt.Sprintf("Failed to open %s", dbPath),
			"Close other Hivemind instances, or delete the database to rebuild it",
			err,
		), globals.JSON)
	}
	defer func() { _ = store.Close() }()

	promReg := prometheus.NewRegistry()
	metrics := index.NewMetrics(promReg)
	if *metricsAddr != "" {
		go serveMetrics(*metricsAddr, promReg, logger)
	}

	// Build progress on stderr; one bar for the parse phase.
	progressCfg := NewProgressConfig(globals)
	var barMu sync.Mutex
	var bar *progressbar.ProgressBar
	progress := func(done, total int) {
		barMu.Lock()
		defer barMu.Unlock()
		if bar == nil {
			bar = NewProgressBar(progressCfg, int64(total), "Indexing vault")
		}
		if bar != nil {
			_ = bar.Set(done)
		}
	}

	pipeline := index.NewPipeline(reg, store, index.Config{
		VaultPath:    cfg.Vault.Path,
		ExcludeGlobs: cfg.Vault.Exclude,
		Strategy:     cfg.Indexing.Strategy,
		BatchSize:    cfg.Indexing.BatchSize,
		Debounce:     time.Duration(cfg.Vault.DebounceMs) * time.Millisecond,
		Progress:     progress,
		Metrics:      metrics,
		Logger:       logger,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := pipeline.Build(ctx)
	barMu.Lock()
	if bar != nil {
		_ = bar.Finish()
	}
	barMu.Unlock()
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Initial index build failed",
			"An error occurred while indexing the vault",
			"Check the vault path, then retry. If this persists, delete .hivemind/vault.db",
			err,
		), globals.JSON)
	}

	if !globals.Quiet {
		ui.Successf("Indexed %s notes and %s relationships (%d skipped, %d parse errors)",
			ui.CountText(result.NodesCreated), ui.CountText(result.EdgesCreated),
			result.SkippedFiles, len(result.ParseFailures))
		for _, pf := range result.ParseFailures {
			ui.Warningf("parse error: %s: %s", pf.Path, pf.Err)
		}
	}

	engine := search.NewEngine(store, pipeline.Graph(), search.Options{Logger: logger})

	dispatcher, err := tools.NewDispatcher(tools.Config{
		Registry:  reg,
		Store:     store,
		Graph:     pipeline.Graph(),
		Search:    engine,
		Rebuilder: pipeline,
		OnCall: func(tool string) {
			metrics.ToolCalls.WithLabelValues(tool).Inc()
		},
		Logger: logger,
	})
	if err != nil {
		errors.FatalError(errors.NewTemplateError(
			"Cannot generate MCP tools",
			"The active template produced an invalid tool surface",
			"Check entity type names in the active template",
			err,
		), globals.JSON)
	}

	if cfg.Vault.WatchForChanges && !*noWatch {
		go func() {
			if err := pipeline.Watch(ctx); err != nil {
				logger.Error("local.start.watch_failed", "err", err)
			}
		}()
	} else {
		logger.Info("local.start.watch_disabled")
	}

	runMCPServer(ctx, dispatcher, cfg, globals)
}

// serveMetrics exposes the Prometheus registry over HTTP. Failures are
// logged, never fatal; metrics are an optional surface.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	logger.Info("local.metrics.listen", "addr", addr)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	if err := srv.ListenAndServe(); err != nil {
		logger.Error("local.metrics.serve_failed", "err", err)
	}
}
