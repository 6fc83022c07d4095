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
	"encoding/json"
	"fmt"
	"os"
	"sort"

	flag "github.com/spf13/pflag"

	"github.com/hivemindlabs/hivemind/internal/errors"
	"github.com/hivemindlabs/hivemind/internal/ui"
	"github.com/hivemindlabs/hivemind/pkg/storage"
)

// runStats executes the 'stats' CLI command, displaying index statistics
// from the vault database without rebuilding anything.
//
// Examples:
//
//	hivemind stats           Display formatted statistics
//	hivemind stats --json    Output as JSON for programmatic use
func runStats(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	jsonOut := fs.Bool("json", globals.JSON, "Output statistics as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hivemind stats [options]

Description:
  Show node and edge counts from the index, with per-type breakdowns.
  Reads the existing database; run 'hivemind start' to build it.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(errors.ExitFailure)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}

	dbPath := cfg.DatabasePath()
	if _, err := os.Stat(dbPath); err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"No index found",
			fmt.Sprintf("%s does not exist", dbPath),
			"Run 'hivemind start' to build the index first",
			err,
		), *jsonOut)
	}

	store, err := storage.Open(dbPath, storage.Options{
		EnableFTS: cfg.Indexing.EnableFullTextSearch,
		Logger:    newLogger(globals),
	})
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot open index database",
			fmt.Sprintf("Failed to open %s", dbPath),
			"The database may be corrupt; delete it and rebuild with 'hivemind start'",
			err,
		), *jsonOut)
	}
	defer func() { _ = store.Close() }()

	stats, err := store.GetStats(context.Background())
	if err != nil {
		errors.FatalError(errors.NewDatabaseError(
			"Cannot read index statistics",
			err.Error(),
			"The database may be corrupt; delete it and rebuild with 'hivemind start'",
			err,
		), *jsonOut)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(stats, "", "  ")
		fmt.Println(string(out))
		os.Exit(errors.ExitOK)
	}

	ui.Header("Vault index")
	ui.Infof("  Nodes: %s", ui.CountText(stats.Nodes))
	ui.Infof("  Edges: %s", ui.CountText(stats.Edges))

	if len(stats.NodesByType) > 0 {
		ui.SubHeader("Nodes by type")
		for _, k := range sortedKeys(stats.NodesByType) {
			ui.Infof("  %-16s %s", k, ui.CountText(stats.NodesByType[k]))
		}
	}
	if len(stats.EdgesByType) > 0 {
		ui.SubHeader("Edges by type")
		for _, k := range sortedKeys(stats.EdgesByType) {
			ui.Infof("  %-16s %s", k, ui.CountText(stats.EdgesByType[k]))
		}
	}
	os.Exit(errors.ExitOK)
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
