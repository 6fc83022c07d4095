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

// Package main implements the Hivemind CLI for indexing Markdown vaults and
// serving them to AI assistants over MCP.
//
// Usage:
//
//	hivemind init                 Create hivemind.yaml configuration
//	hivemind validate [--json]    Check vault notes against the active template
//	hivemind fix [--apply]        Repair missing types and frontmatter
//	hivemind start                Index the vault and serve MCP over stdio
//	hivemind stats [--json]       Show index statistics
//	hivemind --mcp                Alias for 'hivemind start'
package main

import (
	"fmt"
	"log/slog"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/hivemindlabs/hivemind/internal/ui"
)

// Version information (set via ldflags during build)
var (
	version = "dev"     // Version string
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool // Output in JSON format (for applicable commands)
	NoColor bool // Disable color output
	Verbose int  // Verbosity level: 0=normal, 1=-v (info), 2=-vv (debug)
	Quiet   bool // Suppress non-essential output (progress, info messages)
}

// newLogger builds the process-wide structured logger. All diagnostics go to
// stderr because stdout is the MCP protocol channel in server mode.
func newLogger(globals GlobalFlags) *slog.Logger {
	level := slog.LevelWarn
	switch {
	case globals.Quiet:
		level = slog.LevelError
	case globals.Verbose >= 2:
		level = slog.LevelDebug
	case globals.Verbose == 1:
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// main is the entry point for the Hivemind CLI.
//
// It parses global flags, dispatches to command handlers, or starts the MCP
// server directly when --mcp is given.
func main() {
	// Global flags with short forms
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		mcpMode     = flag.Bool("mcp", false, "Start as MCP server (JSON-RPC over stdio)")
		configPath  = flag.StringP("config", "c", "", "Path to hivemind.yaml (default: ./hivemind.yaml)")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress non-essential output (progress, info messages)")
	)

	// Stop parsing at the first non-flag argument (the command name) so
	// subcommand flags like "fix --apply" reach the subcommand parser.
	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `Hivemind - Markdown vault intelligence

Hivemind indexes a local Markdown vault into a knowledge graph and
exposes it to Claude Code and other MCP-compatible tools: typed
entity queries, relationship traversal, and hybrid search, all
driven by the vault's template.

Usage:
  hivemind <command> [options]

Commands:
  init          Create hivemind.yaml configuration
  validate      Check vault notes against the active template
  fix           Repair missing types and frontmatter (dry-run by default)
  start         Index the vault and serve MCP over stdio
  stats         Show index statistics

Global Options:
  --json            Output in JSON format (for applicable commands)
  --no-color        Disable color output (respects NO_COLOR env var)
  -v, --verbose     Increase verbosity (-v for info, -vv for debug)
  -q, --quiet       Suppress non-essential output (progress, info messages)
  --mcp             Start as MCP server (alias for 'start')
  -c, --config      Path to hivemind.yaml
  -V, --version     Show version and exit

Examples:
  hivemind init                      Create configuration interactively
  hivemind validate                  Validate the vault
  hivemind validate --json           Output findings as JSON
  hivemind fix                       Preview repairs
  hivemind fix --apply               Write repairs to disk
  hivemind start                     Index and serve MCP over stdio
  hivemind stats --json              Index statistics as JSON

Getting Started:
  1. Create a configuration:     hivemind init
  2. Validate your vault:        hivemind validate
  3. Repair what it found:       hivemind fix --apply
  4. Serve it to your assistant: hivemind start

Data Storage:
  The index lives inside the vault at .hivemind/vault.db and is
  rebuilt from the Markdown files at any time. Notes on disk are
  the source of truth.

Environment Variables:
  HIVEMIND_CONFIG    Path to hivemind.yaml (overridden by --config)
  NO_COLOR           Disable color output

For detailed command help: hivemind <command> --help

`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("hivemind version %s\n", version)
		fmt.Printf("commit: %s\n", commit)
		fmt.Printf("built: %s\n", date)
		os.Exit(0)
	}

	// Check NO_COLOR environment variable
	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}

	// Validate conflicting flags
	if *quiet && *verbose > 0 {
		fmt.Fprintf(os.Stderr, "Error: cannot use --quiet and --verbose together\n")
		os.Exit(1)
	}

	// JSON mode auto-enables quiet to prevent progress bars corrupting JSON output
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{
		JSON:    *jsonOutput,
		NoColor: *noColor,
		Verbose: *verbose,
		Quiet:   *quiet,
	}

	ui.InitColors(globals.NoColor)

	// MCP mode takes precedence
	if *mcpMode {
		runStart(nil, *configPath, globals)
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "init":
		runInit(cmdArgs, globals)
	case "validate":
		runValidate(cmdArgs, *configPath, globals)
	case "fix":
		runFix(cmdArgs, *configPath, globals)
	case "start":
		runStart(cmdArgs, *configPath, globals)
	case "stats":
		runStats(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
