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
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/hivemindlabs/hivemind/internal/errors"
	"github.com/hivemindlabs/hivemind/internal/ui"
)

// initFlags holds parsed flags for the init command.
type initFlags struct {
	force, nonInteractive bool
	vaultPath             string
	templateID            string
	noWatch               bool
}

// runInit executes the 'init' CLI command, creating a hivemind.yaml
// configuration file in the working directory.
//
// In interactive mode it prompts for the vault path and template; with -y
// it accepts the defaults.
//
// Flags:
//   - --force: Overwrite existing configuration (default: false)
//   - -y: Non-interactive mode, use all defaults (default: false)
//   - --vault: Vault directory (default: current directory)
//   - --template: Active template id (default: worldbuilding)
//   - --no-watch: Disable the file watcher in the generated config
//
// Examples:
//
//	hivemind init                  Interactive setup
//	hivemind init -y               Use all defaults
//	hivemind init --vault ./lore   Configure a specific vault directory
func runInit(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	flags := initFlags{}
	fs.BoolVar(&flags.force, "force", false, "Overwrite existing configuration")
	fs.BoolVarP(&flags.nonInteractive, "yes", "y", false, "Non-interactive mode, use all defaults")
	fs.StringVar(&flags.vaultPath, "vault", "", "Vault directory (default: current directory)")
	fs.StringVar(&flags.templateID, "template", defaultTemplateID, "Active template id")
	fs.BoolVar(&flags.noWatch, "no-watch", false, "Disable the file watcher in the generated config")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hivemind init [options]

Description:
  Create a hivemind.yaml configuration file in the current directory.

Options:
`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(errors.ExitFailure)
	}

	cwd, err := os.Getwd()
	if err != nil {
		errors.FatalError(errors.NewInternalError(
			"Cannot access working directory",
			"Failed to determine current directory path",
			"This is unexpected. Please report this issue if it persists",
			err,
		), globals.JSON)
	}

	configPath := filepath.Join(cwd, configFileName)
	if _, err := os.Stat(configPath); err == nil && !flags.force {
		errors.FatalError(errors.NewInputError(
			"Configuration already exists",
			fmt.Sprintf("%s already exists in this directory", configPath),
			"Use 'hivemind init --force' to overwrite the existing configuration",
		), globals.JSON)
	}

	vaultPath := flags.vaultPath
	if vaultPath == "" {
		vaultPath = "."
	}
	templateID := flags.templateID

	if !flags.nonInteractive {
		reader := bufio.NewReader(os.Stdin)
		ui.Header("Hivemind setup")
		vaultPath = prompt(reader, "Vault directory", vaultPath)
		templateID = prompt(reader, "Active template", templateID)
	}

	// Reject a vault directory that does not exist rather than writing a
	// config that every later command will trip over.
	absVault := vaultPath
	if !filepath.IsAbs(absVault) {
		absVault = filepath.Join(cwd, vaultPath)
	}
	if info, err := os.Stat(absVault); err != nil || !info.IsDir() {
		errors.FatalError(errors.NewInputError(
			"Vault directory not found",
			fmt.Sprintf("%s does not exist or is not a directory", absVault),
			"Create the directory first, or pass a different --vault",
		), globals.JSON)
	}

	cfg := DefaultConfig(vaultPath)
	cfg.Template.ActiveTemplate = templateID
	cfg.Vault.WatchForChanges = !flags.noWatch

	if err := cfg.Save(configPath); err != nil {
		errors.FatalError(errors.NewPermissionError(
			"Cannot write configuration",
			fmt.Sprintf("Failed to write %s", configPath),
			"Check directory permissions",
			err,
		), globals.JSON)
	}

	if !globals.Quiet {
		ui.Successf("Created %s", configPath)
		ui.Infof("Vault: %s", absVault)
		ui.Infof("Template: %s", templateID)
		fmt.Fprintln(os.Stderr)
		ui.Info("Next steps:")
		ui.Info("  1. hivemind validate")
		ui.Info("  2. hivemind fix --apply")
		ui.Info("  3. hivemind start")
	}
	os.Exit(errors.ExitOK)
}

// prompt reads one line from the user, falling back to def on empty input.
func prompt(reader *bufio.Reader, label, def string) string {
	fmt.Fprintf(os.Stderr, "%s [%s]: ", label, def)
	line, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return def
	}
	return line
}
