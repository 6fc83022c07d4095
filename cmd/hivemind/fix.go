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
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/hivemindlabs/hivemind/internal/errors"
	"github.com/hivemindlabs/hivemind/internal/ui"
	"github.com/hivemindlabs/hivemind/pkg/index"
)

// runFix executes the 'fix' CLI command, repairing notes the folder
// mapper can classify unambiguously: it assigns a type, and creates
// frontmatter with a filename-derived id where a file has none.
//
// Without --apply the command only prints the plan. Files whose folder
// maps to several candidate types are listed but never touched.
//
// Flags:
//   - --apply: Write the planned repairs to disk
//   - --json: Output the plan (and applied count) as JSON
//
// Examples:
//
//	hivemind fix              Preview repairs
//	hivemind fix --apply      Write repairs to disk
func runFix(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("fix", flag.ExitOnError)
	apply := fs.Bool("apply", false, "Write the planned repairs to disk")
	jsonOut := fs.Bool("json", globals.JSON, "Output the plan as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hivemind fix [path] [options]

Description:
  Propose (and with --apply, write) repairs for notes missing a type
  or frontmatter, using the active template's folder mappings. Only
  unambiguous folder matches are repaired.

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
	// An optional positional argument overrides the configured vault.
	if fs.NArg() > 0 {
		cfg.Vault.Path = fs.Arg(0)
	}
	reg, err := cfg.BuildRegistry()
	if err != nil {
		errors.FatalError(err, *jsonOut)
	}

	p := index.NewPipeline(reg, nil, index.Config{
		VaultPath:    cfg.Vault.Path,
		ExcludeGlobs: cfg.Vault.Exclude,
		Logger:       newLogger(globals),
	})

	ctx := context.Background()
	plan, err := p.PlanFixes(ctx)
	if err != nil {
		errors.FatalError(errors.NewInputError(
			"Cannot plan repairs",
			err.Error(),
			"Check the vault path and template configuration",
		), *jsonOut)
	}

	applied := 0
	var applyErr error
	if *apply {
		applied, applyErr = p.ApplyFixes(ctx, plan)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(map[string]any{
			"plan":    plan,
			"applied": applied,
		}, "", "  ")
		fmt.Println(string(out))
	} else {
		printFixPlan(plan, *apply, applied)
	}

	if applyErr != nil {
		errors.FatalError(errors.NewPermissionError(
			"Repair aborted",
			fmt.Sprintf("Applied %d of %d repairs before failing", applied, len(plan.Actions)),
			"Check file permissions, then re-run 'hivemind fix --apply'",
			applyErr,
		), *jsonOut)
	}
	os.Exit(errors.ExitOK)
}

func printFixPlan(plan *index.FixPlan, applied bool, count int) {
	if len(plan.Actions) == 0 && len(plan.Ambiguous) == 0 {
		ui.Success("Nothing to fix")
		return
	}

	for _, a := range plan.Actions {
		var parts []string
		if a.CreateFrontmatter {
			parts = append(parts, "create frontmatter")
		}
		if a.SetType != "" {
			parts = append(parts, fmt.Sprintf("set type=%s", a.SetType))
		}
		if a.SetID != "" {
			parts = append(parts, fmt.Sprintf("set id=%s", a.SetID))
		}
		verb := "would"
		if applied {
			verb = "did"
		}
		fmt.Printf("  %s %s %s %s\n",
			ui.Label(a.RelPath), verb, strings.Join(parts, ", "),
			ui.DimText("("+a.Reason+")"))
	}

	for _, amb := range plan.Ambiguous {
		ui.Warningf("%s skipped: folder maps to several types (%s)",
			amb.RelPath, strings.Join(amb.Candidates, ", "))
	}

	fmt.Println()
	if applied {
		ui.Successf("Applied %s repairs", ui.CountText(count))
	} else {
		ui.Infof("%s repairs planned. Run 'hivemind fix --apply' to write them.",
			ui.CountText(len(plan.Actions)))
	}
}
