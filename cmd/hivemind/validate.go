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
	"github.com/hivemindlabs/hivemind/pkg/index"
	"github.com/hivemindlabs/hivemind/pkg/template"
)

// runValidate executes the 'validate' CLI command, checking every vault
// note against the active template's schemas and folder mappings.
//
// Findings are grouped by issue kind, then by file. A clean vault prints
// nothing and exits 0; findings exit 1; configuration failures exit 2.
//
// Flags:
//   - --json: Output the report as JSON
//   - --skip-missing: Ignore files without frontmatter
//   - --ignore: Extra exclusion glob (repeatable)
//
// Examples:
//
//	hivemind validate
//	hivemind validate --json
//	hivemind validate --skip-missing --ignore "drafts/**"
func runValidate(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	jsonOut := fs.Bool("json", globals.JSON, "Output the report as JSON")
	skipMissing := fs.Bool("skip-missing", false, "Ignore files without frontmatter")
	ignore := fs.StringArray("ignore", nil, "Extra exclusion glob (repeatable)")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: hivemind validate [path] [options]

Description:
  Check every vault note against the active template: required fields,
  enum values, declared entity types, and folder placement.

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

	report, err := p.Validate(context.Background(), index.ValidateOptions{
		SkipMissingFrontmatter: *skipMissing,
		IgnoreGlobs:            *ignore,
	})
	if err != nil {
		errors.FatalError(errors.NewInputError(
			"Validation failed",
			err.Error(),
			"Check the vault path and template configuration",
		), *jsonOut)
	}

	if *jsonOut {
		out, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(out))
		if report.Clean() {
			os.Exit(errors.ExitOK)
		}
		os.Exit(errors.ExitFailure)
	}

	if report.Clean() {
		if !globals.Quiet {
			ui.Successf("Vault is valid (%s files scanned)", ui.CountText(report.FilesScanned))
		}
		os.Exit(errors.ExitOK)
	}

	printReport(report)
	os.Exit(errors.ExitFailure)
}

// printReport renders findings grouped by issue kind, then file. The whole
// report goes to stdout so piped output stays in order.
func printReport(report *index.ValidationReport) {
	kinds := make([]template.IssueKind, 0, len(report.Counts))
	for kind := range report.Counts {
		kinds = append(kinds, kind)
	}
	sort.Slice(kinds, func(a, b int) bool { return kinds[a] < kinds[b] })

	for _, kind := range kinds {
		ui.Header(fmt.Sprintf("%s (%d)", kind, report.Counts[kind]))
		for _, f := range report.Files {
			for _, issue := range f.Issues {
				if issue.Kind != kind {
					continue
				}
				if issue.Field != "" {
					fmt.Printf("  %s  %s: %s\n",
						ui.Label(f.RelPath), issue.Field, issue.Message)
				} else {
					fmt.Printf("  %s  %s\n",
						ui.Label(f.RelPath), issue.Message)
				}
			}
		}
	}

	if len(report.ParseFailures) > 0 {
		ui.Header(fmt.Sprintf("parse errors (%d)", len(report.ParseFailures)))
		for _, pf := range report.ParseFailures {
			fmt.Printf("  %s  %s\n", ui.Label(pf.Path), pf.Err)
		}
	}

	fmt.Println()
	ui.Warningf("%s files with findings, %d issues across %s files scanned",
		ui.CountText(len(report.Files)), report.TotalIssues(),
		ui.CountText(report.FilesScanned))
}
