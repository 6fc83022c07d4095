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

// Package ui provides colored console output helpers for the hivemind CLI.
package ui

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen)
	warningColor = color.New(color.FgYellow)
	labelColor   = color.New(color.Bold)
	dimColor     = color.New(color.Faint)
	countColor   = color.New(color.FgCyan)
)

// InitColors enables or disables color output. Colors are disabled when
// noColor is set, when NO_COLOR is present in the environment, or when
// stdout is not a terminal.
func InitColors(noColor bool) {
	if noColor || os.Getenv("NO_COLOR") != "" {
		color.NoColor = true
		return
	}
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		color.NoColor = true
	}
}

// Header prints a prominent section header.
func Header(text string) {
	headerColor.Printf("\n%s\n", text)
	headerColor.Println(repeat("=", len(text)))
}

// SubHeader prints a secondary section header.
func SubHeader(text string) {
	labelColor.Printf("\n%s\n", text)
}

// Success prints a success line with a check mark.
func Success(text string) { successColor.Printf("✓ %s\n", text) }

// Successf prints a formatted success line.
func Successf(format string, args ...any) { Success(fmt.Sprintf(format, args...)) }

// Warning prints a warning line.
func Warning(text string) { warningColor.Printf("! %s\n", text) }

// Warningf prints a formatted warning line.
func Warningf(format string, args ...any) { Warning(fmt.Sprintf(format, args...)) }

// Info prints a plain informational line.
func Info(text string) { fmt.Println(text) }

// Infof prints a formatted informational line.
func Infof(format string, args ...any) { fmt.Printf(format+"\n", args...) }

// Label returns text rendered in the label (bold) style.
func Label(text string) string { return labelColor.Sprint(text) }

// CountText returns a number rendered in the count style.
func CountText(n int) string { return countColor.Sprintf("%d", n) }

// DimText returns text rendered dimmed.
func DimText(text string) string { return dimColor.Sprint(text) }

func repeat(s string, n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += s
	}
	return out
}
