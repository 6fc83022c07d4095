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

// Package errors provides user-facing error types for the hivemind CLI.
//
// Library packages under pkg/ return plain wrapped errors; the CLI boundary
// converts them into UserError values that carry a title, a cause, and a
// suggestion so the console output tells the user what to do next.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Kind classifies a UserError for exit-code and rendering purposes.
type Kind string

const (
	KindConfig     Kind = "config"
	KindTemplate   Kind = "template"
	KindValidation Kind = "validation"
	KindInput      Kind = "input"
	KindDatabase   Kind = "database"
	KindPermission Kind = "permission"
	KindInternal   Kind = "internal"
)

// Exit codes. Configuration problems exit with 2 so scripts can tell
// "your setup is broken" apart from "your vault has issues".
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitConfigFail = 2
)

// UserError is an error with enough context to be shown directly to a user.
type UserError struct {
	Kind       Kind   `json:"kind"`
	Title      string `json:"title"`
	Cause      string `json:"cause,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Title, e.Err)
	}
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s", e.Title, e.Cause)
	}
	return e.Title
}

// Unwrap exposes the underlying error for errors.Is / errors.As.
func (e *UserError) Unwrap() error { return e.Err }

// Format renders the error for the console or, when jsonOut is true, as a
// single JSON object suitable for machine consumption.
func (e *UserError) Format(jsonOut bool) string {
	if jsonOut {
		payload := struct {
			Error *UserError `json:"error"`
			Cause string     `json:"cause,omitempty"`
		}{Error: e}
		if e.Err != nil {
			payload.Cause = e.Err.Error()
		}
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Sprintf(`{"error":{"kind":"internal","title":%q}}`, e.Title)
		}
		return string(b)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Error: %s\n", e.Title)
	if e.Cause != "" {
		fmt.Fprintf(&b, "  Cause: %s\n", e.Cause)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, "  Detail: %v\n", e.Err)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, "  Try: %s", e.Suggestion)
	}
	return strings.TrimRight(b.String(), "\n")
}

// ExitCode returns the process exit code for this error kind.
func (e *UserError) ExitCode() int {
	if e.Kind == KindConfig {
		return ExitConfigFail
	}
	return ExitFailure
}

// FatalError prints the error to stderr and exits the process.
//
// A *UserError chooses its own exit code; any other error exits 1.
func FatalError(err error, jsonOut bool) {
	if ue, ok := err.(*UserError); ok {
		fmt.Fprintln(os.Stderr, ue.Format(jsonOut))
		os.Exit(ue.ExitCode())
	}
	if jsonOut {
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		fmt.Fprintln(os.Stderr, string(b))
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(ExitFailure)
}

// NewConfigError reports a configuration problem (missing or malformed
// config file, invalid settings). Fatal for the command, exit code 2.
func NewConfigError(title, cause, suggestion string, err error) *UserError {
	return &UserError{Kind: KindConfig, Title: title, Cause: cause, Suggestion: suggestion, Err: err}
}

// NewTemplateError reports a template meta-schema failure at registration.
func NewTemplateError(title, cause, suggestion string, err error) *UserError {
	return &UserError{Kind: KindTemplate, Title: title, Cause: cause, Suggestion: suggestion, Err: err}
}

// NewInputError reports bad user input (arguments, tool parameters).
func NewInputError(title, cause, suggestion string) *UserError {
	return &UserError{Kind: KindInput, Title: title, Cause: cause, Suggestion: suggestion}
}

// NewDatabaseError reports a storage-layer failure.
func NewDatabaseError(title, cause, suggestion string, err error) *UserError {
	return &UserError{Kind: KindDatabase, Title: title, Cause: cause, Suggestion: suggestion, Err: err}
}

// NewPermissionError reports a filesystem permission problem.
func NewPermissionError(title, cause, suggestion string, err error) *UserError {
	return &UserError{Kind: KindPermission, Title: title, Cause: cause, Suggestion: suggestion, Err: err}
}

// NewInternalError reports a bug or an unexpected condition.
func NewInternalError(title, cause, suggestion string, err error) *UserError {
	return &UserError{Kind: KindInternal, Title: title, Cause: cause, Suggestion: suggestion, Err: err}
}
