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

// Package tools generates the MCP tool surface from the active template and
// dispatches incoming tool calls.
package tools

import (
	"encoding/json"
	"fmt"
)

// ToolResult is the outcome of a tool execution. Text carries the payload;
// IsError marks a tool-level failure that is reported to the caller rather
// than crashing the server.
type ToolResult struct {
	Text    string
	IsError bool
}

// NewResult wraps plain text output.
func NewResult(text string) *ToolResult {
	return &ToolResult{Text: text}
}

// NewError wraps a tool-level error message.
func NewError(text string) *ToolResult {
	return &ToolResult{Text: text, IsError: true}
}

// NewErrorf formats a tool-level error message.
func NewErrorf(format string, args ...any) *ToolResult {
	return &ToolResult{Text: fmt.Sprintf(format, args...), IsError: true}
}

// NewJSON marshals a structured payload as indented JSON text.
func NewJSON(v any) *ToolResult {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return NewErrorf("encode result: %v", err)
	}
	return &ToolResult{Text: string(raw)}
}
