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

package tools

import (
	"fmt"

	"github.com/hivemindlabs/hivemind/pkg/template"
)

// Tool describes a single tool exposed over MCP.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"` // JSON Schema for tool parameters
}

const (
	// DefaultListLimit is the page size when list_<T> gets no limit.
	DefaultListLimit = 20
	// MaxListLimit caps list_<T> page sizes.
	MaxListLimit = 200
)

// fixedTools is the non-generated tool set. Names here are reserved;
// generation fails if a template would shadow one.
func fixedTools() []Tool {
	return []Tool{
		{
			Name:        "search_vault",
			Description: "Hybrid search across the vault: keyword relevance fused with graph proximity. Returns ranked notes with per-signal score breakdown.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{
						"type":        "string",
						"description": "Free-text search query",
					},
					"type": map[string]any{
						"type":        "string",
						"description": "Restrict results to one entity type",
					},
					"status": map[string]any{
						"type":        "string",
						"description": "Restrict results to one canon status",
					},
					"limit": map[string]any{
						"type":        "number",
						"description": "Maximum results (default 20)",
					},
				},
				"required": []string{"query"},
			},
		},
		{
			Name:        "rebuild_index",
			Description: "Drop the index and rebuild it from the vault on disk. Returns build statistics.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        "get_vault_stats",
			Description: "Node and edge counts with per-type breakdown.",
			InputSchema: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
	}
}

// Generate derives the tool list from the active template: a query_<T> and
// list_<T> pair per entity type, followed by the fixed tools. It fails when
// a generated name would collide with a fixed tool.
func Generate(reg *template.Registry) ([]Tool, error) {
	entityTypes, err := reg.GetEntityTypes()
	if err != nil {
		return nil, err
	}

	fixed := fixedTools()
	reserved := make(map[string]bool, len(fixed))
	for _, t := range fixed {
		reserved[t.Name] = true
	}

	var out []Tool
	for _, et := range entityTypes {
		display := et.DisplayName
		if display == "" {
			display = et.Name
		}
		queryName := "query_" + et.Name
		listName := "list_" + et.Name
		if reserved[queryName] || reserved[listName] {
			return nil, fmt.Errorf("entity type %q generates a tool name reserved by a fixed tool", et.Name)
		}

		out = append(out, Tool{
			Name:        queryName,
			Description: fmt.Sprintf("Fetch one %s by id or title, with frontmatter and relationships grouped by type.", display),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"id": map[string]any{
						"type":        "string",
						"description": "Node id, or title (case-insensitive)",
					},
					"includeContent": map[string]any{
						"type":        "boolean",
						"description": "Include a body excerpt",
					},
					"contentLimit": map[string]any{
						"type":        "number",
						"description": "Excerpt length in characters (default 1000)",
					},
				},
				"required": []string{"id"},
			},
		})
		out = append(out, Tool{
			Name:        listName,
			Description: fmt.Sprintf("Page through %s notes with optional status and frontmatter filters.", display),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"status": map[string]any{
						"type":        "string",
						"description": "Filter by canon status",
					},
					"limit": map[string]any{
						"type":        "number",
						"description": fmt.Sprintf("Page size (default %d, max %d)", DefaultListLimit, MaxListLimit),
					},
					"offset": map[string]any{
						"type":        "number",
						"description": "Page offset",
					},
					"filters": map[string]any{
						"type":        "object",
						"description": "Equality filters on frontmatter fields",
					},
				},
			},
		})
	}
	return append(out, fixed...), nil
}
