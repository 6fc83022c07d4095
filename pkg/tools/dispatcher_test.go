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
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hivemindlabs/hivemind/pkg/graph"
	"github.com/hivemindlabs/hivemind/pkg/search"
	"github.com/hivemindlabs/hivemind/pkg/storage"
	"github.com/hivemindlabs/hivemind/pkg/template"
	"github.com/hivemindlabs/hivemind/pkg/vault"
)

type fakeSearcher struct {
	results []search.Result
}

func (f *fakeSearcher) Search(context.Context, string, search.Filters, int) ([]search.Result, error) {
	return f.results, nil
}

func newTestDispatcher(t *testing.T, notes ...*vault.Note) (*Dispatcher, *storage.Store) {
	t.Helper()
	reg := template.NewRegistry()
	require.NoError(t, reg.Register(template.BuiltinWorldbuilding(), "builtin"))
	require.NoError(t, reg.Activate("worldbuilding"))

	store, err := storage.Open(filepath.Join(t.TempDir(), "vault.db"), storage.DefaultOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	g := graph.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := graph.NewBuilder(reg, g, store, logger)
	_, err = b.Build(context.Background(), notes)
	require.NoError(t, err)

	d, err := NewDispatcher(Config{
		Registry: reg,
		Store:    store,
		Graph:    g,
		Search:   &fakeSearcher{},
		Logger:   logger,
	})
	require.NoError(t, err)
	return d, store
}

func note(id, typ, name, body string, links ...string) *vault.Note {
	return &vault.Note{
		ID:       id,
		Path:     "/v/" + id + ".md",
		FileName: id + ".md",
		Frontmatter: map[string]any{
			"id": id, "type": typ, "name": name, "status": "canon",
		},
		Body:  body,
		Links: links,
	}
}

func decode(t *testing.T, r *ToolResult, into any) {
	t.Helper()
	require.False(t, r.IsError, "unexpected tool error: %s", r.Text)
	require.NoError(t, json.Unmarshal([]byte(r.Text), into))
}

func TestGenerate_ToolSurface(t *testing.T) {
	reg := template.NewRegistry()
	require.NoError(t, reg.Register(template.BuiltinWorldbuilding(), "builtin"))
	require.NoError(t, reg.Activate("worldbuilding"))

	toolList, err := Generate(reg)
	require.NoError(t, err)

	// Six entity types, a query/list pair each, plus three fixed tools.
	require.Len(t, toolList, 15)

	names := make(map[string]bool, len(toolList))
	for _, tool := range toolList {
		names[tool.Name] = true
		assert.NotEmpty(t, tool.Description)
		assert.Equal(t, "object", tool.InputSchema["type"])
	}
	for _, want := range []string{
		"query_character", "list_character", "query_location", "list_location",
		"search_vault", "rebuild_index", "get_vault_stats",
	} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestGenerate_NoActiveTemplate(t *testing.T) {
	_, err := Generate(template.NewRegistry())
	require.Error(t, err)
}

func TestDispatch_UnknownTool(t *testing.T) {
	d, _ := newTestDispatcher(t)
	r := d.Dispatch(context.Background(), "summon_dragon", nil)
	assert.True(t, r.IsError)
	assert.Contains(t, r.Text, "Unknown tool")

	// A known prefix with an unknown type suffix is unknown too.
	r = d.Dispatch(context.Background(), "query_starship", map[string]any{"id": "x"})
	assert.True(t, r.IsError)
	assert.Contains(t, r.Text, "Unknown tool")
}

func TestDispatch_QueryByIDAndTitle(t *testing.T) {
	d, _ := newTestDispatcher(t,
		note("alice", "character", "Alice", "A long story.", "castle"),
		note("castle", "location", "The Castle", "Stone walls."),
	)

	var resp queryResponse
	decode(t, d.Dispatch(context.Background(), "query_character",
		map[string]any{"id": "alice"}), &resp)
	assert.Equal(t, "alice", resp.ID)
	assert.Equal(t, "Alice", resp.Title)
	assert.Empty(t, resp.Content, "content only on request")

	// Case-folded title resolution.
	decode(t, d.Dispatch(context.Background(), "query_location",
		map[string]any{"id": "the castle"}), &resp)
	assert.Equal(t, "castle", resp.ID)

	// Relationships grouped by type with neighbour titles.
	decode(t, d.Dispatch(context.Background(), "query_character",
		map[string]any{"id": "alice"}), &resp)
	require.Len(t, resp.Relationships["located_in"], 1)
	out := resp.Relationships["located_in"][0]
	assert.Equal(t, "out", out.Direction)
	assert.Equal(t, "castle", out.ID)
	assert.Equal(t, "The Castle", out.Title)
	require.Len(t, resp.Relationships["has_inhabitant"], 1)
	assert.Equal(t, "in", resp.Relationships["has_inhabitant"][0].Direction)
}

func TestDispatch_QueryContentExcerpt(t *testing.T) {
	d, _ := newTestDispatcher(t,
		note("alice", "character", "Alice", strings.Repeat("x", 50)))

	var resp queryResponse
	decode(t, d.Dispatch(context.Background(), "query_character",
		map[string]any{"id": "alice", "includeContent": true, "contentLimit": float64(10)}), &resp)
	assert.Equal(t, 50, resp.ContentLength)
	assert.Equal(t, strings.Repeat("x", 10)+"…", resp.Content)
}

func TestDispatch_QueryWrongTypeAndMissing(t *testing.T) {
	d, _ := newTestDispatcher(t, note("alice", "character", "Alice", ""))

	r := d.Dispatch(context.Background(), "query_location", map[string]any{"id": "alice"})
	assert.True(t, r.IsError)

	r = d.Dispatch(context.Background(), "query_character", map[string]any{"id": "nobody"})
	assert.True(t, r.IsError)

	r = d.Dispatch(context.Background(), "query_character", map[string]any{})
	assert.True(t, r.IsError)
	assert.Contains(t, r.Text, "required")
}

func TestDispatch_ListPaging(t *testing.T) {
	notes := []*vault.Note{
		note("a", "character", "Anna", ""),
		note("b", "character", "Bram", ""),
		note("c", "character", "Cleo", ""),
		note("x", "location", "Keep", ""),
	}
	d, _ := newTestDispatcher(t, notes...)

	var resp listResponse
	decode(t, d.Dispatch(context.Background(), "list_character", map[string]any{}), &resp)
	assert.Equal(t, 3, resp.Total)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, "Anna", resp.Results[0].Title)

	decode(t, d.Dispatch(context.Background(), "list_character",
		map[string]any{"limit": float64(1), "offset": float64(1)}), &resp)
	assert.Equal(t, 3, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "Bram", resp.Results[0].Title)

	// Oversized limits clamp instead of failing.
	decode(t, d.Dispatch(context.Background(), "list_character",
		map[string]any{"limit": float64(10_000)}), &resp)
	assert.Len(t, resp.Results, 3)
}

func TestDispatch_ListFrontmatterFilters(t *testing.T) {
	d, _ := newTestDispatcher(t,
		note("a", "character", "Anna", ""),
		note("b", "character", "Bram", ""),
	)

	var resp listResponse
	decode(t, d.Dispatch(context.Background(), "list_character",
		map[string]any{"filters": map[string]any{"name": "Bram"}}), &resp)
	assert.Equal(t, 1, resp.Total)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "b", resp.Results[0].ID)
}

func TestDispatch_SearchVault(t *testing.T) {
	d, _ := newTestDispatcher(t, note("alice", "character", "Alice", ""))
	d.cfg.Search = &fakeSearcher{results: []search.Result{
		{ID: "alice", Score: 0.6, Keyword: 1.0},
	}}

	var resp struct {
		Count   int         `json:"count"`
		Results []searchHit `json:"results"`
	}
	decode(t, d.Dispatch(context.Background(), "search_vault",
		map[string]any{"query": "alice"}), &resp)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 0.6, resp.Results[0].Score)
	assert.Equal(t, 1.0, resp.Results[0].Signals["keyword"])

	r := d.Dispatch(context.Background(), "search_vault", map[string]any{"query": "  "})
	assert.True(t, r.IsError)
}

func TestDispatch_VaultStats(t *testing.T) {
	d, _ := newTestDispatcher(t,
		note("alice", "character", "Alice", "", "castle"),
		note("castle", "location", "The Castle", ""),
	)

	var stats storage.Stats
	decode(t, d.Dispatch(context.Background(), "get_vault_stats", nil), &stats)
	assert.Equal(t, 2, stats.Nodes)
	assert.Equal(t, 2, stats.Edges)
	assert.Equal(t, 1, stats.NodesByType["character"])
}

func TestDispatch_OnCallHook(t *testing.T) {
	d, _ := newTestDispatcher(t)
	var called []string
	d.cfg.OnCall = func(tool string) { called = append(called, tool) }

	d.Dispatch(context.Background(), "get_vault_stats", nil)
	d.Dispatch(context.Background(), "nope", nil)
	assert.Equal(t, []string{"get_vault_stats", "nope"}, called)
}
