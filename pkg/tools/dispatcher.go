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
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/hivemindlabs/hivemind/pkg/graph"
	"github.com/hivemindlabs/hivemind/pkg/index"
	"github.com/hivemindlabs/hivemind/pkg/search"
	"github.com/hivemindlabs/hivemind/pkg/storage"
	"github.com/hivemindlabs/hivemind/pkg/template"
)

const defaultContentLimit = 1000

// NodeStore is the storage surface the handlers read, satisfied by
// *storage.Store.
type NodeStore interface {
	GetNode(ctx context.Context, id string) (*graph.Node, error)
	ListNodes(ctx context.Context, f storage.ListFilter, limit, offset int) ([]*graph.Node, int, error)
	GetRelationships(ctx context.Context, id string) ([]*graph.Edge, error)
	GetStats(ctx context.Context) (*storage.Stats, error)
}

// Searcher runs hybrid queries, satisfied by *search.Engine.
type Searcher interface {
	Search(ctx context.Context, query string, f search.Filters, limit int) ([]search.Result, error)
}

// Rebuilder triggers a full index rebuild, satisfied by *index.Pipeline.
type Rebuilder interface {
	Rebuild(ctx context.Context) (*index.BuildResult, error)
}

// Config wires a Dispatcher.
type Config struct {
	Registry  *template.Registry
	Store     NodeStore
	Graph     *graph.Graph
	Search    Searcher
	Rebuilder Rebuilder

	// OnCall is invoked with the tool name before each dispatch; used for
	// metrics.
	OnCall func(tool string)

	Logger *slog.Logger
}

// Dispatcher routes tool calls to the generated and fixed handlers.
type Dispatcher struct {
	cfg   Config
	tools []Tool
}

// NewDispatcher generates the tool list from the active template and wires
// the handlers.
func NewDispatcher(cfg Config) (*Dispatcher, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	generated, err := Generate(cfg.Registry)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{cfg: cfg, tools: generated}, nil
}

// Tools returns the current tool list for tools/list.
func (d *Dispatcher) Tools() []Tool { return d.tools }

// Dispatch routes one call. Tool-level failures come back as IsError
// results; Dispatch itself never fails the server.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, args map[string]any) *ToolResult {
	if d.cfg.OnCall != nil {
		d.cfg.OnCall(name)
	}
	d.cfg.Logger.Debug("local.tools.dispatch", "tool", name)

	if suffix, ok := strings.CutPrefix(name, "query_"); ok {
		if d.knownEntityType(suffix) {
			return d.handleQuery(ctx, suffix, args)
		}
	}
	if suffix, ok := strings.CutPrefix(name, "list_"); ok {
		if d.knownEntityType(suffix) {
			return d.handleList(ctx, suffix, args)
		}
	}

	switch name {
	case "search_vault":
		return d.handleSearch(ctx, args)
	case "rebuild_index":
		return d.handleRebuild(ctx)
	case "get_vault_stats":
		return d.handleStats(ctx)
	}
	return NewErrorf("Unknown tool: %s", name)
}

func (d *Dispatcher) knownEntityType(name string) bool {
	_, err := d.cfg.Registry.GetEntityType(name)
	return err == nil
}

// relationshipEntry is one edge as seen from the queried node.
type relationshipEntry struct {
	Direction string `json:"direction"` // "out" or "in"
	ID        string `json:"id"`        // the other endpoint's node id
	Title     string `json:"title,omitempty"`
}

type queryResponse struct {
	ID            string                         `json:"id"`
	Type          string                         `json:"type"`
	Title         string                         `json:"title"`
	Path          string                         `json:"path"`
	Frontmatter   map[string]any                 `json:"frontmatter"`
	Content       string                         `json:"content,omitempty"`
	ContentLength int                            `json:"contentLength,omitempty"`
	Relationships map[string][]relationshipEntry `json:"relationships"`
}

func (d *Dispatcher) handleQuery(ctx context.Context, typ string, args map[string]any) *ToolResult {
	id, ok := stringArg(args, "id")
	if !ok || strings.TrimSpace(id) == "" {
		return NewError("Invalid arguments: 'id' is required")
	}

	node, err := d.resolveNode(ctx, id)
	if err != nil {
		return NewErrorf("No %s found with id or title %q", typ, id)
	}
	if node.Type != typ {
		return NewErrorf("Note %q has type %q, not %q", node.ID, node.Type, typ)
	}

	resp := queryResponse{
		ID:            node.ID,
		Type:          node.Type,
		Title:         node.Title,
		Path:          node.Path,
		Frontmatter:   node.Frontmatter,
		Relationships: map[string][]relationshipEntry{},
	}

	if boolArg(args, "includeContent") {
		limit := intArg(args, "contentLimit", defaultContentLimit)
		resp.ContentLength = len(node.Body)
		resp.Content = excerpt(node.Body, limit)
	}

	edges, err := d.cfg.Store.GetRelationships(ctx, node.ID)
	if err != nil {
		return NewErrorf("Read relationships: %v", err)
	}
	for _, e := range edges {
		entry := relationshipEntry{}
		if e.Source == node.ID {
			entry.Direction = "out"
			entry.ID = e.Target
		} else {
			entry.Direction = "in"
			entry.ID = e.Source
		}
		if d.cfg.Graph != nil {
			if other, ok := d.cfg.Graph.Node(entry.ID); ok {
				entry.Title = other.Title
			}
		}
		resp.Relationships[e.Type] = append(resp.Relationships[e.Type], entry)
	}
	return NewJSON(resp)
}

// resolveNode looks a node up by id first, then by case-folded title.
func (d *Dispatcher) resolveNode(ctx context.Context, ref string) (*graph.Node, error) {
	node, err := d.cfg.Store.GetNode(ctx, ref)
	if err == nil {
		return node, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if d.cfg.Graph != nil {
		if id, ok := d.cfg.Graph.Resolve(ref); ok {
			return d.cfg.Store.GetNode(ctx, id)
		}
	}
	return nil, err
}

type listItem struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status,omitempty"`
	Path   string `json:"path"`
}

type listResponse struct {
	Type    string     `json:"type"`
	Total   int        `json:"total"`
	Offset  int        `json:"offset"`
	Results []listItem `json:"results"`
}

func (d *Dispatcher) handleList(ctx context.Context, typ string, args map[string]any) *ToolResult {
	limit := intArg(args, "limit", DefaultListLimit)
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	offset := intArg(args, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	filter := storage.ListFilter{Type: typ}
	filter.Status, _ = stringArg(args, "status")
	if raw, ok := args["filters"].(map[string]any); ok && len(raw) > 0 {
		filter.Fields = make(map[string]string, len(raw))
		for k, v := range raw {
			filter.Fields[k] = filterValue(v)
		}
	}

	nodes, total, err := d.cfg.Store.ListNodes(ctx, filter, limit, offset)
	if err != nil {
		return NewErrorf("List %s: %v", typ, err)
	}

	resp := listResponse{Type: typ, Total: total, Offset: offset, Results: []listItem{}}
	for _, n := range nodes {
		resp.Results = append(resp.Results, listItem{
			ID: n.ID, Title: n.Title, Status: n.Status, Path: n.Path,
		})
	}
	return NewJSON(resp)
}

type searchHit struct {
	ID      string             `json:"id"`
	Title   string             `json:"title,omitempty"`
	Type    string             `json:"type,omitempty"`
	Score   float64            `json:"score"`
	Signals map[string]float64 `json:"signals"`
}

func (d *Dispatcher) handleSearch(ctx context.Context, args map[string]any) *ToolResult {
	query, _ := stringArg(args, "query")
	if strings.TrimSpace(query) == "" {
		return NewError("Invalid arguments: 'query' is required")
	}
	filters := search.Filters{}
	filters.Type, _ = stringArg(args, "type")
	filters.Status, _ = stringArg(args, "status")
	limit := intArg(args, "limit", DefaultListLimit)

	results, err := d.cfg.Search.Search(ctx, query, filters, limit)
	if err != nil {
		return NewErrorf("Search failed: %v", err)
	}

	hits := make([]searchHit, 0, len(results))
	for _, r := range results {
		h := searchHit{
			ID:    r.ID,
			Score: r.Score,
			Signals: map[string]float64{
				"keyword": r.Keyword,
				"graph":   r.Graph,
				"vector":  r.Vector,
			},
		}
		if r.Node != nil {
			h.Title = r.Node.Title
			h.Type = r.Node.Type
		}
		hits = append(hits, h)
	}
	return NewJSON(map[string]any{
		"query":   query,
		"count":   len(hits),
		"results": hits,
	})
}

func (d *Dispatcher) handleRebuild(ctx context.Context) *ToolResult {
	if d.cfg.Rebuilder == nil {
		return NewError("Rebuild is not available in this session")
	}
	result, err := d.cfg.Rebuilder.Rebuild(ctx)
	if err != nil {
		return NewErrorf("Rebuild failed: %v", err)
	}
	return NewJSON(result)
}

func (d *Dispatcher) handleStats(ctx context.Context) *ToolResult {
	stats, err := d.cfg.Store.GetStats(ctx)
	if err != nil {
		return NewErrorf("Read stats: %v", err)
	}
	return NewJSON(stats)
}

// excerpt truncates on a rune boundary and marks the cut.
func excerpt(body string, limit int) string {
	if limit <= 0 {
		limit = defaultContentLimit
	}
	runes := []rune(body)
	if len(runes) <= limit {
		return body
	}
	return string(runes[:limit]) + "…"
}

func stringArg(args map[string]any, key string) (string, bool) {
	v, ok := args[key].(string)
	return v, ok
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

// intArg accepts JSON numbers (float64) and strings.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// filterValue renders a JSON filter value the way json_extract would.
func filterValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		if t == float64(int64(t)) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
