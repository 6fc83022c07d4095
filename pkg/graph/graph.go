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

// Package graph maintains the in-memory knowledge-graph projection and the
// builder that derives it from parsed notes.
//
// The projection is a cache over the persistent store: a node table keyed by
// frontmatter id, an edge table keyed by the (source, target, type) triple,
// and an adjacency map of id references. Nodes and edges form cycles, so
// nothing here owns anything else; deletion is by id only.
package graph

import (
	"sort"
	"strings"
	"sync"

	"github.com/hivemindlabs/hivemind/pkg/vault"
)

// Node is an admitted note projected into the graph.
type Node struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Status      string         `json:"status,omitempty"`
	Title       string         `json:"title"`
	Path        string         `json:"path"`
	Frontmatter map[string]any `json:"frontmatter"`
	Body        string         `json:"-"`
	Links       []string       `json:"-"`
	Stats       vault.FileStats `json:"stats"`
}

// NodeFromNote projects a parsed note. The note must have an id.
func NodeFromNote(n *vault.Note) *Node {
	return &Node{
		ID:          n.ID,
		Type:        n.Type(),
		Status:      n.Status(),
		Title:       n.Title(),
		Path:        n.Path,
		Frontmatter: n.Frontmatter,
		Body:        n.Body,
		Links:       n.Links,
		Stats:       n.Stats,
	}
}

// Edge is a typed, directed relationship between two nodes.
//
// Origin is the id of the note whose outbound link derived this edge; for a
// bidirectional relationship both directions share the origin. Incremental
// updates drop a note's derived edges by origin, which keeps reverse edges
// and forward edges in step.
type Edge struct {
	Source     string         `json:"source"`
	Target     string         `json:"target"`
	Type       string         `json:"type"`
	Origin     string         `json:"-"`
	Properties map[string]any `json:"properties,omitempty"`
}

// EdgeKey is the content address of an edge; duplicates of the triple
// collapse.
type EdgeKey struct {
	Source string
	Target string
	Type   string
}

// Key returns the edge's content address.
func (e *Edge) Key() EdgeKey {
	return EdgeKey{Source: e.Source, Target: e.Target, Type: e.Type}
}

// Graph is the in-memory projection. It is safe for concurrent use: the
// builder writes under the write lock, readers (search, tools) read under
// the read lock.
type Graph struct {
	mu         sync.RWMutex
	nodes      map[string]*Node
	edges      map[EdgeKey]*Edge
	adjacency  map[string]map[string]struct{}
	titleIndex map[string]string // case-folded title -> node id

	// titleCollisions counts folded titles claimed by more than one node;
	// the last writer wins in the index.
	titleCollisions int
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes:      make(map[string]*Node),
		edges:      make(map[EdgeKey]*Edge),
		adjacency:  make(map[string]map[string]struct{}),
		titleIndex: make(map[string]string),
	}
}

// Reset drops all projection state.
func (g *Graph) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*Node)
	g.edges = make(map[EdgeKey]*Edge)
	g.adjacency = make(map[string]map[string]struct{})
	g.titleIndex = make(map[string]string)
	g.titleCollisions = 0
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// NodeCount returns the number of nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Resolve maps a raw wikilink target to a node id: exact id match first,
// then case-folded title match.
func (g *Graph) Resolve(target string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.resolveLocked(target)
}

func (g *Graph) resolveLocked(target string) (string, bool) {
	if _, ok := g.nodes[target]; ok {
		return target, true
	}
	if id, ok := g.titleIndex[fold(target)]; ok {
		return id, true
	}
	return "", false
}

// Neighbors returns the ids adjacent to id (either direction), sorted.
func (g *Graph) Neighbors(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.neighborsLocked(id)
}

func (g *Graph) neighborsLocked(id string) []string {
	set := g.adjacency[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// EdgesFrom returns the edges whose source is id, sorted by (type, target)
// for stable output.
func (g *Graph) EdgesFrom(id string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Edge
	for key, e := range g.edges {
		if key.Source == id {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Type != out[b].Type {
			return out[a].Type < out[b].Type
		}
		return out[a].Target < out[b].Target
	})
	return out
}

// EdgesTouching returns every edge with id as source or target.
func (g *Graph) EdgesTouching(id string) []*Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	var out []*Edge
	for key, e := range g.edges {
		if key.Source == id || key.Target == id {
			out = append(out, e)
		}
	}
	return out
}

// HasEdge reports whether the exact triple exists.
func (g *Graph) HasEdge(source, target, typeID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.edges[EdgeKey{source, target, typeID}]
	return ok
}

// hasAnyEdge reports whether any edge source->target exists, whatever type.
func (g *Graph) hasAnyEdge(source, target string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for key := range g.edges {
		if key.Source == source && key.Target == target {
			return true
		}
	}
	return false
}

// removeEdge drops a single edge by its content address.
func (g *Graph) removeEdge(key EdgeKey) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deleteEdgeLocked(key)
}

// TitleCollisions returns how many folded titles were claimed by more than
// one node since the last reset.
func (g *Graph) TitleCollisions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.titleCollisions
}

// upsertNode inserts or replaces a node and maintains the title index.
func (g *Graph) upsertNode(n *Node) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if prev, ok := g.nodes[n.ID]; ok {
		prevKey := fold(prev.Title)
		if g.titleIndex[prevKey] == n.ID && prevKey != fold(n.Title) {
			delete(g.titleIndex, prevKey)
		}
	}
	g.nodes[n.ID] = n
	key := fold(n.Title)
	if key == "" {
		return
	}
	if owner, ok := g.titleIndex[key]; ok && owner != n.ID {
		g.titleCollisions++
	}
	g.titleIndex[key] = n.ID
}

// removeNode drops a node and every edge touching it. It returns the ids
// that were adjacent before removal.
func (g *Graph) removeNode(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	affected := g.neighborsLocked(id)

	if n, ok := g.nodes[id]; ok {
		key := fold(n.Title)
		if g.titleIndex[key] == id {
			delete(g.titleIndex, key)
		}
	}
	delete(g.nodes, id)

	for key := range g.edges {
		if key.Source == id || key.Target == id {
			g.deleteEdgeLocked(key)
		}
	}
	delete(g.adjacency, id)
	return affected
}

// addEdge inserts an edge unless the triple already exists. Returns true
// when the edge was added.
func (g *Graph) addEdge(e *Edge) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := e.Key()
	if _, exists := g.edges[key]; exists {
		return false
	}
	g.edges[key] = e
	g.link(e.Source, e.Target)
	return true
}

// removeEdgesByOrigin drops every edge derived from the given note id and
// returns them.
func (g *Graph) removeEdgesByOrigin(origin string) []*Edge {
	g.mu.Lock()
	defer g.mu.Unlock()
	var removed []*Edge
	for key, e := range g.edges {
		if e.Origin == origin {
			removed = append(removed, e)
			g.deleteEdgeLocked(key)
		}
	}
	return removed
}

func (g *Graph) deleteEdgeLocked(key EdgeKey) {
	delete(g.edges, key)
	// Keep adjacency exact: unlink only when no edge in either direction
	// connects the pair anymore.
	if !g.pairConnectedLocked(key.Source, key.Target) {
		g.unlink(key.Source, key.Target)
	}
}

func (g *Graph) pairConnectedLocked(a, b string) bool {
	for key := range g.edges {
		if (key.Source == a && key.Target == b) || (key.Source == b && key.Target == a) {
			return true
		}
	}
	return false
}

func (g *Graph) link(a, b string) {
	if g.adjacency[a] == nil {
		g.adjacency[a] = make(map[string]struct{})
	}
	if g.adjacency[b] == nil {
		g.adjacency[b] = make(map[string]struct{})
	}
	g.adjacency[a][b] = struct{}{}
	g.adjacency[b][a] = struct{}{}
}

func (g *Graph) unlink(a, b string) {
	delete(g.adjacency[a], b)
	delete(g.adjacency[b], a)
}

// fold is the case-folding used by the title index and link resolution.
func fold(s string) string { return strings.ToLower(s) }
