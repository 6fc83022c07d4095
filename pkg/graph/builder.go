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

package graph

import (
	"context"
	"log/slog"
	"time"

	"github.com/hivemindlabs/hivemind/pkg/template"
	"github.com/hivemindlabs/hivemind/pkg/vault"
)

// Store is the persistence half of the graph. The in-memory projection and
// the store are updated together; on a store failure the builder marks the
// projection dirty so the caller can rebuild.
type Store interface {
	UpsertNode(ctx context.Context, n *Node) error
	// DeleteNode removes the node and every edge touching it.
	DeleteNode(ctx context.Context, id string) error
	InsertEdge(ctx context.Context, e *Edge) error
	DeleteEdge(ctx context.Context, source, target, typeID string) error
	// DeleteEdgesByOrigin removes every edge derived from the given note.
	DeleteEdgesByOrigin(ctx context.Context, origin string) error
}

// NodeBatcher is an optional Store extension that writes several nodes in
// one transaction. Build groups node writes through it when a batch size
// is configured, which bounds transaction count on large vaults.
type NodeBatcher interface {
	UpsertNodes(ctx context.Context, nodes []*Node) error
}

// Duplicate records a frontmatter id claimed by more than one file. The
// first file keeps the id.
type Duplicate struct {
	ID          string `json:"id"`
	KeptPath    string `json:"keptPath"`
	SkippedPath string `json:"skippedPath"`
}

// BuildStats summarizes an initial build.
type BuildStats struct {
	FilesScanned    int           `json:"filesScanned"`
	NodesCreated    int           `json:"nodesCreated"`
	EdgesCreated    int           `json:"edgesCreated"`
	SkippedFiles    int           `json:"skippedFiles"`
	DuplicateIDs    []Duplicate   `json:"duplicateIds,omitempty"`
	UnresolvedLinks int           `json:"unresolvedLinks"`
	TitleCollisions int           `json:"titleCollisions"`
	Duration        time.Duration `json:"duration"`
}

// Builder derives the graph from parsed notes and keeps it current as the
// vault changes. It is not safe for concurrent mutation; the indexing
// pipeline applies events serially.
type Builder struct {
	registry *template.Registry
	graph    *Graph
	store    Store
	logger   *slog.Logger

	byPath map[string]string // absolute path -> node id

	// unresolved maps a case-folded link target to the ids of notes whose
	// link did not resolve. When a matching node appears those notes get
	// their edges re-derived.
	unresolved map[string]map[string]struct{}

	batchSize int
	dirty     bool
}

// NewBuilder wires a builder over the projection, store and registry. The
// registry may have no active template; inference then uses the built-in
// fallback table.
func NewBuilder(reg *template.Registry, g *Graph, store Store, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Builder{
		registry:   reg,
		graph:      g,
		store:      store,
		logger:     logger,
		byPath:     make(map[string]string),
		unresolved: make(map[string]map[string]struct{}),
	}
}

// Graph returns the projection the builder maintains.
func (b *Builder) Graph() *Graph { return b.graph }

// SetBatchSize bounds how many node writes Build groups per store
// transaction when the store supports batching. Values below 2 keep the
// one-transaction-per-node behavior.
func (b *Builder) SetBatchSize(n int) { b.batchSize = n }

// FileState is the size and modification time a file had when it was
// indexed, keyed to the node it produced.
type FileState struct {
	ID       string
	Size     int64
	Modified time.Time
}

// Files returns per-path state for every indexed file. Incremental
// rebuilds diff it against the filesystem to find changed files.
func (b *Builder) Files() map[string]FileState {
	out := make(map[string]FileState, len(b.byPath))
	for path, id := range b.byPath {
		if n, ok := b.graph.Node(id); ok {
			out[path] = FileState{ID: id, Size: n.Stats.Size, Modified: n.Stats.Modified}
		}
	}
	return out
}

// Dirty reports whether a store failure left the projection out of step
// with the store. A rebuild clears it.
func (b *Builder) Dirty() bool { return b.dirty }

func (b *Builder) admitted(n *vault.Note) bool {
	return !n.MissingFrontmatter && n.ID != ""
}

// Build runs the two-pass initial build: all nodes first so links resolve
// regardless of file order, then all edges.
func (b *Builder) Build(ctx context.Context, notes []*vault.Note) (*BuildStats, error) {
	start := time.Now()
	b.graph.Reset()
	b.byPath = make(map[string]string)
	b.unresolved = make(map[string]map[string]struct{})

	stats := &BuildStats{FilesScanned: len(notes)}

	batcher, _ := b.store.(NodeBatcher)
	useBatch := batcher != nil && b.batchSize > 1
	var pending []*Node
	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		if err := batcher.UpsertNodes(ctx, pending); err != nil {
			b.dirty = true
			return err
		}
		pending = pending[:0]
		return nil
	}

	var admitted []*Node
	for _, note := range notes {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if !b.admitted(note) {
			stats.SkippedFiles++
			b.logger.Debug("graph.build.skip_file",
				"path", note.Path, "missing_frontmatter", note.MissingFrontmatter)
			continue
		}
		if existing, ok := b.graph.Node(note.ID); ok {
			// First file wins the id; later claimants are skipped, not
			// silently merged.
			stats.SkippedFiles++
			stats.DuplicateIDs = append(stats.DuplicateIDs, Duplicate{
				ID: note.ID, KeptPath: existing.Path, SkippedPath: note.Path,
			})
			b.logger.Warn("graph.build.duplicate_id",
				"id", note.ID, "kept", existing.Path, "skipped", note.Path)
			continue
		}
		node := NodeFromNote(note)
		b.graph.upsertNode(node)
		b.byPath[node.Path] = node.ID
		if useBatch {
			pending = append(pending, node)
			if len(pending) >= b.batchSize {
				if err := flush(); err != nil {
					return stats, err
				}
			}
		} else if err := b.store.UpsertNode(ctx, node); err != nil {
			b.dirty = true
			return stats, err
		}
		admitted = append(admitted, node)
		stats.NodesCreated++
	}
	if err := flush(); err != nil {
		return stats, err
	}

	for _, node := range admitted {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		created, unresolved, err := b.emitEdges(ctx, node)
		if err != nil {
			b.dirty = true
			return stats, err
		}
		stats.EdgesCreated += created
		stats.UnresolvedLinks += unresolved
	}

	stats.TitleCollisions = b.graph.TitleCollisions()
	stats.Duration = time.Since(start)
	b.dirty = false
	return stats, nil
}

// ApplyCreate indexes a newly created file. Notes whose links previously
// failed to resolve against this id or title get their edges re-derived.
func (b *Builder) ApplyCreate(ctx context.Context, note *vault.Note) error {
	if !b.admitted(note) {
		return nil
	}
	if existing, ok := b.graph.Node(note.ID); ok && existing.Path != note.Path {
		b.logger.Warn("graph.apply.duplicate_id",
			"id", note.ID, "kept", existing.Path, "skipped", note.Path)
		return nil
	}

	node := NodeFromNote(note)
	b.graph.upsertNode(node)
	b.byPath[node.Path] = node.ID
	if err := b.store.UpsertNode(ctx, node); err != nil {
		b.dirty = true
		return err
	}
	if _, _, err := b.emitEdges(ctx, node); err != nil {
		b.dirty = true
		return err
	}
	return b.reresolve(ctx, node)
}

// ApplyModify re-indexes a changed file. An id change is a delete of the
// old node followed by a create; a type change re-derives the edges of the
// notes linking in, since inference depends on both endpoint types.
func (b *Builder) ApplyModify(ctx context.Context, note *vault.Note) error {
	prevID, known := b.byPath[note.Path]
	if !b.admitted(note) {
		if known {
			return b.ApplyDelete(ctx, note.Path)
		}
		return nil
	}
	if !known {
		return b.ApplyCreate(ctx, note)
	}
	if prevID != note.ID {
		if err := b.ApplyDelete(ctx, note.Path); err != nil {
			return err
		}
		return b.ApplyCreate(ctx, note)
	}

	prev, _ := b.graph.Node(prevID)
	typeChanged := prev != nil && prev.Type != note.Type()
	prevNeighbors := b.graph.Neighbors(prevID)

	node := NodeFromNote(note)
	b.graph.upsertNode(node)

	b.graph.removeEdgesByOrigin(node.ID)
	if err := b.store.DeleteEdgesByOrigin(ctx, node.ID); err != nil {
		b.dirty = true
		return err
	}
	if err := b.store.UpsertNode(ctx, node); err != nil {
		b.dirty = true
		return err
	}
	if _, _, err := b.emitEdges(ctx, node); err != nil {
		b.dirty = true
		return err
	}

	heal := map[string]struct{}{}
	for _, id := range prevNeighbors {
		heal[id] = struct{}{}
	}

	if typeChanged {
		// Re-derive the edges of every note linking in: their inferred
		// types depended on this node's old type.
		for _, e := range b.graph.EdgesTouching(node.ID) {
			if e.Origin == node.ID {
				continue
			}
			heal[e.Origin] = struct{}{}
			for _, n := range b.graph.Neighbors(e.Origin) {
				heal[n] = struct{}{}
			}
			b.graph.removeEdgesByOrigin(e.Origin)
			if err := b.store.DeleteEdgesByOrigin(ctx, e.Origin); err != nil {
				b.dirty = true
				return err
			}
		}
	}

	return b.healEdges(ctx, heal, node.ID)
}

// ApplyDelete removes the node for a deleted file along with every edge
// touching it, and re-derives the edges of its former neighbors so their
// links to the gone note are tracked as unresolved.
func (b *Builder) ApplyDelete(ctx context.Context, path string) error {
	id, ok := b.byPath[path]
	if !ok {
		return nil
	}
	delete(b.byPath, path)
	affected := b.graph.removeNode(id)
	if err := b.store.DeleteNode(ctx, id); err != nil {
		b.dirty = true
		return err
	}
	heal := map[string]struct{}{}
	for _, n := range affected {
		heal[n] = struct{}{}
	}
	return b.healEdges(ctx, heal, id)
}

// healEdges re-derives edges for the given node ids without dropping
// anything first. Emission is idempotent, so this restores edges a
// neighbor still justifies after another note's derivations were removed.
func (b *Builder) healEdges(ctx context.Context, ids map[string]struct{}, skip string) error {
	for id := range ids {
		if id == skip {
			continue
		}
		n, ok := b.graph.Node(id)
		if !ok {
			continue
		}
		if _, _, err := b.emitEdges(ctx, n); err != nil {
			b.dirty = true
			return err
		}
	}
	return nil
}

// reresolve re-derives edges for notes whose links previously failed to
// resolve and now match the new node's id or title.
func (b *Builder) reresolve(ctx context.Context, node *Node) error {
	pending := map[string]struct{}{}
	for _, key := range []string{fold(node.ID), fold(node.Title)} {
		for src := range b.unresolved[key] {
			pending[src] = struct{}{}
		}
		delete(b.unresolved, key)
	}
	return b.healEdges(ctx, pending, node.ID)
}

// emitEdges derives and persists the edges for one node's outbound links.
// It returns the number of edges created and of links left unresolved.
func (b *Builder) emitEdges(ctx context.Context, node *Node) (created, unresolvedCount int, err error) {
	for _, link := range node.Links {
		targetID, ok := b.graph.Resolve(link)
		if !ok {
			unresolvedCount++
			b.trackUnresolved(link, node.ID)
			b.logger.Debug("graph.build.unresolved_link", "source", node.ID, "target", link)
			continue
		}
		target, ok := b.graph.Node(targetID)
		if !ok {
			continue
		}

		inf := InferRelationship(b.registry, node.Type, target.Type)

		n, err := b.addEdge(ctx, &Edge{
			Source: node.ID, Target: targetID, Type: inf.TypeID, Origin: node.ID,
		}, inf.TypeID == template.FallbackRelationship)
		if err != nil {
			return created, unresolvedCount, err
		}
		created += n

		if inf.Bidirectional && inf.ReverseID != "" {
			n, err := b.addEdge(ctx, &Edge{
				Source: targetID, Target: node.ID, Type: inf.ReverseID, Origin: node.ID,
			}, false)
			if err != nil {
				return created, unresolvedCount, err
			}
			created += n
		}
	}
	return created, unresolvedCount, nil
}

// addEdge inserts the edge in the projection and the store. A generic
// catch-all edge is suppressed when any edge already connects the pair in
// that direction, and adding a specific edge evicts a stale catch-all for
// the same pair.
func (b *Builder) addEdge(ctx context.Context, e *Edge, isFallback bool) (int, error) {
	if isFallback && b.graph.hasAnyEdge(e.Source, e.Target) {
		return 0, nil
	}
	if !isFallback && e.Type != template.FallbackRelationship {
		if b.graph.HasEdge(e.Source, e.Target, template.FallbackRelationship) {
			b.graph.removeEdge(EdgeKey{e.Source, e.Target, template.FallbackRelationship})
			if err := b.store.DeleteEdge(ctx, e.Source, e.Target, template.FallbackRelationship); err != nil {
				return 0, err
			}
		}
	}
	if !b.graph.addEdge(e) {
		return 0, nil
	}
	if err := b.store.InsertEdge(ctx, e); err != nil {
		return 0, err
	}
	return 1, nil
}

func (b *Builder) trackUnresolved(target, sourceID string) {
	key := fold(target)
	if b.unresolved[key] == nil {
		b.unresolved[key] = make(map[string]struct{})
	}
	b.unresolved[key][sourceID] = struct{}{}
}
