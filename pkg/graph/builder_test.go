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
	"io"
	"log/slog"
	"testing"

	"github.com/hivemindlabs/hivemind/pkg/template"
	"github.com/hivemindlabs/hivemind/pkg/vault"
)

// memStore is an in-memory Store for builder tests; it mirrors the same
// node/edge tables so graph-store consistency can be asserted.
type memStore struct {
	nodes map[string]*Node
	edges map[EdgeKey]*Edge
}

func newMemStore() *memStore {
	return &memStore{nodes: map[string]*Node{}, edges: map[EdgeKey]*Edge{}}
}

func (s *memStore) UpsertNode(_ context.Context, n *Node) error {
	s.nodes[n.ID] = n
	return nil
}

func (s *memStore) DeleteNode(_ context.Context, id string) error {
	delete(s.nodes, id)
	for key := range s.edges {
		if key.Source == id || key.Target == id {
			delete(s.edges, key)
		}
	}
	return nil
}

func (s *memStore) InsertEdge(_ context.Context, e *Edge) error {
	s.edges[e.Key()] = e
	return nil
}

func (s *memStore) DeleteEdge(_ context.Context, source, target, typeID string) error {
	delete(s.edges, EdgeKey{source, target, typeID})
	return nil
}

func (s *memStore) DeleteEdgesByOrigin(_ context.Context, origin string) error {
	for key, e := range s.edges {
		if e.Origin == origin {
			delete(s.edges, key)
		}
	}
	return nil
}

func note(path, id, typ, name string, links ...string) *vault.Note {
	return &vault.Note{
		ID:       id,
		Path:     path,
		FileName: path,
		Frontmatter: map[string]any{
			"id": id, "type": typ, "name": name,
		},
		Links: links,
	}
}

func newTestBuilder(t *testing.T) (*Builder, *memStore) {
	t.Helper()
	reg := template.NewRegistry()
	if err := reg.Register(template.BuiltinWorldbuilding(), "builtin"); err != nil {
		t.Fatalf("register builtin: %v", err)
	}
	if err := reg.Activate("worldbuilding"); err != nil {
		t.Fatalf("activate builtin: %v", err)
	}
	store := newMemStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewBuilder(reg, New(), store, logger), store
}

func requireEdge(t *testing.T, b *Builder, s *memStore, source, target, typ string) {
	t.Helper()
	if !b.Graph().HasEdge(source, target, typ) {
		t.Fatalf("missing edge (%s, %s, %s) in projection", source, target, typ)
	}
	if _, ok := s.edges[EdgeKey{source, target, typ}]; !ok {
		t.Fatalf("missing edge (%s, %s, %s) in store", source, target, typ)
	}
}

func requireNoEdge(t *testing.T, b *Builder, s *memStore, source, target, typ string) {
	t.Helper()
	if b.Graph().HasEdge(source, target, typ) {
		t.Fatalf("unexpected edge (%s, %s, %s) in projection", source, target, typ)
	}
	if _, ok := s.edges[EdgeKey{source, target, typ}]; ok {
		t.Fatalf("unexpected edge (%s, %s, %s) in store", source, target, typ)
	}
}

func TestBuild_BidirectionalKnows(t *testing.T) {
	b, store := newTestBuilder(t)
	notes := []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "Bob"),
		note("/v/bob.md", "bob", "character", "Bob", "alice"),
	}
	stats, err := b.Build(context.Background(), notes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	requireEdge(t, b, store, "alice", "bob", "knows")
	requireEdge(t, b, store, "bob", "alice", "knows")
	requireNoEdge(t, b, store, "alice", "bob", "related")
	requireNoEdge(t, b, store, "bob", "alice", "related")

	if b.Graph().EdgeCount() != 2 {
		t.Fatalf("expected 2 edges, got %d", b.Graph().EdgeCount())
	}
	if stats.NodesCreated != 2 || stats.UnresolvedLinks != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBuild_LocatedInBeatsRelated(t *testing.T) {
	b, store := newTestBuilder(t)
	notes := []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "castle"),
		note("/v/castle.md", "castle", "location", "The Castle"),
	}
	if _, err := b.Build(context.Background(), notes); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	requireEdge(t, b, store, "alice", "castle", "located_in")
	requireEdge(t, b, store, "castle", "alice", "has_inhabitant")
	requireNoEdge(t, b, store, "alice", "castle", "related")
}

func TestBuild_OrderIndependent(t *testing.T) {
	forward := []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "The Castle"),
		note("/v/castle.md", "castle", "location", "The Castle"),
	}
	reversed := []*vault.Note{forward[1], forward[0]}

	for _, order := range [][]*vault.Note{forward, reversed} {
		b, store := newTestBuilder(t)
		stats, err := b.Build(context.Background(), order)
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		if stats.UnresolvedLinks != 0 {
			t.Fatalf("links must resolve regardless of order: %+v", stats)
		}
		requireEdge(t, b, store, "alice", "castle", "located_in")
		requireEdge(t, b, store, "castle", "alice", "has_inhabitant")
	}
}

func TestBuild_DuplicateIDFirstWins(t *testing.T) {
	b, _ := newTestBuilder(t)
	notes := []*vault.Note{
		note("/v/a/alice.md", "alice", "character", "Alice"),
		note("/v/b/alice.md", "alice", "character", "Other Alice"),
	}
	stats, err := b.Build(context.Background(), notes)
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if len(stats.DuplicateIDs) != 1 {
		t.Fatalf("expected one duplicate, got %+v", stats.DuplicateIDs)
	}
	d := stats.DuplicateIDs[0]
	if d.KeptPath != "/v/a/alice.md" || d.SkippedPath != "/v/b/alice.md" {
		t.Fatalf("first file must win the id: %+v", d)
	}
	n, _ := b.Graph().Node("alice")
	if n.Path != "/v/a/alice.md" {
		t.Fatalf("wrong node kept: %s", n.Path)
	}
}

func TestBuild_SkipsUnadmittedFiles(t *testing.T) {
	b, _ := newTestBuilder(t)
	noFM := &vault.Note{Path: "/v/scratch.md", MissingFrontmatter: true}
	noID := &vault.Note{Path: "/v/draft.md", Frontmatter: map[string]any{"type": "concept"}}
	stats, err := b.Build(context.Background(), []*vault.Note{noFM, noID})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if stats.SkippedFiles != 2 || stats.NodesCreated != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestBuild_UnresolvedLinkTracked(t *testing.T) {
	b, _ := newTestBuilder(t)
	stats, err := b.Build(context.Background(), []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "Ghost Town"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if stats.UnresolvedLinks != 1 || b.Graph().EdgeCount() != 0 {
		t.Fatalf("expected one unresolved link and no edges: %+v", stats)
	}
}

func TestBuild_TitleCollisionLastWriterWins(t *testing.T) {
	b, _ := newTestBuilder(t)
	stats, err := b.Build(context.Background(), []*vault.Note{
		note("/v/a.md", "twin-a", "character", "The Twin"),
		note("/v/b.md", "twin-b", "character", "The Twin"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if stats.TitleCollisions != 1 {
		t.Fatalf("expected one title collision, got %d", stats.TitleCollisions)
	}
	if id, ok := b.Graph().Resolve("the twin"); !ok || id != "twin-b" {
		t.Fatalf("last writer must own the title, resolved to %q", id)
	}
}

func TestApplyModify_RelinksEdges(t *testing.T) {
	b, store := newTestBuilder(t)
	_, err := b.Build(context.Background(), []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "castle"),
		note("/v/castle.md", "castle", "location", "The Castle"),
		note("/v/tavern.md", "tavern", "location", "The Tavern"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	requireEdge(t, b, store, "alice", "castle", "located_in")

	// Alice moves: the link now points at the tavern.
	err = b.ApplyModify(context.Background(),
		note("/v/alice.md", "alice", "character", "Alice", "tavern"))
	if err != nil {
		t.Fatalf("ApplyModify failed: %v", err)
	}

	requireNoEdge(t, b, store, "alice", "castle", "located_in")
	requireNoEdge(t, b, store, "castle", "alice", "has_inhabitant")
	requireEdge(t, b, store, "alice", "tavern", "located_in")
	requireEdge(t, b, store, "tavern", "alice", "has_inhabitant")
}

func TestApplyModify_Idempotent(t *testing.T) {
	b, _ := newTestBuilder(t)
	alice := note("/v/alice.md", "alice", "character", "Alice", "bob")
	_, err := b.Build(context.Background(), []*vault.Note{
		alice,
		note("/v/bob.md", "bob", "character", "Bob"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	before := b.Graph().EdgeCount()

	for i := 0; i < 3; i++ {
		if err := b.ApplyModify(context.Background(), alice); err != nil {
			t.Fatalf("ApplyModify failed: %v", err)
		}
	}
	if got := b.Graph().EdgeCount(); got != before {
		t.Fatalf("edge count drifted under reapplication: %d -> %d", before, got)
	}
}

func TestApplyModify_KeepsEdgeJustifiedByPeer(t *testing.T) {
	b, store := newTestBuilder(t)
	_, err := b.Build(context.Background(), []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "bob"),
		note("/v/bob.md", "bob", "character", "Bob", "alice"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	// Alice drops the link; Bob still links Alice, so both knows edges
	// remain justified by Bob's note.
	err = b.ApplyModify(context.Background(),
		note("/v/alice.md", "alice", "character", "Alice"))
	if err != nil {
		t.Fatalf("ApplyModify failed: %v", err)
	}
	requireEdge(t, b, store, "bob", "alice", "knows")
	requireEdge(t, b, store, "alice", "bob", "knows")
}

func TestApplyCreate_ResolvesPendingLinks(t *testing.T) {
	b, store := newTestBuilder(t)
	_, err := b.Build(context.Background(), []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "Ghost Town"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	requireNoEdge(t, b, store, "alice", "ghost-town", "located_in")

	err = b.ApplyCreate(context.Background(),
		note("/v/ghost-town.md", "ghost-town", "location", "Ghost Town"))
	if err != nil {
		t.Fatalf("ApplyCreate failed: %v", err)
	}
	requireEdge(t, b, store, "alice", "ghost-town", "located_in")
	requireEdge(t, b, store, "ghost-town", "alice", "has_inhabitant")
}

func TestApplyDelete_RemovesNodeAndEdges(t *testing.T) {
	b, store := newTestBuilder(t)
	_, err := b.Build(context.Background(), []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "castle"),
		note("/v/castle.md", "castle", "location", "The Castle"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if err := b.ApplyDelete(context.Background(), "/v/castle.md"); err != nil {
		t.Fatalf("ApplyDelete failed: %v", err)
	}
	if _, ok := b.Graph().Node("castle"); ok {
		t.Fatal("node survived deletion")
	}
	requireNoEdge(t, b, store, "alice", "castle", "located_in")
	requireNoEdge(t, b, store, "castle", "alice", "has_inhabitant")

	// Re-creating the file restores the link.
	err = b.ApplyCreate(context.Background(),
		note("/v/castle.md", "castle", "location", "The Castle"))
	if err != nil {
		t.Fatalf("ApplyCreate failed: %v", err)
	}
	requireEdge(t, b, store, "alice", "castle", "located_in")
}

func TestApplyModify_IDChangeIsDeleteThenCreate(t *testing.T) {
	b, store := newTestBuilder(t)
	_, err := b.Build(context.Background(), []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "castle"),
		note("/v/castle.md", "castle", "location", "The Castle"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	err = b.ApplyModify(context.Background(),
		note("/v/alice.md", "alice-prime", "character", "Alice", "castle"))
	if err != nil {
		t.Fatalf("ApplyModify failed: %v", err)
	}
	if _, ok := b.Graph().Node("alice"); ok {
		t.Fatal("old id survived the rename")
	}
	requireEdge(t, b, store, "alice-prime", "castle", "located_in")
	requireNoEdge(t, b, store, "alice", "castle", "located_in")
}

func TestApplyModify_TypeChangeRederivesInbound(t *testing.T) {
	b, store := newTestBuilder(t)
	_, err := b.Build(context.Background(), []*vault.Note{
		note("/v/alice.md", "alice", "character", "Alice", "ruin"),
		note("/v/ruin.md", "ruin", "location", "The Ruin"),
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	requireEdge(t, b, store, "alice", "ruin", "located_in")

	// The ruin is retyped as a concept; located_in no longer applies and
	// alice's link degrades to the catch-all.
	err = b.ApplyModify(context.Background(),
		note("/v/ruin.md", "ruin", "concept", "The Ruin"))
	if err != nil {
		t.Fatalf("ApplyModify failed: %v", err)
	}
	requireNoEdge(t, b, store, "alice", "ruin", "located_in")
	requireNoEdge(t, b, store, "ruin", "alice", "has_inhabitant")
	requireEdge(t, b, store, "alice", "ruin", "related")
}
