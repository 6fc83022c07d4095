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

package search

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/hivemindlabs/hivemind/pkg/graph"
	"github.com/hivemindlabs/hivemind/pkg/storage"
	"github.com/hivemindlabs/hivemind/pkg/template"
	"github.com/hivemindlabs/hivemind/pkg/vault"
)

// fakeIndex returns canned keyword hits.
type fakeIndex struct {
	hits []storage.SearchHit
}

func (f *fakeIndex) FullTextSearch(_ context.Context, query string, _ int) ([]storage.SearchHit, error) {
	if query == "" {
		return nil, nil
	}
	return f.hits, nil
}

// nopStore satisfies graph.Store for building test projections.
type nopStore struct{}

func (nopStore) UpsertNode(context.Context, *graph.Node) error           { return nil }
func (nopStore) DeleteNode(context.Context, string) error                { return nil }
func (nopStore) InsertEdge(context.Context, *graph.Edge) error           { return nil }
func (nopStore) DeleteEdge(context.Context, string, string, string) error { return nil }
func (nopStore) DeleteEdgesByOrigin(context.Context, string) error       { return nil }

type fakeVector struct {
	hits []VectorHit
	err  error
}

func (f *fakeVector) Query(context.Context, string, int) ([]VectorHit, error) {
	return f.hits, f.err
}

func testGraph(t *testing.T, notes ...*vault.Note) *graph.Graph {
	t.Helper()
	reg := template.NewRegistry()
	if err := reg.Register(template.BuiltinWorldbuilding(), "builtin"); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Activate("worldbuilding"); err != nil {
		t.Fatalf("activate: %v", err)
	}
	g := graph.New()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := graph.NewBuilder(reg, g, nopStore{}, logger)
	if _, err := b.Build(context.Background(), notes); err != nil {
		t.Fatalf("build graph: %v", err)
	}
	return g
}

func note(id, typ, name string, links ...string) *vault.Note {
	return &vault.Note{
		ID:          id,
		Path:        "/v/" + id + ".md",
		FileName:    id + ".md",
		Frontmatter: map[string]any{"id": id, "type": typ, "name": name, "status": "canon"},
		Links:       links,
	}
}

func approx(t *testing.T, got, want float64, label string) {
	t.Helper()
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("%s: got %v, want %v", label, got, want)
	}
}

// Keyword hits A (1.0 after normalization) and C (0.4); A is connected to
// B. With weights (0.6, 0.2) and no vector source, combined scores are
// A=0.60, C=0.24, B=0.10 and the order is A, C, B.
func TestSearch_FusionRanking(t *testing.T) {
	g := testGraph(t,
		note("a", "character", "Arthur", "b"),
		note("b", "character", "Bedivere"),
		note("c", "character", "Constantine"),
	)
	idx := &fakeIndex{hits: []storage.SearchHit{
		{ID: "a", Score: 5.0},
		{ID: "c", Score: 2.0},
	}}
	e := NewEngine(idx, g, Options{})

	results, err := e.Search(context.Background(), "king", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	if results[0].ID != "a" || results[1].ID != "c" || results[2].ID != "b" {
		t.Fatalf("wrong order: %s, %s, %s", results[0].ID, results[1].ID, results[2].ID)
	}
	approx(t, results[0].Score, 0.60, "score A")
	approx(t, results[1].Score, 0.24, "score C")
	approx(t, results[2].Score, 0.10, "score B")

	// Signal breakdown.
	approx(t, results[2].Keyword, 0, "keyword B")
	approx(t, results[2].Graph, 0.5, "graph B")
}

func TestSearch_TiesBreakByID(t *testing.T) {
	g := testGraph(t,
		note("zeta", "character", "Zeta"),
		note("alpha", "character", "Alpha"),
	)
	idx := &fakeIndex{hits: []storage.SearchHit{
		{ID: "zeta", Score: 3.0},
		{ID: "alpha", Score: 3.0},
	}}
	e := NewEngine(idx, g, Options{})

	results, err := e.Search(context.Background(), "q", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if results[0].ID != "alpha" || results[1].ID != "zeta" {
		t.Fatalf("equal scores must order by id: %s, %s", results[0].ID, results[1].ID)
	}
}

func TestSearch_EmptyQueryMatchesNothing(t *testing.T) {
	e := NewEngine(&fakeIndex{}, testGraph(t), Options{})
	results, err := e.Search(context.Background(), "", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("empty query must match nothing, got %d results", len(results))
	}
}

func TestSearch_TypeAndStatusFilters(t *testing.T) {
	g := testGraph(t,
		note("a", "character", "Arthur"),
		note("m", "location", "Camelot"),
	)
	idx := &fakeIndex{hits: []storage.SearchHit{
		{ID: "a", Score: 1.0},
		{ID: "m", Score: 0.9},
	}}
	e := NewEngine(idx, g, Options{})

	results, err := e.Search(context.Background(), "q", Filters{Type: "location"}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "m" {
		t.Fatalf("type filter failed: %+v", results)
	}

	results, err = e.Search(context.Background(), "q", Filters{Status: "draft"}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("status filter failed: %+v", results)
	}
}

func TestSearch_RelationshipParticipationFilter(t *testing.T) {
	g := testGraph(t,
		note("a", "character", "Arthur", "camelot"),
		note("camelot", "location", "Camelot"),
		note("loner", "character", "The Loner"),
	)
	idx := &fakeIndex{hits: []storage.SearchHit{
		{ID: "a", Score: 1.0},
		{ID: "loner", Score: 0.9},
	}}
	e := NewEngine(idx, g, Options{})

	results, err := e.Search(context.Background(), "q",
		Filters{RelationshipType: "located_in"}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	// Arthur participates (as source); Camelot participates (as target via
	// diffusion candidate); the loner does not.
	for _, r := range results {
		if r.ID == "loner" {
			t.Fatal("relationship filter leaked a non-participant")
		}
	}
	if len(results) == 0 || results[0].ID != "a" {
		t.Fatalf("expected arthur first, got %+v", results)
	}
}

func TestSearch_NeighborFilter(t *testing.T) {
	g := testGraph(t,
		note("a", "character", "Arthur", "camelot"),
		note("camelot", "location", "Camelot"),
		note("b", "character", "Bedivere"),
	)
	idx := &fakeIndex{hits: []storage.SearchHit{
		{ID: "a", Score: 1.0},
		{ID: "b", Score: 0.8},
	}}
	e := NewEngine(idx, g, Options{})

	results, err := e.Search(context.Background(), "q",
		Filters{NeighborOf: "camelot"}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("neighbour filter failed: %+v", results)
	}
}

func TestSearch_VectorSignalContributes(t *testing.T) {
	g := testGraph(t,
		note("a", "character", "Arthur"),
		note("v", "concept", "The Vision"),
	)
	idx := &fakeIndex{hits: []storage.SearchHit{{ID: "a", Score: 1.0}}}
	vec := &fakeVector{hits: []VectorHit{{ID: "v", Score: 1.0}}}
	e := NewEngine(idx, g, Options{Vector: vec})

	results, err := e.Search(context.Background(), "q", Filters{}, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected vector-only candidate to appear: %+v", results)
	}
	// a: 0.6·1.0; v: 0.2·1.0.
	approx(t, results[0].Score, 0.6, "keyword hit")
	approx(t, results[1].Score, 0.2, "vector hit")
}

func TestSearch_VectorErrorDegrades(t *testing.T) {
	g := testGraph(t, note("a", "character", "Arthur"))
	idx := &fakeIndex{hits: []storage.SearchHit{{ID: "a", Score: 1.0}}}
	vec := &fakeVector{err: errors.New("embedder offline")}
	e := NewEngine(idx, g, Options{
		Vector: vec,
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	results, err := e.Search(context.Background(), "q", Filters{}, 10)
	if err != nil {
		t.Fatalf("vector failure must not fail the search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "a" {
		t.Fatalf("expected keyword results to stand alone: %+v", results)
	}
}

func TestSearch_LimitTruncates(t *testing.T) {
	g := testGraph(t,
		note("a", "character", "Arthur"),
		note("b", "character", "Bedivere"),
		note("c", "character", "Constantine"),
	)
	idx := &fakeIndex{hits: []storage.SearchHit{
		{ID: "a", Score: 3.0}, {ID: "b", Score: 2.0}, {ID: "c", Score: 1.0},
	}}
	e := NewEngine(idx, g, Options{})

	results, err := e.Search(context.Background(), "q", Filters{}, 2)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 || results[0].ID != "a" || results[1].ID != "b" {
		t.Fatalf("limit truncation failed: %+v", results)
	}
}
