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

// Package search fuses keyword, graph-proximity and optional vector signals
// into a single ranked result list.
package search

import (
	"context"
	"log/slog"
	"sort"

	"github.com/hivemindlabs/hivemind/pkg/graph"
	"github.com/hivemindlabs/hivemind/pkg/storage"
)

// Index is the keyword retrieval source, satisfied by *storage.Store.
type Index interface {
	FullTextSearch(ctx context.Context, query string, limit int) ([]storage.SearchHit, error)
}

// VectorHit is one semantic match from a vector source.
type VectorHit struct {
	ID    string
	Score float64 // normalized to [0,1]
}

// VectorSource is an optional semantic retrieval backend. None ships with
// the core; external embedders plug in here.
type VectorSource interface {
	Query(ctx context.Context, query string, limit int) ([]VectorHit, error)
}

// Weights are the fusion coefficients. When no vector source is configured
// the vector term contributes nothing.
type Weights struct {
	Keyword float64
	Graph   float64
	Vector  float64
}

// DefaultWeights returns the standard (0.6, 0.2, 0.2) split.
func DefaultWeights() Weights {
	return Weights{Keyword: 0.6, Graph: 0.2, Vector: 0.2}
}

// Filters narrow the candidate set after scoring.
type Filters struct {
	// Type keeps only nodes of this entity type.
	Type string
	// Status keeps only nodes with this canon status.
	Status string
	// RelationshipType keeps only nodes participating in at least one edge
	// of this type.
	RelationshipType string
	// NeighborOf keeps only nodes adjacent to the given node id.
	NeighborOf string
}

// Result is one ranked hit with its per-signal breakdown.
type Result struct {
	ID      string      `json:"id"`
	Score   float64     `json:"score"`
	Keyword float64     `json:"keyword"`
	Graph   float64     `json:"graph"`
	Vector  float64     `json:"vector,omitempty"`
	Node    *graph.Node `json:"-"`
}

// Options configures an Engine.
type Options struct {
	Weights Weights
	// CandidateLimit is K, the keyword candidate pool size. Defaults to 50.
	CandidateLimit int
	Vector         VectorSource
	Logger         *slog.Logger
}

// Engine ranks nodes for a free-text query. It reads the storage index and
// the graph projection only; it never touches the filesystem.
type Engine struct {
	index  Index
	graph  *graph.Graph
	vector VectorSource
	w      Weights
	k      int
	logger *slog.Logger
}

// NewEngine builds an engine over the keyword index and graph projection.
func NewEngine(index Index, g *graph.Graph, opts Options) *Engine {
	if opts.CandidateLimit <= 0 {
		opts.CandidateLimit = 50
	}
	if opts.Weights == (Weights{}) {
		opts.Weights = DefaultWeights()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		index:  index,
		graph:  g,
		vector: opts.Vector,
		w:      opts.Weights,
		k:      opts.CandidateLimit,
		logger: opts.Logger,
	}
}

// Search runs the hybrid query. An empty query returns no results. When the
// graph or vector signal is unavailable the keyword ranking stands alone.
func (e *Engine) Search(ctx context.Context, query string, filters Filters, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 20
	}

	hits, err := e.index.FullTextSearch(ctx, query, e.k)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	// Keyword scores normalized to [0,1] by the best hit.
	maxScore := hits[0].Score
	for _, h := range hits {
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}
	keyword := make(map[string]float64, len(hits))
	for _, h := range hits {
		if maxScore > 0 {
			keyword[h.ID] = h.Score / maxScore
		}
	}

	// Graph diffusion: each 1-hop neighbour of a keyword candidate inherits
	// half the candidate's score; the strongest source wins.
	graphScore := make(map[string]float64)
	if e.graph != nil {
		for id, k := range keyword {
			for _, n := range e.graph.Neighbors(id) {
				if n == id {
					continue
				}
				if g := 0.5 * k; g > graphScore[n] {
					graphScore[n] = g
				}
			}
		}
	}

	vectorScore := make(map[string]float64)
	if e.vector != nil {
		vhits, err := e.vector.Query(ctx, query, e.k)
		if err != nil {
			// Degrade to the remaining signals rather than fail the search.
			e.logger.Warn("search.vector.error", "err", err)
		}
		for _, vh := range vhits {
			vectorScore[vh.ID] = vh.Score
		}
	}

	candidates := make(map[string]struct{}, len(keyword)+len(graphScore)+len(vectorScore))
	for id := range keyword {
		candidates[id] = struct{}{}
	}
	for id := range graphScore {
		candidates[id] = struct{}{}
	}
	for id := range vectorScore {
		candidates[id] = struct{}{}
	}

	var results []Result
	for id := range candidates {
		r := Result{
			ID:      id,
			Keyword: keyword[id],
			Graph:   graphScore[id],
			Vector:  vectorScore[id],
		}
		r.Score = e.w.Keyword*r.Keyword + e.w.Graph*r.Graph
		if e.vector != nil {
			r.Score += e.w.Vector * r.Vector
		}
		if e.graph != nil {
			if n, ok := e.graph.Node(id); ok {
				r.Node = n
			}
		}
		if !e.keep(&r, filters) {
			continue
		}
		results = append(results, r)
	}

	sort.Slice(results, func(a, b int) bool {
		if results[a].Score != results[b].Score {
			return results[a].Score > results[b].Score
		}
		return results[a].ID < results[b].ID
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (e *Engine) keep(r *Result, f Filters) bool {
	if f.Type != "" || f.Status != "" {
		if r.Node == nil {
			return false
		}
		if f.Type != "" && r.Node.Type != f.Type {
			return false
		}
		if f.Status != "" && r.Node.Status != f.Status {
			return false
		}
	}
	if f.RelationshipType != "" {
		if e.graph == nil {
			return false
		}
		found := false
		for _, edge := range e.graph.EdgesTouching(r.ID) {
			if edge.Type == f.RelationshipType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.NeighborOf != "" {
		if e.graph == nil {
			return false
		}
		adjacent := false
		for _, n := range e.graph.Neighbors(f.NeighborOf) {
			if n == r.ID {
				adjacent = true
				break
			}
		}
		if !adjacent {
			return false
		}
	}
	return true
}
