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
	"github.com/hivemindlabs/hivemind/pkg/template"
)

// Inference is the relationship chosen for a (source type, target type) pair.
type Inference struct {
	TypeID        string
	Bidirectional bool
	ReverseID     string
}

// InferRelationship picks the relationship type for an edge from sourceType
// to targetType.
//
// With an active template, candidates are the declared relationship types
// whose allow-sets admit the pair. The most specific candidate wins
// (explicit/explicit over explicit/wildcard over wildcard/wildcard); among
// equals the one declared first in the template wins, and the generic
// catch-all is chosen only when nothing else fits.
//
// Without an active template a fixed table keyed by conventional type names
// applies, with the catch-all as the final fallback.
func InferRelationship(reg *template.Registry, sourceType, targetType string) Inference {
	if reg != nil {
		if candidates, err := reg.ValidRelationships(sourceType, targetType); err == nil {
			return pickCandidate(candidates)
		}
	}
	return fallbackInference(sourceType, targetType)
}

func pickCandidate(candidates []*template.RelationshipType) Inference {
	var best *template.RelationshipType
	for _, rt := range candidates {
		if rt.IsFallback() {
			continue
		}
		if best == nil || rt.Specificity() > best.Specificity() {
			best = rt
		}
	}
	if best == nil {
		// Only the catch-all (or nothing) admits this pair.
		for _, rt := range candidates {
			if rt.IsFallback() {
				best = rt
				break
			}
		}
	}
	if best == nil {
		return Inference{TypeID: template.FallbackRelationship}
	}
	inf := Inference{TypeID: best.ID, Bidirectional: best.Bidirectional}
	if best.Bidirectional {
		inf.ReverseID = best.ReverseID
	}
	return inf
}

// fallbackInference covers vaults indexed before any template is active.
func fallbackInference(sourceType, targetType string) Inference {
	switch {
	case sourceType == "character" && targetType == "character":
		return Inference{TypeID: "knows", Bidirectional: true, ReverseID: "knows"}
	case sourceType == "character" && targetType == "location":
		return Inference{TypeID: "located_in", Bidirectional: true, ReverseID: "has_inhabitant"}
	case sourceType == "location" && targetType == "location":
		return Inference{TypeID: "connected_to", Bidirectional: true, ReverseID: "connected_to"}
	case sourceType == "character" && targetType == "faction":
		return Inference{TypeID: "member_of"}
	default:
		return Inference{TypeID: template.FallbackRelationship}
	}
}
