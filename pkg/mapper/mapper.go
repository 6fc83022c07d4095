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

// Package mapper resolves vault file paths to candidate entity types using
// the active template's folder-mapping rules.
//
// Globs are compiled and scored once at construction; Resolve is a linear
// scan over rules pre-sorted by descending specificity and never fails.
package mapper

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/hivemindlabs/hivemind/pkg/template"
)

// ErrInvalidPattern is returned by New when a rule's glob does not compile.
var ErrInvalidPattern = errors.New("invalid folder-mapping pattern")

// Confidence tags how a path was resolved.
type Confidence string

const (
	ConfidenceExact     Confidence = "exact"     // one candidate type
	ConfidenceAmbiguous Confidence = "ambiguous" // several candidates from one rule
	ConfidenceFallback  Confidence = "fallback"  // no rule matched, fallback configured
	ConfidenceNone      Confidence = "none"      // no rule matched, no fallback
)

// Result is the outcome of resolving a path.
type Result struct {
	Types          []string   `json:"types"`
	MatchedPattern string     `json:"matchedPattern,omitempty"`
	Confidence     Confidence `json:"confidence"`
}

// Mapper resolves paths against an ordered set of compiled rules.
type Mapper struct {
	rules        []compiledRule
	fallbackType string
}

type compiledRule struct {
	pattern string
	types   []string
	score   int
	order   int
}

// New compiles the given rules and sorts them by descending specificity,
// ties broken by declaration order. An invalid glob fails here with
// ErrInvalidPattern so that Resolve can never fail.
//
// fallbackType, when non-empty, is returned with fallback confidence for
// paths no rule matches.
func New(rules []template.FolderRule, fallbackType string) (*Mapper, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for i, rule := range rules {
		if !doublestar.ValidatePattern(rule.Pattern) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPattern, rule.Pattern)
		}
		compiled = append(compiled, compiledRule{
			pattern: rule.Pattern,
			types:   append([]string(nil), rule.EntityTypes...),
			score:   specificity(rule.Pattern),
			order:   i,
		})
	}
	sort.SliceStable(compiled, func(a, b int) bool {
		if compiled[a].score != compiled[b].score {
			return compiled[a].score > compiled[b].score
		}
		return compiled[a].order < compiled[b].order
	})
	return &Mapper{rules: compiled, fallbackType: fallbackType}, nil
}

// Resolve maps a file path to candidate entity types. Backslashes are
// normalised to forward slashes first; matching is case-sensitive. The
// first rule to match in specificity order wins.
func (m *Mapper) Resolve(path string) Result {
	normalized := strings.ReplaceAll(path, `\`, "/")
	for _, rule := range m.rules {
		// Patterns are validated at construction, so Match cannot fail here.
		ok, _ := doublestar.Match(rule.pattern, normalized)
		if !ok {
			continue
		}
		confidence := ConfidenceExact
		if len(rule.types) > 1 {
			confidence = ConfidenceAmbiguous
		}
		return Result{
			Types:          append([]string(nil), rule.types...),
			MatchedPattern: rule.pattern,
			Confidence:     confidence,
		}
	}
	if m.fallbackType != "" {
		return Result{Types: []string{m.fallbackType}, Confidence: ConfidenceFallback}
	}
	return Result{Confidence: ConfidenceNone}
}

// specificity scores a pattern; longer and more literal patterns beat
// shorter and more wildcarded ones:
//
//	len(pattern) + 8*segments + 12*literalSegments - 10*doubleStars - 5*singleStars
func specificity(pattern string) int {
	segments := strings.Split(pattern, "/")
	literal := 0
	for _, seg := range segments {
		if !strings.ContainsAny(seg, "*?[") {
			literal++
		}
	}
	doubleStars := strings.Count(pattern, "**")
	singleStars := strings.Count(pattern, "*") - 2*doubleStars

	return len(pattern) +
		8*len(segments) +
		12*literal -
		10*doubleStars -
		5*singleStars
}
