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

package mapper

import (
	"errors"
	"testing"

	"github.com/hivemindlabs/hivemind/pkg/template"
)

func rules(pairs ...[2]any) []template.FolderRule {
	out := make([]template.FolderRule, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, template.FolderRule{
			Pattern:     p[0].(string),
			EntityTypes: p[1].([]string),
		})
	}
	return out
}

func TestMapper_MoreSpecificRuleWins(t *testing.T) {
	m, err := New(rules(
		[2]any{"**/People/**", []string{"character"}},
		[2]any{"**/People/Heroes/**", []string{"character", "protagonist"}},
	), "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	res := m.Resolve("vault/People/Heroes/arthur.md")
	if res.Confidence != ConfidenceAmbiguous {
		t.Errorf("expected ambiguous confidence, got %s", res.Confidence)
	}
	if res.MatchedPattern != "**/People/Heroes/**" {
		t.Errorf("expected the longer pattern to win, got %s", res.MatchedPattern)
	}
	if len(res.Types) != 2 || res.Types[0] != "character" || res.Types[1] != "protagonist" {
		t.Errorf("expected both candidates, got %v", res.Types)
	}
}

func TestMapper_ExactConfidence(t *testing.T) {
	m, err := New(rules([2]any{"**/Locations/**", []string{"location"}}), "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res := m.Resolve("vault/Locations/castle.md")
	if res.Confidence != ConfidenceExact || len(res.Types) != 1 || res.Types[0] != "location" {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestMapper_FallbackAndNone(t *testing.T) {
	withFallback, err := New(rules([2]any{"**/People/**", []string{"character"}}), "concept")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res := withFallback.Resolve("vault/Misc/notes.md")
	if res.Confidence != ConfidenceFallback || len(res.Types) != 1 || res.Types[0] != "concept" {
		t.Errorf("expected fallback to concept, got %+v", res)
	}

	noFallback, err := New(rules([2]any{"**/People/**", []string{"character"}}), "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	res = noFallback.Resolve("vault/Misc/notes.md")
	if res.Confidence != ConfidenceNone || len(res.Types) != 0 {
		t.Errorf("expected none, got %+v", res)
	}
}

func TestMapper_CaseSensitive(t *testing.T) {
	m, err := New(rules([2]any{"**/People/**", []string{"character"}}), "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if res := m.Resolve("vault/people/arthur.md"); res.Confidence != ConfidenceNone {
		t.Errorf("lowercase path must not match literal People, got %+v", res)
	}
}

func TestMapper_BackslashNormalization(t *testing.T) {
	m, err := New(rules([2]any{"**/People/**", []string{"character"}}), "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if res := m.Resolve(`vault\People\arthur.md`); res.Confidence != ConfidenceExact {
		t.Errorf("windows-style path must resolve, got %+v", res)
	}
}

func TestMapper_InvalidPatternFailsConstruction(t *testing.T) {
	_, err := New(rules([2]any{"**/People/[", []string{"character"}}), "")
	if !errors.Is(err, ErrInvalidPattern) {
		t.Fatalf("expected ErrInvalidPattern, got %v", err)
	}
}

func TestSpecificity_OrderingProperties(t *testing.T) {
	// A pattern with more literal segments scores strictly higher than its
	// wildcarded prefix.
	if specificity("**/People/Heroes/**") <= specificity("**/People/**") {
		t.Errorf("longer literal pattern must score higher: %d vs %d",
			specificity("**/People/Heroes/**"), specificity("**/People/**"))
	}
	// Double stars are penalised harder than single stars.
	if specificity("a/**/b") >= specificity("a/*/b") {
		t.Errorf("** must score below *: %d vs %d",
			specificity("a/**/b"), specificity("a/*/b"))
	}
}

func TestMapper_TieBrokenByDeclarationOrder(t *testing.T) {
	m, err := New(rules(
		[2]any{"**/Aaaaa/**", []string{"character"}},
		[2]any{"**/Bbbbb/**", []string{"location"}},
	), "")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	// Equal scores; first declared rule is tested first.
	if m.rules[0].pattern != "**/Aaaaa/**" {
		t.Errorf("expected declaration order preserved on ties, got %s first", m.rules[0].pattern)
	}
}
