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

// Package template defines the pluggable type system for a vault.
//
// A template is a named, versioned bundle of entity-type and
// relationship-type definitions plus optional folder-mapping rules. The
// Registry holds registered templates, validates them against the
// meta-schema, and compiles per-entity-type validators when a template is
// activated. Templates are immutable once registered.
package template

import (
	"fmt"
	"regexp"
)

// FieldType is the base type of a frontmatter field.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldEnum    FieldType = "enum"
	FieldArray   FieldType = "array"
	FieldDate    FieldType = "date"
	FieldRecord  FieldType = "record"
)

// Wildcard is the allow-set entry that matches every entity type.
const Wildcard = "any"

// FallbackRelationship is the built-in last-resort relationship type id.
const FallbackRelationship = "related"

// Template is a named, versioned catalog of entity and relationship types.
type Template struct {
	ID                string             `yaml:"id" json:"id"`
	Name              string             `yaml:"name" json:"name"`
	Version           string             `yaml:"version" json:"version"`
	Description       string             `yaml:"description,omitempty" json:"description,omitempty"`
	EntityTypes       []EntityType       `yaml:"entityTypes" json:"entityTypes"`
	RelationshipTypes []RelationshipType `yaml:"relationshipTypes" json:"relationshipTypes"`
	FolderMappings    []FolderRule       `yaml:"folderMappings,omitempty" json:"folderMappings,omitempty"`

	// DefaultEntityType, when set, is assumed for untyped notes that no
	// folder rule matches. It must name one of EntityTypes.
	DefaultEntityType string `yaml:"defaultEntityType,omitempty" json:"defaultEntityType,omitempty"`
}

// EntityType declares a schema that notes opt into via `type:` frontmatter.
type EntityType struct {
	Name        string     `yaml:"name" json:"name"`
	DisplayName string     `yaml:"displayName,omitempty" json:"displayName,omitempty"`
	Plural      string     `yaml:"plural,omitempty" json:"plural,omitempty"`
	Description string     `yaml:"description,omitempty" json:"description,omitempty"`
	Fields      []FieldDef `yaml:"fields" json:"fields"`
}

// FieldDef declares a single frontmatter field of an entity type.
type FieldDef struct {
	Name        string    `yaml:"name" json:"name"`
	Type        FieldType `yaml:"type" json:"type"`
	Required    bool      `yaml:"required,omitempty" json:"required,omitempty"`
	Default     any       `yaml:"default,omitempty" json:"default,omitempty"`
	Values      []string  `yaml:"values,omitempty" json:"values,omitempty"`           // enum value list
	ElementType FieldType `yaml:"elementType,omitempty" json:"elementType,omitempty"` // array element type
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
}

// RelationshipType declares a directional edge kind with allow-sets
// restricting which entity types may appear at each end.
type RelationshipType struct {
	ID            string   `yaml:"id" json:"id"`
	Description   string   `yaml:"description,omitempty" json:"description,omitempty"`
	SourceTypes   []string `yaml:"sourceTypes" json:"sourceTypes"` // explicit list or ["any"]
	TargetTypes   []string `yaml:"targetTypes" json:"targetTypes"`
	Bidirectional bool     `yaml:"bidirectional,omitempty" json:"bidirectional,omitempty"`
	ReverseID     string   `yaml:"reverseId,omitempty" json:"reverseId,omitempty"`
}

// FolderRule associates a glob pattern with candidate entity types.
type FolderRule struct {
	Pattern     string   `yaml:"pattern" json:"pattern"`
	EntityTypes []string `yaml:"entityTypes" json:"entityTypes"`
}

// AllowsSource reports whether sourceType may be the source of this
// relationship. The wildcard entry matches any type.
func (r *RelationshipType) AllowsSource(sourceType string) bool {
	return allowsType(r.SourceTypes, sourceType)
}

// AllowsTarget reports whether targetType may be the target of this
// relationship.
func (r *RelationshipType) AllowsTarget(targetType string) bool {
	return allowsType(r.TargetTypes, targetType)
}

// Specificity scores how constrained the relationship's allow-sets are:
// 2 when both ends are explicit lists, 1 when one end is the wildcard,
// 0 when both ends are wildcards. Used to pick the most specific type
// during edge inference.
func (r *RelationshipType) Specificity() int {
	score := 0
	if !hasWildcard(r.SourceTypes) {
		score++
	}
	if !hasWildcard(r.TargetTypes) {
		score++
	}
	return score
}

// IsFallback reports whether this is the generic catch-all relationship.
func (r *RelationshipType) IsFallback() bool {
	return r.ID == FallbackRelationship && r.Specificity() == 0
}

func allowsType(set []string, t string) bool {
	for _, s := range set {
		if s == Wildcard || s == t {
			return true
		}
	}
	return false
}

func hasWildcard(set []string) bool {
	for _, s := range set {
		if s == Wildcard {
			return true
		}
	}
	return false
}

// Meta-schema patterns enforced on registration.
var (
	templateIDPattern = regexp.MustCompile(`^[a-z0-9]+(-[a-z0-9]+)*$`)
	versionPattern    = regexp.MustCompile(`^\d+\.\d+\.\d+$`)
	typeNamePattern   = regexp.MustCompile(`^[a-z]+(_[a-z]+)*$`)
)

// Validate checks the template against the meta-schema. It returns every
// violation it finds; an empty slice means the template is well-formed.
// Each violation names the offending path within the template.
func (t *Template) Validate() []string {
	var problems []string

	if !templateIDPattern.MatchString(t.ID) {
		problems = append(problems, fmt.Sprintf("id: %q must be lowercase alphanumeric with hyphens", t.ID))
	}
	if !versionPattern.MatchString(t.Version) {
		problems = append(problems, fmt.Sprintf("version: %q must be three dot-separated integers", t.Version))
	}
	if len(t.EntityTypes) == 0 {
		problems = append(problems, "entityTypes: at least one entity type is required")
	}

	seenTypes := make(map[string]bool, len(t.EntityTypes))
	for i, et := range t.EntityTypes {
		path := fmt.Sprintf("entityTypes[%d]", i)
		if !typeNamePattern.MatchString(et.Name) {
			problems = append(problems, fmt.Sprintf("%s.name: %q must be lowercase with underscores", path, et.Name))
		}
		if seenTypes[et.Name] {
			problems = append(problems, fmt.Sprintf("%s.name: duplicate entity type %q", path, et.Name))
		}
		seenTypes[et.Name] = true
		problems = append(problems, validateFields(path, et.Fields)...)
	}

	seenRels := make(map[string]bool, len(t.RelationshipTypes))
	relIDs := make(map[string]bool, len(t.RelationshipTypes))
	for _, rt := range t.RelationshipTypes {
		relIDs[rt.ID] = true
	}
	for i, rt := range t.RelationshipTypes {
		path := fmt.Sprintf("relationshipTypes[%d]", i)
		if !typeNamePattern.MatchString(rt.ID) {
			problems = append(problems, fmt.Sprintf("%s.id: %q must be lowercase with underscores", path, rt.ID))
		}
		if seenRels[rt.ID] {
			problems = append(problems, fmt.Sprintf("%s.id: duplicate relationship type %q", path, rt.ID))
		}
		seenRels[rt.ID] = true
		if len(rt.SourceTypes) == 0 {
			problems = append(problems, fmt.Sprintf("%s.sourceTypes: must not be empty", path))
		}
		if len(rt.TargetTypes) == 0 {
			problems = append(problems, fmt.Sprintf("%s.targetTypes: must not be empty", path))
		}
		if rt.Bidirectional {
			if rt.ReverseID == "" {
				problems = append(problems, fmt.Sprintf("%s: bidirectional relationship %q has no reverseId", path, rt.ID))
			} else if !relIDs[rt.ReverseID] {
				problems = append(problems, fmt.Sprintf("%s.reverseId: %q does not name a relationship type", path, rt.ReverseID))
			}
		}
	}

	for i, fr := range t.FolderMappings {
		path := fmt.Sprintf("folderMappings[%d]", i)
		if fr.Pattern == "" {
			problems = append(problems, fmt.Sprintf("%s.pattern: must not be empty", path))
		}
		if len(fr.EntityTypes) == 0 {
			problems = append(problems, fmt.Sprintf("%s.entityTypes: must not be empty", path))
		}
		for _, et := range fr.EntityTypes {
			if !seenTypes[et] {
				problems = append(problems, fmt.Sprintf("%s.entityTypes: unknown entity type %q", path, et))
			}
		}
	}

	if t.DefaultEntityType != "" && !seenTypes[t.DefaultEntityType] {
		problems = append(problems, fmt.Sprintf("defaultEntityType: unknown entity type %q", t.DefaultEntityType))
	}

	return problems
}

func validateFields(parent string, fields []FieldDef) []string {
	var problems []string
	seen := make(map[string]bool, len(fields))
	for i, f := range fields {
		path := fmt.Sprintf("%s.fields[%d]", parent, i)
		if f.Name == "" {
			problems = append(problems, fmt.Sprintf("%s.name: must not be empty", path))
		}
		if seen[f.Name] {
			problems = append(problems, fmt.Sprintf("%s.name: duplicate field %q", path, f.Name))
		}
		seen[f.Name] = true
		if !validFieldType(f.Type) {
			problems = append(problems, fmt.Sprintf("%s.type: unknown base type %q", path, f.Type))
		}
		if f.Type == FieldEnum && len(f.Values) == 0 {
			problems = append(problems, fmt.Sprintf("%s.values: enum field %q must list at least one value", path, f.Name))
		}
		if f.Type == FieldArray && f.ElementType != "" && !validFieldType(f.ElementType) {
			problems = append(problems, fmt.Sprintf("%s.elementType: unknown base type %q", path, f.ElementType))
		}
	}
	return problems
}

func validFieldType(t FieldType) bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldEnum, FieldArray, FieldDate, FieldRecord:
		return true
	}
	return false
}
