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

package template

import (
	"fmt"
	"time"
)

// IssueKind classifies a validation finding on a single note.
type IssueKind string

const (
	IssueMissingFrontmatter IssueKind = "missing_frontmatter"
	IssueMissingField       IssueKind = "missing_field"
	IssueInvalidEnum        IssueKind = "invalid_enum"
	IssueInvalidType        IssueKind = "invalid_type" // unknown entity type
	IssueInvalidValue       IssueKind = "invalid_value"
	IssueFolderMismatch     IssueKind = "folder_mismatch"
)

// Issue is a single validation finding.
type Issue struct {
	Kind    IssueKind `json:"kind"`
	Field   string    `json:"field,omitempty"`
	Message string    `json:"message"`
}

// Schema is a compiled validator for one entity type.
//
// Compilation happens once at template activation; validation is a walk over
// pre-resolved field descriptors with no reflection. The validator is
// non-strict on unknown fields (they are preserved untouched) and strict on
// the declared types of known fields.
type Schema struct {
	EntityType string
	fields     []compiledField
}

type compiledField struct {
	name     string
	kind     FieldType
	required bool
	def      any
	enum     map[string]struct{}
	elem     FieldType
}

// compileSchema builds the tagged-variant validator for an entity type.
func compileSchema(et *EntityType) *Schema {
	s := &Schema{EntityType: et.Name, fields: make([]compiledField, 0, len(et.Fields))}
	for _, f := range et.Fields {
		cf := compiledField{
			name:     f.Name,
			kind:     f.Type,
			required: f.Required,
			def:      f.Default,
			elem:     f.ElementType,
		}
		if f.Type == FieldEnum {
			cf.enum = make(map[string]struct{}, len(f.Values))
			for _, v := range f.Values {
				cf.enum[v] = struct{}{}
			}
		}
		s.fields = append(s.fields, cf)
	}
	return s
}

// Validate checks a frontmatter map against the schema and returns the
// findings together with the normalized frontmatter (defaults substituted
// for absent default-valued fields, unknown keys preserved).
//
// The input's `type` key must equal the schema's entity type; a mismatch is
// reported as an invalid_type issue and no further checks run.
func (s *Schema) Validate(frontmatter map[string]any) ([]Issue, map[string]any) {
	declared, _ := frontmatter["type"].(string)
	if declared != s.EntityType {
		return []Issue{{
			Kind:    IssueInvalidType,
			Field:   "type",
			Message: fmt.Sprintf("expected type %q, found %q", s.EntityType, declared),
		}}, frontmatter
	}

	out := make(map[string]any, len(frontmatter))
	for k, v := range frontmatter {
		out[k] = v
	}

	var issues []Issue
	for i := range s.fields {
		f := &s.fields[i]
		val, present := out[f.name]
		if !present || val == nil {
			if f.def != nil {
				out[f.name] = f.def
				continue
			}
			if f.required {
				issues = append(issues, Issue{
					Kind:    IssueMissingField,
					Field:   f.name,
					Message: fmt.Sprintf("required field %q is missing", f.name),
				})
			}
			continue
		}
		if issue := checkValue(f, val); issue != nil {
			issues = append(issues, *issue)
		}
	}
	return issues, out
}

func checkValue(f *compiledField, val any) *Issue {
	switch f.kind {
	case FieldString:
		if _, ok := val.(string); !ok {
			return typeIssue(f.name, "string", val)
		}
	case FieldNumber:
		if !isNumber(val) {
			return typeIssue(f.name, "number", val)
		}
	case FieldBoolean:
		if _, ok := val.(bool); !ok {
			return typeIssue(f.name, "boolean", val)
		}
	case FieldEnum:
		s, ok := val.(string)
		if !ok {
			return typeIssue(f.name, "enum", val)
		}
		if _, ok := f.enum[s]; !ok {
			return &Issue{
				Kind:    IssueInvalidEnum,
				Field:   f.name,
				Message: fmt.Sprintf("value %q is not in the declared enum set", s),
			}
		}
	case FieldDate:
		if !isDate(val) {
			return typeIssue(f.name, "date", val)
		}
	case FieldArray:
		items, ok := val.([]any)
		if !ok {
			return typeIssue(f.name, "array", val)
		}
		if f.elem == "" {
			return nil
		}
		elemField := compiledField{name: f.name, kind: f.elem}
		for _, item := range items {
			if issue := checkValue(&elemField, item); issue != nil {
				issue.Message = fmt.Sprintf("array element: %s", issue.Message)
				return issue
			}
		}
	case FieldRecord:
		if _, ok := val.(map[string]any); !ok {
			return typeIssue(f.name, "record", val)
		}
	}
	return nil
}

func typeIssue(field, want string, got any) *Issue {
	return &Issue{
		Kind:    IssueInvalidValue,
		Field:   field,
		Message: fmt.Sprintf("expected %s, found %T", want, got),
	}
}

func isNumber(val any) bool {
	switch val.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return true
	}
	return false
}

// isDate accepts time.Time values (the YAML parser resolves timestamp
// scalars to time.Time) and strings of date shape.
func isDate(val any) bool {
	switch v := val.(type) {
	case time.Time:
		return true
	case string:
		for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
			if _, err := time.Parse(layout, v); err == nil {
				return true
			}
		}
	}
	return false
}
