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
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Sentinel errors returned by the Registry. Callers match with errors.Is.
var (
	ErrDuplicateTemplate   = errors.New("template already registered")
	ErrTemplateInvalid     = errors.New("template failed meta-schema validation")
	ErrDuplicateEntityType = errors.New("duplicate entity type in template")
	ErrUnknownTemplate     = errors.New("unknown template")
	ErrNoActiveTemplate    = errors.New("no active template")
	ErrUnknownEntityType   = errors.New("unknown entity type")
	ErrUnknownRelationship = errors.New("unknown relationship type")
)

// Registry holds registered templates and serves lookups against the single
// active one. Templates are opaque values behind the lookup methods; the
// registry never exposes its internal maps.
//
// Registration and activation happen at startup; lookups afterwards are
// read-only and safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	templates map[string]*Template
	sources   map[string]string // template id -> where it came from
	activeID  string

	// compiled state for the active template
	entityTypes map[string]*EntityType
	typeOrder   []string
	relTypes    map[string]*RelationshipType
	relOrder    []string
	schemas     map[string]*Schema
	folderRules []FolderRule
}

// NewRegistry returns an empty registry with no active template.
func NewRegistry() *Registry {
	return &Registry{
		templates: make(map[string]*Template),
		sources:   make(map[string]string),
	}
}

// Register validates tmpl against the meta-schema and stores it.
//
// source names where the template came from ("builtin", a file path, the
// config file) and is reported in diagnostics. Registration either succeeds
// completely or leaves the registry untouched.
func (r *Registry) Register(tmpl *Template, source string) error {
	if err := validateTemplate(tmpl, source); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.templates[tmpl.ID]; exists {
		return fmt.Errorf("%w: %q (already registered from %s)", ErrDuplicateTemplate, tmpl.ID, r.sources[tmpl.ID])
	}
	r.templates[tmpl.ID] = tmpl
	r.sources[tmpl.ID] = source
	return nil
}

// Replace registers tmpl, overriding any previously registered template with
// the same id. Used for the standalone template file, which takes precedence
// over inline config definitions. Validation runs before the swap, so a
// broken replacement leaves the existing registration in place.
func (r *Registry) Replace(tmpl *Template, source string) error {
	if err := validateTemplate(tmpl, source); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.templates[tmpl.ID] = tmpl
	r.sources[tmpl.ID] = source
	return nil
}

// validateTemplate runs the meta-schema checks shared by Register and
// Replace.
func validateTemplate(tmpl *Template, source string) error {
	if tmpl == nil {
		return fmt.Errorf("%w: nil template", ErrTemplateInvalid)
	}

	seen := make(map[string]bool, len(tmpl.EntityTypes))
	for _, et := range tmpl.EntityTypes {
		if seen[et.Name] {
			return fmt.Errorf("%w: %q (template %q from %s)", ErrDuplicateEntityType, et.Name, tmpl.ID, source)
		}
		seen[et.Name] = true
	}

	problems := tmpl.Validate()
	if len(problems) > 0 {
		return fmt.Errorf("%w: template %q from %s:\n  - %s",
			ErrTemplateInvalid, tmpl.ID, source, strings.Join(problems, "\n  - "))
	}
	return nil
}

// Activate makes the named template the active one and compiles its lookup
// maps and per-entity-type validators. Exactly one template is active at a
// time; activating another replaces the previous activation.
func (r *Registry) Activate(templateID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmpl, ok := r.templates[templateID]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTemplate, templateID)
	}

	entityTypes := make(map[string]*EntityType, len(tmpl.EntityTypes))
	typeOrder := make([]string, 0, len(tmpl.EntityTypes))
	schemas := make(map[string]*Schema, len(tmpl.EntityTypes))
	for i := range tmpl.EntityTypes {
		et := &tmpl.EntityTypes[i]
		entityTypes[et.Name] = et
		typeOrder = append(typeOrder, et.Name)
		schemas[et.Name] = compileSchema(et)
	}

	relTypes := make(map[string]*RelationshipType, len(tmpl.RelationshipTypes))
	relOrder := make([]string, 0, len(tmpl.RelationshipTypes))
	for i := range tmpl.RelationshipTypes {
		rt := &tmpl.RelationshipTypes[i]
		relTypes[rt.ID] = rt
		relOrder = append(relOrder, rt.ID)
	}

	r.activeID = templateID
	r.entityTypes = entityTypes
	r.typeOrder = typeOrder
	r.relTypes = relTypes
	r.relOrder = relOrder
	r.schemas = schemas
	r.folderRules = tmpl.FolderMappings
	return nil
}

// Active returns the currently active template, or false when none is.
func (r *Registry) Active() (*Template, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, false
	}
	return r.templates[r.activeID], true
}

// GetEntityType returns the named entity type from the active template.
func (r *Registry) GetEntityType(name string) (*EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveTemplate
	}
	et, ok := r.entityTypes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, name)
	}
	return et, nil
}

// GetEntityTypes returns the active template's entity types in declaration
// order.
func (r *Registry) GetEntityTypes() ([]*EntityType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveTemplate
	}
	out := make([]*EntityType, 0, len(r.typeOrder))
	for _, name := range r.typeOrder {
		out = append(out, r.entityTypes[name])
	}
	return out, nil
}

// GetRelationshipType returns the named relationship type from the active
// template.
func (r *Registry) GetRelationshipType(id string) (*RelationshipType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveTemplate
	}
	rt, ok := r.relTypes[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRelationship, id)
	}
	return rt, nil
}

// GetRelationshipTypes returns the active template's relationship types in
// declaration order.
func (r *Registry) GetRelationshipTypes() ([]*RelationshipType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveTemplate
	}
	out := make([]*RelationshipType, 0, len(r.relOrder))
	for _, id := range r.relOrder {
		out = append(out, r.relTypes[id])
	}
	return out, nil
}

// DefaultEntityType returns the active template's fallback entity type for
// notes no folder rule matches, or "" when the template declares none.
func (r *Registry) DefaultEntityType() (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return "", ErrNoActiveTemplate
	}
	return r.templates[r.activeID].DefaultEntityType, nil
}

// GetFolderMappings returns the active template's folder-mapping rules.
func (r *Registry) GetFolderMappings() ([]FolderRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveTemplate
	}
	return r.folderRules, nil
}

// ValidRelationships returns, in declaration order, the relationship types
// whose allow-sets admit the (sourceType, targetType) pair.
func (r *Registry) ValidRelationships(sourceType, targetType string) ([]*RelationshipType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveTemplate
	}
	var out []*RelationshipType
	for _, id := range r.relOrder {
		rt := r.relTypes[id]
		if rt.AllowsSource(sourceType) && rt.AllowsTarget(targetType) {
			out = append(out, rt)
		}
	}
	return out, nil
}

// GetSchema returns the compiled validator for an entity type.
func (r *Registry) GetSchema(entityTypeName string) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.activeID == "" {
		return nil, ErrNoActiveTemplate
	}
	s, ok := r.schemas[entityTypeName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEntityType, entityTypeName)
	}
	return s, nil
}
