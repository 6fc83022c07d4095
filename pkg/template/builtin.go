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

// BuiltinWorldbuilding returns the built-in worldbuilding template. It is
// the default active template when the user configures nothing else.
//
// Each call returns a fresh value so a caller cannot mutate the registered
// copy through a shared pointer.
func BuiltinWorldbuilding() *Template {
	statusField := FieldDef{
		Name:    "status",
		Type:    FieldEnum,
		Values:  []string{"draft", "pending", "canon", "non-canon", "archived"},
		Default: "draft",
	}
	baseFields := func(extra ...FieldDef) []FieldDef {
		fields := []FieldDef{
			{Name: "id", Type: FieldString, Required: true},
			{Name: "type", Type: FieldString, Required: true},
			{Name: "name", Type: FieldString, Required: true},
			statusField,
			{Name: "tags", Type: FieldArray, ElementType: FieldString},
		}
		return append(fields, extra...)
	}

	return &Template{
		ID:          "worldbuilding",
		Name:        "Worldbuilding",
		Version:     "1.0.0",
		Description: "Characters, locations, factions, items, and events for fiction vaults",
		EntityTypes: []EntityType{
			{
				Name: "character", DisplayName: "Character", Plural: "characters",
				Fields: baseFields(
					FieldDef{Name: "aliases", Type: FieldArray, ElementType: FieldString},
					FieldDef{Name: "born", Type: FieldDate},
					FieldDef{Name: "died", Type: FieldDate},
					FieldDef{Name: "species", Type: FieldString},
				),
			},
			{
				Name: "location", DisplayName: "Location", Plural: "locations",
				Fields: baseFields(
					FieldDef{Name: "region", Type: FieldString},
					FieldDef{Name: "population", Type: FieldNumber},
				),
			},
			{
				Name: "faction", DisplayName: "Faction", Plural: "factions",
				Fields: baseFields(
					FieldDef{Name: "leader", Type: FieldString},
					FieldDef{Name: "disbanded", Type: FieldBoolean},
				),
			},
			{
				Name: "item", DisplayName: "Item", Plural: "items",
				Fields: baseFields(
					FieldDef{Name: "rarity", Type: FieldEnum, Values: []string{"common", "uncommon", "rare", "legendary"}},
				),
			},
			{
				Name: "event", DisplayName: "Event", Plural: "events",
				Fields: baseFields(
					FieldDef{Name: "date", Type: FieldDate},
				),
			},
			{
				Name: "concept", DisplayName: "Concept", Plural: "concepts",
				Fields: baseFields(),
			},
		},
		RelationshipTypes: []RelationshipType{
			{
				ID:            "knows",
				Description:   "character is acquainted with character",
				SourceTypes:   []string{"character"},
				TargetTypes:   []string{"character"},
				Bidirectional: true,
				ReverseID:     "knows",
			},
			{
				ID:            "located_in",
				Description:   "entity resides at a location",
				SourceTypes:   []string{"character", "item", "event"},
				TargetTypes:   []string{"location"},
				Bidirectional: true,
				ReverseID:     "has_inhabitant",
			},
			{
				ID:          "has_inhabitant",
				Description: "location hosts an entity",
				SourceTypes: []string{"location"},
				TargetTypes: []string{"character", "item", "event"},
			},
			{
				ID:            "connected_to",
				Description:   "location links to location",
				SourceTypes:   []string{"location"},
				TargetTypes:   []string{"location"},
				Bidirectional: true,
				ReverseID:     "connected_to",
			},
			{
				ID:            "member_of",
				Description:   "character belongs to a faction",
				SourceTypes:   []string{"character"},
				TargetTypes:   []string{"faction"},
				Bidirectional: true,
				ReverseID:     "has_member",
			},
			{
				ID:          "has_member",
				Description: "faction counts a character among its members",
				SourceTypes: []string{"faction"},
				TargetTypes: []string{"character"},
			},
			{
				ID:          "owns",
				Description: "character possesses an item",
				SourceTypes: []string{"character"},
				TargetTypes: []string{"item"},
			},
			{
				ID:          "participated_in",
				Description: "character took part in an event",
				SourceTypes: []string{"character"},
				TargetTypes: []string{"event"},
			},
			{
				ID:          FallbackRelationship,
				Description: "generic association, used when nothing more specific applies",
				SourceTypes: []string{Wildcard},
				TargetTypes: []string{Wildcard},
			},
		},
		FolderMappings: []FolderRule{
			{Pattern: "**/Characters/**", EntityTypes: []string{"character"}},
			{Pattern: "**/Locations/**", EntityTypes: []string{"location"}},
			{Pattern: "**/Factions/**", EntityTypes: []string{"faction"}},
			{Pattern: "**/Items/**", EntityTypes: []string{"item"}},
			{Pattern: "**/Events/**", EntityTypes: []string{"event"}},
		},
	}
}
