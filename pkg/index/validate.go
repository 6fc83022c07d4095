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

package index

import (
	"context"
	"fmt"
	"sort"

	"github.com/hivemindlabs/hivemind/pkg/mapper"
	"github.com/hivemindlabs/hivemind/pkg/template"
	"github.com/hivemindlabs/hivemind/pkg/vault"
)

// ValidateOptions narrows a validation run.
type ValidateOptions struct {
	// SkipMissingFrontmatter suppresses the missing_frontmatter issue,
	// for vaults that mix notes with plain documents.
	SkipMissingFrontmatter bool

	// IgnoreGlobs are extra exclusion patterns beyond the pipeline's.
	IgnoreGlobs []string
}

// FileIssues groups one file's findings.
type FileIssues struct {
	Path    string           `json:"path"`
	RelPath string           `json:"relPath"`
	Type    string           `json:"type,omitempty"`
	Issues  []template.Issue `json:"issues"`
}

// ValidationReport is the outcome of a vault validation pass.
type ValidationReport struct {
	FilesScanned  int                        `json:"filesScanned"`
	Files         []FileIssues               `json:"files,omitempty"`
	Counts        map[template.IssueKind]int `json:"counts"`
	ParseFailures []ParseFailure             `json:"parseFailures,omitempty"`
}

// Clean reports whether the vault validated without findings.
func (r *ValidationReport) Clean() bool {
	return len(r.Files) == 0 && len(r.ParseFailures) == 0
}

// TotalIssues counts findings across all files.
func (r *ValidationReport) TotalIssues() int {
	n := 0
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// folderMapper compiles the active template's folder rules, with the
// template's default entity type as the fallback for unmatched paths.
func (p *Pipeline) folderMapper() (*mapper.Mapper, error) {
	rules, err := p.registry.GetFolderMappings()
	if err != nil {
		return nil, err
	}
	fallback, err := p.registry.DefaultEntityType()
	if err != nil {
		return nil, err
	}
	m, err := mapper.New(rules, fallback)
	if err != nil {
		return nil, fmt.Errorf("compile folder mappings: %w", err)
	}
	return m, nil
}

// Validate checks every vault file against the active template's schemas
// and folder mappings. It requires an active template.
func (p *Pipeline) Validate(ctx context.Context, opts ValidateOptions) (*ValidationReport, error) {
	m, err := p.folderMapper()
	if err != nil {
		return nil, err
	}

	excludes := append(append([]string{}, p.cfg.ExcludeGlobs...), opts.IgnoreGlobs...)
	files, err := vault.Scan(p.cfg.VaultPath, excludes)
	if err != nil {
		return nil, err
	}

	report := &ValidationReport{
		FilesScanned: len(files),
		Counts:       map[template.IssueKind]int{},
	}

	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		note, err := vault.ParseFile(f.AbsPath)
		if err != nil {
			report.ParseFailures = append(report.ParseFailures,
				ParseFailure{Path: f.AbsPath, Err: err.Error()})
			continue
		}
		issues := p.validateNote(m, note, f.RelPath, opts)
		if len(issues) == 0 {
			continue
		}
		for _, issue := range issues {
			report.Counts[issue.Kind]++
		}
		report.Files = append(report.Files, FileIssues{
			Path:    f.AbsPath,
			RelPath: f.RelPath,
			Type:    note.Type(),
			Issues:  issues,
		})
	}

	sort.Slice(report.Files, func(a, b int) bool {
		return report.Files[a].RelPath < report.Files[b].RelPath
	})
	return report, nil
}

func (p *Pipeline) validateNote(m *mapper.Mapper, note *vault.Note, relPath string, opts ValidateOptions) []template.Issue {
	if note.MissingFrontmatter {
		if opts.SkipMissingFrontmatter {
			return nil
		}
		return []template.Issue{{
			Kind:    template.IssueMissingFrontmatter,
			Message: "file has no frontmatter block",
		}}
	}

	var issues []template.Issue
	typ := note.Type()
	if typ != "" {
		schema, err := p.registry.GetSchema(typ)
		if err != nil {
			issues = append(issues, template.Issue{
				Kind:    template.IssueInvalidType,
				Field:   "type",
				Message: fmt.Sprintf("unknown entity type %q", typ),
			})
		} else {
			found, _ := schema.Validate(note.Frontmatter)
			issues = append(issues, found...)
		}
	}

	// Folder mismatch only fires on an unambiguous mapping.
	if typ != "" {
		res := m.Resolve(relPath)
		if res.Confidence == mapper.ConfidenceExact && res.Types[0] != typ {
			issues = append(issues, template.Issue{
				Kind:  template.IssueFolderMismatch,
				Field: "type",
				Message: fmt.Sprintf("folder rule %q expects type %q, note declares %q",
					res.MatchedPattern, res.Types[0], typ),
			})
		}
	}
	return issues
}

// FixAction is one proposed repair.
type FixAction struct {
	Path    string `json:"path"`
	RelPath string `json:"relPath"`
	// SetType is written to the `type:` frontmatter key.
	SetType string `json:"setType,omitempty"`
	// SetID is written to the `id:` key when the note has none.
	SetID string `json:"setId,omitempty"`
	// CreateFrontmatter adds a whole block to a file that has none.
	CreateFrontmatter bool   `json:"createFrontmatter,omitempty"`
	Reason            string `json:"reason"`
}

// AmbiguousFile is a file the fixer will not touch because the folder
// mapper offers several candidate types.
type AmbiguousFile struct {
	Path       string   `json:"path"`
	RelPath    string   `json:"relPath"`
	Candidates []string `json:"candidates"`
}

// FixPlan lists repairs without applying them.
type FixPlan struct {
	Actions   []FixAction     `json:"actions"`
	Ambiguous []AmbiguousFile `json:"ambiguous,omitempty"`
}

// PlanFixes proposes type assignments from the folder mapper for notes
// missing a type, and frontmatter/id creation for bare files. Exact
// matches and the template's default type are applied; ambiguous
// mappings are reported, not touched.
func (p *Pipeline) PlanFixes(ctx context.Context) (*FixPlan, error) {
	m, err := p.folderMapper()
	if err != nil {
		return nil, err
	}

	files, err := vault.Scan(p.cfg.VaultPath, p.cfg.ExcludeGlobs)
	if err != nil {
		return nil, err
	}

	plan := &FixPlan{}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		note, err := vault.ParseFile(f.AbsPath)
		if err != nil {
			continue
		}
		if note.Type() != "" {
			continue
		}

		res := m.Resolve(f.RelPath)
		switch res.Confidence {
		case mapper.ConfidenceAmbiguous:
			plan.Ambiguous = append(plan.Ambiguous, AmbiguousFile{
				Path: f.AbsPath, RelPath: f.RelPath, Candidates: res.Types,
			})
			continue
		case mapper.ConfidenceExact, mapper.ConfidenceFallback:
		default:
			continue
		}

		reason := fmt.Sprintf("folder rule %q", res.MatchedPattern)
		if res.Confidence == mapper.ConfidenceFallback {
			reason = "template default type"
		}
		action := FixAction{
			Path:    f.AbsPath,
			RelPath: f.RelPath,
			SetType: res.Types[0],
			Reason:  reason,
		}
		if note.MissingFrontmatter {
			action.CreateFrontmatter = true
			action.SetID = vault.SlugFromFilename(note.FileName)
		} else if note.ID == "" {
			action.SetID = vault.SlugFromFilename(note.FileName)
		}
		plan.Actions = append(plan.Actions, action)
	}
	return plan, nil
}

// ApplyFixes rewrites the planned files atomically. It returns how many
// files were changed.
func (p *Pipeline) ApplyFixes(ctx context.Context, plan *FixPlan) (int, error) {
	applied := 0
	for _, a := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		note, err := vault.ParseFile(a.Path)
		if err != nil {
			return applied, fmt.Errorf("reread %s: %w", a.Path, err)
		}

		fm := note.Frontmatter
		if fm == nil {
			fm = map[string]any{}
		}
		if a.SetType != "" {
			fm["type"] = a.SetType
		}
		if a.SetID != "" {
			if _, exists := fm["id"]; !exists {
				fm["id"] = a.SetID
			}
		}
		if err := vault.WriteNoteAtomic(a.Path, fm, note.Body); err != nil {
			return applied, err
		}
		applied++
		p.logger.Info("local.index.fix.applied", "path", a.Path, "type", a.SetType)
	}
	return applied, nil
}
