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

// Package vault reads, parses, writes, and watches a directory of Markdown
// notes.
//
// A note is a Markdown file with an optional YAML frontmatter block
// delimited by two `---` lines at the very top. The parser extracts the
// frontmatter map (timestamp scalars preserved as time.Time), the body,
// wikilink targets, and the ATX heading outline. Notes without a
// frontmatter id are parsed but not admitted to the graph.
package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const frontmatterDelimiter = "---"

var (
	wikilinkPattern = regexp.MustCompile(`\[\[([^\[\]|]+)(?:\|[^\[\]]*)?\]\]`)
	headingPattern  = regexp.MustCompile(`^(#{1,6})\s+(.*?)\s*$`)
)

// Note is a parsed Markdown document.
type Note struct {
	// ID is the frontmatter id. Empty when the frontmatter has none, in
	// which case the note is not admitted to the graph.
	ID          string         `json:"id,omitempty"`
	Path        string         `json:"path"`
	FileName    string         `json:"fileName"`
	Frontmatter map[string]any `json:"frontmatter"`
	Body        string         `json:"body"`
	Links       []string       `json:"links,omitempty"`
	Headings    []Heading      `json:"headings,omitempty"`
	Stats       FileStats      `json:"stats"`

	// MissingFrontmatter flags a file with no frontmatter block at all.
	MissingFrontmatter bool `json:"missingFrontmatter,omitempty"`
}

// Heading is one entry of a note's outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// FileStats carries the filesystem metadata of a note.
type FileStats struct {
	Size     int64     `json:"size"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// Type returns the note's declared entity type, or "".
func (n *Note) Type() string {
	t, _ := n.Frontmatter["type"].(string)
	return t
}

// Title returns the display title: the frontmatter name if present,
// otherwise the file name without extension.
func (n *Note) Title() string {
	if name, ok := n.Frontmatter["name"].(string); ok && name != "" {
		return name
	}
	return strings.TrimSuffix(n.FileName, filepath.Ext(n.FileName))
}

// Status returns the note's canon status, or "".
func (n *Note) Status() string {
	s, _ := n.Frontmatter["status"].(string)
	return s
}

// ParseError is a per-file parse failure. Parse failures never halt a
// build; the file is skipped with a diagnostic.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFile reads and parses a single note from disk.
func ParseFile(path string) (*Note, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from the vault walk
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return Parse(path, data, FileStats{
		Size:     info.Size(),
		Modified: info.ModTime(),
	})
}

// Parse builds a Note from raw file bytes.
func Parse(path string, data []byte, stats FileStats) (*Note, error) {
	note := &Note{
		Path:        path,
		FileName:    filepath.Base(path),
		Frontmatter: map[string]any{},
		Stats:       stats,
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	fmBlock, body, found := splitFrontmatter(content)
	note.Body = body
	if !found {
		note.MissingFrontmatter = true
	} else if strings.TrimSpace(fmBlock) != "" {
		fm := map[string]any{}
		if err := yaml.Unmarshal([]byte(fmBlock), &fm); err != nil {
			return nil, &ParseError{Path: path, Err: fmt.Errorf("frontmatter: %w", err)}
		}
		note.Frontmatter = fm
	}

	if id, ok := note.Frontmatter["id"].(string); ok {
		note.ID = strings.TrimSpace(id)
	}
	note.Links = extractWikilinks(body)
	note.Headings = extractHeadings(body)
	return note, nil
}

// splitFrontmatter separates the frontmatter block from the body. The block
// must start on the first line; without a closing delimiter the whole file
// is body.
func splitFrontmatter(content string) (frontmatter, body string, found bool) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimRight(lines[0], " \t") != frontmatterDelimiter {
		return "", content, false
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t") == frontmatterDelimiter {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), true
		}
	}
	return "", content, false
}

// extractWikilinks returns the raw link targets in order of appearance.
// Targets are kept verbatim; resolution happens at graph-build time.
func extractWikilinks(body string) []string {
	matches := wikilinkPattern.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return nil
	}
	links := make([]string, 0, len(matches))
	for _, m := range matches {
		links = append(links, m[1])
	}
	return links
}

// extractHeadings returns the ATX heading outline.
func extractHeadings(body string) []Heading {
	var out []Heading
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			inFence = !inFence
			continue
		}
		if inFence {
			continue
		}
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			out = append(out, Heading{Level: len(m[1]), Text: m[2]})
		}
	}
	return out
}
