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

package vault

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SerializeNote renders a note back to file bytes: frontmatter block (when
// the map is non-empty) followed by the body. Frontmatter values keep their
// YAML-native representation, so time.Time values serialise as timestamps
// and survive a parse/serialise round trip.
func SerializeNote(frontmatter map[string]any, body string) ([]byte, error) {
	var b strings.Builder
	if len(frontmatter) > 0 {
		fm, err := yaml.Marshal(frontmatter)
		if err != nil {
			return nil, fmt.Errorf("marshal frontmatter: %w", err)
		}
		b.WriteString(frontmatterDelimiter)
		b.WriteString("\n")
		b.Write(fm)
		b.WriteString(frontmatterDelimiter)
		b.WriteString("\n")
	}
	b.WriteString(body)
	return []byte(b.String()), nil
}

// WriteNoteAtomic writes a note to path atomically: the content goes to a
// temp file in the same directory, then replaces the target with a rename.
// A crash mid-write leaves the original file untouched.
func WriteNoteAtomic(path string, frontmatter map[string]any, body string) error {
	data, err := SerializeNote(frontmatter, body)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".hivemind-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck // best-effort cleanup on failure

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck,gosec
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if info, err := os.Stat(path); err == nil {
		_ = os.Chmod(tmpPath, info.Mode())
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// SlugFromFilename derives a frontmatter id from a file name: extension
// stripped, lowercased, non-alphanumeric runs collapsed to single hyphens.
func SlugFromFilename(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	var b strings.Builder
	lastHyphen := true
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
