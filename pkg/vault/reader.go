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
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// defaultExcludedDirs are directory names never scanned or watched.
var defaultExcludedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".trash":       true,
	".obsidian":    true,
	".hivemind":    true,
}

// markdownExtensions are the file extensions treated as notes.
var markdownExtensions = map[string]bool{
	".md":       true,
	".markdown": true,
}

// File is one markdown file found by a vault scan.
type File struct {
	// AbsPath is the absolute path on disk.
	AbsPath string
	// RelPath is the path relative to the vault root, forward-slashed.
	RelPath string
}

// Scan enumerates the vault's markdown files. Hidden files, dot-directories,
// the default exclusion set, and any path matching excludeGlobs (relative,
// forward-slashed) are skipped.
func Scan(root string, excludeGlobs []string) ([]File, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve vault root: %w", err)
	}
	if info, err := os.Stat(absRoot); err != nil {
		return nil, fmt.Errorf("vault root: %w", err)
	} else if !info.IsDir() {
		return nil, fmt.Errorf("vault root %s is not a directory", absRoot)
	}

	var files []File
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsPermission(err) {
				return fs.SkipDir
			}
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if path == absRoot {
				return nil
			}
			if skipDir(name) {
				return fs.SkipDir
			}
			rel := relSlash(absRoot, path)
			if matchesAny(excludeGlobs, rel) || matchesAny(excludeGlobs, rel+"/") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}
		if !markdownExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		rel := relSlash(absRoot, path)
		if matchesAny(excludeGlobs, rel) {
			return nil
		}
		files = append(files, File{AbsPath: path, RelPath: rel})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan vault: %w", err)
	}
	return files, nil
}

// skipDir reports whether a directory name is excluded from scans and
// watches: dot-directories plus the default exclusion set.
func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || defaultExcludedDirs[name]
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.ToSlash(path)
	}
	return filepath.ToSlash(rel)
}

func matchesAny(globs []string, rel string) bool {
	for _, g := range globs {
		// Invalid user globs are ignored rather than aborting the walk.
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}

// IsMarkdown reports whether a path has a markdown extension.
func IsMarkdown(path string) bool {
	return markdownExtensions[strings.ToLower(filepath.Ext(path))]
}
