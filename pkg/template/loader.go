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
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads a standalone template definition from a YAML or JSON file.
// The format is chosen by extension; anything that is not .json is parsed as
// YAML (which also accepts JSON input).
func LoadFile(path string) (*Template, error) {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config discovery
	if err != nil {
		return nil, fmt.Errorf("read template file: %w", err)
	}

	var tmpl Template
	if strings.HasSuffix(strings.ToLower(path), ".json") {
		if err := json.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("parse template file %s: %w", path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &tmpl); err != nil {
			return nil, fmt.Errorf("parse template file %s: %w", path, err)
		}
	}

	if tmpl.ID == "" {
		return nil, fmt.Errorf("template file %s: missing id", path)
	}
	return &tmpl, nil
}
