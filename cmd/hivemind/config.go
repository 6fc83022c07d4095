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

package main

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/hivemindlabs/hivemind/internal/errors"
	"github.com/hivemindlabs/hivemind/pkg/template"
)

const (
	// configFileName is the default configuration file looked up in the
	// working directory and next to the executable.
	configFileName = "hivemind.yaml"

	// templateFileName is the optional standalone template definition
	// merged into the configuration when present next to it.
	templateFileName = "hivemind.template.yaml"

	// defaultTemplateID is the built-in template activated when the
	// configuration names none.
	defaultTemplateID = "worldbuilding"
)

// Config is the root of hivemind.yaml.
type Config struct {
	Vault    VaultConfig    `yaml:"vault"`
	Template TemplateConfig `yaml:"template"`
	Indexing IndexingConfig `yaml:"indexing"`

	// Path is where the configuration was loaded from. Not serialized;
	// used to resolve sibling files like hivemind.template.yaml.
	Path string `yaml:"-"`
}

// VaultConfig locates the vault and tunes the watcher.
type VaultConfig struct {
	Path            string   `yaml:"path"`
	WatchForChanges bool     `yaml:"watchForChanges"`
	DebounceMs      int      `yaml:"debounceMs"`
	Exclude         []string `yaml:"exclude,omitempty"`
}

// TemplateConfig selects the active template and may embed inline
// template definitions.
type TemplateConfig struct {
	ActiveTemplate string              `yaml:"activeTemplate"`
	Templates      []template.Template `yaml:"templates,omitempty"`
}

// IndexingConfig tunes the build pipeline.
type IndexingConfig struct {
	Strategy             string `yaml:"strategy"` // "full" or "incremental"
	BatchSize            int    `yaml:"batchSize"`
	EnableFullTextSearch bool   `yaml:"enableFullTextSearch"`
	EnableVectorSearch   bool   `yaml:"enableVectorSearch"`
}

// DefaultConfig returns the configuration used when a key is absent from
// the file. Unmarshalling layers the file on top of these values.
func DefaultConfig(vaultPath string) *Config {
	return &Config{
		Vault: VaultConfig{
			Path:            vaultPath,
			WatchForChanges: true,
			DebounceMs:      100,
			// The scanner always skips dot-directories, .git and
			// node_modules; this list is for extra globs.
			Exclude: nil,
		},
		Template: TemplateConfig{
			ActiveTemplate: defaultTemplateID,
		},
		Indexing: IndexingConfig{
			Strategy:             "incremental",
			BatchSize:            100,
			EnableFullTextSearch: true,
			EnableVectorSearch:   false,
		},
	}
}

// resolveConfigPath discovers the configuration file. Precedence: explicit
// --config flag, HIVEMIND_CONFIG, ./hivemind.yaml, then the executable's
// directory.
func resolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if env := os.Getenv("HIVEMIND_CONFIG"); env != "" {
		return env, nil
	}
	if _, err := os.Stat(configFileName); err == nil {
		return configFileName, nil
	}
	exe, err := os.Executable()
	if err == nil {
		candidate := filepath.Join(filepath.Dir(exe), configFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no %s found", configFileName)
}

// LoadConfig reads and validates the configuration, merging a standalone
// hivemind.template.yaml when one sits next to the config file. Failures
// come back as *errors.UserError with exit code semantics handled by the
// caller.
func LoadConfig(explicit string) (*Config, error) {
	path, err := resolveConfigPath(explicit)
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot find Hivemind configuration",
			"No hivemind.yaml in the working directory, HIVEMIND_CONFIG, or next to the executable",
			"Run 'hivemind init' to create one, or pass --config",
			err,
		)
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from config discovery
	if err != nil {
		return nil, errors.NewConfigError(
			"Cannot read Hivemind configuration",
			fmt.Sprintf("Failed to read %s", path),
			"Check the file exists and is readable",
			err,
		)
	}

	cfg := DefaultConfig("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.NewConfigError(
			"Invalid Hivemind configuration",
			fmt.Sprintf("%s is not valid YAML", path),
			"Fix the syntax error or regenerate the file with 'hivemind init --force'",
			err,
		)
	}
	cfg.Path = path

	if cfg.Vault.Path == "" {
		return nil, errors.NewConfigError(
			"Vault path is not configured",
			fmt.Sprintf("%s has no vault.path", path),
			"Set vault.path to your Markdown vault directory",
			nil,
		)
	}
	// Vault paths in the file are relative to the file, not the CWD.
	if !filepath.IsAbs(cfg.Vault.Path) {
		cfg.Vault.Path = filepath.Join(filepath.Dir(path), cfg.Vault.Path)
	}
	if cfg.Vault.DebounceMs <= 0 {
		cfg.Vault.DebounceMs = 100
	}
	if cfg.Template.ActiveTemplate == "" {
		cfg.Template.ActiveTemplate = defaultTemplateID
	}

	if err := cfg.mergeStandaloneTemplate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// mergeStandaloneTemplate folds an optional hivemind.template.yaml next to
// the configuration into Template.Templates. A standalone definition with
// the same id as an inline one wins, and it becomes the active template
// when the configuration still names the default.
func (c *Config) mergeStandaloneTemplate() error {
	path := filepath.Join(filepath.Dir(c.Path), templateFileName)
	if _, err := os.Stat(path); err != nil {
		return nil
	}

	tmpl, err := template.LoadFile(path)
	if err != nil {
		return errors.NewTemplateError(
			"Invalid standalone template",
			fmt.Sprintf("Failed to parse %s", path),
			"Fix the template definition or remove the file",
			err,
		)
	}

	replaced := false
	for i := range c.Template.Templates {
		if c.Template.Templates[i].ID == tmpl.ID {
			c.Template.Templates[i] = *tmpl
			replaced = true
			break
		}
	}
	if !replaced {
		c.Template.Templates = append(c.Template.Templates, *tmpl)
	}
	if c.Template.ActiveTemplate == defaultTemplateID && tmpl.ID != defaultTemplateID {
		c.Template.ActiveTemplate = tmpl.ID
	}
	return nil
}

// BuildRegistry registers the built-in template plus every configured one
// and activates the selected template.
func (c *Config) BuildRegistry() (*template.Registry, error) {
	reg := template.NewRegistry()
	if err := reg.Register(template.BuiltinWorldbuilding(), "builtin"); err != nil {
		return nil, err
	}
	for i := range c.Template.Templates {
		tmpl := c.Template.Templates[i]
		err := reg.Register(&tmpl, c.Path)
		if stderrors.Is(err, template.ErrDuplicateTemplate) {
			// A configured template may deliberately shadow the built-in.
			err = reg.Replace(&tmpl, c.Path)
		}
		if err != nil {
			return nil, errors.NewTemplateError(
				"Invalid template definition",
				fmt.Sprintf("Template %q failed validation", tmpl.ID),
				"Fix the template in hivemind.yaml or hivemind.template.yaml",
				err,
			)
		}
	}
	if err := reg.Activate(c.Template.ActiveTemplate); err != nil {
		return nil, errors.NewTemplateError(
			"Active template not found",
			fmt.Sprintf("template.activeTemplate names %q but no such template is defined", c.Template.ActiveTemplate),
			"Define the template or change template.activeTemplate",
			err,
		)
	}
	return reg, nil
}

// DatabasePath is where the index lives, inside the vault so it moves
// with it.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Vault.Path, ".hivemind", "vault.db")
}

// Save writes the configuration to the given path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}
