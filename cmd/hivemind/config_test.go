package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig_DefaultsLayered(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "vault"), 0o750); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "hivemind.yaml")
	writeFile(t, cfgPath, "vault:\n  path: ./vault\n")

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if want := filepath.Join(dir, "vault"); cfg.Vault.Path != want {
		t.Fatalf("Vault.Path = %q, want %q", cfg.Vault.Path, want)
	}
	if !cfg.Vault.WatchForChanges {
		t.Fatal("WatchForChanges default should be true")
	}
	if cfg.Vault.DebounceMs != 100 {
		t.Fatalf("DebounceMs = %d, want 100", cfg.Vault.DebounceMs)
	}
	if cfg.Template.ActiveTemplate != "worldbuilding" {
		t.Fatalf("ActiveTemplate = %q, want worldbuilding", cfg.Template.ActiveTemplate)
	}
	if !cfg.Indexing.EnableFullTextSearch {
		t.Fatal("EnableFullTextSearch default should be true")
	}
}

func TestLoadConfig_ExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hivemind.yaml")
	writeFile(t, cfgPath, `vault:
  path: /abs/vault
  watchForChanges: false
  debounceMs: 250
template:
  activeTemplate: scifi
indexing:
  enableFullTextSearch: false
`)

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Vault.Path != "/abs/vault" {
		t.Fatalf("Vault.Path = %q", cfg.Vault.Path)
	}
	if cfg.Vault.WatchForChanges {
		t.Fatal("watchForChanges: false should stick")
	}
	if cfg.Vault.DebounceMs != 250 {
		t.Fatalf("DebounceMs = %d, want 250", cfg.Vault.DebounceMs)
	}
	if cfg.Template.ActiveTemplate != "scifi" {
		t.Fatalf("ActiveTemplate = %q", cfg.Template.ActiveTemplate)
	}
	if cfg.Indexing.EnableFullTextSearch {
		t.Fatal("enableFullTextSearch: false should stick")
	}
}

func TestLoadConfig_MissingVaultPath(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "hivemind.yaml")
	writeFile(t, cfgPath, "indexing:\n  batchSize: 10\n")

	if _, err := LoadConfig(cfgPath); err == nil {
		t.Fatal("LoadConfig() should fail without vault.path")
	}
}

func TestLoadConfig_EnvDiscovery(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hivemind.yaml")
	writeFile(t, cfgPath, "vault:\n  path: .\n")
	t.Setenv("HIVEMIND_CONFIG", cfgPath)

	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.Path != cfgPath {
		t.Fatalf("Path = %q, want %q", cfg.Path, cfgPath)
	}
}

func TestLoadConfig_StandaloneTemplateMerge(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hivemind.yaml")
	writeFile(t, cfgPath, "vault:\n  path: .\n")
	writeFile(t, filepath.Join(dir, "hivemind.template.yaml"), `id: scifi
name: Science Fiction
version: "1.0.0"
entityTypes:
  - name: spaceship
    fields:
      - name: id
        type: string
        required: true
      - name: type
        type: string
        required: true
      - name: name
        type: string
        required: true
relationshipTypes:
  - id: docked_at
    sourceTypes: [spaceship]
    targetTypes: [spaceship]
`)

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	// The standalone template joins the set and, with the default still
	// selected, becomes active.
	if cfg.Template.ActiveTemplate != "scifi" {
		t.Fatalf("ActiveTemplate = %q, want scifi", cfg.Template.ActiveTemplate)
	}
	if len(cfg.Template.Templates) != 1 || cfg.Template.Templates[0].ID != "scifi" {
		t.Fatalf("Templates = %+v", cfg.Template.Templates)
	}

	reg, err := cfg.BuildRegistry()
	if err != nil {
		t.Fatalf("BuildRegistry() error = %v", err)
	}
	active, ok := reg.Active()
	if !ok || active.ID != "scifi" {
		t.Fatalf("Active() = %v, %v", active, ok)
	}
}

func TestLoadConfig_StandaloneTakesOverDefaultSelection(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "hivemind.yaml")
	writeFile(t, cfgPath, "vault:\n  path: .\ntemplate:\n  activeTemplate: worldbuilding\n")
	writeFile(t, filepath.Join(dir, "hivemind.template.yaml"), `id: scifi
name: Science Fiction
version: "1.0.0"
entityTypes:
  - name: spaceship
    fields:
      - name: id
        type: string
        required: true
relationshipTypes:
  - id: docked_at
    sourceTypes: [spaceship]
    targetTypes: [spaceship]
`)

	cfg, err := LoadConfig(cfgPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	// Naming the default id is indistinguishable from naming nothing, so
	// the standalone file still takes over.
	if cfg.Template.ActiveTemplate != "scifi" {
		t.Fatalf("ActiveTemplate = %q, want scifi", cfg.Template.ActiveTemplate)
	}
}

func TestBuildRegistry_BuiltinDefault(t *testing.T) {
	cfg := DefaultConfig(".")
	cfg.Path = filepath.Join(t.TempDir(), "hivemind.yaml")

	reg, err := cfg.BuildRegistry()
	if err != nil {
		t.Fatalf("BuildRegistry() error = %v", err)
	}
	if _, err := reg.GetEntityType("character"); err != nil {
		t.Fatalf("builtin template not active: %v", err)
	}
}

func TestDatabasePath_InsideVault(t *testing.T) {
	cfg := DefaultConfig("/data/lore")
	want := filepath.Join("/data/lore", ".hivemind", "vault.db")
	if got := cfg.DatabasePath(); got != want {
		t.Fatalf("DatabasePath() = %q, want %q", got, want)
	}
}
