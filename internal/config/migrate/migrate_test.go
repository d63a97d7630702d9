package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"shellsage/internal/config"
	"shellsage/internal/logging"
)

func TestDetectVersion(t *testing.T) {
	tests := []struct {
		name     string
		yaml     string
		expected int
	}{
		{"v0 without version field", "model: gpt-4\ntemperature: 0.7", Version0},
		{"v1 with version field", "config_version: 1\nmodel: gpt-4", Version1},
		{"empty config", "", Version0},
		{"garbage", ":\n  - [", Version0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectVersion([]byte(tt.yaml)); got != tt.expected {
				t.Errorf("DetectVersion() = %d, want %d", got, tt.expected)
			}
		})
	}
}

const v0Full = `provider: zai
model: glm-4.6
shell_timeout_seconds: 45
long_shell_timeout_seconds: 900
max_retries: 2
max_continues: 5
context_window_messages: 30
auto_execute: true
workspace_root: /src/app
context_profile: memory
conversation_dir: /home/u/.shellsage/conversations
`

func TestMigrationV0toV1(t *testing.T) {
	out, err := (&MigrationV0toV1{}).Migrate([]byte(v0Full))
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	cfg, err := config.Parse(out)
	if err != nil {
		t.Fatalf("migrated config does not parse: %v\n%s", err, out)
	}
	if cfg.ConfigVersion != Version1 {
		t.Errorf("ConfigVersion = %d", cfg.ConfigVersion)
	}
	if cfg.Agent.MaxRetries != 2 || cfg.Agent.MaxContinues != 5 || cfg.Agent.WindowMessages != 30 || !cfg.Agent.AutoExecute {
		t.Errorf("agent section not migrated: %+v", cfg.Agent)
	}
	if cfg.Commands.TimeoutSeconds != 45 || cfg.Commands.LongTimeoutSeconds != 900 {
		t.Errorf("commands section not migrated: %+v", cfg.Commands)
	}
	if cfg.Workspace.Root != "/src/app" {
		t.Errorf("workspace root = %q", cfg.Workspace.Root)
	}
	if cfg.ContextProfile != "window" {
		t.Errorf("ContextProfile = %q, want window", cfg.ContextProfile)
	}
	if cfg.Provider != "zai" || cfg.Model != "glm-4.6" {
		t.Errorf("unrelated keys lost: provider=%q model=%q", cfg.Provider, cfg.Model)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(out, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, legacy := range []string{"shell_timeout_seconds", "max_retries", "conversation_dir"} {
		if _, ok := raw[legacy]; ok {
			t.Errorf("legacy key %s still present", legacy)
		}
	}
}

func TestMigrationV0Minimal(t *testing.T) {
	out, err := (&MigrationV0toV1{}).Migrate([]byte("model: x\n"))
	if err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if strings.Contains(string(out), "agent:") {
		t.Errorf("empty sections should be dropped:\n%s", out)
	}
	if DetectVersion(out) != Version1 {
		t.Errorf("expected v1 output")
	}
}

func TestMigrateConfigWritesBackup(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(v0Full), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := MigrateConfig(path, logging.Discard()); err != nil {
		t.Fatalf("MigrateConfig: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if DetectVersion(data) != CurrentVersion {
		t.Fatalf("file not migrated:\n%s", data)
	}
	backups, _ := filepath.Glob(filepath.Join(dir, "config.yaml.backup.v0.*"))
	if len(backups) != 1 {
		t.Fatalf("expected one backup, got %v", backups)
	}

	// Second run is a no-op.
	if err := MigrateConfig(path, logging.Discard()); err != nil {
		t.Fatalf("second MigrateConfig: %v", err)
	}
	backups, _ = filepath.Glob(filepath.Join(dir, "config.yaml.backup.*"))
	if len(backups) != 1 {
		t.Fatalf("expected no new backup, got %v", backups)
	}
}

func TestMigrationChain(t *testing.T) {
	chain := GetMigrationChain(Version0, Version1)
	if len(chain) != 1 {
		t.Fatalf("Expected 1 migration in chain, got %d", len(chain))
	}
	if chain[0].FromVersion() != Version0 || chain[0].ToVersion() != Version1 {
		t.Error("Wrong migration in chain")
	}
}
