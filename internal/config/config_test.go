package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name        string
		modifyFunc  func(*Config)
		expectError bool
		errorString string
	}{
		{
			name:        "defaults pass",
			modifyFunc:  func(c *Config) {},
			expectError: false,
		},
		{
			name: "negative temperature fails",
			modifyFunc: func(c *Config) {
				c.Temperature = -0.5
			},
			expectError: true,
			errorString: "temperature must be between",
		},
		{
			name: "request timeout > 600 fails",
			modifyFunc: func(c *Config) {
				c.RequestTimeoutSeconds = 9999
			},
			expectError: true,
			errorString: "request_timeout_seconds cannot exceed",
		},
		{
			name: "recent larger than window fails",
			modifyFunc: func(c *Config) {
				c.Agent.WindowMessages = 4
				c.Agent.WindowRecent = 8
			},
			expectError: true,
			errorString: "agent.window_recent",
		},
		{
			name: "short timeout above long timeout fails",
			modifyFunc: func(c *Config) {
				c.Commands.TimeoutSeconds = 900
				c.Commands.LongTimeoutSeconds = 600
			},
			expectError: true,
			errorString: "commands.timeout_seconds",
		},
		{
			name: "bad dangerous pattern fails",
			modifyFunc: func(c *Config) {
				c.Commands.DangerousPatterns = []string{"(unclosed"}
			},
			expectError: true,
			errorString: "commands.dangerous_patterns",
		},
		{
			name: "identical markers fail",
			modifyFunc: func(c *Config) {
				c.Reasoning.EndMarker = c.Reasoning.StartMarker
			},
			expectError: true,
			errorString: "must differ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modifyFunc(&cfg)
			err := cfg.validate()
			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if !strings.Contains(err.Error(), tt.errorString) {
					t.Errorf("Expected error containing %q, got %q", tt.errorString, err.Error())
				}
			} else if err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.Agent.MaxRetries != 3 || cfg.Agent.MaxContinues != 10 {
		t.Fatalf("unexpected limits: %+v", cfg.Agent)
	}
	if cfg.Agent.WindowMessages != 20 || cfg.Agent.WindowRecent != 4 {
		t.Fatalf("unexpected window: %+v", cfg.Agent)
	}
	if cfg.CommandTimeout().Seconds() != 60 || cfg.LongCommandTimeout().Seconds() != 600 {
		t.Fatalf("unexpected command timeouts")
	}
	if len(cfg.Commands.Languages) == 0 || len(cfg.Commands.FileModifyingPatterns) == 0 {
		t.Fatalf("expected default command data")
	}
}

func TestParseKeepsExplicitEmptyPatternList(t *testing.T) {
	cfg, err := Parse([]byte("commands:\n  file_modifying_patterns: []\n"))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Commands.FileModifyingPatterns == nil || len(cfg.Commands.FileModifyingPatterns) != 0 {
		t.Fatalf("explicit empty list should disable rescans, got %v", cfg.Commands.FileModifyingPatterns)
	}
}

func TestEnsureDefaultConfigByProvider(t *testing.T) {
	tests := []struct {
		provider string
		model    string
	}{
		{"zai", DefaultZAIModel},
		{"openrouter", DefaultOpenRouterModel},
		{"anthropic", DefaultAnthropicModel},
	}

	for _, tt := range tests {
		t.Run(tt.provider, func(t *testing.T) {
			dir := t.TempDir()
			t.Setenv("SHELLSAGE_CONFIG_DIR", dir)
			t.Setenv("SHELLSAGE_CONFIG_PATH", "")

			if err := EnsureDefaultConfig(tt.provider); err != nil {
				t.Fatalf("EnsureDefaultConfig failed: %v", err)
			}
			if _, err := os.Stat(filepath.Join(dir, "config.yaml")); err != nil {
				t.Fatalf("config not written: %v", err)
			}
			cfg, err := LoadUserConfig()
			if err != nil {
				t.Fatalf("LoadUserConfig failed: %v", err)
			}
			if cfg.Provider != tt.provider || cfg.Model != tt.model {
				t.Errorf("got provider=%q model=%q", cfg.Provider, cfg.Model)
			}
			if cfg.ConfigVersion != CurrentVersion {
				t.Errorf("expected config_version %d, got %d", CurrentVersion, cfg.ConfigVersion)
			}
		})
	}
}

func TestModelForOverrides(t *testing.T) {
	cfg := Default()
	cfg.ProviderModels = map[string]string{"openai": "gpt-4.1"}
	if got := cfg.ModelFor("OpenAI"); got != "gpt-4.1" {
		t.Fatalf("ModelFor(openai) = %q", got)
	}
	if got := cfg.ModelFor("zai"); got != DefaultZAIModel {
		t.Fatalf("ModelFor(zai) = %q", got)
	}
}
