package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is written to new config files; older files are migrated.
const CurrentVersion = 1

// Provider-specific default model constants
const (
	DefaultOpenRouterModel = "deepseek/deepseek-chat-v3-0324"
	DefaultZAIModel        = "glm-4.6"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-sonnet-4-5"
	DefaultMockModel       = "mock-model"
)

// Default base URLs for the HTTP providers.
const (
	DefaultOpenRouterBaseURL = "https://openrouter.ai/api/v1"
	DefaultZAIBaseURL        = "https://api.z.ai/api/coding/paas/v4/chat/completions"
)

// KnownProviders lists the provider keys shellsage can talk to.
var KnownProviders = []string{"openrouter", "zai", "openai", "anthropic", "mock"}

// Config captures the tunable runtime settings for the agent.
type Config struct {
	ConfigVersion         int               `yaml:"config_version"`
	Provider              string            `yaml:"provider"`
	Model                 string            `yaml:"model"`
	ProviderModels        map[string]string `yaml:"provider_models"`
	BaseURL               string            `yaml:"base_url"`
	ZAIBaseURL            string            `yaml:"zai_base_url"`
	OpenAIBaseURL         string            `yaml:"openai_base_url,omitempty"`
	AnthropicBaseURL      string            `yaml:"anthropic_base_url,omitempty"`
	Temperature           float64           `yaml:"temperature"`
	MaxTokens             int               `yaml:"max_tokens"`
	SystemPrompt          string            `yaml:"system_prompt"`
	RequestTimeoutSeconds int               `yaml:"request_timeout_seconds"`
	ContextProfile        string            `yaml:"context_profile"`
	StorePath             string            `yaml:"store_path"`
	HistoryPath           string            `yaml:"history_path"`
	ThinkingEnabled       bool              `yaml:"thinking_enabled"`

	Reasoning Reasoning `yaml:"reasoning"`
	Agent     Agent     `yaml:"agent"`
	Commands  Commands  `yaml:"commands"`
	Workspace Workspace `yaml:"workspace"`
}

// Reasoning controls how reasoning text is delimited and displayed.
type Reasoning struct {
	StartMarker string `yaml:"start_marker"`
	EndMarker   string `yaml:"end_marker"`
	Show        bool   `yaml:"show"`
}

// Agent holds the turn controller limits and window sizing.
type Agent struct {
	MaxRetries       int  `yaml:"max_retries"`
	MaxContinues     int  `yaml:"max_continues"`
	WindowMessages   int  `yaml:"window_messages"`
	WindowRecent     int  `yaml:"window_recent"`
	CompressMinLines int  `yaml:"compress_min_lines"`
	OutputMaxLines   int  `yaml:"output_max_lines"`
	AutoExecute      bool `yaml:"auto_execute"`
}

// Commands configures command execution. Pattern lists are data so they can
// be tuned per shell dialect without code changes.
type Commands struct {
	Shell                 string   `yaml:"shell"`
	TimeoutSeconds        int      `yaml:"timeout_seconds"`
	LongTimeoutSeconds    int      `yaml:"long_timeout_seconds"`
	DangerousPatterns     []string `yaml:"dangerous_patterns"`
	LongRunningPatterns   []string `yaml:"long_running_patterns"`
	FileModifyingPatterns []string `yaml:"file_modifying_patterns"`
	Languages             []string `yaml:"languages"`
}

// Workspace configures the project snapshot included in the anchor.
type Workspace struct {
	Root       string   `yaml:"root"`
	Ignore     []string `yaml:"ignore"`
	MaxEntries int      `yaml:"max_entries"`
}

// DefaultDangerousPatterns are regular expressions for commands that always
// need confirmation.
var DefaultDangerousPatterns = []string{
	`\brm\s+(-\w+\s+)*-\w*[rR]`,
	`(?i)\bremove-item\b.*-recurse`,
	`\bmkfs(\.\w+)?\b`,
	`\bdd\s+if=`,
	`(?i)\b(shutdown|reboot|halt|poweroff)\b`,
	`(?i)\bformat(-volume)?\s+[a-z]:`,
	`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`,
	`\bgit\s+push\b.*(--force|\s-f\b)`,
	`\bgit\s+reset\s+--hard\b`,
	`\bgit\s+clean\s+-\w*f`,
	`\bchmod\s+-R\s+777\s+/`,
	`>\s*/dev/sd[a-z]`,
	`\bsudo\b`,
	`(?i)\bdel\s+/[sq]\b`,
}

// DefaultLongRunningPatterns are substrings of commands given the long timeout.
var DefaultLongRunningPatterns = []string{
	"npm install", "npm ci", "yarn install", "pnpm install",
	"pip install", "pip3 install", "poetry install",
	"go mod download", "go build", "go test",
	"cargo build", "cargo install",
	"git clone", "docker build", "docker pull",
	"apt-get install", "brew install",
}

// DefaultFileModifyingPatterns are substrings of commands that change the
// project tree and trigger a workspace rescan.
var DefaultFileModifyingPatterns = []string{
	"touch ", "mkdir ", "rm ", "rmdir ", "mv ", "cp ", "ln ",
	"new-item", "remove-item", "move-item", "copy-item", "rename-item",
	"set-content", "add-content", "out-file",
	"git checkout", "git clone", "git pull", "git mv", "git rm",
	"tee ", "sed -i", ">",
	"npm init", "go mod init", "cargo new", "unzip ", "tar -x",
}

// DefaultLanguages are the fenced block languages treated as commands.
var DefaultLanguages = []string{"bash", "sh", "shell", "zsh", "console", "powershell", "pwsh", "ps1", "cmd", "bat"}

// DefaultIgnore are doublestar globs skipped by the workspace snapshot.
var DefaultIgnore = []string{".git/**", "node_modules/**", "vendor/**", "**/__pycache__/**", "dist/**", "build/**", "**/*.log"}

// Default returns a config with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

// EnsureDefaultConfig writes config.yaml with provider-appropriate defaults if it doesn't exist.
func EnsureDefaultConfig(provider string) error {
	configPath := Path()
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	cfg := Default()
	if provider = strings.ToLower(strings.TrimSpace(provider)); provider != "" {
		cfg.Provider = provider
		cfg.Model = cfg.ModelFor(provider)
	}
	return Save(cfg)
}

// Path returns the config file location, honouring SHELLSAGE_CONFIG_PATH.
func Path() string {
	if p := os.Getenv("SHELLSAGE_CONFIG_PATH"); p != "" {
		return p
	}
	return filepath.Join(GetConfigDir(), "config.yaml")
}

// LoadUserConfig loads configuration from the user config file. A missing file yields defaults.
func LoadUserConfig() (Config, error) {
	configPath := Path()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(configPath)
}

// Load reads the YAML configuration at path and injects defaults.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML, applies defaults and validates.
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyDefaults fills in optional values to keep the YAML file concise.
func (c *Config) applyDefaults() {
	if c.ConfigVersion == 0 {
		c.ConfigVersion = CurrentVersion
	}
	if c.Provider == "" {
		c.Provider = "openrouter"
	}
	if c.BaseURL == "" {
		c.BaseURL = DefaultOpenRouterBaseURL
	}
	if c.ZAIBaseURL == "" {
		c.ZAIBaseURL = DefaultZAIBaseURL
	}
	if c.Temperature == 0 {
		c.Temperature = 0.2
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 8192
	}
	if c.RequestTimeoutSeconds <= 0 {
		c.RequestTimeoutSeconds = 90
	}
	if c.ContextProfile == "" {
		c.ContextProfile = "window"
	}
	if c.StorePath == "" {
		c.StorePath = filepath.Join(GetConfigDir(), "sessions.db")
	}
	if c.HistoryPath == "" {
		c.HistoryPath = filepath.Join(GetConfigDir(), "history")
	}

	if c.Reasoning.StartMarker == "" {
		c.Reasoning.StartMarker = "<think>"
	}
	if c.Reasoning.EndMarker == "" {
		c.Reasoning.EndMarker = "</think>"
	}

	a := &c.Agent
	if a.MaxRetries <= 0 {
		a.MaxRetries = 3
	}
	if a.MaxContinues <= 0 {
		a.MaxContinues = 10
	}
	if a.WindowMessages <= 0 {
		a.WindowMessages = 20
	}
	if a.WindowRecent <= 0 {
		a.WindowRecent = 4
	}
	if a.CompressMinLines <= 0 {
		a.CompressMinLines = 15
	}
	if a.OutputMaxLines <= 0 {
		a.OutputMaxLines = 50
	}

	cmd := &c.Commands
	if cmd.TimeoutSeconds <= 0 {
		cmd.TimeoutSeconds = 60
	}
	if cmd.LongTimeoutSeconds <= 0 {
		cmd.LongTimeoutSeconds = 600
	}
	if cmd.DangerousPatterns == nil {
		cmd.DangerousPatterns = append([]string(nil), DefaultDangerousPatterns...)
	}
	if cmd.LongRunningPatterns == nil {
		cmd.LongRunningPatterns = append([]string(nil), DefaultLongRunningPatterns...)
	}
	if cmd.FileModifyingPatterns == nil {
		cmd.FileModifyingPatterns = append([]string(nil), DefaultFileModifyingPatterns...)
	}
	if len(cmd.Languages) == 0 {
		cmd.Languages = append([]string(nil), DefaultLanguages...)
	}

	w := &c.Workspace
	if w.Root == "" {
		w.Root = "."
	}
	if w.Ignore == nil {
		w.Ignore = append([]string(nil), DefaultIgnore...)
	}
	if w.MaxEntries <= 0 {
		w.MaxEntries = 200
	}
}

func (c Config) validate() error {
	if c.Temperature < 0 || c.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0 and 2.0 (got %f)", c.Temperature)
	}
	if c.RequestTimeoutSeconds > 600 {
		return fmt.Errorf("request_timeout_seconds cannot exceed 600 (10 minutes)")
	}
	if c.Agent.MaxRetries > 10 {
		return fmt.Errorf("agent.max_retries cannot exceed 10")
	}
	if c.Agent.MaxContinues > 50 {
		return fmt.Errorf("agent.max_continues cannot exceed 50")
	}
	if c.Agent.WindowRecent > c.Agent.WindowMessages {
		return fmt.Errorf("agent.window_recent (%d) cannot exceed agent.window_messages (%d)", c.Agent.WindowRecent, c.Agent.WindowMessages)
	}
	if c.Commands.TimeoutSeconds > c.Commands.LongTimeoutSeconds {
		return fmt.Errorf("commands.timeout_seconds cannot exceed commands.long_timeout_seconds")
	}
	if c.Commands.LongTimeoutSeconds > 3600 {
		return fmt.Errorf("commands.long_timeout_seconds cannot exceed 3600 (1 hour)")
	}
	for _, p := range c.Commands.DangerousPatterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("commands.dangerous_patterns: %q: %w", p, err)
		}
	}
	if c.Reasoning.StartMarker == c.Reasoning.EndMarker {
		return fmt.Errorf("reasoning.start_marker and reasoning.end_marker must differ")
	}
	if strings.TrimSpace(c.StorePath) == "" {
		return fmt.Errorf("store_path must be set")
	}
	return nil
}

// RequestTimeout turns the integer value into a duration for HTTP clients.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// CommandTimeout is the bound for ordinary commands.
func (c Config) CommandTimeout() time.Duration {
	return time.Duration(c.Commands.TimeoutSeconds) * time.Second
}

// LongCommandTimeout is the bound for recognised long-running commands.
func (c Config) LongCommandTimeout() time.Duration {
	return time.Duration(c.Commands.LongTimeoutSeconds) * time.Second
}

// GetConfigDir returns ~/.shellsage unless SHELLSAGE_CONFIG_DIR is set.
func GetConfigDir() string {
	if configDir := os.Getenv("SHELLSAGE_CONFIG_DIR"); configDir != "" {
		return configDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".shellsage"
	}
	return filepath.Join(home, ".shellsage")
}

// ModelFor returns the configured model for the given provider key, falling back to provider defaults.
func (c Config) ModelFor(provider string) string {
	provider = strings.ToLower(provider)
	if model := strings.TrimSpace(c.ProviderModels[provider]); model != "" {
		return model
	}
	switch provider {
	case "zai":
		return DefaultZAIModel
	case "openrouter":
		return DefaultOpenRouterModel
	case "openai":
		return DefaultOpenAIModel
	case "anthropic":
		return DefaultAnthropicModel
	case "mock":
		return DefaultMockModel
	default:
		return c.Model
	}
}

// Save writes the config to the user's config file.
func Save(c Config) error {
	configPath := Path()
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
