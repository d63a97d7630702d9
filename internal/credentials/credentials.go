package credentials

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvKeys maps provider keys to the environment variables consulted when the
// credentials file has no key.
var EnvKeys = map[string]string{
	"openrouter": "OPENROUTER_API_KEY",
	"zai":        "ZAI_API_KEY",
	"openai":     "OPENAI_API_KEY",
	"anthropic":  "ANTHROPIC_API_KEY",
}

// Credentials stores API keys and provider configuration
type Credentials struct {
	DefaultProvider string              `yaml:"default_provider"`
	Providers       map[string]Provider `yaml:"providers"`
}

// Provider stores authentication details for a single provider
type Provider struct {
	APIKey string `yaml:"api_key"`
}

// Manager handles credential storage and retrieval
type Manager struct {
	path string
}

// NewManager returns a manager for credentials.yaml in configDir, or the
// file named by SHELLSAGE_CREDENTIALS_PATH.
func NewManager(configDir string) *Manager {
	credPath := os.Getenv("SHELLSAGE_CREDENTIALS_PATH")
	if credPath == "" {
		credPath = filepath.Join(configDir, "credentials.yaml")
	}
	return &Manager{path: credPath}
}

// Load reads credentials from disk. A missing file yields empty credentials.
func (m *Manager) Load() (*Credentials, error) {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Credentials{Providers: make(map[string]Provider)}, nil
		}
		return nil, fmt.Errorf("read credentials: %w", err)
	}

	var creds Credentials
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	if creds.Providers == nil {
		creds.Providers = make(map[string]Provider)
	}
	return &creds, nil
}

// Save writes credentials with user-only permissions.
func (m *Manager) Save(creds *Credentials) error {
	if err := os.MkdirAll(filepath.Dir(m.path), 0o700); err != nil {
		return fmt.Errorf("create credentials directory: %w", err)
	}
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o600); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}
	return nil
}

// Exists checks if credentials file exists
func (m *Manager) Exists() bool {
	_, err := os.Stat(m.path)
	return err == nil
}

// Path returns the credentials file path
func (m *Manager) Path() string {
	return m.path
}

// APIKey returns the stored key for provider, falling back to its
// environment variable.
func (c *Credentials) APIKey(provider string) string {
	provider = strings.ToLower(provider)
	if c != nil && c.Providers != nil {
		if key := strings.TrimSpace(c.Providers[provider].APIKey); key != "" {
			return key
		}
	}
	if env, ok := EnvKeys[provider]; ok {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// IsConfigured reports whether a key is available for provider.
func (c *Credentials) IsConfigured(provider string) bool {
	return c.APIKey(provider) != ""
}

// SetProvider sets the API key for a provider
func (c *Credentials) SetProvider(name, apiKey string) {
	if c.Providers == nil {
		c.Providers = make(map[string]Provider)
	}
	c.Providers[strings.ToLower(name)] = Provider{APIKey: apiKey}
}

// RemoveProvider removes a provider
func (c *Credentials) RemoveProvider(name string) {
	if c.Providers != nil {
		delete(c.Providers, strings.ToLower(name))
	}
}

// ListProviders returns the providers with a usable key, sorted.
func (c *Credentials) ListProviders() []string {
	var names []string
	for name := range EnvKeys {
		if c.IsConfigured(name) {
			names = append(names, name)
		}
	}
	if c != nil {
		for name, p := range c.Providers {
			if _, known := EnvKeys[name]; !known && p.APIKey != "" {
				names = append(names, name)
			}
		}
	}
	sort.Strings(names)
	return names
}

// HasAnyProvider checks if any provider is configured
func (c *Credentials) HasAnyProvider() bool {
	return len(c.ListProviders()) > 0
}
