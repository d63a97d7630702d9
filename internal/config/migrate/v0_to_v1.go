package migrate

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"shellsage/internal/config/versions"
)

// MigrationV0toV1 nests the flat v0 keys under agent:, commands: and workspace:.
type MigrationV0toV1 struct{}

func (m *MigrationV0toV1) FromVersion() int { return Version0 }
func (m *MigrationV0toV1) ToVersion() int   { return Version1 }
func (m *MigrationV0toV1) Description() string {
	return "Add versioning, move limits under agent/commands/workspace sections"
}

func (m *MigrationV0toV1) Migrate(data []byte) ([]byte, error) {
	var v0 versions.ConfigV0
	if err := yaml.Unmarshal(data, &v0); err != nil {
		return nil, err
	}
	raw := map[string]any{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		raw = map[string]any{}
	}
	_, hadAuto := raw["auto_execute"]
	for _, k := range versions.LegacyKeys {
		delete(raw, k)
	}

	agent := section(raw, "agent")
	setPositive(agent, "max_retries", v0.MaxRetries)
	setPositive(agent, "max_continues", v0.MaxContinues)
	setPositive(agent, "window_messages", v0.ContextWindowMessages)
	if hadAuto {
		agent["auto_execute"] = v0.AutoExecute
	}

	commands := section(raw, "commands")
	setPositive(commands, "timeout_seconds", v0.ShellTimeoutSeconds)
	setPositive(commands, "long_timeout_seconds", v0.LongTimeoutSeconds)
	if len(v0.DangerousCommands) > 0 {
		commands["dangerous_patterns"] = v0.DangerousCommands
	}

	if v0.WorkspaceRoot != "" {
		section(raw, "workspace")["root"] = v0.WorkspaceRoot
	}

	// v0 "default" and "memory" profiles no longer exist.
	if v0.ContextProfile == "" || v0.ContextProfile == "default" || v0.ContextProfile == "memory" {
		raw["context_profile"] = "window"
	}

	for _, name := range []string{"agent", "commands", "workspace"} {
		if s, ok := raw[name].(map[string]any); ok && len(s) == 0 {
			delete(raw, name)
		}
	}
	raw["config_version"] = Version1

	out, err := yaml.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("marshal v1: %w", err)
	}
	return out, nil
}

func section(raw map[string]any, name string) map[string]any {
	if s, ok := raw[name].(map[string]any); ok {
		return s
	}
	s := map[string]any{}
	raw[name] = s
	return s
}

func setPositive(m map[string]any, key string, v int) {
	if v > 0 {
		if _, exists := m[key]; !exists {
			m[key] = v
		}
	}
}
