package versions

// ConfigV0 is the unversioned flat layout. Limits and command settings were
// top-level keys before they moved under agent: and commands:.
type ConfigV0 struct {
	ShellTimeoutSeconds   int      `yaml:"shell_timeout_seconds"`
	LongTimeoutSeconds    int      `yaml:"long_shell_timeout_seconds"`
	MaxRetries            int      `yaml:"max_retries"`
	MaxContinues          int      `yaml:"max_continues"`
	ContextWindowMessages int      `yaml:"context_window_messages"`
	AutoExecute           bool     `yaml:"auto_execute"`
	DangerousCommands     []string `yaml:"dangerous_commands"`
	WorkspaceRoot         string   `yaml:"workspace_root"`
	ConversationDir       string   `yaml:"conversation_dir"`
	ContextProfile        string   `yaml:"context_profile"`
}

// LegacyKeys are removed from the document once their values are moved.
var LegacyKeys = []string{
	"shell_timeout_seconds",
	"long_shell_timeout_seconds",
	"max_retries",
	"max_continues",
	"context_window_messages",
	"auto_execute",
	"dangerous_commands",
	"workspace_root",
	"conversation_dir",
}
