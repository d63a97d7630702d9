// Package prompts composes the anchor message placed first in every request
// window.
package prompts

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

//go:embed system_prompt.txt
var baseSystemPrompt string

// InstructionsFile is the optional project instructions file name.
const InstructionsFile = "instructions.txt"

// Base returns the built-in system prompt.
func Base() string {
	return strings.TrimSpace(baseSystemPrompt)
}

// Environment describes where commands will run.
type Environment struct {
	OS      string
	Shell   string
	Workdir string
	Now     time.Time
}

// DetectEnvironment fills Environment for the current process.
func DetectEnvironment(shell, workdir string) Environment {
	if shell == "" {
		shell = "sh"
		if runtime.GOOS == "windows" {
			shell = "powershell"
		}
	}
	return Environment{OS: runtime.GOOS + "/" + runtime.GOARCH, Shell: shell, Workdir: workdir, Now: time.Now()}
}

func (e Environment) render() string {
	var sb strings.Builder
	if e.OS != "" {
		fmt.Fprintf(&sb, "- Operating system: %s\n", e.OS)
	}
	if e.Shell != "" {
		fmt.Fprintf(&sb, "- Shell: %s\n", e.Shell)
	}
	if e.Workdir != "" {
		fmt.Fprintf(&sb, "- Working directory: %s\n", e.Workdir)
	}
	if !e.Now.IsZero() {
		fmt.Fprintf(&sb, "- Date: %s\n", e.Now.Format("2006-01-02"))
	}
	return strings.TrimSpace(sb.String())
}

// Anchor collects the parts of the anchor message.
type Anchor struct {
	Environment  Environment
	Workspace    string // rendered workspace snapshot
	Instructions string // project instructions
	User         string // system_prompt from config
}

// Compose joins the built-in prompt with the environment, workspace and any
// user-provided sections. Empty sections are omitted.
func (a Anchor) Compose() string {
	sections := []string{Base()}
	if env := a.Environment.render(); env != "" {
		sections = append(sections, "## Environment Context\n"+env)
	}
	if ws := strings.TrimSpace(a.Workspace); ws != "" {
		sections = append(sections, "## Workspace\n"+ws)
	}
	if instr := strings.TrimSpace(a.Instructions); instr != "" {
		sections = append(sections, "## Project Instructions\n"+instr)
	}
	if user := strings.TrimSpace(a.User); user != "" {
		sections = append(sections, user)
	}
	return strings.Join(sections, "\n\n")
}

// LoadInstructions reads InstructionsFile from dir. A missing file is not an error.
func LoadInstructions(dir string) (string, error) {
	data, err := os.ReadFile(filepath.Join(dir, InstructionsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read instructions: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
