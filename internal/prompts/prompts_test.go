package prompts

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestComposeOrdersSections(t *testing.T) {
	a := Anchor{
		Environment:  Environment{OS: "linux/amd64", Shell: "bash", Workdir: "/src", Now: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)},
		Workspace:    "Project files (root: /src):\ngo.mod\n",
		Instructions: "Use make targets.",
		User:         "Answer briefly.",
	}
	got := a.Compose()
	if !strings.HasPrefix(got, Base()) {
		t.Fatal("anchor must start with the base prompt")
	}
	order := []string{"## Environment Context", "- Shell: bash", "- Date: 2025-03-01", "## Workspace", "go.mod", "## Project Instructions", "Use make targets.", "Answer briefly."}
	last := -1
	for _, s := range order {
		idx := strings.Index(got, s)
		if idx < 0 || idx < last {
			t.Fatalf("section %q missing or out of order in:\n%s", s, got)
		}
		last = idx
	}
}

func TestComposeSkipsEmptySections(t *testing.T) {
	got := Anchor{}.Compose()
	if got != Base() {
		t.Fatalf("empty anchor should be the base prompt, got:\n%s", got)
	}
}

func TestBaseMentionsFeedbackTitle(t *testing.T) {
	if !strings.Contains(Base(), "[Command Execution Results]") {
		t.Fatal("base prompt should describe the feedback message")
	}
}

func TestLoadInstructions(t *testing.T) {
	dir := t.TempDir()
	got, err := LoadInstructions(dir)
	if err != nil || got != "" {
		t.Fatalf("missing file: %q, %v", got, err)
	}
	if err := os.WriteFile(filepath.Join(dir, InstructionsFile), []byte("  run tests with make\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = LoadInstructions(dir)
	if err != nil || got != "run tests with make" {
		t.Fatalf("LoadInstructions = %q, %v", got, err)
	}
}

func TestDetectEnvironmentDefaultsShell(t *testing.T) {
	env := DetectEnvironment("", "/w")
	if env.Shell == "" || env.OS == "" || env.Workdir != "/w" {
		t.Fatalf("unexpected environment %+v", env)
	}
}
