package diagnose

import (
	"fmt"
	"strings"
)

// FeedbackTitle opens every batch feedback message. The context window
// builder uses it to recognise feedback in history.
const FeedbackTitle = "[Command Execution Results]"

// DefaultMaxLines is the per-stream output ceiling before truncation.
const DefaultMaxLines = 50

// CommandResult is the outcome of one command in a batch.
type CommandResult struct {
	Command string
	Success bool
	Skipped bool
	Stdout  string
	Stderr  string
	Err     string
}

// Batch is a rendered batch outcome.
type Batch struct {
	Workdir      string
	Results      []CommandResult
	NotAttempted int // commands after the first failure
	MaxLines     int
}

// Failed reports whether any executed command failed.
func (b Batch) Failed() bool {
	for _, r := range b.Results {
		if !r.Skipped && !r.Success {
			return true
		}
	}
	return false
}

// Executed counts commands that actually ran.
func (b Batch) Executed() int {
	n := 0
	for _, r := range b.Results {
		if !r.Skipped {
			n++
		}
	}
	return n
}

// Render produces the feedback message content for the batch.
func (b Batch) Render(c *Classifier) string {
	if c == nil {
		c = defaultClassifier
	}
	maxLines := b.MaxLines
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}

	var sb strings.Builder
	sb.WriteString(FeedbackTitle + "\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", b.Workdir)
	sb.WriteString("\n")

	failed := b.Failed()
	if failed {
		sb.WriteString("EXECUTION ABORTED: a command failed. Stop pursuing the previous plan and focus on fixing this error first.\n\n")
	}

	for i, r := range b.Results {
		fmt.Fprintf(&sb, "Command %d: %s\n", i+1, r.Command)
		switch {
		case r.Skipped:
			sb.WriteString("Status: SKIPPED (declined by user)\n\n")
			continue
		case r.Success:
			sb.WriteString("Status: SUCCESS\n")
		default:
			sb.WriteString("Status: FAILED\n")
		}
		writeStream(&sb, "Output", r.Stdout, maxLines)
		writeStream(&sb, "Errors", r.Stderr, maxLines)
		if !r.Success {
			if r.Err != "" {
				fmt.Fprintf(&sb, "Error: %s\n", r.Err)
			}
			d := c.Classify(r.Stderr, r.Err, r.Command)
			fmt.Fprintf(&sb, "Error type: %s\n", d.Kind)
			fmt.Fprintf(&sb, "Hint: %s\n", d.Hint)
			sb.WriteString("Do NOT repeat this exact command. Change it based on the diagnosis above.\n")
		}
		sb.WriteString("\n")
	}

	if b.NotAttempted > 0 {
		fmt.Fprintf(&sb, "Note: %d remaining command(s) were not executed because an earlier command failed.\n", b.NotAttempted)
	}
	if !failed {
		sb.WriteString("Continue with the next step of the plan, or give the final answer if the task is complete.\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func writeStream(sb *strings.Builder, label, text string, maxLines int) {
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	fmt.Fprintf(sb, "%s:\n%s\n", label, Truncate(text, maxLines))
}

// Truncate keeps the first 60% and last 40% of maxLines when text is longer,
// replacing the middle with an omitted-count line.
func Truncate(text string, maxLines int) string {
	if maxLines <= 0 {
		maxLines = DefaultMaxLines
	}
	lines := strings.Split(text, "\n")
	if len(lines) <= maxLines {
		return text
	}
	head := maxLines * 6 / 10
	tail := maxLines - head
	omitted := len(lines) - head - tail

	out := make([]string, 0, head+tail+1)
	out = append(out, lines[:head]...)
	out = append(out, fmt.Sprintf("... (%d lines omitted) ...", omitted))
	out = append(out, lines[len(lines)-tail:]...)
	return strings.Join(out, "\n")
}
