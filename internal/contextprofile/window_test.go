package contextprofile

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"shellsage/internal/config"
	"shellsage/internal/diagnose"
	"shellsage/internal/state"
)

func chat(n int) []state.Message {
	msgs := make([]state.Message, 0, n)
	for i := 0; i < n; i++ {
		role := state.RoleUser
		if i%2 == 1 {
			role = state.RoleAssistant
		}
		msgs = append(msgs, state.Message{Role: role, Content: fmt.Sprintf("msg %d", i)})
	}
	return msgs
}

func feedback(lines int) string {
	parts := []string{diagnose.FeedbackTitle, "Working directory: /w", ""}
	for i := 0; len(parts) < lines; i++ {
		parts = append(parts, fmt.Sprintf("out %d", i))
	}
	return strings.Join(parts, "\n")
}

func TestBuildWindowEmptyHistory(t *testing.T) {
	got := BuildWindow(nil, "anchor", WindowOptions{MaxMessages: 5})
	if len(got) != 1 || got[0].Role != state.RoleSystem || got[0].Content != "anchor" {
		t.Fatalf("unexpected window: %+v", got)
	}
}

func TestBuildWindowShortHistory(t *testing.T) {
	history := chat(5)
	got := BuildWindow(history, "anchor", WindowOptions{MaxMessages: 5})
	if len(got) != 6 {
		t.Fatalf("expected 6 entries, got %d", len(got))
	}
	for _, m := range got {
		if strings.Contains(m.Content, OriginalTaskMarker) {
			t.Fatalf("original task must not be duplicated when inside the window")
		}
	}
	if got[1].Content != "msg 0" {
		t.Fatalf("expected history in order, got %q", got[1].Content)
	}
}

func TestBuildWindowOriginalTaskAgedOut(t *testing.T) {
	history := chat(30)
	got := BuildWindow(history, "anchor", WindowOptions{MaxMessages: 10})

	if got[0].Content != "anchor" {
		t.Fatalf("first entry must be the anchor")
	}
	if len(got) != 12 {
		t.Fatalf("expected anchor + original + 10, got %d", len(got))
	}
	if got[1].Role != state.RoleUser || !strings.HasPrefix(got[1].Content, OriginalTaskMarker) ||
		!strings.HasSuffix(got[1].Content, "msg 0") {
		t.Fatalf("unexpected original task entry: %+v", got[1])
	}
	count := 0
	for _, m := range got {
		if strings.HasSuffix(m.Content, "msg 0") {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("original task must appear exactly once, got %d", count)
	}
	if got[2].Content != "msg 20" || got[11].Content != "msg 29" {
		t.Fatalf("unexpected slice bounds: %q .. %q", got[2].Content, got[11].Content)
	}
}

func TestBuildWindowCompressesStaleFeedback(t *testing.T) {
	history := []state.Message{
		{Role: state.RoleUser, Content: "build it"},
		{Role: state.RoleAssistant, Content: "```bash\nmake\n```"},
		{Role: state.RoleUser, Content: feedback(40)},
		{Role: state.RoleAssistant, Content: "```bash\nmake test\n```"},
		{Role: state.RoleUser, Content: feedback(8)},
		{Role: state.RoleAssistant, Content: "next"},
		{Role: state.RoleUser, Content: feedback(40)},
		{Role: state.RoleAssistant, Content: "done"},
	}
	before := history[2].Content
	got := BuildWindow(history, "anchor", WindowOptions{MaxMessages: 20, RecentUncompressed: 2, CompressMinLines: 15})

	stale := got[3].Content
	lines := strings.Split(stale, "\n")
	if len(lines) != 9 {
		t.Fatalf("expected 3+1+5 lines, got %d:\n%s", len(lines), stale)
	}
	if lines[0] != diagnose.FeedbackTitle || lines[3] != "... [32 lines omitted] ..." {
		t.Fatalf("unexpected compressed form:\n%s", stale)
	}
	if got[5].Content != history[4].Content {
		t.Fatalf("short feedback must stay verbatim")
	}
	if got[7].Content != history[6].Content {
		t.Fatalf("recent feedback must stay verbatim")
	}
	if history[2].Content != before {
		t.Fatalf("history was mutated")
	}
}

func TestWindowProfileUsesConfig(t *testing.T) {
	cfg := config.Config{}
	cfg.Agent.WindowMessages = 2
	p, err := New("window", Dependencies{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conv := state.NewConversation("chat-1")
	for _, m := range chat(6) {
		conv.Append(m)
	}
	prepared, err := p.Prepare(context.Background(), conv, "anchor")
	if err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if len(prepared.Messages) != 4 || !prepared.Stats.OriginalTaskInserted || prepared.Stats.Dropped != 4 {
		t.Fatalf("unexpected prepared window: %+v", prepared)
	}
}

func TestUnknownProfile(t *testing.T) {
	if _, err := New("memory", Dependencies{}); err == nil {
		t.Fatalf("expected error for unknown profile")
	}
}
