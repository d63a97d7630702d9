package llm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestReadSSESkipsNoise(t *testing.T) {
	body := strings.Join([]string{
		": keep-alive",
		"event: message",
		`data: {"a":1}`,
		"",
		"data:",
		`data: not json at all`,
		"data: [DONE]",
		`data: {"after":"done"}`,
	}, "\n")

	var got []string
	err := ReadSSE(context.Background(), strings.NewReader(body), func(data string) bool {
		got = append(got, data)
		return true
	})
	if err != nil {
		t.Fatalf("ReadSSE: %v", err)
	}
	if len(got) != 2 || got[0] != `{"a":1}` || got[1] != "not json at all" {
		t.Fatalf("unexpected payloads: %q", got)
	}
}

func TestReadSSECancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := ReadSSE(ctx, strings.NewReader("data: x\n"), func(string) bool { return true })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestWrapReasoning(t *testing.T) {
	var w WrapReasoning
	out := w.Reasoning("plan") + w.Reasoning(" more") + w.Content("answer") + w.Close()
	if out != "<think>plan more</think>answer" {
		t.Fatalf("got %q", out)
	}
	if w.Close() != "" {
		t.Fatalf("Close on closed block should be empty")
	}
}

func TestProviderErrorClassification(t *testing.T) {
	tests := []struct {
		status    int
		typ       ErrorType
		retryable bool
	}{
		{429, ErrorTypeRateLimit, true},
		{503, ErrorTypeProviderDown, true},
		{401, ErrorTypeAuth, false},
		{402, ErrorTypeInsufficientCredit, false},
		{400, ErrorTypeUnknown, false},
	}
	for _, tt := range tests {
		pe := StatusError("openrouter", tt.status, "")
		if pe.Type != tt.typ || pe.Retryable != tt.retryable {
			t.Errorf("status %d: got type=%s retryable=%v", tt.status, pe.Type, pe.Retryable)
		}
		wrapped := errors.Join(errors.New("context"), pe)
		if got, ok := IsProviderError(wrapped); !ok || got != pe {
			t.Errorf("IsProviderError failed through wrapping")
		}
	}
}
