package openrouter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"shellsage/internal/llm"
	"shellsage/internal/logging"
	"shellsage/internal/state"
)

func drain(t *testing.T, ch <-chan llm.StreamEvent) (string, *llm.Usage, error) {
	t.Helper()
	var (
		sb    strings.Builder
		usage *llm.Usage
		err   error
	)
	for ev := range ch {
		switch {
		case ev.Err != nil:
			err = ev.Err
		case ev.Usage != nil:
			usage = ev.Usage
		default:
			sb.WriteString(ev.Delta)
		}
	}
	return sb.String(), usage, err
}

func TestStreamParsesDeltas(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"reasoning":"hmm"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"Hel"}}]}`)
		fmt.Fprintln(w, `data: {broken`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"lo"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second, logging.Discard())
	ch, err := c.Stream(context.Background(), llm.ChatRequest{
		Model:    "m",
		Messages: []state.Message{{Role: "system", Content: "anchor"}, {Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, usage, err := drain(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "<think>hmm</think>Hello" {
		t.Fatalf("text = %q", text)
	}
	if usage == nil || usage.TotalTokens != 5 {
		t.Fatalf("usage = %+v", usage)
	}
	if !got.Stream || len(got.Messages) != 2 || got.Messages[0].Role != "system" {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestStreamCustomReasoningMarkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"reasoning":"plan"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"answer"}}]}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second, logging.Discard())
	c.SetReasoningMarkers("<r>", "</r>")
	ch, err := c.Stream(context.Background(), llm.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, _, err := drain(t, ch)
	if err != nil {
		t.Fatalf("stream error: %v", err)
	}
	if text != "<r>plan</r>answer" {
		t.Fatalf("text = %q", text)
	}
}

func TestStreamStatusErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"slow down"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "key", time.Second, logging.Discard())
	_, err := c.Stream(context.Background(), llm.ChatRequest{Model: "m"})
	pe, ok := llm.IsProviderError(err)
	if !ok || pe.Type != llm.ErrorTypeRateLimit || !pe.Retryable {
		t.Fatalf("expected retryable rate limit error, got %v", err)
	}
}

func TestStreamErrorEvent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"par"}}]}`)
		fmt.Fprintln(w, `data: {"error":{"message":"upstream died","code":502}}`)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second, logging.Discard())
	ch, err := c.Stream(context.Background(), llm.ChatRequest{Model: "m"})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, _, err := drain(t, ch)
	if text != "par" || err == nil || !strings.Contains(err.Error(), "upstream died") {
		t.Fatalf("text=%q err=%v", text, err)
	}
}
