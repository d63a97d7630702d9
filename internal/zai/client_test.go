package zai

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

func TestStreamReasoningContent(t *testing.T) {
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"reasoning_content":"let me"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"reasoning_content":" think"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"ok"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key", time.Second, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	ch, err := c.Stream(context.Background(), llm.ChatRequest{
		Model:    "glm-4.6",
		Messages: []state.Message{{Role: "user", Content: "hi"}},
		Thinking: true,
	})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sb strings.Builder
	var usage *llm.Usage
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		if ev.Usage != nil {
			usage = ev.Usage
		}
		sb.WriteString(ev.Delta)
	}
	if sb.String() != "<think>let me think</think>ok" {
		t.Fatalf("text = %q", sb.String())
	}
	if usage == nil || usage.TotalTokens != 2 {
		t.Fatalf("usage = %+v", usage)
	}
	if got.Thinking == nil || got.Thinking.Type != "enabled" || !got.Stream {
		t.Fatalf("unexpected request: %+v", got)
	}
}

func TestStreamCustomReasoningMarkers(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"reasoning_content":"plan"}}]}`)
		fmt.Fprintln(w, `data: {"choices":[{"delta":{"content":"ok"}}]}`)
		fmt.Fprintln(w, `data: [DONE]`)
	}))
	defer srv.Close()

	c, err := NewClient(srv.URL, "key", time.Second, logging.Discard())
	if err != nil {
		t.Fatal(err)
	}
	c.SetReasoningMarkers("[[", "]]")
	ch, err := c.Stream(context.Background(), llm.ChatRequest{Model: "glm-4.6", Thinking: true})
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	var sb strings.Builder
	for ev := range ch {
		if ev.Err != nil {
			t.Fatalf("stream error: %v", ev.Err)
		}
		sb.WriteString(ev.Delta)
	}
	if sb.String() != "[[plan]]ok" {
		t.Fatalf("text = %q", sb.String())
	}
}

func TestStreamErrorBodyWith200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"code":1308,"msg":"Usage limit reached","success":false}`)
	}))
	defer srv.Close()

	c, _ := NewClient(srv.URL, "key", time.Second, logging.Discard())
	_, err := c.Stream(context.Background(), llm.ChatRequest{Model: "m"})
	pe, ok := llm.IsProviderError(err)
	if !ok || pe.Type != llm.ErrorTypeQuotaExceeded || pe.Retryable {
		t.Fatalf("expected quota error, got %v", err)
	}
}

func TestNewClientRequiresEndpoint(t *testing.T) {
	if _, err := NewClient("", "k", time.Second, nil); err == nil {
		t.Fatalf("expected error for empty endpoint")
	}
}
