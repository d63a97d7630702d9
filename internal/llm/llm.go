package llm

import (
	"context"

	"shellsage/internal/state"
)

// ChatRequest is the provider-agnostic message payload for chat completions.
type ChatRequest struct {
	Model       string          `json:"model"`
	Messages    []state.Message `json:"messages"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Thinking    bool            `json:"-"`
}

// Usage contains token consumption metrics from the LLM API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamEvent is one item of a streamed reply. Exactly one of Delta, Usage or
// Err is meaningful. Providers that report reasoning on a separate field wrap
// it in the reasoning markers inside Delta.
type StreamEvent struct {
	Delta string
	Usage *Usage
	Err   error
}

// Client represents an LLM provider capable of streaming chat completions.
// The returned channel is closed after the last event; cancelling ctx stops
// the stream and closes the channel.
type Client interface {
	Stream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error)
}
