// Package openrouter streams chat completions from any OpenAI-compatible
// endpoint (OpenRouter, Ollama /v1, LM Studio, vLLM).
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"shellsage/internal/llm"
	"shellsage/internal/logging"
)

// Client is a minimal HTTP wrapper around the chat completions API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	provider   string
	logger     *logging.Logger

	reasoningStart, reasoningEnd string
}

// NewClient wires together the dependencies for API access. timeout bounds
// the wait for response headers; the body streams for as long as the model
// keeps producing tokens.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}},
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		provider: "openrouter",
		logger:   logger.With("openrouter"),
	}
}

// SetReasoningMarkers sets the delimiters wrapped around reasoning the
// provider delivers separately from content. Empty values keep the defaults.
func (c *Client) SetReasoningMarkers(start, end string) {
	c.reasoningStart, c.reasoningEnd = start, end
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model         string        `json:"model"`
	Messages      []chatMessage `json:"messages"`
	Temperature   float64       `json:"temperature,omitempty"`
	MaxTokens     int           `json:"max_tokens,omitempty"`
	Stream        bool          `json:"stream"`
	StreamOptions streamOptions `json:"stream_options"`
}

type chunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			Reasoning string `json:"reasoning"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *llm.Usage `json:"usage"`
	Error *struct {
		Message string          `json:"message"`
		Code    json.RawMessage `json:"code"`
	} `json:"error"`
}

// Stream opens a streaming completion.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	body := chatRequest{
		Model:         req.Model,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: streamOptions{IncludeUsage: true},
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, chatMessage{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	httpReq.Header.Set("X-Title", "shellsage")

	c.logger.Dev("sending %d messages to model %s", len(req.Messages), req.Model)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		c.logger.Error("API error: %d - %s", resp.StatusCode, string(data))
		return nil, llm.StatusError(c.provider, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		wrap := llm.WrapReasoning{Start: c.reasoningStart, End: c.reasoningEnd}
		var streamErr error
		err := llm.ReadSSE(ctx, resp.Body, func(data string) bool {
			var ck chunk
			if err := json.Unmarshal([]byte(data), &ck); err != nil {
				c.logger.Dev("skip malformed chunk: %v", err)
				return true
			}
			if ck.Error != nil {
				streamErr = llm.NewProviderError(c.provider, llm.ErrorTypeUnknown, strings.Trim(string(ck.Error.Code), `"`), ck.Error.Message)
				return false
			}
			for _, choice := range ck.Choices {
				text := wrap.Reasoning(choice.Delta.Reasoning) + wrap.Content(choice.Delta.Content)
				if text != "" && !llm.Send(ctx, ch, llm.StreamEvent{Delta: text}) {
					return false
				}
			}
			if ck.Usage != nil && !llm.Send(ctx, ch, llm.StreamEvent{Usage: ck.Usage}) {
				return false
			}
			return true
		})
		if tail := wrap.Close(); tail != "" {
			llm.Send(ctx, ch, llm.StreamEvent{Delta: tail})
		}
		if streamErr == nil && err != nil && ctx.Err() == nil {
			streamErr = fmt.Errorf("read stream: %w", err)
		}
		if streamErr != nil {
			c.logger.Error("stream error: %v", streamErr)
			llm.Send(ctx, ch, llm.StreamEvent{Err: streamErr})
		}
	}()
	return ch, nil
}
