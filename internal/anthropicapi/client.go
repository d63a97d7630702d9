// Package anthropicapi streams messages through the official Anthropic SDK.
// Thinking blocks are re-emitted between reasoning markers.
package anthropicapi

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"shellsage/internal/llm"
	"shellsage/internal/logging"
	"shellsage/internal/state"
)

const thinkingBudget = 4096

// Client adapts the Anthropic SDK to llm.Client.
type Client struct {
	sdk    anthropic.Client
	logger *logging.Logger

	reasoningStart, reasoningEnd string
}

// NewClient builds a client. baseURL may be empty for the public API.
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *logging.Logger) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(timeout))
	}
	return &Client{sdk: anthropic.NewClient(opts...), logger: logger.With("anthropic")}
}

// SetReasoningMarkers sets the delimiters wrapped around reasoning the
// provider delivers separately from content. Empty values keep the defaults.
func (c *Client) SetReasoningMarkers(start, end string) {
	c.reasoningStart, c.reasoningEnd = start, end
}

// Stream opens a streaming message. It returns once the first event arrived.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	system, messages := convertMessages(req.Messages)
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 8192
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Thinking && maxTokens > thinkingBudget {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(thinkingBudget)
	} else if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	c.logger.Dev("sending %d messages to model %s", len(messages), req.Model)
	stream := c.sdk.Messages.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			ch := make(chan llm.StreamEvent)
			close(ch)
			return ch, nil
		}
		return nil, mapError(err)
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		defer stream.Close()
		wrap := llm.WrapReasoning{Start: c.reasoningStart, End: c.reasoningEnd}
		var usage llm.Usage
		for {
			text := ""
			switch ev := stream.Current().AsAny().(type) {
			case anthropic.MessageStartEvent:
				usage.PromptTokens = int(ev.Message.Usage.InputTokens)
			case anthropic.ContentBlockDeltaEvent:
				switch d := ev.Delta.AsAny().(type) {
				case anthropic.ThinkingDelta:
					text = wrap.Reasoning(d.Thinking)
				case anthropic.TextDelta:
					text = wrap.Content(d.Text)
				}
			case anthropic.ContentBlockStopEvent:
				text = wrap.Close()
			case anthropic.MessageDeltaEvent:
				usage.CompletionTokens = int(ev.Usage.OutputTokens)
			}
			if text != "" && !llm.Send(ctx, ch, llm.StreamEvent{Delta: text}) {
				return
			}
			if !stream.Next() {
				break
			}
		}
		if tail := wrap.Close(); tail != "" {
			llm.Send(ctx, ch, llm.StreamEvent{Delta: tail})
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() == nil {
				c.logger.Error("stream error: %v", err)
				llm.Send(ctx, ch, llm.StreamEvent{Err: mapError(err)})
			}
			return
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		if usage.TotalTokens > 0 {
			llm.Send(ctx, ch, llm.StreamEvent{Usage: &usage})
		}
	}()
	return ch, nil
}

// convertMessages extracts the system text and merges consecutive same-role
// messages, which the Messages API rejects.
func convertMessages(msgs []state.Message) (string, []anthropic.MessageParam) {
	var system []string
	type turn struct {
		role string
		text []string
	}
	var turns []turn
	for _, m := range msgs {
		if m.Role == state.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		role := state.RoleUser
		if m.Role == state.RoleAssistant {
			role = state.RoleAssistant
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Content}})
	}

	out := make([]anthropic.MessageParam, 0, len(turns))
	for _, t := range turns {
		block := anthropic.NewTextBlock(strings.Join(t.text, "\n\n"))
		if t.role == state.RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(block))
		} else {
			out = append(out, anthropic.NewUserMessage(block))
		}
	}
	return strings.Join(system, "\n\n"), out
}

func mapError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		pe := llm.StatusError("anthropic", apiErr.StatusCode, apiErr.Error())
		if apiErr.StatusCode == 529 {
			pe.Type = llm.ErrorTypeProviderDown
			pe.Retryable = true
		}
		return pe
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("anthropic stream: %w", err)
}
