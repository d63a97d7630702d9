// Package openaiapi streams chat completions through the official OpenAI SDK.
package openaiapi

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"shellsage/internal/llm"
	"shellsage/internal/logging"
	"shellsage/internal/state"
)

// Client adapts the OpenAI SDK to llm.Client.
type Client struct {
	sdk    openai.Client
	logger *logging.Logger
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
	return &Client{sdk: openai.NewClient(opts...), logger: logger.With("openai")}
}

// Stream opens a streaming completion. It returns once the first chunk has
// arrived so that connection and HTTP errors surface as opening errors.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: convertMessages(req.Messages),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	c.logger.Dev("sending %d messages to model %s", len(req.Messages), req.Model)
	stream := c.sdk.Chat.Completions.NewStreaming(ctx, params)
	if !stream.Next() {
		err := stream.Err()
		stream.Close()
		if err == nil {
			// Empty stream: deliver a closed channel.
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
		for {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				if !llm.Send(ctx, ch, llm.StreamEvent{Delta: choice.Delta.Content}) {
					return
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				usage := &llm.Usage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
				}
				if !llm.Send(ctx, ch, llm.StreamEvent{Usage: usage}) {
					return
				}
			}
			if !stream.Next() {
				break
			}
		}
		if err := stream.Err(); err != nil && ctx.Err() == nil {
			c.logger.Error("stream error: %v", err)
			llm.Send(ctx, ch, llm.StreamEvent{Err: mapError(err)})
		}
	}()
	return ch, nil
}

func convertMessages(msgs []state.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case state.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case state.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func mapError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return llm.StatusError("openai", apiErr.StatusCode, apiErr.Error())
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("openai stream: %w", err)
}
