package zai

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"shellsage/internal/llm"
	"shellsage/internal/logging"
)

// Client streams chat completions from the Z.AI API.
type Client struct {
	httpClient     *http.Client
	endpoint       string
	apiKey         string
	logger         *logging.Logger
	acceptLanguage string

	reasoningStart, reasoningEnd string
}

// NewClient returns a client for the full chat completions endpoint URL.
func NewClient(endpoint, apiKey string, timeout time.Duration, logger *logging.Logger) (*Client, error) {
	trimmed := strings.TrimRight(endpoint, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("zai endpoint must be set in config")
	}
	return &Client{
		httpClient: &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: timeout,
		}},
		endpoint:       trimmed,
		apiKey:         apiKey,
		logger:         logger.With("z.ai"),
		acceptLanguage: "en-US,en",
	}, nil
}

// SetReasoningMarkers sets the delimiters wrapped around reasoning the
// provider delivers separately from content. Empty values keep the defaults.
func (c *Client) SetReasoningMarkers(start, end string) {
	c.reasoningStart, c.reasoningEnd = start, end
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type thinking struct {
	Type string `json:"type"` // "enabled" or "disabled"
}

type request struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
	Thinking    *thinking `json:"thinking,omitempty"`
}

type delta struct {
	Content          string `json:"content"`
	ReasoningContent string `json:"reasoning_content"`
}

type streamChunk struct {
	Choices []struct {
		Delta delta `json:"delta"`
	} `json:"choices"`
	Usage *llm.Usage `json:"usage"`
}

// apiError is the shape Z.AI uses for failures, sometimes with HTTP 200.
type apiError struct {
	Code    json.Number `json:"code"`
	Msg     string      `json:"msg"`
	Success bool        `json:"success"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (e apiError) providerError() *llm.ProviderError {
	code, msg := e.Code.String(), e.Msg
	if e.Error != nil {
		code, msg = e.Error.Code, e.Error.Message
	}
	if msg == "" {
		return nil
	}
	typ := llm.ErrorTypeUnknown
	switch code {
	case "1308", "1310":
		typ = llm.ErrorTypeQuotaExceeded
	case "1113":
		typ = llm.ErrorTypeInsufficientCredit
	case "1000", "1001", "1002":
		typ = llm.ErrorTypeAuth
	case "1302", "1303", "1305":
		typ = llm.ErrorTypeRateLimit
	}
	return llm.NewProviderError("zai", typ, code, msg)
}

// Stream opens a streaming completion.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	body := request{
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	}
	if req.Thinking {
		body.Thinking = &thinking{Type: "enabled"}
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, message{Role: m.Role, Content: m.Content})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	if c.acceptLanguage != "" {
		httpReq.Header.Set("Accept-Language", c.acceptLanguage)
	}

	c.logger.Dev("sending %d messages to model %s", len(req.Messages), req.Model)
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	if resp.StatusCode >= 300 || !strings.HasPrefix(resp.Header.Get("Content-Type"), "text/event-stream") {
		// Not a stream: either an HTTP error or a 200 carrying an error body.
		peek := bufio.NewReader(resp.Body)
		first, _ := peek.Peek(1)
		if resp.StatusCode >= 300 || (len(first) == 1 && first[0] == '{') {
			defer resp.Body.Close()
			data, _ := io.ReadAll(io.LimitReader(peek, 64*1024))
			var apiErr apiError
			if json.Unmarshal(data, &apiErr) == nil {
				if pe := apiErr.providerError(); pe != nil {
					if resp.StatusCode >= 300 {
						pe.Retryable = pe.Retryable || resp.StatusCode == 429 || resp.StatusCode >= 500
					}
					c.logger.Error("API returned error: code=%s msg=%s", pe.Code, pe.Message)
					return nil, pe
				}
			}
			if resp.StatusCode >= 300 {
				return nil, llm.StatusError("zai", resp.StatusCode, strings.TrimSpace(string(data)))
			}
			return nil, llm.NewProviderError("zai", llm.ErrorTypeUnknown, strconv.Itoa(resp.StatusCode), "unexpected non-stream response")
		}
		resp.Body = struct {
			io.Reader
			io.Closer
		}{peek, resp.Body}
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		defer resp.Body.Close()
		wrap := llm.WrapReasoning{Start: c.reasoningStart, End: c.reasoningEnd}
		var streamErr error
		err := llm.ReadSSE(ctx, resp.Body, func(data string) bool {
			var ck streamChunk
			if err := json.Unmarshal([]byte(data), &ck); err != nil {
				c.logger.Dev("skip malformed chunk: %v", err)
				return true
			}
			if len(ck.Choices) == 0 && ck.Usage == nil {
				var apiErr apiError
				if json.Unmarshal([]byte(data), &apiErr) == nil {
					if pe := apiErr.providerError(); pe != nil {
						streamErr = pe
						return false
					}
				}
			}
			for _, choice := range ck.Choices {
				text := wrap.Reasoning(choice.Delta.ReasoningContent) + wrap.Content(choice.Delta.Content)
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
