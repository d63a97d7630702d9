package mockclient

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"shellsage/internal/llm"
	"shellsage/internal/state"
)

// Reply scripts one round trip.
type Reply struct {
	Chunks    []string // streamed in order
	OpenErr   error    // returned from Stream instead of a channel
	StreamErr error    // sent as an error event after Chunks
	Hang      bool     // after Chunks, block until ctx is cancelled
	Usage     *llm.Usage
}

// Client is a deterministic llm.Client used for tests and CI. With no script
// it echoes the last user message.
type Client struct {
	prefix string

	mu       sync.Mutex
	replies  []Reply
	requests []llm.ChatRequest
}

// New returns a mock client that echoes the last user message.
func New() *Client {
	return &Client{prefix: "MOCK"}
}

// Scripted returns a client that plays replies in order. Calls beyond the
// script echo like New.
func Scripted(replies ...Reply) *Client {
	c := New()
	c.replies = replies
	return c
}

// Text is a convenience for a reply streamed in small chunks.
func Text(s string) Reply {
	var chunks []string
	for len(s) > 0 {
		n := 7
		if n > len(s) {
			n = len(s)
		}
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return Reply{Chunks: chunks}
}

// Requests returns the requests seen so far.
func (c *Client) Requests() []llm.ChatRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]llm.ChatRequest, len(c.requests))
	copy(out, c.requests)
	return out
}

// Calls reports how many round trips were requested.
func (c *Client) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

// Stream satisfies the llm.Client interface.
func (c *Client) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	c.mu.Lock()
	req.Messages = append([]state.Message(nil), req.Messages...)
	c.requests = append(c.requests, req)
	var reply Reply
	if len(c.replies) > 0 {
		reply = c.replies[0]
		c.replies = c.replies[1:]
	} else {
		reply = Text(c.echo(req))
		reply.Usage = &llm.Usage{PromptTokens: 42, CompletionTokens: 7, TotalTokens: 49}
	}
	c.mu.Unlock()

	if reply.OpenErr != nil {
		return nil, reply.OpenErr
	}

	ch := make(chan llm.StreamEvent)
	go func() {
		defer close(ch)
		for _, chunk := range reply.Chunks {
			if !llm.Send(ctx, ch, llm.StreamEvent{Delta: chunk}) {
				return
			}
		}
		if reply.Hang {
			<-ctx.Done()
			return
		}
		if reply.StreamErr != nil {
			llm.Send(ctx, ch, llm.StreamEvent{Err: reply.StreamErr})
			return
		}
		if reply.Usage != nil {
			llm.Send(ctx, ch, llm.StreamEvent{Usage: reply.Usage})
		}
	}()
	return ch, nil
}

func (c *Client) echo(req llm.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role != state.RoleUser {
			continue
		}
		if last := strings.TrimSpace(req.Messages[i].Content); last != "" {
			return fmt.Sprintf("%s RESPONSE: %s", c.prefix, last)
		}
		break
	}
	return fmt.Sprintf("%s RESPONSE", c.prefix)
}
