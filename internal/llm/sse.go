package llm

import (
	"bufio"
	"context"
	"io"
	"strings"
)

// SSEDone is the OpenAI-style terminal payload.
const SSEDone = "[DONE]"

// ReadSSE calls fn with the payload of every "data:" line in r until the
// stream ends, ctx is cancelled, fn returns false, or a [DONE] payload is seen.
// Comment, event and blank lines are ignored.
func ReadSSE(ctx context.Context, r io.Reader, fn func(data string) bool) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == SSEDone {
			return nil
		}
		if !fn(data) {
			return nil
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return scanner.Err()
}

// Send delivers ev unless ctx is done first.
func Send(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// WrapReasoning turns a separately delivered reasoning delta into marker
// delimited text, tracking whether a block is open.
type WrapReasoning struct {
	Start, End string
	open       bool
}

// Reasoning returns the text to emit for a reasoning delta.
func (w *WrapReasoning) Reasoning(delta string) string {
	if delta == "" {
		return ""
	}
	if !w.open {
		w.open = true
		return w.start() + delta
	}
	return delta
}

// Content returns the text to emit for a visible delta, closing any open block.
func (w *WrapReasoning) Content(delta string) string {
	if w.open && delta != "" {
		w.open = false
		return w.end() + delta
	}
	return delta
}

// Close returns the end marker if a block is still open.
func (w *WrapReasoning) Close() string {
	if w.open {
		w.open = false
		return w.end()
	}
	return ""
}

func (w *WrapReasoning) start() string {
	if w.Start == "" {
		return "<think>"
	}
	return w.Start
}

func (w *WrapReasoning) end() string {
	if w.End == "" {
		return "</think>"
	}
	return w.End
}
