// Package stream separates reasoning text from visible text in a streamed
// model reply. Reasoning is delimited by a start and end marker which may be
// split across arbitrary chunk boundaries.
package stream

import (
	"context"
	"strings"
	"unicode/utf8"
)

const (
	DefaultStartMarker = "<think>"
	DefaultEndMarker   = "</think>"
)

// Kind labels the output an increment belongs to.
type Kind int

const (
	Visible Kind = iota
	Reasoning
)

func (k Kind) String() string {
	if k == Reasoning {
		return "reasoning"
	}
	return "visible"
}

// Increment is a batch of adjacent characters routed to the same output.
type Increment struct {
	Kind Kind
	Text string
}

// Markers configures the delimiters. Empty fields fall back to the defaults.
type Markers struct {
	Start string
	End   string
}

type mode int

const (
	modeNormal mode = iota
	modeBuffer
	modeReasoning
)

// Splitter is a per-stream state machine. It is not safe for concurrent use.
type Splitter struct {
	start, end string

	mode    mode
	resume  mode // mode active before buffering started
	carry   string
	buf     strings.Builder
	pending strings.Builder
	pendOut Kind
	out     []Increment
}

// NewSplitter returns a splitter in the normal state.
func NewSplitter(m Markers) *Splitter {
	if m.Start == "" {
		m.Start = DefaultStartMarker
	}
	if m.End == "" {
		m.End = DefaultEndMarker
	}
	return &Splitter{start: m.Start, end: m.End}
}

// Feed consumes one chunk and returns the increments it produced. An
// incomplete UTF-8 sequence at the end of the chunk is held until the next
// call so increments never cut a character in half.
func (s *Splitter) Feed(chunk string) []Increment {
	if s.carry != "" {
		chunk = s.carry + chunk
		s.carry = ""
	}
	chunk, s.carry = splitIncompleteTail(chunk)
	s.consume(chunk)
	s.flushPending()
	return s.take()
}

// Flush ends the stream. Any partially matched marker text is emitted to the
// output that was active before buffering began.
func (s *Splitter) Flush() []Increment {
	if s.carry != "" {
		s.consume(s.carry)
		s.carry = ""
	}
	if s.mode == modeBuffer {
		s.emit(kindFor(s.resume), s.buf.String())
		s.buf.Reset()
		s.mode = s.resume
	}
	s.flushPending()
	return s.take()
}

// splitIncompleteTail separates a trailing partial UTF-8 sequence from text.
// Invalid bytes that can never complete are left in place.
func splitIncompleteTail(text string) (string, string) {
	for i := len(text) - 1; i >= 0 && i >= len(text)-utf8.UTFMax; i-- {
		if !utf8.RuneStart(text[i]) {
			continue
		}
		if utf8.FullRuneInString(text[i:]) {
			return text, ""
		}
		return text[:i], text[i:]
	}
	return text, ""
}

// consume steps through text byte by byte. Markers are matched on bytes, so
// text that is not valid UTF-8 passes through unchanged.
func (s *Splitter) consume(text string) {
	for i := 0; i < len(text); i++ {
		s.step(text[i])
	}
}

func (s *Splitter) step(b byte) {
	switch s.mode {
	case modeNormal, modeReasoning:
		if s.target(s.mode)[0] == b {
			s.resume = s.mode
			s.mode = modeBuffer
			s.buf.Reset()
			s.buf.WriteByte(b)
			s.checkBuffer()
			return
		}
		s.emitByte(kindFor(s.mode), b)
	case modeBuffer:
		s.buf.WriteByte(b)
		candidate := s.buf.String()
		if strings.HasPrefix(s.target(s.resume), candidate) {
			s.checkBuffer()
			return
		}
		// Diverged: release everything but the new byte, then re-scan it.
		s.emit(kindFor(s.resume), candidate[:len(candidate)-1])
		s.buf.Reset()
		s.mode = s.resume
		s.step(b)
	}
}

// checkBuffer transitions when the buffer holds a complete marker.
func (s *Splitter) checkBuffer() {
	if s.buf.String() != s.target(s.resume) {
		return
	}
	s.buf.Reset()
	if s.resume == modeNormal {
		s.mode = modeReasoning
	} else {
		s.mode = modeNormal
	}
}

func (s *Splitter) target(m mode) string {
	if m == modeReasoning {
		return s.end
	}
	return s.start
}

func kindFor(m mode) Kind {
	if m == modeReasoning {
		return Reasoning
	}
	return Visible
}

func (s *Splitter) emit(k Kind, text string) {
	if text == "" {
		return
	}
	if s.pending.Len() > 0 && s.pendOut != k {
		s.flushPending()
	}
	s.pendOut = k
	s.pending.WriteString(text)
}

func (s *Splitter) emitByte(k Kind, b byte) {
	if s.pending.Len() > 0 && s.pendOut != k {
		s.flushPending()
	}
	s.pendOut = k
	s.pending.WriteByte(b)
}

func (s *Splitter) flushPending() {
	if s.pending.Len() == 0 {
		return
	}
	s.out = append(s.out, Increment{Kind: s.pendOut, Text: s.pending.String()})
	s.pending.Reset()
}

func (s *Splitter) take() []Increment {
	out := s.out
	s.out = nil
	return out
}

// Split adapts a channel of raw chunks into a channel of labeled increments.
// Reading stops when in closes or ctx is cancelled; either way the splitter is
// flushed and the returned channel closed. The caller must drain the channel.
func Split(ctx context.Context, m Markers, in <-chan string) <-chan Increment {
	out := make(chan Increment)
	go func() {
		defer close(out)
		sp := NewSplitter(m)
		send := func(incs []Increment) {
			for _, inc := range incs {
				out <- inc
			}
		}
		for {
			select {
			case <-ctx.Done():
				send(sp.Flush())
				return
			case chunk, ok := <-in:
				if !ok {
					send(sp.Flush())
					return
				}
				send(sp.Feed(chunk))
			}
		}
	}()
	return out
}

// Accumulator collects the full reasoning and visible text of a stream.
type Accumulator struct {
	Reasoning strings.Builder
	Visible   strings.Builder
}

// Add records the increments.
func (a *Accumulator) Add(incs ...Increment) {
	for _, inc := range incs {
		if inc.Kind == Reasoning {
			a.Reasoning.WriteString(inc.Text)
		} else {
			a.Visible.WriteString(inc.Text)
		}
	}
}
