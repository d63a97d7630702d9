package stream

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"
)

func collect(chunks []string) (reasoning, visible string, incs []Increment) {
	sp := NewSplitter(Markers{})
	var acc Accumulator
	for _, c := range chunks {
		got := sp.Feed(c)
		acc.Add(got...)
		incs = append(incs, got...)
	}
	got := sp.Flush()
	acc.Add(got...)
	incs = append(incs, got...)
	return acc.Reasoning.String(), acc.Visible.String(), incs
}

func TestSplitterSingleChunk(t *testing.T) {
	reasoning, visible, _ := collect([]string{"<think>plan</think>answer"})
	if reasoning != "plan" || visible != "answer" {
		t.Fatalf("got reasoning=%q visible=%q", reasoning, visible)
	}
}

func TestSplitterEveryTwoWaySplit(t *testing.T) {
	input := "before <think>step one\nstep <two></think> after </thin k> <thi"
	wantReasoning := "step one\nstep <two>"
	wantVisible := "before  after </thin k> <thi"

	for i := 0; i <= len(input); i++ {
		reasoning, visible, _ := collect([]string{input[:i], input[i:]})
		if reasoning != wantReasoning || visible != wantVisible {
			t.Fatalf("split at %d: reasoning=%q visible=%q", i, reasoning, visible)
		}
	}
}

func TestSplitterMultibyteEveryByteSplit(t *testing.T) {
	input := "café <think>naïve</think> 日本"
	for i := 0; i <= len(input); i++ {
		reasoning, visible, incs := collect([]string{input[:i], input[i:]})
		if reasoning != "naïve" || visible != "café  日本" {
			t.Fatalf("split at byte %d: reasoning=%q visible=%q", i, reasoning, visible)
		}
		for _, inc := range incs {
			if !utf8.ValidString(inc.Text) {
				t.Fatalf("split at byte %d: increment %q cuts a character", i, inc.Text)
			}
		}
	}
}

func TestSplitterMultibyteByteByByte(t *testing.T) {
	input := "→<think>思考</think>答え"
	var chunks []string
	for i := 0; i < len(input); i++ {
		chunks = append(chunks, input[i:i+1])
	}
	reasoning, visible, _ := collect(chunks)
	if reasoning != "思考" || visible != "→答え" {
		t.Fatalf("reasoning=%q visible=%q", reasoning, visible)
	}
}

func TestSplitterInvalidBytesPassThrough(t *testing.T) {
	tests := []struct {
		name   string
		chunks []string
		want   string
	}{
		{"invalid byte mid chunk", []string{"a\xffb"}, "a\xffb"},
		{"truncated sequence at end of stream", []string{"ab\xe6\x97"}, "ab\xe6\x97"},
		{"truncated sequence before more text", []string{"x\xe6", "y"}, "x\xe6y"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reasoning, visible, _ := collect(tt.chunks)
			if reasoning != "" || visible != tt.want {
				t.Fatalf("reasoning=%q visible=%q want %q", reasoning, visible, tt.want)
			}
		})
	}
}

func TestSplitterCharByChar(t *testing.T) {
	input := "a<think>b</think>c<think>d"
	var chunks []string
	for _, r := range input {
		chunks = append(chunks, string(r))
	}
	reasoning, visible, _ := collect(chunks)
	if reasoning != "bd" || visible != "ac" {
		t.Fatalf("reasoning=%q visible=%q", reasoning, visible)
	}
}

func TestSplitterNoMarkers(t *testing.T) {
	input := "plain text with <b>tags</b> and < signs"
	reasoning, visible, incs := collect([]string{input})
	if reasoning != "" || visible != input {
		t.Fatalf("reasoning=%q visible=%q", reasoning, visible)
	}
	if len(incs) != 1 {
		t.Fatalf("expected one coalesced increment, got %d", len(incs))
	}
}

func TestSplitterPartialMarkerAtEnd(t *testing.T) {
	reasoning, visible, _ := collect([]string{"answer <thi", "n"})
	if reasoning != "" || visible != "answer <thin" {
		t.Fatalf("reasoning=%q visible=%q", reasoning, visible)
	}

	reasoning, visible, _ = collect([]string{"<think>deep </thi"})
	if reasoning != "deep </thi" || visible != "" {
		t.Fatalf("unterminated: reasoning=%q visible=%q", reasoning, visible)
	}
}

func TestSplitterRepeatedMarkerStart(t *testing.T) {
	reasoning, visible, _ := collect([]string{"<<think>x</think>"})
	if reasoning != "x" || visible != "<" {
		t.Fatalf("reasoning=%q visible=%q", reasoning, visible)
	}
}

func TestSplitterOrderPreserved(t *testing.T) {
	_, _, incs := collect([]string{"v1<think>r1</think>v2"})
	want := []Increment{{Visible, "v1"}, {Reasoning, "r1"}, {Visible, "v2"}}
	if len(incs) != len(want) {
		t.Fatalf("got %+v", incs)
	}
	for i := range want {
		if incs[i] != want[i] {
			t.Fatalf("increment %d: got %+v want %+v", i, incs[i], want[i])
		}
	}
}

func TestSplitterCustomMarkers(t *testing.T) {
	sp := NewSplitter(Markers{Start: "[[", End: "]]"})
	var acc Accumulator
	acc.Add(sp.Feed("a[[b]]c")...)
	acc.Add(sp.Flush()...)
	if acc.Reasoning.String() != "b" || acc.Visible.String() != "ac" {
		t.Fatalf("reasoning=%q visible=%q", acc.Reasoning.String(), acc.Visible.String())
	}
}

func TestSplitChannel(t *testing.T) {
	in := make(chan string)
	go func() {
		defer close(in)
		for _, c := range []string{"hi <th", "ink>hmm</th", "ink> there"} {
			in <- c
		}
	}()

	var acc Accumulator
	for inc := range Split(context.Background(), Markers{}, in) {
		acc.Add(inc)
	}
	if acc.Reasoning.String() != "hmm" || acc.Visible.String() != "hi  there" {
		t.Fatalf("reasoning=%q visible=%q", acc.Reasoning.String(), acc.Visible.String())
	}
}

func TestSplitChannelCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan string)
	out := Split(ctx, Markers{}, in)
	cancel()
	for range out {
	}
	// in is never closed; the goroutine must still have exited via ctx.
}

func TestSplitChannelCancelFlushesBuffer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan string)
	out := Split(ctx, Markers{}, in)
	in <- "answer <th"
	cancel()

	var acc Accumulator
	for inc := range out {
		acc.Add(inc)
	}
	if acc.Visible.String() != "answer <th" {
		t.Fatalf("visible=%q", acc.Visible.String())
	}
}

func TestSplitterLargeInput(t *testing.T) {
	body := strings.Repeat("x", 10000)
	reasoning, visible, _ := collect([]string{"<think>" + body + "</think>" + body})
	if len(reasoning) != 10000 || len(visible) != 10000 {
		t.Fatalf("lost data: %d/%d", len(reasoning), len(visible))
	}
}
