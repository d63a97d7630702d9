package contextprofile

import (
	"fmt"
	"strings"

	"shellsage/internal/diagnose"
	"shellsage/internal/state"
)

// OriginalTaskMarker prefixes the copy of the first user message re-inserted
// once it has slid out of the window.
const OriginalTaskMarker = "[ORIGINAL TASK]"

const (
	DefaultMaxMessages      = 20
	DefaultRecentUncompress = 4
	DefaultCompressMinLines = 15

	compressHead = 3
	compressTail = 5
)

// WindowOptions bounds a request window.
type WindowOptions struct {
	MaxMessages        int    // N, history messages kept after the anchor
	RecentUncompressed int    // K, newest messages never compressed
	CompressMinLines   int    // feedback at or below this many lines is kept verbatim
	FeedbackMarker     string // substring identifying command feedback messages
}

func (o WindowOptions) withDefaults() WindowOptions {
	if o.MaxMessages <= 0 {
		o.MaxMessages = DefaultMaxMessages
	}
	if o.RecentUncompressed < 0 {
		o.RecentUncompressed = 0
	} else if o.RecentUncompressed == 0 {
		o.RecentUncompressed = DefaultRecentUncompress
	}
	if o.CompressMinLines <= 0 {
		o.CompressMinLines = DefaultCompressMinLines
	}
	if o.FeedbackMarker == "" {
		o.FeedbackMarker = diagnose.FeedbackTitle
	}
	return o
}

// WindowStats describes what BuildWindow did.
type WindowStats struct {
	Dropped              int
	Compressed           int
	OriginalTaskInserted bool
}

// BuildWindow returns the ordered message list for one request: the anchor,
// the original task when it has aged out, then the last N history messages
// with stale feedback compressed. history is not modified.
func BuildWindow(history []state.Message, anchor string, opts WindowOptions) []state.Message {
	window, _ := buildWindow(history, anchor, opts)
	return window
}

func buildWindow(history []state.Message, anchor string, opts WindowOptions) ([]state.Message, WindowStats) {
	opts = opts.withDefaults()
	var stats WindowStats

	window := make([]state.Message, 0, opts.MaxMessages+2)
	window = append(window, state.Message{Role: state.RoleSystem, Content: anchor})
	if len(history) == 0 {
		return window, stats
	}

	start := 0
	if len(history) > opts.MaxMessages {
		start = len(history) - opts.MaxMessages
	}
	stats.Dropped = start

	if first := firstUserIndex(history); first >= 0 && first < start {
		window = append(window, state.Message{
			Role:    state.RoleUser,
			Content: OriginalTaskMarker + " The conversation began with this request; keep working toward it:\n" + history[first].Content,
		})
		stats.OriginalTaskInserted = true
	}

	kept := history[start:]
	recentFrom := len(kept) - opts.RecentUncompressed
	for i, msg := range kept {
		if i < recentFrom && strings.Contains(msg.Content, opts.FeedbackMarker) {
			if compressed, ok := compress(msg.Content, opts.CompressMinLines); ok {
				msg.Content = compressed
				stats.Compressed++
			}
		}
		window = append(window, msg)
	}
	return window, stats
}

func firstUserIndex(history []state.Message) int {
	for i, m := range history {
		if m.Role == state.RoleUser {
			return i
		}
	}
	return -1
}

// compress keeps the first 3 and last 5 lines of content.
func compress(content string, minLines int) (string, bool) {
	lines := strings.Split(content, "\n")
	if len(lines) <= minLines || len(lines) <= compressHead+compressTail+1 {
		return content, false
	}
	omitted := len(lines) - compressHead - compressTail
	out := make([]string, 0, compressHead+compressTail+1)
	out = append(out, lines[:compressHead]...)
	out = append(out, fmt.Sprintf("... [%d lines omitted] ...", omitted))
	out = append(out, lines[len(lines)-compressTail:]...)
	return strings.Join(out, "\n"), true
}
