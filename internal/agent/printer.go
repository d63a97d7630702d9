package agent

import (
	"errors"
	"strings"
	"time"

	"shellsage/internal/diagnose"
	"shellsage/internal/shell"
)

const durationRound = 10 * time.Millisecond

// turnPrinter renders TurnController events. Visible text is streamed as it
// arrives, or buffered and rendered as markdown when a renderer is present.
type turnPrinter struct {
	a             *Agent
	showReasoning bool
	inReasoning   bool
	lineOpen      bool
	buf           strings.Builder
}

func (p *turnPrinter) handle(kind string, data any) error {
	switch kind {
	case "reasoning":
		if !p.showReasoning {
			return nil
		}
		text, _ := data.(string)
		if !p.inReasoning {
			p.a.printf("💭 ")
			p.inReasoning = true
		}
		p.write(text)
	case "content":
		text, _ := data.(string)
		p.endReasoning()
		if p.a.render != nil {
			p.buf.WriteString(text)
			return nil
		}
		p.write(text)
	case "command_started":
		p.flush()
		if ev, ok := data.(CommandEvent); ok {
			p.a.printf("▶ [%d/%d] %s\n", ev.Index, ev.Total, ev.Command)
		}
	case "command_finished":
		if ev, ok := data.(CommandEvent); ok && ev.Result != nil {
			p.printResult(ev.Result)
		}
	case "notice":
		p.flush()
		p.a.printf("(%v)\n", data)
	}
	return nil
}

func (p *turnPrinter) write(text string) {
	if text == "" {
		return
	}
	p.a.printf("%s", text)
	p.lineOpen = !strings.HasSuffix(text, "\n")
}

func (p *turnPrinter) endReasoning() {
	if !p.inReasoning {
		return
	}
	p.inReasoning = false
	p.closeLine()
	p.a.printf("\n")
}

func (p *turnPrinter) closeLine() {
	if p.lineOpen {
		p.a.printf("\n")
		p.lineOpen = false
	}
}

// flush ends the current reply block.
func (p *turnPrinter) flush() {
	p.endReasoning()
	if text := strings.TrimSpace(p.buf.String()); text != "" {
		p.buf.Reset()
		rendered, err := p.a.render.Render(text)
		if err != nil {
			p.a.logger.Warn("markdown render failed: %v", err)
			rendered = text
		}
		p.a.printf("%s\n", strings.TrimRight(rendered, "\n"))
	}
	p.closeLine()
}

func (p *turnPrinter) printResult(res *shell.Result) {
	switch {
	case res.Skipped:
		reason := "skipped"
		if res.Err != nil && !errors.Is(res.Err, shell.ErrDeclined) {
			reason = "skipped: " + res.Err.Error()
		}
		p.a.printf("  ⏭  %s\n", reason)
		return
	case res.Success:
		p.a.printf("  ✓ done in %s\n", res.Duration.Round(durationRound))
	case res.TimedOut:
		p.a.printf("  ⏱  timed out after %s\n", res.Duration.Round(durationRound))
	default:
		msg := "failed"
		if res.Err != nil {
			msg = "failed: " + res.Err.Error()
		}
		p.a.printf("  ✗ %s\n", msg)
	}
	p.printOutput(res.Stdout)
	p.printOutput(res.Stderr)
}

func (p *turnPrinter) printOutput(text string) {
	text = strings.TrimRight(text, "\n")
	if strings.TrimSpace(text) == "" {
		return
	}
	for _, line := range strings.Split(diagnose.Truncate(text, displayLines), "\n") {
		p.a.printf("    %s\n", line)
	}
}
