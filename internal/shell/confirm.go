package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/term"
)

// TerminalConfirmer asks y/n questions on a terminal. When the input is not
// interactive every question is answered no.
type TerminalConfirmer struct {
	mu          sync.Mutex
	in          *bufio.Reader
	out         io.Writer
	interactive bool
}

// NewTerminalConfirmer reads answers from in, which is interactive only when
// it is a TTY.
func NewTerminalConfirmer(in *os.File, out io.Writer) *TerminalConfirmer {
	return NewConfirmer(in, out, term.IsTerminal(int(in.Fd())))
}

// NewConfirmer builds a confirmer over arbitrary streams.
func NewConfirmer(in io.Reader, out io.Writer, interactive bool) *TerminalConfirmer {
	return &TerminalConfirmer{in: bufio.NewReader(in), out: out, interactive: interactive}
}

func (c *TerminalConfirmer) Confirm(ctx context.Context, command string, dangerous bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if dangerous {
		fmt.Fprintf(c.out, "\n⚠️  Potentially destructive command:\n    %s\n", indent(command))
	} else {
		fmt.Fprintf(c.out, "\n▶ Run command:\n    %s\n", indent(command))
	}
	if !c.interactive {
		fmt.Fprintln(c.out, "(non-interactive input, command skipped)")
		return false, nil
	}
	fmt.Fprint(c.out, "Execute? (y/n): ")
	answer, err := c.in.ReadString('\n')
	if err != nil && answer == "" {
		if err == io.EOF {
			return false, nil
		}
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func indent(command string) string {
	return strings.ReplaceAll(command, "\n", "\n    ")
}
