package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"shellsage/internal/config"
	"shellsage/internal/logging"
)

// ErrDeclined is reported in Result.Err when the user refused a command.
var ErrDeclined = errors.New("declined by user")

// interactiveCommands never get a TTY from the runner and would hang.
var interactiveCommands = []string{"su", "passwd", "vi", "vim", "nano", "less", "more", "top", "htop"}

// Result is the outcome of one command.
type Result struct {
	Command       string
	Success       bool
	Skipped       bool
	TimedOut      bool
	Stdout        string
	Stderr        string
	Err           error
	ExitCode      int
	Duration      time.Duration
	Workdir       string // directory the command ran in
	ModifiedFiles bool   // command matched a file-modifying pattern
}

// Confirmer asks the user whether a command may run.
type Confirmer interface {
	Confirm(ctx context.Context, command string, dangerous bool) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, command string, dangerous bool) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, command string, dangerous bool) (bool, error) {
	return f(ctx, command, dangerous)
}

// Config configures a Runner.
type Config struct {
	Shell                 string // sh, bash, zsh, powershell, pwsh, cmd; platform default when empty
	Workdir               string
	Timeout               time.Duration
	LongTimeout           time.Duration
	DangerousPatterns     []string // regular expressions
	LongRunningPatterns   []string // case-insensitive substrings
	FileModifyingPatterns []string // case-insensitive substrings
	Confirmer             Confirmer
	Logger                *logging.Logger
}

// FromConfig maps the commands section of the user config onto a runner Config.
func FromConfig(c config.Config, workdir string, confirmer Confirmer, logger *logging.Logger) Config {
	return Config{
		Shell:                 c.Commands.Shell,
		Workdir:               workdir,
		Timeout:               c.CommandTimeout(),
		LongTimeout:           c.LongCommandTimeout(),
		DangerousPatterns:     c.Commands.DangerousPatterns,
		LongRunningPatterns:   c.Commands.LongRunningPatterns,
		FileModifyingPatterns: c.Commands.FileModifyingPatterns,
		Confirmer:             confirmer,
		Logger:                logger,
	}
}

// Runner executes commands one at a time and tracks the working directory
// across them.
type Runner struct {
	shell       string
	timeout     time.Duration
	longTimeout time.Duration
	dangerous   []*regexp.Regexp
	longRunning []string
	modifying   []string
	confirmer   Confirmer
	logger      *logging.Logger

	mu      sync.Mutex
	workdir string
}

// NewRunner validates cfg and returns a Runner.
func NewRunner(cfg Config) (*Runner, error) {
	r := &Runner{
		shell:       cfg.Shell,
		timeout:     cfg.Timeout,
		longTimeout: cfg.LongTimeout,
		longRunning: lowerAll(cfg.LongRunningPatterns),
		modifying:   lowerAll(cfg.FileModifyingPatterns),
		confirmer:   cfg.Confirmer,
		logger:      cfg.Logger.With("shell"),
	}
	if r.shell == "" {
		r.shell = defaultShell
	}
	if r.timeout <= 0 {
		r.timeout = 60 * time.Second
	}
	if r.longTimeout < r.timeout {
		r.longTimeout = r.timeout
	}
	for _, p := range cfg.DangerousPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("dangerous pattern %q: %w", p, err)
		}
		r.dangerous = append(r.dangerous, re)
	}

	dir := cfg.Workdir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		dir = wd
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve working directory: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("working directory %s is not a directory", abs)
	}
	r.workdir = abs
	return r, nil
}

// Workdir returns the tracked working directory.
func (r *Runner) Workdir() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.workdir
}

// SetWorkdir moves the tracked directory; dir must exist.
func (r *Runner) SetWorkdir(dir string) error {
	target, ok := resolveDir(r.Workdir(), dir)
	if !ok {
		return fmt.Errorf("%s is not a directory", dir)
	}
	r.mu.Lock()
	r.workdir = target
	r.mu.Unlock()
	return nil
}

// IsDangerous reports whether the command needs confirmation even in auto mode.
func (r *Runner) IsDangerous(command string) bool {
	for _, re := range r.dangerous {
		if re.MatchString(command) {
			return true
		}
	}
	return false
}

// IsLongRunning reports whether the command gets the long timeout.
func (r *Runner) IsLongRunning(command string) bool {
	return containsAny(strings.ToLower(command), r.longRunning)
}

// ModifiesFiles reports whether the command is expected to change the tree.
func (r *Runner) ModifiesFiles(command string) bool {
	return containsAny(strings.ToLower(command), r.modifying)
}

// TimeoutFor returns the bound applied to command.
func (r *Runner) TimeoutFor(command string) time.Duration {
	if r.IsLongRunning(command) {
		return r.longTimeout
	}
	return r.timeout
}

// Run executes command in the tracked directory. Dangerous commands always
// go through the Confirmer; other commands only when auto is false. Once
// started a command is bounded by its timeout, not by ctx cancellation.
func (r *Runner) Run(ctx context.Context, command string, auto bool) Result {
	command = strings.TrimSpace(command)
	workdir := r.Workdir()
	res := Result{Command: command, Workdir: workdir, ExitCode: -1}
	if command == "" {
		res.Err = errors.New("empty command")
		return res
	}

	if name := firstWord(command); name != "" {
		for _, blocked := range interactiveCommands {
			if name == blocked {
				r.logger.Error("blocked interactive command %q", blocked)
				res.Err = fmt.Errorf("command '%s' requires interactive input and is not allowed; use a non-interactive alternative", blocked)
				return res
			}
		}
	}

	dangerous := r.IsDangerous(command)
	if dangerous || !auto {
		ok, err := r.confirm(ctx, command, dangerous)
		if err != nil {
			res.Err = fmt.Errorf("confirmation failed: %w", err)
			return res
		}
		if !ok {
			r.logger.Info("command declined: %s", command)
			res.Skipped = true
			res.Err = ErrDeclined
			return res
		}
	}

	timeout := r.TimeoutFor(command)
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	name, args := shellArgs(r.shell, command)
	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Dir = workdir
	cmd.Env = os.Environ()
	cmd.Stdin = nil // prevent hangs on interactive input
	cmd.WaitDelay = 2 * time.Second
	configureCommand(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	r.logger.Dev("executing %q in %s (timeout %s)", command, workdir, timeout)
	start := time.Now()
	runErr := cmd.Run()
	res.Duration = time.Since(start)
	if ps := cmd.ProcessState; ps != nil {
		res.ExitCode = ps.ExitCode()
	}
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ModifiedFiles = r.ModifiesFiles(command)

	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		res.TimedOut = true
		res.Err = fmt.Errorf("command timed out after %d seconds and was killed; output may be incomplete", int(timeout.Seconds()))
		r.logger.Error("command timed out after %s: %s", timeout, command)
	case runErr != nil:
		res.Err = runErr
		r.logger.Dev("command failed in %dms: %v", res.Duration.Milliseconds(), runErr)
	default:
		res.Success = true
		r.logger.Dev("command completed in %dms", res.Duration.Milliseconds())
		if dir, ok := r.trackDirectory(command, workdir); ok {
			res.Workdir = dir
		}
	}
	return res
}

func (r *Runner) confirm(ctx context.Context, command string, dangerous bool) (bool, error) {
	if r.confirmer == nil {
		// Without a way to ask, only non-dangerous commands may run.
		return !dangerous, nil
	}
	return r.confirmer.Confirm(ctx, command, dangerous)
}

// trackDirectory applies a leading directory change after a successful command.
func (r *Runner) trackDirectory(command, from string) (string, bool) {
	target, ok := leadingDirectoryChange(command)
	if !ok {
		return "", false
	}
	dir, ok := resolveDir(from, target)
	if !ok {
		r.logger.Dev("ignoring cd to missing directory %q", target)
		return "", false
	}
	r.mu.Lock()
	r.workdir = dir
	r.mu.Unlock()
	r.logger.Dev("working directory now %s", dir)
	return dir, true
}

// shellArgs builds the argv used to run command under shell.
func shellArgs(shell, command string) (string, []string) {
	base := strings.ToLower(strings.TrimSuffix(filepath.Base(shell), filepath.Ext(shell)))
	switch base {
	case "powershell", "pwsh":
		return shell, []string{"-NoProfile", "-NonInteractive", "-Command", command}
	case "cmd":
		return shell, []string{"/C", command}
	default:
		return shell, []string{"-c", command}
	}
}

func firstWord(command string) string {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return ""
	}
	return filepath.Base(fields[0])
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
