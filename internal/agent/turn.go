package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shellsage/internal/contextprofile"
	"shellsage/internal/diagnose"
	"shellsage/internal/llm"
	"shellsage/internal/logging"
	"shellsage/internal/shell"
	"shellsage/internal/state"
	"shellsage/internal/stream"
)

// InterruptedSuffix marks an assistant message cut short by cancellation.
const InterruptedSuffix = "[interrupted]"

// Phase is a TurnController state.
type Phase int

const (
	PhaseAwaitingReply Phase = iota
	PhaseExecutingCommands
	PhaseContinuing
	PhaseRetrying
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingReply:
		return "awaiting-reply"
	case PhaseExecutingCommands:
		return "executing-commands"
	case PhaseContinuing:
		return "continuing"
	case PhaseRetrying:
		return "retrying"
	case PhaseDone:
		return "done"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Reason explains why a turn stopped.
type Reason string

const (
	ReasonAnswered             Reason = "answered"
	ReasonContinueLimit        Reason = "continue-limit"
	ReasonRetryLimit           Reason = "retry-limit"
	ReasonCommunicationFailure Reason = "communication-failure"
	ReasonCancelled            Reason = "cancelled"
	ReasonSkipped              Reason = "skipped"
)

// TurnState is the bookkeeping of one turn. It is reset for every user submission.
type TurnState struct {
	Phase         Phase
	RetryCount    int
	ContinueCount int
	RoundTrips    int
}

// TurnResult is returned when a turn reaches PhaseDone.
type TurnResult struct {
	OK     bool
	Reason Reason
	State  TurnState
	Reply  string // visible text of the last assistant message
	Usage  llm.Usage
	Err    error // set for communication failures
}

// StreamCallback receives UI events: reasoning, content, command_started,
// command_finished, notice and usage.
type StreamCallback func(eventType string, data any) error

// CommandEvent is the payload of command_started and command_finished.
type CommandEvent struct {
	Index   int
	Total   int
	Command string
	Result  *shell.Result // nil for command_started
}

// CommandRunner executes one command and reports the tracked directory.
type CommandRunner interface {
	Run(ctx context.Context, command string, auto bool) shell.Result
	Workdir() string
}

// Saver persists a conversation after each mutation.
type Saver interface {
	Save(conv *state.Conversation) error
}

// TurnConfig holds the limits and request settings of a controller.
type TurnConfig struct {
	MaxRetries     int
	MaxContinues   int
	Model          string
	Temperature    float64
	MaxTokens      int
	Thinking       bool
	Markers        stream.Markers
	Languages      []string
	OutputMaxLines int
	AutoExecute    bool

	// Retries for retryable errors while opening a stream.
	OpenAttempts  int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
}

func (c TurnConfig) withDefaults() TurnConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.MaxContinues <= 0 {
		c.MaxContinues = 10
	}
	if c.Markers.Start == "" || c.Markers.End == "" {
		c.Markers = stream.Markers{Start: stream.DefaultStartMarker, End: stream.DefaultEndMarker}
	}
	if c.OpenAttempts <= 0 {
		c.OpenAttempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 16 * time.Second
	}
	return c
}

// TurnDeps are the collaborators of a TurnController.
type TurnDeps struct {
	Client     llm.Client
	Profile    contextprofile.Profile
	Runner     CommandRunner
	Saver      Saver
	Classifier *diagnose.Classifier
	Anchor     func() string
	// FilesChanged is called after a batch ran a file-modifying command.
	FilesChanged func(ctx context.Context)
	Logger       *logging.Logger
}

// TurnController drives one turn through its round trips.
type TurnController struct {
	deps TurnDeps
	cfg  TurnConfig
	log  *logging.Logger
}

// NewTurnController returns a controller. Client, Profile, Runner and Anchor are required.
func NewTurnController(deps TurnDeps, cfg TurnConfig) *TurnController {
	if deps.Anchor == nil {
		deps.Anchor = func() string { return "" }
	}
	return &TurnController{deps: deps, cfg: cfg.withDefaults(), log: deps.Logger.With("turn")}
}

type turn struct {
	tc       *TurnController
	conv     *state.Conversation
	cb       StreamCallback
	st       TurnState
	usage    llm.Usage
	reply    string
	commands []string
}

// Run appends userInput to conv and drives the turn to completion.
func (tc *TurnController) Run(ctx context.Context, conv *state.Conversation, userInput string, cb StreamCallback) TurnResult {
	t := &turn{tc: tc, conv: conv, cb: cb}
	conv.Append(state.Message{Role: state.RoleUser, Content: userInput})
	t.save()

	for {
		switch t.st.Phase {
		case PhaseAwaitingReply:
			if res, done := t.awaitReply(ctx); done {
				return res
			}
		case PhaseExecutingCommands:
			if res, done := t.executeCommands(ctx); done {
				return res
			}
		case PhaseContinuing, PhaseRetrying:
			tc.log.Dev("round trip %d: %s (retries=%d continues=%d)", t.st.RoundTrips+1, t.st.Phase, t.st.RetryCount, t.st.ContinueCount)
			t.st.Phase = PhaseAwaitingReply
		default:
			return t.done(true, ReasonAnswered, nil)
		}
	}
}

func (t *turn) awaitReply(ctx context.Context) (TurnResult, bool) {
	t.st.RoundTrips++
	visible, err := t.streamReply(ctx)
	switch {
	case ctx.Err() != nil:
		t.conv.Append(state.Message{Role: state.RoleAssistant, Content: interrupted(visible)})
		t.save()
		t.reply = visible
		t.notice("Request cancelled.")
		return t.done(true, ReasonCancelled, nil), true
	case err != nil:
		if last, ok := t.conv.Last(); ok && last.Role == state.RoleUser {
			t.conv.RemoveLast()
			t.save()
		}
		t.tc.log.Error("communication failure: %v", err)
		t.notice(fmt.Sprintf("Communication with the model failed: %v", err))
		return t.done(false, ReasonCommunicationFailure, err), true
	}

	t.reply = visible
	t.conv.Append(state.Message{Role: state.RoleAssistant, Content: visible})
	t.save()

	t.commands = shell.ExtractCommands(visible, t.tc.cfg.Languages)
	if len(t.commands) == 0 {
		return t.done(true, ReasonAnswered, nil), true
	}
	t.st.Phase = PhaseExecutingCommands
	return TurnResult{}, false
}

// streamReply performs one round trip and returns the visible text.
func (t *turn) streamReply(ctx context.Context) (string, error) {
	prepared, err := t.tc.deps.Profile.Prepare(ctx, t.conv, t.tc.deps.Anchor())
	if err != nil {
		return "", fmt.Errorf("prepare context: %w", err)
	}
	req := llm.ChatRequest{
		Model:       t.tc.cfg.Model,
		Messages:    prepared.Messages,
		Temperature: t.tc.cfg.Temperature,
		MaxTokens:   t.tc.cfg.MaxTokens,
		Thinking:    t.tc.cfg.Thinking,
	}
	t.tc.log.Dev("round trip %d: sending %d messages", t.st.RoundTrips, len(req.Messages))

	events, err := t.open(ctx, req)
	if err != nil {
		return "", err
	}

	var (
		usage     []llm.Usage
		streamErr error
	)
	deltas := make(chan string)
	pumped := make(chan struct{})
	go func() {
		defer close(pumped)
		defer close(deltas)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if ev.Usage != nil {
					usage = append(usage, *ev.Usage)
				}
				if ev.Err != nil {
					streamErr = ev.Err
					return
				}
				if ev.Delta == "" {
					continue
				}
				select {
				case deltas <- ev.Delta:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var acc stream.Accumulator
	for inc := range stream.Split(ctx, t.tc.cfg.Markers, deltas) {
		t.emit(&acc, inc)
	}
	<-pumped
	for _, u := range usage {
		t.addUsage(u)
	}

	visible := strings.TrimSpace(acc.Visible.String())
	if err := ctx.Err(); err != nil {
		return visible, err
	}
	return visible, streamErr
}

// open starts the stream, retrying retryable provider errors with
// exponential backoff. Errors after the stream opened are never retried.
func (t *turn) open(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	cfg := t.tc.cfg
	delay := cfg.RetryDelay
	for attempt := 1; ; attempt++ {
		start := time.Now()
		events, err := t.tc.deps.Client.Stream(ctx, req)
		if err == nil {
			t.tc.log.Dev("stream opened in %s (attempt %d/%d)", time.Since(start).Round(time.Millisecond), attempt, cfg.OpenAttempts)
			return events, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		pe, ok := llm.IsProviderError(err)
		if !ok || !pe.Retryable || attempt >= cfg.OpenAttempts {
			return nil, err
		}
		if pe.RetryAfter != nil && *pe.RetryAfter > delay {
			delay = *pe.RetryAfter
		}
		t.tc.log.Warn("retrying provider call (attempt %d/%d) after %v", attempt+1, cfg.OpenAttempts, err)
		t.notice(fmt.Sprintf("Provider error (%s), retrying in %s (attempt %d/%d)", pe.Type, delay, attempt+1, cfg.OpenAttempts))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if delay > cfg.MaxRetryDelay {
			delay = cfg.MaxRetryDelay
		}
	}
}

func (t *turn) executeCommands(ctx context.Context) (TurnResult, bool) {
	batch, modified := t.runBatch(ctx)
	if modified && t.tc.deps.FilesChanged != nil {
		t.tc.deps.FilesChanged(ctx)
	}

	if ctx.Err() != nil {
		if batch.Executed() > 0 {
			t.appendFeedback(batch)
		}
		t.notice("Command execution interrupted.")
		return t.done(true, ReasonCancelled, nil), true
	}
	if batch.Executed() == 0 {
		t.notice("All proposed commands were skipped.")
		return t.done(true, ReasonSkipped, nil), true
	}

	if batch.Failed() {
		t.st.RetryCount++
		if t.st.RetryCount >= t.tc.cfg.MaxRetries {
			t.notice(fmt.Sprintf("Commands failed %d times in a row. Manual intervention needed: review the errors above and adjust the request.", t.st.RetryCount))
			return t.done(true, ReasonRetryLimit, nil), true
		}
		t.appendFeedback(batch)
		t.st.Phase = PhaseRetrying
		return TurnResult{}, false
	}

	t.appendFeedback(batch)
	t.st.ContinueCount++
	if t.st.ContinueCount >= t.tc.cfg.MaxContinues {
		t.notice(fmt.Sprintf("Reached the limit of %d automatic continuations. Send a message to keep going.", t.st.ContinueCount))
		return t.done(true, ReasonContinueLimit, nil), true
	}
	t.st.Phase = PhaseContinuing
	return TurnResult{}, false
}

// runBatch runs the extracted commands in order and stops at the first failure.
func (t *turn) runBatch(ctx context.Context) (diagnose.Batch, bool) {
	runner := t.tc.deps.Runner
	batch := diagnose.Batch{MaxLines: t.tc.cfg.OutputMaxLines}
	modified := false
	total := len(t.commands)
	for i, command := range t.commands {
		if ctx.Err() != nil {
			batch.NotAttempted = total - i
			break
		}
		t.event("command_started", CommandEvent{Index: i + 1, Total: total, Command: command})
		res := runner.Run(ctx, command, t.tc.cfg.AutoExecute)
		t.event("command_finished", CommandEvent{Index: i + 1, Total: total, Command: command, Result: &res})

		cr := diagnose.CommandResult{
			Command: command,
			Success: res.Success,
			Skipped: res.Skipped,
			Stdout:  res.Stdout,
			Stderr:  res.Stderr,
		}
		if res.Err != nil && !res.Skipped {
			cr.Err = res.Err.Error()
		}
		batch.Results = append(batch.Results, cr)
		modified = modified || res.ModifiedFiles
		if !res.Success && !res.Skipped {
			batch.NotAttempted = total - i - 1
			break
		}
	}
	batch.Workdir = runner.Workdir()
	return batch, modified
}

func (t *turn) appendFeedback(batch diagnose.Batch) {
	t.conv.Append(state.Message{Role: state.RoleUser, Content: batch.Render(t.tc.deps.Classifier)})
	t.save()
}

func (t *turn) emit(acc *stream.Accumulator, inc stream.Increment) {
	acc.Add(inc)
	if inc.Kind == stream.Reasoning {
		t.event("reasoning", inc.Text)
	} else {
		t.event("content", inc.Text)
	}
}

func (t *turn) addUsage(u llm.Usage) {
	t.usage.PromptTokens += u.PromptTokens
	t.usage.CompletionTokens += u.CompletionTokens
	t.usage.TotalTokens += u.TotalTokens
	t.event("usage", u)
}

func (t *turn) save() {
	if t.tc.deps.Saver == nil {
		return
	}
	if err := t.tc.deps.Saver.Save(t.conv); err != nil {
		t.tc.log.Error("save conversation: %v", err)
		t.notice(fmt.Sprintf("Could not save conversation: %v", err))
	}
}

func (t *turn) notice(msg string) {
	t.event("notice", msg)
}

func (t *turn) event(kind string, data any) {
	if t.cb == nil {
		return
	}
	if err := t.cb(kind, data); err != nil {
		t.tc.log.Dev("callback %s: %v", kind, err)
	}
}

func (t *turn) done(ok bool, reason Reason, err error) TurnResult {
	t.st.Phase = PhaseDone
	t.tc.log.Info("turn finished: reason=%s round_trips=%d retries=%d continues=%d", reason, t.st.RoundTrips, t.st.RetryCount, t.st.ContinueCount)
	return TurnResult{OK: ok, Reason: reason, State: t.st, Reply: t.reply, Usage: t.usage, Err: err}
}

func interrupted(visible string) string {
	if visible == "" {
		return InterruptedSuffix
	}
	return visible + "\n\n" + InterruptedSuffix
}
