package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"shellsage/internal/config"
	"shellsage/internal/contextprofile"
	"shellsage/internal/diagnose"
	"shellsage/internal/llm"
	"shellsage/internal/llm/mockclient"
	"shellsage/internal/logging"
	"shellsage/internal/shell"
	"shellsage/internal/state"
	"shellsage/internal/stream"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeRunner succeeds unless the command contains "fail" or "skip".
type fakeRunner struct {
	mu       sync.Mutex
	calls    []string
	modifies bool
}

func (r *fakeRunner) Run(_ context.Context, command string, _ bool) shell.Result {
	r.mu.Lock()
	r.calls = append(r.calls, command)
	r.mu.Unlock()
	switch {
	case strings.Contains(command, "skip"):
		return shell.Result{Command: command, Skipped: true, Err: shell.ErrDeclined}
	case strings.Contains(command, "fail"):
		return shell.Result{Command: command, Stderr: "fail: No such file or directory", Err: errors.New("exit status 1"), ExitCode: 1}
	default:
		return shell.Result{Command: command, Success: true, Stdout: "ran " + command, ModifiedFiles: r.modifies}
	}
}

func (r *fakeRunner) Workdir() string { return "/work" }

func (r *fakeRunner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type harness struct {
	client *mockclient.Client
	runner *fakeRunner
	store  *state.MemoryStore
	conv   *state.Conversation
	tc     *TurnController
	events []string
	mu     sync.Mutex
}

func newHarness(t *testing.T, replies ...mockclient.Reply) *harness {
	t.Helper()
	cfg := config.Default()
	profile, err := contextprofile.New("window", contextprofile.Dependencies{Config: cfg, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("profile: %v", err)
	}
	h := &harness{
		client: mockclient.Scripted(replies...),
		runner: &fakeRunner{},
		store:  state.NewMemoryStore(),
		conv:   state.NewConversation("test"),
	}
	h.tc = NewTurnController(TurnDeps{
		Client:  h.client,
		Profile: profile,
		Runner:  h.runner,
		Saver:   h.store,
		Anchor:  func() string { return "ANCHOR" },
		Logger:  logging.Discard(),
	}, TurnConfig{
		MaxRetries:   cfg.Agent.MaxRetries,
		MaxContinues: cfg.Agent.MaxContinues,
		Model:        "mock-model",
		Languages:    cfg.Commands.Languages,
		AutoExecute:  true,
		RetryDelay:   time.Millisecond,
	})
	return h
}

func (h *harness) callback(kind string, data any) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, fmt.Sprintf("%s:%v", kind, data))
	return nil
}

func (h *harness) run(ctx context.Context, input string) TurnResult {
	return h.tc.Run(ctx, h.conv, input, h.callback)
}

func (h *harness) sawEvent(prefix string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, e := range h.events {
		if strings.HasPrefix(e, prefix) {
			return true
		}
	}
	return false
}

func command(cmd string) mockclient.Reply {
	return mockclient.Text("Running it.\n```bash\n" + cmd + "\n```\n")
}

func TestTurnPlainAnswer(t *testing.T) {
	h := newHarness(t, mockclient.Text("<think>the user greets me</think>Hello there!"))
	res := h.run(context.Background(), "hi")

	if !res.OK || res.Reason != ReasonAnswered {
		t.Fatalf("result = %+v", res)
	}
	if res.State.RoundTrips != 1 || h.client.Calls() != 1 {
		t.Fatalf("round trips = %d, calls = %d", res.State.RoundTrips, h.client.Calls())
	}
	if res.State.Phase != PhaseDone {
		t.Fatalf("phase = %s", res.State.Phase)
	}
	msgs := h.conv.Messages()
	if len(msgs) != 2 || msgs[1].Role != state.RoleAssistant || msgs[1].Content != "Hello there!" {
		t.Fatalf("history = %+v", msgs)
	}
	if !h.sawEvent("reasoning:the") || !h.sawEvent("content:") {
		t.Fatalf("missing stream events: %v", h.events)
	}
	req := h.client.Requests()[0]
	if req.Messages[0].Role != state.RoleSystem || req.Messages[0].Content != "ANCHOR" {
		t.Fatalf("first request message should be the anchor: %+v", req.Messages[0])
	}
	if req.Model != "mock-model" {
		t.Fatalf("model = %q", req.Model)
	}
}

func TestTurnRetryCeiling(t *testing.T) {
	h := newHarness(t, command("cat fail1"), command("cat fail2"), command("cat fail3"), mockclient.Text("never used"))
	res := h.run(context.Background(), "show the file")

	if !res.OK || res.Reason != ReasonRetryLimit {
		t.Fatalf("result = %+v", res)
	}
	if res.State.RetryCount != 3 || res.State.ContinueCount != 0 {
		t.Fatalf("state = %+v", res.State)
	}
	if h.client.Calls() != 3 {
		t.Fatalf("expected no fourth round trip, got %d calls", h.client.Calls())
	}
	// user, (assistant, feedback) x2, assistant
	msgs := h.conv.Messages()
	if len(msgs) != 6 {
		t.Fatalf("history length = %d", len(msgs))
	}
	if last := msgs[len(msgs)-1]; last.Role != state.RoleAssistant {
		t.Fatalf("no feedback should follow the last failure, got %+v", last)
	}
	if !h.sawEvent("notice:Commands failed 3 times") {
		t.Fatalf("missing manual intervention notice: %v", h.events)
	}
}

func TestTurnContinueCeiling(t *testing.T) {
	var replies []mockclient.Reply
	for i := 1; i <= 11; i++ {
		replies = append(replies, command(fmt.Sprintf("echo step%d", i)))
	}
	h := newHarness(t, replies...)
	res := h.run(context.Background(), "do the plan")

	if !res.OK || res.Reason != ReasonContinueLimit {
		t.Fatalf("result = %+v", res)
	}
	if res.State.ContinueCount != 10 || res.State.RetryCount != 0 {
		t.Fatalf("state = %+v", res.State)
	}
	if h.client.Calls() != 10 || len(h.runner.Calls()) != 10 {
		t.Fatalf("calls = %d, commands = %d", h.client.Calls(), len(h.runner.Calls()))
	}
	last, _ := h.conv.Last()
	if !strings.HasPrefix(last.Content, diagnose.FeedbackTitle) {
		t.Fatalf("last message should be feedback, got %q", last.Content)
	}
}

func TestTurnFailureThenCorrectedAnswer(t *testing.T) {
	h := newHarness(t, command("ls fail-dir"), mockclient.Text("The directory does not exist, so there is nothing to list."))
	res := h.run(context.Background(), "list it")

	if !res.OK || res.Reason != ReasonAnswered {
		t.Fatalf("result = %+v", res)
	}
	if res.State.RoundTrips != 2 || res.State.RetryCount != 1 {
		t.Fatalf("state = %+v", res.State)
	}
	second := h.client.Requests()[1].Messages
	feedback := second[len(second)-1]
	if feedback.Role != state.RoleUser || !strings.Contains(feedback.Content, "Status: FAILED") || !strings.Contains(feedback.Content, "path-not-found") {
		t.Fatalf("second request should end with diagnostic feedback:\n%s", feedback.Content)
	}
}

func TestTurnStopsBatchAtFirstFailure(t *testing.T) {
	reply := mockclient.Text("```bash\necho one\n```\n```bash\ncat fail\n```\n```bash\necho three\n```")
	h := newHarness(t, reply, mockclient.Text("ok"))
	h.run(context.Background(), "go")

	calls := h.runner.Calls()
	if len(calls) != 2 || calls[1] != "cat fail" {
		t.Fatalf("runner calls = %v", calls)
	}
	fb := h.client.Requests()[1].Messages
	if !strings.Contains(fb[len(fb)-1].Content, "1 remaining command(s) were not executed") {
		t.Fatalf("feedback should mention the skipped command:\n%s", fb[len(fb)-1].Content)
	}
}

func TestTurnAllSkipped(t *testing.T) {
	h := newHarness(t, command("rm -rf skip-me"))
	res := h.run(context.Background(), "clean up")

	if !res.OK || res.Reason != ReasonSkipped || h.client.Calls() != 1 {
		t.Fatalf("result = %+v calls=%d", res, h.client.Calls())
	}
	if last, _ := h.conv.Last(); last.Role != state.RoleAssistant {
		t.Fatalf("skipped batch should not append feedback")
	}
}

func TestTurnCommunicationFailureOnOpen(t *testing.T) {
	h := newHarness(t, mockclient.Reply{OpenErr: errors.New("connection refused")})
	res := h.run(context.Background(), "hello")

	if res.OK || res.Reason != ReasonCommunicationFailure || res.Err == nil {
		t.Fatalf("result = %+v", res)
	}
	if h.conv.Len() != 0 {
		t.Fatalf("user message should be rolled back, history = %+v", h.conv.Messages())
	}
	stored, err := h.store.Load(h.conv.ID())
	if err != nil || stored.Len() != 0 {
		t.Fatalf("stored conversation should be empty: %v %+v", err, stored)
	}
}

func TestTurnCommunicationFailureMidStream(t *testing.T) {
	h := newHarness(t, mockclient.Reply{Chunks: []string{"partial "}, StreamErr: errors.New("stream reset")})
	res := h.run(context.Background(), "hello")

	if res.OK || res.Reason != ReasonCommunicationFailure {
		t.Fatalf("result = %+v", res)
	}
	if h.conv.Len() != 0 {
		t.Fatalf("history = %+v", h.conv.Messages())
	}
}

func TestTurnCommunicationFailureAfterFeedback(t *testing.T) {
	auth := llm.NewProviderError("mock", llm.ErrorTypeAuth, "401", "bad key")
	h := newHarness(t, command("cat fail"), mockclient.Reply{OpenErr: auth})
	res := h.run(context.Background(), "read")

	if res.Reason != ReasonCommunicationFailure || res.State.RoundTrips != 2 {
		t.Fatalf("result = %+v", res)
	}
	msgs := h.conv.Messages()
	if len(msgs) != 2 || msgs[1].Role != state.RoleAssistant {
		t.Fatalf("pending feedback should be rolled back, history = %+v", msgs)
	}
}

func TestTurnRetriesRetryableOpenError(t *testing.T) {
	limited := llm.NewProviderError("mock", llm.ErrorTypeRateLimit, "429", "slow down")
	h := newHarness(t, mockclient.Reply{OpenErr: limited}, mockclient.Text("done"))
	res := h.run(context.Background(), "hi")

	if !res.OK || res.Reason != ReasonAnswered || res.Reply != "done" {
		t.Fatalf("result = %+v", res)
	}
	if h.client.Calls() != 2 || res.State.RoundTrips != 1 {
		t.Fatalf("calls = %d round trips = %d", h.client.Calls(), res.State.RoundTrips)
	}
	if !h.sawEvent("notice:Provider error (rate_limit)") {
		t.Fatalf("missing retry notice: %v", h.events)
	}
}

func TestTurnConfiguredMarkersAndMultibyteReply(t *testing.T) {
	h := newHarness(t, mockclient.Text("<r>überlege kurz</r>Grüße, 日本語もOK"))
	h.tc.cfg.Markers = stream.Markers{Start: "<r>", End: "</r>"}
	res := h.run(context.Background(), "hallo")

	if !res.OK || res.Reason != ReasonAnswered {
		t.Fatalf("result = %+v", res)
	}
	last, _ := h.conv.Last()
	if last.Content != "Grüße, 日本語もOK" {
		t.Fatalf("stored reply = %q", last.Content)
	}
	if !h.sawEvent("reasoning:") {
		t.Fatalf("missing reasoning events: %v", h.events)
	}
}

func TestTurnCancellationKeepsPartialText(t *testing.T) {
	h := newHarness(t, mockclient.Reply{Chunks: []string{"Partial answer"}, Hang: true})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res := h.tc.Run(ctx, h.conv, "long task", func(kind string, data any) error {
		if kind == "content" {
			cancel()
		}
		return nil
	})

	if !res.OK || res.Reason != ReasonCancelled {
		t.Fatalf("result = %+v", res)
	}
	last, _ := h.conv.Last()
	if last.Role != state.RoleAssistant || last.Content != "Partial answer\n\n"+InterruptedSuffix {
		t.Fatalf("last message = %+v", last)
	}
}

func TestTurnUsageAccumulates(t *testing.T) {
	first := command("echo a")
	first.Usage = &llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15}
	second := mockclient.Text("all done")
	second.Usage = &llm.Usage{PromptTokens: 20, CompletionTokens: 2, TotalTokens: 22}
	h := newHarness(t, first, second)
	res := h.run(context.Background(), "go")

	if res.Usage.TotalTokens != 37 || res.Usage.PromptTokens != 30 {
		t.Fatalf("usage = %+v", res.Usage)
	}
	if !h.sawEvent("usage:") {
		t.Fatal("missing usage event")
	}
}

func TestTurnFilesChangedTriggersRescan(t *testing.T) {
	h := newHarness(t, command("touch new.txt"), mockclient.Text("created"))
	h.runner.modifies = true
	rescans := 0
	h.tc.deps.FilesChanged = func(context.Context) { rescans++ }
	h.run(context.Background(), "create a file")
	if rescans != 1 {
		t.Fatalf("rescans = %d", rescans)
	}
}

func TestTurnCommandEvents(t *testing.T) {
	h := newHarness(t, command("echo hi"), mockclient.Text("ok"))
	h.run(context.Background(), "go")
	if !h.sawEvent("command_started:{1 1 echo hi") || !h.sawEvent("command_finished:{1 1 echo hi") {
		t.Fatalf("missing command events: %v", h.events)
	}
}

func TestTurnStatePersistedAfterEachMutation(t *testing.T) {
	h := newHarness(t, command("echo hi"), mockclient.Text("ok"))
	h.run(context.Background(), "go")
	// user, assistant, feedback, assistant
	if got := h.store.Saves(); got != 4 {
		t.Fatalf("saves = %d", got)
	}
	stored, err := h.store.Load(h.conv.ID())
	if err != nil || stored.Len() != 4 {
		t.Fatalf("stored = %+v, %v", stored, err)
	}
}

func TestPhaseString(t *testing.T) {
	for p, want := range map[Phase]string{PhaseAwaitingReply: "awaiting-reply", PhaseRetrying: "retrying", PhaseDone: "done", Phase(42): "phase(42)"} {
		if p.String() != want {
			t.Errorf("%d.String() = %q", int(p), p.String())
		}
	}
}
