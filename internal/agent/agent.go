package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	prompt "github.com/c-bata/go-prompt"
	"github.com/charmbracelet/glamour"
	"golang.org/x/term"

	"shellsage/internal/config"
	"shellsage/internal/contextprofile"
	"shellsage/internal/diagnose"
	"shellsage/internal/llm"
	"shellsage/internal/logging"
	"shellsage/internal/prompts"
	"shellsage/internal/state"
	"shellsage/internal/stream"
	"shellsage/internal/webtext"
	"shellsage/internal/workspace"
)

var commandSuggestions = []prompt.Suggest{
	{Text: ":help", Description: "show this text"},
	{Text: ":states", Description: "list stored conversations"},
	{Text: ":use", Description: "switch to a conversation (creates if missing)"},
	{Text: ":new", Description: "create and switch to a blank conversation"},
	{Text: ":clear", Description: "wipe the current conversation's history"},
	{Text: ":drop", Description: "delete a stored conversation"},
	{Text: ":history", Description: "show recent messages (:history [n])"},
	{Text: ":provider", Description: "list or switch providers (:provider [key])"},
	{Text: ":auto", Description: "toggle auto-execution of safe commands (:auto on|off)"},
	{Text: ":fetch", Description: "attach a web page to the next message (:fetch <url>)"},
	{Text: ":tree", Description: "rescan and show the workspace snapshot"},
	{Text: ":reload", Description: "reload config (optionally provide path)"},
	{Text: ":quit", Description: "exit the program"},
	{Text: ":exit", Description: "exit the program"},
}

const helpText = `Commands:
  :help              show this text
  :states            list stored conversations
  :use <key>         switch to a conversation (creates if missing)
  :new [key]         create and switch to a blank conversation
  :clear             wipe the current conversation's history
  :drop <key>        delete a stored conversation
  :history [n]       show the last n messages (default 10)
  :provider [key]    list providers or switch the active one
  :auto [on|off]     run non-dangerous commands without asking
  :fetch <url>       attach a web page's text to your next message
  :tree              rescan and show the workspace snapshot
  :reload [file]     reload configuration from disk
  :quit              exit the program`

// displayLines caps command output echoed to the terminal.
const displayLines = 20

type interruptTracker struct {
	mu     sync.Mutex
	last   time.Time
	window time.Duration
}

func newInterruptTracker(window time.Duration) *interruptTracker {
	return &interruptTracker{window: window}
}

func (t *interruptTracker) secondPress() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	if !t.last.IsZero() && now.Sub(t.last) < t.window {
		t.last = time.Time{}
		return true
	}
	t.last = now
	return false
}

type promptExit struct{}

// PageFetcher retrieves readable web page text for :fetch.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) (webtext.Page, error)
}

// Options carries the optional collaborators of an Agent.
type Options struct {
	ConfigPath   string
	ResumeKey    string
	Runner       CommandRunner
	Workspace    *workspace.Tracker
	Fetcher      PageFetcher
	Instructions string
	Logger       *logging.Logger
	In           io.Reader
	Out          io.Writer
	Interactive  bool // stdin is a terminal
}

// Agent is the interactive front end: it reads user input, dispatches ':'
// commands and runs a TurnController for everything else.
type Agent struct {
	client       llm.Client
	providerCtrl ProviderSwitcher
	cfg          config.Config
	cfgPath      string
	states       *state.Manager
	profile      contextprofile.Profile
	runner       CommandRunner
	tracker      *workspace.Tracker
	fetcher      PageFetcher
	classifier   *diagnose.Classifier
	instructions string
	logger       *logging.Logger
	in           io.Reader
	out          io.Writer
	isTTY        bool
	render       *glamour.TermRenderer
	autoExecute  bool
	resumeKey    string

	requestCancelMu sync.Mutex
	requestCancel   context.CancelFunc

	sessionOnce    sync.Once
	sessionOnceErr error

	pendingMu sync.Mutex
	pending   []string

	usageMu sync.Mutex
	usage   llm.Usage
}

// New returns a fully wired Agent ready for the REPL loop.
func New(client llm.Client, cfg config.Config, mgr *state.Manager, profile contextprofile.Profile, opts Options) *Agent {
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}
	in := opts.In
	if in == nil {
		in = os.Stdin
	}
	var renderer *glamour.TermRenderer
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if r, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(0),
		); err == nil {
			renderer = r
		}
	}

	a := &Agent{
		client:       client,
		cfg:          cfg,
		cfgPath:      opts.ConfigPath,
		states:       mgr,
		profile:      profile,
		runner:       opts.Runner,
		tracker:      opts.Workspace,
		fetcher:      opts.Fetcher,
		classifier:   diagnose.NewClassifier(nil),
		instructions: opts.Instructions,
		logger:       opts.Logger.With("agent"),
		in:           in,
		out:          out,
		isTTY:        opts.Interactive,
		render:       renderer,
		autoExecute:  cfg.Agent.AutoExecute,
		resumeKey:    strings.TrimSpace(opts.ResumeKey),
	}
	if ctrl, ok := client.(ProviderSwitcher); ok {
		a.providerCtrl = ctrl
		if opt := ctrl.ActiveProvider(); opt.Model != "" {
			a.cfg.Model = opt.Model
		}
	}
	return a
}

// Run starts the CLI prompt and blocks until the session finishes.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tracker := newInterruptTracker(2 * time.Second)
	if a.isTTY {
		return a.runPrompt(ctx, cancel, tracker)
	}
	go a.handleInterrupts(ctx, cancel, tracker)
	return a.runNonInteractive(ctx, cancel)
}

// RunOneShot executes a single prompt and returns once the turn is done.
func (a *Agent) RunOneShot(ctx context.Context, input string) error {
	if err := a.ensureSessionSelected(); err != nil {
		return fmt.Errorf("ensure session: %w", err)
	}
	res := a.respond(ctx, input)
	if res.Reason == ReasonCommunicationFailure {
		return fmt.Errorf("respond: %w", res.Err)
	}
	return nil
}

func (a *Agent) banner() {
	a.printf("👋 Welcome to shellsage. Describe what you want done and I will propose shell commands.\n")
	if a.providerCtrl != nil {
		opt := a.providerCtrl.ActiveProvider()
		a.printf("Provider: %s (%s)\n", opt.Label, opt.Model)
	}
	a.printf("Type ':help' for commands. Ctrl+C cancels a running request; press it twice to exit.\n")
}

func (a *Agent) runPrompt(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) (err error) {
	a.banner()
	if err := a.ensureSessionSelected(); err != nil {
		return err
	}
	if msgs := a.states.Current().Messages(); len(msgs) > 0 {
		a.printf("(loaded %d conversation messages)\n", len(msgs))
	}

	history := loadInputHistory(a.cfg.HistoryPath)

	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		if st, terr := term.GetState(fd); terr == nil {
			defer func() { _ = term.Restore(fd, st) }()
		}
	}

	var exitRequested atomic.Bool
	defer func() {
		if r := recover(); r != nil {
			if _, ok := r.(promptExit); ok {
				err = nil
				return
			}
			panic(r)
		}
	}()

	executor := func(in string) {
		if exitRequested.Load() || ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(in)
		if line == "" {
			return
		}
		history.Add(line)
		if exit := a.handleLine(ctx, line); exit {
			exitRequested.Store(true)
			cancel()
			panic(promptExit{})
		}
	}

	p := prompt.New(
		executor,
		a.commandCompleter(),
		prompt.OptionHistory(history.Entries()),
		prompt.OptionTitle("shellsage"),
		prompt.OptionLivePrefix(func() (string, bool) {
			return a.promptPrefix(), true
		}),
		prompt.OptionAddKeyBind(
			prompt.KeyBind{
				Key: prompt.ControlC,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() != "" {
						buf.DeleteBeforeCursor(len([]rune(buf.Text())))
						return
					}
					if tracker.secondPress() {
						fmt.Fprintln(a.out, "\nReceived second Ctrl+C, exiting.")
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
					fmt.Fprintln(a.out, "\n(Press Ctrl+C again within 2s to exit)")
				},
			},
			prompt.KeyBind{
				Key: prompt.ControlD,
				Fn: func(buf *prompt.Buffer) {
					if buf.Text() == "" {
						exitRequested.Store(true)
						cancel()
						panic(promptExit{})
					}
				},
			},
		),
		prompt.OptionSetExitCheckerOnInput(func(string, bool) bool {
			return exitRequested.Load() || ctx.Err() != nil
		}),
	)

	p.Run()
	return nil
}

func (a *Agent) promptPrefix() string {
	key := a.states.CurrentKey()
	if a.autoExecute {
		return fmt.Sprintf("[%s|auto] > ", key)
	}
	return fmt.Sprintf("[%s] > ", key)
}

func (a *Agent) commandCompleter() func(prompt.Document) []prompt.Suggest {
	return func(doc prompt.Document) []prompt.Suggest {
		word := doc.GetWordBeforeCursor()
		prefix := strings.TrimLeft(doc.TextBeforeCursor(), " \t")
		if !strings.HasPrefix(prefix, ":") || strings.ContainsAny(prefix, " \t") {
			return nil
		}
		return prompt.FilterHasPrefix(commandSuggestions, word, true)
	}
}

func (a *Agent) runNonInteractive(ctx context.Context, cancel context.CancelFunc) error {
	reader := bufio.NewReader(a.in)
	a.banner()
	if err := a.ensureSessionSelected(); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return nil
		}
		a.printf("%s", a.promptPrefix())

		line, err := reader.ReadString('\n')
		if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
			if errors.Is(err, io.EOF) || ctx.Err() != nil {
				a.printf("\n")
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		if exit := a.handleLine(ctx, trimLineEnding(line)); exit {
			cancel()
			return nil
		}
		if err != nil {
			// last line without a trailing newline
			return nil
		}
	}
}

// handleInterrupts cancels the in-flight turn on Ctrl+C and exits on a
// second press within the tracker window.
func (a *Agent) handleInterrupts(ctx context.Context, cancel context.CancelFunc, tracker *interruptTracker) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	defer signal.Stop(sigCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigCh:
			if a.cancelInFlightRequest() {
				fmt.Fprintln(a.out, "\n(Cancelling current request...)")
				continue
			}
			if tracker.secondPress() {
				fmt.Fprintln(a.out, "\nReceived second Ctrl+C, exiting.")
				cancel()
				return
			}
			fmt.Fprintln(a.out, "\n(Press Ctrl+C again within 2s to exit)")
		}
	}
}

func (a *Agent) handleLine(ctx context.Context, input string) bool {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return false
	}
	if strings.HasPrefix(trimmed, ":") {
		return a.handleCommand(ctx, trimmed)
	}
	a.logger.Dev("dispatching prompt: %d chars", len(trimmed))
	a.respond(ctx, a.withPendingContext(trimmed))
	return false
}

// respond runs one turn for input on the current conversation.
func (a *Agent) respond(ctx context.Context, input string) TurnResult {
	ctx, cancel := context.WithCancel(ctx)
	a.setInFlightCancel(cancel)
	defer func() {
		a.clearInFlightCancel()
		cancel()
	}()
	if a.isTTY {
		// go-prompt leaves the terminal in cooked mode while the executor runs,
		// so Ctrl+C arrives as SIGINT.
		stop := a.watchInterrupt(cancel)
		defer stop()
	}

	printer := &turnPrinter{a: a, showReasoning: a.cfg.Reasoning.Show}
	res := a.newTurnController().Run(ctx, a.states.Current(), input, printer.handle)
	printer.flush()

	a.addUsage(res.Usage)
	if res.Usage.TotalTokens > 0 {
		a.printf("(tokens: %d prompt + %d completion = %d; session total %d)\n",
			res.Usage.PromptTokens, res.Usage.CompletionTokens, res.Usage.TotalTokens, a.totalTokens())
	}
	a.logger.Dev("turn result: reason=%s ok=%v round_trips=%d", res.Reason, res.OK, res.State.RoundTrips)
	return res
}

func (a *Agent) watchInterrupt(cancel context.CancelFunc) func() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	done := make(chan struct{})
	go func() {
		select {
		case <-sigCh:
			fmt.Fprintln(a.out, "\n(Cancelling current request...)")
			cancel()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(sigCh)
		close(done)
	}
}

func (a *Agent) newTurnController() *TurnController {
	cfg := a.cfg
	return NewTurnController(TurnDeps{
		Client:       a.client,
		Profile:      a.profile,
		Runner:       a.runner,
		Saver:        a.states,
		Classifier:   a.classifier,
		Anchor:       a.anchor,
		FilesChanged: a.rescanWorkspace,
		Logger:       a.logger,
	}, TurnConfig{
		MaxRetries:     cfg.Agent.MaxRetries,
		MaxContinues:   cfg.Agent.MaxContinues,
		Model:          a.activeModel(),
		Temperature:    cfg.Temperature,
		MaxTokens:      cfg.MaxTokens,
		Thinking:       cfg.ThinkingEnabled,
		Markers:        stream.Markers{Start: cfg.Reasoning.StartMarker, End: cfg.Reasoning.EndMarker},
		Languages:      cfg.Commands.Languages,
		OutputMaxLines: cfg.Agent.OutputMaxLines,
		AutoExecute:    a.autoExecute,
	})
}

// anchor composes the first message of every request window.
func (a *Agent) anchor() string {
	anchor := prompts.Anchor{
		Environment:  prompts.DetectEnvironment(a.cfg.Commands.Shell, a.runner.Workdir()),
		Instructions: a.instructions,
		User:         a.cfg.SystemPrompt,
	}
	if a.tracker != nil {
		anchor.Workspace = a.tracker.Snapshot().Render()
	}
	return anchor.Compose()
}

func (a *Agent) rescanWorkspace(ctx context.Context) {
	if a.tracker == nil {
		return
	}
	if err := a.tracker.Rescan(ctx); err != nil {
		a.logger.Warn("workspace rescan failed: %v", err)
	}
}

func (a *Agent) withPendingContext(input string) string {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	if len(a.pending) == 0 {
		return input
	}
	parts := append(a.pending, input)
	a.pending = nil
	return strings.Join(parts, "\n\n")
}

func (a *Agent) activeModel() string {
	if a.providerCtrl != nil {
		if opt := a.providerCtrl.ActiveProvider(); opt.Model != "" {
			return opt.Model
		}
	}
	return a.cfg.Model
}

func (a *Agent) setInFlightCancel(cancel context.CancelFunc) {
	a.requestCancelMu.Lock()
	a.requestCancel = cancel
	a.requestCancelMu.Unlock()
}

func (a *Agent) clearInFlightCancel() {
	a.requestCancelMu.Lock()
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
}

func (a *Agent) cancelInFlightRequest() bool {
	a.requestCancelMu.Lock()
	cancel := a.requestCancel
	a.requestCancel = nil
	a.requestCancelMu.Unlock()
	if cancel != nil {
		cancel()
		return true
	}
	return false
}

// CancelRequest cancels the running turn, if any.
func (a *Agent) CancelRequest() bool {
	return a.cancelInFlightRequest()
}

func (a *Agent) addUsage(u llm.Usage) {
	a.usageMu.Lock()
	a.usage.PromptTokens += u.PromptTokens
	a.usage.CompletionTokens += u.CompletionTokens
	a.usage.TotalTokens += u.TotalTokens
	a.usageMu.Unlock()
}

func (a *Agent) totalTokens() int {
	a.usageMu.Lock()
	defer a.usageMu.Unlock()
	return a.usage.TotalTokens
}

func (a *Agent) ensureSessionSelected() error {
	a.sessionOnce.Do(func() {
		a.sessionOnceErr = a.initSessionSelection()
	})
	return a.sessionOnceErr
}

func (a *Agent) initSessionSelection() error {
	if a.resumeKey != "" {
		if _, err := a.states.Use(a.resumeKey); err != nil {
			return fmt.Errorf("resume session %s: %w", a.resumeKey, err)
		}
		a.printf("Resumed session '%s'.\n", a.resumeKey)
		return nil
	}
	keys := a.states.ListKeys()
	if len(keys) == 0 || !a.isTTY {
		return a.startFreshSession()
	}

	a.printf("Found %d stored session(s):\n", len(keys))
	for i, key := range keys {
		a.printf("  %d) %s\n", i+1, key)
	}
	reader := bufio.NewReader(a.in)
	a.printf("Load one of these sessions? [y/N]: ")
	answer, err := reader.ReadString('\n')
	if err != nil {
		return err
	}
	if v := strings.ToLower(strings.TrimSpace(answer)); v != "y" && v != "yes" {
		return a.startFreshSession()
	}
	for attempts := 0; attempts < 3; attempts++ {
		a.printf("Enter the session number or name to load: ")
		selection, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		if key, ok := resolveSessionChoice(strings.TrimSpace(selection), keys); ok {
			if _, err := a.states.Use(key); err != nil {
				return err
			}
			a.printf("Loaded session '%s'.\n", key)
			return nil
		}
		a.printf("Invalid selection. Try again.\n")
	}
	a.printf("No valid selection provided. Starting a new session instead.\n")
	return a.startFreshSession()
}

func resolveSessionChoice(input string, keys []string) (string, bool) {
	if input == "" {
		return "", false
	}
	if idx, err := strconv.Atoi(input); err == nil {
		if idx >= 1 && idx <= len(keys) {
			return keys[idx-1], true
		}
	}
	for _, key := range keys {
		if strings.EqualFold(key, input) {
			return key, true
		}
	}
	return "", false
}

func (a *Agent) startFreshSession() error {
	key := fmt.Sprintf("session-%s", time.Now().Format("20060102-150405"))
	conv, err := a.states.NewState(key)
	if err != nil {
		// a session was already started this second
		if conv, err = a.states.NewState(""); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
	}
	a.logger.Info("starting new session %s", conv.Key())
	return nil
}

func (a *Agent) handleCommand(ctx context.Context, cmd string) bool {
	parts := strings.Fields(cmd)
	if len(parts) == 0 {
		return false
	}
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	switch parts[0] {
	case ":help":
		a.printf("%s\n", helpText)
	case ":states":
		sums := a.states.Summaries()
		if len(sums) == 0 {
			a.printf("No states yet. Use :new <name> to create one.\n")
			return false
		}
		current := a.states.CurrentKey()
		for _, s := range sums {
			marker := " "
			if s.Key == current {
				marker = "*"
			}
			a.printf("%s %-28s %3d messages  updated %s\n", marker, s.Key, s.MessageCount, s.UpdatedAt.Format("2006-01-02 15:04"))
		}
	case ":use":
		if arg == "" {
			a.printf(":use requires a key\n")
			return false
		}
		if _, err := a.states.EnsureState(arg); err != nil {
			a.printf("%v\n", err)
			return false
		}
		a.printf("Switched to %s\n", arg)
	case ":new":
		conv, err := a.states.NewState(arg)
		if err != nil {
			a.printf("%v\n", err)
			return false
		}
		a.printf("Created new state %s\n", conv.Key())
	case ":clear":
		if err := a.states.ClearCurrent(); err != nil {
			a.printf("Clear failed: %v\n", err)
			return false
		}
		a.printf("Cleared current state.\n")
	case ":drop":
		if arg == "" {
			a.printf(":drop requires a key\n")
			return false
		}
		if err := a.states.Delete(arg); err != nil {
			a.printf("%v\n", err)
			return false
		}
		a.printf("Removed state %s\n", arg)
	case ":history":
		n := 10
		if arg != "" {
			v, err := strconv.Atoi(arg)
			if err != nil || v <= 0 {
				a.printf(":history expects a positive number\n")
				return false
			}
			n = v
		}
		a.printHistory(n)
	case ":provider":
		a.providerCommand(arg)
	case ":auto":
		switch strings.ToLower(arg) {
		case "":
			a.autoExecute = !a.autoExecute
		case "on":
			a.autoExecute = true
		case "off":
			a.autoExecute = false
		default:
			a.printf("Usage: :auto [on|off]\n")
			return false
		}
		if a.autoExecute {
			a.printf("Auto-execute on: non-dangerous commands run without confirmation.\n")
		} else {
			a.printf("Auto-execute off: every command asks for confirmation.\n")
		}
	case ":fetch":
		a.fetchCommand(ctx, arg)
	case ":tree":
		if a.tracker == nil {
			a.printf("No workspace configured.\n")
			return false
		}
		if err := a.tracker.Rescan(ctx); err != nil {
			a.printf("Rescan failed: %v\n", err)
			return false
		}
		a.printf("%s", a.tracker.Snapshot().Render())
	case ":reload":
		path := a.cfgPath
		if arg != "" {
			path = arg
		}
		if path == "" {
			a.printf(":reload requires a config file path when no default is set.\n")
			return false
		}
		if err := a.reloadConfig(path); err != nil {
			a.printf("Reload failed: %v\n", err)
		}
	case ":quit", ":exit":
		a.printf("Exiting per user request.\n")
		return true
	default:
		a.printf("Unknown command %s. Try :help\n", parts[0])
	}
	return false
}

func (a *Agent) printHistory(n int) {
	msgs := a.states.Current().Messages()
	if len(msgs) == 0 {
		a.printf("No messages in %s.\n", a.states.CurrentKey())
		return
	}
	if len(msgs) > n {
		msgs = msgs[len(msgs)-n:]
	}
	for _, m := range msgs {
		line := strings.TrimSpace(m.Content)
		if i := strings.IndexByte(line, '\n'); i >= 0 {
			line = line[:i] + " …"
		}
		if r := []rune(line); len(r) > 120 {
			line = string(r[:120]) + "…"
		}
		a.printf("[%s] %s\n", m.Role, line)
	}
}

func (a *Agent) providerCommand(key string) {
	if a.providerCtrl == nil {
		a.printf("Provider switching is not available.\n")
		return
	}
	if key == "" {
		active := a.providerCtrl.ActiveProvider().Key
		for _, opt := range a.providerCtrl.ProviderOptions() {
			marker := " "
			if opt.Key == active {
				marker = "*"
			}
			a.printf("%s %-12s %s\n", marker, opt.Key, opt.Model)
		}
		return
	}
	if err := a.providerCtrl.SetActiveProvider(key); err != nil {
		a.printf("%v\n", err)
		return
	}
	opt := a.providerCtrl.ActiveProvider()
	a.cfg.Model = opt.Model
	a.printf("Switched to %s (%s)\n", opt.Label, opt.Model)
}

func (a *Agent) fetchCommand(ctx context.Context, url string) {
	if a.fetcher == nil {
		a.printf("Web fetching is not available.\n")
		return
	}
	if url == "" {
		a.printf(":fetch requires a url\n")
		return
	}
	page, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		a.printf("Fetch failed: %v\n", err)
		return
	}
	a.pendingMu.Lock()
	a.pending = append(a.pending, page.Render())
	a.pendingMu.Unlock()
	title := page.Title
	if title == "" {
		title = page.URL
	}
	a.printf("Fetched %q (%d chars); it will be attached to your next message.\n", title, len(page.Text))
}

func (a *Agent) reloadConfig(path string) error {
	newCfg, err := config.Load(path)
	if err != nil {
		a.logger.Error("failed to reload config from %s: %v", path, err)
		return err
	}
	if !strings.EqualFold(newCfg.Provider, a.cfg.Provider) {
		a.printf("Warning: provider changes require restart; use :provider to switch.\n")
	}
	if !strings.EqualFold(newCfg.ContextProfile, a.cfg.ContextProfile) {
		a.printf("Warning: context_profile changes require restart to take effect.\n")
	}
	if newCfg.Commands.Shell != a.cfg.Commands.Shell || newCfg.Workspace.Root != a.cfg.Workspace.Root {
		a.printf("Warning: commands.shell and workspace.root changes require restart.\n")
	}
	if reloader, ok := a.profile.(contextprofile.ConfigReloadable); ok {
		if err := reloader.ReloadConfig(newCfg); err != nil {
			return fmt.Errorf("context profile reload: %w", err)
		}
	}
	if a.providerCtrl != nil {
		newCfg.Model = a.activeModel()
	}
	a.cfg = newCfg
	a.cfgPath = path
	a.logger.Info("config reloaded from %s", path)
	a.printf("Config reloaded from %s\n", path)
	return nil
}

func (a *Agent) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

func trimLineEnding(s string) string {
	s = strings.TrimSuffix(s, "\n")
	return strings.TrimSuffix(s, "\r")
}
