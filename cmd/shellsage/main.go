package main

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode"

	"github.com/joho/godotenv"
	"golang.org/x/term"

	"shellsage/internal/agent"
	"shellsage/internal/anthropicapi"
	"shellsage/internal/config"
	"shellsage/internal/config/migrate"
	"shellsage/internal/contextprofile"
	"shellsage/internal/credentials"
	"shellsage/internal/llm/mockclient"
	"shellsage/internal/logging"
	"shellsage/internal/openaiapi"
	"shellsage/internal/openrouter"
	"shellsage/internal/prompts"
	"shellsage/internal/shell"
	"shellsage/internal/state"
	"shellsage/internal/webtext"
	"shellsage/internal/workspace"
	"shellsage/internal/zai"
)

// Version is set via -ldflags during build
var Version = "dev"

type providerBuilder func(cfg config.Config, apiKey string, logger *logging.Logger) (*agent.ProviderRegistration, error)

var providerBuilders = map[string]providerBuilder{
	"openrouter": buildOpenRouterRegistration,
	"zai":        buildZAIRegistration,
	"openai":     buildOpenAIRegistration,
	"anthropic":  buildAnthropicRegistration,
}

func main() {
	var (
		sandboxPath  = flag.String("sandbox", "", "Override the workspace root commands run in")
		resumeKey    = flag.String("resume", "", "Resume an existing session key")
		listSessions = flag.Bool("list-sessions", false, "List stored sessions and exit")
		promptFlag   = flag.String("p", "", "Execute a single prompt and exit (non-interactive mode)")
		setupFlag    = flag.Bool("setup", false, "Run credential setup wizard")
		versionFlag  = flag.Bool("version", false, "Print version and exit")
		autoFlag     = flag.Bool("auto", false, "Run non-dangerous commands without confirmation")
	)
	flag.StringVar(promptFlag, "prompt", "", "Execute a single prompt and exit (non-interactive mode)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("shellsage version %s\n", Version)
		return
	}

	configDir := config.GetConfigDir()
	loadDotEnv(".env", filepath.Join(configDir, ".env"))

	logger, closer, err := logging.NewFile(filepath.Join(configDir, "shellsage.log"), false)
	if err != nil {
		log.Printf("Warning: file logging unavailable: %v", err)
		logger = logging.New(os.Stderr, false)
	} else {
		defer closer.Close()
	}
	logger = logger.With("main")

	credManager := credentials.NewManager(configDir)
	if *setupFlag {
		if err := credentials.NewWizard(credManager, os.Stdin, os.Stdout).Menu(); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
		return
	}

	creds, err := credManager.Load()
	if err != nil {
		log.Fatalf("Failed to load credentials: %v", err)
	}
	mockMode := os.Getenv("SHELLSAGE_MOCK_LLM") == "1"
	if !mockMode && !creds.HasAnyProvider() {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			log.Fatal("No providers configured. Run: shellsage -setup")
		}
		if creds, err = credentials.NewWizard(credManager, os.Stdin, os.Stdout).Onboard(); err != nil {
			log.Fatalf("Setup failed: %v", err)
		}
	}

	if err := migrate.MigrateConfig(config.Path(), logger); err != nil {
		log.Fatalf("Failed to migrate config: %v", err)
	}
	if creds.HasAnyProvider() {
		if err := config.EnsureDefaultConfig(creds.DefaultProvider); err != nil {
			log.Fatalf("Failed to ensure default config: %v", err)
		}
	}
	cfg, err := config.LoadUserConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *autoFlag {
		cfg.Agent.AutoExecute = true
	}
	if sandbox := strings.TrimSpace(*sandboxPath); sandbox != "" {
		cfg.Workspace.Root = sandbox
	}

	absRoot, err := filepath.Abs(cfg.Workspace.Root)
	if err != nil {
		log.Fatalf("Failed to resolve workspace root: %v", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		log.Fatalf("Failed to create workspace root: %v", err)
	}
	cfg.Workspace.Root = absRoot
	dataRoot := projectStorageRoot(absRoot)
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		log.Fatalf("Failed to create project storage root: %v", err)
	}

	activeProvider := strings.ToLower(strings.TrimSpace(creds.DefaultProvider))
	if activeProvider == "" {
		activeProvider = cfg.Provider
	}
	var regs []agent.ProviderRegistration
	if mockMode {
		logger.Info("SHELLSAGE_MOCK_LLM=1 detected; using mock LLM client")
		activeProvider = "mock"
		regs = append(regs, agent.ProviderRegistration{
			Option: agent.ProviderOption{Key: "mock", Label: "Mock", Model: config.DefaultMockModel},
			Client: mockclient.New(),
		})
	}
	for _, key := range creds.ListProviders() {
		build, ok := providerBuilders[key]
		if !ok {
			continue
		}
		reg, err := build(cfg, creds.APIKey(key), logger)
		if err != nil {
			if key == activeProvider {
				log.Fatalf("Failed to init %s provider: %v", key, err)
			}
			logger.Warn("%s provider init failed: %v", key, err)
			continue
		}
		regs = append(regs, *reg)
	}
	if len(regs) == 0 {
		log.Fatal("No providers configured. Run: shellsage -setup")
	}
	client, err := agent.NewMultiProviderClient(activeProvider, regs)
	if err != nil {
		log.Fatalf("Failed to init multi-provider client: %v", err)
	}
	logger.Info("providers available: %s (default=%s)", providerLabels(regs), activeProvider)

	var store state.Store
	if sqliteStore, err := state.OpenSQLiteStore(cfg.StorePath); err != nil {
		logger.Warn("session store unavailable, sessions will not persist: %v", err)
		fmt.Fprintf(os.Stderr, "Warning: sessions will not be saved (%v)\n", err)
		store = state.NewMemoryStore()
	} else {
		defer sqliteStore.Close()
		store = sqliteStore
	}
	states, err := state.NewManager(store, logger)
	if err != nil {
		log.Fatalf("Failed to init state manager: %v", err)
	}
	if *listSessions {
		printSessionList(states.Summaries())
		return
	}

	profile, err := contextprofile.New(cfg.ContextProfile, contextprofile.Dependencies{Logger: logger, Config: cfg})
	if err != nil {
		log.Fatalf("Failed to init context profile: %v", err)
	}

	runner, err := shell.NewRunner(shell.FromConfig(cfg, absRoot, shell.NewTerminalConfirmer(os.Stdin, os.Stdout), logger))
	if err != nil {
		log.Fatalf("Failed to init command runner: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer stop()

	tracker, err := workspace.NewTracker(ctx, workspace.FromConfig(cfg), logger)
	if err != nil {
		logger.Warn("workspace snapshot disabled: %v", err)
		tracker = nil
	}
	instructions, err := prompts.LoadInstructions(dataRoot)
	if err != nil {
		logger.Warn("project instructions: %v", err)
	}

	agentInstance := agent.New(client, cfg, states, profile, agent.Options{
		ConfigPath:   config.Path(),
		ResumeKey:    *resumeKey,
		Runner:       runner,
		Workspace:    tracker,
		Fetcher:      webtext.NewFetcher(cfg.RequestTimeout()),
		Instructions: instructions,
		Logger:       logger,
		Interactive:  term.IsTerminal(int(os.Stdin.Fd())),
	})

	if *promptFlag != "" {
		oneShotCtx, cancel := signal.NotifyContext(ctx, os.Interrupt)
		defer cancel()
		if err := agentInstance.RunOneShot(oneShotCtx, *promptFlag); err != nil {
			log.Fatalf("Prompt failed: %v", err)
		}
		return
	}

	if err := agentInstance.Run(ctx); err != nil {
		log.Fatalf("shellsage: %v", err)
	}
}

// loadDotEnv loads each existing file; variables already set win.
func loadDotEnv(paths ...string) {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			log.Printf("Warning: could not load %s: %v", p, err)
		}
	}
}

func projectStorageRoot(workspace string) string {
	return filepath.Join(config.GetConfigDir(), "projects", projectSlug(workspace))
}

func projectSlug(path string) string {
	clean := filepath.Clean(path)
	base := sanitizeSlug(filepath.Base(clean))
	if base == "" {
		base = "workspace"
	}
	sum := sha1.Sum([]byte(clean))
	return fmt.Sprintf("%s-%s", base, hex.EncodeToString(sum[:8]))
}

func sanitizeSlug(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case r == '-' || r == '_' || unicode.IsSpace(r):
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func printSessionList(sums []state.Summary) {
	if len(sums) == 0 {
		fmt.Println("No stored sessions yet.")
		return
	}
	fmt.Printf("Stored sessions (%d):\n", len(sums))
	for i, s := range sums {
		fmt.Printf("  %d) %-28s %3d messages  updated %s\n", i+1, s.Key, s.MessageCount, s.UpdatedAt.Format(time.DateTime))
	}
}

func buildOpenRouterRegistration(cfg config.Config, apiKey string, logger *logging.Logger) (*agent.ProviderRegistration, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenRouter API key not configured")
	}
	model := cfg.ModelFor("openrouter")
	client := openrouter.NewClient(cfg.BaseURL, apiKey, cfg.RequestTimeout(), logger)
	client.SetReasoningMarkers(cfg.Reasoning.StartMarker, cfg.Reasoning.EndMarker)
	logger.Info("OpenRouter provider ready (model %s)", model)
	return &agent.ProviderRegistration{
		Option: agent.ProviderOption{Key: "openrouter", Label: "OpenRouter · " + model, Model: model},
		Client: client,
	}, nil
}

func buildZAIRegistration(cfg config.Config, apiKey string, logger *logging.Logger) (*agent.ProviderRegistration, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Z.AI API key not configured")
	}
	client, err := zai.NewClient(cfg.ZAIBaseURL, apiKey, cfg.RequestTimeout(), logger)
	if err != nil {
		return nil, err
	}
	client.SetReasoningMarkers(cfg.Reasoning.StartMarker, cfg.Reasoning.EndMarker)
	model := cfg.ModelFor("zai")
	logger.Info("Z.AI provider ready (model %s)", model)
	return &agent.ProviderRegistration{
		Option: agent.ProviderOption{Key: "zai", Label: "GLM · " + model, Model: model},
		Client: client,
	}, nil
}

func buildOpenAIRegistration(cfg config.Config, apiKey string, logger *logging.Logger) (*agent.ProviderRegistration, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key not configured")
	}
	model := cfg.ModelFor("openai")
	client := openaiapi.NewClient(cfg.OpenAIBaseURL, apiKey, cfg.RequestTimeout(), logger)
	logger.Info("OpenAI provider ready (model %s)", model)
	return &agent.ProviderRegistration{
		Option: agent.ProviderOption{Key: "openai", Label: "OpenAI · " + model, Model: model},
		Client: client,
	}, nil
}

func buildAnthropicRegistration(cfg config.Config, apiKey string, logger *logging.Logger) (*agent.ProviderRegistration, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key not configured")
	}
	model := cfg.ModelFor("anthropic")
	client := anthropicapi.NewClient(cfg.AnthropicBaseURL, apiKey, cfg.RequestTimeout(), logger)
	client.SetReasoningMarkers(cfg.Reasoning.StartMarker, cfg.Reasoning.EndMarker)
	logger.Info("Anthropic provider ready (model %s)", model)
	return &agent.ProviderRegistration{
		Option: agent.ProviderOption{Key: "anthropic", Label: "Claude · " + model, Model: model},
		Client: client,
	}, nil
}

func providerLabels(regs []agent.ProviderRegistration) string {
	names := make([]string, 0, len(regs))
	for _, reg := range regs {
		names = append(names, reg.Option.Key)
	}
	return strings.Join(names, ", ")
}
