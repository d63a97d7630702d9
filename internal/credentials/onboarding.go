package credentials

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
)

type providerInfo struct {
	key     string
	label   string
	keysURL string
}

var setupProviders = []providerInfo{
	{"openrouter", "OpenRouter  - Claude, GPT, DeepSeek and more", "https://openrouter.ai/keys"},
	{"zai", "Z.AI        - GLM models with reasoning", "https://z.ai"},
	{"openai", "OpenAI      - GPT models", "https://platform.openai.com/api-keys"},
	{"anthropic", "Anthropic   - Claude models", "https://console.anthropic.com/settings/keys"},
}

// Wizard runs the interactive credential setup over arbitrary streams.
type Wizard struct {
	manager *Manager
	in      *bufio.Reader
	out     io.Writer
}

// NewWizard returns a wizard reading answers from in.
func NewWizard(manager *Manager, in io.Reader, out io.Writer) *Wizard {
	return &Wizard{manager: manager, in: bufio.NewReader(in), out: out}
}

// Onboard runs the first-time setup: choose a provider and store its key.
func (w *Wizard) Onboard() (*Credentials, error) {
	w.println()
	w.println("═══════════════════════════════════════════════════════════")
	w.println("  Welcome to shellsage! Let's get you set up.")
	w.println("═══════════════════════════════════════════════════════════")
	w.println()

	creds, err := w.manager.Load()
	if err != nil {
		return nil, err
	}
	info, err := w.chooseProvider()
	if err != nil {
		return nil, err
	}
	apiKey, err := w.readAPIKey(info)
	if err != nil {
		return nil, err
	}
	creds.DefaultProvider = info.key
	creds.SetProvider(info.key, apiKey)
	if err := w.manager.Save(creds); err != nil {
		return nil, fmt.Errorf("save credentials: %w", err)
	}

	w.println()
	w.println("✓ API key saved to:", w.manager.Path())
	w.println("✓", strings.ToUpper(info.key), "set as default provider")
	w.println()
	return creds, nil
}

// Menu shows the credential management loop used by -setup.
func (w *Wizard) Menu() error {
	creds, err := w.manager.Load()
	if err != nil {
		return err
	}
	for {
		w.println()
		w.println("shellsage setup")
		w.println()
		if creds.DefaultProvider != "" {
			w.println("  Default provider:", strings.ToUpper(creds.DefaultProvider))
		} else {
			w.println("  Default provider: (not set)")
		}
		configured := creds.ListProviders()
		if len(configured) == 0 {
			w.println("  Configured providers: (none)")
		} else {
			w.println("  Configured providers:", strings.Join(configured, ", "))
		}
		w.println()
		w.println("  1) Add/update provider API key")
		w.println("  2) Change default provider")
		w.println("  3) Remove provider")
		w.println("  4) Exit")
		w.println()

		choice, eof := w.promptWithDefault("Choice", "4")
		if eof {
			return nil
		}
		switch choice {
		case "1":
			err = w.addProvider(creds)
		case "2":
			err = w.changeDefault(creds)
		case "3":
			err = w.removeProvider(creds)
		case "4", "exit", "quit", "q":
			return nil
		default:
			err = fmt.Errorf("invalid choice %q", choice)
		}
		if err != nil {
			w.println("❌ Error:", err)
		}
	}
}

func (w *Wizard) chooseProvider() (providerInfo, error) {
	w.println("Which AI provider would you like to use?")
	w.println()
	for i, p := range setupProviders {
		fmt.Fprintf(w.out, "  %d) %s\n", i+1, p.label)
	}
	w.println()
	choice, _ := w.promptWithDefault("Choice", "1")
	info, ok := lookupProvider(choice)
	if !ok {
		return providerInfo{}, fmt.Errorf("invalid choice: %s", choice)
	}
	w.println()
	w.println("Get an API key at:", info.keysURL)
	w.println()
	return info, nil
}

func lookupProvider(choice string) (providerInfo, bool) {
	choice = strings.ToLower(strings.TrimSpace(choice))
	for i, p := range setupProviders {
		if choice == fmt.Sprint(i+1) || choice == p.key {
			return p, true
		}
	}
	return providerInfo{}, false
}

func (w *Wizard) readAPIKey(info providerInfo) (string, error) {
	for attempt := 0; attempt < 3; attempt++ {
		key, eof := w.prompt(fmt.Sprintf("Enter your %s API key", strings.ToUpper(info.key)))
		if key != "" {
			return key, nil
		}
		if eof {
			break
		}
		w.println("❌ API key cannot be empty. Please try again.")
	}
	return "", fmt.Errorf("no API key entered for %s", info.key)
}

func (w *Wizard) addProvider(creds *Credentials) error {
	info, err := w.chooseProvider()
	if err != nil {
		return err
	}
	key, err := w.readAPIKey(info)
	if err != nil {
		return err
	}
	creds.SetProvider(info.key, key)
	if creds.DefaultProvider == "" {
		creds.DefaultProvider = info.key
	}
	if err := w.manager.Save(creds); err != nil {
		return err
	}
	w.println("✓ API key saved for", strings.ToUpper(info.key))
	return nil
}

func (w *Wizard) changeDefault(creds *Credentials) error {
	providers := creds.ListProviders()
	if len(providers) == 0 {
		return fmt.Errorf("no providers configured, add one first")
	}
	idx, err := w.pick("Available providers:", providers, creds.DefaultProvider)
	if err != nil {
		return err
	}
	creds.DefaultProvider = providers[idx]
	if err := w.manager.Save(creds); err != nil {
		return err
	}
	w.println("✓ Default provider set to", strings.ToUpper(creds.DefaultProvider))
	return nil
}

func (w *Wizard) removeProvider(creds *Credentials) error {
	var stored []string
	for name, p := range creds.Providers {
		if p.APIKey != "" {
			stored = append(stored, name)
		}
	}
	if len(stored) == 0 {
		return fmt.Errorf("no stored keys")
	}
	sort.Strings(stored)
	idx, err := w.pick("Which provider to remove?", stored, "")
	if err != nil {
		return err
	}
	name := stored[idx]
	creds.RemoveProvider(name)
	if creds.DefaultProvider == name {
		creds.DefaultProvider = ""
		if remaining := creds.ListProviders(); len(remaining) > 0 {
			creds.DefaultProvider = remaining[0]
		}
	}
	if err := w.manager.Save(creds); err != nil {
		return err
	}
	w.println("✓ Removed", strings.ToUpper(name))
	return nil
}

func (w *Wizard) pick(title string, names []string, current string) (int, error) {
	w.println()
	w.println(title)
	for i, name := range names {
		marker := ""
		if name == current {
			marker = " (current)"
		}
		fmt.Fprintf(w.out, "  %d) %s%s\n", i+1, strings.ToUpper(name), marker)
	}
	choice, _ := w.prompt("Choice")
	idx := 0
	fmt.Sscanf(choice, "%d", &idx)
	idx--
	if idx < 0 || idx >= len(names) {
		return 0, fmt.Errorf("invalid choice")
	}
	return idx, nil
}

func (w *Wizard) prompt(msg string) (string, bool) {
	fmt.Fprintf(w.out, "%s: ", msg)
	line, err := w.in.ReadString('\n')
	return strings.TrimSpace(line), err != nil
}

func (w *Wizard) promptWithDefault(msg, defaultValue string) (string, bool) {
	fmt.Fprintf(w.out, "%s [%s]: ", msg, defaultValue)
	line, err := w.in.ReadString('\n')
	line = strings.TrimSpace(line)
	if line == "" {
		return defaultValue, err != nil
	}
	return line, false
}

func (w *Wizard) println(args ...any) {
	fmt.Fprintln(w.out, args...)
}
