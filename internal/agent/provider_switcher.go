package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"shellsage/internal/llm"
)

// ProviderOption describes a selectable provider/model combination.
type ProviderOption struct {
	Key   string
	Label string
	Model string
}

// ProviderRegistration wires a client implementation with its metadata.
type ProviderRegistration struct {
	Option ProviderOption
	Client llm.Client
}

// ProviderSwitcher switches between providers at runtime.
type ProviderSwitcher interface {
	ActiveProvider() ProviderOption
	ProviderOptions() []ProviderOption
	SetActiveProvider(key string) error
}

type multiProviderClient struct {
	mu        sync.RWMutex
	activeKey string
	entries   map[string]ProviderRegistration
}

// NewMultiProviderClient builds a client that forwards to the active registration.
// An unknown defaultKey selects the first registration in key order.
func NewMultiProviderClient(defaultKey string, regs []ProviderRegistration) (llm.Client, error) {
	if len(regs) == 0 {
		return nil, fmt.Errorf("no provider registrations supplied")
	}
	entries := make(map[string]ProviderRegistration, len(regs))
	keys := make([]string, 0, len(regs))
	for _, reg := range regs {
		key := strings.TrimSpace(reg.Option.Key)
		if key == "" {
			return nil, fmt.Errorf("provider registration missing key")
		}
		if reg.Client == nil {
			return nil, fmt.Errorf("provider %s missing client", key)
		}
		if reg.Option.Label == "" {
			reg.Option.Label = key
		}
		reg.Option.Key = key
		entries[key] = reg
		keys = append(keys, key)
	}
	active := strings.TrimSpace(defaultKey)
	if _, ok := entries[active]; !ok {
		sort.Strings(keys)
		active = keys[0]
	}
	return &multiProviderClient{activeKey: active, entries: entries}, nil
}

func (m *multiProviderClient) Stream(ctx context.Context, req llm.ChatRequest) (<-chan llm.StreamEvent, error) {
	m.mu.RLock()
	entry, ok := m.entries[m.activeKey]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("active provider %q unavailable", m.activeKey)
	}
	if entry.Option.Model != "" {
		req.Model = entry.Option.Model
	}
	return entry.Client.Stream(ctx, req)
}

func (m *multiProviderClient) ActiveProvider() ProviderOption {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.entries[m.activeKey].Option
}

func (m *multiProviderClient) ProviderOptions() []ProviderOption {
	m.mu.RLock()
	defer m.mu.RUnlock()
	opts := make([]ProviderOption, 0, len(m.entries))
	for _, entry := range m.entries {
		opts = append(opts, entry.Option)
	}
	sort.Slice(opts, func(i, j int) bool {
		return opts[i].Key < opts[j].Key
	})
	return opts
}

func (m *multiProviderClient) SetActiveProvider(key string) error {
	key = strings.TrimSpace(key)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; !ok {
		return fmt.Errorf("provider %q not available", key)
	}
	m.activeKey = key
	return nil
}
