package state

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"shellsage/internal/logging"
)

// Manager orchestrates multiple named conversations backed by a Store.
type Manager struct {
	mu         sync.RWMutex
	states     map[string]*Conversation
	currentKey string
	store      Store
	logger     *logging.Logger
}

// NewManager loads every stored conversation and selects the most recent.
func NewManager(store Store, logger *logging.Logger) (*Manager, error) {
	if store == nil {
		store = NewMemoryStore()
	}
	mgr := &Manager{
		states: make(map[string]*Conversation),
		store:  store,
		logger: logger.With("state"),
	}
	if err := mgr.loadExisting(); err != nil {
		return nil, err
	}
	return mgr, nil
}

func (m *Manager) loadExisting() error {
	summaries, err := m.store.List()
	if err != nil {
		return fmt.Errorf("list stored conversations: %w", err)
	}
	for _, sum := range summaries {
		conv, err := m.store.Load(sum.ID)
		if err != nil {
			m.logger.Warn("skip conversation %s: %v", sum.Key, err)
			continue
		}
		m.states[conv.key] = conv
		if m.currentKey == "" {
			// summaries are newest first
			m.currentKey = conv.key
		}
	}
	if len(m.states) > 0 {
		m.logger.Info("loaded %d stored conversations", len(m.states))
	}
	return nil
}

// EnsureState fetches or creates a conversation for key and makes it current.
// An empty key generates the next chat-N name.
func (m *Manager) EnsureState(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key = strings.TrimSpace(key)
	if key == "" {
		key = m.nextNameLocked()
	}
	if conv, ok := m.states[key]; ok {
		m.currentKey = key
		return conv, nil
	}
	return m.createLocked(key)
}

// NewState creates a fresh conversation and errors if the key exists.
func (m *Manager) NewState(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key = strings.TrimSpace(key)
	if key == "" {
		key = m.nextNameLocked()
	}
	if _, exists := m.states[key]; exists {
		return nil, fmt.Errorf("state %s already exists", key)
	}
	return m.createLocked(key)
}

func (m *Manager) createLocked(key string) (*Conversation, error) {
	conv := NewConversation(key)
	if err := m.store.Save(conv); err != nil {
		return nil, fmt.Errorf("persist new state %s: %w", key, err)
	}
	m.states[key] = conv
	m.currentKey = key
	return conv, nil
}

// Use switches to an existing conversation.
func (m *Manager) Use(key string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.states[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	m.currentKey = key
	return conv, nil
}

// Delete removes a conversation from memory and the store.
func (m *Manager) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.states[key]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, key)
	}
	if err := m.store.Delete(conv.id); err != nil {
		return fmt.Errorf("delete state %s: %w", key, err)
	}
	delete(m.states, key)
	if m.currentKey == key {
		m.currentKey = ""
	}
	return nil
}

// Current returns the active conversation, creating one if needed.
func (m *Manager) Current() *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conv, ok := m.states[m.currentKey]; ok && m.currentKey != "" {
		return conv
	}
	key := m.currentKey
	if key == "" {
		key = m.nextNameLocked()
	}
	conv, err := m.createLocked(key)
	if err != nil {
		m.logger.Error("create conversation: %v", err)
		conv = NewConversation(key)
		m.states[key] = conv
		m.currentKey = key
	}
	return conv
}

// CurrentKey reveals which conversation is active.
func (m *Manager) CurrentKey() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.currentKey
}

// ListKeys returns the known conversation identifiers.
func (m *Manager) ListKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.states))
	for k := range m.states {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Summaries returns details for each known conversation, newest first.
func (m *Manager) Summaries() []Summary {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Summary, 0, len(m.states))
	for key, conv := range m.states {
		out = append(out, Summary{
			ID:           conv.id,
			Key:          key,
			CreatedAt:    conv.createdAt,
			UpdatedAt:    conv.updatedAt,
			MessageCount: len(conv.messages),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}

// ClearCurrent wipes the active conversation history.
func (m *Manager) ClearCurrent() error {
	conv := m.Current()
	conv.Clear()
	return m.Save(conv)
}

// Save writes conv to the store.
func (m *Manager) Save(conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	m.mu.RLock()
	_, ok := m.states[conv.key]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownState, conv.key)
	}
	return m.store.Save(conv)
}

// nextNameLocked returns the next free chat-N name. Caller holds m.mu.
func (m *Manager) nextNameLocked() string {
	maxNum := 0
	for key := range m.states {
		var num int
		if _, err := fmt.Sscanf(key, "chat-%d", &num); err == nil && num > maxNum {
			maxNum = num
		}
	}
	return fmt.Sprintf("chat-%d", maxNum+1)
}
