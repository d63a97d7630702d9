package state

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store, used for sandbox sessions and tests.
type MemoryStore struct {
	mu    sync.Mutex
	convs map[string]*Conversation
	saves int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{convs: make(map[string]*Conversation)}
}

func (s *MemoryStore) Save(conv *Conversation) error {
	if conv == nil {
		return fmt.Errorf("conversation is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convs[conv.id] = Restore(conv.id, conv.key, conv.messages, conv.createdAt, conv.updatedAt)
	s.saves++
	return nil
}

func (s *MemoryStore) Load(id string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	conv, ok := s.convs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Restore(conv.id, conv.key, conv.messages, conv.createdAt, conv.updatedAt), nil
}

func (s *MemoryStore) List() ([]Summary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Summary, 0, len(s.convs))
	for _, c := range s.convs {
		out = append(out, Summary{ID: c.id, Key: c.key, CreatedAt: c.createdAt, UpdatedAt: c.updatedAt, MessageCount: len(c.messages)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.convs[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.convs, id)
	return nil
}

// Saves reports how many times Save was called.
func (s *MemoryStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}
