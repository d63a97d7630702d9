package state

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrUnknownState is returned when operations reference an undefined key.
	ErrUnknownState = errors.New("unknown state")
	// ErrNotFound is returned by stores for a missing conversation id.
	ErrNotFound = errors.New("conversation not found")
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of a conversation. System messages are never stored in
// a Conversation; the anchor is prepended per request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered message history with persistence metadata. It is
// owned by a single turn at a time and is not safe for concurrent mutation.
type Conversation struct {
	id        string
	key       string
	messages  []Message
	createdAt time.Time
	updatedAt time.Time
}

// NewConversation creates an empty conversation with a fresh id.
func NewConversation(key string) *Conversation {
	now := time.Now()
	return &Conversation{
		id:        uuid.NewString(),
		key:       key,
		createdAt: now,
		updatedAt: now,
	}
}

// Restore rebuilds a conversation from stored fields.
func Restore(id, key string, messages []Message, createdAt, updatedAt time.Time) *Conversation {
	c := &Conversation{id: id, key: key, createdAt: createdAt, updatedAt: updatedAt}
	c.messages = make([]Message, 0, len(messages))
	for _, m := range messages {
		if m.Role == RoleSystem {
			continue
		}
		c.messages = append(c.messages, m)
	}
	if c.updatedAt.IsZero() {
		c.updatedAt = c.createdAt
	}
	return c
}

func (c *Conversation) ID() string  { return c.id }
func (c *Conversation) Key() string { return c.key }

// Messages returns a copy of the history.
func (c *Conversation) Messages() []Message {
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len reports the number of stored messages.
func (c *Conversation) Len() int {
	return len(c.messages)
}

// Last returns the most recent message.
func (c *Conversation) Last() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	return c.messages[len(c.messages)-1], true
}

// Append adds a message. System messages are ignored.
func (c *Conversation) Append(msg Message) {
	if msg.Role == RoleSystem {
		return
	}
	c.messages = append(c.messages, msg)
	c.touch()
}

// RemoveLast drops the most recent message and returns it.
func (c *Conversation) RemoveLast() (Message, bool) {
	if len(c.messages) == 0 {
		return Message{}, false
	}
	last := c.messages[len(c.messages)-1]
	c.messages = c.messages[:len(c.messages)-1]
	c.touch()
	return last, true
}

// Clear removes all history.
func (c *Conversation) Clear() {
	c.messages = c.messages[:0]
	c.touch()
}

// CreatedAt returns when the conversation was created.
func (c *Conversation) CreatedAt() time.Time {
	return c.createdAt
}

// UpdatedAt returns when the conversation last changed.
func (c *Conversation) UpdatedAt() time.Time {
	return c.updatedAt
}

func (c *Conversation) touch() {
	now := time.Now()
	if c.createdAt.IsZero() {
		c.createdAt = now
	}
	c.updatedAt = now
}

// Summary captures metadata about a stored conversation without exposing message content.
type Summary struct {
	ID           string    `json:"id"`
	Key          string    `json:"key"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}

// Store persists conversations.
type Store interface {
	Save(conv *Conversation) error
	Load(id string) (*Conversation, error)
	List() ([]Summary, error)
	Delete(id string) error
}
