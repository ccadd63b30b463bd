package memory

import (
	"context"
	"errors"
	"time"
)

// Role tags who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Valid reports whether r may be stored as a conversation message.
// System entries are synthesized at context time and never stored.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Known message type tags. Callers may use any other tag.
const (
	MessageTypeText  = "text"
	MessageTypeVoice = "voice"
	MessageTypeImage = "image"
)

var ErrNotFound = errors.New("user memory not found")

// ChatMessage stores a single user or assistant turn.
type ChatMessage struct {
	ID          string    `json:"id,omitempty"`
	Role        Role      `json:"role"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
	MessageType string    `json:"message_type"`
}

// UserMemory is the full durable record kept for one user.
type UserMemory struct {
	UserID          string            `json:"user_id"`
	Messages        []ChatMessage     `json:"messages"`
	Preferences     map[string]string `json:"preferences"`
	LastInteraction time.Time         `json:"last_interaction"`
	TotalMessages   int               `json:"total_messages"`
}

// ContextMessage is the role/content pair handed to a language model.
type ContextMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Stats summarizes a user's retained history.
type Stats struct {
	UserID                 string            `json:"user_id"`
	TotalMessages          int               `json:"total_messages"`
	CurrentSessionMessages int               `json:"current_session_messages"`
	VoiceMessages          int               `json:"voice_messages"`
	TextMessages           int               `json:"text_messages"`
	UserMessages           int               `json:"user_messages"`
	AssistantMessages      int               `json:"assistant_messages"`
	LastInteraction        time.Time         `json:"last_interaction"`
	Preferences            map[string]string `json:"preferences"`
}

// Backend persists user memory records.
// Implementations must be safe for concurrent use.
type Backend interface {
	// Save overwrites the stored record for m.UserID. Readers never observe
	// a partially written record.
	Save(ctx context.Context, m UserMemory) error

	// Load returns the stored record, or ErrNotFound if none exists.
	Load(ctx context.Context, userID string) (UserMemory, error)

	// Delete removes the stored record. Deleting an absent record is not an error.
	Delete(ctx context.Context, userID string) error

	// ListUsers returns the ids of every stored record.
	ListUsers(ctx context.Context) ([]string, error)

	Close() error
}

func newUserMemory(userID string, now time.Time) *UserMemory {
	return &UserMemory{
		UserID:          userID,
		Messages:        []ChatMessage{},
		Preferences:     map[string]string{},
		LastInteraction: now,
	}
}

// Clone returns a deep copy of m.
func (m UserMemory) Clone() UserMemory {
	c := m
	c.Messages = make([]ChatMessage, len(m.Messages))
	copy(c.Messages, m.Messages)
	c.Preferences = make(map[string]string, len(m.Preferences))
	for k, v := range m.Preferences {
		c.Preferences[k] = v
	}
	return c
}

// trim drops the oldest messages until at most max remain.
func (m *UserMemory) trim(max int) {
	if max <= 0 {
		return
	}
	if over := len(m.Messages) - max; over > 0 {
		kept := make([]ChatMessage, max)
		copy(kept, m.Messages[over:])
		m.Messages = kept
	}
}

// normalize fills nil collections left by decoders.
func (m *UserMemory) normalize() {
	if m.Messages == nil {
		m.Messages = []ChatMessage{}
	}
	if m.Preferences == nil {
		m.Preferences = map[string]string{}
	}
}
