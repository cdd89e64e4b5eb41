package store

import (
	"context"
	"time"
)

// Message roles used in history channels.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of a history channel.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Summary marks a message produced by history summarization.
	Summary   bool      `json:"summary,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewMessage creates a message stamped with the current time.
func NewMessage(role, content string) Message {
	return Message{Role: role, Content: content, CreatedAt: time.Now().UTC()}
}

// ParticipantStore persists participant data across runs and sessions.
// Load returns an empty map when nothing has been stored yet.
type ParticipantStore interface {
	LoadParticipantData(ctx context.Context, participantID string) (map[string]any, error)
	SaveParticipantData(ctx context.Context, participantID string, data map[string]any) error
}

// SessionStore persists session-scoped state and session tags.
type SessionStore interface {
	LoadSessionState(ctx context.Context, sessionID string) (map[string]any, error)
	SaveSessionState(ctx context.Context, sessionID string, state map[string]any) error
	AddSessionTags(ctx context.Context, sessionID string, tags []string) error
	SessionTags(ctx context.Context, sessionID string) ([]string, error)
}

// HistoryStore persists named history channels per session. SaveHistory
// replaces the stored channel content.
type HistoryStore interface {
	LoadHistory(ctx context.Context, sessionID, channel string) ([]Message, error)
	SaveHistory(ctx context.Context, sessionID, channel string, messages []Message) error
}

// Store is the full persistence surface the engine needs.
type Store interface {
	ParticipantStore
	SessionStore
	HistoryStore
}
