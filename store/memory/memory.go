package memory

import (
	"context"
	"sync"

	"github.com/smallnest/chatpipe/store"
)

// MemoryStore implements store.Store with in-process maps. Values are deep
// copied on the way in and out so callers never alias stored state.
type MemoryStore struct {
	mu           sync.RWMutex
	participants map[string]map[string]any
	sessions     map[string]map[string]any
	sessionTags  map[string][]string
	history      map[historyKey][]store.Message
}

type historyKey struct {
	session string
	channel string
}

var _ store.Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		participants: make(map[string]map[string]any),
		sessions:     make(map[string]map[string]any),
		sessionTags:  make(map[string][]string),
		history:      make(map[historyKey][]store.Message),
	}
}

// LoadParticipantData returns a copy of the participant's data
func (m *MemoryStore) LoadParticipantData(_ context.Context, participantID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return store.CloneMap(m.participants[participantID]), nil
}

// SaveParticipantData replaces the participant's data
func (m *MemoryStore) SaveParticipantData(_ context.Context, participantID string, data map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.participants[participantID] = store.CloneMap(data)
	return nil
}

// LoadSessionState returns a copy of the session state
func (m *MemoryStore) LoadSessionState(_ context.Context, sessionID string) (map[string]any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return store.CloneMap(m.sessions[sessionID]), nil
}

// SaveSessionState replaces the session state
func (m *MemoryStore) SaveSessionState(_ context.Context, sessionID string, state map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[sessionID] = store.CloneMap(state)
	return nil
}

// AddSessionTags adds tags to the session, ignoring duplicates
func (m *MemoryStore) AddSessionTags(_ context.Context, sessionID string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessionTags[sessionID] = store.MergeTags(m.sessionTags[sessionID], tags...)
	return nil
}

// SessionTags returns the tags recorded for the session
func (m *MemoryStore) SessionTags(_ context.Context, sessionID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string{}, m.sessionTags[sessionID]...), nil
}

// LoadHistory returns a copy of the channel's messages
func (m *MemoryStore) LoadHistory(_ context.Context, sessionID, channel string) ([]store.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return store.CloneMessages(m.history[historyKey{sessionID, channel}]), nil
}

// SaveHistory replaces the channel's messages
func (m *MemoryStore) SaveHistory(_ context.Context, sessionID, channel string, messages []store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history[historyKey{sessionID, channel}] = store.CloneMessages(messages)
	return nil
}
