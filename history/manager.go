package history

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/smallnest/chatpipe/log"
	"github.com/smallnest/chatpipe/store"
)

// Manager holds the history channels touched by one run. Channels are loaded
// lazily from the store and written back by Flush.
type Manager struct {
	mu        sync.Mutex
	sessionID string
	store     store.HistoryStore
	compactor Compactor
	channels  map[string]*channel
}

type channel struct {
	messages []Message
	dirty    bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithTokenCounter sets the counter used for token budgets.
func WithTokenCounter(counter TokenCounter) Option {
	return func(m *Manager) { m.compactor.Counter = counter }
}

// WithSummarizer sets the summarizer used by the summarize policy.
func WithSummarizer(s Summarizer) Option {
	return func(m *Manager) { m.compactor.Summarizer = s }
}

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(m *Manager) { m.compactor.Logger = logger }
}

// WithPriorHistory seeds a channel instead of loading it from the store.
func WithPriorHistory(name string, msgs []Message) Option {
	return func(m *Manager) {
		if name == "" {
			name = DefaultChannel
		}
		m.channels[name] = &channel{messages: store.CloneMessages(msgs)}
	}
}

// NewManager creates a Manager for sessionID. st may be nil, in which case
// channels start empty and Flush is a no-op.
func NewManager(sessionID string, st store.HistoryStore, opts ...Option) *Manager {
	m := &Manager{
		sessionID: sessionID,
		store:     st,
		channels:  make(map[string]*channel),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) load(ctx context.Context, name string) (*channel, error) {
	if name == "" {
		name = DefaultChannel
	}
	if ch, ok := m.channels[name]; ok {
		return ch, nil
	}
	ch := &channel{}
	if m.store != nil {
		msgs, err := m.store.LoadHistory(ctx, m.sessionID, name)
		if err != nil {
			return nil, fmt.Errorf("failed to load history channel %q: %w", name, err)
		}
		ch.messages = msgs
	}
	m.channels[name] = ch
	return ch, nil
}

// Messages returns a copy of the channel content.
func (m *Manager) Messages(ctx context.Context, name string) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.load(ctx, name)
	if err != nil {
		return nil, err
	}
	return store.CloneMessages(ch.messages), nil
}

// Append adds messages to the end of a channel.
func (m *Manager) Append(ctx context.Context, name string, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.load(ctx, name)
	if err != nil {
		return err
	}
	ch.messages = append(ch.messages, store.CloneMessages(msgs)...)
	ch.dirty = true
	return nil
}

// Compact applies cfg to its channel, stores the result and returns a copy.
func (m *Manager) Compact(ctx context.Context, cfg ChannelConfig) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, err := m.load(ctx, cfg.Name())
	if err != nil {
		return nil, err
	}
	out, err := m.compactor.Compact(ctx, ch.messages, cfg)
	if err != nil {
		return nil, err
	}
	if !equalMessages(ch.messages, out) {
		ch.messages = out
		ch.dirty = true
	}
	return store.CloneMessages(out), nil
}

// Channels returns the names of all loaded channels, sorted.
func (m *Manager) Channels() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.channels))
	for name := range m.channels {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Flush writes every modified channel to the store.
func (m *Manager) Flush(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.store == nil {
		return nil
	}
	names := make([]string, 0, len(m.channels))
	for name, ch := range m.channels {
		if ch.dirty {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	for _, name := range names {
		ch := m.channels[name]
		if err := m.store.SaveHistory(ctx, m.sessionID, name, ch.messages); err != nil {
			return fmt.Errorf("failed to save history channel %q: %w", name, err)
		}
		ch.dirty = false
	}
	return nil
}

func equalMessages(a, b []Message) bool {
	return slices.EqualFunc(a, b, func(x, y Message) bool {
		return x.Role == y.Role && x.Content == y.Content && x.Summary == y.Summary
	})
}
