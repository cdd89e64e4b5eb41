package task

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTaskNotFound is returned for unknown or expired task ids.
var ErrTaskNotFound = errors.New("task not found")

// Store persists task statuses so that any process can answer polls.
type Store interface {
	SaveTask(ctx context.Context, status *Status) error
	LoadTask(ctx context.Context, id string) (*Status, error)
	DeleteTask(ctx context.Context, id string) error
}

// MemoryStore keeps task statuses in process memory. Completed tasks are
// dropped after the retention period.
type MemoryStore struct {
	mu        sync.RWMutex
	tasks     map[string]*Status
	retention time.Duration
	now       func() time.Time
}

// NewMemoryStore creates a store. A zero retention keeps tasks forever.
func NewMemoryStore(retention time.Duration) *MemoryStore {
	return &MemoryStore{
		tasks:     make(map[string]*Status),
		retention: retention,
		now:       time.Now,
	}
}

// SaveTask stores a copy of status.
func (s *MemoryStore) SaveTask(_ context.Context, status *Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[status.ID] = status.Clone()
	s.evict()
	return nil
}

// LoadTask returns a copy of the stored status.
func (s *MemoryStore) LoadTask(_ context.Context, id string) (*Status, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.tasks[id]
	if !ok || s.expired(st) {
		return nil, ErrTaskNotFound
	}
	return st.Clone(), nil
}

// DeleteTask removes a task.
func (s *MemoryStore) DeleteTask(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
	return nil
}

func (s *MemoryStore) expired(st *Status) bool {
	return s.retention > 0 && st.Complete && s.now().Sub(st.UpdatedAt) > s.retention
}

// evict must be called with the write lock held.
func (s *MemoryStore) evict() {
	for id, st := range s.tasks {
		if s.expired(st) {
			delete(s.tasks, id)
		}
	}
}
