package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store for tests.
type MemStore struct {
	mu       sync.Mutex
	sessions map[string]*Memory

	// SaveErr makes Save fail, to exercise persistence-failure paths.
	SaveErr error
	// Saves counts successful Save calls.
	Saves int
}

func NewMemStore() *MemStore {
	return &MemStore{sessions: make(map[string]*Memory)}
}

func (s *MemStore) Create() (*Memory, error) {
	memory := NewMemory(uuid.NewString())
	if err := s.Save(memory); err != nil {
		return nil, err
	}
	return memory, nil
}

func (s *MemStore) Load(sessionID string) (*Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	memory, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return memory.Clone(), nil
}

func (s *MemStore) Save(memory *Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	memory.UpdatedAt = time.Now().UTC()
	s.sessions[memory.SessionID] = memory.Clone()
	s.Saves++
	return nil
}

func (s *MemStore) Delete(sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return false, nil
	}
	delete(s.sessions, sessionID)
	return true, nil
}

func (s *MemStore) Exists(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[sessionID]
	return ok
}
