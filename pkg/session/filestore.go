package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FileStore persists each session as <dir>/<session_id>.json. Access is
// serialized per session id so concurrent turns on the same session cannot
// interleave a read-modify-write.
type FileStore struct {
	dir string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve sessions dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sessions dir: %w", err)
	}
	slog.Info("Session store initialised", "dir", abs)
	return &FileStore{
		dir:   abs,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// path sanitizes the id to prevent directory traversal.
func (s *FileStore) path(sessionID string) string {
	return filepath.Join(s.dir, filepath.Base(sessionID)+".json")
}

func (s *FileStore) lockFor(sessionID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[sessionID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[sessionID] = lock
	}
	return lock
}

func (s *FileStore) Create() (*Memory, error) {
	memory := NewMemory(uuid.NewString())
	if err := s.Save(memory); err != nil {
		return nil, err
	}
	slog.Info("Created new session", "session_id", memory.SessionID)
	return memory, nil
}

func (s *FileStore) Load(sessionID string) (*Memory, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(s.path(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read session %s: %w", sessionID, err)
	}

	var memory Memory
	if err := json.Unmarshal(data, &memory); err != nil {
		return nil, fmt.Errorf("failed to decode session %s: %w", sessionID, err)
	}
	if memory.FullAnswers == nil {
		memory.FullAnswers = make(map[string]FullAnswer)
	}
	return &memory, nil
}

func (s *FileStore) Save(memory *Memory) error {
	if memory == nil || memory.SessionID == "" {
		return fmt.Errorf("cannot save session without id")
	}

	lock := s.lockFor(memory.SessionID)
	lock.Lock()
	defer lock.Unlock()

	memory.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(memory, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", memory.SessionID, err)
	}

	path := s.path(memory.SessionID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write session %s: %w", memory.SessionID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to persist session %s: %w", memory.SessionID, err)
	}
	return nil
}

func (s *FileStore) Delete(sessionID string) (bool, error) {
	lock := s.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	path := s.path(sessionID)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to delete session %s: %w", sessionID, err)
	}
	slog.Info("Deleted session", "session_id", sessionID)
	return true, nil
}

func (s *FileStore) Exists(sessionID string) bool {
	_, err := os.Stat(s.path(sessionID))
	return err == nil
}

// List returns the ids of all stored sessions, for the admin CLI.
func (s *FileStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions dir: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		ids = append(ids, entry.Name()[:len(entry.Name())-len(".json")])
	}
	return ids, nil
}
