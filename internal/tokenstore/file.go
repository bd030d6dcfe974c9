package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/edo-homes/portal/internal/model"
)

// FileStore persists the session as JSON in a single 0600 file.
type FileStore struct {
	path string

	mu sync.RWMutex
	st state
}

// OpenFileStore loads the session at path, starting empty if the file does
// not exist yet.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read token file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.st); err != nil {
		return nil, fmt.Errorf("failed to parse token file: %w", err)
	}
	return s, nil
}

// Path returns the file backing the store.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.AccessToken
}

func (s *FileStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.RefreshToken
}

func (s *FileStore) SetTokens(pair model.TokenPair) error {
	return s.update(func(st *state) {
		st.AccessToken = pair.Access
		st.RefreshToken = pair.Refresh
	})
}

func (s *FileStore) SetAccessToken(token string) error {
	return s.update(func(st *state) {
		st.AccessToken = token
	})
}

func (s *FileStore) User() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRaw(s.st.User)
}

func (s *FileStore) SetUser(user json.RawMessage) error {
	return s.update(func(st *state) {
		st.User = cloneRaw(user)
	})
}

// Clear empties the store and removes the file.
func (s *FileStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.st = state{}
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove token file: %w", err)
	}
	return nil
}

func (s *FileStore) update(fn func(*state)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.st
	fn(&next)
	if err := s.write(next); err != nil {
		return err
	}
	s.st = next
	return nil
}

// write replaces the file atomically so a crash never leaves half a session.
func (s *FileStore) write(st state) error {
	data, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("failed to create temp token file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod token file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close token file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}
	return nil
}

// DefaultDir returns ~/.config/edo/sessions.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "edo", "sessions"), nil
}
