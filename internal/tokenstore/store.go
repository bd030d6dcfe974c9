// Package tokenstore keeps the session credentials of the portal.
package tokenstore

import (
	"encoding/json"
	"sync"

	"github.com/edo-homes/portal/internal/model"
)

// Store holds one access token, one refresh token and the cached user.
type Store interface {
	AccessToken() string
	RefreshToken() string
	// SetTokens replaces both tokens, as on login or register.
	SetTokens(pair model.TokenPair) error
	// SetAccessToken replaces the access token in place after a refresh.
	SetAccessToken(token string) error
	User() json.RawMessage
	SetUser(user json.RawMessage) error
	// Clear drops every credential and the cached user.
	Clear() error
}

// state is the persisted shape, keyed like the dashboard's local storage.
type state struct {
	AccessToken  string          `json:"access_token,omitempty"`
	RefreshToken string          `json:"refresh_token,omitempty"`
	User         json.RawMessage `json:"user,omitempty"`
}

// MemoryStore is a Store that lives for the process lifetime.
type MemoryStore struct {
	mu sync.RWMutex
	st state
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.AccessToken
}

func (s *MemoryStore) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.RefreshToken
}

func (s *MemoryStore) SetTokens(pair model.TokenPair) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.AccessToken = pair.Access
	s.st.RefreshToken = pair.Refresh
	return nil
}

func (s *MemoryStore) SetAccessToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.AccessToken = token
	return nil
}

func (s *MemoryStore) User() json.RawMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneRaw(s.st.User)
}

func (s *MemoryStore) SetUser(user json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.User = cloneRaw(user)
	return nil
}

func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st = state{}
	return nil
}

// NoopStore never holds credentials. Non-interactive processes use it so
// requests go out anonymously.
type NoopStore struct{}

func (NoopStore) AccessToken() string { return "" }
func (NoopStore) RefreshToken() string { return "" }
func (NoopStore) SetTokens(model.TokenPair) error { return nil }
func (NoopStore) SetAccessToken(string) error { return nil }
func (NoopStore) User() json.RawMessage { return nil }
func (NoopStore) SetUser(json.RawMessage) error { return nil }
func (NoopStore) Clear() error { return nil }

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
