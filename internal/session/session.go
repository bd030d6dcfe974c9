// Package session keeps one backend session per signed-in browser. The
// browser holds an opaque id in an HttpOnly cookie; the backend tokens,
// the API client and the aggregated inbox stay on the server.
package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/service"
	"github.com/edo-homes/portal/internal/tokenstore"
	"github.com/edo-homes/portal/pkg/logger"
	"github.com/edo-homes/portal/pkg/metrics"
)

const (
	// CookieName is the cookie carrying the session id.
	CookieName = "edo_session"

	// DefaultTTL is how long an idle session is kept.
	DefaultTTL = 24 * time.Hour
)

// Session is one browser's connection to the backend.
type Session struct {
	ID     string
	Store  tokenstore.Store
	Client *apiclient.Client
	Inbox  *service.InboxService

	lastSeen time.Time
}

// Config configures a Manager.
type Config struct {
	// BaseURL is the backend REST API root.
	BaseURL string
	// Dir keeps each session's tokens in <Dir>/<id>.json so sessions
	// survive a restart. Empty keeps them in memory.
	Dir string
	// TTL is the idle lifetime of a session and the cookie max age.
	TTL time.Duration
	// Secure marks the cookie HTTPS only.
	Secure bool
	// Publisher receives inbox events of every session. May be nil.
	Publisher service.EventPublisher
	// ClientOptions are applied to every session's API client after the
	// manager's own options.
	ClientOptions []apiclient.Option
	Logger        *logger.Logger
}

// Manager creates, finds and expires sessions.
type Manager struct {
	cfg    Config
	logger *logger.Logger
	now    func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates a session manager.
func NewManager(cfg Config) *Manager {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Global()
	}
	return &Manager{
		cfg:      cfg,
		logger:   cfg.Logger.Named("session"),
		now:      time.Now,
		sessions: make(map[string]*Session),
	}
}

// New prepares a session under a fresh random id. It is not reachable
// until Add registers it, which callers do once sign-in succeeded.
func (m *Manager) New() (*Session, error) {
	return m.open(uuid.NewString())
}

// Add registers s.
func (m *Manager) Add(s *Session) {
	m.mu.Lock()
	s.lastSeen = m.now()
	m.sessions[s.ID] = s
	n := len(m.sessions)
	m.mu.Unlock()

	metrics.SessionsActive.Set(float64(n))
}

// Get returns the live session with id and marks it used. With a session
// directory configured, a session unknown to this process is restored
// from disk.
func (m *Manager) Get(id string) (*Session, bool) {
	if !validID(id) {
		return nil, false
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok && m.now().Sub(s.lastSeen) > m.cfg.TTL {
		delete(m.sessions, id)
		m.mu.Unlock()
		m.discard(s)
		return nil, false
	}
	if ok {
		s.lastSeen = m.now()
		m.mu.Unlock()
		return s, true
	}
	m.mu.Unlock()

	return m.restore(id)
}

// Remove signs a session out and forgets it.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()

	if ok {
		m.discard(s)
	}
	metrics.SessionsActive.Set(float64(n))
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep drops sessions idle for longer than the TTL, including stale
// session files, and returns how many in-memory sessions it dropped.
func (m *Manager) Sweep() int {
	now := m.now()

	m.mu.Lock()
	var stale []*Session
	for id, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.cfg.TTL {
			stale = append(stale, s)
			delete(m.sessions, id)
		}
	}
	n := len(m.sessions)
	m.mu.Unlock()

	for _, s := range stale {
		m.discard(s)
	}
	m.sweepFiles(now)
	metrics.SessionsActive.Set(float64(n))

	if len(stale) > 0 {
		m.logger.Info("expired idle sessions", zap.Int("expired", len(stale)), zap.Int("active", n))
	}
	return len(stale)
}

// RunJanitor sweeps every interval until ctx is done.
func (m *Manager) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// FromRequest returns the session named by the request cookie.
func (m *Manager) FromRequest(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil {
		return nil, false
	}
	return m.Get(c.Value)
}

// SetCookie hands the session id to the browser.
func (m *Manager) SetCookie(w http.ResponseWriter, s *Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		MaxAge:   int(m.cfg.TTL.Seconds()),
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie removes the session cookie from the browser.
func (m *Manager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) open(id string) (*Session, error) {
	store, err := m.openStore(id)
	if err != nil {
		return nil, err
	}

	opts := append([]apiclient.Option{
		apiclient.WithLogger(m.cfg.Logger),
		apiclient.WithSessionExpiredHandler(func(context.Context) {
			m.Remove(id)
		}),
	}, m.cfg.ClientOptions...)

	client := apiclient.New(m.cfg.BaseURL, store, opts...)
	return &Session{
		ID:     id,
		Store:  store,
		Client: client,
		Inbox:  service.NewInboxService(client, m.cfg.Publisher, m.cfg.Logger),
	}, nil
}

func (m *Manager) openStore(id string) (tokenstore.Store, error) {
	if m.cfg.Dir == "" {
		return tokenstore.NewMemoryStore(), nil
	}
	store, err := tokenstore.OpenFileStore(m.path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to open session %s: %w", id, err)
	}
	return store, nil
}

func (m *Manager) restore(id string) (*Session, bool) {
	if m.cfg.Dir == "" {
		return nil, false
	}
	info, err := os.Stat(m.path(id))
	if err != nil || m.now().Sub(info.ModTime()) > m.cfg.TTL {
		return nil, false
	}

	s, err := m.open(id)
	if err != nil {
		m.logger.Warn("failed to restore session", zap.Error(err))
		return nil, false
	}
	if s.Store.AccessToken() == "" {
		return nil, false
	}

	m.mu.Lock()
	if existing, ok := m.sessions[id]; ok {
		existing.lastSeen = m.now()
		m.mu.Unlock()
		return existing, true
	}
	m.mu.Unlock()

	m.Add(s)
	m.logger.Debug("session restored from disk")
	return s, true
}

// discard clears the credentials and the cached inbox of a session that is
// no longer reachable.
func (m *Manager) discard(s *Session) {
	if err := s.Store.Clear(); err != nil {
		m.logger.Error("failed to clear session store", zap.Error(err))
	}
	s.Inbox.Reset()
}

func (m *Manager) sweepFiles(now time.Time) {
	if m.cfg.Dir == "" {
		return
	}
	entries, err := os.ReadDir(m.cfg.Dir)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to list session directory", zap.Error(err))
		}
		return
	}
	for _, e := range entries {
		id, ok := strings.CutSuffix(e.Name(), ".json")
		if !ok || !validID(id) {
			continue
		}
		m.mu.Lock()
		_, live := m.sessions[id]
		m.mu.Unlock()
		if live {
			continue
		}
		info, err := e.Info()
		if err != nil || now.Sub(info.ModTime()) <= m.cfg.TTL {
			continue
		}
		if err := os.Remove(filepath.Join(m.cfg.Dir, e.Name())); err != nil && !errors.Is(err, os.ErrNotExist) {
			m.logger.Warn("failed to remove stale session file", zap.Error(err))
		}
	}
}

func (m *Manager) path(id string) string {
	return filepath.Join(m.cfg.Dir, id+".json")
}

// validID accepts canonical UUIDs only, which also keeps ids usable as
// file names.
func validID(id string) bool {
	u, err := uuid.Parse(id)
	return err == nil && u.String() == id
}

type contextKey struct{}

// NewContext returns a context carrying s.
func NewContext(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, contextKey{}, s)
}

// FromContext returns the session stored by NewContext.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(contextKey{}).(*Session)
	return s, ok && s != nil
}
