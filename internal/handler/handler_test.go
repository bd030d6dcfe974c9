package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/internal/session"
	"github.com/edo-homes/portal/internal/tokenstore"
	"github.com/edo-homes/portal/pkg/logger"
)

const landlordID = 99

func accessToken(t *testing.T, userID int64) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":    userID,
		"token_type": "access",
	})
	s, err := tok.SignedString([]byte("backend-key"))
	require.NoError(t, err)
	return s
}

// fakeBackend serves the subset of the REST API the portal calls.
type fakeBackend struct {
	t *testing.T

	mu       sync.Mutex
	messages []model.ChatMessage
	tenants  []model.Tenant
	sent     []model.SendMessageRequest
	patched  []int64
	deleted  []int64

	expired     bool
	tenantsFail bool
	delay       time.Duration
}

func newFakeBackend(t *testing.T) *fakeBackend {
	return &fakeBackend{
		t: t,
		tenants: []model.Tenant{
			{ID: 1, User: 11, FirstName: "Ann", LastName: "Lee", Email: "ann@example.com",
				Unit: &model.TenantUnit{ID: 100, UnitID: "1A", Property: &model.PropertyRef{ID: 50, Name: "Maple Court"}}},
			{ID: 2, User: 12, FirstName: "Bo", LastName: "Chan", Email: "bo@example.com"},
		},
		messages: []model.ChatMessage{
			{ID: 1, Sender: 11, Recipient: landlordID, Message: "leak", Timestamp: "2024-03-01T09:00:00Z"},
			{ID: 2, Sender: landlordID, Recipient: 11, Message: "on it", Timestamp: "2024-03-01T10:00:00Z"},
			{ID: 3, Sender: 11, Recipient: landlordID, Message: "thanks", Timestamp: "2024-03-02T09:00:00Z"},
			{ID: 4, Sender: 12, Recipient: landlordID, Message: "rent", Timestamp: "2024-03-01T08:00:00Z", IsRead: true},
		},
	}
}

func (b *fakeBackend) routes() http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login/", func(w http.ResponseWriter, r *http.Request) {
			var req model.LoginRequest
			json.NewDecoder(r.Body).Decode(&req)
			if req.Password != "secret" {
				b.reply(w, http.StatusUnauthorized, map[string]string{"detail": "No active account found with the given credentials"})
				return
			}
			b.reply(w, http.StatusOK, map[string]interface{}{
				"user":   map[string]interface{}{"id": landlordID, "email": req.Email},
				"tokens": model.TokenPair{Access: accessToken(b.t, landlordID), Refresh: "refresh"},
			})
		})
		r.Post("/token/refresh/", func(w http.ResponseWriter, r *http.Request) {
			b.reply(w, http.StatusBadRequest, map[string]string{"detail": "Token is blacklisted"})
		})
		r.Get("/users/me/", func(w http.ResponseWriter, r *http.Request) {
			b.reply(w, http.StatusOK, map[string]interface{}{"id": landlordID})
		})
		r.Get("/tenants/", func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			defer b.mu.Unlock()
			if b.tenantsFail {
				b.reply(w, http.StatusInternalServerError, map[string]string{"error": "database unavailable"})
				return
			}
			b.reply(w, http.StatusOK, b.tenants)
		})
		r.Get("/chat-messages/", func(w http.ResponseWriter, r *http.Request) {
			b.mu.Lock()
			delay, expired := b.delay, b.expired
			msgs := append([]model.ChatMessage(nil), b.messages...)
			b.mu.Unlock()

			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-r.Context().Done():
					return
				}
			}
			if expired {
				b.reply(w, http.StatusUnauthorized, map[string]string{"code": "token_not_valid"})
				return
			}
			b.reply(w, http.StatusOK, msgs)
		})
		r.Post("/chat-messages/", func(w http.ResponseWriter, r *http.Request) {
			var req model.SendMessageRequest
			json.NewDecoder(r.Body).Decode(&req)
			b.mu.Lock()
			defer b.mu.Unlock()
			b.sent = append(b.sent, req)
			b.reply(w, http.StatusCreated, model.ChatMessage{
				ID: 100 + int64(len(b.sent)), Sender: landlordID, Recipient: req.Recipient,
				Message: req.Message, Timestamp: "2024-03-05T12:00:00Z",
			})
		})
		r.Patch("/chat-messages/{id}/", func(w http.ResponseWriter, r *http.Request) {
			id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			b.mu.Lock()
			defer b.mu.Unlock()
			b.patched = append(b.patched, id)
			b.reply(w, http.StatusOK, map[string]interface{}{"id": id, "is_read": true})
		})
		r.Delete("/chat-messages/{id}/", func(w http.ResponseWriter, r *http.Request) {
			id, _ := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			b.mu.Lock()
			defer b.mu.Unlock()
			if id == 4 {
				b.reply(w, http.StatusForbidden, map[string]string{"detail": "You do not have permission to perform this action."})
				return
			}
			b.deleted = append(b.deleted, id)
			w.WriteHeader(http.StatusNoContent)
		})
	})
	return r
}

func (b *fakeBackend) update(fn func(b *fakeBackend)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
}

func (b *fakeBackend) calls() (sent []model.SendMessageRequest, patched, deleted []int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append(sent, b.sent...), append(patched, b.patched...), append(deleted, b.deleted...)
}

func (b *fakeBackend) reply(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type fakeEvents struct {
	events []model.InboxEvent
	actor  model.UserID
	after  uint64
}

func (f *fakeEvents) RecentEvents(ctx context.Context, actor model.UserID, afterSequence uint64, limit int) ([]model.InboxEvent, uint64, error) {
	f.actor, f.after = actor, afterSequence
	return f.events, afterSequence + uint64(len(f.events)), nil
}

type fakeConn bool

func (c fakeConn) IsConnected() bool { return bool(c) }

type testEnv struct {
	backend  *fakeBackend
	sessions *session.Manager
	store    tokenstore.Store
	cookie   *http.Cookie
	router   http.Handler
	events   *fakeEvents
}

type envOption func(*envConfig)

type envConfig struct {
	clientOpts []apiclient.Option
	nats       ConnChecker
	events     EventReader
}

func newTestEnv(t *testing.T, signedIn bool, opts ...envOption) *testEnv {
	t.Helper()

	env := &testEnv{
		backend: newFakeBackend(t),
		events:  &fakeEvents{},
	}
	cfg := envConfig{events: env.events}
	for _, opt := range opts {
		opt(&cfg)
	}

	srv := httptest.NewServer(env.backend.routes())
	t.Cleanup(srv.Close)

	log := logger.Nop()
	env.sessions = session.NewManager(session.Config{
		BaseURL:       srv.URL + "/api/v1",
		ClientOptions: cfg.clientOpts,
		Logger:        log,
	})

	if signedIn {
		sess, err := env.sessions.New()
		require.NoError(t, err)
		require.NoError(t, sess.Store.SetTokens(model.TokenPair{Access: accessToken(t, landlordID), Refresh: "refresh"}))
		env.sessions.Add(sess)
		env.store = sess.Store
		env.cookie = &http.Cookie{Name: session.CookieName, Value: sess.ID}
	}

	anon := apiclient.New(srv.URL+"/api/v1", nil, apiclient.WithLogger(log))

	env.router = NewRouter(Handlers{
		Health:        NewHealthHandler(anon, cfg.nats),
		Auth:          NewAuthHandler(env.sessions, log),
		Conversations: NewConversationHandler(log),
		Messages:      NewMessageHandler(0, log),
		Directory:     NewDirectoryHandler(log),
		Events:        NewEventHandler(cfg.events, log),
		Stream:        NewStreamHandler(0, log),
	}, RouterConfig{
		Sessions:          env.sessions,
		RateLimitRequests: 1000,
		RateLimitWindow:   time.Minute,
		Logger:            log,
	})
	return env
}

func (e *testEnv) do(t *testing.T, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	return e.doWith(t, e.cookie, method, path, body)
}

func (e *testEnv) doWith(t *testing.T, cookie *http.Cookie, method, path, body string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var out map[string]interface{}
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

// sessionCookie returns the session cookie set by rec, if any.
func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == session.CookieName {
			return c
		}
	}
	return nil
}

// login signs in through the API and returns the issued cookie.
func (e *testEnv) login(t *testing.T) *http.Cookie {
	t.Helper()
	rec, _ := e.doWith(t, nil, http.MethodPost, "/auth/login", `{"email":"l@x.io","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	c := sessionCookie(rec)
	require.NotNil(t, c)
	return &http.Cookie{Name: c.Name, Value: c.Value}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))

	rec, body = env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disabled", body["nats"])
	assert.Equal(t, true, body["backend"].(map[string]interface{})["success"])
}

func TestReadyReportsDisconnectedNATS(t *testing.T) {
	env := newTestEnv(t, false, func(c *envConfig) { c.nats = fakeConn(false) })

	rec, body := env.do(t, http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "disconnected", body["nats"])
	assert.Equal(t, "not ready", body["status"])
}

func TestAPIRequiresSession(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apiclient.SignInPath, body["redirect"])

	rec, body = env.do(t, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apiclient.SignInPath, body["redirect"])
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t, false)

	rec, body := env.do(t, http.MethodPost, "/auth/login", `{"email":"l@x.io","password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No active account found with the given credentials", body["error"])
	assert.Nil(t, sessionCookie(rec))
	assert.Zero(t, env.sessions.Len())

	rec, _ = env.do(t, http.MethodPost, "/auth/login", `{"email":"","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, body = env.do(t, http.MethodPost, "/auth/login", `{"email":"l@x.io","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "l@x.io", body["user"].(map[string]interface{})["email"])
	assert.NotContains(t, rec.Body.String(), "refresh", "tokens stay server side")

	issued := sessionCookie(rec)
	require.NotNil(t, issued)
	assert.True(t, issued.HttpOnly)
	assert.Equal(t, "/", issued.Path)
	assert.NotContains(t, issued.Value, ".", "the cookie is an opaque id, not a token")
	env.cookie = &http.Cookie{Name: issued.Name, Value: issued.Value}

	sess, ok := env.sessions.Get(issued.Value)
	require.True(t, ok)
	assert.NotEmpty(t, sess.Store.AccessToken())

	rec, body = env.do(t, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(landlordID), body["user"].(map[string]interface{})["id"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["conversations"], 2)

	rec, _ = env.do(t, http.MethodPost, "/auth/logout", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
	assert.Empty(t, sess.Store.AccessToken())
	assert.Zero(t, env.sessions.Len())

	rec, _ = env.do(t, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionsAreBoundToTheirBrowser(t *testing.T) {
	env := newTestEnv(t, false)
	first := env.login(t)

	rec, _ := env.doWith(t, first, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec, body := env.doWith(t, nil, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "a signed-in browser does not sign in everyone else")
	assert.Equal(t, apiclient.SignInPath, body["redirect"])

	forged := &http.Cookie{Name: session.CookieName, Value: "5f2b7c1e-3a4d-4e8f-9b6a-0c1d2e3f4a5b"}
	rec, _ = env.doWith(t, forged, http.MethodDelete, "/api/v1/messages", `{"ids":[3]}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	_, _, deleted := env.backend.calls()
	assert.Empty(t, deleted)

	rec, _ = env.doWith(t, nil, http.MethodGet, "/auth/me", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	second := env.login(t)
	assert.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, 2, env.sessions.Len())

	rec, _ = env.doWith(t, second, http.MethodPost, "/auth/logout", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = env.doWith(t, first, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusOK, rec.Code, "signing out one browser keeps the other")
	rec, _ = env.doWith(t, second, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLoginReplacesPreviousSession(t *testing.T) {
	env := newTestEnv(t, false)
	first := env.login(t)

	rec, _ := env.doWith(t, first, http.MethodPost, "/auth/login", `{"email":"l@x.io","password":"secret"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	next := sessionCookie(rec)
	require.NotNil(t, next)

	assert.NotEqual(t, first.Value, next.Value)
	assert.Equal(t, 1, env.sessions.Len())
	rec, _ = env.doWith(t, first, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestListConversations(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(t, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)

	convs := body["conversations"].([]interface{})
	require.Len(t, convs, 2)
	first := convs[0].(map[string]interface{})
	assert.Equal(t, float64(1), first["id"])
	assert.Equal(t, "Ann Lee", first["tenant"])
	assert.Equal(t, "thanks", first["lastMessage"])
	assert.Equal(t, true, first["unread"])
	assert.Equal(t, float64(1), body["unread"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/conversations/2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Bo Chan", body["tenant"])

	rec, _ = env.do(t, http.MethodGet, "/api/v1/conversations/7", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec, _ = env.do(t, http.MethodGet, "/api/v1/conversations/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendMessage(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(t, http.MethodPost, "/api/v1/conversations/1/messages", `{"message":"plumber at 9"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "plumber at 9", body["lastMessage"])
	assert.Equal(t, false, body["unread"])
	assert.Len(t, body["messages"], 4)

	calls, _, _ := env.backend.calls()
	require.Len(t, calls, 1)
	sent := calls[0]
	assert.Equal(t, model.UserID(11), sent.Recipient)
	require.NotNil(t, sent.Property)
	assert.Equal(t, int64(50), *sent.Property)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{"empty message", "/api/v1/conversations/1/messages", `{"message":"  "}`, http.StatusBadRequest},
		{"bad json", "/api/v1/conversations/1/messages", `{`, http.StatusBadRequest},
		{"bad tenant id", "/api/v1/conversations/x/messages", `{"message":"hi"}`, http.StatusBadRequest},
		{"unknown tenant", "/api/v1/conversations/9/messages", `{"message":"hi"}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, _ := env.do(t, http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestMarkRead(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(t, http.MethodPost, "/api/v1/conversations/1/read", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["unread"])
	assert.Equal(t, "read", body["status"])
	_, patched, _ := env.backend.calls()
	assert.ElementsMatch(t, []int64{1, 3}, patched)

	rec, body = env.do(t, http.MethodGet, "/api/v1/conversations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["unread"])
}

func TestListMessages(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(t, http.MethodGet, "/api/v1/messages", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(4), body["total"])
	assert.Equal(t, float64(5), body["per_page"])
	rows := body["rows"].([]interface{})
	assert.Equal(t, "1-3", rows[0].(map[string]interface{})["id"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/messages?box=received&sort=oldest&per_page=2&page=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(3), body["total"])
	rows = body["rows"].([]interface{})
	require.Len(t, rows, 1)
	assert.Equal(t, "1-3", rows[0].(map[string]interface{})["id"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/messages?status=unread&start=2024-03-02&end=2024-03-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["total"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/messages?page=9223372036854775807&per_page=100", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(1), body["page"])
	assert.Len(t, body["rows"], 4)

	for _, q := range []string{"box=spam", "status=maybe", "sort=random", "start=yesterday", "page=0", "per_page=x", "per_page=101", "page=2&per_page=9223372036854775807"} {
		rec, _ := env.do(t, http.MethodGet, "/api/v1/messages?"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestDeleteMessages(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(t, http.MethodDelete, "/api/v1/messages", `{"ids":[3]}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{float64(3)}, body["deleted"])
	_, _, deleted := env.backend.calls()
	assert.Equal(t, []int64{3}, deleted)

	rec, body = env.do(t, http.MethodGet, "/api/v1/conversations/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "on it", body["lastMessage"])

	rec, body = env.do(t, http.MethodDelete, "/api/v1/messages", `{"ids":[4]}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "You do not have permission to perform this action.", body["error"])

	rec, _ = env.do(t, http.MethodDelete, "/api/v1/messages", `{"ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteMessagesPartialFailure(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(t, http.MethodDelete, "/api/v1/messages", `{"ids":[3,4]}`)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())
	assert.Equal(t, []interface{}{float64(3)}, body["deleted"])
	assert.Equal(t, []interface{}{float64(4)}, body["failed"])
	assert.Equal(t, "You do not have permission to perform this action.", body["error"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/conversations/1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "on it", body["lastMessage"])
}

func TestTenantsAndProperties(t *testing.T) {
	env := newTestEnv(t, true)

	rec, body := env.do(t, http.MethodGet, "/api/v1/tenants?q=ann", "")
	require.Equal(t, http.StatusOK, rec.Code)
	tenants := body["tenants"].([]interface{})
	require.Len(t, tenants, 1)
	assert.Equal(t, "Maple Court", tenants[0].(map[string]interface{})["property"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/tenants", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, body["tenants"])

	rec, body = env.do(t, http.MethodGet, "/api/v1/properties", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []interface{}{"Maple Court"}, body["properties"])
}

func TestSessionExpiryRedirects(t *testing.T) {
	env := newTestEnv(t, true)
	env.backend.update(func(b *fakeBackend) { b.expired = true })

	rec, body := env.do(t, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, apiclient.SignInPath, body["redirect"])
	assert.Equal(t, "Session expired. Please log in again.", body["error"])
	assert.Empty(t, env.store.AccessToken())
	assert.Empty(t, env.store.RefreshToken())
	assert.Zero(t, env.sessions.Len())

	rec, _ = env.do(t, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBackendErrorsAreMapped(t *testing.T) {
	env := newTestEnv(t, true)
	env.backend.update(func(b *fakeBackend) { b.tenantsFail = true })

	rec, body := env.do(t, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "database unavailable", body["error"])
	assert.Equal(t, "database unavailable", body["details"].(map[string]interface{})["error"])
}

func TestBackendTimeout(t *testing.T) {
	env := newTestEnv(t, true, func(c *envConfig) {
		c.clientOpts = append(c.clientOpts, apiclient.WithTimeout(50*time.Millisecond))
	})
	env.backend.update(func(b *fakeBackend) { b.delay = time.Second })

	rec, body := env.do(t, http.MethodGet, "/api/v1/conversations", "")
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Contains(t, body["error"], "timeout")
	assert.NotEmpty(t, env.store.AccessToken(), "a timeout leaves the session alone")
}

func TestEvents(t *testing.T) {
	env := newTestEnv(t, true)
	env.events.events = []model.InboxEvent{{ID: "e1", Type: model.EventMessageSent, Actor: landlordID}}

	rec, body := env.do(t, http.MethodGet, "/api/v1/events?after_sequence=4", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["events"], 1)
	assert.Equal(t, float64(5), body["last_sequence"])
	assert.Equal(t, model.UserID(landlordID), env.events.actor)
	assert.Equal(t, uint64(4), env.events.after)

	rec, _ = env.do(t, http.MethodGet, "/api/v1/events?after_sequence=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	disabled := newTestEnv(t, true, func(c *envConfig) { c.events = nil })
	rec, _ = disabled.do(t, http.MethodGet, "/api/v1/events", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestStreamSendsSnapshot(t *testing.T) {
	env := newTestEnv(t, true)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/conversations/stream", nil)
	require.NoError(t, err)
	req.AddCookie(env.cookie)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	type sse struct{ event, data string }
	var events []sse
	scanner := bufio.NewScanner(resp.Body)
	var cur sse
	for scanner.Scan() && len(events) < 2 {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event: "):
			cur.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			cur.data = strings.TrimPrefix(line, "data: ")
		case line == "":
			events = append(events, cur)
			cur = sse{}
		}
	}
	cancel()

	require.Len(t, events, 2)
	assert.Equal(t, "connected", events[0].event)
	assert.Equal(t, "conversations", events[1].event)

	var snap struct {
		Conversations []model.Conversation `json:"conversations"`
		Unread        int                  `json:"unread"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[1].data), &snap))
	assert.Len(t, snap.Conversations, 2)
	assert.Equal(t, 1, snap.Unread)
}
