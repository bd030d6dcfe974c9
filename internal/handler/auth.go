package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/middleware"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/internal/session"
	"github.com/edo-homes/portal/pkg/logger"
)

// AuthHandler handles the session lifecycle. Backend tokens stay in the
// session's token store; the browser only gets the session cookie.
type AuthHandler struct {
	sessions *session.Manager
	logger   *logger.Logger
}

// NewAuthHandler creates a new auth handler.
func NewAuthHandler(sessions *session.Manager, log *logger.Logger) *AuthHandler {
	return &AuthHandler{
		sessions: sessions,
		logger:   log.Named("auth"),
	}
}

type sessionResponse struct {
	User    json.RawMessage `json:"user"`
	Message string          `json:"message,omitempty"`
}

// Login handles POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := h.sessions.New()
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to sign in")
		return
	}
	resp, err := sess.Client.Login(r.Context(), req)
	if err != nil {
		writeClientError(w, h.logger, err)
		return
	}
	h.start(w, r, sess)

	middleware.RequestLogger(r.Context(), h.logger).Info("signed in", zap.String("email", req.Email))
	writeJSON(w, http.StatusOK, sessionResponse{User: resp.User, Message: resp.Message})
}

// Register handles POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	sess, err := h.sessions.New()
	if err != nil {
		h.logger.Error("failed to create session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to register")
		return
	}
	resp, err := sess.Client.Register(r.Context(), req)
	if err != nil {
		writeClientError(w, h.logger, err)
		return
	}
	h.start(w, r, sess)

	writeJSON(w, http.StatusCreated, sessionResponse{User: resp.User, Message: resp.Message})
}

// start replaces any session the browser already had with sess.
func (h *AuthHandler) start(w http.ResponseWriter, r *http.Request, sess *session.Session) {
	if old, ok := h.sessions.FromRequest(r); ok {
		h.sessions.Remove(old.ID)
	}
	h.sessions.Add(sess)
	h.sessions.SetCookie(w, sess)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if sess, ok := h.sessions.FromRequest(r); ok {
		if err := sess.Client.Logout(); err != nil {
			h.logger.Error("failed to clear session", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to sign out")
			return
		}
		h.sessions.Remove(sess.ID)
	}
	h.sessions.ClearCookie(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.sessions.FromRequest(r)
	if !ok || !sess.Client.IsAuthenticated() {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "not signed in",
			"redirect": apiclient.SignInPath,
		})
		return
	}

	user, err := sess.Client.CurrentUser(r.Context())
	if err != nil {
		writeClientError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{User: user})
}
