package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/service"
	"github.com/edo-homes/portal/internal/session"
	"github.com/edo-homes/portal/pkg/logger"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeClientError maps an inbox or backend error to a response.
func writeClientError(w http.ResponseWriter, log *logger.Logger, err error) {
	var (
		apiErr *apiclient.APIError
		netErr *apiclient.NetworkError
	)

	switch {
	case isSessionError(err):
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    apiclient.UserMessage(err),
			"redirect": apiclient.SignInPath,
		})
	case errors.Is(err, apiclient.ErrTimeout):
		writeError(w, http.StatusGatewayTimeout, apiclient.UserMessage(err))
	case errors.As(err, &netErr):
		log.Warn("backend unreachable", zap.Error(err))
		writeError(w, http.StatusBadGateway, apiclient.UserMessage(err))
	case errors.As(err, &apiErr):
		writeJSON(w, apiErr.Status, map[string]interface{}{
			"error":   apiErr.Message(),
			"details": apiErr.Body,
		})
	case errors.Is(err, service.ErrTenantNotFound), errors.Is(err, service.ErrConversationNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrTenantNotLinked):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, context.Canceled):
		log.Debug("request canceled by client")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, apiclient.UserMessage(err))
	}
}

// requestInbox returns the inbox of the request's session, answering 401
// when there is none.
func requestInbox(w http.ResponseWriter, r *http.Request) (*service.InboxService, bool) {
	sess, ok := session.FromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, map[string]string{
			"error":    "not signed in",
			"redirect": apiclient.SignInPath,
		})
		return nil, false
	}
	return sess.Inbox, true
}

func isSessionError(err error) bool {
	return errors.Is(err, apiclient.ErrSessionExpired) || errors.Is(err, apiclient.ErrNoRefreshToken)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
