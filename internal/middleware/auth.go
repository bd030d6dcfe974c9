// Package middleware provides HTTP middleware for the portal server.
package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/edo-homes/portal/internal/apiclient"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/internal/session"
	"github.com/edo-homes/portal/internal/tokenstore"
)

// ContextKey is a type for context keys.
type ContextKey string

const (
	// UserIDKey is the context key for the signed-in user id.
	UserIDKey ContextKey = "user_id"
	// TokenTypeKey is the context key for the access token type.
	TokenTypeKey ContextKey = "token_type"
)

// Session requires the session cookie of a signed-in browser. It puts the
// session and the user it belongs to into the request context. With a
// non-empty jwtSecret the access token signature is verified too. An
// expired token still passes: the API client refreshes it on the next
// backend call.
func Session(sessions *session.Manager, jwtSecret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess, ok := sessions.FromRequest(r)
			if !ok {
				unauthorized(w, "not signed in")
				return
			}
			token := sess.Store.AccessToken()
			if token == "" {
				unauthorized(w, "not signed in")
				return
			}

			var (
				claims *tokenstore.Claims
				err    error
			)
			if jwtSecret != "" {
				claims, err = tokenstore.VerifyClaims(token, []byte(jwtSecret))
			} else {
				claims, err = tokenstore.ParseClaims(token)
			}
			if err != nil {
				unauthorized(w, "invalid session")
				return
			}

			ctx := session.NewContext(r.Context(), sess)
			ctx = context.WithValue(ctx, UserIDKey, claims.UserID)
			ctx = context.WithValue(ctx, TokenTypeKey, claims.TokenType)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{
		"error":    msg,
		"redirect": apiclient.SignInPath,
	})
}

// GetUserID gets the signed-in user id from context.
func GetUserID(ctx context.Context) model.UserID {
	if v, ok := ctx.Value(UserIDKey).(model.UserID); ok {
		return v
	}
	return 0
}

// WithUserID returns a context carrying a user id.
func WithUserID(ctx context.Context, id model.UserID) context.Context {
	return context.WithValue(ctx, UserIDKey, id)
}
