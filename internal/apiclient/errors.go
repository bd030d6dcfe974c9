package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTimeout is returned when a call does not complete within the
	// client timeout.
	ErrTimeout = errors.New("request timeout")

	// ErrSessionExpired is returned when an expired access token could not
	// be refreshed. The token store has been cleared.
	ErrSessionExpired = errors.New("session expired")

	// ErrNoRefreshToken is returned by RefreshAccessToken when the store
	// holds no refresh token.
	ErrNoRefreshToken = errors.New("no refresh token available")

	// ErrRefreshFailed wraps every other refresh failure.
	ErrRefreshFailed = errors.New("failed to refresh token")
)

// expiredTokenDetail is the detail the backend sends for a bad bearer token.
const (
	expiredTokenDetail = "Given token not valid for any token type"
	expiredTokenCode   = "token_not_valid"
)

// NetworkError is returned when the backend host could not be reached.
type NetworkError struct {
	BaseURL string
	Refused bool
	Err     error
}

func (e *NetworkError) Error() string {
	if e.Refused {
		return fmt.Sprintf("connection refused by %s: %v", e.BaseURL, e.Err)
	}
	return fmt.Sprintf("could not connect to %s: %v", e.BaseURL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// ErrorBody is the error envelope the backend uses.
type ErrorBody struct {
	Detail  string `json:"detail,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// APIError is a non-2xx response. Body is the decoded response body, kept
// unchanged so callers can map field errors back to form inputs.
type APIError struct {
	Status int
	Body   json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Message())
}

// Envelope decodes the common error fields of the body.
func (e *APIError) Envelope() ErrorBody {
	var b ErrorBody
	_ = json.Unmarshal(e.Body, &b)
	return b
}

// Message picks the most specific human readable text in the body.
func (e *APIError) Message() string {
	b := e.Envelope()
	switch {
	case b.Message != "":
		return b.Message
	case b.Detail != "":
		return b.Detail
	case b.Error != "":
		return b.Error
	default:
		return fmt.Sprintf("HTTP %d: Something went wrong", e.Status)
	}
}

// FieldErrors returns validation errors keyed by field name, e.g.
// {"email": ["already registered"]}.
func (e *APIError) FieldErrors() map[string][]string {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(e.Body, &raw); err != nil {
		return nil
	}
	out := make(map[string][]string)
	for field, v := range raw {
		var msgs []string
		if err := json.Unmarshal(v, &msgs); err == nil && len(msgs) > 0 {
			out[field] = msgs
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// tokenExpired reports whether the error is the backend rejecting the
// bearer token as invalid or expired.
func (e *APIError) tokenExpired() bool {
	if e.Status != http.StatusUnauthorized {
		return false
	}
	b := e.Envelope()
	return b.Detail == expiredTokenDetail || b.Code == expiredTokenCode
}

// UserMessage turns a client error into text fit for a banner.
func UserMessage(err error) string {
	var netErr *NetworkError
	var apiErr *APIError

	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSessionExpired), errors.Is(err, ErrNoRefreshToken):
		return "Session expired. Please log in again."
	case errors.Is(err, ErrTimeout):
		return "Request timeout. Please check your connection and try again."
	case errors.As(err, &netErr):
		if netErr.Refused {
			return fmt.Sprintf("Connection refused by %s. Please ensure the backend is running.", netErr.BaseURL)
		}
		return fmt.Sprintf("Could not connect to server at %s. Please ensure the backend is running.", netErr.BaseURL)
	case errors.As(err, &apiErr):
		return apiErr.Message()
	default:
		return "Something went wrong. Please try again."
	}
}
