package model

import "encoding/json"

// TokenPair holds the access and refresh credentials.
type TokenPair struct {
	Access  string `json:"access"`
	Refresh string `json:"refresh"`
}

// LoginRequest is the body of POST /auth/login/.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRequest is the body of POST /auth/register/.
type RegisterRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	Password2 string `json:"password2,omitempty"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone,omitempty"`
	UserType  string `json:"user_type,omitempty"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User    json.RawMessage `json:"user"`
	Tokens  *TokenPair      `json:"tokens,omitempty"`
	Message string          `json:"message,omitempty"`
}

// RefreshResponse is returned by the token refresh endpoint.
type RefreshResponse struct {
	Access string `json:"access"`
}
