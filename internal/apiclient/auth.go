package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/edo-homes/portal/internal/model"
)

// Login signs in and stores the issued token pair and user.
func (c *Client) Login(ctx context.Context, creds model.LoginRequest) (*model.AuthResponse, error) {
	return c.authenticate(ctx, LoginEndpoint, creds)
}

// Register creates an account and stores the issued token pair and user.
func (c *Client) Register(ctx context.Context, req model.RegisterRequest) (*model.AuthResponse, error) {
	return c.authenticate(ctx, RegisterEndpoint, req)
}

func (c *Client) authenticate(ctx context.Context, endpoint string, body interface{}) (*model.AuthResponse, error) {
	var resp model.AuthResponse
	if err := c.do(ctx, http.MethodPost, endpoint, body, &resp); err != nil {
		return nil, err
	}

	if resp.Tokens != nil {
		if err := c.store.SetTokens(*resp.Tokens); err != nil {
			return nil, fmt.Errorf("failed to store tokens: %w", err)
		}
	}
	if len(resp.User) > 0 {
		if err := c.store.SetUser(resp.User); err != nil {
			return nil, fmt.Errorf("failed to store user: %w", err)
		}
	}
	return &resp, nil
}

// Logout forgets the session locally.
func (c *Client) Logout() error {
	return c.store.Clear()
}

// IsAuthenticated reports whether an access token is held.
func (c *Client) IsAuthenticated() bool {
	return c.store.AccessToken() != ""
}

// CurrentUser fetches the signed-in user and refreshes the cached copy.
func (c *Client) CurrentUser(ctx context.Context) (json.RawMessage, error) {
	data, err := c.Request(ctx, "/users/me/", RequestOptions{Method: http.MethodGet})
	if err != nil {
		return nil, err
	}
	if err := c.store.SetUser(data); err != nil {
		return nil, fmt.Errorf("failed to store user: %w", err)
	}
	return data, nil
}

// StoredUser returns the cached user object, if any.
func (c *Client) StoredUser() json.RawMessage {
	return c.store.User()
}

// AddRole adds a role to the current user during onboarding.
func (c *Client) AddRole(ctx context.Context, role string) (json.RawMessage, error) {
	return c.postRole(ctx, "/onboard-role/", role)
}

// RelinquishRole removes a role from the current user.
func (c *Client) RelinquishRole(ctx context.Context, role string) (json.RawMessage, error) {
	return c.postRole(ctx, "/relinquish-role/", role)
}

// BecomeLandlord upgrades the current user to a landlord.
func (c *Client) BecomeLandlord(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, "/users/become_landlord/", RequestOptions{Method: http.MethodPost})
}

// BecomeTenant upgrades the current user to a tenant.
func (c *Client) BecomeTenant(ctx context.Context) (json.RawMessage, error) {
	return c.Request(ctx, "/users/become_tenant/", RequestOptions{Method: http.MethodPost})
}

func (c *Client) postRole(ctx context.Context, endpoint, role string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"role": role}, &out); err != nil {
		return nil, err
	}
	return out, nil
}
