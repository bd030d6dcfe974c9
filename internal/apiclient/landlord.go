package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/edo-homes/portal/internal/model"
)

// Properties, units and tenant records beyond the directory fields are not
// modelled here; they pass through as raw JSON.

const (
	propertiesEndpoint = "/landlord/properties/"
	unitsEndpoint      = "/units/"
	tenantsEndpoint    = "/tenants/"
)

// Tenants lists the landlord's tenant directory.
func (c *Client) Tenants(ctx context.Context) ([]model.Tenant, error) {
	var out []model.Tenant
	if err := c.do(ctx, http.MethodGet, tenantsEndpoint, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateTenant adds a tenant.
func (c *Client) CreateTenant(ctx context.Context, tenant interface{}) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, tenantsEndpoint, tenant)
}

// UpdateTenant patches a tenant.
func (c *Client) UpdateTenant(ctx context.Context, id int64, tenant interface{}) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPatch, fmt.Sprintf("%s%d/", tenantsEndpoint, id), tenant)
}

// DeleteTenant removes a tenant.
func (c *Client) DeleteTenant(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s%d/", tenantsEndpoint, id), nil, nil)
}

// Properties lists the landlord's properties.
func (c *Client) Properties(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, propertiesEndpoint, nil)
}

// CreateProperty adds a property.
func (c *Client) CreateProperty(ctx context.Context, property interface{}) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, propertiesEndpoint, property)
}

// UpdateProperty patches a property.
func (c *Client) UpdateProperty(ctx context.Context, id int64, property interface{}) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPatch, fmt.Sprintf("%s%d/", propertiesEndpoint, id), property)
}

// DeleteProperty removes a property.
func (c *Client) DeleteProperty(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s%d/", propertiesEndpoint, id), nil, nil)
}

// CreateUnit adds a unit to a property.
func (c *Client) CreateUnit(ctx context.Context, unit interface{}) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodPost, unitsEndpoint, unit)
}

// UpdateUnit replaces (PUT) or patches (PATCH) a unit.
func (c *Client) UpdateUnit(ctx context.Context, id int64, method string, unit interface{}) (json.RawMessage, error) {
	if method == "" {
		method = http.MethodPut
	}
	return c.raw(ctx, method, fmt.Sprintf("%s%d/", unitsEndpoint, id), unit)
}

// DeleteUnit removes a unit.
func (c *Client) DeleteUnit(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("%s%d/", unitsEndpoint, id), nil, nil)
}

// Rentals lists the rentals of the signed-in tenant.
func (c *Client) Rentals(ctx context.Context) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/tenant/rentals/", nil)
}

// CheckUserByEmail asks the backend whether an account exists for email.
func (c *Client) CheckUserByEmail(ctx context.Context, email string) (json.RawMessage, error) {
	return c.raw(ctx, http.MethodGet, "/users/check-email/?email="+url.QueryEscape(email), nil)
}

func (c *Client) raw(ctx context.Context, method, endpoint string, in interface{}) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, method, endpoint, in, &out); err != nil {
		return nil, err
	}
	return out, nil
}
