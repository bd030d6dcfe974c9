package model

import "strings"

// NotAvailable is shown when a tenant has no property or unit.
const NotAvailable = "N/A"

// PropertyRef is the property summary nested in a tenant's unit.
type PropertyRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// TenantUnit is the unit a tenant occupies.
type TenantUnit struct {
	ID       int64        `json:"id"`
	UnitID   string       `json:"unit_id"`
	Property *PropertyRef `json:"property,omitempty"`
}

// Tenant is a tenant directory entry.
type Tenant struct {
	ID        int64       `json:"id"`
	User      UserID      `json:"user"`
	FirstName string      `json:"first_name"`
	LastName  string      `json:"last_name"`
	Email     string      `json:"email"`
	Phone     string      `json:"phone,omitempty"`
	Unit      *TenantUnit `json:"unit,omitempty"`
	Property  string      `json:"property,omitempty"`
}

// DisplayName returns "First Last".
func (t Tenant) DisplayName() string {
	return strings.TrimSpace(t.FirstName + " " + t.LastName)
}

// PropertyName returns the name of the tenant's property or NotAvailable.
func (t Tenant) PropertyName() string {
	if t.Unit != nil && t.Unit.Property != nil && t.Unit.Property.Name != "" {
		return t.Unit.Property.Name
	}
	if t.Property != "" {
		return t.Property
	}
	return NotAvailable
}

// UnitLabel returns the tenant's unit identifier or NotAvailable.
func (t Tenant) UnitLabel() string {
	if t.Unit != nil && t.Unit.UnitID != "" {
		return t.Unit.UnitID
	}
	return NotAvailable
}

// PropertyID returns the backend id of the tenant's property, if known.
func (t Tenant) PropertyID() *int64 {
	if t.Unit == nil || t.Unit.Property == nil || t.Unit.Property.ID == 0 {
		return nil
	}
	id := t.Unit.Property.ID
	return &id
}

// UnitID returns the backend id of the tenant's unit, if known.
func (t Tenant) UnitID() *int64 {
	if t.Unit == nil || t.Unit.ID == 0 {
		return nil
	}
	id := t.Unit.ID
	return &id
}

// TenantOption is a tenant entry offered by the new-message dialog.
type TenantOption struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Property string `json:"property"`
	Unit     string `json:"unit"`
}
