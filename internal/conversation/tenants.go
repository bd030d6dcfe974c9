package conversation

import (
	"strings"

	"github.com/edo-homes/portal/internal/model"
)

// SearchTenants returns the tenants whose name, email or unit contains q,
// case-insensitively. An empty query matches nothing.
func SearchTenants(tenants []model.Tenant, q string) []model.TenantOption {
	q = strings.ToLower(strings.TrimSpace(q))
	if q == "" {
		return nil
	}

	var out []model.TenantOption
	for _, t := range tenants {
		unit := ""
		if t.Unit != nil {
			unit = t.Unit.UnitID
		}
		if !strings.Contains(strings.ToLower(t.DisplayName()), q) &&
			!strings.Contains(strings.ToLower(t.Email), q) &&
			!strings.Contains(strings.ToLower(unit), q) {
			continue
		}
		out = append(out, model.TenantOption{
			ID:       t.ID,
			Name:     t.DisplayName(),
			Email:    t.Email,
			Property: t.PropertyName(),
			Unit:     t.UnitLabel(),
		})
	}
	return out
}

// FindTenant returns the directory entry with the given id.
func FindTenant(tenants []model.Tenant, id int64) (model.Tenant, bool) {
	for _, t := range tenants {
		if t.ID == id {
			return t, true
		}
	}
	return model.Tenant{}, false
}
