package handler

import (
	"net/http"

	"github.com/edo-homes/portal/internal/middleware"
	"github.com/edo-homes/portal/internal/model"
	"github.com/edo-homes/portal/pkg/logger"
)

// DirectoryHandler serves the tenant search and property facet.
type DirectoryHandler struct {
	logger *logger.Logger
}

// NewDirectoryHandler creates a new directory handler.
func NewDirectoryHandler(log *logger.Logger) *DirectoryHandler {
	return &DirectoryHandler{
		logger: log.Named("directory"),
	}
}

// Tenants handles GET /api/v1/tenants?q=
func (h *DirectoryHandler) Tenants(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	opts, err := inbox.SearchTenants(ctx, middleware.GetUserID(ctx), r.URL.Query().Get("q"))
	if err != nil {
		writeClientError(w, middleware.RequestLogger(ctx, h.logger), err)
		return
	}
	if opts == nil {
		opts = []model.TenantOption{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tenants": opts})
}

// Properties handles GET /api/v1/properties
func (h *DirectoryHandler) Properties(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	inbox, ok := requestInbox(w, r)
	if !ok {
		return
	}

	props, err := inbox.Properties(ctx, middleware.GetUserID(ctx))
	if err != nil {
		writeClientError(w, middleware.RequestLogger(ctx, h.logger), err)
		return
	}
	if props == nil {
		props = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"properties": props})
}
