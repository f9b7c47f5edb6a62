package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/clincore/clincore-backend/internal/identity/domain"
	"github.com/clincore/clincore-backend/internal/identity/service"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/httputil"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/tenant"
)

// IdentityHandler handles bootstrap, key rotation, and admin endpoints
type IdentityHandler struct {
	service *service.IdentityService
	logger  *logger.Logger
}

// NewIdentityHandler creates a new identity handler
func NewIdentityHandler(svc *service.IdentityService, log *logger.Logger) *IdentityHandler {
	return &IdentityHandler{
		service: svc,
		logger:  log,
	}
}

// Auth is the API-key middleware: it resolves X-API-Key to a caller
// identity and binds the tenant into the request context.
func (h *IdentityHandler) Auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.service.Authenticate(r.Context(), r.Header.Get("X-API-Key"), r.URL.Path)
		if err != nil {
			httputil.Error(w, r, err)
			return
		}

		ctx := tenant.WithContext(r.Context(), id.TenantID, id.Role, id.APIKeyID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin refuses callers whose key does not carry the admin role.
// Apply after Auth.
func (h *IdentityHandler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !tenant.IsAdmin(r.Context()) {
			httputil.Error(w, r, errors.Forbidden("admin role required"))
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Bootstrap provisions a tenant and its first API key
func (h *IdentityHandler) Bootstrap(w http.ResponseWriter, r *http.Request) {
	var req domain.BootstrapRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	resp, err := h.service.Bootstrap(r.Context(), r.Header.Get("Authorization"), &req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.Created(w, resp)
}

// Rotate replaces the presented API key
func (h *IdentityHandler) Rotate(w http.ResponseWriter, r *http.Request) {
	resp, err := h.service.Rotate(r.Context(), r.Header.Get("X-API-Key"))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// Usage returns the calling tenant's usage stats
func (h *IdentityHandler) Usage(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, r, errors.Unauthorized("tenant binding required"))
		return
	}

	stats, err := h.service.Usage(r.Context(), tenantID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}

// ListKeys lists the calling tenant's API keys
func (h *IdentityHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, r, errors.Unauthorized("tenant binding required"))
		return
	}

	keys, err := h.service.ListKeys(r.Context(), tenantID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, keys)
}

// RevokeKey revokes one of the calling tenant's API keys
func (h *IdentityHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	tenantID, err := tenant.TenantID(r.Context())
	if err != nil {
		httputil.Error(w, r, errors.Unauthorized("tenant binding required"))
		return
	}

	keyID := chi.URLParam(r, "id")

	revokedID, err := h.service.RevokeKey(r.Context(), keyID, tenantID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, map[string]string{"revoked": revokedID})
}
