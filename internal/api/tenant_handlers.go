package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

// TenantHandler serves tenant registry operations. All routes sit behind
// the platform-admin gate except the public slug lookup.
type TenantHandler struct {
	router *storage.Router
	auth   *auth.AuthService
	logger *slog.Logger
}

func NewTenantHandler(router *storage.Router, authService *auth.AuthService, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{router: router, auth: authService, logger: logger}
}

type createTenantRequest struct {
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	AccountType   string `json:"account_type"`
	IsolationMode string `json:"isolation_mode"`
	AdminEmail    string `json:"admin_email"`
	AdminPassword string `json:"admin_password"`
}

// Create handles POST /api/v1/platform/tenants: one transaction covering
// the registry row, the tenant, the admin user and the admin membership.
func (h *TenantHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTenantRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Slug == "" || req.Name == "" || req.AdminEmail == "" || req.AdminPassword == "" {
		helpers.RespondError(w, http.StatusBadRequest, "slug, name, admin_email and admin_password are required")
		return
	}

	tenant, admin, err := h.auth.OnboardTenant(r.Context(), auth.OnboardTenantInput{
		Slug:          req.Slug,
		Name:          req.Name,
		AccountType:   req.AccountType,
		IsolationMode: storage.ParseIsolationMode(req.IsolationMode),
		AdminEmail:    req.AdminEmail,
		AdminPassword: req.AdminPassword,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			helpers.RespondError(w, http.StatusConflict, "already_exists")
			return
		}
		h.logger.Error("tenant_create_failed", "error", err, "slug", req.Slug)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":             tenant.ID,
		"slug":           tenant.Slug,
		"name":           tenant.Name,
		"isolation_mode": tenant.IsolationMode,
		"admin": map[string]any{
			"id":    admin.ID,
			"email": admin.Email,
		},
	})
}

type configureDatabaseRequest struct {
	Host     string `json:"host"`
	Port     int32  `json:"port"`
	Database string `json:"database"`
	User     string `json:"user"`
	Password string `json:"password"`
}

// ConfigureDatabase handles PUT /api/v1/platform/tenants/{id}/database:
// store encrypted coordinates and activate the dedicated tenant.
func (h *TenantHandler) ConfigureDatabase(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseUUID(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	var req configureDatabaseRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Host == "" || req.Database == "" || req.User == "" || req.Password == "" {
		helpers.RespondError(w, http.StatusBadRequest, "host, database, user and password are required")
		return
	}
	if req.Port == 0 {
		req.Port = 5432
	}

	tenant, err := h.router.ConfigureDedicatedDatabase(r.Context(), tenantID, req.Host, req.Port, req.Database, req.User, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrTenantNotFound) {
			helpers.RespondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		h.logger.Error("tenant_db_configure_failed", "error", err, "tenant_id", tenantID)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, tenantView(tenant))
}

// Activate handles POST /api/v1/platform/tenants/{id}/activate for shared
// tenants.
func (h *TenantHandler) Activate(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseUUID(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	tenant, err := h.router.ActivateSharedTenant(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, storage.ErrTenantNotFound) {
			helpers.RespondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		h.logger.Error("tenant_activate_failed", "error", err, "tenant_id", tenantID)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, tenantView(tenant))
}

// Suspend handles POST /api/v1/platform/tenants/{id}/suspend.
func (h *TenantHandler) Suspend(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseUUID(chi.URLParam(r, "id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if err := h.router.SuspendTenant(r.Context(), tenantID); err != nil {
		if errors.Is(err, storage.ErrTenantNotFound) {
			helpers.RespondError(w, http.StatusNotFound, "tenant not found")
			return
		}
		h.logger.Error("tenant_suspend_failed", "error", err, "tenant_id", tenantID)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// List handles GET /api/v1/platform/tenants.
func (h *TenantHandler) List(w http.ResponseWriter, r *http.Request) {
	includeInactive := r.URL.Query().Get("include_inactive") == "true"

	tenants, err := h.router.ListTenants(r.Context(), includeInactive)
	if err != nil {
		h.logger.Error("tenant_list_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	views := make([]map[string]any, 0, len(tenants))
	for _, t := range tenants {
		views = append(views, tenantView(t))
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"tenants": views})
}

// GetBySlug handles GET /api/v1/tenants/{slug}: the public lookup login pages use
// to resolve an organization.
func (h *TenantHandler) GetBySlug(w http.ResponseWriter, r *http.Request) {
	tenant, err := h.router.TenantRecordBySlug(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "tenant not found")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"id":   tenant.ID,
		"slug": tenant.Slug,
		"name": tenant.Name,
	})
}

// tenantView never exposes database coordinates or credentials.
func tenantView(t *storage.TenantRecord) map[string]any {
	return map[string]any{
		"id":             t.ID,
		"slug":           t.Slug,
		"name":           t.Name,
		"isolation_mode": t.IsolationMode,
		"status":         t.Status,
		"created_at":     t.CreatedAt,
	}
}
