package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	customMiddleware "github.com/cloudomate/coreauth/internal/api/middleware"
	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/oauth2"
	"github.com/cloudomate/coreauth/internal/repository"
)

// AccountHandler serves profile, MFA management, consents and org member
// administration.
type AccountHandler struct {
	auth   *auth.AuthService
	oauth2 *oauth2.Service
	logger *slog.Logger
}

func NewAccountHandler(authService *auth.AuthService, oauth2Service *oauth2.Service, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{auth: authService, oauth2: oauth2Service, logger: logger}
}

type updateProfileRequest struct {
	FullName  *string `json:"full_name,omitempty"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// UpdateProfile handles PATCH /api/v1/auth/profile.
func (h *AccountHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMiddleware.UserID(r.Context())
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req updateProfileRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.auth.UpdateProfile(r.Context(), customMiddleware.OrgID(r.Context()), userID, req.FullName, req.AvatarURL)
	if err != nil {
		h.logger.Error("profile_update_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type disableMfaRequest struct {
	Password string `json:"password"`
}

// DisableMFA handles DELETE /api/v1/auth/mfa.
func (h *AccountHandler) DisableMFA(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMiddleware.UserID(r.Context())
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req disableMfaRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	err := h.auth.DisableMFA(r.Context(), customMiddleware.OrgID(r.Context()), userID, req.Password)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetConsent handles GET /api/v1/auth/consents/{client_id}.
func (h *AccountHandler) GetConsent(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMiddleware.UserID(r.Context())
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	consent, err := h.oauth2.GetConsent(r.Context(), userID, chi.URLParam(r, "client_id"))
	if err != nil {
		h.logger.Error("consent_load_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	if consent == nil {
		helpers.RespondError(w, http.StatusNotFound, "no consent on record")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"client_id":  consent.ClientID,
		"scopes":     consent.Scopes,
		"granted_at": consent.GrantedAt,
	})
}

// RevokeConsent handles DELETE /api/v1/auth/consents/{client_id}.
func (h *AccountHandler) RevokeConsent(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMiddleware.UserID(r.Context())
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	if err := h.oauth2.RevokeConsent(r.Context(), userID, chi.URLParam(r, "client_id")); err != nil {
		h.logger.Error("consent_revoke_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListMembers handles GET /api/v1/admin/members.
func (h *AccountHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID := customMiddleware.OrgID(r.Context())
	if orgID == nil {
		helpers.RespondError(w, http.StatusBadRequest, "organization context required")
		return
	}

	members, err := h.auth.ListTenantMembers(r.Context(), *orgID)
	if err != nil {
		h.logger.Error("member_list_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"members": members})
}

type updateRoleRequest struct {
	Role string `json:"role"`
}

// UpdateMemberRole handles PATCH /api/v1/admin/members/{userID}.
func (h *AccountHandler) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID := customMiddleware.OrgID(r.Context())
	if orgID == nil {
		helpers.RespondError(w, http.StatusBadRequest, "organization context required")
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	var req updateRoleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil || req.Role == "" {
		helpers.RespondError(w, http.StatusBadRequest, "role is required")
		return
	}

	if err := h.auth.UpdateMemberRole(r.Context(), *orgID, targetID, req.Role); err != nil {
		helpers.RespondError(w, http.StatusNotFound, "member not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RemoveMember handles DELETE /api/v1/admin/members/{userID}.
func (h *AccountHandler) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID := customMiddleware.OrgID(r.Context())
	if orgID == nil {
		helpers.RespondError(w, http.StatusBadRequest, "organization context required")
		return
	}

	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.auth.RemoveMember(r.Context(), *orgID, targetID); err != nil {
		h.logger.Error("member_remove_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type securitySettingsRequest struct {
	Security repository.SecuritySettings `json:"security"`
}

// UpdateSecuritySettings handles PUT /api/v1/admin/settings/security.
func (h *AccountHandler) UpdateSecuritySettings(w http.ResponseWriter, r *http.Request) {
	orgID := customMiddleware.OrgID(r.Context())
	if orgID == nil {
		helpers.RespondError(w, http.StatusBadRequest, "organization context required")
		return
	}

	var req securitySettingsRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.auth.UpdateSecuritySettings(r.Context(), *orgID, req.Security); err != nil {
		h.logger.Error("security_settings_update_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
