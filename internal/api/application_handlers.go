package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	"github.com/cloudomate/coreauth/internal/oauth2"
	"github.com/cloudomate/coreauth/internal/repository"
)

// ApplicationHandler serves OAuth client registration for platform admins.
type ApplicationHandler struct {
	oauth2 *oauth2.Service
	logger *slog.Logger
}

func NewApplicationHandler(oauth2Service *oauth2.Service, logger *slog.Logger) *ApplicationHandler {
	return &ApplicationHandler{oauth2: oauth2Service, logger: logger}
}

type createApplicationRequest struct {
	TenantID               *string  `json:"tenant_id,omitempty"`
	Name                   string   `json:"name"`
	AppType                string   `json:"app_type"`
	CallbackURLs           []string `json:"callback_urls"`
	AllowedLogoutURLs      []string `json:"allowed_logout_urls,omitempty"`
	AllowedWebOrigins      []string `json:"allowed_web_origins,omitempty"`
	GrantTypes             []string `json:"grant_types,omitempty"`
	AllowedScopes          []string `json:"allowed_scopes,omitempty"`
	AccessTokenTTLSeconds  int32    `json:"access_token_ttl_seconds,omitempty"`
	RefreshTokenTTLSeconds int32    `json:"refresh_token_ttl_seconds,omitempty"`
	Confidential           bool     `json:"confidential"`
}

// Create handles POST /api/v1/platform/applications. The response is the
// only time the client secret appears in plaintext.
func (h *ApplicationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createApplicationRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" || len(req.CallbackURLs) == 0 {
		helpers.RespondError(w, http.StatusBadRequest, "name and callback_urls are required")
		return
	}

	input := oauth2.CreateApplicationInput{
		Name:                   req.Name,
		AppType:                req.AppType,
		CallbackURLs:           req.CallbackURLs,
		AllowedLogoutURLs:      req.AllowedLogoutURLs,
		AllowedWebOrigins:      req.AllowedWebOrigins,
		GrantTypes:             req.GrantTypes,
		AllowedScopes:          req.AllowedScopes,
		AccessTokenTTLSeconds:  req.AccessTokenTTLSeconds,
		RefreshTokenTTLSeconds: req.RefreshTokenTTLSeconds,
		Confidential:           req.Confidential,
	}
	if req.TenantID != nil {
		if id, err := uuid.Parse(*req.TenantID); err == nil {
			input.TenantID = &id
		}
	}

	result, err := h.oauth2.CreateApplication(r.Context(), input)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			helpers.RespondError(w, http.StatusConflict, "already_exists")
			return
		}
		h.logger.Error("application_create_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	resp := map[string]any{
		"client_id":      result.Application.ClientID,
		"name":           result.Application.Name,
		"app_type":       result.Application.AppType,
		"callback_urls":  result.Application.CallbackURLs,
		"grant_types":    result.Application.GrantTypes,
		"allowed_scopes": result.Application.AllowedScopes,
	}
	if result.ClientSecret != nil {
		resp["client_secret"] = *result.ClientSecret
	}
	helpers.RespondJSON(w, http.StatusCreated, resp)
}

// Deactivate handles DELETE /api/v1/platform/applications/{client_id}.
func (h *ApplicationHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if err := h.oauth2.DeactivateApplication(r.Context(), chi.URLParam(r, "client_id")); err != nil {
		h.logger.Error("application_deactivate_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
