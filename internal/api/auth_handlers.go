package api

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	customMiddleware "github.com/cloudomate/coreauth/internal/api/middleware"
	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/repository"
)

// AuthHandler serves the direct (non-flow) authentication API.
type AuthHandler struct {
	auth   *auth.AuthService
	jwt    *auth.JwtService
	logger *slog.Logger
}

func NewAuthHandler(authService *auth.AuthService, jwtService *auth.JwtService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{auth: authService, jwt: jwtService, logger: logger}
}

type loginRequest struct {
	Email            string  `json:"email"`
	Password         string  `json:"password"`
	OrganizationSlug *string `json:"organization_slug,omitempty"`
	OrganizationID   *string `json:"organization_id,omitempty"`
}

// loginResponse mirrors the state machine outcome: success carries tokens,
// the MFA states carry their continuation material.
type loginResponse struct {
	Status       auth.LoginStatus `json:"status"`
	AccessToken  string           `json:"access_token,omitempty"`
	RefreshToken string           `json:"refresh_token,omitempty"`
	TokenType    string           `json:"token_type,omitempty"`
	ExpiresIn    int64            `json:"expires_in,omitempty"`

	ChallengeToken string   `json:"challenge_token,omitempty"`
	Methods        []string `json:"methods,omitempty"`

	EnrollmentToken string     `json:"enrollment_token,omitempty"`
	GraceExpires    *time.Time `json:"grace_period_expires,omitempty"`
	CanSkip         *bool      `json:"can_skip,omitempty"`
}

func loginResultToResponse(result *auth.LoginResult) loginResponse {
	resp := loginResponse{Status: result.Status}
	switch result.Status {
	case auth.LoginSuccess:
		resp.AccessToken = result.AccessToken
		resp.RefreshToken = result.RefreshToken
		resp.TokenType = "Bearer"
		resp.ExpiresIn = result.ExpiresIn
	case auth.LoginMfaRequired:
		resp.ChallengeToken = result.ChallengeToken
		resp.Methods = result.Methods
	case auth.LoginMfaEnrollmentRequired:
		resp.EnrollmentToken = result.EnrollmentToken
		resp.GraceExpires = result.GraceExpires
		canSkip := result.CanSkip
		resp.CanSkip = &canSkip
	}
	return resp
}

// respondAuthError maps the closed auth error set onto stable wire codes
// without leaking which branch failed.
func (h *AuthHandler) respondAuthError(w http.ResponseWriter, err error) {
	var locked *auth.AccountLockedError
	switch {
	case errors.As(err, &locked):
		helpers.RespondJSON(w, http.StatusForbidden, map[string]any{
			"error":        "account_locked",
			"locked_until": locked.Until,
		})
	case errors.Is(err, auth.ErrAccountBanned):
		helpers.RespondError(w, http.StatusForbidden, "account_banned")
	case errors.Is(err, auth.ErrUserInactive):
		helpers.RespondError(w, http.StatusForbidden, "user_inactive")
	case errors.Is(err, auth.ErrSsoRequired):
		helpers.RespondError(w, http.StatusForbidden, "sso_required")
	case errors.Is(err, auth.ErrTokenReuse):
		helpers.RespondError(w, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, auth.ErrInvalidCredentials),
		errors.Is(err, auth.ErrInvalidCode),
		errors.Is(err, auth.ErrInvalidToken),
		errors.Is(err, auth.ErrExpiredToken):
		helpers.RespondError(w, http.StatusUnauthorized, "invalid_credentials")
	default:
		h.logger.Error("auth_internal_error", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
	}
}

// Login handles POST /api/v1/auth/login.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := auth.LoginInput{
		Email:     req.Email,
		Password:  req.Password,
		IP:        helpers.GetRealIP(r),
		UserAgent: r.UserAgent(),
	}
	if req.OrganizationSlug != nil {
		input.OrganizationSlug = *req.OrganizationSlug
	}
	if req.OrganizationID != nil {
		if id, err := uuid.Parse(*req.OrganizationID); err == nil {
			input.OrganizationID = &id
		}
	}

	result, err := h.auth.Login(r.Context(), input)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResultToResponse(result))
}

type mfaVerifyRequest struct {
	ChallengeToken   string  `json:"challenge_token"`
	Code             string  `json:"code"`
	OrganizationSlug *string `json:"organization_slug,omitempty"`
}

// VerifyMFA handles POST /api/v1/auth/mfa/verify.
func (h *AuthHandler) VerifyMFA(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := auth.VerifyMfaInput{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		IP:             helpers.GetRealIP(r),
		UserAgent:      r.UserAgent(),
	}
	if req.OrganizationSlug != nil {
		input.OrganizationSlug = *req.OrganizationSlug
	}

	result, err := h.auth.VerifyMFA(r.Context(), input)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResultToResponse(result))
}

// VerifyBackupCode handles POST /api/v1/auth/mfa/backup.
func (h *AuthHandler) VerifyBackupCode(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	input := auth.VerifyMfaInput{
		ChallengeToken: req.ChallengeToken,
		Code:           req.Code,
		IP:             helpers.GetRealIP(r),
		UserAgent:      r.UserAgent(),
	}
	if req.OrganizationSlug != nil {
		input.OrganizationSlug = *req.OrganizationSlug
	}

	result, err := h.auth.VerifyBackupCode(r.Context(), input)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResultToResponse(result))
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Refresh handles POST /api/v1/auth/refresh. Rotation is single-use;
// reusing a rotated token revokes its whole family.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.auth.RefreshSession(r.Context(), req.RefreshToken, helpers.GetRealIP(r), r.UserAgent())
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, loginResultToResponse(result))
}

// Logout handles POST /api/v1/auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.auth.Logout(r.Context(), req.RefreshToken); err != nil {
		h.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type registerRequest struct {
	Email          string  `json:"email"`
	Password       string  `json:"password"`
	FullName       *string `json:"full_name,omitempty"`
	OrganizationID *string `json:"organization_id,omitempty"`
	InviteToken    *string `json:"invite_token,omitempty"`
}

// Register handles POST /api/v1/auth/register.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.Password) < 8 {
		helpers.RespondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	input := auth.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
	}
	if req.FullName != nil {
		input.FullName = *req.FullName
	}
	if req.InviteToken != nil {
		input.InviteToken = *req.InviteToken
	}
	if req.OrganizationID != nil {
		if id, err := uuid.Parse(*req.OrganizationID); err == nil {
			input.OrganizationID = &id
		}
	}

	user, err := h.auth.Register(r.Context(), input)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			helpers.RespondError(w, http.StatusConflict, "already_exists")
			return
		}
		if errors.Is(err, auth.ErrPublicRegistrationDisabled) {
			helpers.RespondError(w, http.StatusForbidden, "registration_disabled")
			return
		}
		h.logger.Error("registration_failed", "error", err)
		helpers.RespondError(w, http.StatusBadRequest, "registration failed")
		return
	}

	helpers.RespondJSON(w, http.StatusCreated, map[string]any{
		"id":    user.ID,
		"email": user.Email,
	})
}

// enrollmentSubject authorizes the MFA setup endpoints: a session bearer or
// an enrollment token both work, so a user gated by MfaEnrollmentRequired
// can enroll before they can log in.
func (h *AuthHandler) enrollmentSubject(r *http.Request) (uuid.UUID, *uuid.UUID, bool) {
	if userID, ok := customMiddleware.UserID(r.Context()); ok {
		return userID, customMiddleware.OrgID(r.Context()), true
	}

	token := customMiddleware.BearerToken(r)
	if token == "" {
		return uuid.Nil, nil, false
	}
	claims, err := h.jwt.ValidateTokenOfType(token, auth.TokenEnrollment)
	if err != nil {
		claims, err = h.jwt.ValidateTokenOfType(token, auth.TokenAccess)
		if err != nil {
			return uuid.Nil, nil, false
		}
	}
	userID, err := claims.UserID()
	if err != nil {
		return uuid.Nil, nil, false
	}
	return userID, claims.OrgID(), true
}

// SetupMFA handles POST /api/v1/auth/mfa/setup.
func (h *AuthHandler) SetupMFA(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.enrollmentSubject(r)
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	result, err := h.auth.SetupMFA(r.Context(), orgID, userID)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"secret":       result.Secret,
		"otpauth_url":  result.OtpauthURL,
		"backup_codes": result.BackupCodes,
	})
}

type mfaActivateRequest struct {
	Code        string   `json:"code"`
	BackupCodes []string `json:"backup_codes"`
}

// ActivateMFA handles POST /api/v1/auth/mfa/activate.
func (h *AuthHandler) ActivateMFA(w http.ResponseWriter, r *http.Request) {
	userID, orgID, ok := h.enrollmentSubject(r)
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req mfaActivateRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.auth.ActivateMFA(r.Context(), orgID, userID, req.Code, req.BackupCodes); err != nil {
		h.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

// InviteUser handles POST /api/v1/admin/users/invite.
func (h *AuthHandler) InviteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMiddleware.UserID(r.Context())
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}
	orgID := customMiddleware.OrgID(r.Context())
	if orgID == nil {
		helpers.RespondError(w, http.StatusBadRequest, "organization context required")
		return
	}

	var req inviteRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = "member"
	}

	token, err := h.auth.CreateInvitation(r.Context(), *orgID, req.Email, req.Role, userID)
	if err != nil {
		h.logger.Error("invitation_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	// The raw token goes back to the admin; mail delivery is out of scope
	// for this service and handled by the caller.
	helpers.RespondJSON(w, http.StatusCreated, map[string]string{"invite_token": token})
}

// RemoveUser handles DELETE /api/v1/admin/users/{userID}: deactivation,
// never a hard delete.
func (h *AuthHandler) RemoveUser(w http.ResponseWriter, r *http.Request) {
	targetID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	if err := h.auth.DeactivateUser(r.Context(), customMiddleware.OrgID(r.Context()), targetID); err != nil {
		h.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type changePasswordRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// ChangePassword handles PUT /api/v1/auth/security/password.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMiddleware.UserID(r.Context())
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	var req changePasswordRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < 8 {
		helpers.RespondError(w, http.StatusBadRequest, "password must be at least 8 characters")
		return
	}

	err := h.auth.ChangePassword(r.Context(), customMiddleware.OrgID(r.Context()), userID, req.OldPassword, req.NewPassword)
	if err != nil {
		h.respondAuthError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Sessions handles GET /api/v1/auth/sessions.
func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	userID, ok := customMiddleware.UserID(r.Context())
	if !ok {
		helpers.RespondError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	sessions, err := h.auth.Sessions(r.Context(), customMiddleware.OrgID(r.Context()), userID)
	if err != nil {
		h.logger.Error("session_list_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	type sessionView struct {
		ID        uuid.UUID `json:"id"`
		IPAddress *string   `json:"ip_address,omitempty"`
		UserAgent *string   `json:"user_agent,omitempty"`
		CreatedAt time.Time `json:"created_at"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, sessionView{
			ID:        s.ID,
			IPAddress: s.IPAddress,
			UserAgent: s.UserAgent,
			CreatedAt: s.CreatedAt,
			ExpiresAt: s.ExpiresAt,
		})
	}
	helpers.RespondJSON(w, http.StatusOK, map[string]any{"sessions": views})
}
