package api

import (
	"log/slog"
	"net/http"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	"github.com/cloudomate/coreauth/internal/oauth2"
)

const sessionCookieName = "coreauth_session"

// SessionHandler serves browser-session endpoints.
type SessionHandler struct {
	oauth2 *oauth2.Service
	logger *slog.Logger
}

func NewSessionHandler(oauth2Service *oauth2.Service, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{oauth2: oauth2Service, logger: logger}
}

// sessionToken reads the session from the cookie or a bearer header (API
// clients that got a session_token from a flow).
func sessionToken(r *http.Request) string {
	if cookie, err := r.Cookie(sessionCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	return bearerToken(r)
}

// WhoAmI handles GET /sessions/whoami.
func (h *SessionHandler) WhoAmI(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		helpers.RespondError(w, http.StatusUnauthorized, "no session")
		return
	}

	session, err := h.oauth2.ValidateLoginSession(r.Context(), token)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid or expired session")
		return
	}

	user, err := h.oauth2.SessionUser(r.Context(), session)
	if err != nil {
		h.logger.Error("session_user_load_failed", "error", err)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid or expired session")
		return
	}

	helpers.RespondJSON(w, http.StatusOK, map[string]any{
		"id":               session.ID,
		"authenticated_at": session.AuthenticatedAt,
		"expires_at":       session.ExpiresAt,
		"mfa_verified":     session.MfaVerified,
		"identity": map[string]any{
			"id":             user.ID,
			"email":          user.Email,
			"email_verified": user.EmailVerified,
		},
	})
}

// Logout handles DELETE /sessions: revoke the browser session.
func (h *SessionHandler) Logout(w http.ResponseWriter, r *http.Request) {
	token := sessionToken(r)
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err := h.oauth2.RevokeLoginSession(r.Context(), token); err != nil {
		h.logger.Error("session_revoke_failed", "error", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}
