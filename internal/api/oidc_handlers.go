package api

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	"github.com/cloudomate/coreauth/internal/oauth2"
	"github.com/cloudomate/coreauth/internal/storage"
)

// OidcHandler serves the OAuth2/OIDC protocol surface.
type OidcHandler struct {
	oauth2 *oauth2.Service
	router *storage.Router
	logger *slog.Logger
}

func NewOidcHandler(oauth2Service *oauth2.Service, router *storage.Router, logger *slog.Logger) *OidcHandler {
	return &OidcHandler{oauth2: oauth2Service, router: router, logger: logger}
}

// GetDiscovery handles GET /.well-known/openid-configuration.
func (h *OidcHandler) GetDiscovery(w http.ResponseWriter, r *http.Request) {
	helpers.RespondJSON(w, http.StatusOK, h.oauth2.Discovery())
}

// GetJWKS handles GET /.well-known/jwks.json.
func (h *OidcHandler) GetJWKS(w http.ResponseWriter, r *http.Request) {
	jwks, err := h.oauth2.JWKS(r.Context())
	if err != nil {
		h.logger.Error("jwks_load_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, jwks)
}

// mapOAuthError translates service errors onto wire codes. Client auth
// failures are 401; everything else in the closed set is 400.
func (h *OidcHandler) mapOAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, oauth2.ErrInvalidClient):
		helpers.RespondOAuthError(w, http.StatusUnauthorized, "invalid_client", "client authentication failed")
	case errors.Is(err, oauth2.ErrInvalidGrant):
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_grant", "invalid or expired grant")
	case errors.Is(err, oauth2.ErrInvalidScope):
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_scope", "requested scope exceeds the client grant")
	case errors.Is(err, oauth2.ErrUnauthorizedClient):
		helpers.RespondOAuthError(w, http.StatusBadRequest, "unauthorized_client", "client is not authorized for this grant type")
	case errors.Is(err, oauth2.ErrUnsupportedGrantType):
		helpers.RespondOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant type not supported")
	case errors.Is(err, oauth2.ErrInvalidRequest):
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_request", err.Error())
	default:
		h.logger.Error("oauth_internal_error", "error", err)
		helpers.RespondOAuthError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// Authorize handles GET /authorize: validate, persist the authorization
// request, 302 to the self-service login flow.
func (h *OidcHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	optional := func(key string) *string {
		if v := q.Get(key); v != "" {
			return &v
		}
		return nil
	}

	input := oauth2.CreateAuthorizationRequestInput{
		ClientID:            q.Get("client_id"),
		RedirectURI:         q.Get("redirect_uri"),
		ResponseType:        q.Get("response_type"),
		Scope:               optional("scope"),
		State:               optional("state"),
		CodeChallenge:       optional("code_challenge"),
		CodeChallengeMethod: optional("code_challenge_method"),
		Nonce:               optional("nonce"),
		LoginHint:           optional("login_hint"),
		Prompt:              optional("prompt"),
		UILocales:           optional("ui_locales"),
	}

	if maxAge := q.Get("max_age"); maxAge != "" {
		if v, err := strconv.ParseInt(maxAge, 10, 32); err == nil {
			age := int32(v)
			input.MaxAge = &age
		}
	}

	if input.ClientID == "" || input.RedirectURI == "" || input.ResponseType == "" {
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id, redirect_uri and response_type are required")
		return
	}

	// Organization hint routes the login to a tenant's user base.
	if org := q.Get("organization"); org != "" {
		record, err := h.router.TenantRecordBySlug(r.Context(), org)
		if err != nil {
			helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_request", "unknown organization")
			return
		}
		input.TenantID = &record.ID
	}

	request, err := h.oauth2.CreateAuthorizationRequest(r.Context(), input)
	if err != nil {
		h.mapOAuthError(w, err)
		return
	}

	target := url.URL{
		Path: "/self-service/login/browser",
		RawQuery: url.Values{
			"request_id": {request.RequestID},
		}.Encode(),
	}
	http.Redirect(w, r, target.String(), http.StatusFound)
}

// Token handles POST /oauth/token (form-encoded).
func (h *OidcHandler) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	clientID, clientSecret := clientCredentials(r)
	if clientID == "" {
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_request", "client_id is required")
		return
	}

	var secretPtr *string
	if clientSecret != "" {
		secretPtr = &clientSecret
	}

	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		resp, err := h.oauth2.ExchangeAuthorizationCode(r.Context(), oauth2.ExchangeInput{
			Code:         r.PostFormValue("code"),
			ClientID:     clientID,
			ClientSecret: secretPtr,
			RedirectURI:  r.PostFormValue("redirect_uri"),
			CodeVerifier: optionalForm(r, "code_verifier"),
		})
		if err != nil {
			h.mapOAuthError(w, err)
			return
		}
		helpers.RespondJSON(w, http.StatusOK, resp)

	case "refresh_token":
		resp, err := h.oauth2.RefreshGrant(r.Context(), r.PostFormValue("refresh_token"), clientID, secretPtr)
		if err != nil {
			h.mapOAuthError(w, err)
			return
		}
		helpers.RespondJSON(w, http.StatusOK, resp)

	case "client_credentials":
		resp, err := h.oauth2.ClientCredentialsGrant(r.Context(), clientID, clientSecret, r.PostFormValue("scope"))
		if err != nil {
			h.mapOAuthError(w, err)
			return
		}
		helpers.RespondJSON(w, http.StatusOK, resp)

	default:
		helpers.RespondOAuthError(w, http.StatusBadRequest, "unsupported_grant_type", "grant type not supported")
	}
}

// clientCredentials reads client auth from Basic auth or the form body.
func clientCredentials(r *http.Request) (string, string) {
	if id, secret, ok := r.BasicAuth(); ok {
		return id, secret
	}
	return r.PostFormValue("client_id"), r.PostFormValue("client_secret")
}

func optionalForm(r *http.Request, key string) *string {
	if v := r.PostFormValue(key); v != "" {
		return &v
	}
	return nil
}

// UserInfo handles GET/POST /userinfo.
func (h *OidcHandler) UserInfo(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		w.Header().Set("WWW-Authenticate", `Bearer realm="userinfo"`)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	claims, err := h.oauth2.ValidateAccessToken(r.Context(), token)
	if err != nil {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
		helpers.RespondError(w, http.StatusUnauthorized, "invalid_token")
		return
	}

	info, err := h.oauth2.UserInfo(r.Context(), claims)
	if err != nil {
		helpers.RespondError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, info)
}

// Revoke handles POST /oauth/revoke (RFC 7009). Unknown tokens succeed
// silently.
func (h *OidcHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}

	clientID, _ := clientCredentials(r)
	if err := h.oauth2.Revoke(r.Context(), r.PostFormValue("token"), clientID); err != nil {
		h.logger.Error("revocation_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Introspect handles POST /oauth/introspect (RFC 7662).
func (h *OidcHandler) Introspect(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		helpers.RespondOAuthError(w, http.StatusBadRequest, "invalid_request", "malformed form body")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, h.oauth2.Introspect(r.Context(), r.PostFormValue("token")))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// parseUUID is shared by handlers reading ids from paths.
func parseUUID(s string) (uuid.UUID, error) {
	return uuid.Parse(s)
}
