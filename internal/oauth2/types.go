// Package oauth2 implements the OIDC authorization server: authorization
// requests and codes with PKCE, RS256 token issuance, refresh and client
// credentials grants, revocation, introspection, userinfo, discovery and
// JWKS.
package oauth2

import (
	"errors"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// OAuth error codes per RFC 6749 §5.2. These surface verbatim on the wire.
var (
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidClient        = errors.New("invalid_client")
	ErrInvalidGrant         = errors.New("invalid_grant")
	ErrUnauthorizedClient   = errors.New("unauthorized_client")
	ErrUnsupportedGrantType = errors.New("unsupported_grant_type")
	ErrInvalidScope         = errors.New("invalid_scope")
	ErrInvalidToken         = errors.New("invalid_token")
)

// TokenResponse is the token endpoint success body.
type TokenResponse struct {
	AccessToken  string  `json:"access_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int64   `json:"expires_in"`
	RefreshToken *string `json:"refresh_token,omitempty"`
	IDToken      *string `json:"id_token,omitempty"`
	Scope        *string `json:"scope,omitempty"`
}

// AccessTokenClaims is the RS256 access token payload.
type AccessTokenClaims struct {
	Azp   string  `json:"azp"`
	Scope *string `json:"scope,omitempty"`
	OrgID *string `json:"org_id,omitempty"`
	jwt.RegisteredClaims
}

// IDTokenClaims carries the OIDC identity claims, filtered by granted
// scopes at mint time.
type IDTokenClaims struct {
	Nonce         *string  `json:"nonce,omitempty"`
	AuthTime      *int64   `json:"auth_time,omitempty"`
	Amr           []string `json:"amr,omitempty"`
	Azp           *string  `json:"azp,omitempty"`
	Email         *string  `json:"email,omitempty"`
	EmailVerified *bool    `json:"email_verified,omitempty"`
	Name          *string  `json:"name,omitempty"`
	GivenName     *string  `json:"given_name,omitempty"`
	FamilyName    *string  `json:"family_name,omitempty"`
	Picture       *string  `json:"picture,omitempty"`
	UpdatedAt     *int64   `json:"updated_at,omitempty"`
	OrgID         *string  `json:"org_id,omitempty"`
	OrgName       *string  `json:"org_name,omitempty"`
	jwt.RegisteredClaims
}

// UserInfoResponse is the /userinfo body, scope-filtered like the id_token.
type UserInfoResponse struct {
	Sub           string  `json:"sub"`
	Email         *string `json:"email,omitempty"`
	EmailVerified *bool   `json:"email_verified,omitempty"`
	Name          *string `json:"name,omitempty"`
	GivenName     *string `json:"given_name,omitempty"`
	FamilyName    *string `json:"family_name,omitempty"`
	Picture       *string `json:"picture,omitempty"`
	UpdatedAt     *int64  `json:"updated_at,omitempty"`
	OrgID         *string `json:"org_id,omitempty"`
	OrgName       *string `json:"org_name,omitempty"`
}

// IntrospectionResponse per RFC 7662. Inactive tokens reveal nothing else.
type IntrospectionResponse struct {
	Active    bool    `json:"active"`
	Scope     *string `json:"scope,omitempty"`
	ClientID  *string `json:"client_id,omitempty"`
	Sub       *string `json:"sub,omitempty"`
	Exp       *int64  `json:"exp,omitempty"`
	TokenType *string `json:"token_type,omitempty"`
}

// scopeSet answers "was this scope granted".
type scopeSet map[string]struct{}

func parseScopes(scope *string) scopeSet {
	set := scopeSet{}
	if scope == nil {
		return set
	}
	for _, s := range strings.Fields(*scope) {
		set[s] = struct{}{}
	}
	return set
}

func (s scopeSet) has(scope string) bool {
	_, ok := s[scope]
	return ok
}
