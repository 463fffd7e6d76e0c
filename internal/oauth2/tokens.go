package oauth2

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/repository"
)

// generateTokens mints the access token, the id_token when openid scope is
// present, and a refresh token when offline_access is granted. The access
// token is recorded by jti so introspection and revocation have an
// authoritative row to consult.
func (s *Service) generateTokens(ctx context.Context, user *repository.User, app *repository.Application, scope, nonce *string, tenantID *uuid.UUID, includeRefresh bool, amr []string) (*TokenResponse, error) {
	signingKey, err := s.keys.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("no signing key configured: %w", err)
	}

	now := time.Now()
	jti := uuid.NewString()
	accessExp := now.Add(time.Duration(app.AccessTokenTTLSeconds) * time.Second)

	var orgID *string
	if tenantID != nil {
		id := tenantID.String()
		orgID = &id
	}

	accessClaims := AccessTokenClaims{
		Azp:   app.ClientID,
		Scope: scope,
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings{app.ClientID},
			ExpiresAt: jwt.NewNumericDate(accessExp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	accessToken, err := signRS256(signingKey, accessClaims)
	if err != nil {
		return nil, err
	}

	var idToken *string
	scopes := parseScopes(scope)
	if scopes.has("openid") {
		token, err := s.mintIDToken(ctx, signingKey, user, app, scopes, nonce, tenantID, amr, now, accessExp)
		if err != nil {
			return nil, err
		}
		idToken = &token
	}

	var refreshToken *string
	if includeRefresh && (scope == nil || scopes.has("offline_access")) {
		token, err := s.createRefreshToken(ctx, app, user.ID, tenantID, scope)
		if err != nil {
			return nil, err
		}
		refreshToken = &token
	}

	err = s.oauth.RecordAccessToken(ctx, s.master(), repository.AccessTokenRecord{
		JTI:       jti,
		ClientID:  app.ClientID,
		UserID:    &user.ID,
		TenantID:  tenantID,
		Scope:     scope,
		ExpiresAt: accessExp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record access token: %w", err)
	}

	return &TokenResponse{
		AccessToken:  accessToken,
		TokenType:    "Bearer",
		ExpiresIn:    int64(app.AccessTokenTTLSeconds),
		RefreshToken: refreshToken,
		IDToken:      idToken,
		Scope:        scope,
	}, nil
}

// mintIDToken builds the identity token with claims gated by scope: email
// claims behind the email scope, profile claims behind profile, org claims
// when the login carries organization context.
func (s *Service) mintIDToken(ctx context.Context, key *auth.SigningKey, user *repository.User, app *repository.Application, scopes scopeSet, nonce *string, tenantID *uuid.UUID, amr []string, now time.Time, exp time.Time) (string, error) {
	authTime := now.Unix()
	azp := app.ClientID

	claims := IDTokenClaims{
		Nonce:    nonce,
		AuthTime: &authTime,
		Amr:      amr,
		Azp:      &azp,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   user.ID.String(),
			Audience:  jwt.ClaimStrings{app.ClientID},
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	if scopes.has("email") {
		email := user.Email
		verified := user.EmailVerified
		claims.Email = &email
		claims.EmailVerified = &verified
	}

	if scopes.has("profile") {
		claims.Name = user.Metadata.DisplayName()
		claims.GivenName = user.Metadata.FirstName
		claims.FamilyName = user.Metadata.LastName
		claims.Picture = user.Metadata.AvatarURL
		updated := user.UpdatedAt.Unix()
		claims.UpdatedAt = &updated
	}

	if tenantID != nil {
		id := tenantID.String()
		claims.OrgID = &id
		if tenant, err := s.tenants.GetByID(ctx, s.master(), *tenantID); err == nil {
			claims.OrgName = &tenant.Name
		}
	}

	return signRS256(key, claims)
}

func signRS256(key *auth.SigningKey, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = key.Kid
	signed, err := token.SignedString(key.PrivateKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// createRefreshToken mints an opaque token and persists only its hash.
func (s *Service) createRefreshToken(ctx context.Context, app *repository.Application, userID uuid.UUID, tenantID *uuid.UUID, scope *string) (string, error) {
	token, err := auth.RandomAlphanumeric(refreshTokenLength)
	if err != nil {
		return "", err
	}

	var expiresAt *time.Time
	if app.RefreshTokenTTLSeconds > 0 {
		exp := time.Now().Add(time.Duration(app.RefreshTokenTTLSeconds) * time.Second)
		expiresAt = &exp
	}

	err = s.oauth.CreateRefreshToken(ctx, s.master(), repository.CreateRefreshTokenParams{
		TokenHash: auth.HashToken(token),
		ClientID:  app.ClientID,
		UserID:    userID,
		TenantID:  tenantID,
		Scope:     scope,
		ExpiresAt: expiresAt,
	})
	if err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}

	return token, nil
}

// ValidateAccessToken verifies an RS256 bearer token: signature by kid,
// expiry, and the presence of its jti record, which is required alongside
// the signature. No code path deletes these records, so a signed token
// stays valid until it expires.
func (s *Service) ValidateAccessToken(ctx context.Context, tokenString string) (*AccessTokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AccessTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("missing kid header")
		}
		key, err := s.keys.ByKid(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key.PublicKey, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*AccessTokenClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	record, err := s.oauth.GetAccessToken(ctx, s.master(), claims.ID)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if !time.Now().Before(record.ExpiresAt) {
		// A token presented exactly at exp is rejected.
		return nil, ErrInvalidToken
	}

	return claims, nil
}
