package oauth2

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/repository"
)

// RefreshGrant mints a new access token from a stored refresh token. The
// token keeps its scope, audience and organization context; no id_token is
// minted on refresh.
func (s *Service) RefreshGrant(ctx context.Context, refreshToken, clientID string, clientSecret *string) (*TokenResponse, error) {
	app, err := s.Application(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if app.ClientSecretHash != nil {
		if clientSecret == nil || !s.ValidateClientSecret(app, *clientSecret) {
			return nil, ErrInvalidClient
		}
	}

	stored, err := s.oauth.GetLiveRefreshToken(ctx, s.master(), auth.HashToken(refreshToken), clientID)
	if err != nil {
		return nil, ErrInvalidGrant
	}

	if err := s.oauth.TouchRefreshToken(ctx, s.master(), stored.ID); err != nil {
		return nil, fmt.Errorf("failed to stamp refresh token: %w", err)
	}

	pool, err := s.userPool(ctx, stored.TenantID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, pool, stored.UserID)
	if err != nil {
		return nil, ErrInvalidGrant
	}
	if !user.IsActive {
		return nil, ErrInvalidGrant
	}

	signingKey, err := s.keys.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("no signing key configured: %w", err)
	}

	now := time.Now()
	jti := uuid.NewString()
	accessExp := now.Add(time.Duration(app.AccessTokenTTLSeconds) * time.Second)

	var orgID *string
	if stored.TenantID != nil {
		id := stored.TenantID.String()
		orgID = &id
	}

	claims := AccessTokenClaims{
		Azp:   app.ClientID,
		Scope: stored.Scope,
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

	accessToken, err := signRS256(signingKey, claims)
	if err != nil {
		return nil, err
	}

	err = s.oauth.RecordAccessToken(ctx, s.master(), repository.AccessTokenRecord{
		JTI:       jti,
		ClientID:  clientID,
		UserID:    &user.ID,
		TenantID:  stored.TenantID,
		Scope:     stored.Scope,
		ExpiresAt: accessExp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record access token: %w", err)
	}

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(app.AccessTokenTTLSeconds),
		Scope:       stored.Scope,
	}, nil
}

// ClientCredentialsGrant authenticates the client itself and mints a token
// with sub=client_id and no user binding.
func (s *Service) ClientCredentialsGrant(ctx context.Context, clientID, clientSecret, scope string) (*TokenResponse, error) {
	app, err := s.Application(ctx, clientID)
	if err != nil {
		return nil, err
	}
	if !s.ValidateClientSecret(app, clientSecret) {
		return nil, ErrInvalidClient
	}
	if !slices.Contains(app.GrantTypes, "client_credentials") {
		return nil, ErrUnauthorizedClient
	}

	signingKey, err := s.keys.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("no signing key configured: %w", err)
	}

	now := time.Now()
	jti := uuid.NewString()
	accessExp := now.Add(time.Duration(app.AccessTokenTTLSeconds) * time.Second)

	var scopePtr *string
	if scope != "" {
		scopePtr = &scope
	}
	var orgID *string
	if app.TenantID != nil {
		id := app.TenantID.String()
		orgID = &id
	}

	claims := AccessTokenClaims{
		Azp:   app.ClientID,
		Scope: scopePtr,
		OrgID: orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   app.ClientID, // the application itself
			Audience:  jwt.ClaimStrings{app.ClientID},
			ExpiresAt: jwt.NewNumericDate(accessExp),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        jti,
		},
	}

	accessToken, err := signRS256(signingKey, claims)
	if err != nil {
		return nil, err
	}

	err = s.oauth.RecordAccessToken(ctx, s.master(), repository.AccessTokenRecord{
		JTI:       jti,
		ClientID:  clientID,
		TenantID:  app.TenantID,
		Scope:     scopePtr,
		ExpiresAt: accessExp,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record access token: %w", err)
	}

	s.logger.Info("client_credentials_token_issued", "client_id", clientID, "scope", scope)

	return &TokenResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int64(app.AccessTokenTTLSeconds),
		Scope:       scopePtr,
	}, nil
}

// Revoke implements RFC 7009: hash the presented token and mark the refresh
// token revoked. Unknown tokens succeed silently.
func (s *Service) Revoke(ctx context.Context, token, clientID string) error {
	return s.oauth.RevokeRefreshToken(ctx, s.master(), auth.HashToken(token), clientID)
}

// Introspect implements RFC 7662. The token is tried as an RS256 access
// token first (lookup by jti), then as an opaque refresh token (lookup by
// hash). Anything unknown, expired or revoked is {active:false} and nothing
// more.
func (s *Service) Introspect(ctx context.Context, token string) *IntrospectionResponse {
	inactive := &IntrospectionResponse{Active: false}

	// Access token path: ValidateAccessToken verifies the signature, then
	// requires the database record for the jti.
	if claims, err := s.ValidateAccessToken(ctx, token); err == nil {
		tokenType := "access_token"
		exp := claims.ExpiresAt.Unix()
		sub := claims.Subject
		return &IntrospectionResponse{
			Active:    true,
			Scope:     claims.Scope,
			ClientID:  &claims.Azp,
			Sub:       &sub,
			Exp:       &exp,
			TokenType: &tokenType,
		}
	}

	// Refresh token path.
	stored, err := s.oauth.GetRefreshToken(ctx, s.master(), auth.HashToken(token))
	if err != nil {
		return inactive
	}
	if stored.RevokedAt != nil {
		return inactive
	}
	if stored.ExpiresAt != nil && !time.Now().Before(*stored.ExpiresAt) {
		return inactive
	}

	tokenType := "refresh_token"
	sub := stored.UserID.String()
	resp := &IntrospectionResponse{
		Active:    true,
		Scope:     stored.Scope,
		ClientID:  &stored.ClientID,
		Sub:       &sub,
		TokenType: &tokenType,
	}
	if stored.ExpiresAt != nil {
		exp := stored.ExpiresAt.Unix()
		resp.Exp = &exp
	}
	return resp
}

// UserInfo returns the claims permitted by the access token's scope.
func (s *Service) UserInfo(ctx context.Context, claims *AccessTokenClaims) (*UserInfoResponse, error) {
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		// Client-credentials tokens carry no user.
		return nil, ErrInvalidToken
	}

	var tenantID *uuid.UUID
	if claims.OrgID != nil {
		if id, err := uuid.Parse(*claims.OrgID); err == nil {
			tenantID = &id
		}
	}

	pool, err := s.userPool(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, pool, userID)
	if err != nil {
		return nil, ErrInvalidToken
	}

	scopes := parseScopes(claims.Scope)

	resp := &UserInfoResponse{Sub: user.ID.String()}

	if scopes.has("email") {
		email := user.Email
		verified := user.EmailVerified
		resp.Email = &email
		resp.EmailVerified = &verified
	}
	if scopes.has("profile") {
		resp.Name = user.Metadata.DisplayName()
		resp.GivenName = user.Metadata.FirstName
		resp.FamilyName = user.Metadata.LastName
		resp.Picture = user.Metadata.AvatarURL
		updated := user.UpdatedAt.Unix()
		resp.UpdatedAt = &updated
	}
	if tenantID != nil {
		id := tenantID.String()
		resp.OrgID = &id
		if tenant, err := s.tenants.GetByID(ctx, s.master(), *tenantID); err == nil {
			resp.OrgName = &tenant.Name
		}
	}

	return resp, nil
}

// Consent surface.

func (s *Service) GetConsent(ctx context.Context, userID uuid.UUID, clientID string) (*repository.OAuthConsent, error) {
	consent, err := s.oauth.GetConsent(ctx, s.master(), userID, clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	return consent, err
}

func (s *Service) GrantConsent(ctx context.Context, userID uuid.UUID, clientID string, tenantID *uuid.UUID, scopes []string) (*repository.OAuthConsent, error) {
	return s.oauth.GrantConsent(ctx, s.master(), userID, clientID, tenantID, scopes)
}

func (s *Service) RevokeConsent(ctx context.Context, userID uuid.UUID, clientID string) error {
	return s.oauth.RevokeConsent(ctx, s.master(), userID, clientID)
}
