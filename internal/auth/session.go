package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudomate/coreauth/internal/audit"
	"github.com/cloudomate/coreauth/internal/repository"
)

// ErrConcurrentRefresh distinguishes a UI race from actual token theft.
var ErrConcurrentRefresh = errors.New("concurrent refresh request")

// refreshReuseGrace treats a revoked token presented within this window of
// its revocation as a concurrent request rather than theft, so a UI race
// does not nuke the whole family.
const refreshReuseGrace = 10 * time.Second

// sessionPool resolves the pool a session's tokens live in from the token's
// own org claim.
func (s *AuthService) sessionPool(ctx context.Context, claims *Claims) (*pgxpool.Pool, *uuid.UUID, error) {
	orgID := claims.OrgID()
	if orgID == nil {
		return s.router.Master(), nil, nil
	}
	pool, err := s.router.Pool(ctx, *orgID)
	if err != nil {
		return nil, nil, err
	}
	return pool, orgID, nil
}

// RefreshSession rotates a refresh token: the presented token's session is
// revoked and a child session in the same family replaces it. Presenting an
// already-rotated token revokes the entire family.
func (s *AuthService) RefreshSession(ctx context.Context, refreshToken, ip, userAgent string) (*LoginResult, error) {
	claims, err := s.jwt.ValidateTokenOfType(refreshToken, TokenRefresh)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, ErrInvalidToken
	}

	pool, orgID, err := s.sessionPool(ctx, claims)
	if err != nil {
		return nil, err
	}

	hashed := HashToken(refreshToken)
	session, err := s.sessions.GetAuthSessionByTokenHash(ctx, pool, hashed)
	if err != nil {
		return nil, ErrInvalidToken
	}
	if session.UserID != userID {
		return nil, ErrInvalidToken
	}

	// Reuse detection.
	if session.RevokedAt != nil {
		if time.Since(*session.RevokedAt) < refreshReuseGrace {
			return nil, ErrConcurrentRefresh
		}
		// Token theft signal: revoke every descendant of this family.
		if err := s.sessions.RevokeAuthSessionFamily(ctx, pool, session.FamilyID); err != nil {
			s.logger.Error("session_family_revoke_failed", "error", err)
		}
		go s.audit.Log(context.WithoutCancel(ctx), "auth.token.reuse_detected", audit.LogParams{
			ActorID:  session.UserID,
			TargetID: session.UserID,
			TenantID: derefOrNil(orgID),
			IP:       ip,
			Metadata: map[string]interface{}{"family_id": session.FamilyID},
		})
		return nil, ErrTokenReuse
	}

	if time.Now().After(session.ExpiresAt) {
		return nil, ErrExpiredToken
	}

	user, err := s.users.GetByID(ctx, pool, session.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	// Mint the new pair preserving the hierarchical context of the original.
	tokenCtx := TokenContext{
		OrganizationID:   orgID,
		OrganizationSlug: claims.OrganizationSlug,
		Role:             claims.Role,
		IsPlatformAdmin:  claims.IsPlatformAdmin,
	}
	newAccess, err := s.jwt.GenerateAccessToken(user.ID, user.Email, tokenCtx)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}
	newRefresh, err := s.jwt.GenerateRefreshToken(user.ID, user.Email, tokenCtx)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	// Rotate: retire the old session, create its child in the same family.
	if err := s.sessions.RevokeAuthSession(ctx, pool, session.ID); err != nil {
		return nil, fmt.Errorf("rotation failed: %w", err)
	}

	var ipPtr, uaPtr *string
	if ip != "" {
		ipPtr = &ip
	}
	if userAgent != "" {
		uaPtr = &userAgent
	}

	parentID := session.ID
	_, err = s.sessions.CreateAuthSession(ctx, pool, repository.CreateAuthSessionParams{
		UserID:           user.ID,
		TenantID:         orgID,
		RefreshTokenHash: HashToken(newRefresh),
		FamilyID:         session.FamilyID,
		ParentID:         &parentID,
		IPAddress:        ipPtr,
		UserAgent:        uaPtr,
		ExpiresAt:        time.Now().Add(s.config.SessionTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("rotation failed: %w", err)
	}

	s.cacheUser(ctx, user)

	return &LoginResult{
		Status:       LoginSuccess,
		AccessToken:  newAccess,
		RefreshToken: newRefresh,
		ExpiresIn:    int64(s.jwt.accessTokenTTL.Seconds()),
		User:         user,
	}, nil
}

// Logout revokes the refresh token's whole family, killing the session on
// every device that shares it, and drops the cached user.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	claims, err := s.jwt.ValidateTokenOfType(refreshToken, TokenRefresh)
	if err != nil {
		return err
	}

	pool, orgID, err := s.sessionPool(ctx, claims)
	if err != nil {
		return err
	}

	session, err := s.sessions.GetAuthSessionByTokenHash(ctx, pool, HashToken(refreshToken))
	if err != nil {
		// Revoking an unknown token is a silent success.
		return nil
	}

	s.invalidateUserCache(ctx, session.UserID)

	go s.audit.Log(context.WithoutCancel(ctx), "auth.logout", audit.LogParams{
		ActorID:  session.UserID,
		TargetID: session.UserID,
		TenantID: derefOrNil(orgID),
		Metadata: map[string]interface{}{"family_id": session.FamilyID},
	})

	return s.sessions.RevokeAuthSessionFamily(ctx, pool, session.FamilyID)
}

// Sessions lists a user's live sessions.
func (s *AuthService) Sessions(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID) ([]*repository.AuthSession, error) {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return nil, err
		}
	}
	return s.sessions.ListAuthSessionsByUser(ctx, pool, userID)
}

// RevokeAllSessions forces re-login on all devices (password change).
func (s *AuthService) RevokeAllSessions(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID) error {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return err
		}
	}
	s.invalidateUserCache(ctx, userID)
	return s.sessions.RevokeAllAuthSessions(ctx, pool, userID)
}
