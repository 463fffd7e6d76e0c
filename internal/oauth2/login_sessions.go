package oauth2

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/repository"
)

const (
	loginSessionTokenLength = 64
	loginSessionTTL         = 7 * 24 * time.Hour
)

// CreateLoginSessionInput binds a browser session to a user.
type CreateLoginSessionInput struct {
	UserID      uuid.UUID
	TenantID    *uuid.UUID
	IPAddress   *string
	UserAgent   *string
	MfaVerified bool
	TTL         time.Duration // zero means the 7-day default
}

// CreateLoginSession mints an opaque session token; only its hash persists.
func (s *Service) CreateLoginSession(ctx context.Context, input CreateLoginSessionInput) (string, error) {
	token, err := auth.RandomAlphanumeric(loginSessionTokenLength)
	if err != nil {
		return "", err
	}

	ttl := input.TTL
	if ttl == 0 {
		ttl = loginSessionTTL
	}

	_, err = s.sessions.CreateLoginSession(ctx, s.master(), repository.CreateLoginSessionParams{
		SessionTokenHash: auth.HashToken(token),
		UserID:           input.UserID,
		TenantID:         input.TenantID,
		IPAddress:        input.IPAddress,
		UserAgent:        input.UserAgent,
		MfaVerified:      input.MfaVerified,
		ExpiresAt:        time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store login session: %w", err)
	}

	return token, nil
}

// ValidateLoginSession resolves a session token to its live session row and
// bumps last_active_at.
func (s *Service) ValidateLoginSession(ctx context.Context, sessionToken string) (*repository.LoginSession, error) {
	session, err := s.sessions.GetLiveLoginSession(ctx, s.master(), auth.HashToken(sessionToken))
	if err != nil {
		return nil, ErrInvalidToken
	}
	return session, nil
}

// RevokeLoginSession ends a browser session.
func (s *Service) RevokeLoginSession(ctx context.Context, sessionToken string) error {
	return s.sessions.RevokeLoginSession(ctx, s.master(), auth.HashToken(sessionToken))
}

// SessionUser loads the identity behind a validated session.
func (s *Service) SessionUser(ctx context.Context, session *repository.LoginSession) (*repository.User, error) {
	pool, err := s.userPool(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}
	return s.users.GetByID(ctx, pool, session.UserID)
}
