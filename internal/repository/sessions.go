package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/storage"
)

const loginSessionColumns = `id, session_token_hash, user_id, tenant_id,
       ip_address, user_agent, authenticated_at, last_active_at, expires_at,
       mfa_verified, mfa_verified_at, revoked_at, created_at`

func scanLoginSession(row pgx.Row) (*LoginSession, error) {
	var s LoginSession
	err := row.Scan(
		&s.ID, &s.SessionTokenHash, &s.UserID, &s.TenantID,
		&s.IPAddress, &s.UserAgent, &s.AuthenticatedAt, &s.LastActiveAt, &s.ExpiresAt,
		&s.MfaVerified, &s.MfaVerifiedAt, &s.RevokedAt, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan login session: %w", err)
	}
	return &s, nil
}

// SessionRepo manages browser login sessions and the legacy auth-session
// refresh-token families.
type SessionRepo struct{}

type CreateLoginSessionParams struct {
	SessionTokenHash string
	UserID           uuid.UUID
	TenantID         *uuid.UUID
	IPAddress        *string
	UserAgent        *string
	MfaVerified      bool
	ExpiresAt        time.Time
}

func (SessionRepo) CreateLoginSession(ctx context.Context, db storage.DB, params CreateLoginSessionParams) (*LoginSession, error) {
	return scanLoginSession(db.QueryRow(ctx, `
		INSERT INTO login_sessions (
			session_token_hash, user_id, tenant_id, ip_address, user_agent,
			mfa_verified, mfa_verified_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, CASE WHEN $6 THEN NOW() END, $7)
		RETURNING `+loginSessionColumns,
		params.SessionTokenHash, params.UserID, params.TenantID,
		params.IPAddress, params.UserAgent, params.MfaVerified, params.ExpiresAt))
}

// GetLiveLoginSession returns an unexpired, unrevoked session and bumps its
// last_active_at stamp.
func (SessionRepo) GetLiveLoginSession(ctx context.Context, db storage.DB, tokenHash string) (*LoginSession, error) {
	session, err := scanLoginSession(db.QueryRow(ctx,
		`SELECT `+loginSessionColumns+` FROM login_sessions
		 WHERE session_token_hash = $1 AND expires_at > NOW() AND revoked_at IS NULL`,
		tokenHash))
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(ctx,
		`UPDATE login_sessions SET last_active_at = NOW() WHERE id = $1`, session.ID)
	if err != nil {
		return nil, err
	}
	return session, nil
}

func (SessionRepo) RevokeLoginSession(ctx context.Context, db storage.DB, tokenHash string) error {
	_, err := db.Exec(ctx,
		`UPDATE login_sessions SET revoked_at = NOW() WHERE session_token_hash = $1`, tokenHash)
	return err
}

const authSessionColumns = `id, user_id, tenant_id, refresh_token_hash, family_id,
       parent_id, ip_address, user_agent, expires_at, revoked_at, created_at`

func scanAuthSession(row pgx.Row) (*AuthSession, error) {
	var s AuthSession
	err := row.Scan(
		&s.ID, &s.UserID, &s.TenantID, &s.RefreshTokenHash, &s.FamilyID,
		&s.ParentID, &s.IPAddress, &s.UserAgent, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan auth session: %w", err)
	}
	return &s, nil
}

type CreateAuthSessionParams struct {
	UserID           uuid.UUID
	TenantID         *uuid.UUID
	RefreshTokenHash string
	FamilyID         uuid.UUID
	ParentID         *uuid.UUID
	IPAddress        *string
	UserAgent        *string
	ExpiresAt        time.Time
}

func (SessionRepo) CreateAuthSession(ctx context.Context, db storage.DB, params CreateAuthSessionParams) (*AuthSession, error) {
	return scanAuthSession(db.QueryRow(ctx, `
		INSERT INTO auth_sessions (
			user_id, tenant_id, refresh_token_hash, family_id, parent_id,
			ip_address, user_agent, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+authSessionColumns,
		params.UserID, params.TenantID, params.RefreshTokenHash, params.FamilyID,
		params.ParentID, params.IPAddress, params.UserAgent, params.ExpiresAt))
}

func (SessionRepo) GetAuthSessionByTokenHash(ctx context.Context, db storage.DB, tokenHash string) (*AuthSession, error) {
	return scanAuthSession(db.QueryRow(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions WHERE refresh_token_hash = $1`,
		tokenHash))
}

// RevokeAuthSession marks a single session revoked (rotation retires the
// parent this way).
func (SessionRepo) RevokeAuthSession(ctx context.Context, db storage.DB, id uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE auth_sessions SET revoked_at = NOW() WHERE id = $1 AND revoked_at IS NULL`, id)
	return err
}

// RevokeAuthSessionFamily revokes every session in a rotation family. This
// is the response to refresh-token reuse.
func (SessionRepo) RevokeAuthSessionFamily(ctx context.Context, db storage.DB, familyID uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE auth_sessions SET revoked_at = NOW() WHERE family_id = $1 AND revoked_at IS NULL`,
		familyID)
	return err
}

// RevokeAllAuthSessions revokes every live session for a user (password
// change, account compromise).
func (SessionRepo) RevokeAllAuthSessions(ctx context.Context, db storage.DB, userID uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE auth_sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`,
		userID)
	return err
}

func (SessionRepo) ListAuthSessionsByUser(ctx context.Context, db storage.DB, userID uuid.UUID) ([]*AuthSession, error) {
	rows, err := db.Query(ctx,
		`SELECT `+authSessionColumns+` FROM auth_sessions
		 WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > NOW()
		 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*AuthSession
	for rows.Next() {
		s, err := scanAuthSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
