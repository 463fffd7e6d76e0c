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

const authRequestColumns = `id, request_id, client_id, redirect_uri, response_type,
       scope, state, code_challenge, code_challenge_method, nonce, tenant_id,
       login_hint, prompt, max_age, ui_locales, expires_at, created_at`

func scanAuthRequest(row pgx.Row) (*AuthorizationRequest, error) {
	var r AuthorizationRequest
	err := row.Scan(
		&r.ID, &r.RequestID, &r.ClientID, &r.RedirectURI, &r.ResponseType,
		&r.Scope, &r.State, &r.CodeChallenge, &r.CodeChallengeMethod, &r.Nonce, &r.TenantID,
		&r.LoginHint, &r.Prompt, &r.MaxAge, &r.UILocales, &r.ExpiresAt, &r.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan authorization request: %w", err)
	}
	return &r, nil
}

// OAuthRepo reads and writes the OAuth server-side state: authorization
// requests, authorization codes, access-token records, refresh tokens and
// consents.
type OAuthRepo struct{}

type CreateAuthRequestParams struct {
	RequestID           string
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               *string
	State               *string
	CodeChallenge       *string
	CodeChallengeMethod *string
	Nonce               *string
	TenantID            *uuid.UUID
	LoginHint           *string
	Prompt              *string
	MaxAge              *int32
	UILocales           *string
	ExpiresAt           time.Time
}

func (OAuthRepo) CreateAuthRequest(ctx context.Context, db storage.DB, params CreateAuthRequestParams) (*AuthorizationRequest, error) {
	return scanAuthRequest(db.QueryRow(ctx, `
		INSERT INTO oauth_authorization_requests (
			request_id, client_id, redirect_uri, response_type, scope, state,
			code_challenge, code_challenge_method, nonce, tenant_id,
			login_hint, prompt, max_age, ui_locales, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING `+authRequestColumns,
		params.RequestID, params.ClientID, params.RedirectURI, params.ResponseType,
		params.Scope, params.State, params.CodeChallenge, params.CodeChallengeMethod,
		params.Nonce, params.TenantID, params.LoginHint, params.Prompt,
		params.MaxAge, params.UILocales, params.ExpiresAt))
}

// GetAuthRequest returns an unexpired authorization request.
func (OAuthRepo) GetAuthRequest(ctx context.Context, db storage.DB, requestID string) (*AuthorizationRequest, error) {
	return scanAuthRequest(db.QueryRow(ctx,
		`SELECT `+authRequestColumns+` FROM oauth_authorization_requests
		 WHERE request_id = $1 AND expires_at > NOW()`, requestID))
}

func (OAuthRepo) DeleteAuthRequest(ctx context.Context, db storage.DB, requestID string) error {
	_, err := db.Exec(ctx,
		`DELETE FROM oauth_authorization_requests WHERE request_id = $1`, requestID)
	return err
}

const authCodeColumns = `id, code, client_id, user_id, tenant_id, redirect_uri, scope,
       code_challenge, code_challenge_method, nonce, state, response_type,
       expires_at, used_at, created_at`

func scanAuthCode(row pgx.Row) (*AuthorizationCode, error) {
	var c AuthorizationCode
	err := row.Scan(
		&c.ID, &c.Code, &c.ClientID, &c.UserID, &c.TenantID, &c.RedirectURI, &c.Scope,
		&c.CodeChallenge, &c.CodeChallengeMethod, &c.Nonce, &c.State, &c.ResponseType,
		&c.ExpiresAt, &c.UsedAt, &c.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan authorization code: %w", err)
	}
	return &c, nil
}

type CreateAuthCodeParams struct {
	Code                string
	ClientID            string
	UserID              uuid.UUID
	TenantID            *uuid.UUID
	RedirectURI         string
	Scope               *string
	CodeChallenge       *string
	CodeChallengeMethod *string
	Nonce               *string
	State               *string
	ResponseType        string
	ExpiresAt           time.Time
}

func (OAuthRepo) CreateAuthCode(ctx context.Context, db storage.DB, params CreateAuthCodeParams) error {
	_, err := db.Exec(ctx, `
		INSERT INTO oauth_authorization_codes (
			code, client_id, user_id, tenant_id, redirect_uri, scope,
			code_challenge, code_challenge_method, nonce, state, response_type, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		params.Code, params.ClientID, params.UserID, params.TenantID,
		params.RedirectURI, params.Scope, params.CodeChallenge, params.CodeChallengeMethod,
		params.Nonce, params.State, params.ResponseType, params.ExpiresAt)
	return err
}

// GetLiveAuthCode returns an unexpired, unused code for a client.
func (OAuthRepo) GetLiveAuthCode(ctx context.Context, db storage.DB, code, clientID string) (*AuthorizationCode, error) {
	return scanAuthCode(db.QueryRow(ctx,
		`SELECT `+authCodeColumns+` FROM oauth_authorization_codes
		 WHERE code = $1 AND client_id = $2 AND expires_at > NOW() AND used_at IS NULL`,
		code, clientID))
}

// ConsumeAuthCode atomically stamps used_at. The conditional update is the
// single-use guarantee: of two concurrent exchanges, exactly one sees a row
// affected and the loser gets ErrNotFound.
func (OAuthRepo) ConsumeAuthCode(ctx context.Context, db storage.DB, code string) error {
	tag, err := db.Exec(ctx,
		`UPDATE oauth_authorization_codes SET used_at = NOW()
		 WHERE code = $1 AND used_at IS NULL AND expires_at > NOW()`, code)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordAccessToken inserts the introspection record for an issued token.
func (OAuthRepo) RecordAccessToken(ctx context.Context, db storage.DB, rec AccessTokenRecord) error {
	_, err := db.Exec(ctx, `
		INSERT INTO oauth_access_tokens (jti, client_id, user_id, tenant_id, scope, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.JTI, rec.ClientID, rec.UserID, rec.TenantID, rec.Scope, rec.ExpiresAt)
	return err
}

func (OAuthRepo) GetAccessToken(ctx context.Context, db storage.DB, jti string) (*AccessTokenRecord, error) {
	var r AccessTokenRecord
	err := db.QueryRow(ctx, `
		SELECT id, jti, client_id, user_id, tenant_id, scope, expires_at, created_at
		FROM oauth_access_tokens WHERE jti = $1`, jti).
		Scan(&r.ID, &r.JTI, &r.ClientID, &r.UserID, &r.TenantID, &r.Scope, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan access token: %w", err)
	}
	return &r, nil
}

const refreshTokenColumns = `id, token_hash, client_id, user_id, tenant_id, scope, audience,
       expires_at, last_used_at, revoked_at, created_at`

func scanRefreshToken(row pgx.Row) (*RefreshToken, error) {
	var t RefreshToken
	err := row.Scan(
		&t.ID, &t.TokenHash, &t.ClientID, &t.UserID, &t.TenantID, &t.Scope, &t.Audience,
		&t.ExpiresAt, &t.LastUsedAt, &t.RevokedAt, &t.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan refresh token: %w", err)
	}
	return &t, nil
}

type CreateRefreshTokenParams struct {
	TokenHash string
	ClientID  string
	UserID    uuid.UUID
	TenantID  *uuid.UUID
	Scope     *string
	Audience  *string
	ExpiresAt *time.Time
}

func (OAuthRepo) CreateRefreshToken(ctx context.Context, db storage.DB, params CreateRefreshTokenParams) error {
	_, err := db.Exec(ctx, `
		INSERT INTO oauth_refresh_tokens (token_hash, client_id, user_id, tenant_id, scope, audience, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		params.TokenHash, params.ClientID, params.UserID, params.TenantID,
		params.Scope, params.Audience, params.ExpiresAt)
	return err
}

// GetLiveRefreshToken returns a non-revoked, non-expired refresh token bound
// to the presenting client.
func (OAuthRepo) GetLiveRefreshToken(ctx context.Context, db storage.DB, tokenHash, clientID string) (*RefreshToken, error) {
	return scanRefreshToken(db.QueryRow(ctx,
		`SELECT `+refreshTokenColumns+` FROM oauth_refresh_tokens
		 WHERE token_hash = $1 AND client_id = $2
		   AND revoked_at IS NULL
		   AND (expires_at IS NULL OR expires_at > NOW())`,
		tokenHash, clientID))
}

// GetRefreshToken returns a refresh token regardless of its state, for
// introspection.
func (OAuthRepo) GetRefreshToken(ctx context.Context, db storage.DB, tokenHash string) (*RefreshToken, error) {
	return scanRefreshToken(db.QueryRow(ctx,
		`SELECT `+refreshTokenColumns+` FROM oauth_refresh_tokens WHERE token_hash = $1`,
		tokenHash))
}

func (OAuthRepo) TouchRefreshToken(ctx context.Context, db storage.DB, id uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE oauth_refresh_tokens SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

// RevokeRefreshToken marks a token revoked; unknown hashes are a no-op per
// RFC 7009.
func (OAuthRepo) RevokeRefreshToken(ctx context.Context, db storage.DB, tokenHash, clientID string) error {
	_, err := db.Exec(ctx,
		`UPDATE oauth_refresh_tokens SET revoked_at = NOW()
		 WHERE token_hash = $1 AND client_id = $2 AND revoked_at IS NULL`,
		tokenHash, clientID)
	return err
}

func scanConsent(row pgx.Row) (*OAuthConsent, error) {
	var c OAuthConsent
	err := row.Scan(&c.ID, &c.UserID, &c.ClientID, &c.TenantID, &c.Scopes, &c.GrantedAt, &c.RevokedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan consent: %w", err)
	}
	return &c, nil
}

const consentColumns = `id, user_id, client_id, tenant_id, scopes, granted_at, revoked_at`

func (OAuthRepo) GetConsent(ctx context.Context, db storage.DB, userID uuid.UUID, clientID string) (*OAuthConsent, error) {
	return scanConsent(db.QueryRow(ctx,
		`SELECT `+consentColumns+` FROM oauth_consents
		 WHERE user_id = $1 AND client_id = $2 AND revoked_at IS NULL`,
		userID, clientID))
}

func (OAuthRepo) GrantConsent(ctx context.Context, db storage.DB, userID uuid.UUID, clientID string, tenantID *uuid.UUID, scopes []string) (*OAuthConsent, error) {
	return scanConsent(db.QueryRow(ctx, `
		INSERT INTO oauth_consents (user_id, client_id, tenant_id, scopes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id)
		DO UPDATE SET scopes = $4, granted_at = NOW(), revoked_at = NULL
		RETURNING `+consentColumns,
		userID, clientID, tenantID, scopes))
}

func (OAuthRepo) RevokeConsent(ctx context.Context, db storage.DB, userID uuid.UUID, clientID string) error {
	_, err := db.Exec(ctx,
		`UPDATE oauth_consents SET revoked_at = NOW() WHERE user_id = $1 AND client_id = $2`,
		userID, clientID)
	return err
}
