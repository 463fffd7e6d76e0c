package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/storage"
)

const applicationColumns = `id, tenant_id, client_id, client_secret_hash, name, app_type,
       callback_urls, allowed_logout_urls, allowed_web_origins,
       grant_types, allowed_scopes,
       access_token_ttl_seconds, refresh_token_ttl_seconds,
       is_active, created_at, updated_at`

func scanApplication(row pgx.Row) (*Application, error) {
	var a Application
	err := row.Scan(
		&a.ID, &a.TenantID, &a.ClientID, &a.ClientSecretHash, &a.Name, &a.AppType,
		&a.CallbackURLs, &a.AllowedLogoutURLs, &a.AllowedWebOrigins,
		&a.GrantTypes, &a.AllowedScopes,
		&a.AccessTokenTTLSeconds, &a.RefreshTokenTTLSeconds,
		&a.IsActive, &a.CreatedAt, &a.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan application: %w", err)
	}
	return &a, nil
}

// ApplicationRepo reads and writes OAuth client registrations.
type ApplicationRepo struct{}

// GetByClientID returns the active application for a client_id. Inactive
// clients are indistinguishable from missing ones.
func (ApplicationRepo) GetByClientID(ctx context.Context, db storage.DB, clientID string) (*Application, error) {
	return scanApplication(db.QueryRow(ctx,
		`SELECT `+applicationColumns+` FROM applications WHERE client_id = $1 AND is_active = true`,
		clientID))
}

type CreateApplicationParams struct {
	TenantID               *uuid.UUID
	ClientID               string
	ClientSecretHash       *string
	Name                   string
	AppType                string
	CallbackURLs           []string
	AllowedLogoutURLs      []string
	AllowedWebOrigins      []string
	GrantTypes             []string
	AllowedScopes          []string
	AccessTokenTTLSeconds  int32
	RefreshTokenTTLSeconds int32
}

func (ApplicationRepo) Create(ctx context.Context, db storage.DB, params CreateApplicationParams) (*Application, error) {
	app, err := scanApplication(db.QueryRow(ctx, `
		INSERT INTO applications (
			tenant_id, client_id, client_secret_hash, name, app_type,
			callback_urls, allowed_logout_urls, allowed_web_origins,
			grant_types, allowed_scopes,
			access_token_ttl_seconds, refresh_token_ttl_seconds, is_active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, true)
		RETURNING `+applicationColumns,
		params.TenantID, params.ClientID, params.ClientSecretHash, params.Name, params.AppType,
		params.CallbackURLs, params.AllowedLogoutURLs, params.AllowedWebOrigins,
		params.GrantTypes, params.AllowedScopes,
		params.AccessTokenTTLSeconds, params.RefreshTokenTTLSeconds))
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	return app, err
}

func (ApplicationRepo) Deactivate(ctx context.Context, db storage.DB, clientID string) error {
	_, err := db.Exec(ctx,
		`UPDATE applications SET is_active = false, updated_at = NOW() WHERE client_id = $1`, clientID)
	return err
}
