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

// ErrNotFound is returned when the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned on uniqueness violations.
var ErrAlreadyExists = errors.New("already exists")

const userColumns = `id, email, password_hash, is_active, email_verified,
       mfa_enabled, mfa_enforced_at, is_platform_admin, default_tenant_id,
       metadata, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.EmailVerified,
		&u.MfaEnabled, &u.MfaEnforcedAt, &u.IsPlatformAdmin, &u.DefaultTenantID,
		&u.Metadata, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

// UserRepo reads and writes the users table.
type UserRepo struct{}

func (UserRepo) GetByID(ctx context.Context, db storage.DB, id uuid.UUID) (*User, error) {
	return scanUser(db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

func (UserRepo) GetByEmail(ctx context.Context, db storage.DB, email string) (*User, error) {
	return scanUser(db.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// GetMemberByEmail looks up a user scoped to a tenant membership. Absence of
// either the user or the membership is the same ErrNotFound so callers can
// map it to a generic credentials error.
func (UserRepo) GetMemberByEmail(ctx context.Context, db storage.DB, tenantID uuid.UUID, email string) (*User, error) {
	return scanUser(db.QueryRow(ctx, `
		SELECT `+prefixColumns("u", userColumns)+`
		FROM users u
		JOIN tenant_members tm ON tm.user_id = u.id
		WHERE u.email = $1 AND tm.tenant_id = $2`, email, tenantID))
}

type CreateUserParams struct {
	Email           string
	PasswordHash    *string
	Metadata        UserMetadata
	DefaultTenantID *uuid.UUID
	EmailVerified   bool
	IsPlatformAdmin bool
}

func (UserRepo) Create(ctx context.Context, db storage.DB, params CreateUserParams) (*User, error) {
	user, err := scanUser(db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, metadata, default_tenant_id, email_verified, is_platform_admin, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, true)
		RETURNING `+userColumns,
		params.Email, params.PasswordHash, params.Metadata,
		params.DefaultTenantID, params.EmailVerified, params.IsPlatformAdmin))
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	return user, err
}

func (UserRepo) UpdateLastLogin(ctx context.Context, db storage.DB, id uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE users SET last_login_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	return err
}

func (UserRepo) UpdatePassword(ctx context.Context, db storage.DB, id uuid.UUID, passwordHash string) error {
	_, err := db.Exec(ctx,
		`UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1`, id, passwordHash)
	return err
}

func (UserRepo) SetMfaEnabled(ctx context.Context, db storage.DB, id uuid.UUID, enabled bool) error {
	_, err := db.Exec(ctx,
		`UPDATE users SET mfa_enabled = $2, updated_at = NOW() WHERE id = $1`, id, enabled)
	return err
}

// SetMfaEnforcedAt persists the end of the user's MFA enrollment grace
// period. Written once, on the first login after the org policy flips.
func (UserRepo) SetMfaEnforcedAt(ctx context.Context, db storage.DB, id uuid.UUID, graceExpires time.Time) error {
	_, err := db.Exec(ctx,
		`UPDATE users SET mfa_enforced_at = $2, updated_at = NOW() WHERE id = $1`, id, graceExpires)
	return err
}

func (UserRepo) UpdateMetadata(ctx context.Context, db storage.DB, id uuid.UUID, metadata UserMetadata) error {
	_, err := db.Exec(ctx,
		`UPDATE users SET metadata = $2, updated_at = NOW() WHERE id = $1`, id, metadata)
	return err
}

// Deactivate soft-deletes a user; the core never hard-deletes.
func (UserRepo) Deactivate(ctx context.Context, db storage.DB, id uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE users SET is_active = false, updated_at = NOW() WHERE id = $1`, id)
	return err
}
