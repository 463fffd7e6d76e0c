package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/storage"
)

const tenantColumns = `id, slug, name, account_type, isolation_mode, settings,
       parent_tenant_id, created_at, updated_at`

func scanTenant(row pgx.Row) (*Tenant, error) {
	var t Tenant
	err := row.Scan(
		&t.ID, &t.Slug, &t.Name, &t.AccountType, &t.IsolationMode,
		&t.Settings, &t.ParentTenantID, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant: %w", err)
	}
	return &t, nil
}

// TenantRepo reads and writes the tenants table (organizations) and the
// tenant_members join table.
type TenantRepo struct{}

func (TenantRepo) GetByID(ctx context.Context, db storage.DB, id uuid.UUID) (*Tenant, error) {
	return scanTenant(db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE id = $1`, id))
}

func (TenantRepo) GetBySlug(ctx context.Context, db storage.DB, slug string) (*Tenant, error) {
	return scanTenant(db.QueryRow(ctx,
		`SELECT `+tenantColumns+` FROM tenants WHERE slug = $1`, slug))
}

type CreateTenantParams struct {
	Slug          string
	Name          string
	AccountType   string
	IsolationMode string
	Settings      TenantSettings
}

func (TenantRepo) Create(ctx context.Context, db storage.DB, params CreateTenantParams) (*Tenant, error) {
	tenant, err := scanTenant(db.QueryRow(ctx, `
		INSERT INTO tenants (slug, name, account_type, isolation_mode, settings)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+tenantColumns,
		params.Slug, params.Name, params.AccountType, params.IsolationMode, params.Settings))
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	return tenant, err
}

// CreateWithID inserts a tenant under a caller-chosen id, so the business
// row shares the registry row's identity.
func (TenantRepo) CreateWithID(ctx context.Context, db storage.DB, id uuid.UUID, params CreateTenantParams) (*Tenant, error) {
	tenant, err := scanTenant(db.QueryRow(ctx, `
		INSERT INTO tenants (id, slug, name, account_type, isolation_mode, settings)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+tenantColumns,
		id, params.Slug, params.Name, params.AccountType, params.IsolationMode, params.Settings))
	if isUniqueViolation(err) {
		return nil, ErrAlreadyExists
	}
	return tenant, err
}

func (TenantRepo) UpdateSettings(ctx context.Context, db storage.DB, id uuid.UUID, settings TenantSettings) error {
	_, err := db.Exec(ctx,
		`UPDATE tenants SET settings = $2, updated_at = NOW() WHERE id = $1`, id, settings)
	return err
}

// SecuritySettings loads only the security policy for a tenant, defaulted
// when the tenant has no explicit settings. This is the single read path for
// MFA/lockout policy evaluation.
func (r TenantRepo) SecuritySettings(ctx context.Context, db storage.DB, id uuid.UUID) (SecuritySettings, error) {
	tenant, err := r.GetByID(ctx, db, id)
	if errors.Is(err, ErrNotFound) {
		return DefaultSecuritySettings(), nil
	}
	if err != nil {
		return SecuritySettings{}, err
	}
	return tenant.Settings.Security, nil
}

func scanMember(row pgx.Row) (*TenantMember, error) {
	var m TenantMember
	err := row.Scan(&m.ID, &m.TenantID, &m.UserID, &m.Role, &m.JoinedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan tenant member: %w", err)
	}
	return &m, nil
}

const memberColumns = `id, tenant_id, user_id, role, joined_at`

func (TenantRepo) GetMember(ctx context.Context, db storage.DB, tenantID, userID uuid.UUID) (*TenantMember, error) {
	return scanMember(db.QueryRow(ctx,
		`SELECT `+memberColumns+` FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`,
		tenantID, userID))
}

func (TenantRepo) AddMember(ctx context.Context, db storage.DB, tenantID, userID uuid.UUID, role string) (*TenantMember, error) {
	member, err := scanMember(db.QueryRow(ctx, `
		INSERT INTO tenant_members (tenant_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO UPDATE SET role = EXCLUDED.role
		RETURNING `+memberColumns,
		tenantID, userID, role))
	return member, err
}

func (TenantRepo) ListMembers(ctx context.Context, db storage.DB, tenantID uuid.UUID) ([]*TenantMember, error) {
	rows, err := db.Query(ctx,
		`SELECT `+memberColumns+` FROM tenant_members WHERE tenant_id = $1 ORDER BY joined_at`,
		tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []*TenantMember
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (TenantRepo) RemoveMember(ctx context.Context, db storage.DB, tenantID, userID uuid.UUID) error {
	_, err := db.Exec(ctx,
		`DELETE FROM tenant_members WHERE tenant_id = $1 AND user_id = $2`, tenantID, userID)
	return err
}
