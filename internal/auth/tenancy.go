package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/audit"
	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

// OnboardTenantInput creates an organization with its first admin.
type OnboardTenantInput struct {
	Slug          string
	Name          string
	AccountType   string
	IsolationMode storage.IsolationMode
	AdminEmail    string
	AdminPassword string
}

// OnboardTenant creates the registry row, the business tenant row, the
// admin user and the admin membership in one transaction: a slug collision
// or any other failure rolls the whole onboarding back.
//
// Shared tenants come up active immediately; dedicated tenants stay in
// provisioning until their database coordinates are configured.
func (s *AuthService) OnboardTenant(ctx context.Context, input OnboardTenantInput) (*repository.Tenant, *repository.User, error) {
	if input.AccountType == "" {
		input.AccountType = "business"
	}

	passwordHash, err := s.hasher.Hash(input.AdminPassword)
	if err != nil {
		return nil, nil, fmt.Errorf("hashing failed: %w", err)
	}

	status := "provisioning"
	if input.IsolationMode == storage.IsolationShared {
		status = "active"
	}

	var tenant *repository.Tenant
	var admin *repository.User

	err = storage.WithTx(ctx, s.router.Master(), func(tx pgx.Tx) error {
		record, txErr := s.router.CreateTenantRecord(ctx, tx, input.Slug, input.Name, input.IsolationMode, status)
		if txErr != nil {
			return txErr
		}

		tenant, txErr = s.tenants.CreateWithID(ctx, tx, record.ID, repository.CreateTenantParams{
			Slug:          input.Slug,
			Name:          input.Name,
			AccountType:   input.AccountType,
			IsolationMode: string(input.IsolationMode),
			Settings:      repository.TenantSettings{Security: repository.DefaultSecuritySettings()},
		})
		if txErr != nil {
			return txErr
		}

		tenantID := tenant.ID
		admin, txErr = s.users.Create(ctx, tx, repository.CreateUserParams{
			Email:           input.AdminEmail,
			PasswordHash:    &passwordHash,
			DefaultTenantID: &tenantID,
		})
		if txErr != nil {
			return txErr
		}

		_, txErr = s.tenants.AddMember(ctx, tx, tenant.ID, admin.ID, "admin")
		return txErr
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) || isRegistryConflict(err) {
			return nil, nil, repository.ErrAlreadyExists
		}
		return nil, nil, fmt.Errorf("tenant onboarding failed: %w", err)
	}

	go s.audit.Log(context.WithoutCancel(ctx), "tenant.onboarded", audit.LogParams{
		ActorID:  admin.ID,
		TenantID: tenant.ID,
		Metadata: map[string]interface{}{
			"slug":      tenant.Slug,
			"isolation": string(input.IsolationMode),
		},
	})

	return tenant, admin, nil
}

// isRegistryConflict spots the registry slug unique violation, which
// surfaces from the router rather than a repository.
func isRegistryConflict(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}

// ListTenantMembers returns the memberships of an organization.
func (s *AuthService) ListTenantMembers(ctx context.Context, tenantID uuid.UUID) ([]*repository.TenantMember, error) {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	return s.tenants.ListMembers(ctx, pool, tenantID)
}

// UpdateMemberRole changes a member's role within an organization.
func (s *AuthService) UpdateMemberRole(ctx context.Context, tenantID, userID uuid.UUID, role string) error {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return err
	}
	if _, err := s.tenants.GetMember(ctx, pool, tenantID, userID); err != nil {
		return ErrNotAMember
	}
	_, err = s.tenants.AddMember(ctx, pool, tenantID, userID, role)
	return err
}

// RemoveMember removes a user from an organization. The user account
// itself survives; only the membership goes.
func (s *AuthService) RemoveMember(ctx context.Context, tenantID, userID uuid.UUID) error {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return err
	}

	if err := s.tenants.RemoveMember(ctx, pool, tenantID, userID); err != nil {
		return err
	}

	go s.audit.Log(context.WithoutCancel(ctx), "tenant.member.removed", audit.LogParams{
		TargetID: userID,
		TenantID: tenantID,
	})
	return nil
}

// UpdateSecuritySettings replaces the organization's security policy,
// keeping the rest of the settings bag untouched.
func (s *AuthService) UpdateSecuritySettings(ctx context.Context, tenantID uuid.UUID, security repository.SecuritySettings) error {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return err
	}

	tenant, err := s.tenants.GetByID(ctx, pool, tenantID)
	if err != nil {
		return err
	}

	settings := tenant.Settings
	settings.Security = security
	if err := s.tenants.UpdateSettings(ctx, pool, tenantID, settings); err != nil {
		return err
	}

	go s.audit.Log(context.WithoutCancel(ctx), "tenant.settings.security_updated", audit.LogParams{
		TenantID: tenantID,
		Metadata: map[string]interface{}{"mfa_required": security.MfaRequired},
	})
	return nil
}
