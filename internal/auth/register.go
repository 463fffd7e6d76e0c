package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/audit"
	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

// RegisterInput defines the data needed to register a new user.
type RegisterInput struct {
	Email          string
	Password       string
	FullName       string
	OrganizationID *uuid.UUID
	InviteToken    string // invitation token; optional when public registration is allowed
}

// Register creates a new user, either by accepting an invitation or through
// public registration.
func (s *AuthService) Register(ctx context.Context, input RegisterInput) (*repository.User, error) {
	hashedPassword, err := s.hasher.Hash(input.Password)
	if err != nil {
		return nil, fmt.Errorf("hashing failed: %w", err)
	}

	if input.InviteToken != "" {
		return s.registerFromInvitation(ctx, input, hashedPassword)
	}

	if !s.config.AllowPublicRegistration {
		return nil, ErrPublicRegistrationDisabled
	}

	pool := s.router.Master()
	if input.OrganizationID != nil {
		pool, err = s.router.Pool(ctx, *input.OrganizationID)
		if err != nil {
			return nil, err
		}
	}

	metadata := repository.UserMetadata{}
	if input.FullName != "" {
		name := input.FullName
		metadata.FullName = &name
	}

	var user *repository.User
	err = storage.WithTx(ctx, pool, func(tx pgx.Tx) error {
		var txErr error
		user, txErr = s.users.Create(ctx, tx, repository.CreateUserParams{
			Email:           input.Email,
			PasswordHash:    &hashedPassword,
			Metadata:        metadata,
			DefaultTenantID: input.OrganizationID,
		})
		if txErr != nil {
			return txErr
		}
		if input.OrganizationID != nil {
			_, txErr = s.tenants.AddMember(ctx, tx, *input.OrganizationID, user.ID, "member")
		}
		return txErr
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, repository.ErrAlreadyExists
		}
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	go s.audit.Log(context.WithoutCancel(ctx), "user.create.public", audit.LogParams{
		ActorID:  user.ID,
		TargetID: user.ID,
		TenantID: derefOrNil(input.OrganizationID),
		Metadata: map[string]interface{}{"method": "public_registration"},
	})

	return user, nil
}

// registerFromInvitation atomically creates the user, the membership and
// marks the invitation accepted.
func (s *AuthService) registerFromInvitation(ctx context.Context, input RegisterInput, hashedPassword string) (*repository.User, error) {
	tokenHash := HashToken(input.InviteToken)

	// Invitations live with their tenant's data; the token alone does not
	// say which pool, so resolve via the org hint or fall back to master.
	pool := s.router.Master()
	if input.OrganizationID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *input.OrganizationID)
		if err != nil {
			return nil, err
		}
	}

	invite, err := s.invitations.GetLiveByTokenHash(ctx, pool, tokenHash)
	if err != nil {
		return nil, errors.New("invalid or expired invitation")
	}

	// The registration email must match the invitation email.
	if invite.Email != input.Email {
		return nil, errors.New("email does not match invitation")
	}

	metadata := repository.UserMetadata{}
	if input.FullName != "" {
		name := input.FullName
		metadata.FullName = &name
	}

	var user *repository.User
	err = storage.WithTx(ctx, pool, func(tx pgx.Tx) error {
		tenantID := invite.TenantID
		var txErr error
		user, txErr = s.users.Create(ctx, tx, repository.CreateUserParams{
			Email:           input.Email,
			PasswordHash:    &hashedPassword,
			Metadata:        metadata,
			DefaultTenantID: &tenantID,
			EmailVerified:   true, // auto-verified by invite
		})
		if txErr != nil {
			return txErr
		}
		if _, txErr = s.tenants.AddMember(ctx, tx, invite.TenantID, user.ID, invite.Role); txErr != nil {
			return txErr
		}
		return s.invitations.MarkAccepted(ctx, tx, invite.ID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, repository.ErrAlreadyExists
		}
		return nil, fmt.Errorf("registration failed: %w", err)
	}

	go s.audit.Log(context.WithoutCancel(ctx), "user.create.invite", audit.LogParams{
		ActorID:  user.ID,
		TargetID: user.ID,
		TenantID: invite.TenantID,
		Metadata: map[string]interface{}{"method": "invite"},
	})

	return user, nil
}

// CreateInvitation generates a secure invite token for a new member. The
// raw token is returned to the caller; only its hash is stored.
func (s *AuthService) CreateInvitation(ctx context.Context, tenantID uuid.UUID, email, role string, invitedBy uuid.UUID) (string, error) {
	pool, err := s.router.Pool(ctx, tenantID)
	if err != nil {
		return "", err
	}

	token, err := GenerateSecureToken(32)
	if err != nil {
		return "", err
	}

	_, err = s.invitations.Create(ctx, pool, repository.CreateInvitationParams{
		TenantID:  tenantID,
		Email:     email,
		TokenHash: HashToken(token),
		InvitedBy: &invitedBy,
		Role:      role,
		ExpiresAt: time.Now().Add(7 * 24 * time.Hour),
	})
	if err != nil {
		return "", fmt.Errorf("failed to create invitation: %w", err)
	}

	go s.audit.Log(context.WithoutCancel(ctx), "invitation.create", audit.LogParams{
		ActorID:  invitedBy,
		TenantID: tenantID,
		Metadata: map[string]interface{}{"email": email, "role": role},
	})

	return token, nil
}

// SetupMFAResult carries the provisioning material for TOTP enrollment.
type SetupMFAResult struct {
	Secret      string
	OtpauthURL  string
	BackupCodes []string
	MethodID    uuid.UUID
}

// SetupMFA provisions an unverified TOTP method plus backup codes. The
// caller holds either a session or an enrollment token.
func (s *AuthService) SetupMFA(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID) (*SetupMFAResult, error) {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return nil, err
		}
	}

	user, err := s.users.GetByID(ctx, pool, userID)
	if err != nil {
		return nil, ErrUserNotFound
	}

	key, err := s.mfa.GenerateSecret(user.Email)
	if err != nil {
		return nil, err
	}

	secret := key.Secret()
	method, err := s.mfaRepo.CreateMethod(ctx, pool, userID, "totp", &secret, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to store mfa method: %w", err)
	}

	codes, err := s.mfa.GenerateBackupCodes(10)
	if err != nil {
		return nil, err
	}

	return &SetupMFAResult{
		Secret:      secret,
		OtpauthURL:  key.URL(),
		BackupCodes: codes,
		MethodID:    method.ID,
	}, nil
}

// ActivateMFA confirms enrollment: the user proves possession with a valid
// code, the method flips to verified and the hashed backup codes persist.
func (s *AuthService) ActivateMFA(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID, code string, backupCodes []string) error {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return err
		}
	}

	method, err := s.mfaRepo.GetMethod(ctx, pool, userID, "totp")
	if err != nil || method.Secret == nil {
		return ErrMFANotEnabled
	}

	if !s.mfa.ValidateCode(code, *method.Secret) {
		return ErrInvalidCode
	}

	if err := s.mfaRepo.VerifyMethod(ctx, pool, method.ID); err != nil {
		return err
	}

	// Clear old codes if re-enrolling.
	if err := s.mfaRepo.DeleteBackupCodes(ctx, pool, userID); err != nil {
		return err
	}
	for _, raw := range backupCodes {
		if err := s.mfaRepo.CreateBackupCode(ctx, pool, userID, HashToken(raw)); err != nil {
			return err
		}
	}

	if err := s.users.SetMfaEnabled(ctx, pool, userID, true); err != nil {
		return err
	}

	s.invalidateUserCache(ctx, userID)

	go s.audit.Log(context.WithoutCancel(ctx), "mfa.activated", audit.LogParams{
		ActorID:  userID,
		TargetID: userID,
		TenantID: derefOrNil(orgID),
		Metadata: map[string]interface{}{"method": "totp"},
	})

	return nil
}
