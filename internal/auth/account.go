package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/audit"
)

// ChangePassword verifies the old password, stores the new hash and revokes
// every active session, forcing re-login on all devices.
func (s *AuthService) ChangePassword(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID, oldPassword, newPassword string) error {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return err
		}
	}

	user, err := s.users.GetByID(ctx, pool, userID)
	if err != nil {
		return ErrUserNotFound
	}

	if user.PasswordHash == nil {
		return errors.New("user has no password set")
	}
	if err := s.hasher.Compare(*user.PasswordHash, oldPassword); err != nil {
		return ErrInvalidCredentials
	}

	newHash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.users.UpdatePassword(ctx, pool, userID, newHash); err != nil {
		return err
	}

	go s.audit.Log(context.WithoutCancel(ctx), "user.password_change", audit.LogParams{
		ActorID:  userID,
		TargetID: userID,
		TenantID: derefOrNil(orgID),
		Metadata: map[string]interface{}{"revoked_all_sessions": true},
	})

	return s.RevokeAllSessions(ctx, orgID, userID)
}

// UpdateProfile merges the submitted profile fields into the user's
// metadata bag, leaving unrecognized keys intact.
func (s *AuthService) UpdateProfile(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID, fullName, avatarURL *string) error {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return err
		}
	}

	user, err := s.users.GetByID(ctx, pool, userID)
	if err != nil {
		return ErrUserNotFound
	}

	metadata := user.Metadata
	if fullName != nil {
		metadata.FullName = fullName
	}
	if avatarURL != nil {
		metadata.AvatarURL = avatarURL
	}

	return s.users.UpdateMetadata(ctx, pool, userID, metadata)
}

// DisableMFA removes every enrolled method and backup code after the user
// re-proves the password.
func (s *AuthService) DisableMFA(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID, password string) error {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return err
		}
	}

	user, err := s.users.GetByID(ctx, pool, userID)
	if err != nil {
		return ErrUserNotFound
	}
	if user.PasswordHash == nil || s.hasher.Compare(*user.PasswordHash, password) != nil {
		return ErrInvalidCredentials
	}

	if err := s.mfaRepo.DeleteMethods(ctx, pool, userID); err != nil {
		return err
	}
	if err := s.mfaRepo.DeleteBackupCodes(ctx, pool, userID); err != nil {
		return err
	}
	if err := s.users.SetMfaEnabled(ctx, pool, userID, false); err != nil {
		return err
	}

	s.invalidateUserCache(ctx, userID)

	go s.audit.Log(context.WithoutCancel(ctx), "mfa.disabled", audit.LogParams{
		ActorID:  userID,
		TargetID: userID,
		TenantID: derefOrNil(orgID),
	})
	return nil
}

// DeactivateUser soft-deletes an account and kills its sessions. The core
// never hard-deletes users.
func (s *AuthService) DeactivateUser(ctx context.Context, orgID *uuid.UUID, userID uuid.UUID) error {
	pool := s.router.Master()
	if orgID != nil {
		var err error
		pool, err = s.router.Pool(ctx, *orgID)
		if err != nil {
			return err
		}
	}

	if err := s.users.Deactivate(ctx, pool, userID); err != nil {
		return err
	}
	return s.RevokeAllSessions(ctx, orgID, userID)
}
