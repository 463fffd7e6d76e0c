package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/audit"
	"github.com/cloudomate/coreauth/internal/cache"
	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

// AuthConfig holds configuration for the auth service.
type AuthConfig struct {
	AllowPublicRegistration bool
	SessionTTL              time.Duration // refresh session lifetime
	UserCacheTTL            time.Duration
}

func DefaultAuthConfig() AuthConfig {
	return AuthConfig{
		AllowPublicRegistration: true,
		SessionTTL:              7 * 24 * time.Hour,
		UserCacheTTL:            15 * time.Minute,
	}
}

// AuthService drives the authentication state machine: ban and lockout
// checks, password verification, MFA policy arbitration and token issuance.
// It is agnostic of HTTP transport; every data-plane read goes through the
// tenant router so dedicated tenants stay on their own pool.
type AuthService struct {
	config AuthConfig
	router *storage.Router
	jwt    *JwtService
	hasher PasswordHasher
	mfa    *MFAService
	cache  cache.Cache
	audit  audit.Service
	logger *slog.Logger

	users       repository.UserRepo
	tenants     repository.TenantRepo
	sessions    repository.SessionRepo
	mfaRepo     repository.MfaRepo
	lockouts    repository.LockoutRepo
	invitations repository.InvitationRepo
}

func NewAuthService(
	config AuthConfig,
	router *storage.Router,
	jwtService *JwtService,
	hasher PasswordHasher,
	mfaService *MFAService,
	cacheStore cache.Cache,
	auditService audit.Service,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		config: config,
		router: router,
		jwt:    jwtService,
		hasher: hasher,
		mfa:    mfaService,
		cache:  cacheStore,
		audit:  auditService,
		logger: logger,
	}
}

// MfaDecision is the outcome of the MFA policy evaluation step.
type MfaDecision int

const (
	// MfaIssue proceeds straight to token issuance.
	MfaIssue MfaDecision = iota
	// MfaChallenge halts the machine pending second-factor verification.
	MfaChallenge
	// MfaEnrollment halts the machine pending MFA setup.
	MfaEnrollment
)

// MfaPolicyOutcome carries the decision plus the grace-period bookkeeping.
type MfaPolicyOutcome struct {
	Decision     MfaDecision
	GraceExpires *time.Time
	CanSkip      bool
	// PersistGrace is set when this login starts the user's grace period and
	// the expiry must be written to users.mfa_enforced_at.
	PersistGrace bool
}

// EvaluateMfaPolicy arbitrates between the organization's MFA requirement
// and the user's enrollment state:
//
//  1. A user with a verified method is always challenged.
//  2. An org that requires MFA puts unenrolled users into a grace period;
//     once it lapses, enrollment is mandatory before any token is issued.
//  3. Otherwise issuance proceeds.
//
// The grace expiry comes from users.mfa_enforced_at when set, else from the
// org's enforcement date plus grace days, else it starts now.
func EvaluateMfaPolicy(sec repository.SecuritySettings, hasVerifiedMfa bool, userGraceExpires *time.Time, now time.Time) MfaPolicyOutcome {
	if hasVerifiedMfa {
		return MfaPolicyOutcome{Decision: MfaChallenge}
	}
	if !sec.MfaRequired {
		return MfaPolicyOutcome{Decision: MfaIssue}
	}

	grace := userGraceExpires
	persist := false
	if grace == nil {
		if enforced := parseEnforcementDate(sec); enforced != nil {
			g := enforced.Add(time.Duration(sec.MfaGracePeriodDays) * 24 * time.Hour)
			grace = &g
		} else {
			g := now.Add(time.Duration(sec.MfaGracePeriodDays) * 24 * time.Hour)
			grace = &g
			persist = true
		}
	}

	if grace.After(now) {
		return MfaPolicyOutcome{
			Decision:     MfaEnrollment,
			GraceExpires: grace,
			CanSkip:      true,
			PersistGrace: persist,
		}
	}
	return MfaPolicyOutcome{
		Decision:     MfaEnrollment,
		GraceExpires: grace,
		CanSkip:      false,
	}
}

func parseEnforcementDate(sec repository.SecuritySettings) *time.Time {
	if sec.MfaEnforcementDate == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *sec.MfaEnforcementDate)
	if err != nil {
		return nil
	}
	return &t
}

// cachedUser is the 15-minute user cache entry written on issuance.
type cachedUser struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	IsActive        bool      `json:"is_active"`
	IsPlatformAdmin bool      `json:"is_platform_admin"`
	MfaEnabled      bool      `json:"mfa_enabled"`
}

func userCacheKey(id uuid.UUID) string {
	return "auth:user:" + id.String()
}

func (s *AuthService) cacheUser(ctx context.Context, user *repository.User) {
	payload, err := json.Marshal(cachedUser{
		ID:              user.ID,
		Email:           user.Email,
		IsActive:        user.IsActive,
		IsPlatformAdmin: user.IsPlatformAdmin,
		MfaEnabled:      user.MfaEnabled,
	})
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, userCacheKey(user.ID), payload, s.config.UserCacheTTL); err != nil {
		s.logger.Warn("user_cache_write_failed", "error", err)
	}
}

func (s *AuthService) invalidateUserCache(ctx context.Context, userID uuid.UUID) {
	_ = s.cache.Delete(ctx, userCacheKey(userID))
}
