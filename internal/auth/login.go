package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudomate/coreauth/internal/audit"
	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

// LoginInput defines the credentials for login. Organization context comes
// by slug (login routing) or ID; both absent means a platform-admin login.
type LoginInput struct {
	Email            string
	Password         string
	OrganizationSlug string
	OrganizationID   *uuid.UUID
	IP               string
	UserAgent        string
}

// LoginStatus is the terminal state of a login attempt that did not error.
type LoginStatus string

const (
	LoginSuccess               LoginStatus = "success"
	LoginMfaRequired           LoginStatus = "mfa_required"
	LoginMfaEnrollmentRequired LoginStatus = "mfa_enrollment_required"
)

// LoginResult carries the outcome of one pass through the state machine.
type LoginResult struct {
	Status       LoginStatus
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	User         *repository.User

	// Populated when Status == LoginMfaRequired.
	ChallengeToken string
	Methods        []string

	// Populated when Status == LoginMfaEnrollmentRequired.
	EnrollmentToken string
	GraceExpires    *time.Time
	CanSkip         bool
}

// orgContext is the resolved organization scope of a login.
type orgContext struct {
	ID   *uuid.UUID
	Slug string
	Role string
	Pool *pgxpool.Pool
}

// resolveOrg maps the login input to a data pool and membership context.
// Platform-admin logins run against the master pool with no membership.
func (s *AuthService) resolveOrg(ctx context.Context, input LoginInput) (*orgContext, error) {
	if input.OrganizationSlug == "" && input.OrganizationID == nil {
		return &orgContext{Pool: s.router.Master()}, nil
	}

	var record *storage.TenantRecord
	var err error
	if input.OrganizationSlug != "" {
		record, err = s.router.TenantRecordBySlug(ctx, input.OrganizationSlug)
	} else {
		record, err = s.router.TenantRecord(ctx, *input.OrganizationID)
	}
	if err != nil {
		// Organization existence must not leak through login.
		return nil, ErrInvalidCredentials
	}

	pool, err := s.router.Pool(ctx, record.ID)
	if err != nil {
		return nil, err
	}

	id := record.ID
	return &orgContext{ID: &id, Slug: record.Slug, Pool: pool}, nil
}

// Login runs the password authentication state machine and, when it reaches
// the terminal Issue state, mints the internal token pair.
func (s *AuthService) Login(ctx context.Context, input LoginInput) (*LoginResult, error) {
	result, org, err := s.authenticate(ctx, input)
	if err != nil {
		return nil, err
	}
	if result.Status != LoginSuccess {
		return result, nil
	}
	return s.issue(ctx, org, result.User, input.IP, input.UserAgent, "password")
}

// Authenticate runs the state machine without issuing tokens. The flow
// engine uses it: a completed flow binds the user to an authorization code
// or a browser session instead of the internal HS256 pair.
func (s *AuthService) Authenticate(ctx context.Context, input LoginInput) (*LoginResult, error) {
	result, _, err := s.authenticate(ctx, input)
	return result, err
}

// authenticate is the machine itself: ban check, user lookup, lockout
// check, activity check, password verify, MFA policy evaluation. A Success
// result carries the user but no tokens.
func (s *AuthService) authenticate(ctx context.Context, input LoginInput) (*LoginResult, *orgContext, error) {
	org, err := s.resolveOrg(ctx, input)
	if err != nil {
		return nil, nil, err
	}

	// Ban check by (tenant, email) and (tenant, ip).
	banned, err := s.lockouts.IsBanned(ctx, org.Pool, org.ID, input.Email, input.IP)
	if err != nil {
		return nil, nil, fmt.Errorf("ban check failed: %w", err)
	}
	if banned {
		return nil, nil, ErrAccountBanned
	}

	// User lookup. Org logins require a membership; platform logins require
	// the platform-admin flag. Absence of either reads as bad credentials.
	var user *repository.User
	if org.ID != nil {
		user, err = s.users.GetMemberByEmail(ctx, org.Pool, *org.ID, input.Email)
	} else {
		user, err = s.users.GetByEmail(ctx, org.Pool, input.Email)
		if err == nil && !user.IsPlatformAdmin {
			err = repository.ErrNotFound
		}
	}
	if err != nil {
		s.recordFailure(ctx, org, nil, input, "unknown_user")
		return nil, nil, ErrInvalidCredentials
	}

	if org.ID != nil {
		member, err := s.tenants.GetMember(ctx, org.Pool, *org.ID, user.ID)
		if err != nil {
			return nil, nil, ErrInvalidCredentials
		}
		org.Role = member.Role
	}

	// Lockout check.
	lockedUntil, err := s.lockouts.IsLocked(ctx, org.Pool, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("lockout check failed: %w", err)
	}
	if lockedUntil != nil {
		return nil, nil, &AccountLockedError{Until: *lockedUntil}
	}

	if !user.IsActive {
		return nil, nil, ErrUserInactive
	}

	// Organization security policy drives lockout thresholds, SSO and MFA.
	security := repository.DefaultSecuritySettings()
	if org.ID != nil {
		security, err = s.tenants.SecuritySettings(ctx, org.Pool, *org.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to load security settings: %w", err)
		}
	}

	if security.EnforceSSO {
		return nil, nil, ErrSsoRequired
	}

	// Password verification. A user without a password hash (SSO-only)
	// reads as bad credentials too.
	if user.PasswordHash == nil {
		s.recordFailure(ctx, org, user, input, "no_password")
		return nil, nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(*user.PasswordHash, input.Password); err != nil {
		s.handleFailedPassword(ctx, org, user, input, security)
		return nil, nil, ErrInvalidCredentials
	}

	// Successful primary factor.
	s.recordAttempt(ctx, org, user, input, true, nil)

	// MFA policy evaluation.
	hasVerifiedMfa, err := s.mfaRepo.HasVerifiedMethod(ctx, org.Pool, user.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("mfa lookup failed: %w", err)
	}

	outcome := EvaluateMfaPolicy(security, hasVerifiedMfa, user.MfaEnforcedAt, time.Now())

	switch outcome.Decision {
	case MfaChallenge:
		result, err := s.startMfaChallenge(ctx, org, user, input)
		return result, org, err

	case MfaEnrollment:
		if outcome.PersistGrace {
			if err := s.users.SetMfaEnforcedAt(ctx, org.Pool, user.ID, *outcome.GraceExpires); err != nil {
				return nil, nil, fmt.Errorf("failed to persist mfa grace period: %w", err)
			}
		}
		enrollmentToken, err := s.jwt.GenerateEnrollmentToken(user.ID, user.Email, org.ID)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to generate enrollment token: %w", err)
		}
		return &LoginResult{
			Status:          LoginMfaEnrollmentRequired,
			User:            user,
			EnrollmentToken: enrollmentToken,
			GraceExpires:    outcome.GraceExpires,
			CanSkip:         outcome.CanSkip,
		}, org, nil
	}

	return &LoginResult{Status: LoginSuccess, User: user}, org, nil
}

// startMfaChallenge persists a 5-minute challenge and halts the machine.
func (s *AuthService) startMfaChallenge(ctx context.Context, org *orgContext, user *repository.User, input LoginInput) (*LoginResult, error) {
	methods, err := s.mfaRepo.ListVerifiedMethodTypes(ctx, org.Pool, user.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mfa methods: %w", err)
	}
	if len(methods) == 0 {
		return nil, errors.New("mfa required but no verified methods found")
	}

	challengeToken := uuid.NewString()
	expiresAt := time.Now().Add(5 * time.Minute)

	var ip, ua *string
	if input.IP != "" {
		ip = &input.IP
	}
	if input.UserAgent != "" {
		ua = &input.UserAgent
	}

	if _, err := s.mfaRepo.CreateChallenge(ctx, org.Pool, user.ID, challengeToken, ip, ua, expiresAt); err != nil {
		return nil, fmt.Errorf("failed to create mfa challenge: %w", err)
	}

	return &LoginResult{
		Status:         LoginMfaRequired,
		User:           user,
		ChallengeToken: challengeToken,
		Methods:        methods,
	}, nil
}

// VerifyMfaInput completes a challenged login with a TOTP code.
type VerifyMfaInput struct {
	ChallengeToken   string
	Code             string
	OrganizationSlug string
	OrganizationID   *uuid.UUID
	IP               string
	UserAgent        string
}

// VerifyMFA validates the challenge and the TOTP code, then issues tokens.
func (s *AuthService) VerifyMFA(ctx context.Context, input VerifyMfaInput) (*LoginResult, error) {
	user, org, err := s.verifyMfaCore(ctx, input)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, org, user, input.IP, input.UserAgent, "mfa_totp")
}

// VerifyMFACode validates the challenge and code without issuing tokens;
// the flow engine completes the flow its own way.
func (s *AuthService) VerifyMFACode(ctx context.Context, input VerifyMfaInput) (*repository.User, error) {
	user, _, err := s.verifyMfaCore(ctx, input)
	return user, err
}

// verifyMfaCore checks the challenge, the code and the replay guard: a code
// from the same 30-second step as the previous success is rejected.
func (s *AuthService) verifyMfaCore(ctx context.Context, input VerifyMfaInput) (*repository.User, *orgContext, error) {
	org, err := s.resolveOrg(ctx, LoginInput{
		OrganizationSlug: input.OrganizationSlug,
		OrganizationID:   input.OrganizationID,
	})
	if err != nil {
		return nil, nil, err
	}

	challenge, err := s.mfaRepo.GetChallenge(ctx, org.Pool, input.ChallengeToken)
	if err != nil {
		return nil, nil, ErrInvalidCredentials
	}
	if time.Now().After(challenge.ExpiresAt) {
		_ = s.mfaRepo.DeleteChallenge(ctx, org.Pool, input.ChallengeToken)
		return nil, nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByID(ctx, org.Pool, challenge.UserID)
	if err != nil {
		return nil, nil, ErrUserNotFound
	}
	if org.ID != nil {
		member, err := s.tenants.GetMember(ctx, org.Pool, *org.ID, user.ID)
		if err != nil {
			return nil, nil, ErrNotAMember
		}
		org.Role = member.Role
	}

	method, err := s.mfaRepo.GetVerifiedMethod(ctx, org.Pool, user.ID, "totp")
	if err != nil || method.Secret == nil {
		return nil, nil, ErrMFANotEnabled
	}

	now := time.Now()
	if method.LastUsedAt != nil && SameStep(*method.LastUsedAt, now) {
		return nil, nil, ErrInvalidCode
	}
	if !s.mfa.ValidateCode(input.Code, *method.Secret) {
		return nil, nil, ErrInvalidCode
	}

	if err := s.mfaRepo.TouchMethod(ctx, org.Pool, method.ID); err != nil {
		return nil, nil, fmt.Errorf("failed to stamp mfa method: %w", err)
	}
	if err := s.mfaRepo.DeleteChallenge(ctx, org.Pool, input.ChallengeToken); err != nil {
		return nil, nil, fmt.Errorf("failed to delete mfa challenge: %w", err)
	}

	return user, org, nil
}

// VerifyBackupCode completes a challenged login with a recovery code.
func (s *AuthService) VerifyBackupCode(ctx context.Context, input VerifyMfaInput) (*LoginResult, error) {
	org, err := s.resolveOrg(ctx, LoginInput{
		OrganizationSlug: input.OrganizationSlug,
		OrganizationID:   input.OrganizationID,
	})
	if err != nil {
		return nil, err
	}

	challenge, err := s.mfaRepo.GetChallenge(ctx, org.Pool, input.ChallengeToken)
	if err != nil || time.Now().After(challenge.ExpiresAt) {
		return nil, ErrInvalidCredentials
	}

	user, err := s.users.GetByID(ctx, org.Pool, challenge.UserID)
	if err != nil {
		return nil, ErrUserNotFound
	}
	if org.ID != nil {
		member, err := s.tenants.GetMember(ctx, org.Pool, *org.ID, user.ID)
		if err != nil {
			return nil, ErrNotAMember
		}
		org.Role = member.Role
	}

	if err := s.mfaRepo.ConsumeBackupCode(ctx, org.Pool, user.ID, HashToken(input.Code)); err != nil {
		return nil, ErrInvalidCode
	}

	if err := s.mfaRepo.DeleteChallenge(ctx, org.Pool, input.ChallengeToken); err != nil {
		return nil, fmt.Errorf("failed to delete mfa challenge: %w", err)
	}

	return s.issue(ctx, org, user, input.IP, input.UserAgent, "mfa_backup_code")
}

// issue is the terminal state: stamp last_login, mint the HS256 pair, bind
// the refresh token to a new session family, cache the user.
func (s *AuthService) issue(ctx context.Context, org *orgContext, user *repository.User, ip, userAgent, method string) (*LoginResult, error) {
	if err := s.users.UpdateLastLogin(ctx, org.Pool, user.ID); err != nil {
		return nil, fmt.Errorf("failed to update last login: %w", err)
	}

	tokenCtx := TokenContext{
		OrganizationID:   org.ID,
		OrganizationSlug: org.Slug,
		Role:             org.Role,
		IsPlatformAdmin:  user.IsPlatformAdmin,
	}

	accessToken, err := s.jwt.GenerateAccessToken(user.ID, user.Email, tokenCtx)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}
	refreshToken, err := s.jwt.GenerateRefreshToken(user.ID, user.Email, tokenCtx)
	if err != nil {
		return nil, fmt.Errorf("token generation failed: %w", err)
	}

	var ipPtr, uaPtr *string
	if ip != "" {
		ipPtr = &ip
	}
	if userAgent != "" {
		uaPtr = &userAgent
	}

	// Login starts a new rotation family.
	_, err = s.sessions.CreateAuthSession(ctx, org.Pool, repository.CreateAuthSessionParams{
		UserID:           user.ID,
		TenantID:         org.ID,
		RefreshTokenHash: HashToken(refreshToken),
		FamilyID:         uuid.New(),
		IPAddress:        ipPtr,
		UserAgent:        uaPtr,
		ExpiresAt:        time.Now().Add(s.config.SessionTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store session: %w", err)
	}

	s.cacheUser(ctx, user)

	// Fire-and-forget: the login response never waits on the audit sink.
	go s.audit.Log(context.WithoutCancel(ctx), "auth.login.success", audit.LogParams{
		ActorID:  user.ID,
		TargetID: user.ID,
		TenantID: derefOrNil(org.ID),
		IP:       ip,
		Metadata: map[string]interface{}{"method": method},
	})

	return &LoginResult{
		Status:       LoginSuccess,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(s.jwt.accessTokenTTL.Seconds()),
		User:         user,
	}, nil
}

// handleFailedPassword records the failure and locks the account once the
// threshold is crossed within the policy window.
func (s *AuthService) handleFailedPassword(ctx context.Context, org *orgContext, user *repository.User, input LoginInput, security repository.SecuritySettings) {
	reason := "bad_password"
	s.recordAttempt(ctx, org, user, input, false, &reason)

	window := time.Duration(security.LockoutDurationMinutes) * time.Minute
	failures, err := s.lockouts.CountRecentFailures(ctx, org.Pool, org.ID, input.Email, window)
	if err != nil {
		s.logger.Warn("lockout_count_failed", "error", err)
		return
	}

	if failures >= security.MaxLoginAttempts {
		until := time.Now().Add(time.Duration(security.LockoutDurationMinutes) * time.Minute)
		if err := s.lockouts.CreateLockout(ctx, org.Pool, user.ID, until, "too many failed login attempts"); err != nil {
			s.logger.Warn("lockout_create_failed", "error", err)
			return
		}
		go s.audit.Log(context.WithoutCancel(ctx), "auth.account.locked", audit.LogParams{
			ActorID:  user.ID,
			TargetID: user.ID,
			TenantID: derefOrNil(org.ID),
			IP:       input.IP,
			Metadata: map[string]interface{}{"locked_until": until},
		})
	}
}

func (s *AuthService) recordFailure(ctx context.Context, org *orgContext, user *repository.User, input LoginInput, reason string) {
	s.recordAttempt(ctx, org, user, input, false, &reason)
}

func (s *AuthService) recordAttempt(ctx context.Context, org *orgContext, user *repository.User, input LoginInput, success bool, reason *string) {
	var userID *uuid.UUID
	if user != nil {
		userID = &user.ID
	}
	var ua *string
	if input.UserAgent != "" {
		ua = &input.UserAgent
	}

	err := s.lockouts.RecordAttempt(ctx, org.Pool, repository.RecordAttemptParams{
		UserID:        userID,
		TenantID:      org.ID,
		Email:         input.Email,
		IPAddress:     input.IP,
		UserAgent:     ua,
		Success:       success,
		FailureReason: reason,
	})
	if err != nil {
		s.logger.Warn("login_attempt_record_failed", "error", err)
	}
}

func derefOrNil(id *uuid.UUID) uuid.UUID {
	if id == nil {
		return uuid.Nil
	}
	return *id
}
