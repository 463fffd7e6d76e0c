package auth

import (
	"errors"
	"fmt"
	"time"
)

// The error taxonomy is closed: every failure surfaced by the auth core maps
// to one of these. An unknown user and a wrong password both collapse into
// ErrInvalidCredentials so the wire never reveals which of the two failed; a
// deactivated account surfaces as ErrUserInactive.
var (
	ErrInvalidCredentials         = errors.New("invalid email or password")
	ErrAccountBanned              = errors.New("this account or IP address has been banned")
	ErrUserInactive               = errors.New("user account is deactivated")
	ErrSsoRequired                = errors.New("organization policy requires single sign-on")
	ErrInvalidToken               = errors.New("invalid token")
	ErrExpiredToken               = errors.New("token has expired")
	ErrInvalidCode                = errors.New("invalid mfa code")
	ErrMFANotEnabled              = errors.New("mfa not enabled for user")
	ErrUserNotFound               = errors.New("user not found")
	ErrTenantRequired             = errors.New("organization context is required")
	ErrNotAMember                 = errors.New("user is not a member of the organization")
	ErrPublicRegistrationDisabled = errors.New("public registration is disabled")
	ErrTokenReuse                 = errors.New("refresh token reuse detected")
)

// AccountLockedError carries the unlock time so callers can tell the user
// when to retry.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.Format(time.RFC3339))
}
