// Package repository contains the hand-written pgx data access layer for the
// entities the core owns. Every method takes the query handle resolved by the
// tenant router so the same code runs against the master pool (shared
// isolation) or a tenant's dedicated pool.
package repository

import (
	"time"

	"github.com/google/uuid"
)

// User is a row of the users table. PasswordHash is nil for SSO-only users.
type User struct {
	ID              uuid.UUID
	Email           string
	PasswordHash    *string
	IsActive        bool
	EmailVerified   bool
	MfaEnabled      bool
	MfaEnforcedAt   *time.Time
	IsPlatformAdmin bool
	DefaultTenantID *uuid.UUID
	Metadata        UserMetadata
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Tenant is a row of the tenants table (organizations).
type Tenant struct {
	ID             uuid.UUID
	Slug           string
	Name           string
	AccountType    string // personal | business
	IsolationMode  string // shared | dedicated
	Settings       TenantSettings
	ParentTenantID *uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TenantMember links a user to a tenant with a role.
type TenantMember struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	UserID   uuid.UUID
	Role     string
	JoinedAt time.Time
}

// Application is an OAuth client registration.
type Application struct {
	ID                     uuid.UUID
	TenantID               *uuid.UUID // nil for platform apps
	ClientID               string
	ClientSecretHash       *string // nil for public clients
	Name                   string
	AppType                string
	CallbackURLs           []string
	AllowedLogoutURLs      []string
	AllowedWebOrigins      []string
	GrantTypes             []string
	AllowedScopes          []string
	AccessTokenTTLSeconds  int32
	RefreshTokenTTLSeconds int32
	IsActive               bool
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// AuthorizationRequest is the server-side scratchpad for an in-flight
// authorization (10-minute TTL, deleted on code issuance).
type AuthorizationRequest struct {
	ID                  uuid.UUID
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
	CreatedAt           time.Time
}

// AuthorizationCode is a one-shot code (10-minute TTL, single use).
type AuthorizationCode struct {
	ID                  uuid.UUID
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
	UsedAt              *time.Time
	CreatedAt           time.Time
}

// AccessTokenRecord makes RS256 access tokens introspectable and revocable.
type AccessTokenRecord struct {
	ID        uuid.UUID
	JTI       string
	ClientID  string
	UserID    *uuid.UUID // nil for client-credentials tokens
	TenantID  *uuid.UUID
	Scope     *string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// RefreshToken is an opaque OAuth refresh token, stored hashed.
type RefreshToken struct {
	ID         uuid.UUID
	TokenHash  string
	ClientID   string
	UserID     uuid.UUID
	TenantID   *uuid.UUID
	Scope      *string
	Audience   *string
	ExpiresAt  *time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
	CreatedAt  time.Time
}

// LoginSession is a cookie-bearing browser session (7-day default).
type LoginSession struct {
	ID               uuid.UUID
	SessionTokenHash string
	UserID           uuid.UUID
	TenantID         *uuid.UUID
	IPAddress        *string
	UserAgent        *string
	AuthenticatedAt  time.Time
	LastActiveAt     time.Time
	ExpiresAt        time.Time
	MfaVerified      bool
	MfaVerifiedAt    *time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// AuthSession binds the HS256 refresh tokens of the legacy direct-login path
// to a rotation family. A revoked member whose hash is presented again
// triggers family-wide revocation.
type AuthSession struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	TenantID         *uuid.UUID
	RefreshTokenHash string
	FamilyID         uuid.UUID
	ParentID         *uuid.UUID
	IPAddress        *string
	UserAgent        *string
	ExpiresAt        time.Time
	RevokedAt        *time.Time
	CreatedAt        time.Time
}

// MfaMethod is an enrolled second factor.
type MfaMethod struct {
	ID         uuid.UUID
	UserID     uuid.UUID
	MethodType string // totp | sms
	Secret     *string
	Phone      *string
	Verified   bool
	LastUsedAt *time.Time
	CreatedAt  time.Time
}

// MfaChallenge is a pending second-factor verification (5-minute TTL).
type MfaChallenge struct {
	ID             uuid.UUID
	UserID         uuid.UUID
	ChallengeToken string
	IPAddress      *string
	UserAgent      *string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

// BackupCode is a hashed single-use MFA recovery code.
type BackupCode struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	CodeHash  string
	UsedAt    *time.Time
	CreatedAt time.Time
}

// LoginAttempt records a login outcome for rate/lockout accounting.
type LoginAttempt struct {
	ID            uuid.UUID
	UserID        *uuid.UUID
	TenantID      *uuid.UUID
	Email         string
	IPAddress     string
	UserAgent     *string
	Success       bool
	FailureReason *string
	CreatedAt     time.Time
}

// Lockout locks a user until a timestamp after repeated failures.
type Lockout struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	LockedUntil time.Time
	Reason      *string
	CreatedAt   time.Time
}

// Ban blocks logins by (tenant, email) or (tenant, ip).
type Ban struct {
	ID        uuid.UUID
	TenantID  *uuid.UUID
	Email     *string
	IPAddress *string
	Reason    *string
	ExpiresAt *time.Time
	CreatedAt time.Time
}

// Invitation invites an email address into a tenant.
type Invitation struct {
	ID         uuid.UUID
	TenantID   uuid.UUID
	Email      string
	TokenHash  string
	InvitedBy  *uuid.UUID
	Role       string
	ExpiresAt  time.Time
	AcceptedAt *time.Time
	CreatedAt  time.Time
}

// SigningKey is an RSA keypair for RS256 token signing. Exactly one row is
// current at any time; rotated keys stay published in JWKS for seven days.
type SigningKey struct {
	ID            string // kid
	Algorithm     string
	PublicKeyPEM  string
	PrivateKeyPEM string
	IsCurrent     bool
	RotatedAt     *time.Time
	CreatedAt     time.Time
}

// OAuthConsent records a user's grant of scopes to a client.
type OAuthConsent struct {
	ID        uuid.UUID
	UserID    uuid.UUID
	ClientID  string
	TenantID  *uuid.UUID
	Scopes    []string
	GrantedAt time.Time
	RevokedAt *time.Time
}

// RelationTuple is the atomic unit of authorization: subject has relation on
// object. The whole tuple is the primary key; SubjectRelation is empty for
// plain subjects and names the relation for userset subjects.
type RelationTuple struct {
	TenantID        uuid.UUID
	Namespace       string
	ObjectID        string
	Relation        string
	SubjectType     string // user | group | userset | wildcard
	SubjectID       string
	SubjectRelation string
	CreatedAt       time.Time
}
