package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType discriminates the HS256 token kinds the core mints.
type TokenType string

const (
	TokenAccess     TokenType = "access"
	TokenRefresh    TokenType = "refresh"
	TokenEnrollment TokenType = "enrollment" // drives unauthenticated MFA setup
)

// Claims carries the hierarchical identity context: a user may act inside an
// organization (org id/slug/role) or platform-wide (is_platform_admin). The
// legacy tid mirrors org_id for older consumers.
type Claims struct {
	Email            string    `json:"email,omitempty"`
	TenantID         string    `json:"tid,omitempty"`
	OrganizationID   string    `json:"org_id,omitempty"`
	OrganizationSlug string    `json:"org_slug,omitempty"`
	Role             string    `json:"role,omitempty"`
	IsPlatformAdmin  bool      `json:"is_platform_admin,omitempty"`
	TokenType        TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// UserID parses the subject claim.
func (c *Claims) UserID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// OrgID parses the organization claim; nil when no org context.
func (c *Claims) OrgID() *uuid.UUID {
	if c.OrganizationID == "" {
		return nil
	}
	id, err := uuid.Parse(c.OrganizationID)
	if err != nil {
		return nil
	}
	return &id
}

// TokenContext is the identity context embedded into a token pair.
type TokenContext struct {
	OrganizationID   *uuid.UUID
	OrganizationSlug string
	Role             string
	IsPlatformAdmin  bool
}

// JwtService mints and verifies the HS256-signed internal tokens: the legacy
// direct-login access/refresh pair plus the enrollment token that bridges
// the MFA-setup gate. OIDC-facing RS256 tokens are signed through the
// KeyManager instead.
type JwtService struct {
	secret          []byte
	issuer          string
	accessTokenTTL  time.Duration
	refreshTokenTTL time.Duration
}

func NewJwtService(secret, issuer string, accessTokenTTL, refreshTokenTTL time.Duration) *JwtService {
	return &JwtService{
		secret:          []byte(secret),
		issuer:          issuer,
		accessTokenTTL:  accessTokenTTL,
		refreshTokenTTL: refreshTokenTTL,
	}
}

func (s *JwtService) sign(claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

func (s *JwtService) baseClaims(userID uuid.UUID, email string, tokenCtx TokenContext, kind TokenType, ttl time.Duration) Claims {
	now := time.Now()

	claims := Claims{
		Email:           email,
		IsPlatformAdmin: tokenCtx.IsPlatformAdmin,
		Role:            tokenCtx.Role,
		TokenType:       kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			Issuer:    s.issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	if tokenCtx.OrganizationID != nil {
		claims.OrganizationID = tokenCtx.OrganizationID.String()
		claims.TenantID = tokenCtx.OrganizationID.String() // legacy mirror
	}
	claims.OrganizationSlug = tokenCtx.OrganizationSlug
	return claims
}

// GenerateAccessToken mints the internal access token.
func (s *JwtService) GenerateAccessToken(userID uuid.UUID, email string, tokenCtx TokenContext) (string, error) {
	return s.sign(s.baseClaims(userID, email, tokenCtx, TokenAccess, s.accessTokenTTL))
}

// GenerateRefreshToken mints the internal refresh token.
func (s *JwtService) GenerateRefreshToken(userID uuid.UUID, email string, tokenCtx TokenContext) (string, error) {
	return s.sign(s.baseClaims(userID, email, tokenCtx, TokenRefresh, s.refreshTokenTTL))
}

// GenerateEnrollmentToken mints the 10-minute token that authorizes the MFA
// setup endpoints after a successful primary factor.
func (s *JwtService) GenerateEnrollmentToken(userID uuid.UUID, email string, organizationID *uuid.UUID) (string, error) {
	return s.sign(s.baseClaims(userID, email, TokenContext{OrganizationID: organizationID}, TokenEnrollment, 10*time.Minute))
}

// ValidateToken parses and verifies any HS256 token.
func (s *JwtService) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ValidateTokenOfType verifies the signature and the token kind together, so
// a refresh token can never pass as an access token.
func (s *JwtService) ValidateTokenOfType(tokenString string, kind TokenType) (*Claims, error) {
	claims, err := s.ValidateToken(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != kind {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
