package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testJwtService() *JwtService {
	return NewJwtService("test-secret-key-min-32-characters-long", "https://auth.test", time.Hour, 30*24*time.Hour)
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	svc := testJwtService()
	userID := uuid.New()
	orgID := uuid.New()

	token, err := svc.GenerateAccessToken(userID, "test@example.com", TokenContext{
		OrganizationID:   &orgID,
		OrganizationSlug: "acme",
		Role:             "admin",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateTokenOfType(token, TokenAccess)
	require.NoError(t, err)

	gotUserID, err := claims.UserID()
	require.NoError(t, err)
	assert.Equal(t, userID, gotUserID)
	assert.Equal(t, "test@example.com", claims.Email)
	assert.Equal(t, orgID.String(), claims.OrganizationID)
	assert.Equal(t, orgID.String(), claims.TenantID, "legacy tid mirrors org_id")
	assert.Equal(t, "acme", claims.OrganizationSlug)
	assert.Equal(t, "admin", claims.Role)
	assert.False(t, claims.IsPlatformAdmin)
	assert.NotEmpty(t, claims.ID, "jti must be set")
}

func TestRefreshTokenRejectedAsAccess(t *testing.T) {
	svc := testJwtService()

	refresh, err := svc.GenerateRefreshToken(uuid.New(), "test@example.com", TokenContext{})
	require.NoError(t, err)

	_, err = svc.ValidateTokenOfType(refresh, TokenAccess)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = svc.ValidateTokenOfType(refresh, TokenRefresh)
	assert.NoError(t, err)
}

func TestEnrollmentTokenKind(t *testing.T) {
	svc := testJwtService()
	orgID := uuid.New()

	token, err := svc.GenerateEnrollmentToken(uuid.New(), "bob@corp.com", &orgID)
	require.NoError(t, err)

	claims, err := svc.ValidateTokenOfType(token, TokenEnrollment)
	require.NoError(t, err)
	assert.Equal(t, TokenEnrollment, claims.TokenType)
	require.NotNil(t, claims.OrgID())
	assert.Equal(t, orgID, *claims.OrgID())
}

func TestPlatformAdminTokenWithoutOrg(t *testing.T) {
	svc := testJwtService()

	token, err := svc.GenerateAccessToken(uuid.New(), "admin@platform.test", TokenContext{
		IsPlatformAdmin: true,
	})
	require.NoError(t, err)

	claims, err := svc.ValidateTokenOfType(token, TokenAccess)
	require.NoError(t, err)
	assert.True(t, claims.IsPlatformAdmin)
	assert.Empty(t, claims.OrganizationID)
	assert.Nil(t, claims.OrgID())
}

func TestExpiredTokenRejected(t *testing.T) {
	svc := NewJwtService("test-secret-key-min-32-characters-long", "https://auth.test", -time.Minute, time.Hour)

	token, err := svc.GenerateAccessToken(uuid.New(), "test@example.com", TokenContext{})
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTamperedTokenRejected(t *testing.T) {
	svc := testJwtService()

	token, err := svc.GenerateAccessToken(uuid.New(), "test@example.com", TokenContext{})
	require.NoError(t, err)

	other := NewJwtService("a-completely-different-signing-secret!!", "https://auth.test", time.Hour, time.Hour)
	_, err = other.ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}
