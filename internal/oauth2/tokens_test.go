package oauth2

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudomate/coreauth/internal/auth"
)

func testSigningKey(t *testing.T) *auth.SigningKey {
	t.Helper()
	privPEM, _, err := auth.GenerateRSAKeyPEM(2048)
	require.NoError(t, err)
	priv, err := auth.ParseRSAPrivateKeyPEM(privPEM)
	require.NoError(t, err)
	return &auth.SigningKey{
		Kid:        "sig-test",
		PrivateKey: priv,
		PublicKey:  &priv.PublicKey,
	}
}

func TestSignRS256RoundTrip(t *testing.T) {
	key := testSigningKey(t)
	userID := uuid.New()
	scope := "openid email"

	claims := AccessTokenClaims{
		Azp:   "app_demo",
		Scope: &scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://auth.test",
			Subject:   userID.String(),
			Audience:  jwt.ClaimStrings{"app_demo"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ID:        uuid.NewString(),
		},
	}

	signed, err := signRS256(key, claims)
	require.NoError(t, err)

	parsed, err := jwt.ParseWithClaims(signed, &AccessTokenClaims{}, func(tok *jwt.Token) (interface{}, error) {
		assert.Equal(t, "sig-test", tok.Header["kid"], "kid header selects the verification key")
		return key.PublicKey, nil
	})
	require.NoError(t, err)
	require.True(t, parsed.Valid)

	got := parsed.Claims.(*AccessTokenClaims)
	assert.Equal(t, userID.String(), got.Subject)
	assert.Equal(t, jwt.ClaimStrings{"app_demo"}, got.Audience)
	assert.Equal(t, "app_demo", got.Azp)
	require.NotNil(t, got.Scope)
	assert.Equal(t, "openid email", *got.Scope)
}

func TestSignRS256RejectsWrongKey(t *testing.T) {
	key := testSigningKey(t)
	other := testSigningKey(t)

	signed, err := signRS256(key, AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	require.NoError(t, err)

	_, err = jwt.ParseWithClaims(signed, &AccessTokenClaims{}, func(*jwt.Token) (interface{}, error) {
		return other.PublicKey, nil
	})
	assert.Error(t, err)
}
