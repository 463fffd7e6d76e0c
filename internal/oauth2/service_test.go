package oauth2

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudomate/coreauth/internal/repository"
)

func strPtr(s string) *string { return &s }

func TestVerifyPKCES256(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	method := "S256"

	assert.True(t, verifyPKCE(challenge, &method, verifier))
	assert.False(t, verifyPKCE(challenge, &method, "wrong-verifier"))
	assert.False(t, verifyPKCE("tampered-challenge", &method, verifier))
}

func TestVerifyPKCEPlain(t *testing.T) {
	method := "plain"

	assert.True(t, verifyPKCE("same-value", &method, "same-value"))
	assert.False(t, verifyPKCE("same-value", &method, "other-value"))

	// Absent method defaults to plain.
	assert.True(t, verifyPKCE("same-value", nil, "same-value"))
}

func TestParseScopes(t *testing.T) {
	scopes := parseScopes(strPtr("openid email profile"))
	assert.True(t, scopes.has("openid"))
	assert.True(t, scopes.has("email"))
	assert.True(t, scopes.has("profile"))
	assert.False(t, scopes.has("offline_access"))

	assert.False(t, parseScopes(nil).has("openid"))
	assert.False(t, parseScopes(strPtr("")).has("openid"))
}

func TestValidateRedirectURIExactMatch(t *testing.T) {
	svc := &Service{}
	app := &repository.Application{
		CallbackURLs: []string{"https://app/cb", "https://app/alt"},
	}

	assert.True(t, svc.ValidateRedirectURI(app, "https://app/cb"))
	assert.False(t, svc.ValidateRedirectURI(app, "https://app/cb/"))
	assert.False(t, svc.ValidateRedirectURI(app, "https://APP/cb"))
	assert.False(t, svc.ValidateRedirectURI(app, "https://evil/cb"))
}

func TestDiscoveryDocument(t *testing.T) {
	d := NewDiscovery("https://auth.example.com")

	assert.Equal(t, "https://auth.example.com", d.Issuer)
	assert.Equal(t, "https://auth.example.com/authorize", d.AuthorizationEndpoint)
	assert.Equal(t, "https://auth.example.com/oauth/token", d.TokenEndpoint)
	assert.Equal(t, "https://auth.example.com/.well-known/jwks.json", d.JwksURI)
	assert.Equal(t, []string{"code"}, d.ResponseTypesSupported)
	assert.Contains(t, d.GrantTypesSupported, "authorization_code")
	assert.Contains(t, d.GrantTypesSupported, "refresh_token")
	assert.Contains(t, d.GrantTypesSupported, "client_credentials")
	assert.Equal(t, []string{"RS256"}, d.IDTokenSigningAlgValuesSupported)
	assert.ElementsMatch(t, []string{"S256", "plain"}, d.CodeChallengeMethodsSupported)
}
