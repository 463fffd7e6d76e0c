package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTokenDeterministic(t *testing.T) {
	a := HashToken("some-refresh-token")
	b := HashToken("some-refresh-token")
	c := HashToken("another-token")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64, "sha256 hex")
}

func TestRandomAlphanumeric(t *testing.T) {
	code, err := RandomAlphanumeric(48)
	require.NoError(t, err)
	assert.Len(t, code, 48)
	assert.Regexp(t, `^[A-Za-z0-9]{48}$`, code)

	other, err := RandomAlphanumeric(48)
	require.NoError(t, err)
	assert.NotEqual(t, code, other)
}

func TestGenerateSecureTokenLength(t *testing.T) {
	token, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Len(t, token, 44, "padded base64url of 32 bytes")

	other, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestSecureCompareTokens(t *testing.T) {
	assert.True(t, SecureCompareTokens("abc", "abc"))
	assert.False(t, SecureCompareTokens("abc", "abd"))
	assert.False(t, SecureCompareTokens("abc", "abcd"))
	assert.True(t, SecureCompareTokens("", ""))
}
