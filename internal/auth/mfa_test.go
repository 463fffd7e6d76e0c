package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateCodeWithinSkew(t *testing.T) {
	svc := NewMFAService("coreauth-test")

	key, err := svc.GenerateSecret("alice@example.com")
	require.NoError(t, err)
	secret := key.Secret()

	now := time.Now()

	current, err := totp.GenerateCode(secret, now)
	require.NoError(t, err)
	assert.True(t, svc.ValidateCodeAt(current, secret, now))

	// One step of clock drift in either direction is tolerated.
	previous, err := totp.GenerateCode(secret, now.Add(-totpPeriod*time.Second))
	require.NoError(t, err)
	assert.True(t, svc.ValidateCodeAt(previous, secret, now))

	// Three steps back is outside the window.
	stale, err := totp.GenerateCode(secret, now.Add(-3*totpPeriod*time.Second))
	require.NoError(t, err)
	assert.False(t, svc.ValidateCodeAt(stale, secret, now))
}

func TestValidateCodeRejectsGarbage(t *testing.T) {
	svc := NewMFAService("coreauth-test")

	key, err := svc.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	assert.False(t, svc.ValidateCode("000000", key.Secret()))
	assert.False(t, svc.ValidateCode("not-a-code", key.Secret()))
	assert.False(t, svc.ValidateCode("", key.Secret()))
}

func TestSameStep(t *testing.T) {
	base := time.Unix(1700000010, 0) // start of a step

	assert.True(t, SameStep(base, base.Add(5*time.Second)))
	assert.False(t, SameStep(base, base.Add(totpPeriod*time.Second)))
	assert.False(t, SameStep(base.Add(-totpPeriod*time.Second), base))
}

func TestGenerateBackupCodes(t *testing.T) {
	svc := NewMFAService("coreauth-test")

	codes, err := svc.GenerateBackupCodes(10)
	require.NoError(t, err)
	require.Len(t, codes, 10)

	seen := map[string]bool{}
	for _, code := range codes {
		assert.Regexp(t, `^[A-HJ-NP-Z2-9]{4}-[A-HJ-NP-Z2-9]{4}$`, code)
		assert.False(t, seen[code], "backup codes must be unique")
		seen[code] = true
	}
}

func TestGenerateSecretURL(t *testing.T) {
	svc := NewMFAService("coreauth")

	key, err := svc.GenerateSecret("alice@example.com")
	require.NoError(t, err)

	assert.Contains(t, key.URL(), "otpauth://totp/")
	assert.Contains(t, key.URL(), "coreauth")
	assert.NotEmpty(t, key.Secret())
}
