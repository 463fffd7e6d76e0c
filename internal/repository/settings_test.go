package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTenantSettingsParseSecurity(t *testing.T) {
	raw := []byte(`{
		"security": {
			"mfa_required": true,
			"mfa_grace_period_days": 14,
			"max_login_attempts": 3,
			"lockout_duration_minutes": 60,
			"password_min_length": 12,
			"enforce_sso": true
		},
		"branding": {"logo_url": "https://cdn/logo.png"}
	}`)

	var settings TenantSettings
	require.NoError(t, json.Unmarshal(raw, &settings))

	assert.True(t, settings.Security.MfaRequired)
	assert.Equal(t, 14, settings.Security.MfaGracePeriodDays)
	assert.Equal(t, 3, settings.Security.MaxLoginAttempts)
	assert.Equal(t, 60, settings.Security.LockoutDurationMinutes)
	assert.True(t, settings.Security.EnforceSSO)
}

func TestTenantSettingsRoundTripsUnknownKeys(t *testing.T) {
	raw := []byte(`{"security":{"mfa_required":true},"branding":{"logo_url":"https://cdn/logo.png"},"custom":[1,2,3]}`)

	var settings TenantSettings
	require.NoError(t, json.Unmarshal(raw, &settings))

	out, err := json.Marshal(settings)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.JSONEq(t, `{"logo_url":"https://cdn/logo.png"}`, string(decoded["branding"]))
	assert.JSONEq(t, `[1,2,3]`, string(decoded["custom"]))
	assert.Contains(t, decoded, "security")
}

func TestTenantSettingsDefaults(t *testing.T) {
	var settings TenantSettings
	require.NoError(t, json.Unmarshal([]byte(`{}`), &settings))

	assert.False(t, settings.Security.MfaRequired)
	assert.Equal(t, 7, settings.Security.MfaGracePeriodDays)
	assert.Equal(t, 5, settings.Security.MaxLoginAttempts)
	assert.Equal(t, 30, settings.Security.LockoutDurationMinutes)
}

func TestUserMetadataRoundTrip(t *testing.T) {
	raw := []byte(`{"first_name":"Ada","last_name":"Lovelace","avatar_url":"https://cdn/a.png","department":"R&D"}`)

	var meta UserMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))

	require.NotNil(t, meta.FirstName)
	assert.Equal(t, "Ada", *meta.FirstName)
	require.NotNil(t, meta.DisplayName())
	assert.Equal(t, "Ada Lovelace", *meta.DisplayName())

	out, err := json.Marshal(meta)
	require.NoError(t, err)
	assert.JSONEq(t, string(raw), string(out))
}

func TestUserMetadataDisplayName(t *testing.T) {
	full := "Grace Hopper"
	first := "Grace"

	withFull := UserMetadata{FullName: &full}
	require.NotNil(t, withFull.DisplayName())
	assert.Equal(t, "Grace Hopper", *withFull.DisplayName())

	firstOnly := UserMetadata{FirstName: &first}
	require.NotNil(t, firstOnly.DisplayName())
	assert.Equal(t, "Grace", *firstOnly.DisplayName())

	assert.Nil(t, UserMetadata{}.DisplayName())
}
