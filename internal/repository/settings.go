package repository

import (
	"encoding/json"
)

// SecuritySettings is the recognised sub-shape of the tenant settings bag.
type SecuritySettings struct {
	MfaRequired            bool     `json:"mfa_required"`
	MfaEnforcementDate     *string  `json:"mfa_enforcement_date,omitempty"` // RFC 3339
	MfaGracePeriodDays     int      `json:"mfa_grace_period_days"`
	AllowedMfaMethods      []string `json:"allowed_mfa_methods,omitempty"`
	MaxLoginAttempts       int      `json:"max_login_attempts"`
	LockoutDurationMinutes int      `json:"lockout_duration_minutes"`
	PasswordMinLength      int      `json:"password_min_length"`
	EnforceSSO             bool     `json:"enforce_sso"`
}

// DefaultSecuritySettings returns the policy applied when a tenant has no
// explicit security settings.
func DefaultSecuritySettings() SecuritySettings {
	return SecuritySettings{
		MfaGracePeriodDays:     7,
		MaxLoginAttempts:       5,
		LockoutDurationMinutes: 30,
		PasswordMinLength:      8,
	}
}

// TenantSettings parses the recognised security policy out of the tenant
// settings bag and round-trips every other key untouched.
type TenantSettings struct {
	Security SecuritySettings
	extra    map[string]json.RawMessage
}

func (s *TenantSettings) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	s.Security = DefaultSecuritySettings()
	if sec, ok := raw["security"]; ok {
		if err := json.Unmarshal(sec, &s.Security); err != nil {
			return err
		}
		delete(raw, "security")
	}
	s.extra = raw
	return nil
}

func (s TenantSettings) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.extra)+1)
	for k, v := range s.extra {
		out[k] = v
	}
	out["security"] = s.Security
	return json.Marshal(out)
}

// UserMetadata parses the recognised profile fields out of the user metadata
// bag, keeping unknown keys opaque.
type UserMetadata struct {
	FullName  *string
	FirstName *string
	LastName  *string
	AvatarURL *string
	extra     map[string]json.RawMessage
}

func (m *UserMetadata) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string) *string {
		v, ok := raw[key]
		if !ok {
			return nil
		}
		var out string
		if err := json.Unmarshal(v, &out); err != nil {
			return nil
		}
		delete(raw, key)
		return &out
	}

	m.FullName = take("full_name")
	m.FirstName = take("first_name")
	m.LastName = take("last_name")
	m.AvatarURL = take("avatar_url")
	m.extra = raw
	return nil
}

func (m UserMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.extra)+4)
	for k, v := range m.extra {
		out[k] = v
	}
	if m.FullName != nil {
		out["full_name"] = *m.FullName
	}
	if m.FirstName != nil {
		out["first_name"] = *m.FirstName
	}
	if m.LastName != nil {
		out["last_name"] = *m.LastName
	}
	if m.AvatarURL != nil {
		out["avatar_url"] = *m.AvatarURL
	}
	return json.Marshal(out)
}

// DisplayName assembles a full name from the metadata parts.
func (m UserMetadata) DisplayName() *string {
	if m.FullName != nil {
		return m.FullName
	}
	switch {
	case m.FirstName != nil && m.LastName != nil:
		name := *m.FirstName + " " + *m.LastName
		return &name
	case m.FirstName != nil:
		return m.FirstName
	case m.LastName != nil:
		return m.LastName
	}
	return nil
}
