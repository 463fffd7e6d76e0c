package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudomate/coreauth/internal/repository"
)

func TestEvaluateMfaPolicyVerifiedUserIsChallenged(t *testing.T) {
	sec := repository.DefaultSecuritySettings()

	// Even with no org requirement, an enrolled user must verify.
	outcome := EvaluateMfaPolicy(sec, true, nil, time.Now())
	assert.Equal(t, MfaChallenge, outcome.Decision)
}

func TestEvaluateMfaPolicyNotRequired(t *testing.T) {
	sec := repository.DefaultSecuritySettings()

	outcome := EvaluateMfaPolicy(sec, false, nil, time.Now())
	assert.Equal(t, MfaIssue, outcome.Decision)
}

func TestEvaluateMfaPolicyStartsGracePeriod(t *testing.T) {
	sec := repository.DefaultSecuritySettings()
	sec.MfaRequired = true
	now := time.Now()

	outcome := EvaluateMfaPolicy(sec, false, nil, now)

	assert.Equal(t, MfaEnrollment, outcome.Decision)
	assert.True(t, outcome.CanSkip)
	assert.True(t, outcome.PersistGrace, "first login after enforcement starts the grace period")
	require.NotNil(t, outcome.GraceExpires)
	assert.WithinDuration(t, now.Add(7*24*time.Hour), *outcome.GraceExpires, time.Second)
}

func TestEvaluateMfaPolicyWithinGrace(t *testing.T) {
	sec := repository.DefaultSecuritySettings()
	sec.MfaRequired = true
	grace := time.Now().Add(48 * time.Hour)

	outcome := EvaluateMfaPolicy(sec, false, &grace, time.Now())

	assert.Equal(t, MfaEnrollment, outcome.Decision)
	assert.True(t, outcome.CanSkip)
	assert.False(t, outcome.PersistGrace)
}

func TestEvaluateMfaPolicyGraceExpired(t *testing.T) {
	sec := repository.DefaultSecuritySettings()
	sec.MfaRequired = true
	grace := time.Now().Add(-time.Hour)

	outcome := EvaluateMfaPolicy(sec, false, &grace, time.Now())

	assert.Equal(t, MfaEnrollment, outcome.Decision)
	assert.False(t, outcome.CanSkip, "lapsed grace forbids token issuance")
}

func TestEvaluateMfaPolicyEnforcementDatePlusGraceDays(t *testing.T) {
	// S4: enforcement 10 days ago with 7 grace days means the gate is shut.
	sec := repository.DefaultSecuritySettings()
	sec.MfaRequired = true
	enforcement := time.Now().Add(-10 * 24 * time.Hour).Format(time.RFC3339)
	sec.MfaEnforcementDate = &enforcement
	sec.MfaGracePeriodDays = 7

	outcome := EvaluateMfaPolicy(sec, false, nil, time.Now())

	assert.Equal(t, MfaEnrollment, outcome.Decision)
	assert.False(t, outcome.CanSkip)
	assert.False(t, outcome.PersistGrace)
}

func TestEvaluateMfaPolicyEnforcementDateStillOpen(t *testing.T) {
	sec := repository.DefaultSecuritySettings()
	sec.MfaRequired = true
	enforcement := time.Now().Add(-2 * 24 * time.Hour).Format(time.RFC3339)
	sec.MfaEnforcementDate = &enforcement
	sec.MfaGracePeriodDays = 7

	outcome := EvaluateMfaPolicy(sec, false, nil, time.Now())

	assert.Equal(t, MfaEnrollment, outcome.Decision)
	assert.True(t, outcome.CanSkip)
}

func TestEvaluateMfaPolicyUserGraceWinsOverSettings(t *testing.T) {
	sec := repository.DefaultSecuritySettings()
	sec.MfaRequired = true
	enforcement := time.Now().Add(-30 * 24 * time.Hour).Format(time.RFC3339)
	sec.MfaEnforcementDate = &enforcement

	// The user's own stamp was set on their first login and is still open.
	grace := time.Now().Add(24 * time.Hour)
	outcome := EvaluateMfaPolicy(sec, false, &grace, time.Now())

	assert.True(t, outcome.CanSkip)
}
