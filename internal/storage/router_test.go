package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseIsolationMode(t *testing.T) {
	tests := []struct {
		in   string
		want IsolationMode
	}{
		{"shared", IsolationShared},
		{"dedicated", IsolationDedicated},
		{"silo", IsolationDedicated},
		{"DEDICATED", IsolationDedicated},
		{"", IsolationShared},
		{"anything-else", IsolationShared},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseIsolationMode(tt.in), "input %q", tt.in)
	}
}

func TestTenantRecordHelpers(t *testing.T) {
	record := &TenantRecord{
		Slug:          "acme",
		IsolationMode: "silo",
		Status:        "active",
		CreatedAt:     time.Now(),
	}

	assert.Equal(t, IsolationDedicated, record.Isolation())
	assert.True(t, record.IsActive())

	record.Status = "suspended"
	assert.False(t, record.IsActive())
}

func TestDefaultRouterConfig(t *testing.T) {
	cfg := DefaultRouterConfig()

	assert.Equal(t, 100, cfg.MaxCachedPools)
	assert.Equal(t, time.Hour, cfg.PoolTTL)
	assert.Equal(t, 10*time.Second, cfg.AcquireTimeout)
}
