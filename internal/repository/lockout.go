package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/storage"
)

// LockoutRepo records login attempts and manages lockouts and bans.
type LockoutRepo struct{}

type RecordAttemptParams struct {
	UserID        *uuid.UUID
	TenantID      *uuid.UUID
	Email         string
	IPAddress     string
	UserAgent     *string
	Success       bool
	FailureReason *string
}

func (LockoutRepo) RecordAttempt(ctx context.Context, db storage.DB, params RecordAttemptParams) error {
	_, err := db.Exec(ctx, `
		INSERT INTO login_attempts (user_id, tenant_id, email, ip_address, user_agent, success, failure_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		params.UserID, params.TenantID, params.Email, params.IPAddress,
		params.UserAgent, params.Success, params.FailureReason)
	return err
}

// CountRecentFailures counts failed attempts for (tenant, email) within the
// policy window. The lockout threshold is evaluated against this count.
func (LockoutRepo) CountRecentFailures(ctx context.Context, db storage.DB, tenantID *uuid.UUID, email string, window time.Duration) (int, error) {
	var count int
	err := db.QueryRow(ctx, `
		SELECT COUNT(*) FROM login_attempts
		WHERE email = $1
		  AND (tenant_id = $2 OR ($2::uuid IS NULL AND tenant_id IS NULL))
		  AND success = false
		  AND created_at > NOW() - make_interval(secs => $3)`,
		email, tenantID, window.Seconds()).Scan(&count)
	return count, err
}

// IsLocked returns the lock expiry when the user is currently locked out.
func (LockoutRepo) IsLocked(ctx context.Context, db storage.DB, userID uuid.UUID) (*time.Time, error) {
	var until time.Time
	err := db.QueryRow(ctx, `
		SELECT locked_until FROM lockouts
		WHERE user_id = $1 AND locked_until > NOW()
		ORDER BY locked_until DESC LIMIT 1`, userID).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("check lockout: %w", err)
	}
	return &until, nil
}

func (LockoutRepo) CreateLockout(ctx context.Context, db storage.DB, userID uuid.UUID, lockedUntil time.Time, reason string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO lockouts (user_id, locked_until, reason) VALUES ($1, $2, $3)`,
		userID, lockedUntil, reason)
	return err
}

func (LockoutRepo) ClearLockouts(ctx context.Context, db storage.DB, userID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM lockouts WHERE user_id = $1`, userID)
	return err
}

// IsBanned checks active bans by (tenant, email) and (tenant, ip).
func (LockoutRepo) IsBanned(ctx context.Context, db storage.DB, tenantID *uuid.UUID, email, ip string) (bool, error) {
	var banned bool
	err := db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM bans
			WHERE (tenant_id = $1 OR ($1::uuid IS NULL AND tenant_id IS NULL))
			  AND (email = $2 OR ip_address = $3)
			  AND (expires_at IS NULL OR expires_at > NOW())
		)`, tenantID, email, ip).Scan(&banned)
	return banned, err
}

func (LockoutRepo) CreateBan(ctx context.Context, db storage.DB, tenantID *uuid.UUID, email, ip *string, reason string, expiresAt *time.Time) error {
	_, err := db.Exec(ctx, `
		INSERT INTO bans (tenant_id, email, ip_address, reason, expires_at)
		VALUES ($1, $2, $3, $4, $5)`,
		tenantID, email, ip, reason, expiresAt)
	return err
}
