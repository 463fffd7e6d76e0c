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

const mfaMethodColumns = `id, user_id, method_type, secret, phone, verified, last_used_at, created_at`

func scanMfaMethod(row pgx.Row) (*MfaMethod, error) {
	var m MfaMethod
	err := row.Scan(&m.ID, &m.UserID, &m.MethodType, &m.Secret, &m.Phone, &m.Verified, &m.LastUsedAt, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mfa method: %w", err)
	}
	return &m, nil
}

// MfaRepo manages enrolled MFA methods, pending challenges and backup codes.
type MfaRepo struct{}

func (MfaRepo) CreateMethod(ctx context.Context, db storage.DB, userID uuid.UUID, methodType string, secret, phone *string) (*MfaMethod, error) {
	return scanMfaMethod(db.QueryRow(ctx, `
		INSERT INTO mfa_methods (user_id, method_type, secret, phone, verified)
		VALUES ($1, $2, $3, $4, false)
		RETURNING `+mfaMethodColumns,
		userID, methodType, secret, phone))
}

func (MfaRepo) VerifyMethod(ctx context.Context, db storage.DB, id uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE mfa_methods SET verified = true WHERE id = $1`, id)
	return err
}

// GetVerifiedMethod returns the user's verified method of a type.
func (MfaRepo) GetVerifiedMethod(ctx context.Context, db storage.DB, userID uuid.UUID, methodType string) (*MfaMethod, error) {
	return scanMfaMethod(db.QueryRow(ctx,
		`SELECT `+mfaMethodColumns+` FROM mfa_methods
		 WHERE user_id = $1 AND method_type = $2 AND verified = true`,
		userID, methodType))
}

func (MfaRepo) GetMethod(ctx context.Context, db storage.DB, userID uuid.UUID, methodType string) (*MfaMethod, error) {
	return scanMfaMethod(db.QueryRow(ctx,
		`SELECT `+mfaMethodColumns+` FROM mfa_methods
		 WHERE user_id = $1 AND method_type = $2
		 ORDER BY created_at DESC LIMIT 1`,
		userID, methodType))
}

// ListVerifiedMethodTypes returns the method type names the user may be
// challenged with.
func (MfaRepo) ListVerifiedMethodTypes(ctx context.Context, db storage.DB, userID uuid.UUID) ([]string, error) {
	rows, err := db.Query(ctx,
		`SELECT method_type FROM mfa_methods WHERE user_id = $1 AND verified = true`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var types []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, rows.Err()
}

func (MfaRepo) HasVerifiedMethod(ctx context.Context, db storage.DB, userID uuid.UUID) (bool, error) {
	var exists bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM mfa_methods WHERE user_id = $1 AND verified = true)`,
		userID).Scan(&exists)
	return exists, err
}

// TouchMethod stamps last_used_at. The stamp doubles as the TOTP replay
// guard: a code from the same 30-second step as the previous success is
// rejected.
func (MfaRepo) TouchMethod(ctx context.Context, db storage.DB, id uuid.UUID) error {
	_, err := db.Exec(ctx,
		`UPDATE mfa_methods SET last_used_at = NOW() WHERE id = $1`, id)
	return err
}

func (MfaRepo) DeleteMethods(ctx context.Context, db storage.DB, userID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM mfa_methods WHERE user_id = $1`, userID)
	return err
}

const mfaChallengeColumns = `id, user_id, challenge_token, ip_address, user_agent, expires_at, created_at`

func scanMfaChallenge(row pgx.Row) (*MfaChallenge, error) {
	var c MfaChallenge
	err := row.Scan(&c.ID, &c.UserID, &c.ChallengeToken, &c.IPAddress, &c.UserAgent, &c.ExpiresAt, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan mfa challenge: %w", err)
	}
	return &c, nil
}

func (MfaRepo) CreateChallenge(ctx context.Context, db storage.DB, userID uuid.UUID, challengeToken string, ip, userAgent *string, expiresAt time.Time) (*MfaChallenge, error) {
	return scanMfaChallenge(db.QueryRow(ctx, `
		INSERT INTO mfa_challenges (user_id, challenge_token, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+mfaChallengeColumns,
		userID, challengeToken, ip, userAgent, expiresAt))
}

func (MfaRepo) GetChallenge(ctx context.Context, db storage.DB, challengeToken string) (*MfaChallenge, error) {
	return scanMfaChallenge(db.QueryRow(ctx,
		`SELECT `+mfaChallengeColumns+` FROM mfa_challenges WHERE challenge_token = $1`,
		challengeToken))
}

func (MfaRepo) DeleteChallenge(ctx context.Context, db storage.DB, challengeToken string) error {
	_, err := db.Exec(ctx,
		`DELETE FROM mfa_challenges WHERE challenge_token = $1`, challengeToken)
	return err
}

func (MfaRepo) CreateBackupCode(ctx context.Context, db storage.DB, userID uuid.UUID, codeHash string) error {
	_, err := db.Exec(ctx, `
		INSERT INTO mfa_backup_codes (user_id, code_hash) VALUES ($1, $2)`,
		userID, codeHash)
	return err
}

// ConsumeBackupCode burns an unused backup code; ErrNotFound when the code
// is unknown or already used.
func (MfaRepo) ConsumeBackupCode(ctx context.Context, db storage.DB, userID uuid.UUID, codeHash string) error {
	tag, err := db.Exec(ctx, `
		UPDATE mfa_backup_codes SET used_at = NOW()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL`,
		userID, codeHash)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (MfaRepo) DeleteBackupCodes(ctx context.Context, db storage.DB, userID uuid.UUID) error {
	_, err := db.Exec(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID)
	return err
}
