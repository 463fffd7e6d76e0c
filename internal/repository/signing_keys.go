package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/storage"
)

const signingKeyColumns = `id, algorithm, public_key_pem, private_key_pem, is_current, rotated_at, created_at`

func scanSigningKey(row pgx.Row) (*SigningKey, error) {
	var k SigningKey
	err := row.Scan(&k.ID, &k.Algorithm, &k.PublicKeyPEM, &k.PrivateKeyPEM, &k.IsCurrent, &k.RotatedAt, &k.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan signing key: %w", err)
	}
	return &k, nil
}

// SigningKeyRepo manages the RS256 signing keys. Keys are platform-scoped
// and always live on the master pool.
type SigningKeyRepo struct{}

// GetCurrent returns the key new tokens are signed with.
func (SigningKeyRepo) GetCurrent(ctx context.Context, db storage.DB) (*SigningKey, error) {
	return scanSigningKey(db.QueryRow(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE is_current = true`))
}

func (SigningKeyRepo) GetByID(ctx context.Context, db storage.DB, kid string) (*SigningKey, error) {
	return scanSigningKey(db.QueryRow(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys WHERE id = $1`, kid))
}

// ListPublishable returns current plus recently rotated keys: verifiers get
// a seven-day window to pick up a rotation.
func (SigningKeyRepo) ListPublishable(ctx context.Context, db storage.DB) ([]*SigningKey, error) {
	rows, err := db.Query(ctx,
		`SELECT `+signingKeyColumns+` FROM signing_keys
		 WHERE rotated_at IS NULL OR rotated_at > NOW() - INTERVAL '7 days'
		 ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []*SigningKey
	for rows.Next() {
		k, err := scanSigningKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// Insert stores a new key. Rotation demotes the previous current key in the
// same transaction via Rotate.
func (SigningKeyRepo) Insert(ctx context.Context, db storage.DB, key SigningKey) error {
	_, err := db.Exec(ctx, `
		INSERT INTO signing_keys (id, algorithm, public_key_pem, private_key_pem, is_current)
		VALUES ($1, $2, $3, $4, $5)`,
		key.ID, key.Algorithm, key.PublicKeyPEM, key.PrivateKeyPEM, key.IsCurrent)
	return err
}

// DemoteCurrent stamps rotated_at on the current key and clears its flag.
func (SigningKeyRepo) DemoteCurrent(ctx context.Context, db storage.DB) error {
	_, err := db.Exec(ctx,
		`UPDATE signing_keys SET is_current = false, rotated_at = NOW() WHERE is_current = true`)
	return err
}
