package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/cloudomate/coreauth/internal/storage"
)

// AuthzModelRepo stores authorization models as versioned JSON documents.
// The newest model per tenant is the live one; older versions are kept for
// rollback.
type AuthzModelRepo struct{}

func (AuthzModelRepo) Create(ctx context.Context, db storage.DB, tenantID uuid.UUID, model json.RawMessage) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.QueryRow(ctx, `
		INSERT INTO authorization_models (tenant_id, model) VALUES ($1, $2)
		RETURNING id`, tenantID, model).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("store authorization model: %w", err)
	}
	return id, nil
}

// GetLatest returns the live model document for a tenant, or ErrNotFound
// when the tenant has never written one (legacy tuple-only resolution).
func (AuthzModelRepo) GetLatest(ctx context.Context, db storage.DB, tenantID uuid.UUID) (json.RawMessage, error) {
	var model json.RawMessage
	err := db.QueryRow(ctx, `
		SELECT model FROM authorization_models
		WHERE tenant_id = $1
		ORDER BY created_at DESC LIMIT 1`, tenantID).Scan(&model)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load authorization model: %w", err)
	}
	return model, nil
}
