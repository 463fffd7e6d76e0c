package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WithTenantContext executes a function within a PostgreSQL transaction
// with the app.current_tenant session variable set.
//
// Shared-isolation tenants live in the master database separated by a
// tenant_id column; row-level-security policies keyed on this variable are
// the backstop for a missing WHERE clause. The variable is transaction
// scoped (SET LOCAL semantics), so it clears when the transaction ends.
//
// Example usage:
//
//	err := storage.WithTenantContext(ctx, pool, tenantID, func(tx pgx.Tx) error {
//	    return userRepo.Deactivate(ctx, tx, userID)
//	})
func WithTenantContext(ctx context.Context, pool *pgxpool.Pool, tenantID uuid.UUID, fn func(tx pgx.Tx) error) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // Rollback is safe to call even after Commit

	_, err = tx.Exec(ctx, "SELECT set_config('app.current_tenant', $1, true)", tenantID.String())
	if err != nil {
		return fmt.Errorf("failed to set tenant context: %w", err)
	}

	if err := fn(tx); err != nil {
		return err // Transaction will rollback via defer
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
