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

const invitationColumns = `id, tenant_id, email, token_hash, invited_by, role,
       expires_at, accepted_at, created_at`

func scanInvitation(row pgx.Row) (*Invitation, error) {
	var i Invitation
	err := row.Scan(
		&i.ID, &i.TenantID, &i.Email, &i.TokenHash, &i.InvitedBy, &i.Role,
		&i.ExpiresAt, &i.AcceptedAt, &i.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan invitation: %w", err)
	}
	return &i, nil
}

// InvitationRepo manages tenant invitations.
type InvitationRepo struct{}

type CreateInvitationParams struct {
	TenantID  uuid.UUID
	Email     string
	TokenHash string
	InvitedBy *uuid.UUID
	Role      string
	ExpiresAt time.Time
}

func (InvitationRepo) Create(ctx context.Context, db storage.DB, params CreateInvitationParams) (*Invitation, error) {
	return scanInvitation(db.QueryRow(ctx, `
		INSERT INTO invitations (tenant_id, email, token_hash, invited_by, role, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+invitationColumns,
		params.TenantID, params.Email, params.TokenHash,
		params.InvitedBy, params.Role, params.ExpiresAt))
}

// GetLiveByTokenHash returns an unexpired, unaccepted invitation.
func (InvitationRepo) GetLiveByTokenHash(ctx context.Context, db storage.DB, tokenHash string) (*Invitation, error) {
	return scanInvitation(db.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM invitations
		 WHERE token_hash = $1 AND expires_at > NOW() AND accepted_at IS NULL`,
		tokenHash))
}

func (InvitationRepo) MarkAccepted(ctx context.Context, db storage.DB, id uuid.UUID) error {
	tag, err := db.Exec(ctx,
		`UPDATE invitations SET accepted_at = NOW() WHERE id = $1 AND accepted_at IS NULL`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
