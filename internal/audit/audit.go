// Package audit is the append-only event sink for security-relevant actions.
// Writes are best-effort: a failed insert is logged and dropped, never
// surfaced to the user-visible operation.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Service defines the interface for recording security events.
type Service interface {
	Log(ctx context.Context, action string, params LogParams)
}

// LogParams encapsulates optional fields for an audit event.
type LogParams struct {
	ActorID  uuid.UUID
	TargetID uuid.UUID
	TenantID uuid.UUID
	IP       string
	Metadata map[string]interface{}
}

// DBLogger implements Service against the master database. Events for
// dedicated tenants also land here: the audit trail is platform-scoped.
type DBLogger struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewDBLogger(pool *pgxpool.Pool, logger *slog.Logger) *DBLogger {
	return &DBLogger{
		pool:   pool,
		logger: logger,
	}
}

// Log records an event. Callers dispatch this from a detached goroutine;
// completion is never awaited by the request path.
func (s *DBLogger) Log(ctx context.Context, action string, params LogParams) {
	metadataBytes, err := json.Marshal(params.Metadata)
	if err != nil {
		s.logger.Error("audit_metadata_marshal_failed", "error", err)
		metadataBytes = []byte("{}")
	}

	toNullable := func(u uuid.UUID) *uuid.UUID {
		if u == uuid.Nil {
			return nil
		}
		return &u
	}

	var ip *string
	if params.IP != "" {
		ip = &params.IP
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_logs (actor_id, target_id, tenant_id, action, ip_address, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		toNullable(params.ActorID), toNullable(params.TargetID), toNullable(params.TenantID),
		action, ip, metadataBytes)

	if err != nil {
		// Fallback: log to stdout so we don't lose the event entirely.
		s.logger.Error("audit_db_insert_failed",
			"action", action,
			"error", err,
			"actor", params.ActorID,
		)
	}
}

// NopLogger discards events, for tests.
type NopLogger struct{}

func (NopLogger) Log(ctx context.Context, action string, params LogParams) {}
