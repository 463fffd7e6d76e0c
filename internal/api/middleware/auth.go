package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/auth"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	OrgIDKey  contextKey = "org_id"
	RoleKey   contextKey = "role"
	AdminKey  contextKey = "is_platform_admin"
	ClaimsKey contextKey = "claims"
)

// BearerToken pulls the token out of the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}

// RequireAuth validates the internal HS256 access token and injects the
// identity context.
func RequireAuth(jwtService *auth.JwtService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := BearerToken(r)
			if token == "" {
				http.Error(w, "Authorization header required", http.StatusUnauthorized)
				return
			}

			claims, err := jwtService.ValidateTokenOfType(token, auth.TokenAccess)
			if err != nil {
				slog.Warn("invalid_token", "error", err, "ip", r.RemoteAddr)
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			userID, err := claims.UserID()
			if err != nil {
				http.Error(w, "Invalid or expired token", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, RoleKey, claims.Role)
			ctx = context.WithValue(ctx, AdminKey, claims.IsPlatformAdmin)
			ctx = context.WithValue(ctx, ClaimsKey, claims)
			if orgID := claims.OrgID(); orgID != nil {
				ctx = context.WithValue(ctx, OrgIDKey, *orgID)
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole gates a route on the caller's org role or platform-admin
// status.
func RequireRole(role string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if admin, _ := r.Context().Value(AdminKey).(bool); admin {
				next.ServeHTTP(w, r)
				return
			}
			if got, _ := r.Context().Value(RoleKey).(string); got != role {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserID reads the authenticated user from the request context.
func UserID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(UserIDKey).(uuid.UUID)
	return id, ok
}

// OrgID reads the organization context, when present.
func OrgID(ctx context.Context) *uuid.UUID {
	if id, ok := ctx.Value(OrgIDKey).(uuid.UUID); ok {
		return &id
	}
	return nil
}
