package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	sentryhttp "github.com/getsentry/sentry-go/http"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	customMiddleware "github.com/cloudomate/coreauth/internal/api/middleware"
	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/authz"
	"github.com/cloudomate/coreauth/internal/oauth2"
	"github.com/cloudomate/coreauth/internal/selfservice"
	"github.com/cloudomate/coreauth/internal/storage"
)

// Server wires the HTTP surface to the service layer.
type Server struct {
	Mux    *chi.Mux
	Router *storage.Router
	Logger *slog.Logger
}

// NewServer builds the chi router with the full endpoint surface.
func NewServer(
	router *storage.Router,
	authService *auth.AuthService,
	jwtService *auth.JwtService,
	oauth2Service *oauth2.Service,
	flowService *selfservice.FlowService,
	authzService *authz.Service,
) *Server {
	r := chi.NewRouter()
	logger := slog.Default()

	// Core middleware.
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)

	// Sentry before recovery so panics get captured.
	sentryHandler := sentryhttp.New(sentryhttp.Options{
		Repanic: true,
	})
	r.Use(sentryHandler.Handle)

	r.Use(customMiddleware.RequestLogger)
	r.Use(customMiddleware.PanicRecovery)

	limiter := customMiddleware.NewIPRateLimiter(10, 20)
	r.Use(limiter.Middleware)

	requireAuth := customMiddleware.RequireAuth(jwtService)
	requireAdmin := customMiddleware.RequireRole("admin")

	oidcHandler := NewOidcHandler(oauth2Service, router, logger)
	selfServiceHandler := NewSelfServiceHandler(flowService, router, logger)
	authHandler := NewAuthHandler(authService, jwtService, logger)
	sessionHandler := NewSessionHandler(oauth2Service, logger)
	authzHandler := NewAuthzHandler(authzService, logger)
	tenantHandler := NewTenantHandler(router, authService, logger)
	accountHandler := NewAccountHandler(authService, oauth2Service, logger)
	applicationHandler := NewApplicationHandler(oauth2Service, logger)

	server := &Server{
		Mux:    r,
		Router: router,
		Logger: logger,
	}

	r.Get("/health", server.HealthHandler())

	// OIDC protocol surface.
	r.Get("/.well-known/openid-configuration", oidcHandler.GetDiscovery)
	r.Get("/.well-known/jwks.json", oidcHandler.GetJWKS)
	r.Get("/authorize", oidcHandler.Authorize)
	r.Post("/oauth/token", oidcHandler.Token)
	r.Get("/userinfo", oidcHandler.UserInfo)
	r.Post("/userinfo", oidcHandler.UserInfo)
	r.Post("/oauth/revoke", oidcHandler.Revoke)
	r.Post("/oauth/introspect", oidcHandler.Introspect)

	// Self-service flows.
	r.Route("/self-service", func(r chi.Router) {
		r.Get("/login/browser", selfServiceHandler.CreateLoginBrowser)
		r.Get("/login/api", selfServiceHandler.CreateLoginAPI)
		r.Get("/login", selfServiceHandler.GetLoginFlow)
		r.Post("/login", selfServiceHandler.SubmitLoginFlow)
		r.Get("/registration/browser", selfServiceHandler.CreateRegistrationBrowser)
		r.Get("/registration/api", selfServiceHandler.CreateRegistrationAPI)
		r.Get("/registration", selfServiceHandler.GetRegistrationFlow)
		r.Post("/registration", selfServiceHandler.SubmitRegistrationFlow)
	})

	// Browser sessions.
	r.Get("/sessions/whoami", sessionHandler.WhoAmI)
	r.Delete("/sessions", sessionHandler.Logout)

	// Fine-grained authorization.
	r.Route("/api/authz", func(r chi.Router) {
		r.Post("/check", authzHandler.Check)
		r.Get("/expand/{tenant_id}/{namespace}/{object_id}/{relation}", authzHandler.Expand)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Post("/tuples", authzHandler.WriteTuple)
			r.Delete("/tuples", authzHandler.DeleteTuple)
		})
	})

	// Direct authentication API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/logout", authHandler.Logout)
		r.Post("/auth/refresh", authHandler.Refresh)
		r.Post("/auth/mfa/verify", authHandler.VerifyMFA)
		r.Post("/auth/mfa/backup", authHandler.VerifyBackupCode)

		// Enrollment-token or session authenticated (checked in handler).
		r.Post("/auth/mfa/setup", authHandler.SetupMFA)
		r.Post("/auth/mfa/activate", authHandler.ActivateMFA)

		// Public tenant lookup for login routing.
		r.Get("/tenants/{slug}", tenantHandler.GetBySlug)

		r.Group(func(r chi.Router) {
			r.Use(requireAuth)

			r.Get("/auth/sessions", authHandler.Sessions)
			r.Put("/auth/security/password", authHandler.ChangePassword)
			r.Patch("/auth/profile", accountHandler.UpdateProfile)
			r.Delete("/auth/mfa", accountHandler.DisableMFA)
			r.Get("/auth/consents/{client_id}", accountHandler.GetConsent)
			r.Delete("/auth/consents/{client_id}", accountHandler.RevokeConsent)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireAdmin)
				r.Post("/users/invite", authHandler.InviteUser)
				r.Delete("/users/{userID}", authHandler.RemoveUser)
				r.Get("/members", accountHandler.ListMembers)
				r.Patch("/members/{userID}", accountHandler.UpdateMemberRole)
				r.Delete("/members/{userID}", accountHandler.RemoveMember)
				r.Put("/settings/security", accountHandler.UpdateSecuritySettings)
			})

			// Platform operations require the platform-admin claim.
			r.Route("/platform", func(r chi.Router) {
				r.Use(requirePlatformAdmin)

				r.Route("/tenants", func(r chi.Router) {
					r.Get("/", tenantHandler.List)
					r.Post("/", tenantHandler.Create)
					r.Put("/{id}/database", tenantHandler.ConfigureDatabase)
					r.Post("/{id}/activate", tenantHandler.Activate)
					r.Post("/{id}/suspend", tenantHandler.Suspend)
				})

				r.Route("/applications", func(r chi.Router) {
					r.Post("/", applicationHandler.Create)
					r.Delete("/{client_id}", applicationHandler.Deactivate)
				})
			})
		})
	})

	return server
}

// requirePlatformAdmin gates platform routes on the is_platform_admin
// claim.
func requirePlatformAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if admin, _ := r.Context().Value(customMiddleware.AdminKey).(bool); !admin {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// contextWithTimeout bounds a handler-internal operation.
func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
