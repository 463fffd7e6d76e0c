package oauth2

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/repository"
	"github.com/cloudomate/coreauth/internal/storage"
)

const (
	authRequestTTL = 10 * time.Minute
	authCodeTTL    = 10 * time.Minute

	authCodeLength     = 48
	refreshTokenLength = 64
	requestIDLength    = 32
)

// Service is the OAuth2/OIDC authorization server core.
//
// Protocol state (applications, authorization requests and codes, token
// records, consents, login sessions) is platform-scoped and lives on the
// master pool; user rows are resolved through the tenant router so dedicated
// tenants stay on their own database.
type Service struct {
	router *storage.Router
	keys   *auth.KeyManager
	hasher auth.PasswordHasher
	issuer string
	logger *slog.Logger

	apps     repository.ApplicationRepo
	oauth    repository.OAuthRepo
	users    repository.UserRepo
	tenants  repository.TenantRepo
	sessions repository.SessionRepo
}

func NewService(router *storage.Router, keys *auth.KeyManager, hasher auth.PasswordHasher, issuer string, logger *slog.Logger) *Service {
	return &Service{
		router: router,
		keys:   keys,
		hasher: hasher,
		issuer: issuer,
		logger: logger,
	}
}

func (s *Service) master() *pgxpool.Pool {
	return s.router.Master()
}

// userPool resolves where a user's row lives from the tenant that owns it.
func (s *Service) userPool(ctx context.Context, tenantID *uuid.UUID) (*pgxpool.Pool, error) {
	if tenantID == nil {
		return s.master(), nil
	}
	return s.router.Pool(ctx, *tenantID)
}

// Discovery returns the OIDC discovery document.
func (s *Service) Discovery() Discovery {
	return NewDiscovery(s.issuer)
}

// JWKS returns the published signing keys.
func (s *Service) JWKS(ctx context.Context) (*auth.JWKS, error) {
	return s.keys.JWKS(ctx)
}

// Application loads an active client registration.
func (s *Service) Application(ctx context.Context, clientID string) (*repository.Application, error) {
	app, err := s.apps.GetByClientID(ctx, s.master(), clientID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrInvalidClient
	}
	return app, err
}

// ValidateRedirectURI requires an exact string match against the client's
// registered callbacks; no normalization.
func (s *Service) ValidateRedirectURI(app *repository.Application, redirectURI string) bool {
	return slices.Contains(app.CallbackURLs, redirectURI)
}

// ValidateClientSecret bcrypt-verifies a confidential client's secret.
func (s *Service) ValidateClientSecret(app *repository.Application, clientSecret string) bool {
	if app.ClientSecretHash == nil {
		return false
	}
	return s.hasher.Compare(*app.ClientSecretHash, clientSecret) == nil
}

// CreateAuthorizationRequestInput is the validated /authorize input.
type CreateAuthorizationRequestInput struct {
	ClientID            string
	RedirectURI         string
	ResponseType        string
	Scope               *string
	State               *string
	CodeChallenge       *string
	CodeChallengeMethod *string
	Nonce               *string
	TenantID            *uuid.UUID
	LoginHint           *string
	Prompt              *string
	MaxAge              *int32
	UILocales           *string
}

// CreateAuthorizationRequest validates the request against the client
// registration and persists the scratchpad the login flow resumes from.
func (s *Service) CreateAuthorizationRequest(ctx context.Context, input CreateAuthorizationRequestInput) (*repository.AuthorizationRequest, error) {
	app, err := s.Application(ctx, input.ClientID)
	if err != nil {
		return nil, err
	}

	if !s.ValidateRedirectURI(app, input.RedirectURI) {
		return nil, fmt.Errorf("%w: redirect_uri not registered", ErrInvalidRequest)
	}

	if input.ResponseType != "code" {
		return nil, fmt.Errorf("%w: unsupported response_type", ErrInvalidRequest)
	}
	if !slices.Contains(app.GrantTypes, "authorization_code") {
		return nil, ErrUnauthorizedClient
	}

	if input.Scope != nil {
		for scope := range parseScopes(input.Scope) {
			if !slices.Contains(app.AllowedScopes, scope) {
				return nil, ErrInvalidScope
			}
		}
	}

	requestID, err := auth.RandomAlphanumeric(requestIDLength)
	if err != nil {
		return nil, err
	}

	request, err := s.oauth.CreateAuthRequest(ctx, s.master(), repository.CreateAuthRequestParams{
		RequestID:           requestID,
		ClientID:            input.ClientID,
		RedirectURI:         input.RedirectURI,
		ResponseType:        input.ResponseType,
		Scope:               input.Scope,
		State:               input.State,
		CodeChallenge:       input.CodeChallenge,
		CodeChallengeMethod: input.CodeChallengeMethod,
		Nonce:               input.Nonce,
		TenantID:            input.TenantID,
		LoginHint:           input.LoginHint,
		Prompt:              input.Prompt,
		MaxAge:              input.MaxAge,
		UILocales:           input.UILocales,
		ExpiresAt:           time.Now().Add(authRequestTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to store authorization request: %w", err)
	}

	return request, nil
}

// GetAuthorizationRequest loads an unexpired in-flight request.
func (s *Service) GetAuthorizationRequest(ctx context.Context, requestID string) (*repository.AuthorizationRequest, error) {
	return s.oauth.GetAuthRequest(ctx, s.master(), requestID)
}

// DeleteAuthorizationRequest removes the scratchpad; called on code issuance.
func (s *Service) DeleteAuthorizationRequest(ctx context.Context, requestID string) error {
	return s.oauth.DeleteAuthRequest(ctx, s.master(), requestID)
}

// CreateAuthorizationCode mints a one-shot code bound to the authenticated
// user and the request's parameters.
func (s *Service) CreateAuthorizationCode(ctx context.Context, request *repository.AuthorizationRequest, userID uuid.UUID, tenantID *uuid.UUID) (string, error) {
	code, err := auth.RandomAlphanumeric(authCodeLength)
	if err != nil {
		return "", err
	}

	err = s.oauth.CreateAuthCode(ctx, s.master(), repository.CreateAuthCodeParams{
		Code:                code,
		ClientID:            request.ClientID,
		UserID:              userID,
		TenantID:            tenantID,
		RedirectURI:         request.RedirectURI,
		Scope:               request.Scope,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
		Nonce:               request.Nonce,
		State:               request.State,
		ResponseType:        request.ResponseType,
		ExpiresAt:           time.Now().Add(authCodeTTL),
	})
	if err != nil {
		return "", fmt.Errorf("failed to store authorization code: %w", err)
	}

	// Record the grant. Consent is implicit for a completed login today;
	// the row is what revocation and the consent screen key off.
	if request.Scope != nil {
		if _, err := s.oauth.GrantConsent(ctx, s.master(), userID, request.ClientID, tenantID, strings.Fields(*request.Scope)); err != nil {
			s.logger.Warn("consent_record_failed", "error", err, "client_id", request.ClientID)
		}
	}

	s.logger.Info("authorization_code_created", "client_id", request.ClientID, "user_id", userID)

	return code, nil
}

// ExchangeInput is the authorization_code grant input.
type ExchangeInput struct {
	Code         string
	ClientID     string
	ClientSecret *string
	RedirectURI  string
	CodeVerifier *string
	Amr          []string
}

// ExchangeAuthorizationCode redeems a code for tokens.
//
// PKCE is verified before the code is consumed, so a mismatched verifier
// leaves the code alive and a legitimate retry can still succeed; the
// consume itself is an atomic conditional update, so of two concurrent
// exchanges exactly one wins.
func (s *Service) ExchangeAuthorizationCode(ctx context.Context, input ExchangeInput) (*TokenResponse, error) {
	app, err := s.Application(ctx, input.ClientID)
	if err != nil {
		return nil, err
	}

	// Confidential clients must authenticate.
	if app.ClientSecretHash != nil {
		if input.ClientSecret == nil || !s.ValidateClientSecret(app, *input.ClientSecret) {
			return nil, ErrInvalidClient
		}
	}

	code, err := s.oauth.GetLiveAuthCode(ctx, s.master(), input.Code, input.ClientID)
	if err != nil {
		return nil, ErrInvalidGrant
	}

	if code.RedirectURI != input.RedirectURI {
		return nil, ErrInvalidGrant
	}

	if code.CodeChallenge != nil {
		if input.CodeVerifier == nil {
			return nil, ErrInvalidGrant
		}
		if !verifyPKCE(*code.CodeChallenge, code.CodeChallengeMethod, *input.CodeVerifier) {
			return nil, ErrInvalidGrant
		}
	}

	// Single-use: the conditional update loses exactly once per code.
	if err := s.oauth.ConsumeAuthCode(ctx, s.master(), input.Code); err != nil {
		return nil, ErrInvalidGrant
	}

	pool, err := s.userPool(ctx, code.TenantID)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetByID(ctx, pool, code.UserID)
	if err != nil {
		return nil, ErrInvalidGrant
	}

	amr := input.Amr
	if len(amr) == 0 {
		amr = []string{"pwd"}
	}

	return s.generateTokens(ctx, user, app, code.Scope, code.Nonce, code.TenantID, true, amr)
}

// verifyPKCE checks the verifier against the committed challenge.
// S256: base64url(sha256(verifier)) == challenge; plain: equality.
func verifyPKCE(challenge string, method *string, verifier string) bool {
	m := "plain"
	if method != nil {
		m = *method
	}
	if m == "S256" {
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return auth.SecureCompareTokens(computed, challenge)
	}
	return auth.SecureCompareTokens(verifier, challenge)
}
