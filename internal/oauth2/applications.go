package oauth2

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/repository"
)

const (
	clientIDLength     = 24
	clientSecretLength = 48
)

// CreateApplicationInput registers an OAuth client.
type CreateApplicationInput struct {
	TenantID               *uuid.UUID
	Name                   string
	AppType                string // regular_web | spa | native | m2m
	CallbackURLs           []string
	AllowedLogoutURLs      []string
	AllowedWebOrigins      []string
	GrantTypes             []string
	AllowedScopes          []string
	AccessTokenTTLSeconds  int32
	RefreshTokenTTLSeconds int32
	Confidential           bool
}

// CreateApplicationResult carries the one-time secret. Only its bcrypt hash
// is stored; the caller must save the secret now or never.
type CreateApplicationResult struct {
	Application  *repository.Application
	ClientSecret *string
}

// CreateApplication mints a client_id (and, for confidential clients, a
// secret) and persists the registration.
func (s *Service) CreateApplication(ctx context.Context, input CreateApplicationInput) (*CreateApplicationResult, error) {
	clientID, err := auth.RandomAlphanumeric(clientIDLength)
	if err != nil {
		return nil, err
	}
	clientID = "app_" + clientID

	var secretPlain *string
	var secretHash *string
	if input.Confidential {
		secret, err := auth.RandomAlphanumeric(clientSecretLength)
		if err != nil {
			return nil, err
		}
		hash, err := s.hasher.Hash(secret)
		if err != nil {
			return nil, fmt.Errorf("failed to hash client secret: %w", err)
		}
		secretPlain = &secret
		secretHash = &hash
	}

	if input.AppType == "" {
		input.AppType = "regular_web"
	}
	if len(input.GrantTypes) == 0 {
		input.GrantTypes = []string{"authorization_code", "refresh_token"}
	}
	if len(input.AllowedScopes) == 0 {
		input.AllowedScopes = []string{"openid", "profile", "email", "offline_access"}
	}
	if input.AccessTokenTTLSeconds == 0 {
		input.AccessTokenTTLSeconds = 3600
	}
	if input.RefreshTokenTTLSeconds == 0 {
		input.RefreshTokenTTLSeconds = 30 * 24 * 3600
	}

	app, err := s.apps.Create(ctx, s.master(), repository.CreateApplicationParams{
		TenantID:               input.TenantID,
		ClientID:               clientID,
		ClientSecretHash:       secretHash,
		Name:                   input.Name,
		AppType:                input.AppType,
		CallbackURLs:           input.CallbackURLs,
		AllowedLogoutURLs:      input.AllowedLogoutURLs,
		AllowedWebOrigins:      input.AllowedWebOrigins,
		GrantTypes:             input.GrantTypes,
		AllowedScopes:          input.AllowedScopes,
		AccessTokenTTLSeconds:  input.AccessTokenTTLSeconds,
		RefreshTokenTTLSeconds: input.RefreshTokenTTLSeconds,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("application_created", "client_id", app.ClientID, "name", app.Name)

	return &CreateApplicationResult{
		Application:  app,
		ClientSecret: secretPlain,
	}, nil
}

// DeactivateApplication disables a client; its tokens stop validating once
// they expire, new grants are refused immediately.
func (s *Service) DeactivateApplication(ctx context.Context, clientID string) error {
	return s.apps.Deactivate(ctx, s.master(), clientID)
}
