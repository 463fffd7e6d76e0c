package selfservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/cloudomate/coreauth/internal/auth"
	"github.com/cloudomate/coreauth/internal/cache"
	"github.com/cloudomate/coreauth/internal/oauth2"
	"github.com/cloudomate/coreauth/internal/repository"
)

// ErrFlowNotFound covers missing, expired and already-completed flows.
var ErrFlowNotFound = errors.New("flow not found or expired")

// FlowService manages the flow lifecycle and drives submissions through the
// auth service state machine. Flows live only in the cache; concurrent
// submissions of the same flow are serialized only by optimistic overwrite,
// so a stale flow reads as a replay.
type FlowService struct {
	cache  cache.Cache
	auth   *auth.AuthService
	oauth2 *oauth2.Service
	logger *slog.Logger
}

func NewFlowService(cacheStore cache.Cache, authService *auth.AuthService, oauth2Service *oauth2.Service, logger *slog.Logger) *FlowService {
	return &FlowService{
		cache:  cacheStore,
		auth:   authService,
		oauth2: oauth2Service,
		logger: logger,
	}
}

func flowKey(flowType FlowType, id uuid.UUID) string {
	return fmt.Sprintf("self_service_flow:%s:%s", flowType, id)
}

func (s *FlowService) saveFlow(ctx context.Context, flow *Flow) error {
	payload, err := json.Marshal(flow)
	if err != nil {
		return fmt.Errorf("failed to encode flow: %w", err)
	}
	ttl := time.Until(flow.ExpiresAt)
	if ttl <= 0 {
		return ErrFlowNotFound
	}
	return s.cache.Set(ctx, flowKey(flow.Type, flow.ID), payload, ttl)
}

// GetFlow loads a live flow from the cache.
func (s *FlowService) GetFlow(ctx context.Context, flowType FlowType, flowID uuid.UUID) (*Flow, error) {
	payload, err := s.cache.Get(ctx, flowKey(flowType, flowID))
	if err != nil {
		return nil, ErrFlowNotFound
	}
	var flow Flow
	if err := json.Unmarshal(payload, &flow); err != nil {
		return nil, fmt.Errorf("failed to decode flow: %w", err)
	}
	if time.Now().After(flow.ExpiresAt) {
		_ = s.deleteFlow(ctx, &flow)
		return nil, ErrFlowNotFound
	}
	return &flow, nil
}

func (s *FlowService) deleteFlow(ctx context.Context, flow *Flow) error {
	return s.cache.Delete(ctx, flowKey(flow.Type, flow.ID))
}

// CreateFlowInput parameterizes flow creation.
type CreateFlowInput struct {
	Delivery               DeliveryMethod
	OrganizationID         *uuid.UUID
	RequestURL             string
	AuthorizationRequestID *string
}

// CreateLoginFlow starts a login flow. Browser delivery mints a CSRF token
// the handler also sets as a cookie.
func (s *FlowService) CreateLoginFlow(ctx context.Context, input CreateFlowInput) (*Flow, error) {
	return s.createFlow(ctx, FlowLogin, input)
}

// CreateRegistrationFlow starts a registration flow.
func (s *FlowService) CreateRegistrationFlow(ctx context.Context, input CreateFlowInput) (*Flow, error) {
	return s.createFlow(ctx, FlowRegistration, input)
}

func (s *FlowService) createFlow(ctx context.Context, flowType FlowType, input CreateFlowInput) (*Flow, error) {
	flowID := uuid.New()
	now := time.Now()

	var csrfToken *string
	if input.Delivery == DeliveryBrowser {
		token, err := generateCSRFToken()
		if err != nil {
			return nil, err
		}
		csrfToken = &token
	}

	// Resolve the client behind the pending authorization request, if any.
	var clientID *string
	if input.AuthorizationRequestID != nil {
		request, err := s.oauth2.GetAuthorizationRequest(ctx, *input.AuthorizationRequestID)
		if err == nil {
			clientID = &request.ClientID
		}
	}

	var nodes []UiNode
	var action string
	if flowType == FlowLogin {
		nodes = loginNodes(csrfToken)
		action = fmt.Sprintf("/self-service/login?flow=%s", flowID)
	} else {
		nodes = registrationNodes(csrfToken)
		action = fmt.Sprintf("/self-service/registration?flow=%s", flowID)
	}

	flow := &Flow{
		ID:                     flowID,
		Type:                   flowType,
		Delivery:               input.Delivery,
		State:                  StateActive,
		RequestURL:             input.RequestURL,
		IssuedAt:               now,
		ExpiresAt:              now.Add(flowTTL),
		AuthorizationRequestID: input.AuthorizationRequestID,
		ClientID:               clientID,
		OrganizationID:         input.OrganizationID,
		CSRFToken:              csrfToken,
		UI: FlowUi{
			Action:   action,
			Method:   "POST",
			Nodes:    nodes,
			Messages: []UiMessage{},
		},
	}

	if err := s.saveFlow(ctx, flow); err != nil {
		return nil, err
	}
	return flow, nil
}

// checkCSRF validates browser submissions. A mismatch must not advance the
// flow state.
func (s *FlowService) checkCSRF(flow *Flow, provided *string) bool {
	if flow.Delivery != DeliveryBrowser || flow.CSRFToken == nil {
		return true
	}
	if provided == nil {
		return false
	}
	return auth.SecureCompareTokens(*provided, *flow.CSRFToken)
}

// SubmitLoginFlow advances a login flow.
func (s *FlowService) SubmitLoginFlow(ctx context.Context, flowID uuid.UUID, submit LoginSubmit, ip, userAgent string) (*FlowResponse, error) {
	flow, err := s.GetFlow(ctx, FlowLogin, flowID)
	if err != nil {
		return nil, err
	}
	if !flow.Submittable() {
		return nil, ErrFlowNotFound
	}

	if !s.checkCSRF(flow, submit.CSRFToken) {
		return flowError(flow, MsgCSRFMismatch, "CSRF token mismatch"), nil
	}

	switch submit.Method {
	case "password":
		return s.handlePasswordLogin(ctx, flow, submit, ip, userAgent)
	case "totp":
		return s.handleTotpSubmit(ctx, flow, submit, ip, userAgent)
	case "oidc":
		return s.handleOidcRedirect(flow, submit.ConnectionID)
	default:
		return flowError(flow, MsgInternalError, "Unsupported method"), nil
	}
}

func (s *FlowService) handlePasswordLogin(ctx context.Context, flow *Flow, submit LoginSubmit, ip, userAgent string) (*FlowResponse, error) {
	if submit.Identifier == nil || *submit.Identifier == "" {
		return fieldError(flow, "identifier", MsgFieldRequired, "Email is required"), nil
	}
	if submit.Password == nil || *submit.Password == "" {
		return fieldError(flow, "password", MsgFieldRequired, "Password is required"), nil
	}

	result, err := s.auth.Authenticate(ctx, auth.LoginInput{
		Email:          *submit.Identifier,
		Password:       *submit.Password,
		OrganizationID: flow.OrganizationID,
		IP:             ip,
		UserAgent:      userAgent,
	})
	if err != nil {
		var locked *auth.AccountLockedError
		if errors.As(err, &locked) {
			return flowError(flow, MsgAccountLocked, "Account locked. Try again later."), nil
		}
		if errors.Is(err, auth.ErrInvalidCredentials) ||
			errors.Is(err, auth.ErrAccountBanned) ||
			errors.Is(err, auth.ErrUserInactive) ||
			errors.Is(err, auth.ErrSsoRequired) {
			return flowError(flow, MsgInvalidCredentials, "Invalid email or password"), nil
		}
		return nil, err
	}

	switch result.Status {
	case auth.LoginMfaRequired:
		userID := result.User.ID
		flow.State = StateRequiresMfa
		flow.AuthenticatedUserID = &userID
		flow.AuthenticationMethods = append(flow.AuthenticationMethods, "password")
		flow.MfaChallengeToken = &result.ChallengeToken
		flow.UI = FlowUi{
			Action: fmt.Sprintf("/self-service/login?flow=%s", flow.ID),
			Method: "POST",
			Nodes:  totpNodes(flow.CSRFToken),
			Messages: []UiMessage{{
				ID:   "MFA_CODE_PROMPT",
				Text: "Enter the code from your authenticator app",
				Type: "info",
			}},
		}
		if err := s.saveFlow(ctx, flow); err != nil {
			return nil, err
		}
		return &FlowResponse{Flow: flow.Public()}, nil

	case auth.LoginMfaEnrollmentRequired:
		// Within the grace window the org still admits the login; once the
		// window lapses the flow cannot complete without enrollment.
		if !result.CanSkip {
			return flowError(flow, MsgMfaEnrollmentRequired,
				"Your organization requires multi-factor authentication. Please set up MFA to continue."), nil
		}
		fallthrough

	default:
		userID := result.User.ID
		flow.AuthenticatedUserID = &userID
		flow.AuthenticationMethods = append(flow.AuthenticationMethods, "password")
		return s.completeFlow(ctx, flow, result.User, ip, userAgent)
	}
}

func (s *FlowService) handleTotpSubmit(ctx context.Context, flow *Flow, submit LoginSubmit, ip, userAgent string) (*FlowResponse, error) {
	if flow.State != StateRequiresMfa {
		return flowError(flow, MsgInternalError, "MFA not required for this flow"), nil
	}
	if submit.TotpCode == nil || *submit.TotpCode == "" {
		return fieldError(flow, "totp_code", MsgFieldRequired, "Code is required"), nil
	}
	if flow.AuthenticatedUserID == nil || flow.MfaChallengeToken == nil {
		return nil, errors.New("no authenticated user in mfa flow")
	}

	user, err := s.auth.VerifyMFACode(ctx, auth.VerifyMfaInput{
		ChallengeToken: *flow.MfaChallengeToken,
		Code:           *submit.TotpCode,
		OrganizationID: flow.OrganizationID,
		IP:             ip,
		UserAgent:      userAgent,
	})
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCode) || errors.Is(err, auth.ErrInvalidCredentials) {
			return flowError(flow, MsgInvalidTotpCode, "Invalid verification code"), nil
		}
		return nil, err
	}
	if user.ID != *flow.AuthenticatedUserID {
		return flowError(flow, MsgInvalidTotpCode, "Invalid verification code"), nil
	}

	flow.AuthenticationMethods = append(flow.AuthenticationMethods, "totp")
	return s.completeFlow(ctx, flow, user, ip, userAgent)
}

// handleOidcRedirect sends the browser to the social connection's start
// URL; the flow is not completed yet.
func (s *FlowService) handleOidcRedirect(flow *Flow, connectionID *string) (*FlowResponse, error) {
	if connectionID == nil || *connectionID == "" {
		return flowError(flow, MsgFieldRequired, "connection_id is required for the oidc method"), nil
	}

	requestID := ""
	if flow.AuthorizationRequestID != nil {
		requestID = *flow.AuthorizationRequestID
	}
	redirect := fmt.Sprintf("/login/social/%s?request_id=%s", *connectionID, requestID)
	return &FlowResponse{RedirectBrowserTo: &redirect}, nil
}

// SubmitRegistrationFlow advances a registration flow.
func (s *FlowService) SubmitRegistrationFlow(ctx context.Context, flowID uuid.UUID, submit RegistrationSubmit, ip, userAgent string) (*FlowResponse, error) {
	flow, err := s.GetFlow(ctx, FlowRegistration, flowID)
	if err != nil {
		return nil, err
	}
	if !flow.Submittable() {
		return nil, ErrFlowNotFound
	}

	if !s.checkCSRF(flow, submit.CSRFToken) {
		return flowError(flow, MsgCSRFMismatch, "CSRF token mismatch"), nil
	}

	switch submit.Method {
	case "password":
		return s.handlePasswordRegistration(ctx, flow, submit, ip, userAgent)
	case "oidc":
		return s.handleOidcRedirect(flow, submit.ConnectionID)
	default:
		return flowError(flow, MsgInternalError, "Unsupported method"), nil
	}
}

func (s *FlowService) handlePasswordRegistration(ctx context.Context, flow *Flow, submit RegistrationSubmit, ip, userAgent string) (*FlowResponse, error) {
	if submit.Email == nil || *submit.Email == "" {
		return fieldError(flow, "email", MsgFieldRequired, "Email is required"), nil
	}
	if submit.Password == nil || *submit.Password == "" {
		return fieldError(flow, "password", MsgFieldRequired, "Password is required"), nil
	}
	if len(*submit.Password) < 8 {
		return fieldError(flow, "password", MsgPasswordTooShort, "Password must be at least 8 characters"), nil
	}

	fullName := ""
	if submit.FullName != nil {
		fullName = *submit.FullName
	}

	user, err := s.auth.Register(ctx, auth.RegisterInput{
		Email:          *submit.Email,
		Password:       *submit.Password,
		FullName:       fullName,
		OrganizationID: flow.OrganizationID,
	})
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return flowError(flow, MsgEmailAlreadyExists, "An account with this email already exists"), nil
		}
		return nil, err
	}

	userID := user.ID
	flow.AuthenticatedUserID = &userID
	flow.AuthenticationMethods = append(flow.AuthenticationMethods, "password")
	return s.completeFlow(ctx, flow, user, ip, userAgent)
}

// completeFlow finishes an authenticated flow: when bound to an OAuth
// authorization request it mints the code and redirects back to the client;
// otherwise it establishes a login session. Completed flows are deleted.
func (s *FlowService) completeFlow(ctx context.Context, flow *Flow, user *repository.User, ip, userAgent string) (*FlowResponse, error) {
	now := time.Now()
	flow.State = StateCompleted

	orgID := flow.OrganizationID
	if orgID == nil {
		orgID = user.DefaultTenantID
	}

	if flow.AuthorizationRequestID != nil {
		request, err := s.oauth2.GetAuthorizationRequest(ctx, *flow.AuthorizationRequestID)
		if err == nil {
			code, err := s.oauth2.CreateAuthorizationCode(ctx, request, user.ID, orgID)
			if err != nil {
				return nil, err
			}
			if err := s.oauth2.DeleteAuthorizationRequest(ctx, request.RequestID); err != nil {
				s.logger.Warn("authorization_request_delete_failed", "error", err)
			}

			params := url.Values{"code": {code}}
			if request.State != nil {
				params.Set("state", *request.State)
			}
			redirect := request.RedirectURI + "?" + params.Encode()

			if err := s.deleteFlow(ctx, flow); err != nil {
				s.logger.Warn("flow_delete_failed", "error", err)
			}
			return &FlowResponse{RedirectBrowserTo: &redirect}, nil
		}
		s.logger.Warn("authorization_request_missing", "flow_id", flow.ID, "request_id", *flow.AuthorizationRequestID)
	}

	// No OAuth link: establish a session directly.
	var ipPtr, uaPtr *string
	if ip != "" {
		ipPtr = &ip
	}
	if userAgent != "" {
		uaPtr = &userAgent
	}

	mfaVerified := false
	for _, m := range flow.AuthenticationMethods {
		if m == "totp" {
			mfaVerified = true
		}
	}

	sessionToken, err := s.oauth2.CreateLoginSession(ctx, oauth2.CreateLoginSessionInput{
		UserID:      user.ID,
		TenantID:    orgID,
		IPAddress:   ipPtr,
		UserAgent:   uaPtr,
		MfaVerified: mfaVerified,
	})
	if err != nil {
		return nil, err
	}

	methods := make([]AuthMethodRef, 0, len(flow.AuthenticationMethods))
	for _, m := range flow.AuthenticationMethods {
		methods = append(methods, AuthMethodRef{Method: m, CompletedAt: now})
	}

	session := &SessionResponse{
		ID: uuid.New(),
		Identity: IdentityResponse{
			ID:            user.ID,
			Email:         user.Email,
			EmailVerified: user.EmailVerified,
			CreatedAt:     user.CreatedAt,
			UpdatedAt:     user.UpdatedAt,
		},
		AuthenticatedAt:       now,
		ExpiresAt:             now.Add(7 * 24 * time.Hour),
		AuthenticationMethods: methods,
	}

	if err := s.deleteFlow(ctx, flow); err != nil {
		s.logger.Warn("flow_delete_failed", "error", err)
	}

	response := &FlowResponse{Session: session}
	if flow.Delivery == DeliveryAPI {
		response.SessionToken = &sessionToken
	}
	return response, nil
}
