// Package selfservice implements resumable, UI-describing login and
// registration flows. A flow lives in the cache for ten minutes, renders a
// node tree a client can turn into a form, and on completion either finishes
// an OAuth authorization request or establishes a browser session.
package selfservice

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

const flowTTL = 10 * time.Minute

type FlowType string

const (
	FlowLogin        FlowType = "login"
	FlowRegistration FlowType = "registration"
)

type DeliveryMethod string

const (
	DeliveryBrowser DeliveryMethod = "browser"
	DeliveryAPI     DeliveryMethod = "api"
)

type FlowState string

const (
	StateActive      FlowState = "active"
	StateRequiresMfa FlowState = "requires_mfa"
	StateCompleted   FlowState = "completed"
)

// Stable message identifiers renderers can key translations on.
const (
	MsgCSRFMismatch          = "CSRF_MISMATCH"
	MsgFieldRequired         = "FIELD_REQUIRED"
	MsgInvalidCredentials    = "INVALID_CREDENTIALS"
	MsgInvalidTotpCode       = "INVALID_TOTP_CODE"
	MsgPasswordTooShort      = "PASSWORD_TOO_SHORT"
	MsgEmailAlreadyExists    = "EMAIL_ALREADY_EXISTS"
	MsgAccountLocked         = "ACCOUNT_LOCKED"
	MsgMfaEnrollmentRequired = "MFA_ENROLLMENT_REQUIRED"
	MsgInternalError         = "INTERNAL_ERROR"
)

// UiMessage attaches to a node (field error) or the form (flow error).
type UiMessage struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Type string `json:"type"` // info | error
}

// UiNodeAttributes describe one form input.
type UiNodeAttributes struct {
	Name         string  `json:"name"`
	InputType    string  `json:"input_type"`
	Value        any     `json:"value,omitempty"`
	Required     bool    `json:"required"`
	Disabled     bool    `json:"disabled"`
	Pattern      *string `json:"pattern,omitempty"`
	Autocomplete *string `json:"autocomplete,omitempty"`
	Maxlength    *int    `json:"maxlength,omitempty"`
}

type UiNodeMeta struct {
	Label        *UiLabel `json:"label,omitempty"`
	ConnectionID *string  `json:"connection_id,omitempty"`
}

type UiLabel struct {
	Text string `json:"text"`
}

// UiNode is one entry of the rendered form. Groups section the form:
// default, password, profile, totp, oidc.
type UiNode struct {
	NodeType   string           `json:"node_type"`
	Group      string           `json:"group"`
	Attributes UiNodeAttributes `json:"attributes"`
	Messages   []UiMessage      `json:"messages"`
	Meta       UiNodeMeta       `json:"meta"`
}

type FlowUi struct {
	Action   string      `json:"action"`
	Method   string      `json:"method"`
	Nodes    []UiNode    `json:"nodes"`
	Messages []UiMessage `json:"messages"`
}

// Flow is the full server-side flow object as stored in the cache. The wire
// representation strips the server-only fields via Public.
type Flow struct {
	ID                     uuid.UUID      `json:"id"`
	Type                   FlowType       `json:"type"`
	Delivery               DeliveryMethod `json:"delivery"`
	State                  FlowState      `json:"state"`
	RequestURL             string         `json:"request_url"`
	IssuedAt               time.Time      `json:"issued_at"`
	ExpiresAt              time.Time      `json:"expires_at"`
	AuthorizationRequestID *string        `json:"authorization_request_id,omitempty"`
	ClientID               *string        `json:"client_id,omitempty"`
	OrganizationID         *uuid.UUID     `json:"organization_id,omitempty"`
	CSRFToken              *string        `json:"csrf_token,omitempty"`

	// Server-only: never serialized to clients.
	AuthenticatedUserID   *uuid.UUID `json:"authenticated_user_id,omitempty"`
	AuthenticationMethods []string   `json:"authentication_methods,omitempty"`
	MfaChallengeToken     *string    `json:"mfa_challenge_token,omitempty"`

	UI FlowUi `json:"ui"`
}

// Public returns the wire representation: the flow without the server-only
// authentication bookkeeping.
func (f *Flow) Public() *Flow {
	out := *f
	out.AuthenticatedUserID = nil
	out.AuthenticationMethods = nil
	out.MfaChallengeToken = nil
	return &out
}

// Submittable reports whether the flow can still accept a submission.
func (f *Flow) Submittable() bool {
	return f.State == StateActive || f.State == StateRequiresMfa
}

// SessionResponse is the session envelope returned when a flow completes
// without an OAuth authorization request.
type SessionResponse struct {
	ID                    uuid.UUID        `json:"id"`
	Identity              IdentityResponse `json:"identity"`
	AuthenticatedAt       time.Time        `json:"authenticated_at"`
	ExpiresAt             time.Time        `json:"expires_at"`
	AuthenticationMethods []AuthMethodRef  `json:"authentication_methods"`
}

type IdentityResponse struct {
	ID            uuid.UUID `json:"id"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

type AuthMethodRef struct {
	Method      string    `json:"method"`
	CompletedAt time.Time `json:"completed_at"`
}

// FlowResponse is what a submission returns: a completed session, a
// redirect, or the updated flow for another round.
type FlowResponse struct {
	Session           *SessionResponse `json:"session,omitempty"`
	SessionToken      *string          `json:"session_token,omitempty"`
	RedirectBrowserTo *string          `json:"redirect_browser_to,omitempty"`
	Flow              *Flow            `json:"flow,omitempty"`
}

// LoginSubmit is the login flow submission body.
type LoginSubmit struct {
	Method       string  `json:"method"` // password | totp | oidc
	CSRFToken    *string `json:"csrf_token,omitempty"`
	Identifier   *string `json:"identifier,omitempty"`
	Password     *string `json:"password,omitempty"`
	TotpCode     *string `json:"totp_code,omitempty"`
	ConnectionID *string `json:"connection_id,omitempty"`
}

// RegistrationSubmit is the registration flow submission body.
type RegistrationSubmit struct {
	Method       string  `json:"method"`
	CSRFToken    *string `json:"csrf_token,omitempty"`
	Email        *string `json:"email,omitempty"`
	Password     *string `json:"password,omitempty"`
	FullName     *string `json:"full_name,omitempty"`
	ConnectionID *string `json:"connection_id,omitempty"`
}

// generateCSRFToken mints the 32-byte hex token browser flows carry.
func generateCSRFToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// flowError attaches a form-level error and echoes the flow back.
func flowError(flow *Flow, id, text string) *FlowResponse {
	flow.UI.Messages = []UiMessage{{ID: id, Text: text, Type: "error"}}
	return &FlowResponse{Flow: flow.Public()}
}

// fieldError attaches an error to the named node.
func fieldError(flow *Flow, fieldName, id, text string) *FlowResponse {
	for i := range flow.UI.Nodes {
		if flow.UI.Nodes[i].Attributes.Name == fieldName {
			flow.UI.Nodes[i].Messages = []UiMessage{{ID: id, Text: text, Type: "error"}}
			break
		}
	}
	return &FlowResponse{Flow: flow.Public()}
}
