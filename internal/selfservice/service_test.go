package selfservice

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudomate/coreauth/internal/cache"
)

func testFlowService() *FlowService {
	// Auth and OAuth2 services are only reached past the CSRF and method
	// gates; these tests stop before them.
	return NewFlowService(cache.NewMemory(), nil, nil, slog.Default())
}

func createBrowserLoginFlow(t *testing.T, s *FlowService) *Flow {
	t.Helper()
	flow, err := s.CreateLoginFlow(context.Background(), CreateFlowInput{
		Delivery:   DeliveryBrowser,
		RequestURL: "https://auth.test/self-service/login/browser",
	})
	require.NoError(t, err)
	return flow
}

func TestCreateLoginFlowBrowser(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	assert.Equal(t, FlowLogin, flow.Type)
	assert.Equal(t, StateActive, flow.State)
	require.NotNil(t, flow.CSRFToken)
	assert.Len(t, *flow.CSRFToken, 64, "32 random bytes hex-encoded")
	assert.WithinDuration(t, time.Now().Add(flowTTL), flow.ExpiresAt, time.Second)
	assert.Contains(t, flow.UI.Action, flow.ID.String())

	names := map[string]bool{}
	for _, node := range flow.UI.Nodes {
		names[node.Attributes.Name] = true
	}
	assert.True(t, names["csrf_token"])
	assert.True(t, names["identifier"])
	assert.True(t, names["password"])
	assert.True(t, names["method"])
}

func TestCreateLoginFlowAPIHasNoCSRF(t *testing.T) {
	s := testFlowService()

	flow, err := s.CreateLoginFlow(context.Background(), CreateFlowInput{
		Delivery: DeliveryAPI,
	})
	require.NoError(t, err)
	assert.Nil(t, flow.CSRFToken)

	for _, node := range flow.UI.Nodes {
		assert.NotEqual(t, "csrf_token", node.Attributes.Name)
	}
}

func TestGetFlowRoundTrip(t *testing.T) {
	s := testFlowService()
	created := createBrowserLoginFlow(t, s)

	loaded, err := s.GetFlow(context.Background(), FlowLogin, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, loaded.ID)
	assert.Equal(t, created.CSRFToken, loaded.CSRFToken)
	assert.Equal(t, len(created.UI.Nodes), len(loaded.UI.Nodes))
}

func TestGetFlowUnknown(t *testing.T) {
	s := testFlowService()

	_, err := s.GetFlow(context.Background(), FlowLogin, uuid.New())
	assert.ErrorIs(t, err, ErrFlowNotFound)

	// A login flow id does not resolve as a registration flow.
	flow := createBrowserLoginFlow(t, s)
	_, err = s.GetFlow(context.Background(), FlowRegistration, flow.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestSubmitCSRFMismatchDoesNotAdvance(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	bad := "not-the-token"
	resp, err := s.SubmitLoginFlow(context.Background(), flow.ID, LoginSubmit{
		Method:    "password",
		CSRFToken: &bad,
	}, "203.0.113.7", "test-agent")
	require.NoError(t, err)

	require.NotNil(t, resp.Flow)
	require.Len(t, resp.Flow.UI.Messages, 1)
	assert.Equal(t, MsgCSRFMismatch, resp.Flow.UI.Messages[0].ID)

	// The stored flow is still active and unchanged.
	stored, err := s.GetFlow(context.Background(), FlowLogin, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, StateActive, stored.State)
	assert.Nil(t, stored.AuthenticatedUserID)
}

func TestSubmitMissingCSRFTokenRejected(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	resp, err := s.SubmitLoginFlow(context.Background(), flow.ID, LoginSubmit{
		Method: "password",
	}, "", "")
	require.NoError(t, err)
	require.NotNil(t, resp.Flow)
	require.Len(t, resp.Flow.UI.Messages, 1)
	assert.Equal(t, MsgCSRFMismatch, resp.Flow.UI.Messages[0].ID)
}

func TestSubmitUnsupportedMethod(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	resp, err := s.SubmitLoginFlow(context.Background(), flow.ID, LoginSubmit{
		Method:    "carrier-pigeon",
		CSRFToken: flow.CSRFToken,
	}, "", "")
	require.NoError(t, err)
	require.NotNil(t, resp.Flow)
	assert.Equal(t, MsgInternalError, resp.Flow.UI.Messages[0].ID)
}

func TestSubmitMissingFieldsAttachFieldErrors(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	resp, err := s.SubmitLoginFlow(context.Background(), flow.ID, LoginSubmit{
		Method:    "password",
		CSRFToken: flow.CSRFToken,
	}, "", "")
	require.NoError(t, err)
	require.NotNil(t, resp.Flow)

	var found bool
	for _, node := range resp.Flow.UI.Nodes {
		if node.Attributes.Name == "identifier" {
			require.Len(t, node.Messages, 1)
			assert.Equal(t, MsgFieldRequired, node.Messages[0].ID)
			found = true
		}
	}
	assert.True(t, found, "error must attach to the identifier node")
}

func TestTotpOnlyLegalInRequiresMfa(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	code := "123456"
	resp, err := s.SubmitLoginFlow(context.Background(), flow.ID, LoginSubmit{
		Method:    "totp",
		CSRFToken: flow.CSRFToken,
		TotpCode:  &code,
	}, "", "")
	require.NoError(t, err)
	require.NotNil(t, resp.Flow)
	assert.Equal(t, MsgInternalError, resp.Flow.UI.Messages[0].ID)
}

func TestOidcSubmitReturnsRedirect(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	conn := "conn_google"
	resp, err := s.SubmitLoginFlow(context.Background(), flow.ID, LoginSubmit{
		Method:       "oidc",
		CSRFToken:    flow.CSRFToken,
		ConnectionID: &conn,
	}, "", "")
	require.NoError(t, err)

	require.NotNil(t, resp.RedirectBrowserTo)
	assert.Contains(t, *resp.RedirectBrowserTo, "/login/social/conn_google")
	assert.Nil(t, resp.Session)

	// The flow survives: the social round-trip completes it later.
	_, err = s.GetFlow(context.Background(), FlowLogin, flow.ID)
	assert.NoError(t, err)
}

func TestPublicStripsServerOnlyFields(t *testing.T) {
	userID := uuid.New()
	challenge := "challenge-token"
	flow := &Flow{
		ID:                    uuid.New(),
		State:                 StateRequiresMfa,
		AuthenticatedUserID:   &userID,
		AuthenticationMethods: []string{"password"},
		MfaChallengeToken:     &challenge,
	}

	public := flow.Public()
	assert.Nil(t, public.AuthenticatedUserID)
	assert.Nil(t, public.AuthenticationMethods)
	assert.Nil(t, public.MfaChallengeToken)

	// The original keeps its bookkeeping.
	assert.NotNil(t, flow.AuthenticatedUserID)
}

func TestFlowExpiry(t *testing.T) {
	s := testFlowService()
	flow := createBrowserLoginFlow(t, s)

	// Force the deadline into the past on a loaded copy.
	flow.ExpiresAt = time.Now().Add(-time.Second)
	stale, _ := s.GetFlow(context.Background(), FlowLogin, flow.ID)
	require.NotNil(t, stale)
	stale.ExpiresAt = time.Now().Add(-time.Second)
	// saveFlow refuses to persist an already-expired flow.
	assert.Error(t, s.saveFlow(context.Background(), stale))
}

func TestSubmittable(t *testing.T) {
	assert.True(t, (&Flow{State: StateActive}).Submittable())
	assert.True(t, (&Flow{State: StateRequiresMfa}).Submittable())
	assert.False(t, (&Flow{State: StateCompleted}).Submittable())
}
