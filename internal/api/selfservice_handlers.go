package api

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	"github.com/cloudomate/coreauth/internal/selfservice"
	"github.com/cloudomate/coreauth/internal/storage"
)

const csrfCookieName = "coreauth_csrf"

// SelfServiceHandler serves the flow surface.
type SelfServiceHandler struct {
	flows  *selfservice.FlowService
	router *storage.Router
	logger *slog.Logger
}

func NewSelfServiceHandler(flows *selfservice.FlowService, router *storage.Router, logger *slog.Logger) *SelfServiceHandler {
	return &SelfServiceHandler{flows: flows, router: router, logger: logger}
}

func (h *SelfServiceHandler) createFlowInput(r *http.Request, delivery selfservice.DeliveryMethod) (selfservice.CreateFlowInput, error) {
	input := selfservice.CreateFlowInput{
		Delivery:   delivery,
		RequestURL: r.URL.String(),
	}

	if requestID := r.URL.Query().Get("request_id"); requestID != "" {
		input.AuthorizationRequestID = &requestID
	}
	if org := r.URL.Query().Get("organization"); org != "" {
		record, err := h.router.TenantRecordBySlug(r.Context(), org)
		if err != nil {
			return input, err
		}
		input.OrganizationID = &record.ID
	}
	return input, nil
}

func setCSRFCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     csrfCookieName,
		Value:    token,
		Path:     "/self-service",
		MaxAge:   600,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// CreateLoginBrowser handles GET /self-service/login/browser.
func (h *SelfServiceHandler) CreateLoginBrowser(w http.ResponseWriter, r *http.Request) {
	h.createFlow(w, r, selfservice.FlowLogin, selfservice.DeliveryBrowser)
}

// CreateLoginAPI handles GET /self-service/login/api.
func (h *SelfServiceHandler) CreateLoginAPI(w http.ResponseWriter, r *http.Request) {
	h.createFlow(w, r, selfservice.FlowLogin, selfservice.DeliveryAPI)
}

// CreateRegistrationBrowser handles GET /self-service/registration/browser.
func (h *SelfServiceHandler) CreateRegistrationBrowser(w http.ResponseWriter, r *http.Request) {
	h.createFlow(w, r, selfservice.FlowRegistration, selfservice.DeliveryBrowser)
}

// CreateRegistrationAPI handles GET /self-service/registration/api.
func (h *SelfServiceHandler) CreateRegistrationAPI(w http.ResponseWriter, r *http.Request) {
	h.createFlow(w, r, selfservice.FlowRegistration, selfservice.DeliveryAPI)
}

func (h *SelfServiceHandler) createFlow(w http.ResponseWriter, r *http.Request, flowType selfservice.FlowType, delivery selfservice.DeliveryMethod) {
	input, err := h.createFlowInput(r, delivery)
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "unknown organization")
		return
	}

	var flow *selfservice.Flow
	if flowType == selfservice.FlowLogin {
		flow, err = h.flows.CreateLoginFlow(r.Context(), input)
	} else {
		flow, err = h.flows.CreateRegistrationFlow(r.Context(), input)
	}
	if err != nil {
		h.logger.Error("flow_create_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}

	if delivery == selfservice.DeliveryBrowser && flow.CSRFToken != nil {
		setCSRFCookie(w, *flow.CSRFToken)
	}

	helpers.RespondJSON(w, http.StatusOK, flow.Public())
}

// GetLoginFlow handles GET /self-service/login?flow=.
func (h *SelfServiceHandler) GetLoginFlow(w http.ResponseWriter, r *http.Request) {
	h.getFlow(w, r, selfservice.FlowLogin)
}

// GetRegistrationFlow handles GET /self-service/registration?flow=.
func (h *SelfServiceHandler) GetRegistrationFlow(w http.ResponseWriter, r *http.Request) {
	h.getFlow(w, r, selfservice.FlowRegistration)
}

func (h *SelfServiceHandler) getFlow(w http.ResponseWriter, r *http.Request, flowType selfservice.FlowType) {
	flowID, err := parseUUID(r.URL.Query().Get("flow"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid flow id")
		return
	}

	flow, err := h.flows.GetFlow(r.Context(), flowType, flowID)
	if err != nil {
		helpers.RespondError(w, http.StatusNotFound, "flow not found or expired")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, flow.Public())
}

// SubmitLoginFlow handles POST /self-service/login?flow=.
func (h *SelfServiceHandler) SubmitLoginFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := parseUUID(r.URL.Query().Get("flow"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid flow id")
		return
	}

	var submit selfservice.LoginSubmit
	if err := helpers.DecodeJSON(r, &submit); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.flows.SubmitLoginFlow(r.Context(), flowID, submit,
		helpers.GetRealIP(r), r.UserAgent())
	if err != nil {
		h.respondFlowError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, resp)
}

// SubmitRegistrationFlow handles POST /self-service/registration?flow=.
func (h *SelfServiceHandler) SubmitRegistrationFlow(w http.ResponseWriter, r *http.Request) {
	flowID, err := parseUUID(r.URL.Query().Get("flow"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid flow id")
		return
	}

	var submit selfservice.RegistrationSubmit
	if err := helpers.DecodeJSON(r, &submit); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	resp, err := h.flows.SubmitRegistrationFlow(r.Context(), flowID, submit,
		helpers.GetRealIP(r), r.UserAgent())
	if err != nil {
		h.respondFlowError(w, err)
		return
	}
	helpers.RespondJSON(w, http.StatusOK, resp)
}

func (h *SelfServiceHandler) respondFlowError(w http.ResponseWriter, err error) {
	if errors.Is(err, selfservice.ErrFlowNotFound) {
		helpers.RespondError(w, http.StatusNotFound, "flow not found or expired")
		return
	}
	h.logger.Error("flow_submit_failed", "error", err)
	helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
}
