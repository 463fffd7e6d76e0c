package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloudomate/coreauth/internal/api/helpers"
	"github.com/cloudomate/coreauth/internal/authz"
	"github.com/cloudomate/coreauth/internal/repository"
)

// AuthzHandler serves the fine-grained authorization surface.
type AuthzHandler struct {
	service *authz.Service
	logger  *slog.Logger
}

func NewAuthzHandler(service *authz.Service, logger *slog.Logger) *AuthzHandler {
	return &AuthzHandler{service: service, logger: logger}
}

// Check handles POST /api/authz/check.
func (h *AuthzHandler) Check(w http.ResponseWriter, r *http.Request) {
	var req authz.CheckRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.SubjectType == "" || req.SubjectID == "" || req.Relation == "" ||
		req.Namespace == "" || req.ObjectID == "" {
		helpers.RespondError(w, http.StatusBadRequest, "subject, relation, namespace and object are required")
		return
	}

	resp, err := h.service.Engine().Check(r.Context(), req)
	if err != nil {
		h.logger.Error("authz_check_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, resp)
}

// Expand handles GET /api/authz/expand/{tenant_id}/{namespace}/{object_id}/{relation}.
func (h *AuthzHandler) Expand(w http.ResponseWriter, r *http.Request) {
	tenantID, err := parseUUID(chi.URLParam(r, "tenant_id"))
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	resp, err := h.service.Engine().Expand(r.Context(), tenantID,
		chi.URLParam(r, "namespace"), chi.URLParam(r, "object_id"), chi.URLParam(r, "relation"))
	if err != nil {
		h.logger.Error("authz_expand_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	helpers.RespondJSON(w, http.StatusOK, resp)
}

// tupleRequest is the write/delete body for relation tuples.
type tupleRequest struct {
	TenantID        string  `json:"tenant_id"`
	Namespace       string  `json:"namespace"`
	ObjectID        string  `json:"object_id"`
	Relation        string  `json:"relation"`
	SubjectType     string  `json:"subject_type"`
	SubjectID       string  `json:"subject_id"`
	SubjectRelation *string `json:"subject_relation,omitempty"`
}

func (req *tupleRequest) toTuple() (repository.RelationTuple, error) {
	tenantID, err := parseUUID(req.TenantID)
	if err != nil {
		return repository.RelationTuple{}, err
	}
	tuple := repository.RelationTuple{
		TenantID:    tenantID,
		Namespace:   req.Namespace,
		ObjectID:    req.ObjectID,
		Relation:    req.Relation,
		SubjectType: req.SubjectType,
		SubjectID:   req.SubjectID,
	}
	if req.SubjectRelation != nil {
		tuple.SubjectRelation = *req.SubjectRelation
	}
	return tuple, nil
}

// WriteTuple handles POST /api/authz/tuples.
func (h *AuthzHandler) WriteTuple(w http.ResponseWriter, r *http.Request) {
	var req tupleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tuple, err := req.toTuple()
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if err := h.service.WriteTuple(r.Context(), tuple); err != nil {
		h.logger.Error("tuple_write_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// DeleteTuple handles DELETE /api/authz/tuples.
func (h *AuthzHandler) DeleteTuple(w http.ResponseWriter, r *http.Request) {
	var req tupleRequest
	if err := helpers.DecodeJSON(r, &req); err != nil {
		helpers.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	tuple, err := req.toTuple()
	if err != nil {
		helpers.RespondError(w, http.StatusBadRequest, "invalid tenant id")
		return
	}

	if err := h.service.DeleteTuple(r.Context(), tuple); err != nil {
		h.logger.Error("tuple_delete_failed", "error", err)
		helpers.RespondError(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
