package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clincore/clincore-backend/internal/clinical/domain"
	"github.com/clincore/clincore-backend/internal/clinical/service"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/httputil"
	"github.com/clincore/clincore-backend/pkg/logger"
)

// CaseHandler handles the case lifecycle endpoints
type CaseHandler struct {
	service *service.CaseService
	logger  *logger.Logger
}

// NewCaseHandler creates a new case handler
func NewCaseHandler(svc *service.CaseService, log *logger.Logger) *CaseHandler {
	return &CaseHandler{
		service: svc,
		logger:  log,
	}
}

// Create opens a draft case
func (h *CaseHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req domain.CreateCaseRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	resp, err := h.service.Create(r.Context(), &req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// Finalize seals a draft case
func (h *CaseHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	caseID, err := casePathID(r)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	resp, err := h.service.Finalize(r.Context(), caseID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// VerifyReplay re-derives the signature of a finalized case
func (h *CaseHandler) VerifyReplay(w http.ResponseWriter, r *http.Request) {
	caseID, err := casePathID(r)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	resp, err := h.service.VerifyReplay(r.Context(), caseID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// Get returns one case
func (h *CaseHandler) Get(w http.ResponseWriter, r *http.Request) {
	caseID, err := casePathID(r)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	c, err := h.service.Get(r.Context(), caseID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, c)
}

// casePathID validates the {id} path segment before it reaches a query.
func casePathID(r *http.Request) (string, error) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		return "", errors.BadRequest("case id must be a uuid")
	}
	return id, nil
}
