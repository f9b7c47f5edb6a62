package handler

import (
	"net/http"
	"strconv"

	"github.com/clincore/clincore-backend/internal/feedback/domain"
	"github.com/clincore/clincore-backend/internal/feedback/service"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/httputil"
	"github.com/clincore/clincore-backend/pkg/logger"
)

const defaultWindowDays = 30

// FeedbackHandler handles the outcome feedback endpoints
type FeedbackHandler struct {
	service *service.FeedbackService
	logger  *logger.Logger
}

// NewFeedbackHandler creates a new feedback handler
func NewFeedbackHandler(svc *service.FeedbackService, log *logger.Logger) *FeedbackHandler {
	return &FeedbackHandler{
		service: svc,
		logger:  log,
	}
}

// Record appends one feedback record
func (h *FeedbackHandler) Record(w http.ResponseWriter, r *http.Request) {
	var req domain.RecordRequest
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := httputil.Validate(&req); err != nil {
		httputil.Error(w, r, err)
		return
	}

	resp, err := h.service.Record(r.Context(), &req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, resp)
}

// Summary returns the tenant's feedback aggregates
func (h *FeedbackHandler) Summary(w http.ResponseWriter, r *http.Request) {
	days, err := windowDays(r)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	summary, err := h.service.Summary(r.Context(), days)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, summary)
}

// AdminStats returns the admin aggregate view
func (h *FeedbackHandler) AdminStats(w http.ResponseWriter, r *http.Request) {
	days, err := windowDays(r)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	stats, err := h.service.AdminStats(r.Context(), days)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}

	httputil.JSON(w, http.StatusOK, stats)
}

func windowDays(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("days")
	if raw == "" {
		return defaultWindowDays, nil
	}

	days, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.BadRequest("days must be an integer")
	}
	return days, nil
}
