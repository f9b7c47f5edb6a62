package service

import (
	"context"
	"time"

	"github.com/clincore/clincore-backend/internal/events"
	"github.com/clincore/clincore-backend/internal/feedback/domain"
	"github.com/clincore/clincore-backend/internal/feedback/repository"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/messaging"
	"github.com/clincore/clincore-backend/pkg/tenant"
)

// Aggregation windows are bounded to keep the summary queries cheap.
const (
	minWindowDays = 1
	maxWindowDays = 365
)

// FeedbackService records outcome feedback and serves its aggregates.
type FeedbackService struct {
	repo      *repository.FeedbackRepository
	publisher *events.Publisher
	logger    *logger.Logger
}

// NewFeedbackService creates a new feedback service
func NewFeedbackService(repo *repository.FeedbackRepository, publisher *events.Publisher, log *logger.Logger) *FeedbackService {
	return &FeedbackService{
		repo:      repo,
		publisher: publisher,
		logger:    log.WithComponent("feedback_service"),
	}
}

// Record appends one feedback row. The narrative, when present, is
// reduced to its hash before anything touches the database.
func (s *FeedbackService) Record(ctx context.Context, req *domain.RecordRequest) (*domain.RecordResponse, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context required")
	}

	top3 := domain.CanonicalTop3(req.PredictedTop1, req.PredictedTop3)
	if len(top3) == 0 {
		return nil, errors.Validation(map[string]string{
			"predicted_top3": "must contain at least one non-empty remedy",
		})
	}

	top3JSON, err := domain.MarshalCanonical(top3)
	if err != nil {
		return nil, err
	}
	metadata := req.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	metadataJSON, err := domain.MarshalCanonical(metadata)
	if err != nil {
		return nil, err
	}

	f := &domain.Feedback{
		TenantID:      tenantID,
		CaseID:        req.CaseID,
		RequestID:     req.RequestID,
		Locale:        req.Locale,
		PredictedTop1: req.PredictedTop1,
		PredictedTop3: top3JSON,
		ChosenRemedy:  req.ChosenRemedy,
		OutcomeType:   req.OutcomeType,
		OutcomeScore:  req.OutcomeScore,
		Notes:         req.Notes,
		Metadata:      metadataJSON,
	}
	if req.Narrative != nil && *req.Narrative != "" {
		hash := domain.NarrativeHash(*req.Narrative, req.Locale)
		f.NarrativeHash = &hash
	}

	if err := s.repo.Insert(ctx, tenantID, f); err != nil {
		if mapped := database.MapPQError(err); mapped != nil {
			return nil, mapped
		}
		return nil, err
	}

	s.publisher.Emit(ctx, messaging.EventFeedbackRecorded, messaging.FeedbackRecordedEvent{
		FeedbackID: f.ID,
		TenantID:   tenantID,
		Outcome:    f.OutcomeType,
	})

	return &domain.RecordResponse{
		ID:        f.ID,
		CreatedAt: f.CreatedAt,
		IsCorrect: req.ChosenRemedy == req.PredictedTop1,
	}, nil
}

// Summary returns the tenant's aggregates over the trailing window.
func (s *FeedbackService) Summary(ctx context.Context, days int) (*domain.Summary, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context required")
	}
	if err := validateWindow(days); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.repo.Summary(ctx, tenantID, cutoff, days)
}

// AdminStats returns the admin aggregate view for the calling tenant.
func (s *FeedbackService) AdminStats(ctx context.Context, days int) (*domain.AdminStats, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context required")
	}
	if err := validateWindow(days); err != nil {
		return nil, err
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	return s.repo.AdminStats(ctx, tenantID, cutoff, days)
}

func validateWindow(days int) error {
	if days < minWindowDays || days > maxWindowDays {
		return errors.BadRequest("days must be between 1 and 365")
	}
	return nil
}
