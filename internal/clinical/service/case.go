package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/clincore/clincore-backend/internal/billing"
	"github.com/clincore/clincore-backend/internal/clinical/domain"
	"github.com/clincore/clincore-backend/internal/clinical/repository"
	"github.com/clincore/clincore-backend/internal/clinical/scoring"
	"github.com/clincore/clincore-backend/internal/events"
	"github.com/clincore/clincore-backend/pkg/database"
	"github.com/clincore/clincore-backend/pkg/errors"
	"github.com/clincore/clincore-backend/pkg/logger"
	"github.com/clincore/clincore-backend/pkg/messaging"
	"github.com/clincore/clincore-backend/pkg/tenant"
)

// defaultSeed pins the engine's randomness for every case until
// per-case seeds are exposed. TODO: accept a caller-supplied seed once
// the engine supports one.
const defaultSeed = "0"

// CaseService drives the case lifecycle: draft, finalize, verify.
type CaseService struct {
	cases          *repository.CaseRepository
	audit          *repository.AuditLogRepository
	gate           *billing.Gate
	scorer         scoring.Scorer
	publisher      *events.Publisher
	scoringTimeout time.Duration
	logger         *logger.Logger
}

// NewCaseService creates a new case service
func NewCaseService(
	cases *repository.CaseRepository,
	audit *repository.AuditLogRepository,
	gate *billing.Gate,
	scorer scoring.Scorer,
	publisher *events.Publisher,
	scoringTimeout time.Duration,
	log *logger.Logger,
) *CaseService {
	return &CaseService{
		cases:          cases,
		audit:          audit,
		gate:           gate,
		scorer:         scorer,
		publisher:      publisher,
		scoringTimeout: scoringTimeout,
		logger:         log.WithComponent("case_service"),
	}
}

// Create opens a draft case. The billing gate runs first, so a blocked
// tenant leaves no case row behind.
func (s *CaseService) Create(ctx context.Context, req *domain.CreateCaseRequest) (*domain.CreateCaseResponse, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context required")
	}

	if err := s.gate.CheckCreate(ctx, tenantID); err != nil {
		return nil, err
	}

	seed := defaultSeed
	c := &domain.Case{
		TenantID:     tenantID,
		PatientID:    req.PatientID,
		InputPayload: req.InputPayload,
		RandomSeed:   &seed,
	}
	if apiKeyID := tenant.APIKeyID(ctx); apiKeyID != "" {
		c.APIClientID = &apiKeyID
	}

	if err := s.cases.Create(ctx, tenantID, c); err != nil {
		return nil, mapDBError(err)
	}

	s.publisher.Emit(ctx, messaging.EventCaseCreated, messaging.CaseCreatedEvent{
		CaseID:   c.ID,
		TenantID: tenantID,
	})

	return &domain.CreateCaseResponse{CaseID: c.ID, Status: domain.StatusDraft}, nil
}

// Finalize seals a draft case: score, persist results, read the rows
// back in canonical order, sign, and flip status. Everything after
// scoring happens in one transaction, audit row included, so a sealed
// case and its audit trail are inseparable.
func (s *CaseService) Finalize(ctx context.Context, caseID string) (*domain.FinalizeResponse, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context required")
	}

	c, err := s.cases.Get(ctx, tenantID, caseID)
	if err != nil {
		return nil, mapDBError(err)
	}
	if c.Status != domain.StatusDraft {
		return nil, errors.Lifecycle("only draft cases can be finalized")
	}

	ranking, err := s.score(ctx, c)
	if err != nil {
		return nil, err
	}
	if len(ranking) == 0 {
		return nil, errors.Lifecycle("scoring returned an empty ranking")
	}

	var signature string
	err = s.cases.DB().WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		if err := s.cases.InsertResultsTx(ctx, tx, caseID, ranking); err != nil {
			return err
		}

		// Sign what the database holds, not what the engine returned.
		snapshot, err := s.cases.SnapshotTx(ctx, tx, caseID)
		if err != nil {
			return err
		}

		signature, err = domain.Sign(snapshot)
		if err != nil {
			return err
		}

		if err := s.cases.FinalizeTx(ctx, tx, caseID, snapshot, signature); err != nil {
			return err
		}

		return s.audit.InsertAuditTx(ctx, tx, tenantID, repository.AutomationUserID,
			repository.ActionFinalize, "cases", caseID, map[string]interface{}{
				"auto": "true",
				"ts":   time.Now().Unix(),
			})
	})
	if err != nil {
		return nil, mapDBError(err)
	}

	s.publisher.Emit(ctx, messaging.EventCaseFinalized, messaging.CaseFinalizedEvent{
		CaseID:          caseID,
		TenantID:        tenantID,
		ResultSignature: signature,
	})

	return &domain.FinalizeResponse{
		CaseID:    caseID,
		Status:    domain.StatusFinalized,
		Signature: signature,
	}, nil
}

// VerifyReplay recomputes the signature from the stored snapshot and
// compares it to the one recorded at finalization. The outcome is
// stamped onto the case either way; a mismatch is a finding, not an
// error.
func (s *CaseService) VerifyReplay(ctx context.Context, caseID string) (*domain.VerifyReplayResponse, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context required")
	}

	c, err := s.cases.Get(ctx, tenantID, caseID)
	if err != nil {
		return nil, mapDBError(err)
	}
	if c.Status != domain.StatusFinalized || c.ResultSignature == nil {
		return nil, errors.Lifecycle("only finalized cases can be replay verified")
	}

	snapshot, err := domain.DecodeSnapshot(c.RankingSnapshot)
	if err != nil {
		return nil, errors.Internal("stored ranking snapshot is unreadable")
	}

	computed, err := domain.Sign(snapshot)
	if err != nil {
		return nil, err
	}

	expected := *c.ResultSignature
	ok := computed == expected

	details, err := json.Marshal(map[string]interface{}{
		"expected": expected,
		"computed": computed,
		"match":    ok,
	})
	if err != nil {
		return nil, err
	}

	var verifiedAt *string
	err = s.cases.DB().WithTenant(ctx, tenantID, func(ctx context.Context, tx *sqlx.Tx) error {
		stamped, err := s.cases.StampReplayTx(ctx, tx, caseID, ok, details)
		if err != nil {
			return err
		}
		if stamped.Valid {
			ts := stamped.Time.UTC().Format(time.RFC3339)
			verifiedAt = &ts
		}
		return nil
	})
	if err != nil {
		return nil, mapDBError(err)
	}

	s.audit.LogAccess(ctx, tenantID, caseID, repository.ActionVerify)

	s.publisher.Emit(ctx, messaging.EventCaseReplayVerified, messaging.CaseReplayVerifiedEvent{
		CaseID:   caseID,
		TenantID: tenantID,
		Verified: ok,
	})

	if !ok {
		s.logger.Warn().
			Str("case_id", caseID).
			Str("tenant_id", tenantID).
			Str("expected", expected).
			Str("computed", computed).
			Msg("replay verification mismatch")
	}

	return &domain.VerifyReplayResponse{
		OK:         ok,
		CaseID:     caseID,
		Expected:   expected,
		Computed:   computed,
		VerifiedAt: verifiedAt,
	}, nil
}

// Get returns a case and leaves a VIEW entry in the access trail.
func (s *CaseService) Get(ctx context.Context, caseID string) (*domain.Case, error) {
	tenantID, err := tenant.TenantID(ctx)
	if err != nil {
		return nil, errors.Unauthorized("tenant context required")
	}

	c, err := s.cases.Get(ctx, tenantID, caseID)
	if err != nil {
		return nil, mapDBError(err)
	}

	s.audit.LogAccess(ctx, tenantID, caseID, repository.ActionView)

	return c, nil
}

func (s *CaseService) score(ctx context.Context, c *domain.Case) ([]domain.SnapshotEntry, error) {
	scoreCtx, cancel := context.WithTimeout(ctx, s.scoringTimeout)
	defer cancel()

	seed := defaultSeed
	if c.RandomSeed != nil {
		seed = *c.RandomSeed
	}

	ranking, err := s.scorer.Score(scoreCtx, scoring.Request{
		CaseID: c.ID,
		Inputs: c.InputPayload,
		Seed:   seed,
	})
	if err != nil {
		if scoreCtx.Err() == context.DeadlineExceeded {
			return nil, errors.Unavailable("scoring engine timed out")
		}
		return nil, errors.Unavailable("scoring engine failed")
	}
	return ranking, nil
}

// mapDBError surfaces database constraint and trigger refusals as the
// API errors they represent. AppErrors pass through untouched.
func mapDBError(err error) error {
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if mapped := database.MapPQError(err); mapped != nil {
		return mapped
	}
	return err
}
