package domain

import (
	"encoding/json"
	"time"
)

// Outcome types a feedback record may carry
const (
	OutcomeAgree    = "agree"
	OutcomeDisagree = "disagree"
	OutcomeFollowup = "followup"
	OutcomeAdverse  = "adverse"
	OutcomeUnknown  = "unknown"
)

// Feedback is one append-only outcome record. The raw narrative is never
// stored; only its hash is.
type Feedback struct {
	ID            string          `json:"id" db:"id"`
	TenantID      string          `json:"tenant_id" db:"tenant_id"`
	UserID        *string         `json:"user_id,omitempty" db:"user_id"`
	CaseID        *string         `json:"case_id,omitempty" db:"case_id"`
	RequestID     *string         `json:"request_id,omitempty" db:"request_id"`
	Locale        *string         `json:"locale,omitempty" db:"locale"`
	NarrativeHash *string         `json:"narrative_hash,omitempty" db:"narrative_hash"`
	PredictedTop1 string          `json:"predicted_top1" db:"predicted_top1"`
	PredictedTop3 json.RawMessage `json:"predicted_top3" db:"predicted_top3"`
	ChosenRemedy  string          `json:"chosen_remedy" db:"chosen_remedy"`
	OutcomeType   string          `json:"outcome_type" db:"outcome_type"`
	OutcomeScore  *int            `json:"outcome_score,omitempty" db:"outcome_score"`
	Notes         *string         `json:"notes,omitempty" db:"notes"`
	Metadata      json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
}

// RecordRequest is the POST /mcare/feedback payload
type RecordRequest struct {
	RequestID     *string                `json:"request_id,omitempty" validate:"omitempty,max=128"`
	Locale        *string                `json:"locale,omitempty" validate:"omitempty,max=10"`
	Narrative     *string                `json:"narrative,omitempty"`
	PredictedTop1 string                 `json:"predicted_top1" validate:"required,min=1,max=64"`
	PredictedTop3 []string               `json:"predicted_top3" validate:"required,min=1"`
	ChosenRemedy  string                 `json:"chosen_remedy" validate:"required,min=1,max=64"`
	OutcomeType   string                 `json:"outcome_type" validate:"required,oneof=agree disagree followup adverse unknown"`
	OutcomeScore  *int                   `json:"outcome_score,omitempty" validate:"omitempty,min=1,max=10"`
	Notes         *string                `json:"notes,omitempty" validate:"omitempty,max=2048"`
	CaseID        *string                `json:"case_id,omitempty" validate:"omitempty,uuid"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// RecordResponse acknowledges an inserted feedback record.
// IsCorrect is derived (chosen matches top-1), never stored.
type RecordResponse struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	IsCorrect bool      `json:"is_correct"`
}

// Mismatch is one predicted-vs-chosen disagreement bucket
type Mismatch struct {
	PredictedTop1 string `json:"predicted_top1" db:"predicted_top1"`
	ChosenRemedy  string `json:"chosen_remedy" db:"chosen_remedy"`
	Count         int    `json:"count" db:"cnt"`
}

// Summary is the tenant-scoped analytics response
type Summary struct {
	TotalCount    int            `json:"total_count"`
	Top1Accuracy  float64        `json:"top1_accuracy"`
	Top3Coverage  float64        `json:"top3_coverage"`
	OutcomeCounts map[string]int `json:"outcome_counts"`
	TopMismatches []Mismatch     `json:"top_mismatches"`
	Days          int            `json:"days"`
}

// AdminStats is the admin view of the calling tenant's feedback
type AdminStats struct {
	TenantID           string         `json:"tenant_id"`
	Days               int            `json:"days"`
	TotalFeedbackCount int            `json:"total_feedback_count"`
	Top1Accuracy       float64        `json:"top1_accuracy"`
	OutcomeCounts      map[string]int `json:"outcome_counts"`
}
