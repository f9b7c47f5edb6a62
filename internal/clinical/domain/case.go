package domain

import (
	"encoding/json"
	"time"
)

// Case lifecycle states
const (
	StatusDraft     = "draft"
	StatusFinalized = "finalized"
	StatusArchived  = "archived"
)

// Case represents a clinical decision case. Once finalized, everything
// except the replay verification fields is frozen by the storage layer.
type Case struct {
	ID                        string          `json:"id" db:"id"`
	TenantID                  string          `json:"tenant_id" db:"tenant_id"`
	PatientID                 *string         `json:"patient_id,omitempty" db:"patient_id"`
	InputPayload              json.RawMessage `json:"input_payload" db:"input_payload"`
	RandomSeed                *string         `json:"random_seed,omitempty" db:"random_seed"`
	ParamsHash                *string         `json:"params_hash_sha256,omitempty" db:"params_hash_sha256"`
	RankingSnapshot           json.RawMessage `json:"ranking_snapshot,omitempty" db:"ranking_snapshot"`
	ResultSignature           *string         `json:"result_signature,omitempty" db:"result_signature"`
	Status                    string          `json:"status" db:"status"`
	FinalizedAt               *time.Time      `json:"finalized_at,omitempty" db:"finalized_at"`
	ReplayVerifiedAt          *time.Time      `json:"replay_verified_at,omitempty" db:"replay_verified_at"`
	ReplayVerificationOK      *bool           `json:"replay_verification_ok,omitempty" db:"replay_verification_ok"`
	ReplayVerificationDetails json.RawMessage `json:"replay_verification_details,omitempty" db:"replay_verification_details"`
	BillingStatus             string          `json:"billing_status" db:"billing_status"`
	APIClientID               *string         `json:"api_client_id,omitempty" db:"api_client_id"`
	CreatedAt                 time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt                 time.Time       `json:"updated_at" db:"updated_at"`
}

// CaseResult is one row of a case's ranking output
type CaseResult struct {
	ID         string    `json:"id" db:"id"`
	CaseID     string    `json:"case_id" db:"case_id"`
	Rank       int       `json:"rank" db:"rank"`
	RemedyName string    `json:"remedy_name" db:"remedy_name"`
	RawScore   float64   `json:"raw_score" db:"raw_score"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

// SnapshotEntry is one element of the canonical ranking snapshot.
// Field order matters: the keys rank, remedy, score are already in
// ascending code-point order, so encoding the struct as-is yields the
// canonical key ordering.
type SnapshotEntry struct {
	Rank   int     `json:"rank"`
	Remedy string  `json:"remedy"`
	Score  float64 `json:"score"`
}

// CreateCaseRequest opens a draft case
type CreateCaseRequest struct {
	PatientID    *string         `json:"patient_id,omitempty" validate:"omitempty,uuid"`
	InputPayload json.RawMessage `json:"input_payload" validate:"required"`
}

// CreateCaseResponse acknowledges the draft
type CreateCaseResponse struct {
	CaseID string `json:"case_id"`
	Status string `json:"status"`
}

// FinalizeResponse returns the sealed case's signature
type FinalizeResponse struct {
	CaseID    string `json:"case_id"`
	Status    string `json:"status"`
	Signature string `json:"signature"`
}

// VerifyReplayResponse reports a replay verification run
type VerifyReplayResponse struct {
	OK         bool    `json:"ok"`
	CaseID     string  `json:"case_id"`
	Expected   string  `json:"expected"`
	Computed   string  `json:"computed"`
	VerifiedAt *string `json:"verified_at"`
}
