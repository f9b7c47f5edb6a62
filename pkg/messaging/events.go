package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	EventTenantBootstrapped  = "tenant.bootstrapped"
	EventCaseCreated         = "case.created"
	EventCaseFinalized       = "case.finalized"
	EventCaseReplayVerified  = "case.replay_verified"
	EventFeedbackRecorded    = "feedback.recorded"
	EventAPIKeyRotated       = "apikey.rotated"
)

// ExchangeEvents is the single topic exchange all lifecycle events go to.
const ExchangeEvents = "clincore.events"

// Event is the base event structure
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source, correlationID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            uuid.New().String(),
		Type:          eventType,
		Source:        source,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Data:          dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// TenantBootstrappedEvent is published when a tenant is provisioned
type TenantBootstrappedEvent struct {
	TenantID   string `json:"tenant_id"`
	TenantName string `json:"tenant_name"`
	APIKeyID   string `json:"api_key_id"`
}

// CaseCreatedEvent is published when a draft case is opened
type CaseCreatedEvent struct {
	CaseID   string `json:"case_id"`
	TenantID string `json:"tenant_id"`
}

// CaseFinalizedEvent is published when a case is sealed
type CaseFinalizedEvent struct {
	CaseID          string `json:"case_id"`
	TenantID        string `json:"tenant_id"`
	ResultSignature string `json:"result_signature"`
}

// CaseReplayVerifiedEvent is published after a replay verification run
type CaseReplayVerifiedEvent struct {
	CaseID   string `json:"case_id"`
	TenantID string `json:"tenant_id"`
	Verified bool   `json:"verified"`
}

// FeedbackRecordedEvent is published when outcome feedback is appended
type FeedbackRecordedEvent struct {
	FeedbackID string `json:"feedback_id"`
	TenantID   string `json:"tenant_id"`
	Outcome    string `json:"outcome"`
}

// APIKeyRotatedEvent is published when a tenant rotates its key
type APIKeyRotatedEvent struct {
	TenantID    string `json:"tenant_id"`
	NewAPIKeyID string `json:"new_api_key_id"`
}
