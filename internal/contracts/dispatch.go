package contracts

import (
	"encoding/json"
	"time"
)

type DispatchStatus string

const (
	StatusPending DispatchStatus = "pending"
	StatusSent    DispatchStatus = "sent"
	StatusFailed  DispatchStatus = "failed"
)

// DispatchRecord is one row of the alert dispatch log. Transitions are
// pending -> sent, pending -> failed and failed -> (retry) -> sent | failed.
// An alert key may carry several rows, but at most one of them pending or sent.
// RetryLeaseUntil is set while a sweep owns a failed row.
type DispatchRecord struct {
	ID                int64           `json:"id"`
	AlertKey          string          `json:"alert_key"`
	Route             string          `json:"route"`
	RiskBucket        RiskBucket      `json:"risk_bucket"`
	Recipient         string          `json:"recipient"`
	Status            DispatchStatus  `json:"status"`
	DecisionPayload   json.RawMessage `json:"decision_payload"`
	AttemptNumber     int             `json:"attempt_number"`
	ProviderMessageID *string         `json:"provider_message_id,omitempty"`
	ErrorMessage      *string         `json:"error_message,omitempty"`
	RetryLeaseUntil   *time.Time      `json:"retry_lease_until,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Exhausted reports whether a failed record has used its whole retry budget.
func (r DispatchRecord) Exhausted(maxAttempts int) bool {
	return r.Status == StatusFailed && r.AttemptNumber >= maxAttempts
}

// Leased reports whether a sweep holds the record at now.
func (r DispatchRecord) Leased(now time.Time) bool {
	return r.RetryLeaseUntil != nil && r.RetryLeaseUntil.After(now)
}

// Blocks reports whether the record suppresses a new claim for its alert key
// at now: it is in flight, delivered, failed with retry budget left, or failed
// but leased by a sweep sending its final attempt.
func (r DispatchRecord) Blocks(maxAttempts int, now time.Time) bool {
	switch r.Status {
	case StatusPending, StatusSent:
		return true
	case StatusFailed:
		return r.AttemptNumber < maxAttempts || r.Leased(now)
	}
	return false
}
