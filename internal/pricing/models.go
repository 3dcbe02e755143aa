package pricing

import "time"

// Amounts are expressed in minor units (e.g., cents) using int64.

// BillingPolicy defines how session time is rounded before applying the host's rate.
type BillingPolicy struct {
	ID       string      `json:"id" db:"id"`
	Kind     SessionKind `json:"kind" db:"kind"`
	Currency string      `json:"currency" db:"currency"`

	// BillingIncrementSeconds (e.g., 60 for per-minute, 1 for per-second billing).
	BillingIncrementSeconds int `json:"billing_increment_seconds" db:"billing_increment_seconds"`

	// MinimumBillableSeconds enforces a minimum charge duration.
	MinimumBillableSeconds int `json:"minimum_billable_seconds" db:"minimum_billable_seconds"`

	EffectiveFrom time.Time  `json:"effective_from" db:"effective_from"`
	EffectiveTo   *time.Time `json:"effective_to,omitempty" db:"effective_to"`

	Status PolicyStatus `json:"status" db:"status"`
}

type PolicyStatus string

const (
	PolicyStatusActive   PolicyStatus = "active"
	PolicyStatusInactive PolicyStatus = "inactive"
)

type SessionKind string

const (
	SessionKindInstant   SessionKind = "instant"
	SessionKindScheduled SessionKind = "scheduled"
)

// DefaultPolicy bills every started minute with no minimum.
var DefaultPolicy = BillingPolicy{BillingIncrementSeconds: 60, Status: PolicyStatusActive}
