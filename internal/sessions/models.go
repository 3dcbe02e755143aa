package sessions

import (
	"time"

	"liveconnect/internal/events"
	"liveconnect/internal/pricing"
)

// Session is a billable engagement between a host (the priced party) and a guest.
//
// Invariants:
// - At most one non-complete Session per conversation.
// - HostID != GuestID.
// - Sessions are never deleted; completion is the only way out.
type Session struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	HostID         string `json:"host_id" db:"host_id"`
	GuestID        string `json:"guest_id" db:"guest_id"`

	Kind   pricing.SessionKind `json:"kind" db:"kind"`
	Status Status              `json:"status" db:"status"`

	StartTime time.Time `json:"start_time" db:"start_time"`

	// Agreed price, copied from the host profile at admission.
	RatePerMinuteMinor int64       `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	Currency           string      `json:"currency,omitempty" db:"currency"`
	PaymentMode        PaymentMode `json:"payment_mode" db:"payment_mode"`

	StartedAt      *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CompleteReason string     `json:"complete_reason,omitempty" db:"complete_reason"`

	DurationSeconds int   `json:"duration_seconds" db:"duration_seconds"`
	BillableMinutes int   `json:"billable_minutes" db:"billable_minutes"`
	ChargeMinor     int64 `json:"charge_minor" db:"charge_minor"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
)

type PaymentMode string

const (
	PaymentFree      PaymentMode = "free"
	PaymentPerMinute PaymentMode = "per_minute"
)

// Completion reasons.
const (
	CompleteByUser    = "completed"
	CompleteByCallEnd = "call_ended"
	CompleteStale     = "stale"
)

func (s Session) IsParticipant(userID string) bool {
	return userID != "" && (userID == s.HostID || userID == s.GuestID)
}

func (s Session) Other(userID string) string {
	if userID == s.HostID {
		return s.GuestID
	}
	return s.HostID
}

func (s Session) Participants() []string { return []string{s.HostID, s.GuestID} }

func (s Session) Snapshot() events.SessionSnapshot {
	return events.SessionSnapshot{
		ID:                 s.ID,
		ConversationID:     s.ConversationID,
		HostID:             s.HostID,
		GuestID:            s.GuestID,
		Kind:               string(s.Kind),
		Status:             string(s.Status),
		StartTime:          s.StartTime,
		RatePerMinuteMinor: s.RatePerMinuteMinor,
		Currency:           s.Currency,
		PaymentMode:        string(s.PaymentMode),
		ChargeMinor:        s.ChargeMinor,
	}
}
