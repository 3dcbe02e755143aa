package audit

import "time"

// Event is an immutable, append-only record of an out-of-band admin action.
//
// Invariants:
// - Events are never updated or deleted.
// - ActorUserID and Type are required.
// - IP capture is best-effort; do not block admin flows on audit failures.
type Event struct {
	ID   string    `json:"id" db:"id"`
	Type EventType `json:"type" db:"type"`

	ActorUserID string `json:"actor_user_id" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`
	IPAddress   string `json:"ip_address,omitempty" db:"ip_address"`

	// Target identifiers, depending on the event type.
	CallID    string `json:"call_id,omitempty" db:"call_id"`
	SessionID string `json:"session_id,omitempty" db:"session_id"`

	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const EventTypeCallForceEnded EventType = "call_force_ended"
