package calls

import (
	"time"

	"liveconnect/internal/events"
)

// Call is one live audio/video call between the two participants of a direct conversation.
//
// Invariants:
// - At most one non-terminal Call per conversation.
// - InitiatorID != ResponderID.
// - Terminal Calls never transition again.
type Call struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	InitiatorID    string `json:"initiator_id" db:"initiator_id"`
	ResponderID    string `json:"responder_id" db:"responder_id"`

	Medium Medium `json:"medium" db:"medium"`
	State  State  `json:"state" db:"state"`

	// IdempotencyKey is unique per initiator when present.
	IdempotencyKey string `json:"-" db:"idempotency_key"`

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	AcceptedAt  *time.Time `json:"accepted_at,omitempty" db:"accepted_at"`
	ConnectedAt *time.Time `json:"connected_at,omitempty" db:"connected_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	EndReason     EndReason `json:"end_reason,omitempty" db:"end_reason"`
	DeclineReason string    `json:"decline_reason,omitempty" db:"decline_reason"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type State string

const (
	StateInitiated State = "initiated"
	StateAccepted  State = "accepted"
	StateConnected State = "connected"
	StateEnded     State = "ended"
	StateDeclined  State = "declined"
	StateMissed    State = "missed"
	StateFailed    State = "failed"
	StateCanceled  State = "canceled"
)

// LiveStates are the non-terminal states, in lifecycle order.
var LiveStates = []State{StateInitiated, StateAccepted, StateConnected}

func (s State) IsTerminal() bool {
	switch s {
	case StateInitiated, StateAccepted, StateConnected:
		return false
	default:
		return true
	}
}

type Medium string

const (
	MediumVideo Medium = "video"
	MediumAudio Medium = "audio"
)

func (m Medium) Valid() bool { return m == MediumVideo || m == MediumAudio }

type EndReason string

const (
	EndReasonNormal  EndReason = "normal"
	EndReasonTimeout EndReason = "timeout"
	EndReasonError   EndReason = "error"
)

func (r EndReason) Valid() bool {
	return r == EndReasonNormal || r == EndReasonTimeout || r == EndReasonError
}

func (c Call) IsParticipant(userID string) bool {
	return userID != "" && (userID == c.InitiatorID || userID == c.ResponderID)
}

// Other returns the counterpart of userID.
func (c Call) Other(userID string) string {
	if userID == c.InitiatorID {
		return c.ResponderID
	}
	return c.InitiatorID
}

func (c Call) Participants() []string { return []string{c.InitiatorID, c.ResponderID} }

func (c Call) Snapshot() events.CallSnapshot {
	return events.CallSnapshot{
		ID:              c.ID,
		ConversationID:  c.ConversationID,
		InitiatorID:     c.InitiatorID,
		ResponderID:     c.ResponderID,
		Medium:          string(c.Medium),
		State:           string(c.State),
		CreatedAt:       c.CreatedAt,
		AcceptedAt:      c.AcceptedAt,
		ConnectedAt:     c.ConnectedAt,
		EndedAt:         c.EndedAt,
		EndReason:       string(c.EndReason),
		DurationSeconds: c.DurationSeconds,
	}
}
