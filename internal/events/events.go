package events

import (
	"encoding/json"
	"time"

	"liveconnect/internal/media"
)

// Type is the discriminator carried on the wire. Keep these stable; clients switch on them.
type Type string

const (
	TypeCallInitiated    Type = "CALL_INITIATED"
	TypeCallRinging      Type = "CALL_RINGING"
	TypeCallAccepted     Type = "CALL_ACCEPTED"
	TypeCallDeclined     Type = "CALL_DECLINED"
	TypeCallConnected    Type = "CALL_CONNECTED"
	TypeCallEnded        Type = "CALL_ENDED"
	TypeCallTimeout      Type = "CALL_TIMEOUT"
	TypeCallFailed       Type = "CALL_FAILED"
	TypeSessionCreated   Type = "SESSION_CREATED"
	TypeSessionStarted   Type = "SESSION_STARTED"
	TypeSessionCompleted Type = "SESSION_COMPLETED"
	TypePresenceChanged  Type = "PRESENCE_CHANGED"
	TypeNewMessage       Type = "NEW_MESSAGE"
	TypeSignal           Type = "SIGNAL"
)

// Event is one immutable notification addressed to a single topic.
//
// Invariant: Body carries the Call or Session id and the resulting state, so a client that
// receives the same event twice can no-op.
type Event struct {
	ID    string
	Topic string
	At    time.Time

	// SenderID is set only for relayed signals; the dispatcher skips the sender's own connections.
	SenderID string

	Body Body
}

func (e Event) Type() Type {
	if e.Body == nil {
		return ""
	}
	return e.Body.eventType()
}

// Body is the closed set of event payloads. Only types in this package implement it.
type Body interface {
	eventType() Type
	ref() reference
}

type reference struct {
	CallID    string
	SessionID string
	State     string
}

// CallSnapshot is the event-facing copy of a Call record.
type CallSnapshot struct {
	ID              string     `json:"id"`
	ConversationID  string     `json:"conversation_id"`
	InitiatorID     string     `json:"initiator_id"`
	ResponderID     string     `json:"responder_id"`
	Medium          string     `json:"medium"`
	State           string     `json:"state"`
	CreatedAt       time.Time  `json:"created_at"`
	AcceptedAt      *time.Time `json:"accepted_at,omitempty"`
	ConnectedAt     *time.Time `json:"connected_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	EndReason       string     `json:"end_reason,omitempty"`
	DurationSeconds int        `json:"duration_seconds"`
}

// SessionSnapshot is the event-facing copy of a Session record.
type SessionSnapshot struct {
	ID                 string    `json:"id"`
	ConversationID     string    `json:"conversation_id"`
	HostID             string    `json:"host_id"`
	GuestID            string    `json:"guest_id"`
	Kind               string    `json:"kind"`
	Status             string    `json:"status"`
	StartTime          time.Time `json:"start_time"`
	RatePerMinuteMinor int64     `json:"rate_per_minute_minor"`
	Currency           string    `json:"currency,omitempty"`
	PaymentMode        string    `json:"payment_mode"`
	ChargeMinor        int64     `json:"charge_minor,omitempty"`
}

type CallInitiated struct {
	Call       CallSnapshot      `json:"call"`
	Credential *media.Credential `json:"media_credential,omitempty"`
}

type CallRinging struct {
	Call CallSnapshot `json:"call"`
}

type CallAccepted struct {
	Call CallSnapshot `json:"call"`
}

type CallDeclined struct {
	Call   CallSnapshot `json:"call"`
	Reason string       `json:"reason,omitempty"`
}

type CallConnected struct {
	Call CallSnapshot `json:"call"`
}

type CallEnded struct {
	Call CallSnapshot `json:"call"`
}

type CallTimeout struct {
	Call CallSnapshot `json:"call"`
}

// CallFailed announces a Call reclaimed as abandoned.
type CallFailed struct {
	Call CallSnapshot `json:"call"`
}

type SessionCreated struct {
	Session SessionSnapshot `json:"session"`
}

type SessionStarted struct {
	Session SessionSnapshot `json:"session"`
}

type SessionCompleted struct {
	Session SessionSnapshot `json:"session"`
	Reason  string          `json:"reason,omitempty"`
}

type PresenceChanged struct {
	UserID string `json:"user_id"`
	Online bool   `json:"online"`
}

type NewMessage struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Kind           string    `json:"kind"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"created_at"`
}

// Signal is an opaque media-negotiation payload relayed between call participants.
type Signal struct {
	CallID string          `json:"call_id"`
	From   string          `json:"from"`
	Data   json.RawMessage `json:"data"`
}

func (CallInitiated) eventType() Type    { return TypeCallInitiated }
func (CallRinging) eventType() Type      { return TypeCallRinging }
func (CallAccepted) eventType() Type     { return TypeCallAccepted }
func (CallDeclined) eventType() Type     { return TypeCallDeclined }
func (CallConnected) eventType() Type    { return TypeCallConnected }
func (CallEnded) eventType() Type        { return TypeCallEnded }
func (CallTimeout) eventType() Type      { return TypeCallTimeout }
func (CallFailed) eventType() Type       { return TypeCallFailed }
func (SessionCreated) eventType() Type   { return TypeSessionCreated }
func (SessionStarted) eventType() Type   { return TypeSessionStarted }
func (SessionCompleted) eventType() Type { return TypeSessionCompleted }
func (PresenceChanged) eventType() Type  { return TypePresenceChanged }
func (NewMessage) eventType() Type       { return TypeNewMessage }
func (Signal) eventType() Type           { return TypeSignal }

func (b CallInitiated) ref() reference    { return callRef(b.Call) }
func (b CallRinging) ref() reference      { return callRef(b.Call) }
func (b CallAccepted) ref() reference     { return callRef(b.Call) }
func (b CallDeclined) ref() reference     { return callRef(b.Call) }
func (b CallConnected) ref() reference    { return callRef(b.Call) }
func (b CallEnded) ref() reference        { return callRef(b.Call) }
func (b CallTimeout) ref() reference      { return callRef(b.Call) }
func (b CallFailed) ref() reference       { return callRef(b.Call) }
func (b SessionCreated) ref() reference   { return sessionRef(b.Session) }
func (b SessionStarted) ref() reference   { return sessionRef(b.Session) }
func (b SessionCompleted) ref() reference { return sessionRef(b.Session) }

func (b PresenceChanged) ref() reference {
	if b.Online {
		return reference{State: "online"}
	}
	return reference{State: "offline"}
}

func (b NewMessage) ref() reference { return reference{} }
func (b Signal) ref() reference     { return reference{CallID: b.CallID} }

func callRef(c CallSnapshot) reference {
	return reference{CallID: c.ID, State: c.State}
}

func sessionRef(s SessionSnapshot) reference {
	return reference{SessionID: s.ID, State: s.Status}
}
