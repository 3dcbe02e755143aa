package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Envelope is the wire shape of an Event. Every envelope carries type, the affected call or
// session id, the resulting state and the server timestamp; Data holds the typed body.
type Envelope struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	Topic     string          `json:"topic"`
	CallID    string          `json:"call_id,omitempty"`
	SessionID string          `json:"session_id,omitempty"`
	State     string          `json:"state,omitempty"`
	SenderID  string          `json:"sender_id,omitempty"`
	At        time.Time       `json:"at"`
	Data      json.RawMessage `json:"data"`
}

var ErrUnknownType = errors.New("events: unknown type")

func Encode(e Event) ([]byte, error) {
	if e.Body == nil {
		return nil, errors.New("events: body is required")
	}
	data, err := json.Marshal(e.Body)
	if err != nil {
		return nil, fmt.Errorf("events: marshal body: %w", err)
	}
	r := e.Body.ref()
	return json.Marshal(Envelope{
		ID:        e.ID,
		Type:      e.Body.eventType(),
		Topic:     e.Topic,
		CallID:    r.CallID,
		SessionID: r.SessionID,
		State:     r.State,
		SenderID:  e.SenderID,
		At:        e.At,
		Data:      data,
	})
}

// Decode parses an envelope and its typed body. Unknown types are rejected.
func Decode(b []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Event{}, fmt.Errorf("events: decode envelope: %w", err)
	}
	body, err := decodeBody(env.Type, env.Data)
	if err != nil {
		return Event{}, err
	}
	return Event{ID: env.ID, Topic: env.Topic, At: env.At, SenderID: env.SenderID, Body: body}, nil
}

func decodeBody(t Type, data json.RawMessage) (Body, error) {
	switch t {
	case TypeCallInitiated:
		return unmarshalBody[CallInitiated](data)
	case TypeCallRinging:
		return unmarshalBody[CallRinging](data)
	case TypeCallAccepted:
		return unmarshalBody[CallAccepted](data)
	case TypeCallDeclined:
		return unmarshalBody[CallDeclined](data)
	case TypeCallConnected:
		return unmarshalBody[CallConnected](data)
	case TypeCallEnded:
		return unmarshalBody[CallEnded](data)
	case TypeCallTimeout:
		return unmarshalBody[CallTimeout](data)
	case TypeCallFailed:
		return unmarshalBody[CallFailed](data)
	case TypeSessionCreated:
		return unmarshalBody[SessionCreated](data)
	case TypeSessionStarted:
		return unmarshalBody[SessionStarted](data)
	case TypeSessionCompleted:
		return unmarshalBody[SessionCompleted](data)
	case TypePresenceChanged:
		return unmarshalBody[PresenceChanged](data)
	case TypeNewMessage:
		return unmarshalBody[NewMessage](data)
	case TypeSignal:
		return unmarshalBody[Signal](data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, t)
	}
}

func unmarshalBody[T Body](data json.RawMessage) (Body, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("events: decode %s: %w", v.eventType(), err)
	}
	return v, nil
}
