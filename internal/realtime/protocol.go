package realtime

import (
	"encoding/json"
	"fmt"
	"strings"

	"liveconnect/internal/apperr"
	"liveconnect/internal/events"
)

// Client frame types.
const (
	FrameJoin   = "join"
	FrameLeave  = "leave"
	FrameSignal = "signal"
	FramePing   = "ping"
)

// Server frame types, besides event envelopes.
const (
	FrameAck   = "ack"
	FrameError = "error"
	FramePong  = "pong"
)

// JoinFrame subscribes to a call topic.
type JoinFrame struct {
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

type LeaveFrame struct {
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic"`
}

// SignalFrame carries an opaque payload for the other participant of a call.
type SignalFrame struct {
	ID     string          `json:"id,omitempty"`
	CallID string          `json:"call_id"`
	Data   json.RawMessage `json:"data"`
}

type PingFrame struct {
	ID string `json:"id,omitempty"`
}

type ackFrame struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Topic string `json:"topic,omitempty"`
}

type errorFrame struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func invalidFrame(msg string) error {
	return fmt.Errorf("%w: %s", apperr.ErrInvalidRequest, msg)
}

// DecodeClientFrame parses one client frame into JoinFrame, LeaveFrame, SignalFrame or PingFrame.
func DecodeClientFrame(data []byte) (any, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, invalidFrame("invalid json frame")
	}

	switch strings.TrimSpace(envelope.Type) {
	case FrameJoin:
		var f JoinFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, invalidFrame("invalid join frame")
		}
		if fam, _, ok := events.ParseTopic(f.Topic); !ok || fam != events.FamilyCall {
			return nil, invalidFrame("join.topic must be call:<id>")
		}
		return f, nil
	case FrameLeave:
		var f LeaveFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, invalidFrame("invalid leave frame")
		}
		if _, _, ok := events.ParseTopic(f.Topic); !ok {
			return nil, invalidFrame("leave.topic is not a known topic")
		}
		return f, nil
	case FrameSignal:
		var f SignalFrame
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, invalidFrame("invalid signal frame")
		}
		if strings.TrimSpace(f.CallID) == "" {
			return nil, invalidFrame("signal.call_id is required")
		}
		if len(f.Data) == 0 || !json.Valid(f.Data) {
			return nil, invalidFrame("signal.data must be JSON")
		}
		return f, nil
	case FramePing:
		var f PingFrame
		_ = json.Unmarshal(data, &f)
		return f, nil
	case "":
		return nil, invalidFrame("missing type")
	default:
		return nil, invalidFrame(fmt.Sprintf("unknown frame type %q", envelope.Type))
	}
}

func encodeAck(typ, id, topic string) []byte {
	b, _ := json.Marshal(ackFrame{Type: typ, ID: id, Topic: topic})
	return b
}

func encodeError(id string, err error) []byte {
	b, _ := json.Marshal(errorFrame{Type: FrameError, ID: id, Code: apperr.Code(err), Message: err.Error()})
	return b
}
