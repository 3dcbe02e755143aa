package conversation

import "time"

type Kind string

const (
	KindDirect Kind = "direct"
	KindGroup  Kind = "group"
)

// Conversation is the message thread a call or session belongs to.
// Direct conversations always have exactly two participants.
type Conversation struct {
	ID             string    `json:"id" db:"id"`
	Kind           Kind      `json:"kind" db:"kind"`
	ParticipantIDs []string  `json:"participant_ids"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.ParticipantIDs {
		if p == userID {
			return true
		}
	}
	return false
}

// Other returns the counterpart of userID in a direct conversation.
func (c Conversation) Other(userID string) (string, bool) {
	if c.Kind != KindDirect || len(c.ParticipantIDs) != 2 || !c.HasParticipant(userID) {
		return "", false
	}
	if c.ParticipantIDs[0] == userID {
		return c.ParticipantIDs[1], true
	}
	return c.ParticipantIDs[0], true
}

type NoticeKind string

const (
	NoticeCall    NoticeKind = "call"
	NoticeSession NoticeKind = "session"
)

// Notice is an immutable, append-only system message in a conversation.
// Notices are never updated or deleted.
type Notice struct {
	ID             string     `json:"id" db:"id"`
	ConversationID string     `json:"conversation_id" db:"conversation_id"`
	Kind           NoticeKind `json:"kind" db:"kind"`
	Text           string     `json:"text" db:"text"`

	// RefID is the call or session the notice describes.
	RefID string `json:"ref_id,omitempty" db:"ref_id"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
