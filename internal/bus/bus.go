package bus

import (
	"context"
	"errors"
)

// Message is one payload published on a topic.
// Sender is optional; when set, subscribers may skip the sender's own connections.
type Message struct {
	Topic  string `json:"topic"`
	Sender string `json:"sender,omitempty"`
	Data   []byte `json:"data"`
}

// Bus is the only cross-process primitive: every process subscribes once and receives
// every message published by any process. Delivery is at-most-once.
type Bus interface {
	Publish(ctx context.Context, msg Message) error

	// Subscribe returns a channel of all messages. The channel is closed when ctx is done
	// or the bus is closed.
	Subscribe(ctx context.Context) (<-chan Message, error)

	Close() error
}

var (
	ErrClosed       = errors.New("bus: closed")
	ErrTopicMissing = errors.New("bus: topic is required")

	// ErrSubscriberLagging reports that at least one subscriber missed the message because
	// its buffer was full. Other subscribers still received it.
	ErrSubscriberLagging = errors.New("bus: subscriber lagging, message dropped")
)
