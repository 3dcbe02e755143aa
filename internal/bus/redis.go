package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBus fans messages out across processes with Redis Pub/Sub.
// Each topic maps to the channel prefix+topic; subscribers PSUBSCRIBE prefix+"*".
type RedisBus struct {
	rdb    redis.UniversalClient
	prefix string
	buffer int
	log    *slog.Logger

	mu     sync.Mutex
	subs   []*redis.PubSub
	closed bool
}

// NewRedisBus sizes each subscription's receive buffer with buffer (default 4096).
func NewRedisBus(rdb redis.UniversalClient, prefix string, buffer int, log *slog.Logger) *RedisBus {
	if log == nil {
		log = slog.Default()
	}
	if prefix == "" {
		prefix = "liveconnect:"
	}
	if buffer <= 0 {
		buffer = 4096
	}
	return &RedisBus{rdb: rdb, prefix: prefix, buffer: buffer, log: log}
}

func (b *RedisBus) Publish(ctx context.Context, msg Message) error {
	if msg.Topic == "" {
		return ErrTopicMissing
	}
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return ErrClosed
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: encode message: %w", err)
	}
	if err := b.rdb.Publish(ctx, b.prefix+msg.Topic, payload).Err(); err != nil {
		return fmt.Errorf("bus: publish %s: %w", msg.Topic, err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ps := b.rdb.PSubscribe(ctx, b.prefix+"*")
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	// Wait for the subscription confirmation so no message published after return is lost.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("bus: psubscribe: %w", err)
	}

	out := make(chan Message, b.buffer)
	go func() {
		defer close(out)
		defer ps.Close()

		in := ps.Channel(redis.WithChannelSize(b.buffer))
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-in:
				if !ok {
					return
				}
				msg, err := b.decode(m)
				if err != nil {
					b.log.Warn("bus: dropping malformed message", "channel", m.Channel, "err", err)
					continue
				}
				select {
				case out <- msg:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}

func (b *RedisBus) decode(m *redis.Message) (Message, error) {
	var msg Message
	if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
		return Message{}, err
	}
	msg.Topic = strings.TrimPrefix(m.Channel, b.prefix)
	return msg, nil
}

// Close stops every subscription. The redis client is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	var firstErr error
	for _, ps := range b.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.subs = nil
	return firstErr
}
