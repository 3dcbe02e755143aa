package bus

import (
	"context"
	"fmt"
	"sync"
)

// MemoryBus delivers messages within one process. Used by tests and single-node setups
// (BUS_DRIVER=memory).
type MemoryBus struct {
	mu     sync.Mutex
	subs   map[chan Message]struct{}
	buffer int
	closed bool
}

func NewMemoryBus(buffer int) *MemoryBus {
	if buffer <= 0 {
		buffer = 256
	}
	return &MemoryBus{subs: make(map[chan Message]struct{}), buffer: buffer}
}

// Publish hands msg to every subscriber without blocking. A subscriber whose buffer is full
// misses the message and Publish reports ErrSubscriberLagging.
func (b *MemoryBus) Publish(_ context.Context, msg Message) error {
	if msg.Topic == "" {
		return ErrTopicMissing
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	dropped := 0
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		return fmt.Errorf("%w: topic %s, %d of %d subscribers", ErrSubscriberLagging, msg.Topic, dropped, len(b.subs))
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Message, error) {
	ch := make(chan Message, b.buffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
	}()
	return ch, nil
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for ch := range b.subs {
		delete(b.subs, ch)
		close(ch)
	}
	return nil
}
