package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"liveconnect/internal/bus"
)

// Publisher delivers one event to its topic. Callers treat failures as non-fatal:
// the transition is already persisted and is never rolled back.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// BusPublisher encodes events and publishes them on the fan-out bus.
type BusPublisher struct {
	bus   bus.Bus
	clock func() time.Time
}

func NewBusPublisher(b bus.Bus) *BusPublisher {
	return &BusPublisher{bus: b, clock: time.Now}
}

func (p *BusPublisher) Publish(ctx context.Context, e Event) error {
	if e.Topic == "" {
		return fmt.Errorf("events: topic is required for %s", e.Type())
	}
	e = stamp(e, p.clock)
	data, err := Encode(e)
	if err != nil {
		return err
	}
	return p.bus.Publish(ctx, bus.Message{Topic: e.Topic, Sender: e.SenderID, Data: data})
}

func stamp(e Event, clock func() time.Time) Event {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = clock().UTC()
	}
	return e
}

// Recorder is an in-memory Publisher that keeps every event. Useful in tests.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

func (r *Recorder) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.events = append(r.events, stamp(e, time.Now))
	return nil
}

func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfType returns recorded events of type t, in publish order.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type() == t {
			out = append(out, e)
		}
	}
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
