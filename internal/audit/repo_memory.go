package audit

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo keeps audit events in process for tests and STORE_DRIVER=memory.
// Events are indexed by call so admin history lookups match the Postgres partial index.
type MemoryRepo struct {
	mu     sync.Mutex
	events []Event
	byCall map[string][]int
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{byCall: make(map[string][]int)} }

func (r *MemoryRepo) Append(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if e.CallID != "" {
		r.byCall[e.CallID] = append(r.byCall[e.CallID], len(r.events)-1)
	}
	return nil
}

// ListForCall returns the call's events newest first; on equal timestamps the later append wins.
func (r *MemoryRepo) ListForCall(_ context.Context, callID string) ([]Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := r.byCall[callID]
	out := make([]Event, 0, len(idx))
	for i := len(idx) - 1; i >= 0; i-- {
		out = append(out, r.events[idx[i]])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Events returns every event in append order.
func (r *MemoryRepo) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}
