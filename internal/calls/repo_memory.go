package calls

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Store enforcing the same uniqueness rules as the Postgres schema.
// Useful for tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu    sync.Mutex
	calls map[string]Call
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{calls: make(map[string]Call)} }

func (r *MemoryRepo) Insert(_ context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.calls {
		if c.IdempotencyKey != "" && existing.InitiatorID == c.InitiatorID && existing.IdempotencyKey == c.IdempotencyKey {
			return ErrDuplicateKey
		}
		if existing.ConversationID == c.ConversationID && !existing.State.IsTerminal() && !c.State.IsTerminal() {
			return ErrLiveCallExists
		}
	}
	r.calls[c.ID] = c
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[id]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (r *MemoryRepo) FindLiveByConversation(_ context.Context, conversationID string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.ConversationID == conversationID && !c.State.IsTerminal() {
			return c, true, nil
		}
	}
	return Call{}, false, nil
}

func (r *MemoryRepo) FindByIdempotencyKey(_ context.Context, initiatorID, key string) (Call, bool, error) {
	if key == "" {
		return Call{}, false, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.calls {
		if c.InitiatorID == initiatorID && c.IdempotencyKey == key {
			return c, true, nil
		}
	}
	return Call{}, false, nil
}

func (r *MemoryRepo) CompareAndSwap(_ context.Context, next Call, prev State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.calls[next.ID]
	if !ok || cur.State != prev {
		return ErrStateChanged
	}
	r.calls[next.ID] = next
	return nil
}

func (r *MemoryRepo) ListForUser(_ context.Context, userID string, from, to time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if !c.IsParticipant(userID) {
			continue
		}
		if c.CreatedAt.Before(from) || !c.CreatedAt.Before(to) {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) ListConnectedBefore(_ context.Context, t time.Time) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, 0)
	for _, c := range r.calls {
		if c.State == StateConnected && c.ConnectedAt != nil && c.ConnectedAt.Before(t) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectedAt.Before(*out[j].ConnectedAt) })
	return out, nil
}
