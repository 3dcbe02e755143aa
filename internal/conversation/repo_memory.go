package conversation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu      sync.Mutex
	convs   map[string]Conversation
	byPair  map[string]string
	notices []Notice
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{convs: make(map[string]Conversation), byPair: make(map[string]string)}
}

// Put seeds a conversation, for tests and fixtures.
func (r *MemoryRepo) Put(c Conversation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c = c.clone()
	r.convs[c.ID] = c
	if c.Kind == KindDirect && len(c.ParticipantIDs) == 2 {
		r.byPair[pairKey(c.ParticipantIDs[0], c.ParticipantIDs[1])] = c.ID
	}
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.convs[id]
	if !ok {
		return Conversation{}, ErrNotFound
	}
	return c.clone(), nil
}

func (r *MemoryRepo) FindOrCreateDirect(_ context.Context, a, b string, now time.Time) (Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := pairKey(a, b)
	if id, ok := r.byPair[key]; ok {
		return r.convs[id].clone(), nil
	}
	c := Conversation{ID: uuid.NewString(), Kind: KindDirect, ParticipantIDs: []string{a, b}, CreatedAt: now}
	r.convs[c.ID] = c
	r.byPair[key] = c.ID
	return c.clone(), nil
}

// clone detaches the participant slice from the stored record.
func (c Conversation) clone() Conversation {
	c.ParticipantIDs = append([]string(nil), c.ParticipantIDs...)
	return c
}

func (r *MemoryRepo) AppendNotice(_ context.Context, n Notice) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, n)
	return nil
}

func (r *MemoryRepo) Notices() []Notice {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notice, len(r.notices))
	copy(out, r.notices)
	return out
}

// pairKey is order-independent so (a,b) and (b,a) resolve to the same conversation.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
