package sessions

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepo mirrors the Postgres uniqueness rule on active sessions.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{sessions: make(map[string]Session)} }

func (r *MemoryRepo) Insert(_ context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Status != StatusComplete {
		for _, existing := range r.sessions {
			if existing.ConversationID == s.ConversationID && existing.Status != StatusComplete {
				return ErrActiveSessionExists
			}
		}
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) Get(_ context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) FindActiveByConversation(_ context.Context, conversationID string) (Session, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ConversationID == conversationID && s.Status != StatusComplete {
			return s, true, nil
		}
	}
	return Session{}, false, nil
}

func (r *MemoryRepo) ListActiveForUser(_ context.Context, userID string) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0)
	for _, s := range r.sessions {
		if s.Status != StatusComplete && s.IsParticipant(userID) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) CompareAndSwap(_ context.Context, next Session, prev Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.sessions[next.ID]
	if !ok || cur.Status != prev {
		return ErrStateChanged
	}
	r.sessions[next.ID] = next
	return nil
}

// All returns every stored session, for tests.
func (r *MemoryRepo) All() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}
