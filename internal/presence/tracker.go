package presence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"liveconnect/pkg/utils"
)

var ErrTooManyConnections = errors.New("presence: connection limit reached")

// Tracker counts live connections per user across every process.
// A user is online while at least one connection holds a slot.
type Tracker interface {
	// Acquire registers one connection and returns the user's connection count afterwards.
	Acquire(ctx context.Context, userID string) (int, error)
	// Release drops one connection and returns how many remain.
	Release(ctx context.Context, userID string) (int, error)
	// Refresh keeps the user's slots alive; called on connection heartbeat.
	Refresh(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// RedisTracker stores a TTL'd counter per user so slots held by a crashed process expire.
type RedisTracker struct {
	rdb    redis.UniversalClient
	prefix string
	limit  int
	ttl    time.Duration
}

// NewRedisTracker keys counters as prefix+"presence:"+userID. prefix is the deployment
// namespace shared with the bus (BUS_CHANNEL_PREFIX).
func NewRedisTracker(rdb redis.UniversalClient, prefix string, limit int, ttl time.Duration) *RedisTracker {
	return &RedisTracker{rdb: rdb, prefix: prefix + "presence:", limit: limit, ttl: ttl}
}

func (t *RedisTracker) key(userID string) string { return t.prefix + userID }

func (t *RedisTracker) Acquire(ctx context.Context, userID string) (int, error) {
	n, err := utils.AcquireSlot(ctx, t.rdb, t.key(userID), t.limit, t.ttl)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, ErrTooManyConnections
	}
	return n, nil
}

func (t *RedisTracker) Release(ctx context.Context, userID string) (int, error) {
	return utils.ReleaseSlot(ctx, t.rdb, t.key(userID))
}

func (t *RedisTracker) Refresh(ctx context.Context, userID string) error {
	_, err := utils.RefreshSlot(ctx, t.rdb, t.key(userID), t.ttl)
	return err
}

func (t *RedisTracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.rdb.Exists(ctx, t.key(userID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MemoryTracker is a single-process Tracker for tests and BUS_DRIVER=memory.
type MemoryTracker struct {
	mu     sync.Mutex
	counts map[string]int
	limit  int
}

func NewMemoryTracker(limit int) *MemoryTracker {
	return &MemoryTracker{counts: make(map[string]int), limit: limit}
}

func (t *MemoryTracker) Acquire(_ context.Context, userID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.limit > 0 && t.counts[userID] >= t.limit {
		return 0, ErrTooManyConnections
	}
	t.counts[userID]++
	return t.counts[userID], nil
}

func (t *MemoryTracker) Release(_ context.Context, userID string) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.counts[userID] - 1
	if n <= 0 {
		delete(t.counts, userID)
		return 0, nil
	}
	t.counts[userID] = n
	return n, nil
}

func (t *MemoryTracker) Refresh(context.Context, string) error { return nil }

func (t *MemoryTracker) IsOnline(_ context.Context, userID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counts[userID] > 0, nil
}

// SetOnline forces a user online or offline. Test helper.
func (t *MemoryTracker) SetOnline(userID string, online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		if t.counts[userID] == 0 {
			t.counts[userID] = 1
		}
		return
	}
	delete(t.counts, userID)
}
