package ratelimit

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"liveconnect/internal/auth"
	"liveconnect/pkg/logger"
)

// Config configures per-user token buckets.
type Config struct {
	// Rate is the number of requests allowed per second per user.
	Rate rate.Limit
	// Burst is the maximum burst size per user.
	Burst int
	// CleanupInterval is how often idle entries are removed.
	CleanupInterval time.Duration
	// MaxAge is how long an idle limiter is kept before eviction.
	MaxAge time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.Rate <= 0 {
		out.Rate = rate.Limit(1)
	}
	if out.Burst <= 0 {
		out.Burst = 5
	}
	if out.CleanupInterval <= 0 {
		out.CleanupInterval = 5 * time.Minute
	}
	if out.MaxAge <= 0 {
		out.MaxAge = 10 * time.Minute
	}
	return out
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter keeps one token bucket per key (the authenticated user id).
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	cfg     Config
	stopCh  chan struct{}
	once    sync.Once

	clock func() time.Time
}

// New creates a limiter and starts its cleanup loop. Call Stop to end it.
func New(cfg Config) *Limiter {
	l := &Limiter{
		entries: make(map[string]*entry),
		cfg:     cfg.withDefaults(),
		stopCh:  make(chan struct{}),
		clock:   time.Now,
	}
	go l.cleanupLoop()
	return l
}

func (l *Limiter) Allow(key string) bool {
	now := l.clock()
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(l.cfg.Rate, l.cfg.Burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (l *Limiter) Stop() {
	l.once.Do(func() { close(l.stopCh) })
}

func (l *Limiter) cleanupLoop() {
	ticker := time.NewTicker(l.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			l.cleanup()
		case <-l.stopCh:
			return
		}
	}
}

func (l *Limiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock().Add(-l.cfg.MaxAge)
	removed := 0
	for key, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, key)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("rate limiter cleanup", "removed", removed, "remaining", len(l.entries))
	}
	return removed
}

// PerUser limits requests by the authenticated user, falling back to client IP.
func (l *Limiter) PerUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := auth.CurrentUser(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !l.Allow(key) {
			logger.FromGin(c).Warn("rate limit exceeded", "key", key, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded", "code": "RATE_LIMITED"})
			return
		}
		c.Next()
	}
}
