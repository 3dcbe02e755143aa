package profiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"liveconnect/internal/apperr"
)

// Profile is the subset of a user profile the lifecycle engine consumes.
// Profiles are owned by another service; this package only reads them.
type Profile struct {
	ID          string `json:"id" db:"id"`
	DisplayName string `json:"display_name" db:"display_name"`

	// RatePerMinuteMinor is the host's instant-session price in minor units.
	RatePerMinuteMinor int64  `json:"rate_per_minute_minor" db:"rate_per_minute_minor"`
	Currency           string `json:"currency" db:"currency"`

	// RequiresRequest means the user only accepts mediated requests, never instant connects.
	RequiresRequest bool `json:"requires_request" db:"requires_request"`
}

var ErrNotFound = fmt.Errorf("profile %w", apperr.ErrNotFound)

type Lookup interface {
	Get(ctx context.Context, userID string) (Profile, error)
}

// MemoryRepo is an in-memory Lookup for tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	mu       sync.RWMutex
	profiles map[string]Profile
}

func NewMemoryRepo(ps ...Profile) *MemoryRepo {
	r := &MemoryRepo{profiles: make(map[string]Profile)}
	for _, p := range ps {
		r.profiles[p.ID] = p
	}
	return r
}

func (r *MemoryRepo) Put(p Profile) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.profiles[p.ID] = p
}

func (r *MemoryRepo) Get(_ context.Context, userID string) (Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[userID]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

// PostgresRepo reads the profiles table shared with the profile service.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, userID string) (Profile, error) {
	const q = `
SELECT id, display_name, rate_per_minute_minor, currency, requires_request
FROM profiles
WHERE id = $1
`
	var p Profile
	if err := r.db.QueryRowContext(ctx, q, userID).Scan(
		&p.ID,
		&p.DisplayName,
		&p.RatePerMinuteMinor,
		&p.Currency,
		&p.RequiresRequest,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, err
	}
	return p, nil
}
