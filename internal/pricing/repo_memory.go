package pricing

import (
	"context"
	"time"
)

// MemoryRepo is a simple in-memory PolicyRepository useful for tests and STORE_DRIVER=memory.
type MemoryRepo struct {
	Policies []BillingPolicy
}

func (r *MemoryRepo) FindPolicy(ctx context.Context, kind SessionKind, currency string, at time.Time) (BillingPolicy, bool, error) {
	_ = ctx

	// Prefer the most recent effective policy.
	var best BillingPolicy
	found := false

	for _, p := range r.Policies {
		if p.Kind != kind || p.Currency != currency {
			continue
		}
		if !p.effectiveAt(at) {
			continue
		}
		if !found || p.EffectiveFrom.After(best.EffectiveFrom) {
			best = p
			found = true
		}
	}

	return best, found, nil
}

func (p BillingPolicy) effectiveAt(at time.Time) bool {
	if p.Status != PolicyStatusActive {
		return false
	}
	if at.Before(p.EffectiveFrom) {
		return false
	}
	if p.EffectiveTo != nil && !at.Before(*p.EffectiveTo) {
		return false
	}
	return true
}
