package pricing

import (
	"context"
	"errors"
	"time"
)

// Service computes session charges from the agreed per-minute rate.
//
// Contract:
// - The rate comes from the session (agreed at admission), never re-read from the host.
// - Billing policy (increment, minimum) is looked up per kind and currency; DefaultPolicy otherwise.
// - Pure calculation + repository lookups; no payment capture.
type Service struct {
	repo  PolicyRepository
	clock func() time.Time
}

func NewService(repo PolicyRepository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// PolicyRepository abstracts billing policy persistence.
type PolicyRepository interface {
	FindPolicy(ctx context.Context, kind SessionKind, currency string, at time.Time) (BillingPolicy, bool, error)
}

type ChargeRequest struct {
	Kind               SessionKind
	Currency           string
	RatePerMinuteMinor int64
	DurationSeconds    int

	// At determines which effective policy to use. If zero, service clock is used.
	At time.Time
}

type Charge struct {
	Currency string `json:"currency"`

	BillableSeconds int `json:"billable_seconds"`
	BillableMinutes int `json:"billable_minutes"`

	RatePerMinuteMinor int64 `json:"rate_per_minute_minor"`
	TotalMinor         int64 `json:"total_minor"`
}

var ErrInvalidChargeReq = errors.New("invalid charge request")

// CalculateSessionCharge rounds the session duration per policy and applies the rate.
// A session that never ran (zero duration) or a free host is charged nothing.
func (s *Service) CalculateSessionCharge(ctx context.Context, req ChargeRequest) (Charge, error) {
	if req.RatePerMinuteMinor < 0 || req.DurationSeconds < 0 {
		return Charge{}, ErrInvalidChargeReq
	}
	out := Charge{Currency: req.Currency, RatePerMinuteMinor: req.RatePerMinuteMinor}
	if req.DurationSeconds == 0 || req.RatePerMinuteMinor == 0 {
		return out, nil
	}

	at := req.At
	if at.IsZero() {
		at = s.clock().UTC()
	}

	policy := DefaultPolicy
	if s.repo != nil {
		p, ok, err := s.repo.FindPolicy(ctx, req.Kind, req.Currency, at)
		if err != nil {
			return Charge{}, err
		}
		if ok {
			policy = p
		}
	}

	out.BillableSeconds = billableSeconds(req.DurationSeconds, policy.MinimumBillableSeconds, policy.BillingIncrementSeconds)
	out.BillableMinutes = billableMinutesFromSeconds(out.BillableSeconds)
	out.TotalMinor = req.RatePerMinuteMinor * int64(out.BillableMinutes)
	return out, nil
}

func billableSeconds(actualSec int, minSec int, incrementSec int) int {
	if actualSec < 0 {
		return 0
	}
	if minSec <= 0 {
		minSec = 0
	}
	if incrementSec <= 0 {
		incrementSec = 60
	}

	sec := actualSec
	if sec < minSec {
		sec = minSec
	}

	// round up to nearest increment
	q := sec / incrementSec
	r := sec % incrementSec
	if r != 0 {
		q++
	}
	return q * incrementSec
}

func billableMinutesFromSeconds(sec int) int {
	if sec <= 0 {
		return 0
	}
	m := sec / 60
	if sec%60 != 0 {
		m++
	}
	return m
}
