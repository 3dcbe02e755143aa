package profiles

import (
	"context"
	"errors"
	"testing"

	"liveconnect/internal/apperr"
)

func TestMemoryRepo_Get(t *testing.T) {
	r := NewMemoryRepo(Profile{ID: "h1", RatePerMinuteMinor: 250, Currency: "USD"})

	p, err := r.Get(context.Background(), "h1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if p.RatePerMinuteMinor != 250 {
		t.Fatalf("unexpected profile %+v", p)
	}

	if _, err := r.Get(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
