package pricing

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo reads billing_policies.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) FindPolicy(ctx context.Context, kind SessionKind, currency string, at time.Time) (BillingPolicy, bool, error) {
	const q = `
SELECT id, kind, currency, billing_increment_seconds, minimum_billable_seconds,
       effective_from, effective_to, status
FROM billing_policies
WHERE kind = $1 AND currency = $2 AND status = 'active'
  AND effective_from <= $3 AND (effective_to IS NULL OR effective_to > $3)
ORDER BY effective_from DESC
LIMIT 1
`
	var (
		p  BillingPolicy
		to sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, q, kind, currency, at).Scan(
		&p.ID,
		&p.Kind,
		&p.Currency,
		&p.BillingIncrementSeconds,
		&p.MinimumBillableSeconds,
		&p.EffectiveFrom,
		&to,
		&p.Status,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return BillingPolicy{}, false, nil
		}
		return BillingPolicy{}, false, err
	}
	if to.Valid {
		t := to.Time
		p.EffectiveTo = &t
	}
	return p, true, nil
}
