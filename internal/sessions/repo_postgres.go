package sessions

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"liveconnect/pkg/utils"
)

const (
	constraintActivePerConvID = "sessions_one_active_per_conversation"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const sessionColumns = `
id, conversation_id, host_id, guest_id, kind, status, start_time,
rate_per_minute_minor, COALESCE(currency, ''), payment_mode,
started_at, completed_at, COALESCE(complete_reason, ''),
duration_seconds, billable_minutes, charge_minor, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                  Session
		started, completed sql.NullTime
	)
	err := row.Scan(
		&s.ID,
		&s.ConversationID,
		&s.HostID,
		&s.GuestID,
		&s.Kind,
		&s.Status,
		&s.StartTime,
		&s.RatePerMinuteMinor,
		&s.Currency,
		&s.PaymentMode,
		&started,
		&completed,
		&s.CompleteReason,
		&s.DurationSeconds,
		&s.BillableMinutes,
		&s.ChargeMinor,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return Session{}, err
	}
	s.StartedAt = timePtr(started)
	s.CompletedAt = timePtr(completed)
	return s, nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func (r *PostgresRepo) Insert(ctx context.Context, s Session) error {
	const q = `
INSERT INTO sessions (
  id, conversation_id, host_id, guest_id, kind, status, start_time,
  rate_per_minute_minor, currency, payment_mode, started_at, completed_at, complete_reason,
  duration_seconds, billable_minutes, charge_minor, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,NULLIF($9,''),$10,$11,$12,NULLIF($13,''),$14,$15,$16,$17,$18
)
`
	_, err := r.db.ExecContext(ctx, q,
		s.ID,
		s.ConversationID,
		s.HostID,
		s.GuestID,
		string(s.Kind),
		string(s.Status),
		s.StartTime,
		s.RatePerMinuteMinor,
		s.Currency,
		string(s.PaymentMode),
		nullTime(s.StartedAt),
		nullTime(s.CompletedAt),
		s.CompleteReason,
		s.DurationSeconds,
		s.BillableMinutes,
		s.ChargeMinor,
		s.CreatedAt,
		s.UpdatedAt,
	)
	if constraint, ok := utils.UniqueViolation(err); ok && constraint == constraintActivePerConvID {
		return ErrActiveSessionExists
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE id = $1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	return s, err
}

func (r *PostgresRepo) FindActiveByConversation(ctx context.Context, conversationID string) (Session, bool, error) {
	q := `SELECT ` + sessionColumns + `
FROM sessions
WHERE conversation_id = $1 AND status <> 'complete'
LIMIT 1`
	s, err := scanSession(r.db.QueryRowContext(ctx, q, conversationID))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	return s, true, nil
}

func (r *PostgresRepo) ListActiveForUser(ctx context.Context, userID string) ([]Session, error) {
	q := `SELECT ` + sessionColumns + `
FROM sessions
WHERE (host_id = $1 OR guest_id = $1) AND status <> 'complete'
ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CompareAndSwap(ctx context.Context, next Session, prev Status) error {
	const q = `
UPDATE sessions
SET status = $3,
    started_at = $4,
    completed_at = $5,
    complete_reason = NULLIF($6, ''),
    duration_seconds = $7,
    billable_minutes = $8,
    charge_minor = $9,
    updated_at = $10
WHERE id = $1 AND status = $2
`
	res, err := r.db.ExecContext(ctx, q,
		next.ID,
		string(prev),
		string(next.Status),
		nullTime(next.StartedAt),
		nullTime(next.CompletedAt),
		next.CompleteReason,
		next.DurationSeconds,
		next.BillableMinutes,
		next.ChargeMinor,
		next.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrStateChanged
	}
	return nil
}
