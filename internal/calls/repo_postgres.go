package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"liveconnect/pkg/utils"
)

// NOTE: This repository assumes the calls table from the embedded migrations, including:
// - UNIQUE (conversation_id) WHERE state IN ('initiated','accepted','connected')
// - UNIQUE (initiator_id, idempotency_key) WHERE idempotency_key IS NOT NULL

const (
	constraintLivePerConversation = "calls_one_live_per_conversation"
	constraintIdempotency         = "calls_initiator_idempotency_key"
)

type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const callColumns = `
id, conversation_id, initiator_id, responder_id, medium, state, COALESCE(idempotency_key, ''),
created_at, accepted_at, connected_at, ended_at, COALESCE(end_reason, ''), COALESCE(decline_reason, ''),
duration_seconds, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner) (Call, error) {
	var (
		c                          Call
		accepted, connected, ended sql.NullTime
	)
	err := row.Scan(
		&c.ID,
		&c.ConversationID,
		&c.InitiatorID,
		&c.ResponderID,
		&c.Medium,
		&c.State,
		&c.IdempotencyKey,
		&c.CreatedAt,
		&accepted,
		&connected,
		&ended,
		&c.EndReason,
		&c.DeclineReason,
		&c.DurationSeconds,
		&c.UpdatedAt,
	)
	if err != nil {
		return Call{}, err
	}
	c.AcceptedAt = timePtr(accepted)
	c.ConnectedAt = timePtr(connected)
	c.EndedAt = timePtr(ended)
	return c, nil
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

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func (r *PostgresRepo) Insert(ctx context.Context, c Call) error {
	const q = `
INSERT INTO calls (
  id, conversation_id, initiator_id, responder_id, medium, state, idempotency_key,
  created_at, accepted_at, connected_at, ended_at, end_reason, decline_reason, duration_seconds, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
`
	_, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.ConversationID,
		c.InitiatorID,
		c.ResponderID,
		c.Medium,
		c.State,
		nullString(c.IdempotencyKey),
		c.CreatedAt,
		nullTime(c.AcceptedAt),
		nullTime(c.ConnectedAt),
		nullTime(c.EndedAt),
		nullString(string(c.EndReason)),
		nullString(c.DeclineReason),
		c.DurationSeconds,
		c.UpdatedAt,
	)
	if constraint, ok := utils.UniqueViolation(err); ok {
		switch constraint {
		case constraintIdempotency:
			return ErrDuplicateKey
		case constraintLivePerConversation:
			return ErrLiveCallExists
		}
	}
	return err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Call, error) {
	q := `SELECT ` + callColumns + ` FROM calls WHERE id = $1`
	c, err := scanCall(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Call{}, ErrNotFound
	}
	return c, err
}

func (r *PostgresRepo) FindLiveByConversation(ctx context.Context, conversationID string) (Call, bool, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE conversation_id = $1 AND state IN ('initiated', 'accepted', 'connected')
LIMIT 1`
	return findOne(r.db.QueryRowContext(ctx, q, conversationID))
}

func (r *PostgresRepo) FindByIdempotencyKey(ctx context.Context, initiatorID, key string) (Call, bool, error) {
	if key == "" {
		return Call{}, false, nil
	}
	q := `SELECT ` + callColumns + `
FROM calls
WHERE initiator_id = $1 AND idempotency_key = $2
LIMIT 1`
	return findOne(r.db.QueryRowContext(ctx, q, initiatorID, key))
}

func findOne(row *sql.Row) (Call, bool, error) {
	c, err := scanCall(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

// CompareAndSwap is a single guarded UPDATE; the WHERE on the previous state is the lock.
func (r *PostgresRepo) CompareAndSwap(ctx context.Context, next Call, prev State) error {
	const q = `
UPDATE calls
SET state = $3,
    accepted_at = $4,
    connected_at = $5,
    ended_at = $6,
    end_reason = $7,
    decline_reason = $8,
    duration_seconds = $9,
    updated_at = $10
WHERE id = $1 AND state = $2
`
	res, err := r.db.ExecContext(ctx, q,
		next.ID,
		prev,
		next.State,
		nullTime(next.AcceptedAt),
		nullTime(next.ConnectedAt),
		nullTime(next.EndedAt),
		nullString(string(next.EndReason)),
		nullString(next.DeclineReason),
		next.DurationSeconds,
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

func (r *PostgresRepo) ListForUser(ctx context.Context, userID string, from, to time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE (initiator_id = $1 OR responder_id = $1) AND created_at >= $2 AND created_at < $3
ORDER BY created_at`
	return r.list(ctx, q, userID, from, to)
}

func (r *PostgresRepo) ListConnectedBefore(ctx context.Context, t time.Time) ([]Call, error) {
	q := `SELECT ` + callColumns + `
FROM calls
WHERE state = 'connected' AND connected_at < $1
ORDER BY connected_at`
	return r.list(ctx, q, t)
}

func (r *PostgresRepo) list(ctx context.Context, q string, args ...any) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Call, 0)
	for rows.Next() {
		c, err := scanCall(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
