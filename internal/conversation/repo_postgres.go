package conversation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"liveconnect/pkg/utils"
)

// PostgresRepo stores conversations in:
// - conversations (direct_key UNIQUE for direct pairs)
// - conversation_members
// - conversation_messages (append-only)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (Conversation, error) {
	const q = `
SELECT id, kind, created_at
FROM conversations
WHERE id = $1
`
	var c Conversation
	if err := r.db.QueryRowContext(ctx, q, id).Scan(&c.ID, &c.Kind, &c.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, ErrNotFound
		}
		return Conversation{}, err
	}
	members, err := r.members(ctx, id)
	if err != nil {
		return Conversation{}, err
	}
	c.ParticipantIDs = members
	return c, nil
}

func (r *PostgresRepo) members(ctx context.Context, id string) ([]string, error) {
	const q = `
SELECT user_id
FROM conversation_members
WHERE conversation_id = $1
ORDER BY position
`
	rows, err := r.db.QueryContext(ctx, q, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, rows.Err()
}

// FindOrCreateDirect relies on the direct_key unique constraint: concurrent creators
// for the same pair converge on one row.
func (r *PostgresRepo) FindOrCreateDirect(ctx context.Context, a, b string, now time.Time) (Conversation, error) {
	key := pairKey(a, b)
	var id string

	err := utils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		const ins = `
INSERT INTO conversations (id, kind, direct_key, created_at)
VALUES ($1, 'direct', $2, $3)
ON CONFLICT (direct_key) DO NOTHING
RETURNING id
`
		newID := uuid.NewString()
		err := tx.QueryRowContext(ctx, ins, newID, key, now).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			const sel = `SELECT id FROM conversations WHERE direct_key = $1`
			return tx.QueryRowContext(ctx, sel, key).Scan(&id)
		}
		if err != nil {
			return err
		}

		const mem = `
INSERT INTO conversation_members (conversation_id, user_id, position)
VALUES ($1, $2, 0), ($1, $3, 1)
`
		_, err = tx.ExecContext(ctx, mem, id, a, b)
		return err
	})
	if err != nil {
		return Conversation{}, err
	}
	return r.Get(ctx, id)
}

func (r *PostgresRepo) AppendNotice(ctx context.Context, n Notice) error {
	const q = `
INSERT INTO conversation_messages (id, conversation_id, kind, text, ref_id, created_at)
VALUES ($1, $2, $3, $4, NULLIF($5, ''), $6)
`
	_, err := r.db.ExecContext(ctx, q, n.ID, n.ConversationID, n.Kind, n.Text, n.RefID, n.CreatedAt)
	return err
}
