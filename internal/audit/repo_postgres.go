package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo writes to audit_events. The table has no UPDATE or DELETE path in this code.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, type, actor_user_id, actor_role, ip_address, call_id, session_id, message, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9)`,
		e.ID, string(e.Type), e.ActorUserID, e.ActorRole, e.IPAddress, e.CallID, e.SessionID, e.Message, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting audit event: %w", err)
	}
	return nil
}

func (r *PostgresRepo) ListForCall(ctx context.Context, callID string) ([]Event, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, type, actor_user_id, COALESCE(actor_role, ''), COALESCE(ip_address, ''),
		       COALESCE(call_id, ''), COALESCE(session_id, ''), COALESCE(message, ''), created_at
		FROM audit_events
		WHERE call_id = $1
		ORDER BY created_at DESC`, callID)
	if err != nil {
		return nil, fmt.Errorf("listing audit events for call %s: %w", callID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var typ string
		if err := rows.Scan(&e.ID, &typ, &e.ActorUserID, &e.ActorRole, &e.IPAddress, &e.CallID, &e.SessionID, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning audit event: %w", err)
		}
		e.Type = EventType(typ)
		out = append(out, e)
	}
	return out, rows.Err()
}
