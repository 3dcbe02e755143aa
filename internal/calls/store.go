package calls

import (
	"context"
	"errors"
	"fmt"
	"time"

	"liveconnect/internal/apperr"
)

// Store is the durable record of Calls. Every state change goes through CompareAndSwap;
// there is no unconditional update.
type Store interface {
	// Insert fails with ErrLiveCallExists when the conversation already has a non-terminal Call,
	// or ErrDuplicateKey when (initiator, idempotency key) was used before.
	Insert(ctx context.Context, c Call) error
	Get(ctx context.Context, id string) (Call, error)
	FindLiveByConversation(ctx context.Context, conversationID string) (Call, bool, error)
	FindByIdempotencyKey(ctx context.Context, initiatorID, key string) (Call, bool, error)

	// CompareAndSwap writes next only if the stored state is still prev; otherwise ErrStateChanged.
	CompareAndSwap(ctx context.Context, next Call, prev State) error

	// ListForUser returns Calls the user took part in, created in [from, to).
	ListForUser(ctx context.Context, userID string, from, to time.Time) ([]Call, error)
	// ListConnectedBefore returns connected Calls whose connected_at is before t.
	ListConnectedBefore(ctx context.Context, t time.Time) ([]Call, error)
}

var (
	ErrNotFound       = fmt.Errorf("call %w", apperr.ErrNotFound)
	ErrStateChanged   = errors.New("calls: state changed concurrently")
	ErrLiveCallExists = errors.New("calls: conversation already has a live call")
	ErrDuplicateKey   = errors.New("calls: idempotency key already used")
)
