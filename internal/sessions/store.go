package sessions

import (
	"context"
	"errors"
	"fmt"

	"liveconnect/internal/apperr"
)

// Store persists Sessions. Status changes only go through CompareAndSwap.
type Store interface {
	// Insert fails with ErrActiveSessionExists when the conversation already has a
	// non-complete Session.
	Insert(ctx context.Context, s Session) error
	Get(ctx context.Context, id string) (Session, error)
	FindActiveByConversation(ctx context.Context, conversationID string) (Session, bool, error)
	// ListActiveForUser returns non-complete Sessions where userID is host or guest.
	ListActiveForUser(ctx context.Context, userID string) ([]Session, error)
	CompareAndSwap(ctx context.Context, next Session, prev Status) error
}

var (
	ErrNotFound            = fmt.Errorf("session %w", apperr.ErrNotFound)
	ErrStateChanged        = errors.New("sessions: status changed concurrently")
	ErrActiveSessionExists = errors.New("sessions: conversation already has an active session")
)
