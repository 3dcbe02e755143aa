package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
// It is append-only; no Update/Delete methods are provided.
type Repository interface {
	Append(ctx context.Context, e Event) error
	// ListForCall returns the events that reference callID, newest first.
	ListForCall(ctx context.Context, callID string) ([]Event, error)
}

// Service records admin actions. Callers treat audit logging as best-effort.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.ActorUserID == "" || e.Type == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCallForceEnded records an admin ending a call out of band.
func (s *Service) LogCallForceEnded(ctx context.Context, actorUserID, actorRole, ip, callID, message string) error {
	return s.Append(ctx, Event{
		Type:        EventTypeCallForceEnded,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CallID:      callID,
		Message:     message,
	})
}

// CallHistory lists the admin actions taken on a call, newest first.
func (s *Service) CallHistory(ctx context.Context, callID string) ([]Event, error) {
	if s.repo == nil {
		return nil, errors.New("audit: repository not configured")
	}
	if callID == "" {
		return nil, ErrInvalidEvent
	}
	return s.repo.ListForCall(ctx, callID)
}
