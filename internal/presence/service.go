package presence

import (
	"context"
	"log/slog"

	"liveconnect/internal/events"
)

// Service turns connection open/close into PRESENCE_CHANGED announcements on the status topic.
// Only the first connection and the last disconnection of a user change presence.
type Service struct {
	tracker Tracker
	pub     events.Publisher
	log     *slog.Logger
}

func NewService(t Tracker, pub events.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{tracker: t, pub: pub, log: log}
}

func (s *Service) Connected(ctx context.Context, userID string) error {
	n, err := s.tracker.Acquire(ctx, userID)
	if err != nil {
		return err
	}
	if n == 1 {
		s.announce(ctx, userID, true)
	}
	return nil
}

func (s *Service) Disconnected(ctx context.Context, userID string) {
	n, err := s.tracker.Release(ctx, userID)
	if err != nil {
		s.log.Warn("presence release failed", "user_id", userID, "err", err)
		return
	}
	if n == 0 {
		s.announce(ctx, userID, false)
	}
}

func (s *Service) Heartbeat(ctx context.Context, userID string) {
	if err := s.tracker.Refresh(ctx, userID); err != nil {
		s.log.Warn("presence refresh failed", "user_id", userID, "err", err)
	}
}

func (s *Service) IsOnline(ctx context.Context, userID string) (bool, error) {
	return s.tracker.IsOnline(ctx, userID)
}

func (s *Service) announce(ctx context.Context, userID string, online bool) {
	if s.pub == nil {
		return
	}
	err := s.pub.Publish(ctx, events.Event{
		Topic: events.StatusTopic,
		Body:  events.PresenceChanged{UserID: userID, Online: online},
	})
	if err != nil {
		s.log.Warn("presence publish failed", "user_id", userID, "err", err)
	}
}
