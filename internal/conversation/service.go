package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"liveconnect/internal/apperr"
	"liveconnect/internal/events"
)

// Repository is the persistence contract for conversations and their notices.
// Notices are append-only; no Update/Delete methods are provided.
type Repository interface {
	Get(ctx context.Context, id string) (Conversation, error)
	FindOrCreateDirect(ctx context.Context, a, b string, now time.Time) (Conversation, error)
	AppendNotice(ctx context.Context, n Notice) error
}

var (
	ErrNotFound         = fmt.Errorf("conversation %w", apperr.ErrNotFound)
	ErrInvalidNotice    = errors.New("conversation: invalid notice")
	ErrSelfConversation = fmt.Errorf("%w: a direct conversation needs two distinct users", apperr.ErrInvalidRequest)
)

// Service resolves conversations and appends system notices.
// Callers treat notices as best-effort; a failed notice never fails a transition.
type Service struct {
	repo  Repository
	pub   events.Publisher
	log   *slog.Logger
	clock func() time.Time
}

func NewService(repo Repository, pub events.Publisher, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{repo: repo, pub: pub, log: log, clock: time.Now}
}

func (s *Service) Get(ctx context.Context, id string) (Conversation, error) {
	if id == "" {
		return Conversation{}, ErrNotFound
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) FindOrCreateDirect(ctx context.Context, a, b string) (Conversation, error) {
	if a == "" || b == "" || a == b {
		return Conversation{}, ErrSelfConversation
	}
	return s.repo.FindOrCreateDirect(ctx, a, b, s.clock().UTC())
}

// AppendNotice stores a notice and announces it as NEW_MESSAGE on every participant's
// private topic. Publish failures are logged only.
func (s *Service) AppendNotice(ctx context.Context, conv Conversation, kind NoticeKind, refID, text string) (Notice, error) {
	if conv.ID == "" || kind == "" || text == "" {
		return Notice{}, ErrInvalidNotice
	}
	n := Notice{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Kind:           kind,
		Text:           text,
		RefID:          refID,
		CreatedAt:      s.clock().UTC(),
	}
	if err := s.repo.AppendNotice(ctx, n); err != nil {
		return Notice{}, err
	}

	if s.pub == nil {
		return n, nil
	}
	for _, uid := range conv.ParticipantIDs {
		err := s.pub.Publish(ctx, events.Event{
			Topic: events.UserTopic(uid),
			Body: events.NewMessage{
				ConversationID: n.ConversationID,
				MessageID:      n.ID,
				Kind:           string(n.Kind),
				Text:           n.Text,
				CreatedAt:      n.CreatedAt,
			},
		})
		if err != nil {
			s.log.Warn("notice publish failed", "conversation_id", conv.ID, "user_id", uid, "err", err)
		}
	}
	return n, nil
}
