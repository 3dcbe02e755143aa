package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"liveconnect/internal/apperr"
	"liveconnect/internal/calls"
	"liveconnect/internal/conversation"
	"liveconnect/internal/events"
	"liveconnect/internal/pricing"
	"liveconnect/internal/profiles"
)

// Presence answers whether a user has a live connection.
type Presence interface {
	IsOnline(ctx context.Context, userID string) (bool, error)
}

type Conversations interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	FindOrCreateDirect(ctx context.Context, a, b string) (conversation.Conversation, error)
	AppendNotice(ctx context.Context, conv conversation.Conversation, kind conversation.NoticeKind, refID, text string) (conversation.Notice, error)
}

type Charger interface {
	CalculateSessionCharge(ctx context.Context, req pricing.ChargeRequest) (pricing.Charge, error)
}

// Observer is told about admission outcomes and completions (metrics).
type Observer interface {
	SessionOutcome(outcome string)
}

type Config struct {
	StalePending    time.Duration
	StaleInProgress time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.StalePending <= 0 {
		out.StalePending = 10 * time.Minute
	}
	if out.StaleInProgress <= 0 {
		out.StaleInProgress = 120 * time.Minute
	}
	return out
}

type Deps struct {
	Store         Store
	Profiles      profiles.Lookup
	Presence      Presence
	Conversations Conversations
	Pricing       Charger
	Publisher     events.Publisher
	Logger        *slog.Logger
	Observer      Observer
}

// Service admits instant connections and drives Session status.
//
// Admission never holds a lock across the checks; the per-conversation uniqueness of active
// Sessions in the Store decides races, and the loser re-reads and reuses the winner.
type Service struct {
	store    Store
	profiles profiles.Lookup
	presence Presence
	convs    Conversations
	pricing  Charger
	pub      events.Publisher
	log      *slog.Logger
	observer Observer
	cfg      Config

	clock func() time.Time
}

func NewService(d Deps, cfg Config) *Service {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		store:    d.Store,
		profiles: d.Profiles,
		presence: d.Presence,
		convs:    d.Conversations,
		pricing:  d.Pricing,
		pub:      d.Publisher,
		log:      d.Logger,
		observer: d.Observer,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

type Outcome string

const (
	OutcomeCreate Outcome = "create"
	OutcomeReuse  Outcome = "reuse"
)

type ConnectResult struct {
	Outcome      Outcome                   `json:"outcome"`
	Session      Session                   `json:"session"`
	Conversation conversation.Conversation `json:"conversation"`
}

const maxAdmitAttempts = 3

// ConnectNow admits requesterID into an instant Session hosted by targetID.
func (s *Service) ConnectNow(ctx context.Context, requesterID, targetID string) (ConnectResult, error) {
	res, err := s.connectNow(ctx, requesterID, targetID)
	if err != nil {
		if code := apperr.Code(err); code != apperr.CodeInternal {
			s.observe("rejected_" + code)
		}
		return ConnectResult{}, err
	}
	s.observe(string(res.Outcome))
	return res, nil
}

func (s *Service) connectNow(ctx context.Context, requesterID, targetID string) (ConnectResult, error) {
	if requesterID == "" || targetID == "" {
		return ConnectResult{}, fmt.Errorf("%w: target_id is required", apperr.ErrInvalidRequest)
	}
	if requesterID == targetID {
		return ConnectResult{}, fmt.Errorf("%w: cannot connect to yourself", apperr.ErrInvalidRequest)
	}

	host, err := s.profiles.Get(ctx, targetID)
	if err != nil {
		return ConnectResult{}, err
	}

	conv, err := s.convs.FindOrCreateDirect(ctx, requesterID, targetID)
	if err != nil {
		return ConnectResult{}, err
	}

	for attempt := 0; attempt < maxAdmitAttempts; attempt++ {
		existing, ok, err := s.store.FindActiveByConversation(ctx, conv.ID)
		if err != nil {
			return ConnectResult{}, err
		}
		if ok {
			if !s.isStale(existing, s.clock()) {
				return ConnectResult{Outcome: OutcomeReuse, Session: existing, Conversation: conv}, nil
			}
			if err := s.reclaim(ctx, existing); err != nil {
				return ConnectResult{}, err
			}
		}

		online, err := s.presence.IsOnline(ctx, targetID)
		if err != nil {
			return ConnectResult{}, err
		}
		if !online {
			return ConnectResult{}, fmt.Errorf("%w: %s is not connected", apperr.ErrTargetOffline, targetID)
		}
		if host.RequiresRequest {
			return ConnectResult{}, fmt.Errorf("%w: %s only accepts requests", apperr.ErrRequestRequired, targetID)
		}
		if busy, err := s.busyElsewhere(ctx, targetID, conv.ID); err != nil {
			return ConnectResult{}, err
		} else if busy {
			return ConnectResult{}, fmt.Errorf("%w: %s is in another session", apperr.ErrTargetBusy, targetID)
		}
		if busy, err := s.busyElsewhere(ctx, requesterID, conv.ID); err != nil {
			return ConnectResult{}, err
		} else if busy {
			return ConnectResult{}, fmt.Errorf("%w: finish your current session first", apperr.ErrRequesterBusy)
		}

		created := s.newInstantSession(conv.ID, host, requesterID)
		err = s.store.Insert(ctx, created)
		if errors.Is(err, ErrActiveSessionExists) {
			// A concurrent admission for the same pair won; loop to reuse it.
			continue
		}
		if err != nil {
			return ConnectResult{}, err
		}

		s.notice(ctx, conv, created.ID, conversation.SessionStartedText())
		s.publish(ctx, created.HostID, created.ID, events.SessionCreated{Session: created.Snapshot()})
		return ConnectResult{Outcome: OutcomeCreate, Session: created, Conversation: conv}, nil
	}
	return ConnectResult{}, fmt.Errorf("%w: conversation %s session kept changing", apperr.ErrConflict, conv.ID)
}

func (s *Service) newInstantSession(conversationID string, host profiles.Profile, guestID string) Session {
	now := s.clock().UTC()
	mode := PaymentPerMinute
	if host.RatePerMinuteMinor == 0 {
		mode = PaymentFree
	}
	return Session{
		ID:                 uuid.NewString(),
		ConversationID:     conversationID,
		HostID:             host.ID,
		GuestID:            guestID,
		Kind:               pricing.SessionKindInstant,
		Status:             StatusPending,
		StartTime:          now,
		RatePerMinuteMinor: host.RatePerMinuteMinor,
		Currency:           host.Currency,
		PaymentMode:        mode,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}

// busyElsewhere reports whether userID holds a live, non-stale Session outside conversationID.
// Stale ones found on the way are reclaimed.
func (s *Service) busyElsewhere(ctx context.Context, userID, conversationID string) (bool, error) {
	active, err := s.store.ListActiveForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	now := s.clock()
	for _, a := range active {
		if a.ConversationID == conversationID {
			continue
		}
		if s.isStale(a, now) {
			if err := s.reclaim(ctx, a); err != nil {
				return false, err
			}
			continue
		}
		return true, nil
	}
	return false, nil
}

func (s *Service) isStale(sess Session, now time.Time) bool {
	switch sess.Status {
	case StatusPending:
		return now.Sub(sess.CreatedAt) > s.cfg.StalePending
	case StatusInProgress:
		since := sess.CreatedAt
		if sess.StartedAt != nil {
			since = *sess.StartedAt
		}
		return now.Sub(since) > s.cfg.StaleInProgress
	default:
		return false
	}
}

func (s *Service) reclaim(ctx context.Context, sess Session) error {
	_, err := s.complete(ctx, sess, CompleteStale, sess.Participants())
	if err != nil {
		return err
	}
	s.log.Info("reclaimed stale session", "session_id", sess.ID, "from_status", sess.Status)
	return nil
}

// Get returns a Session visible to userID.
func (s *Service) Get(ctx context.Context, userID, sessionID string) (Session, error) {
	sess, err := s.store.Get(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !sess.IsParticipant(userID) {
		return Session{}, fmt.Errorf("%w: not a participant of session %s", apperr.ErrForbidden, sessionID)
	}
	return sess, nil
}

// Complete finishes a Session on request of either party. Completing a complete Session
// returns it unchanged.
func (s *Service) Complete(ctx context.Context, userID, sessionID string) (Session, error) {
	sess, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return Session{}, err
	}
	return s.complete(ctx, sess, CompleteByUser, []string{sess.Other(userID)})
}

func (s *Service) complete(ctx context.Context, sess Session, reason string, notify []string) (Session, error) {
	for attempt := 0; attempt < maxAdmitAttempts; attempt++ {
		if sess.Status == StatusComplete {
			return sess, nil
		}

		now := s.clock().UTC()
		next := sess
		next.Status = StatusComplete
		next.CompleteReason = reason
		next.CompletedAt = &now
		next.UpdatedAt = now
		if sess.StartedAt != nil {
			next.DurationSeconds = int(now.Sub(*sess.StartedAt) / time.Second)
		}
		if reason == CompleteStale {
			// Abandoned sessions are never billed; the recorded duration stops at the staleness bound.
			if limit := int(s.cfg.StaleInProgress / time.Second); next.DurationSeconds > limit {
				next.DurationSeconds = limit
			}
		} else if err := s.charge(ctx, &next, now); err != nil {
			return Session{}, err
		}

		err := s.store.CompareAndSwap(ctx, next, sess.Status)
		if errors.Is(err, ErrStateChanged) {
			if sess, err = s.store.Get(ctx, sess.ID); err != nil {
				return Session{}, err
			}
			continue
		}
		if err != nil {
			return Session{}, err
		}

		s.observe("completed")
		for _, uid := range notify {
			s.publish(ctx, uid, next.ID, events.SessionCompleted{Session: next.Snapshot(), Reason: reason})
		}
		if next.StartedAt != nil {
			if conv, err := s.convs.Get(ctx, next.ConversationID); err == nil {
				s.notice(ctx, conv, next.ID, conversation.SessionCompletedText(time.Duration(next.DurationSeconds)*time.Second))
			}
		}
		return next, nil
	}
	return Session{}, fmt.Errorf("%w: session %s kept changing", apperr.ErrConflict, sess.ID)
}

func (s *Service) charge(ctx context.Context, sess *Session, at time.Time) error {
	if s.pricing == nil || sess.DurationSeconds == 0 {
		return nil
	}
	c, err := s.pricing.CalculateSessionCharge(ctx, pricing.ChargeRequest{
		Kind:               sess.Kind,
		Currency:           sess.Currency,
		RatePerMinuteMinor: sess.RatePerMinuteMinor,
		DurationSeconds:    sess.DurationSeconds,
		At:                 at,
	})
	if err != nil {
		return err
	}
	sess.BillableMinutes = c.BillableMinutes
	sess.ChargeMinor = c.TotalMinor
	return nil
}

// CallConnected moves the conversation's pending Session to in_progress.
func (s *Service) CallConnected(ctx context.Context, c calls.Call) {
	sess, ok, err := s.store.FindActiveByConversation(ctx, c.ConversationID)
	if err != nil {
		s.log.Warn("session lookup on call connect failed", "call_id", c.ID, "err", err)
		return
	}
	if !ok || sess.Status != StatusPending {
		return
	}

	now := s.clock().UTC()
	next := sess
	next.Status = StatusInProgress
	next.StartedAt = &now
	next.UpdatedAt = now
	if err := s.store.CompareAndSwap(ctx, next, StatusPending); err != nil {
		if !errors.Is(err, ErrStateChanged) {
			s.log.Warn("session start failed", "session_id", sess.ID, "call_id", c.ID, "err", err)
		}
		return
	}
	s.observe("started")
	for _, uid := range next.Participants() {
		s.publish(ctx, uid, next.ID, events.SessionStarted{Session: next.Snapshot()})
	}
}

// CallEnded completes the conversation's in-progress Session.
func (s *Service) CallEnded(ctx context.Context, c calls.Call) {
	sess, ok, err := s.store.FindActiveByConversation(ctx, c.ConversationID)
	if err != nil {
		s.log.Warn("session lookup on call end failed", "call_id", c.ID, "err", err)
		return
	}
	if !ok || sess.Status != StatusInProgress {
		return
	}
	if _, err := s.complete(ctx, sess, CompleteByCallEnd, sess.Participants()); err != nil {
		s.log.Warn("session completion on call end failed", "session_id", sess.ID, "call_id", c.ID, "err", err)
	}
}

func (s *Service) publish(ctx context.Context, userID, sessionID string, body events.Body) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(ctx, events.Event{Topic: events.UserTopic(userID), Body: body}); err != nil {
		s.log.Warn("session event publish failed", "session_id", sessionID, "user_id", userID, "err", err)
	}
}

func (s *Service) notice(ctx context.Context, conv conversation.Conversation, sessionID, text string) {
	if _, err := s.convs.AppendNotice(ctx, conv, conversation.NoticeSession, sessionID, text); err != nil {
		s.log.Warn("session notice failed", "session_id", sessionID, "err", err)
	}
}

func (s *Service) observe(outcome string) {
	if s.observer != nil {
		s.observer.SessionOutcome(outcome)
	}
}

var _ calls.SessionHook = (*Service)(nil)
