package calls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"liveconnect/internal/apperr"
	"liveconnect/internal/conversation"
	"liveconnect/internal/events"
	"liveconnect/internal/media"
)

// Conversations is what the engine needs from the conversation service.
type Conversations interface {
	Get(ctx context.Context, id string) (conversation.Conversation, error)
	AppendNotice(ctx context.Context, conv conversation.Conversation, kind conversation.NoticeKind, refID, text string) (conversation.Notice, error)
}

// SessionHook couples session status to call progress. Implementations must not block for long;
// failures are theirs to log.
type SessionHook interface {
	CallConnected(ctx context.Context, c Call)
	CallEnded(ctx context.Context, c Call)
}

// Observer is notified of every persisted transition (metrics).
type Observer interface {
	CallTransition(to string)
}

type Config struct {
	RingTimeout    time.Duration
	StaleInitiated time.Duration
	StaleAccepted  time.Duration
}

func (c Config) withDefaults() Config {
	out := c
	if out.RingTimeout <= 0 {
		out.RingTimeout = 60 * time.Second
	}
	if out.StaleInitiated <= 0 {
		out.StaleInitiated = 60 * time.Second
	}
	if out.StaleAccepted <= 0 {
		out.StaleAccepted = 120 * time.Second
	}
	return out
}

type Deps struct {
	Store         Store
	Conversations Conversations
	Media         media.Issuer
	Publisher     events.Publisher
	Timers        Timers
	Logger        *slog.Logger
	Observer      Observer
	Sessions      SessionHook
}

// Engine drives the Call state machine.
//
// Every transition is a compare-and-swap on (id, previous state) followed by exactly one
// notification to the other participant. Publish and notice failures are logged and never
// roll a transition back.
type Engine struct {
	store    Store
	convs    Conversations
	media    media.Issuer
	pub      events.Publisher
	timers   Timers
	log      *slog.Logger
	observer Observer
	sessions SessionHook
	cfg      Config

	// clock is injectable for deterministic tests.
	clock func() time.Time
}

func NewEngine(d Deps, cfg Config) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Timers == nil {
		d.Timers = NewLocalTimers()
	}
	return &Engine{
		store:    d.Store,
		convs:    d.Conversations,
		media:    d.Media,
		pub:      d.Publisher,
		timers:   d.Timers,
		log:      d.Logger,
		observer: d.Observer,
		sessions: d.Sessions,
		cfg:      cfg.withDefaults(),
		clock:    time.Now,
	}
}

// SetSessionHook wires the session coupling after construction; sessions depend on the engine's
// participants, so the two are built in sequence.
func (e *Engine) SetSessionHook(h SessionHook) { e.sessions = h }

// Close stops pending ring timers.
func (e *Engine) Close() { e.timers.Stop() }

const maxStartAttempts = 3

type StartRequest struct {
	ConversationID string `json:"conversation_id"`
	Medium         Medium `json:"medium"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type StartResult struct {
	Call         Call              `json:"call"`
	Credential   *media.Credential `json:"media_credential,omitempty"`
	Participants []string          `json:"participants"`

	// Replayed is true when the idempotency key matched an earlier start.
	Replayed bool `json:"replayed"`
}

// Start creates a Call in the conversation and rings the other participant.
func (e *Engine) Start(ctx context.Context, userID string, req StartRequest) (StartResult, error) {
	if userID == "" || req.ConversationID == "" {
		return StartResult{}, fmt.Errorf("%w: conversation_id is required", apperr.ErrInvalidRequest)
	}
	if req.Medium == "" {
		req.Medium = MediumVideo
	}
	if !req.Medium.Valid() {
		return StartResult{}, fmt.Errorf("%w: medium must be video or audio", apperr.ErrInvalidRequest)
	}

	if c, ok, err := e.store.FindByIdempotencyKey(ctx, userID, req.IdempotencyKey); err != nil {
		return StartResult{}, err
	} else if ok {
		return e.replay(c, userID), nil
	}

	conv, err := e.convs.Get(ctx, req.ConversationID)
	if err != nil {
		return StartResult{}, err
	}
	// Non-members cannot learn the conversation exists.
	if !conv.HasParticipant(userID) {
		return StartResult{}, conversation.ErrNotFound
	}
	responderID, ok := conv.Other(userID)
	if !ok {
		return StartResult{}, fmt.Errorf("%w: calls need a direct conversation with two participants", apperr.ErrInvalidRequest)
	}

	var created Call
	for attempt := 0; ; attempt++ {
		if attempt == maxStartAttempts {
			return StartResult{}, fmt.Errorf("%w: conversation %s has a live call", apperr.ErrConflict, conv.ID)
		}

		live, ok, err := e.store.FindLiveByConversation(ctx, conv.ID)
		if err != nil {
			return StartResult{}, err
		}
		if ok {
			if !e.isStale(live, e.clock()) {
				return StartResult{}, fmt.Errorf("%w: call %s is %s", apperr.ErrConflict, live.ID, live.State)
			}
			if err := e.reclaim(ctx, live); err != nil && !errors.Is(err, ErrStateChanged) {
				return StartResult{}, err
			}
			continue
		}

		now := e.clock().UTC()
		created = Call{
			ID:             uuid.NewString(),
			ConversationID: conv.ID,
			InitiatorID:    userID,
			ResponderID:    responderID,
			Medium:         req.Medium,
			State:          StateInitiated,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err = e.store.Insert(ctx, created)
		if errors.Is(err, ErrLiveCallExists) {
			continue
		}
		if errors.Is(err, ErrDuplicateKey) {
			// A concurrent start with the same key won the race.
			c, ok, ferr := e.store.FindByIdempotencyKey(ctx, userID, req.IdempotencyKey)
			if ferr != nil {
				return StartResult{}, ferr
			}
			if !ok {
				return StartResult{}, fmt.Errorf("%w: idempotency key in use", apperr.ErrConflict)
			}
			return e.replay(c, userID), nil
		}
		if err != nil {
			return StartResult{}, err
		}
		break
	}

	callID := created.ID
	e.timers.Schedule(callID, e.cfg.RingTimeout, func() { e.onRingTimeout(callID) })
	e.observe(created.State)

	cred := e.credential(created, userID)
	e.publish(ctx, created.ResponderID, created.ID, events.CallRinging{Call: created.Snapshot()})
	e.publish(ctx, created.InitiatorID, created.ID, events.CallInitiated{Call: created.Snapshot(), Credential: cred})

	return StartResult{Call: created, Credential: cred, Participants: created.Participants()}, nil
}

func (e *Engine) replay(c Call, userID string) StartResult {
	res := StartResult{Call: c, Participants: c.Participants(), Replayed: true}
	if !c.State.IsTerminal() {
		res.Credential = e.credential(c, userID)
	}
	return res
}

// isStale reports whether a live Call was abandoned. Connected Calls are never stale.
func (e *Engine) isStale(c Call, now time.Time) bool {
	switch c.State {
	case StateInitiated:
		return now.Sub(c.CreatedAt) > e.cfg.StaleInitiated
	case StateAccepted:
		since := c.CreatedAt
		if c.AcceptedAt != nil {
			since = *c.AcceptedAt
		}
		return now.Sub(since) > e.cfg.StaleAccepted
	default:
		return false
	}
}

// reclaim force-fails an abandoned Call and tells both participants.
func (e *Engine) reclaim(ctx context.Context, c Call) error {
	now := e.clock().UTC()
	next := c
	next.State = StateFailed
	next.EndReason = EndReasonError
	next.EndedAt = &now
	next.UpdatedAt = now
	if err := e.store.CompareAndSwap(ctx, next, c.State); err != nil {
		return err
	}
	e.timers.Cancel(c.ID)
	e.observe(next.State)
	e.log.Info("reclaimed stale call", "call_id", c.ID, "from_state", c.State)

	for _, uid := range next.Participants() {
		e.publish(ctx, uid, next.ID, events.CallFailed{Call: next.Snapshot()})
	}
	return nil
}

// Accept answers a ringing Call. Only the responder may accept.
func (e *Engine) Accept(ctx context.Context, userID, callID string) (Call, *media.Credential, error) {
	c, err := e.loadForResponder(ctx, userID, callID)
	if err != nil {
		return Call{}, nil, err
	}
	if c.State != StateInitiated {
		return Call{}, nil, fmt.Errorf("%w: call %s is %s", apperr.ErrInvalidRequest, c.ID, c.State)
	}

	now := e.clock().UTC()
	next := c
	next.State = StateAccepted
	next.AcceptedAt = &now
	next.UpdatedAt = now
	if err := e.cas(ctx, next, c.State); err != nil {
		return Call{}, nil, err
	}
	e.timers.Cancel(c.ID)

	e.publish(ctx, next.InitiatorID, next.ID, events.CallAccepted{Call: next.Snapshot()})
	return next, e.credential(next, userID), nil
}

// Decline rejects a ringing Call. Only the responder may decline.
func (e *Engine) Decline(ctx context.Context, userID, callID, reason string) (Call, error) {
	c, err := e.loadForResponder(ctx, userID, callID)
	if err != nil {
		return Call{}, err
	}
	if c.State != StateInitiated {
		return Call{}, fmt.Errorf("%w: call %s is %s", apperr.ErrInvalidRequest, c.ID, c.State)
	}

	now := e.clock().UTC()
	next := c
	next.State = StateDeclined
	next.DeclineReason = reason
	next.EndedAt = &now
	next.UpdatedAt = now
	if err := e.cas(ctx, next, c.State); err != nil {
		return Call{}, err
	}
	e.timers.Cancel(c.ID)

	e.publish(ctx, next.InitiatorID, next.ID, events.CallDeclined{Call: next.Snapshot(), Reason: reason})
	e.notice(ctx, next, conversation.DeclinedCallText(string(next.Medium)))
	return next, nil
}

// MarkConnected records that media started flowing. It only acts on an accepted Call; in any
// other state the Call is returned unchanged so late or repeated media signals are harmless.
func (e *Engine) MarkConnected(ctx context.Context, userID, callID string) (Call, error) {
	c, err := e.loadForParticipant(ctx, userID, callID)
	if err != nil {
		return Call{}, err
	}
	if c.State != StateAccepted {
		return c, nil
	}

	now := e.clock().UTC()
	next := c
	next.State = StateConnected
	next.ConnectedAt = &now
	next.UpdatedAt = now
	if err := e.cas(ctx, next, c.State); err != nil {
		if errors.Is(err, apperr.ErrConflict) {
			// Someone else moved it first: the other party connected or hung up.
			if cur, gerr := e.store.Get(ctx, callID); gerr == nil {
				return cur, nil
			}
		}
		return Call{}, err
	}

	e.publish(ctx, next.Other(userID), next.ID, events.CallConnected{Call: next.Snapshot()})
	if e.sessions != nil {
		e.sessions.CallConnected(ctx, next)
	}
	return next, nil
}

// End hangs up a Call from any non-terminal state. Ending a terminal Call returns it unchanged
// and publishes nothing.
func (e *Engine) End(ctx context.Context, userID, callID string, reason EndReason) (Call, error) {
	if reason == "" {
		reason = EndReasonNormal
	}
	if !reason.Valid() {
		return Call{}, fmt.Errorf("%w: unknown end reason %q", apperr.ErrInvalidRequest, reason)
	}
	c, err := e.loadForParticipant(ctx, userID, callID)
	if err != nil {
		return Call{}, err
	}
	return e.end(ctx, c, reason, []string{c.Other(userID)})
}

// ForceEnd ends a Call out of band (admin reconciliation) and notifies both participants.
func (e *Engine) ForceEnd(ctx context.Context, callID string) (Call, error) {
	c, err := e.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	return e.end(ctx, c, EndReasonError, c.Participants())
}

func (e *Engine) end(ctx context.Context, c Call, reason EndReason, notify []string) (Call, error) {
	for attempt := 0; attempt < maxStartAttempts; attempt++ {
		if c.State.IsTerminal() {
			return c, nil
		}

		now := e.clock().UTC()
		next := c
		next.State = StateEnded
		next.EndReason = reason
		next.EndedAt = &now
		next.UpdatedAt = now
		next.DurationSeconds = 0
		if c.ConnectedAt != nil {
			next.DurationSeconds = int(now.Sub(*c.ConnectedAt) / time.Second)
		}

		err := e.store.CompareAndSwap(ctx, next, c.State)
		if errors.Is(err, ErrStateChanged) {
			// Accept/connect raced with us; re-read and try again from the new state.
			if c, err = e.store.Get(ctx, c.ID); err != nil {
				return Call{}, err
			}
			continue
		}
		if err != nil {
			return Call{}, err
		}

		e.timers.Cancel(c.ID)
		e.observe(next.State)
		for _, uid := range notify {
			e.publish(ctx, uid, next.ID, events.CallEnded{Call: next.Snapshot()})
		}
		if next.ConnectedAt != nil {
			e.notice(ctx, next, conversation.CallEndedText(time.Duration(next.DurationSeconds)*time.Second))
			if e.sessions != nil {
				e.sessions.CallEnded(ctx, next)
			}
		} else {
			e.notice(ctx, next, conversation.MissedCallText(string(next.Medium)))
		}
		return next, nil
	}
	return Call{}, fmt.Errorf("%w: call %s kept changing", apperr.ErrConflict, c.ID)
}

// onRingTimeout fires once per started Call. It only acts if the Call is still ringing.
func (e *Engine) onRingTimeout(callID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	c, err := e.store.Get(ctx, callID)
	if err != nil {
		e.log.Warn("ring timeout: load call failed", "call_id", callID, "err", err)
		return
	}
	if c.State != StateInitiated {
		return
	}

	now := e.clock().UTC()
	next := c
	next.State = StateMissed
	next.EndReason = EndReasonTimeout
	next.EndedAt = &now
	next.UpdatedAt = now
	if err := e.store.CompareAndSwap(ctx, next, StateInitiated); err != nil {
		if !errors.Is(err, ErrStateChanged) {
			e.log.Warn("ring timeout: cas failed", "call_id", callID, "err", err)
		}
		return
	}
	e.observe(next.State)

	e.publish(ctx, next.InitiatorID, next.ID, events.CallTimeout{Call: next.Snapshot()})
	e.notice(ctx, next, conversation.MissedCallText(string(next.Medium)))
}

// Get returns a Call visible to userID.
func (e *Engine) Get(ctx context.Context, userID, callID string) (Call, error) {
	return e.loadForParticipant(ctx, userID, callID)
}

// CanJoin reports whether userID may subscribe to the call's signaling topic.
func (e *Engine) CanJoin(ctx context.Context, userID, callID string) error {
	c, err := e.loadForParticipant(ctx, userID, callID)
	if err != nil {
		return err
	}
	if c.State.IsTerminal() {
		return fmt.Errorf("%w: call %s is %s", apperr.ErrInvalidRequest, c.ID, c.State)
	}
	return nil
}

// ListConnectedOlderThan lists Calls connected for longer than d, for out-of-band review.
func (e *Engine) ListConnectedOlderThan(ctx context.Context, d time.Duration) ([]Call, error) {
	if d < 0 {
		return nil, fmt.Errorf("%w: older_than must be >= 0", apperr.ErrInvalidRequest)
	}
	return e.store.ListConnectedBefore(ctx, e.clock().UTC().Add(-d))
}

func (e *Engine) loadForParticipant(ctx context.Context, userID, callID string) (Call, error) {
	c, err := e.store.Get(ctx, callID)
	if err != nil {
		return Call{}, err
	}
	if !c.IsParticipant(userID) {
		return Call{}, fmt.Errorf("%w: not a participant of call %s", apperr.ErrForbidden, callID)
	}
	return c, nil
}

func (e *Engine) loadForResponder(ctx context.Context, userID, callID string) (Call, error) {
	c, err := e.loadForParticipant(ctx, userID, callID)
	if err != nil {
		return Call{}, err
	}
	if userID != c.ResponderID {
		return Call{}, fmt.Errorf("%w: only the responder can answer call %s", apperr.ErrForbidden, callID)
	}
	return c, nil
}

func (e *Engine) cas(ctx context.Context, next Call, prev State) error {
	err := e.store.CompareAndSwap(ctx, next, prev)
	if errors.Is(err, ErrStateChanged) {
		return fmt.Errorf("%w: call %s changed concurrently", apperr.ErrConflict, next.ID)
	}
	if err != nil {
		return err
	}
	e.observe(next.State)
	return nil
}

func (e *Engine) credential(c Call, userID string) *media.Credential {
	if e.media == nil {
		return nil
	}
	cred, err := e.media.Issue(media.RoomForCall(c.ID), userID, e.clock().UTC())
	if err != nil {
		e.log.Warn("media credential issue failed", "call_id", c.ID, "err", err)
		return nil
	}
	return &cred
}

func (e *Engine) publish(ctx context.Context, userID, callID string, body events.Body) {
	if e.pub == nil {
		return
	}
	err := e.pub.Publish(ctx, events.Event{Topic: events.UserTopic(userID), Body: body})
	if err != nil {
		e.log.Warn("call event publish failed", "call_id", callID, "user_id", userID, "err", err)
	}
}

func (e *Engine) notice(ctx context.Context, c Call, text string) {
	if e.convs == nil {
		return
	}
	conv, err := e.convs.Get(ctx, c.ConversationID)
	if err == nil {
		_, err = e.convs.AppendNotice(ctx, conv, conversation.NoticeCall, c.ID, text)
	}
	if err != nil {
		e.log.Warn("call notice failed", "call_id", c.ID, "err", err)
	}
}

func (e *Engine) observe(s State) {
	if e.observer != nil {
		e.observer.CallTransition(string(s))
	}
}
