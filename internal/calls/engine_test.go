package calls

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"liveconnect/internal/apperr"
	"liveconnect/internal/config"
	"liveconnect/internal/conversation"
	"liveconnect/internal/events"
	"liveconnect/internal/media"
)

// fakeTimers records scheduled callbacks; tests fire them explicitly.
// Fire runs the last callback scheduled for a key even if it was cancelled,
// to prove callbacks re-validate against the store.
type fakeTimers struct {
	mu        sync.Mutex
	fns       map[string]func()
	durations map[string]time.Duration
	armed     map[string]bool
}

func newFakeTimers() *fakeTimers {
	return &fakeTimers{fns: map[string]func(){}, durations: map[string]time.Duration{}, armed: map[string]bool{}}
}

func (f *fakeTimers) Schedule(key string, d time.Duration, fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fns[key] = fn
	f.durations[key] = d
	f.armed[key] = true
}

func (f *fakeTimers) Cancel(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.armed, key)
}

func (f *fakeTimers) Stop() {}

func (f *fakeTimers) Fire(key string) {
	f.mu.Lock()
	fn := f.fns[key]
	f.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (f *fakeTimers) Armed(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.armed[key]
}

type hookCalls struct {
	mu        sync.Mutex
	connected []string
	ended     []string
}

func (h *hookCalls) CallConnected(_ context.Context, c Call) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connected = append(h.connected, c.ID)
}

func (h *hookCalls) CallEnded(_ context.Context, c Call) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ended = append(h.ended, c.ID)
}

type fixture struct {
	engine *Engine
	store  *MemoryRepo
	convs  *conversation.MemoryRepo
	rec    *events.Recorder
	timers *fakeTimers
	hook   *hookCalls
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  NewMemoryRepo(),
		convs:  conversation.NewMemoryRepo(),
		rec:    &events.Recorder{},
		timers: newFakeTimers(),
		hook:   &hookCalls{},
		now:    time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
	f.convs.Put(conversation.Conversation{ID: "conv1", Kind: conversation.KindDirect, ParticipantIDs: []string{"alice", "bob"}})
	f.convs.Put(conversation.Conversation{ID: "group1", Kind: conversation.KindGroup, ParticipantIDs: []string{"alice", "bob", "carol"}})

	issuer, err := media.NewJWTIssuer(config.MediaConfig{APISecret: "media-secret", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	f.engine = NewEngine(Deps{
		Store:         f.store,
		Conversations: conversation.NewService(f.convs, f.rec, nil),
		Media:         issuer,
		Publisher:     f.rec,
		Timers:        f.timers,
		Sessions:      f.hook,
	}, Config{})
	f.engine.clock = func() time.Time { return f.now }
	return f
}

func (f *fixture) advance(d time.Duration) { f.now = f.now.Add(d) }

func (f *fixture) start(t *testing.T, userID, key string) StartResult {
	t.Helper()
	res, err := f.engine.Start(context.Background(), userID, StartRequest{ConversationID: "conv1", Medium: MediumVideo, IdempotencyKey: key})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	return res
}

func (f *fixture) eventsOf(typ events.Type, topic string) []events.Event {
	var out []events.Event
	for _, e := range f.rec.OfType(typ) {
		if e.Topic == topic {
			out = append(out, e)
		}
	}
	return out
}

func TestStart_RingsResponderAndCredentialsInitiator(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")

	if res.Call.State != StateInitiated || res.Call.ResponderID != "bob" {
		t.Fatalf("unexpected call %+v", res.Call)
	}
	if res.Credential == nil || res.Credential.Room != media.RoomForCall(res.Call.ID) {
		t.Fatalf("expected media credential for initiator, got %+v", res.Credential)
	}
	if len(res.Participants) != 2 {
		t.Fatalf("expected two participants")
	}

	if got := f.eventsOf(events.TypeCallRinging, "user:bob"); len(got) != 1 {
		t.Fatalf("expected CALL_RINGING to bob, got %d", len(got))
	}
	initiated := f.eventsOf(events.TypeCallInitiated, "user:alice")
	if len(initiated) != 1 || initiated[0].Body.(events.CallInitiated).Credential == nil {
		t.Fatalf("expected CALL_INITIATED with credential to alice")
	}
	if !f.timers.Armed(res.Call.ID) || f.timers.durations[res.Call.ID] != 60*time.Second {
		t.Fatalf("expected 60s ring timer")
	}
}

func TestStart_IdempotentReplay(t *testing.T) {
	f := newFixture(t)
	first := f.start(t, "alice", "k1")
	second := f.start(t, "alice", "k1")

	if first.Call.ID != second.Call.ID || !second.Replayed {
		t.Fatalf("expected replay of %s, got %+v", first.Call.ID, second)
	}
	if got := f.rec.OfType(events.TypeCallRinging); len(got) != 1 {
		t.Fatalf("replay must not publish again, got %d CALL_RINGING", len(got))
	}
}

func TestStart_SecondLiveCallConflicts(t *testing.T) {
	f := newFixture(t)
	f.start(t, "alice", "")

	_, err := f.engine.Start(context.Background(), "bob", StartRequest{ConversationID: "conv1"})
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestStart_ConcurrentStartsCreateOneCall(t *testing.T) {
	f := newFixture(t)

	var wg sync.WaitGroup
	results := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "alice"
			if i%2 == 1 {
				user = "bob"
			}
			_, err := f.engine.Start(context.Background(), user, StartRequest{ConversationID: "conv1"})
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	ok := 0
	for err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, apperr.ErrConflict):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if ok != 1 {
		t.Fatalf("expected exactly one successful start, got %d", ok)
	}
}

func TestStart_ReclaimsStaleInitiatedCall(t *testing.T) {
	f := newFixture(t)
	old := f.start(t, "alice", "")

	f.advance(61 * time.Second)
	fresh := f.start(t, "bob", "")

	if fresh.Call.ID == old.Call.ID {
		t.Fatalf("expected a new call")
	}
	reclaimed, _ := f.store.Get(context.Background(), old.Call.ID)
	if reclaimed.State != StateFailed || reclaimed.EndReason != EndReasonError {
		t.Fatalf("expected stale call failed/error, got %s/%s", reclaimed.State, reclaimed.EndReason)
	}
	if got := f.rec.OfType(events.TypeCallFailed); len(got) != 2 {
		t.Fatalf("expected CALL_FAILED to both participants, got %d", len(got))
	}
}

func TestStart_ReclaimsStaleAcceptedCall(t *testing.T) {
	f := newFixture(t)
	old := f.start(t, "alice", "")
	if _, _, err := f.engine.Accept(context.Background(), "bob", old.Call.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	f.advance(100 * time.Second)
	if _, err := f.engine.Start(context.Background(), "alice", StartRequest{ConversationID: "conv1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("accepted call is not stale yet, expected CONFLICT, got %v", err)
	}

	f.advance(21 * time.Second)
	f.start(t, "alice", "")
	reclaimed, _ := f.store.Get(context.Background(), old.Call.ID)
	if reclaimed.State != StateFailed {
		t.Fatalf("expected stale accepted call failed, got %s", reclaimed.State)
	}
}

func TestStart_NeverReclaimsConnectedCall(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")
	ctx := context.Background()
	_, _, _ = f.engine.Accept(ctx, "bob", res.Call.ID)
	if _, err := f.engine.MarkConnected(ctx, "alice", res.Call.ID); err != nil {
		t.Fatalf("connect: %v", err)
	}

	f.advance(3 * time.Hour)
	if _, err := f.engine.Start(ctx, "alice", StartRequest{ConversationID: "conv1"}); !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("expected CONFLICT for connected call, got %v", err)
	}

	long, err := f.engine.ListConnectedOlderThan(ctx, time.Hour)
	if err != nil || len(long) != 1 || long[0].ID != res.Call.ID {
		t.Fatalf("expected connected call listed for review, got %v %v", long, err)
	}
}

func TestStart_RejectsOutsidersAndGroups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if _, err := f.engine.Start(ctx, "mallory", StartRequest{ConversationID: "conv1"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND for non-member, got %v", err)
	}
	if _, err := f.engine.Start(ctx, "alice", StartRequest{ConversationID: "missing"}); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND for missing conversation, got %v", err)
	}
	if _, err := f.engine.Start(ctx, "alice", StartRequest{ConversationID: "group1"}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST for group, got %v", err)
	}
	if _, err := f.engine.Start(ctx, "alice", StartRequest{ConversationID: "conv1", Medium: "hologram"}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST for medium, got %v", err)
	}
}

func TestAccept_OnlyResponder(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")
	ctx := context.Background()

	if _, _, err := f.engine.Accept(ctx, "alice", res.Call.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for initiator accept, got %v", err)
	}
	if _, _, err := f.engine.Accept(ctx, "mallory", res.Call.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN for non-party, got %v", err)
	}
	if _, _, err := f.engine.Accept(ctx, "bob", "nope"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestScenario_RingAcceptConnectEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "alice", "")
	id := res.Call.ID

	accepted, cred, err := f.engine.Accept(ctx, "bob", id)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.State != StateAccepted || cred == nil || cred.Identity != "bob" {
		t.Fatalf("unexpected accept result %+v %+v", accepted, cred)
	}
	if f.timers.Armed(id) {
		t.Fatalf("ring timer must be cancelled on accept")
	}
	if got := f.eventsOf(events.TypeCallAccepted, "user:alice"); len(got) != 1 {
		t.Fatalf("expected CALL_ACCEPTED to alice")
	}

	if _, err := f.engine.MarkConnected(ctx, "alice", id); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := f.eventsOf(events.TypeCallConnected, "user:bob"); len(got) != 1 {
		t.Fatalf("expected CALL_CONNECTED to bob")
	}

	f.advance(192 * time.Second)
	ended, err := f.engine.End(ctx, "bob", id, "")
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.State != StateEnded || ended.DurationSeconds != 192 || ended.EndReason != EndReasonNormal {
		t.Fatalf("unexpected ended call %+v", ended)
	}
	if got := f.eventsOf(events.TypeCallEnded, "user:alice"); len(got) != 1 {
		t.Fatalf("expected CALL_ENDED to alice")
	}
	notices := f.convs.Notices()
	if len(notices) != 1 || notices[0].Text != "Call ended · 3m 12s" {
		t.Fatalf("unexpected notices %+v", notices)
	}
	if len(f.hook.connected) != 1 || len(f.hook.ended) != 1 {
		t.Fatalf("expected session hook calls, got %+v", f.hook)
	}

	// Ending again is idempotent and silent.
	again, err := f.engine.End(ctx, "alice", id, "")
	if err != nil || again.State != StateEnded || again.DurationSeconds != 192 {
		t.Fatalf("expected idempotent end, got %+v %v", again, err)
	}
	if got := f.rec.OfType(events.TypeCallEnded); len(got) != 1 {
		t.Fatalf("second end must not publish, got %d CALL_ENDED", len(got))
	}
}

func TestRingTimeout_MarksMissedAndNotifiesInitiatorOnly(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")
	f.rec.Reset()

	f.advance(60 * time.Second)
	f.timers.Fire(res.Call.ID)

	c, _ := f.store.Get(context.Background(), res.Call.ID)
	if c.State != StateMissed || c.EndReason != EndReasonTimeout {
		t.Fatalf("expected missed/timeout, got %s/%s", c.State, c.EndReason)
	}
	timeouts := f.rec.OfType(events.TypeCallTimeout)
	if len(timeouts) != 1 || timeouts[0].Topic != "user:alice" {
		t.Fatalf("expected one CALL_TIMEOUT to alice, got %+v", timeouts)
	}
	for _, e := range f.rec.Events() {
		if e.Topic == "user:bob" && e.Type() != events.TypeNewMessage {
			t.Fatalf("responder must not get a call event on timeout, got %s", e.Type())
		}
	}
	if n := f.convs.Notices(); len(n) != 1 || n[0].Text != "Missed video call" {
		t.Fatalf("unexpected notices %+v", n)
	}
}

func TestRingTimeout_AfterAcceptIsNoop(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")
	if _, _, err := f.engine.Accept(context.Background(), "bob", res.Call.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	f.timers.Fire(res.Call.ID)

	c, _ := f.store.Get(context.Background(), res.Call.ID)
	if c.State != StateAccepted {
		t.Fatalf("timer after accept must not change state, got %s", c.State)
	}
	if got := f.rec.OfType(events.TypeCallTimeout); len(got) != 0 {
		t.Fatalf("expected no CALL_TIMEOUT")
	}
}

func TestDecline_NotifiesInitiator(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")

	c, err := f.engine.Decline(context.Background(), "bob", res.Call.ID, "busy")
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if c.State != StateDeclined || c.DeclineReason != "busy" {
		t.Fatalf("unexpected call %+v", c)
	}
	declined := f.eventsOf(events.TypeCallDeclined, "user:alice")
	if len(declined) != 1 || declined[0].Body.(events.CallDeclined).Reason != "busy" {
		t.Fatalf("expected CALL_DECLINED with reason to alice")
	}

	if _, _, err := f.engine.Accept(context.Background(), "bob", res.Call.ID); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("terminal calls never transition again, got %v", err)
	}
}

func TestEnd_BeforeConnectHasZeroDuration(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")
	f.advance(10 * time.Second)

	c, err := f.engine.End(context.Background(), "alice", res.Call.ID, EndReasonNormal)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if c.DurationSeconds != 0 || c.State != StateEnded {
		t.Fatalf("unexpected call %+v", c)
	}
	if got := f.eventsOf(events.TypeCallEnded, "user:bob"); len(got) != 1 {
		t.Fatalf("expected CALL_ENDED to bob")
	}
	if len(f.hook.ended) != 0 {
		t.Fatalf("session hook must not fire for a call that never connected")
	}
	if _, err := f.engine.End(context.Background(), "alice", res.Call.ID, "whatever"); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST for unknown reason, got %v", err)
	}
}

func TestMarkConnected_NoopOutsideAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "alice", "")

	c, err := f.engine.MarkConnected(ctx, "alice", res.Call.ID)
	if err != nil || c.State != StateInitiated || c.ConnectedAt != nil {
		t.Fatalf("initiated: state=%s err=%v", c.State, err)
	}

	if _, err := f.engine.End(ctx, "alice", res.Call.ID, ""); err != nil {
		t.Fatalf("end: %v", err)
	}
	before := len(f.rec.OfType(events.TypeCallConnected))
	c, err = f.engine.MarkConnected(ctx, "bob", res.Call.ID)
	if err != nil || c.State != StateEnded {
		t.Fatalf("ended: state=%s err=%v", c.State, err)
	}
	if got := len(f.rec.OfType(events.TypeCallConnected)); got != before {
		t.Fatalf("late media signal published CALL_CONNECTED")
	}
	stored, _ := f.store.Get(ctx, res.Call.ID)
	if stored.State != StateEnded {
		t.Fatalf("stored state changed to %s", stored.State)
	}
}

func TestMarkConnected_FromAccepted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "alice", "")
	if _, _, err := f.engine.Accept(ctx, "bob", res.Call.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	c, err := f.engine.MarkConnected(ctx, "bob", res.Call.ID)
	if err != nil || c.State != StateConnected || c.ConnectedAt == nil {
		t.Fatalf("connect: state=%s err=%v", c.State, err)
	}
	again, err := f.engine.MarkConnected(ctx, "alice", res.Call.ID)
	if err != nil || !again.ConnectedAt.Equal(*c.ConnectedAt) {
		t.Fatalf("repeat: %+v %v", again, err)
	}
	if got := len(f.rec.OfType(events.TypeCallConnected)); got != 1 {
		t.Fatalf("expected one CALL_CONNECTED, got %d", got)
	}
}

func TestForceEnd_NotifiesBothParticipants(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	res := f.start(t, "alice", "")
	_, _, _ = f.engine.Accept(ctx, "bob", res.Call.ID)
	_, _ = f.engine.MarkConnected(ctx, "bob", res.Call.ID)

	c, err := f.engine.ForceEnd(ctx, res.Call.ID)
	if err != nil {
		t.Fatalf("force end: %v", err)
	}
	if c.EndReason != EndReasonError {
		t.Fatalf("expected error reason, got %s", c.EndReason)
	}
	if got := f.rec.OfType(events.TypeCallEnded); len(got) != 2 {
		t.Fatalf("expected CALL_ENDED to both, got %d", len(got))
	}
}

func TestPublishFailureDoesNotRollBack(t *testing.T) {
	f := newFixture(t)
	f.rec.Err = errors.New("bus down")

	res := f.start(t, "alice", "")
	c, err := f.store.Get(context.Background(), res.Call.ID)
	if err != nil || c.State != StateInitiated {
		t.Fatalf("call must be persisted despite publish failure: %+v %v", c, err)
	}
}

func TestCanJoin(t *testing.T) {
	f := newFixture(t)
	res := f.start(t, "alice", "")
	ctx := context.Background()

	if err := f.engine.CanJoin(ctx, "bob", res.Call.ID); err != nil {
		t.Fatalf("participant should join: %v", err)
	}
	if err := f.engine.CanJoin(ctx, "mallory", res.Call.ID); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	_, _ = f.engine.End(ctx, "alice", res.Call.ID, "")
	if err := f.engine.CanJoin(ctx, "bob", res.Call.ID); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Fatalf("expected INVALID_REQUEST for ended call, got %v", err)
	}
}
