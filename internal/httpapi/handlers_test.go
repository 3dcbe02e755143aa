package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"liveconnect/internal/apperr"
	"liveconnect/internal/audit"
	"liveconnect/internal/auth"
	"liveconnect/internal/calls"
	"liveconnect/internal/config"
	"liveconnect/internal/conversation"
	"liveconnect/internal/events"
	"liveconnect/internal/media"
	"liveconnect/internal/presence"
	"liveconnect/internal/pricing"
	"liveconnect/internal/profiles"
	"liveconnect/internal/rbac"
	"liveconnect/internal/reporting"
	"liveconnect/internal/sessions"

	"github.com/gin-gonic/gin"
)

type testAPI struct {
	router  *gin.Engine
	tracker *presence.MemoryTracker
	rec     *events.Recorder
	audit   *audit.MemoryRepo
}

// identity stands in for RequireAccessToken: X-User and X-Role headers become the caller.
func identity(c *gin.Context) {
	uid := c.GetHeader("X-User")
	if uid == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}
	role := c.GetHeader("X-Role")
	if role == "" {
		role = rbac.RoleMember
	}
	c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), uid, role))
	c.Set("user_id", uid)
	c.Set("role", role)
	c.Next()
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	rec := &events.Recorder{}
	convRepo := conversation.NewMemoryRepo()
	convRepo.Put(conversation.Conversation{ID: "conv1", Kind: conversation.KindDirect, ParticipantIDs: []string{"alice", "bob"}})
	convs := conversation.NewService(convRepo, rec, nil)

	issuer, err := media.NewJWTIssuer(config.MediaConfig{APISecret: "media-secret", TokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	callStore := calls.NewMemoryRepo()
	engine := calls.NewEngine(calls.Deps{
		Store:         callStore,
		Conversations: convs,
		Media:         issuer,
		Publisher:     rec,
	}, calls.Config{})
	t.Cleanup(engine.Close)

	tracker := presence.NewMemoryTracker(0)
	pres := presence.NewService(tracker, rec, nil)
	sess := sessions.NewService(sessions.Deps{
		Store: sessions.NewMemoryRepo(),
		Profiles: profiles.NewMemoryRepo(
			profiles.Profile{ID: "host", DisplayName: "Host", RatePerMinuteMinor: 250, Currency: "USD"},
			profiles.Profile{ID: "guest", DisplayName: "Guest"},
		),
		Presence:      pres,
		Conversations: convs,
		Pricing:       pricing.NewService(nil),
		Publisher:     rec,
	}, sessions.Config{})
	engine.SetSessionHook(sess)

	auditRepo := audit.NewMemoryRepo()
	h := Handlers{Calls: engine, Sessions: sess, Presence: pres, Reporting: reporting.NewService(callStore), Audit: audit.NewService(auditRepo)}

	r := gin.New()
	r.GET("/healthz", h.Healthz)
	v1 := r.Group("/v1", identity)
	v1.POST("/calls", h.StartCall)
	v1.GET("/calls/summary", h.CallsSummary)
	v1.GET("/calls/:call_id", h.GetCall)
	v1.POST("/calls/:call_id/accept", h.AcceptCall)
	v1.POST("/calls/:call_id/decline", h.DeclineCall)
	v1.POST("/calls/:call_id/end", h.EndCall)
	v1.POST("/calls/:call_id/connected", h.MarkCallConnected)
	v1.POST("/sessions/connect", h.ConnectNow)
	v1.GET("/sessions/:session_id", h.GetSession)
	v1.POST("/sessions/:session_id/complete", h.CompleteSession)
	v1.GET("/presence/:user_id", h.GetPresence)
	admin := v1.Group("/admin", rbac.RequireAnyRole(rbac.RoleAdmin))
	admin.GET("/calls/connected", h.ListLongRunningCalls)
	admin.POST("/calls/:call_id/force-end", h.ForceEndCall)
	admin.GET("/calls/:call_id/audit", h.CallAuditHistory)

	return &testAPI{router: r, tracker: tracker, rec: rec, audit: auditRepo}
}

type response struct {
	Code int
	Body map[string]any
}

func (a *testAPI) do(t *testing.T, method, path, user, role string, body any) response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-User", user)
	}
	if role != "" {
		req.Header.Set("X-Role", role)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	out := response{Code: w.Code, Body: map[string]any{}}
	if w.Body.Len() > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out.Body); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, w.Body.String())
		}
	}
	return out
}

func callField(t *testing.T, r response, field string) any {
	t.Helper()
	call, ok := r.Body["call"].(map[string]any)
	if !ok {
		t.Fatalf("response has no call: %+v", r.Body)
	}
	return call[field]
}

func TestCalls_FullLifecycleOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	start := a.do(t, http.MethodPost, "/v1/calls", "alice", "", map[string]any{"conversation_id": "conv1", "medium": "audio"})
	if start.Code != http.StatusCreated {
		t.Fatalf("start status = %d body=%v", start.Code, start.Body)
	}
	callID, _ := callField(t, start, "id").(string)
	if callID == "" || callField(t, start, "state") != "initiated" {
		t.Fatalf("unexpected start body %v", start.Body)
	}
	if start.Body["media_credential"] == nil {
		t.Fatalf("initiator should receive a media credential")
	}

	if r := a.do(t, http.MethodPost, "/v1/calls", "bob", "", map[string]any{"conversation_id": "conv1"}); r.Code != http.StatusConflict || r.Body["code"] != apperr.CodeConflict {
		t.Fatalf("second live call: status=%d body=%v", r.Code, r.Body)
	}
	if r := a.do(t, http.MethodGet, "/v1/calls/"+callID, "carol", "", nil); r.Code != http.StatusForbidden {
		t.Fatalf("outsider get status = %d", r.Code)
	}
	if r := a.do(t, http.MethodPost, "/v1/calls/"+callID+"/accept", "alice", "", nil); r.Code != http.StatusForbidden {
		t.Fatalf("initiator accept status = %d", r.Code)
	}

	acc := a.do(t, http.MethodPost, "/v1/calls/"+callID+"/accept", "bob", "", nil)
	if acc.Code != http.StatusOK || callField(t, acc, "state") != "accepted" || acc.Body["media_credential"] == nil {
		t.Fatalf("accept: status=%d body=%v", acc.Code, acc.Body)
	}
	if r := a.do(t, http.MethodPost, "/v1/calls/"+callID+"/connected", "alice", "", nil); r.Code != http.StatusOK || callField(t, r, "state") != "connected" {
		t.Fatalf("connected: status=%d body=%v", r.Code, r.Body)
	}

	end := a.do(t, http.MethodPost, "/v1/calls/"+callID+"/end", "bob", "", nil)
	if end.Code != http.StatusOK || callField(t, end, "state") != "ended" || callField(t, end, "end_reason") != "normal" {
		t.Fatalf("end: status=%d body=%v", end.Code, end.Body)
	}

	sum := a.do(t, http.MethodGet, "/v1/calls/summary", "alice", "", nil)
	if sum.Code != http.StatusOK {
		t.Fatalf("summary status = %d body=%v", sum.Code, sum.Body)
	}
	if sum.Body["total_calls"] != float64(1) || sum.Body["ended_calls"] != float64(1) || sum.Body["audio_calls"] != float64(1) {
		t.Fatalf("unexpected summary %v", sum.Body)
	}
}

func TestCalls_IdempotentStartReplays(t *testing.T) {
	a := newTestAPI(t)
	body := map[string]any{"conversation_id": "conv1"}

	req := func() response {
		var buf bytes.Buffer
		_ = json.NewEncoder(&buf).Encode(body)
		r := httptest.NewRequest(http.MethodPost, "/v1/calls", &buf)
		r.Header.Set("X-User", "alice")
		r.Header.Set("Idempotency-Key", "k-1")
		w := httptest.NewRecorder()
		a.router.ServeHTTP(w, r)
		out := response{Code: w.Code, Body: map[string]any{}}
		_ = json.Unmarshal(w.Body.Bytes(), &out.Body)
		return out
	}

	first := req()
	second := req()
	if first.Code != http.StatusCreated || second.Code != http.StatusOK {
		t.Fatalf("statuses = %d, %d", first.Code, second.Code)
	}
	if callField(t, first, "id") != callField(t, second, "id") || second.Body["replayed"] != true {
		t.Fatalf("replay should return the same call: %v vs %v", first.Body, second.Body)
	}
}

func TestCalls_BadInput(t *testing.T) {
	a := newTestAPI(t)

	if r := a.do(t, http.MethodPost, "/v1/calls", "alice", "", "{not json"); r.Code != http.StatusBadRequest || r.Body["code"] != apperr.CodeInvalidRequest {
		t.Fatalf("bad json: status=%d body=%v", r.Code, r.Body)
	}
	if r := a.do(t, http.MethodPost, "/v1/calls", "alice", "", map[string]any{"conversation_id": "conv1", "medium": "fax"}); r.Code != http.StatusBadRequest {
		t.Fatalf("bad medium status = %d", r.Code)
	}
	if r := a.do(t, http.MethodPost, "/v1/calls", "alice", "", map[string]any{"conversation_id": "nope"}); r.Code != http.StatusNotFound {
		t.Fatalf("unknown conversation status = %d", r.Code)
	}
	if r := a.do(t, http.MethodGet, "/v1/calls/summary?from=yesterday", "alice", "", nil); r.Code != http.StatusBadRequest {
		t.Fatalf("bad from status = %d", r.Code)
	}
	if r := a.do(t, http.MethodGet, "/v1/calls/missing", "", "", nil); r.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous status = %d", r.Code)
	}
}

func TestSessions_ConnectNowOverHTTP(t *testing.T) {
	a := newTestAPI(t)

	off := a.do(t, http.MethodPost, "/v1/sessions/connect", "guest", "", map[string]any{"target_user_id": "host"})
	if off.Code != http.StatusUnprocessableEntity || off.Body["code"] != apperr.CodeTargetOffline {
		t.Fatalf("offline: status=%d body=%v", off.Code, off.Body)
	}

	a.tracker.SetOnline("host", true)
	created := a.do(t, http.MethodPost, "/v1/sessions/connect", "guest", "", map[string]any{"target_user_id": "host"})
	if created.Code != http.StatusCreated || created.Body["outcome"] != "create" {
		t.Fatalf("create: status=%d body=%v", created.Code, created.Body)
	}
	sess, _ := created.Body["session"].(map[string]any)
	sessionID, _ := sess["id"].(string)
	if sessionID == "" {
		t.Fatalf("no session id in %v", created.Body)
	}

	reused := a.do(t, http.MethodPost, "/v1/sessions/connect", "guest", "", map[string]any{"target_user_id": "host"})
	if reused.Code != http.StatusOK || reused.Body["outcome"] != "reuse" {
		t.Fatalf("reuse: status=%d body=%v", reused.Code, reused.Body)
	}

	if r := a.do(t, http.MethodGet, "/v1/sessions/"+sessionID, "stranger", "", nil); r.Code != http.StatusForbidden {
		t.Fatalf("stranger get status = %d", r.Code)
	}
	done := a.do(t, http.MethodPost, "/v1/sessions/"+sessionID+"/complete", "host", "", nil)
	if done.Code != http.StatusOK {
		t.Fatalf("complete status = %d body=%v", done.Code, done.Body)
	}
	if s, _ := done.Body["session"].(map[string]any); s["status"] != "complete" {
		t.Fatalf("unexpected session after complete: %v", done.Body)
	}

	if r := a.do(t, http.MethodPost, "/v1/sessions/connect", "guest", "", map[string]any{"target_user_id": "guest"}); r.Code != http.StatusBadRequest {
		t.Fatalf("self connect status = %d", r.Code)
	}
}

func TestPresence_ReportsOnlineFlag(t *testing.T) {
	a := newTestAPI(t)
	a.tracker.SetOnline("bob", true)

	if r := a.do(t, http.MethodGet, "/v1/presence/bob", "alice", "", nil); r.Code != http.StatusOK || r.Body["online"] != true {
		t.Fatalf("bob: status=%d body=%v", r.Code, r.Body)
	}
	if r := a.do(t, http.MethodGet, "/v1/presence/carol", "alice", "", nil); r.Body["online"] != false {
		t.Fatalf("carol should be offline: %v", r.Body)
	}
}

func TestAdmin_ForceEndRequiresAdmin(t *testing.T) {
	a := newTestAPI(t)
	start := a.do(t, http.MethodPost, "/v1/calls", "alice", "", map[string]any{"conversation_id": "conv1"})
	callID, _ := callField(t, start, "id").(string)

	if r := a.do(t, http.MethodPost, "/v1/admin/calls/"+callID+"/force-end", "alice", rbac.RoleMember, nil); r.Code != http.StatusForbidden {
		t.Fatalf("member force-end status = %d", r.Code)
	}

	r := a.do(t, http.MethodPost, "/v1/admin/calls/"+callID+"/force-end", "ops", rbac.RoleAdmin, map[string]any{"note": "stuck"})
	if r.Code != http.StatusOK || callField(t, r, "state") != "ended" || callField(t, r, "end_reason") != "error" {
		t.Fatalf("admin force-end: status=%d body=%v", r.Code, r.Body)
	}
	if got := len(a.rec.OfType(events.TypeCallEnded)); got != 2 {
		t.Fatalf("force-end should notify both participants, got %d events", got)
	}
	evs := a.audit.Events()
	if len(evs) != 1 || evs[0].ActorUserID != "ops" || evs[0].CallID != callID || evs[0].Message != "stuck" {
		t.Fatalf("unexpected audit trail %+v", evs)
	}
	hist := a.do(t, http.MethodGet, "/v1/admin/calls/"+callID+"/audit", "ops", rbac.RoleAdmin, nil)
	if list, ok := hist.Body["events"].([]any); hist.Code != http.StatusOK || !ok || len(list) != 1 {
		t.Fatalf("audit history: status=%d body=%v", hist.Code, hist.Body)
	}
	if r := a.do(t, http.MethodGet, "/v1/admin/calls/"+callID+"/audit", "alice", rbac.RoleMember, nil); r.Code != http.StatusForbidden {
		t.Fatalf("member audit history status = %d", r.Code)
	}

	if r := a.do(t, http.MethodGet, "/v1/admin/calls/connected?older_than=soon", "ops", rbac.RoleAdmin, nil); r.Code != http.StatusBadRequest {
		t.Fatalf("bad older_than status = %d", r.Code)
	}
	list := a.do(t, http.MethodGet, "/v1/admin/calls/connected?older_than=1h", "ops", rbac.RoleAdmin, nil)
	if calls, ok := list.Body["calls"].([]any); list.Code != http.StatusOK || !ok || len(calls) != 0 {
		t.Fatalf("list: status=%d body=%v", list.Code, list.Body)
	}
}

func TestHealthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := Handlers{Health: func(ctx context.Context) error { return errors.New("db down") }}
	r := gin.New()
	r.GET("/healthz", h.Healthz)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		apperr.ErrNotFound:                       http.StatusNotFound,
		fmt.Errorf("x: %w", apperr.ErrForbidden): http.StatusForbidden,
		apperr.ErrInvalidRequest:                 http.StatusBadRequest,
		apperr.ErrConflict:                       http.StatusConflict,
		apperr.ErrTargetBusy:                     http.StatusConflict,
		apperr.ErrRequesterBusy:                  http.StatusConflict,
		apperr.ErrTargetOffline:                  http.StatusUnprocessableEntity,
		apperr.ErrRequestRequired:                http.StatusUnprocessableEntity,
		errors.New("connection reset"):           http.StatusInternalServerError,
	}
	for err, want := range cases {
		if got := StatusFor(err); got != want {
			t.Fatalf("StatusFor(%v) = %d, want %d", err, got, want)
		}
	}
}
