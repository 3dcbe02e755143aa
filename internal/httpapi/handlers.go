package httpapi

import (
	"context"
	"net/http"
	"time"

	"liveconnect/internal/audit"
	"liveconnect/internal/auth"
	"liveconnect/internal/calls"
	"liveconnect/internal/presence"
	"liveconnect/internal/reporting"
	"liveconnect/internal/sessions"
	"liveconnect/pkg/logger"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Calls     *calls.Engine
	Sessions  *sessions.Service
	Presence  *presence.Service
	Reporting *reporting.Service
	Audit     *audit.Service

	// Health reports backing store readiness. Nil means always healthy.
	Health func(ctx context.Context) error
}

func (h Handlers) Healthz(c *gin.Context) {
	if h.Health != nil {
		if err := h.Health(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// --- Calls ---

func (h Handlers) StartCall(c *gin.Context) {
	var req calls.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid json")
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = c.GetHeader("Idempotency-Key")
	}
	res, err := h.Calls.Start(c.Request.Context(), auth.CurrentUser(c), req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	c.JSON(status, res)
}

func (h Handlers) GetCall(c *gin.Context) {
	call, err := h.Calls.Get(c.Request.Context(), auth.CurrentUser(c), c.Param("call_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h Handlers) AcceptCall(c *gin.Context) {
	call, cred, err := h.Calls.Accept(c.Request.Context(), auth.CurrentUser(c), c.Param("call_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call, "media_credential": cred})
}

type declineRequest struct {
	Reason string `json:"reason"`
}

func (h Handlers) DeclineCall(c *gin.Context) {
	var req declineRequest
	// Body is optional.
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortInvalid(c, "invalid json")
			return
		}
	}
	call, err := h.Calls.Decline(c.Request.Context(), auth.CurrentUser(c), c.Param("call_id"), req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

type endRequest struct {
	Reason calls.EndReason `json:"reason"`
}

func (h Handlers) EndCall(c *gin.Context) {
	var req endRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortInvalid(c, "invalid json")
			return
		}
	}
	call, err := h.Calls.End(c.Request.Context(), auth.CurrentUser(c), c.Param("call_id"), req.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

func (h Handlers) MarkCallConnected(c *gin.Context) {
	call, err := h.Calls.MarkConnected(c.Request.Context(), auth.CurrentUser(c), c.Param("call_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

// CallsSummary aggregates the caller's own call history over [from, to).
// Both bounds are RFC 3339; the default window is the last 30 days.
func (h Handlers) CallsSummary(c *gin.Context) {
	to := time.Now().UTC()
	from := to.Add(-30 * 24 * time.Hour)
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			abortInvalid(c, "from must be RFC 3339")
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			abortInvalid(c, "to must be RFC 3339")
			return
		}
	}

	out, err := h.Reporting.CallsSummary(c.Request.Context(), reporting.CallsSummaryRequest{
		UserID: auth.CurrentUser(c),
		Range:  reporting.TimeRange{From: from, To: to},
	})
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// --- Sessions ---

type connectRequest struct {
	TargetUserID string `json:"target_user_id"`
}

func (h Handlers) ConnectNow(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortInvalid(c, "invalid json")
		return
	}
	res, err := h.Sessions.ConnectNow(c.Request.Context(), auth.CurrentUser(c), req.TargetUserID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	status := http.StatusOK
	if res.Outcome == sessions.OutcomeCreate {
		status = http.StatusCreated
	}
	c.JSON(status, res)
}

func (h Handlers) GetSession(c *gin.Context) {
	s, err := h.Sessions.Get(c.Request.Context(), auth.CurrentUser(c), c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

func (h Handlers) CompleteSession(c *gin.Context) {
	s, err := h.Sessions.Complete(c.Request.Context(), auth.CurrentUser(c), c.Param("session_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": s})
}

// --- Presence ---

func (h Handlers) GetPresence(c *gin.Context) {
	userID := c.Param("user_id")
	online, err := h.Presence.IsOnline(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"user_id": userID, "online": online})
}

// --- Admin ---

// ListLongRunningCalls lists connected calls older than ?older_than (Go duration, default 2h).
// RBAC: admin.
func (h Handlers) ListLongRunningCalls(c *gin.Context) {
	olderThan := 2 * time.Hour
	if v := c.Query("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			abortInvalid(c, "older_than must be a duration such as 90m")
			return
		}
		olderThan = d
	}
	list, err := h.Calls.ListConnectedOlderThan(c.Request.Context(), olderThan)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": list, "older_than": olderThan.String()})
}

type forceEndRequest struct {
	Note string `json:"note"`
}

// ForceEndCall ends a call with reason "error", notifies both participants and records an
// audit event. RBAC: admin.
func (h Handlers) ForceEndCall(c *gin.Context) {
	var req forceEndRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abortInvalid(c, "invalid json")
			return
		}
	}
	call, err := h.Calls.ForceEnd(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	log := logger.FromGin(c)
	adminID := auth.CurrentUser(c)
	log.Info("call force-ended", "call_id", call.ID, "admin_id", adminID)
	if h.Audit != nil {
		role, _ := auth.Role(c.Request.Context())
		if err := h.Audit.LogCallForceEnded(c.Request.Context(), adminID, role, c.ClientIP(), call.ID, req.Note); err != nil {
			log.Warn("audit append failed", "call_id", call.ID, "err", err)
		}
	}
	c.JSON(http.StatusOK, gin.H{"call": call})
}

// CallAuditHistory lists admin actions recorded against a call. RBAC: admin.
func (h Handlers) CallAuditHistory(c *gin.Context) {
	list, err := h.Audit.CallHistory(c.Request.Context(), c.Param("call_id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if list == nil {
		list = []audit.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": list})
}
