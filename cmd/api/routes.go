package main

import (
	"context"

	"liveconnect/internal/audit"
	"liveconnect/internal/auth"
	"liveconnect/internal/calls"
	"liveconnect/internal/config"
	"liveconnect/internal/httpapi"
	"liveconnect/internal/metrics"
	"liveconnect/internal/presence"
	"liveconnect/internal/ratelimit"
	"liveconnect/internal/rbac"
	"liveconnect/internal/realtime"
	"liveconnect/internal/reporting"
	"liveconnect/internal/sessions"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// app is everything the routes need; main builds it.
type app struct {
	cfg       config.Config
	auth      gin.HandlerFunc
	engine    *calls.Engine
	sessions  *sessions.Service
	presence  *presence.Service
	reporting *reporting.Service
	audit     *audit.Service
	ws        *realtime.Handler
	metrics   *prometheus.Registry
	health    func(ctx context.Context) error

	registry   *realtime.Registry
	dispatcher *realtime.Dispatcher
}

// registerRoutes wires HTTP routes to handlers and returns the limiter so main can stop it.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, a *app) *ratelimit.Limiter {
	h := httpapi.Handlers{
		Calls:     a.engine,
		Sessions:  a.sessions,
		Presence:  a.presence,
		Reporting: a.reporting,
		Audit:     a.audit,
		Health:    a.health,
	}
	limiter := ratelimit.New(ratelimit.Config{
		Rate:  rate.Limit(a.cfg.RateLimit.PerSecond),
		Burst: a.cfg.RateLimit.Burst,
	})

	// public
	r.GET("/healthz", h.Healthz)
	r.GET("/metrics", metrics.Handler(a.metrics))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(a.auth)
	{
		v1.GET("/ws", a.ws.Serve)

		v1.GET("/me", func(c *gin.Context) {
			uid, _ := auth.UserID(c.Request.Context())
			role, _ := auth.Role(c.Request.Context())
			c.JSON(200, gin.H{"user_id": uid, "role": role})
		})

		// CALLS routes
		callsGroup := v1.Group("/calls")
		callsGroup.Use(rbac.RequireAnyRole(rbac.RoleMember))
		{
			callsGroup.POST("", limiter.PerUser(), h.StartCall)
			callsGroup.GET("/summary", h.CallsSummary)
			callsGroup.GET("/:call_id", h.GetCall)
			callsGroup.POST("/:call_id/accept", h.AcceptCall)
			callsGroup.POST("/:call_id/decline", h.DeclineCall)
			callsGroup.POST("/:call_id/end", h.EndCall)
			callsGroup.POST("/:call_id/connected", h.MarkCallConnected)
		}

		// SESSIONS routes
		sessionsGroup := v1.Group("/sessions")
		sessionsGroup.Use(rbac.RequireAnyRole(rbac.RoleMember))
		{
			sessionsGroup.POST("/connect", limiter.PerUser(), h.ConnectNow)
			sessionsGroup.GET("/:session_id", h.GetSession)
			sessionsGroup.POST("/:session_id/complete", h.CompleteSession)
		}

		v1.GET("/presence/:user_id", h.GetPresence)

		// ADMIN routes
		// Only admin can access admin endpoints. The hidden system role is not included.
		admin := v1.Group("/admin")
		admin.Use(rbac.RequireAnyRole(rbac.RoleAdmin))
		{
			admin.GET("/calls/connected", h.ListLongRunningCalls)
			admin.POST("/calls/:call_id/force-end", h.ForceEndCall)
			admin.GET("/calls/:call_id/audit", h.CallAuditHistory)
		}
	}
	return limiter
}
