package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"liveconnect/internal/apperr"
	"liveconnect/internal/auth"
	"liveconnect/internal/config"
	"liveconnect/internal/events"
	"liveconnect/internal/presence"
)

// CallAccess decides whether a user may join a call topic.
type CallAccess interface {
	CanJoin(ctx context.Context, userID, callID string) error
}

// Presence is told about connection open/close and heartbeats.
type Presence interface {
	Connected(ctx context.Context, userID string) error
	Disconnected(ctx context.Context, userID string)
	Heartbeat(ctx context.Context, userID string)
}

// Handler upgrades authenticated requests to websockets and serves the client protocol.
// Identity comes from the auth middleware; the socket itself is never trusted for it.
type Handler struct {
	reg      *Registry
	pub      events.Publisher
	calls    CallAccess
	presence Presence
	cfg      config.RealtimeConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

func NewHandler(reg *Registry, pub events.Publisher, calls CallAccess, p Presence, cfg config.RealtimeConfig, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	h := &Handler{reg: reg, pub: pub, calls: calls, presence: p, cfg: cfg, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     h.originAllowed,
	}
	return h
}

func (h *Handler) originAllowed(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		allowed = strings.TrimSpace(allowed)
		if allowed == "*" || strings.EqualFold(allowed, origin) || strings.EqualFold(allowed, u.Host) {
			return true
		}
	}
	return false
}

// Serve is the gin handler for GET /v1/ws.
func (h *Handler) Serve(c *gin.Context) {
	userID, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing identity"})
		return
	}

	if h.presence != nil {
		if err := h.presence.Connected(c.Request.Context(), userID); err != nil {
			if errors.Is(err, presence.ErrTooManyConnections) {
				c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many open connections"})
				return
			}
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "presence unavailable"})
			return
		}
	}

	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader already wrote the HTTP error.
		h.disconnected(userID)
		return
	}

	conn := NewConn(userID, h.cfg.SendBuffer, ws)
	h.reg.Subscribe(conn, events.UserTopic(userID))
	h.reg.Subscribe(conn, events.StatusTopic)

	log := h.log.With("conn_id", conn.ID(), "user_id", userID)
	log.Info("websocket connected")

	go h.writeLoop(ws, conn, log)
	h.readLoop(ws, conn, log)

	h.reg.Remove(conn)
	conn.Close()
	h.disconnected(userID)
	log.Info("websocket closed")
}

func (h *Handler) disconnected(userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.presence.Disconnected(ctx, userID)
}

func (h *Handler) readLoop(ws *websocket.Conn, conn *Conn, log *slog.Logger) {
	if h.cfg.ReadLimit > 0 {
		ws.SetReadLimit(h.cfg.ReadLimit)
	}
	pongWait := 2 * h.cfg.PingInterval
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		h.heartbeat(conn.UserID())
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !conn.Closed() {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		if typ != websocket.TextMessage {
			conn.Enqueue(encodeError("", invalidFrame("binary frames are not supported")))
			continue
		}
		h.handleFrame(conn, data, log)
	}
}

func (h *Handler) writeLoop(ws *websocket.Conn, conn *Conn, log *slog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.WriteTimeout))
			return
		case data := <-conn.Send():
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug("websocket write failed", "err", err)
				conn.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func (h *Handler) heartbeat(userID string) {
	if h.presence == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	h.presence.Heartbeat(ctx, userID)
}

func (h *Handler) handleFrame(conn *Conn, data []byte, log *slog.Logger) {
	frame, err := DecodeClientFrame(data)
	if err != nil {
		conn.Enqueue(encodeError("", err))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch f := frame.(type) {
	case JoinFrame:
		_, callID, _ := events.ParseTopic(f.Topic)
		if h.calls == nil {
			conn.Enqueue(encodeError(f.ID, fmt.Errorf("%w: calls unavailable", apperr.ErrForbidden)))
			return
		}
		if err := h.calls.CanJoin(ctx, conn.UserID(), callID); err != nil {
			conn.Enqueue(encodeError(f.ID, err))
			return
		}
		h.reg.Subscribe(conn, f.Topic)
		conn.Enqueue(encodeAck(FrameAck, f.ID, f.Topic))

	case LeaveFrame:
		if f.Topic == events.UserTopic(conn.UserID()) {
			conn.Enqueue(encodeError(f.ID, invalidFrame("cannot leave your own topic")))
			return
		}
		h.reg.Unsubscribe(conn, f.Topic)
		conn.Enqueue(encodeAck(FrameAck, f.ID, f.Topic))

	case SignalFrame:
		topic := events.CallTopic(f.CallID)
		if !h.reg.IsSubscribed(conn, topic) {
			conn.Enqueue(encodeError(f.ID, fmt.Errorf("%w: join %s before signaling", apperr.ErrForbidden, topic)))
			return
		}
		err := h.pub.Publish(ctx, events.Event{
			Topic:    topic,
			SenderID: conn.UserID(),
			Body:     events.Signal{CallID: f.CallID, From: conn.UserID(), Data: f.Data},
		})
		if err != nil {
			log.Warn("signal publish failed", "call_id", f.CallID, "err", err)
			conn.Enqueue(encodeError(f.ID, err))
			return
		}
		conn.Enqueue(encodeAck(FrameAck, f.ID, topic))

	case PingFrame:
		if h.presence != nil {
			h.presence.Heartbeat(ctx, conn.UserID())
		}
		conn.Enqueue(encodeAck(FramePong, f.ID, ""))
	}
}
