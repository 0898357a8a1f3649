package ws

import (
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/webitel/change-relay/internal/domain/registry"
	"github.com/webitel/change-relay/internal/service"
)

type Config struct {
	WriteTimeout   time.Duration
	PingInterval   time.Duration
	PongTimeout    time.Duration
	ReadLimit      int64
	AllowedOrigins []string
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout <= c.PingInterval {
		c.PongTimeout = c.PingInterval * 2
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 4096
	}
	return c
}

type WSHandler struct {
	logger    *slog.Logger
	deliverer service.Deliverer
	upgrader  websocket.Upgrader
	cfg       Config
}

func NewWSHandler(logger *slog.Logger, deliverer service.Deliverer, cfg Config) *WSHandler {
	cfg = cfg.withDefaults()
	return &WSHandler{
		logger:    logger.With("component", "ws"),
		deliverer: deliverer,
		cfg:       cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin: originChecker(cfg.AllowedOrigins),
		},
	}
}

// originChecker allows every origin when the list is empty.
func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// 1. UPGRADE TO WEBSOCKET (the upgrader has already answered on failure)
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WS_UPGRADE_FAILED", "err", err, "remote", r.RemoteAddr)
		return
	}

	// 2. REGISTER WITH THE HUB
	conn := h.deliverer.Subscribe(registry.ConnectMetadata{
		Transport: "ws",
		RemoteIP:  r.RemoteAddr,
		UserAgent: r.UserAgent(),
	})
	meta := conn.Metadata()
	l := h.logger.With("conn_id", conn.GetID())
	l.Info("WS_OPENED", "remote", meta.RemoteIP, "user_agent", meta.UserAgent)

	// [EXACTLY_ONCE] client close, network error, and server shutdown all converge here.
	release := sync.OnceFunc(func() {
		h.deliverer.Unsubscribe(conn)
		_ = ws.Close()
		l.Info("WS_CLOSED", "dropped", conn.Dropped())
	})
	defer release()

	go h.readPump(ws, release, l)
	h.writePump(ws, conn, l)
}

// readPump only exists to observe pongs and the peer's close; no client messages are defined.
func (h *WSHandler) readPump(ws *websocket.Conn, release func(), l *slog.Logger) {
	defer release()

	ws.SetReadLimit(h.cfg.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.cfg.PongTimeout))
	})

	for {
		if _, _, err := ws.NextReader(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.Debug("WS_READ_ENDED", "err", err)
			}
			return
		}
	}
}

// writePump is the single writer for ws. It drains the connection mailbox and sends heartbeats.
func (h *WSHandler) writePump(ws *websocket.Conn, conn registry.Connector, l *slog.Logger) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.Done():
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closing"),
				time.Now().Add(h.cfg.WriteTimeout))
			return

		case frame := <-conn.Recv():
			// a frame that slipped in while closing is dropped
			if conn.State() != registry.StateOpen {
				continue
			}
			_ = ws.SetWriteDeadline(time.Now().Add(h.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				l.Warn("WS_SEND_FAILED", "err", err)
				return
			}

		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.WriteTimeout)); err != nil {
				l.Debug("WS_PING_FAILED", "err", err)
				return
			}
		}
	}
}
