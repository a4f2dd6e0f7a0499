package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/lalith-99/agenda/internal/middleware"
	"github.com/lalith-99/agenda/internal/session"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// SessionHandler exposes the caller's session state, once or as a stream.
type SessionHandler struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewSessionHandler accepts WebSocket upgrades from allowedOrigins only.
// An empty list allows same-origin requests, gorilla's default.
func NewSessionHandler(allowedOrigins []string, logger *zap.Logger) *SessionHandler {
	h := &SessionHandler{logger: logger}
	if len(allowedOrigins) > 0 {
		allowed := make(map[string]bool, len(allowedOrigins))
		for _, o := range allowedOrigins {
			allowed[o] = true
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowed[origin]
		}
	}
	return h
}

// Get handles GET /v1/session
func (h *SessionHandler) Get(c *gin.Context) {
	store := middleware.GetSession(c)
	if store == nil {
		c.JSON(http.StatusOK, session.State{Status: session.StatusUnauthenticated})
		return
	}
	c.JSON(http.StatusOK, store.State())
}

// Events handles GET /v1/session/events
//
// The current state is sent on connect, then every state change until the
// client disconnects or the session signs out.
func (h *SessionHandler) Events(c *gin.Context) {
	store := middleware.GetSession(c)
	if store == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// The subscriber must not block dispatch. A client whose buffer fills
	// up is disconnected.
	updates := make(chan session.State, 16)
	overflow := make(chan struct{})
	var overflowed bool
	cancel := store.Subscribe(func(s session.State) {
		select {
		case updates <- s:
		default:
			if !overflowed {
				overflowed = true
				close(overflow)
			}
		}
	})
	defer cancel()

	closed := make(chan struct{})
	go h.readPump(conn, closed)

	if err := h.write(conn, store.State()); err != nil {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case s := <-updates:
			if err := h.write(conn, s); err != nil {
				return
			}
			if s.Status == session.StatusUnauthenticated {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "signed out"),
					time.Now().Add(writeWait))
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-overflow:
			h.logger.Info("closing lagging session stream", zap.String("session_id", store.ID().String()))
			return
		case <-closed:
			return
		}
	}
}

func (h *SessionHandler) write(conn *websocket.Conn, s session.State) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(s)
}

// readPump drains client frames so control frames are processed, and
// closes done when the connection ends.
func (h *SessionHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
