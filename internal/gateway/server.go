package gateway

import (
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handler upgrades HTTP requests and serves the protocol over gorilla/websocket.
type Handler struct {
	opts     Options
	upgrader websocket.Upgrader

	connections atomic.Int64
	active      atomic.Int64
}

// NewHandler returns a Handler serving opts.
func NewHandler(opts Options) *Handler {
	return &Handler{
		opts: opts.withDefaults(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Connections returns how many connections were accepted so far.
func (h *Handler) Connections() int64 {
	return h.connections.Load()
}

// Active returns how many connections are currently open.
func (h *Handler) Active() int64 {
	return h.active.Load()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.opts.Logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	h.connections.Add(1)
	h.active.Add(1)
	defer h.active.Add(-1)
	defer conn.Close()

	s := newSession(h.opts)
	if err := conn.WriteMessage(websocket.TextMessage, s.hello()); err != nil {
		return
	}

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		replies, hangUp := s.handle(data)
		for _, reply := range replies {
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
		if hangUp {
			_ = conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return
		}
	}
}
