package handlers

import (
	"net/http"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	writeWait  = 10 * time.Second
)

// Subscriptions tracks the websocket connections notifications are pushed to.
type Subscriptions interface {
	Register(userID string, conn *websocket.Conn)
	Unregister(userID string, conn *websocket.Conn)
}

// WebSocketHandler upgrades clients onto the notification stream.
type WebSocketHandler struct {
	subs     Subscriptions
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWebSocketHandler creates a new websocket handler.
func NewWebSocketHandler(subs Subscriptions, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		subs: subs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin is enforced by the gateway that sets X-User-ID.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Serve handles GET /ws. The connection stays registered until the client
// goes away or stops answering pings; inbound messages are discarded.
func (h *WebSocketHandler) Serve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.UserID(ctx)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		reqLog := requestLogger(ctx, h.log)
		reqLog.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}

	h.subs.Register(userID, conn)
	defer h.subs.Unregister(userID, conn)

	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// WriteControl may run concurrently with the hub's writes.
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}()

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}
