package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 10 * time.Second

type delivery struct {
	userID  string
	payload []byte
}

type registration struct {
	userID string
	conn   *websocket.Conn
}

// Hub pushes events to the websocket connections of the user they target.
type Hub struct {
	clients    map[string]map[*websocket.Conn]struct{}
	broadcast  chan delivery
	register   chan registration
	unregister chan registration
	done       chan struct{}
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewHub creates a hub. Call Start before registering clients.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]map[*websocket.Conn]struct{}),
		broadcast:  make(chan delivery, 64),
		register:   make(chan registration),
		unregister: make(chan registration),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Start runs the hub loop until ctx is cancelled, then closes every connection.
func (h *Hub) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				close(h.done)
				h.mu.Lock()
				for _, conns := range h.clients {
					for conn := range conns {
						conn.Close()
					}
				}
				h.clients = make(map[string]map[*websocket.Conn]struct{})
				h.mu.Unlock()
				return
			case r := <-h.register:
				h.mu.Lock()
				if h.clients[r.userID] == nil {
					h.clients[r.userID] = make(map[*websocket.Conn]struct{})
				}
				h.clients[r.userID][r.conn] = struct{}{}
				h.mu.Unlock()
				h.log.Debug().Str("user_id", r.userID).Msg("websocket client connected")
			case r := <-h.unregister:
				h.drop(r.userID, r.conn)
				h.log.Debug().Str("user_id", r.userID).Msg("websocket client disconnected")
			case d := <-h.broadcast:
				h.mu.Lock()
				conns := make([]*websocket.Conn, 0, len(h.clients[d.userID]))
				for conn := range h.clients[d.userID] {
					conns = append(conns, conn)
				}
				h.mu.Unlock()
				for _, conn := range conns {
					_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := conn.WriteMessage(websocket.TextMessage, d.payload); err != nil {
						h.log.Warn().Err(err).Str("user_id", d.userID).Msg("websocket write failed")
						h.drop(d.userID, conn)
					}
				}
			}
		}
	}()
}

func (h *Hub) drop(userID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[userID][conn]; ok {
		delete(h.clients[userID], conn)
		conn.Close()
		if len(h.clients[userID]) == 0 {
			delete(h.clients, userID)
		}
	}
}

// Register adds conn to the connections of userID.
func (h *Hub) Register(userID string, conn *websocket.Conn) {
	select {
	case h.register <- registration{userID: userID, conn: conn}:
	case <-h.done:
		conn.Close()
	}
}

// Unregister removes and closes conn.
func (h *Hub) Unregister(userID string, conn *websocket.Conn) {
	select {
	case h.unregister <- registration{userID: userID, conn: conn}:
	case <-h.done:
	}
}

// Clients returns the number of open connections for userID.
func (h *Hub) Clients(userID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[userID])
}

// Notify implements Notifier. Users without an open connection miss the event.
func (h *Hub) Notify(ctx context.Context, events []Event) error {
	for _, e := range events {
		payload, err := json.Marshal(map[string]interface{}{
			"type":  "notification",
			"event": e,
		})
		if err != nil {
			return fmt.Errorf("Notify: marshal event %s: %w", e.CorrelationID, err)
		}
		select {
		case h.broadcast <- delivery{userID: e.UserID, payload: payload}:
		case <-h.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
