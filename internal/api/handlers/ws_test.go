package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dvloznov/finance-ledger/internal/api/middleware"
	"github.com/dvloznov/finance-ledger/internal/notify"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWebSocket_ReceivesOwnNotifications(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := notify.NewHub(zerolog.Nop())
	hub.Start(ctx)

	h := NewWebSocketHandler(hub, zerolog.Nop())
	srv := httptest.NewServer(middleware.Logger(zerolog.Nop())(middleware.Auth()(http.HandlerFunc(h.Serve))))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?user_id=u1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Clients("u1") == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, hub.Notify(ctx, []notify.Event{
		{UserID: "u2", Title: "Recurring income processed", Body: "Other"},
		{UserID: "u1", Title: "Recurring expense processed", Body: "Rent: R$ 1.200,00", CorrelationID: "p1"},
	}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg struct {
		Type  string       `json:"type"`
		Event notify.Event `json:"event"`
	}
	require.NoError(t, json.Unmarshal(data, &msg))
	assert.Equal(t, "notification", msg.Type)
	assert.Equal(t, "p1", msg.Event.CorrelationID)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients("u1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestWebSocket_RequiresUser(t *testing.T) {
	h := NewWebSocketHandler(notify.NewHub(zerolog.Nop()), zerolog.Nop())
	srv := httptest.NewServer(middleware.Auth()(http.HandlerFunc(h.Serve)))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
