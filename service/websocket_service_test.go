package service

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tieubaoca/docrag/types"
)

func dialEvents(t *testing.T, hub *WebSocketService) *websocket.Conn {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(hub.HandleEvents))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	return conn
}

func TestWebSocketService_PublishesProgress(t *testing.T) {
	hub := NewWebSocketService()
	conn := dialEvents(t, hub)

	hub.Publish(types.ProgressEvent{DocumentID: "doc-1", Operation: types.OperationUpload, Stage: types.StageStored, Progress: 1})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type    string              `json:"type"`
		Payload types.ProgressEvent `json:"payload"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, types.TypeWebsocketProgress, msg.Type)
	assert.Equal(t, "doc-1", msg.Payload.DocumentID)
	assert.Equal(t, types.StageStored, msg.Payload.Stage)
	assert.False(t, msg.Payload.Time.IsZero())
}

func TestWebSocketService_PingPong(t *testing.T) {
	hub := NewWebSocketService()
	conn := dialEvents(t, hub)

	require.NoError(t, conn.WriteJSON(types.WebsocketRequest{Type: types.TypeWebsocketPing}))

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg types.WebSocketResponse
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, types.TypeWebsocketPong, msg.Type)
}

func TestWebSocketService_UnsubscribesOnClose(t *testing.T) {
	hub := NewWebSocketService()
	conn := dialEvents(t, hub)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestWebSocketService_PublishWithoutClients(t *testing.T) {
	hub := NewWebSocketService()
	assert.NotPanics(t, func() {
		hub.Publish(types.ProgressEvent{DocumentID: "x", Stage: types.StageFailed})
	})
}
