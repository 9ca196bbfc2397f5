package service

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tieubaoca/docrag/types"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	subscriberSize = 64
)

// EventPublisher receives pipeline progress events.
type EventPublisher interface {
	Publish(event types.ProgressEvent)
}

type subscriber struct {
	send chan types.WebSocketResponse
}

// offer queues msg unless the subscriber is too slow to keep up.
func (s *subscriber) offer(msg types.WebSocketResponse) bool {
	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// WebSocketService streams progress events to websocket clients.
type WebSocketService struct {
	upgrader    websocket.Upgrader
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
}

func NewWebSocketService() *WebSocketService {
	return &WebSocketService{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins (adjust for production)
			},
		},
		subscribers: make(map[*subscriber]struct{}),
	}
}

func (s *WebSocketService) subscribe() (*subscriber, func()) {
	sub := &subscriber{send: make(chan types.WebSocketResponse, subscriberSize)}
	s.mu.Lock()
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()
	return sub, func() {
		s.mu.Lock()
		delete(s.subscribers, sub)
		s.mu.Unlock()
	}
}

func (s *WebSocketService) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subscribers)
}

// Publish fans event out without blocking; slow clients miss events.
func (s *WebSocketService) Publish(event types.ProgressEvent) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	msg := types.WebSocketResponse{Type: types.TypeWebsocketProgress, Payload: event}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subscribers {
		if !sub.offer(msg) {
			zap.S().Debugf("Dropping %s event for slow websocket client", event.Stage)
		}
	}
}

func (s *WebSocketService) HandleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnf("Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	// Set connection properties
	conn.SetReadLimit(512 * 1024) // 512KB max message size
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	sub, unsubscribe := s.subscribe()
	defer unsubscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, p, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
					zap.S().Warnf("WebSocket read error: %v", err)
				}
				return
			}
			var req types.WebsocketRequest
			if err := json.Unmarshal(p, &req); err != nil {
				sub.offer(types.WebSocketResponse{Type: types.TypeWebsocketError, Payload: "invalid message"})
				continue
			}
			switch req.Type {
			case types.TypeWebsocketPing:
				sub.offer(types.WebSocketResponse{Type: types.TypeWebsocketPong})
			default:
				sub.offer(types.WebSocketResponse{Type: types.TypeWebsocketError, Payload: "unsupported message type"})
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case msg := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				zap.S().Debugf("Write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
