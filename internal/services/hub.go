package services

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Stream topics.
const (
	TopicScriptUpdate  = "script_update"
	TopicLogOutput     = "log_output"
	TopicRecorderEvent = "recorder_event"
	TopicRecorderError = "recorder_error"
)

const (
	subscriberBuffer = 64
	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
)

type Message struct {
	Topic     string      `json:"topic"`
	SessionID string      `json:"session_id"`
	Data      interface{} `json:"data"`
	Time      time.Time   `json:"time"`
}

// Subscription receives the messages of one session, or of every session
// when it was created with an empty id. Slow subscribers lose messages
// rather than stall publishers.
type Subscription struct {
	C         <-chan Message
	ch        chan Message
	sessionID string
	once      sync.Once
}

type Hub struct {
	mu   sync.RWMutex
	subs map[*Subscription]struct{}
}

func NewHub() *Hub {
	return &Hub{subs: make(map[*Subscription]struct{})}
}

func (h *Hub) Subscribe(sessionID string) *Subscription {
	ch := make(chan Message, subscriberBuffer)
	sub := &Subscription{C: ch, ch: ch, sessionID: sessionID}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *Hub) Unsubscribe(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.once.Do(func() { close(sub.ch) })
}

func (h *Hub) Publish(topic, sessionID string, data interface{}) {
	msg := Message{Topic: topic, SessionID: sessionID, Data: data, Time: time.Now()}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for sub := range h.subs {
		if sub.sessionID != "" && sub.sessionID != sessionID {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			log.Printf("Subscriber for %q is full, dropping %s", sub.sessionID, topic)
		}
	}
}

// Stream writes the session's messages to conn as JSON until the peer goes
// away or stop is closed.
func (h *Hub) Stream(conn *websocket.Conn, sessionID string, stop <-chan struct{}) {
	sub := h.Subscribe(sessionID)
	defer h.Unsubscribe(sub)

	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-sub.C:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Printf("WebSocket write error: %v", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-gone:
			return
		case <-stop:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
