package main

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// consoleEvent is one frame on the /events stream.
type consoleEvent struct {
	Type      string    `json:"type"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type eventClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// eventHub fans console events out to every connected browser. The stream
// is one-way; all mutations go through the REST surface.
type eventHub struct {
	mu       sync.Mutex
	clients  map[*eventClient]struct{}
	upgrader websocket.Upgrader
}

func newEventHub() *eventHub {
	return &eventHub{
		clients: map[*eventClient]struct{}{},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(request *http.Request) bool {
				// The daemon binds to loopback; same-host pages only.
				return true
			},
		},
	}
}

func (hub *eventHub) handleWebSocket(writer http.ResponseWriter, request *http.Request) {
	conn, upgradeError := hub.upgrader.Upgrade(writer, request, nil)
	if upgradeError != nil {
		return
	}
	client := &eventClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, 256),
	}
	hub.mu.Lock()
	hub.clients[client] = struct{}{}
	hub.mu.Unlock()

	go client.writePump()
	go hub.readUntilClose(client)
}

func (hub *eventHub) readUntilClose(client *eventClient) {
	defer hub.drop(client)
	client.conn.SetReadLimit(1024)
	for {
		if _, _, readError := client.conn.ReadMessage(); readError != nil {
			return
		}
	}
}

func (hub *eventHub) drop(client *eventClient) {
	hub.mu.Lock()
	if _, known := hub.clients[client]; known {
		delete(hub.clients, client)
		close(client.send)
	}
	hub.mu.Unlock()
	_ = client.conn.Close()
}

// broadcast delivers one event to every client, skipping clients whose
// send buffer is full.
func (hub *eventHub) broadcast(eventType string, data any) {
	payload, marshalError := json.Marshal(consoleEvent{
		Type:      eventType,
		Data:      data,
		Timestamp: time.Now(),
	})
	if marshalError != nil {
		return
	}
	hub.mu.Lock()
	defer hub.mu.Unlock()
	for client := range hub.clients {
		select {
		case client.send <- payload:
		default:
		}
	}
}

func (client *eventClient) writePump() {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		_ = client.conn.Close()
	}()
	for {
		select {
		case payload, open := <-client.send:
			_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !open {
				_ = client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if writeError := client.conn.WriteMessage(websocket.TextMessage, payload); writeError != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if pingError := client.conn.WriteMessage(websocket.PingMessage, nil); pingError != nil {
				return
			}
		}
	}
}
