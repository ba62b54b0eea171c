package sync

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The API sits behind operator auth; origin checks stay permissive
		// so local dashboards can connect.
		return true
	},
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Message types broadcast to monitoring clients.
const (
	MsgTypeTaskFailed        = "task_failed"
	MsgTypeReconcileStart    = "reconcile_start"
	MsgTypeReconcileComplete = "reconcile_complete"
	MsgTypeReconcileError    = "reconcile_error"
	MsgTypeScheduleRun       = "schedule_run"
	MsgTypeHeartbeat         = "heartbeat"
)

// Message is a single WebSocket frame sent to monitoring clients.
type Message struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// WebSocketManager broadcasts sync progress and task failures to all
// connected monitoring clients. Asynchronous task failures surface here in
// addition to the log, so they fail visibly rather than silently.
type WebSocketManager struct {
	clients    map[*client]bool
	clientsMux sync.RWMutex
	broadcast  chan Message
	register   chan *client
	unregister chan *client
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// NewWebSocketManager creates a new WebSocket manager.
func NewWebSocketManager() *WebSocketManager {
	return &WebSocketManager{
		clients:    make(map[*client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
	}
}

// Run processes registrations and broadcasts. Call in a goroutine.
func (m *WebSocketManager) Run() {
	for {
		select {
		case c := <-m.register:
			m.clientsMux.Lock()
			m.clients[c] = true
			m.clientsMux.Unlock()

		case c := <-m.unregister:
			m.clientsMux.Lock()
			if _, ok := m.clients[c]; ok {
				delete(m.clients, c)
				close(c.send)
			}
			m.clientsMux.Unlock()

		case message := <-m.broadcast:
			m.clientsMux.RLock()
			for c := range m.clients {
				select {
				case c.send <- message:
				default:
					// Slow consumer; drop the frame rather than block.
				}
			}
			m.clientsMux.RUnlock()
		}
	}
}

// Broadcast queues a message for all connected clients. Never blocks; if no
// manager goroutine is draining the channel the frame is dropped.
func (m *WebSocketManager) Broadcast(msgType string, data interface{}) {
	if m == nil {
		return
	}
	message := Message{
		Type:      msgType,
		Data:      data,
		Timestamp: time.Now(),
	}
	select {
	case m.broadcast <- message:
	default:
	}
}

// ClientCount returns the number of connected monitoring clients.
func (m *WebSocketManager) ClientCount() int {
	m.clientsMux.RLock()
	defer m.clientsMux.RUnlock()
	return len(m.clients)
}

// HandleWebSocket upgrades an HTTP request to a monitoring connection.
func (m *WebSocketManager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &client{conn: conn, send: make(chan Message, 64)}
	m.register <- c

	go m.writePump(c)
	go m.readPump(c)
}

func (m *WebSocketManager) writePump(c *client) {
	ticker := time.NewTicker(54 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (m *WebSocketManager) readPump(c *client) {
	defer func() {
		m.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		var message Message
		if err := c.conn.ReadJSON(&message); err != nil {
			break
		}
		if message.Type == MsgTypeHeartbeat {
			select {
			case c.send <- Message{Type: MsgTypeHeartbeat, Timestamp: time.Now()}:
			default:
			}
		}
	}
}
