package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/alpha-pool/decision-core/internal/bus"
	"github.com/alpha-pool/decision-core/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// streamClient is a single operator dashboard's WebSocket connection.
type streamClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *streamHub
	closeChan chan struct{}
}

// streamHub fans decision/score events out to every connected dashboard.
type streamHub struct {
	mu         sync.RWMutex
	clients    map[*streamClient]bool
	broadcast  chan []byte
	register   chan *streamClient
	unregister chan *streamClient
}

func newStreamHub() *streamHub {
	return &streamHub{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan []byte, 4096),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
	}
}

func (h *streamHub) run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				select {
				case c.send <- message:
				default:
					close(c.send)
					delete(h.clients, c)
				}
			}
			h.mu.RUnlock()
		}
	}
}

func (h *streamHub) broadcastMessage(msg bus.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Default().WithComponent("httpapi.stream").Error("failed to marshal stream message", "error", err.Error())
		return
	}
	select {
	case h.broadcast <- data:
	default:
		logging.Default().WithComponent("httpapi.stream").Warn("broadcast channel full, dropping message")
	}
}

func (h *streamHub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *streamClient) writePump() {
	ticker := time.NewTicker(30 * time.Second)
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// InitStream wires the stream hub to the bus so every candidate, fill,
// and score event published internally is pushed to every connected
// operator dashboard.
func (s *Server) InitStream(b *bus.Bus) {
	hub := newStreamHub()
	s.stream = hub
	go hub.run()
	b.SubscribeAll(hub.broadcastMessage)
}

func (s *Server) handleWebSocket(c *gin.Context) {
	if s.stream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stream not initialized"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	client := &streamClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       s.stream,
		closeChan: make(chan struct{}),
	}
	s.stream.register <- client

	go client.writePump()
	go client.readPump()
}
