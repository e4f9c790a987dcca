package hub

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period, must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	// Outbound buffer per client
	sendBufferSize = 256
)

var pongMessage = []byte(`{"type":"pong"}`)

// Client is one WebSocket connection attached to a room
type Client struct {
	id   string
	room string
	hub  *Hub
	conn *websocket.Conn

	send      chan []byte
	closeOnce sync.Once
}

// Serve attaches an upgraded connection to a room and blocks until the
// connection closes. Replay, if any, must be queued via Send before the
// first broadcast can reach the client; callers do that right after Serve
// starts the write pump.
func (h *Hub) Serve(conn *websocket.Conn, room string, replay func(*Client)) {
	c := &Client{
		id:   uuid.NewString(),
		room: room,
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	h.register(c)

	go c.writePump()
	if replay != nil {
		replay(c)
	}
	c.readPump()
}

// Send queues a JSON message for this client only. Returns false when the
// client cannot keep up.
func (c *Client) Send(message any) bool {
	payload, err := json.Marshal(message)
	if err != nil {
		return false
	}
	return c.enqueue(payload)
}

func (c *Client) enqueue(payload []byte) bool {
	defer func() {
		// Send on a closed channel means the client raced a disconnect
		_ = recover()
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

// readPump reads frames until the connection drops. Client "ping" frames are
// answered with a pong event.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if isPing(message) {
			c.enqueue(pongMessage)
		}
	}
}

// writePump flushes queued messages and keeps the connection alive with
// protocol pings
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func isPing(message []byte) bool {
	text := strings.TrimSpace(string(message))
	if text == "ping" {
		return true
	}
	var frame struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &frame); err != nil {
		return false
	}
	return frame.Type == "ping"
}
