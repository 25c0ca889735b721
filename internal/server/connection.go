package server

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer. This is the
	// transport-level keepalive; the game-level heartbeat in liveness.go is
	// separate and much tighter.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Outbound buffer per connection; a full buffer closes the connection
	sendBufferSize = 256
)

// Connection wraps one WebSocket client. Outbound messages are marshaled at
// enqueue time and drained by a single write pump so per-recipient order is
// preserved.
type Connection struct {
	ws       *websocket.Conn
	send     chan []byte
	playerID string
	logger   *log.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// set when the client sent an explicit leave, so the read loop's exit
	// is not treated as a disconnect
	leftVoluntarily atomic.Bool
}

// NewConnection creates a connection wrapper for an upgraded socket
func NewConnection(ws *websocket.Conn, playerID string, logger *log.Logger) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &Connection{
		ws:       ws,
		send:     make(chan []byte, sendBufferSize),
		playerID: playerID,
		logger:   logger.WithPrefix("conn").With("player", playerID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// PlayerID returns the player this connection belongs to
func (c *Connection) PlayerID() string {
	return c.playerID
}

// Start begins the write pump
func (c *Connection) Start() {
	go c.writePump()
}

// Close closes the connection; safe to call more than once
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		close(c.send)
		err = c.ws.Close()
	})
	return err
}

// Done is closed when the connection shuts down
func (c *Connection) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Send marshals and enqueues a message. A closed connection or full buffer
// drops the message; fan-out callers swallow the error and carry on.
func (c *Connection) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			// send channel closed during shutdown
			c.logger.Debug("Send on closed connection", "error", r)
		}
	}()

	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	default:
		c.logger.Warn("Connection send buffer full, closing connection")
		_ = c.Close()
		return websocket.ErrCloseSent
	}
}

// ReadMessage blocks for the next text frame from the client
func (c *Connection) ReadMessage() ([]byte, error) {
	_, data, err := c.ws.ReadMessage()
	return data, err
}

// prepareRead configures read limits and the pong handler
func (c *Connection) prepareRead() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

// writePump drains the send channel and keeps the socket alive with pings
func (c *Connection) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("Failed to write message", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}
