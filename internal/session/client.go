package session

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/ideate/ideate/internal/common/logger"
	ws "github.com/ideate/ideate/pkg/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB
)

// client is the single WebSocket connection attached to a session.
// Outbound frames go through the buffered send channel; close drains it,
// emits a close frame, and tears the connection down.
type client struct {
	id        string
	sessionID string
	conn      *websocket.Conn
	store     *Store
	send      chan []byte
	logger    *logger.Logger

	mu     sync.Mutex
	closed bool
}

func newClient(id, sessionID string, conn *websocket.Conn, store *Store, log *logger.Logger) *client {
	return &client{
		id:        id,
		sessionID: sessionID,
		conn:      conn,
		store:     store,
		send:      make(chan []byte, 256),
		logger: log.WithFields(
			zap.String("client_id", id),
			zap.String("session_id", sessionID)),
	}
}

// sendFrame queues a frame for delivery. Frames are dropped when the client
// is closed or its buffer is full.
func (c *client) sendFrame(f *ws.Frame) {
	data, err := f.Encode()
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode frame")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("Client send buffer full, dropping frame",
			zap.String("frame_type", string(f.Type)))
	}
}

// close shuts the send channel exactly once; writePump flushes what is
// queued and then closes the connection.
func (c *client) close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.send)
}

// readPump pumps inbound frames from the WebSocket into the store.
// Malformed frames are ignored. Runs on the connection's handler goroutine;
// frame handling is serialized by this loop.
func (c *client) readPump() {
	defer func() {
		c.store.detachClient(c.sessionID, c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.WithError(err).Error("WebSocket read error")
			}
			break
		}

		frame, err := ws.ParseFrame(message)
		if err != nil {
			c.logger.WithError(err).Debug("Ignoring malformed frame")
			continue
		}

		switch frame.Type {
		case ws.FrameTypeConnected:
			c.logger.Debug("Client reported ready")
		case ws.FrameTypeResponse:
			c.store.handleResponse(c.sessionID, frame.ID, frame.Answer)
		default:
			c.logger.Debug("Ignoring unexpected frame",
				zap.String("frame_type", string(frame.Type)))
		}
	}
}

// writePump pumps queued frames to the WebSocket and keeps the connection
// alive with pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// close() drained the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
