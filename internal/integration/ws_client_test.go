// Package integration provides end-to-end integration tests for the ideate
// service.
package integration

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	ws "github.com/ideate/ideate/pkg/websocket"
)

// BrowserClient stands in for the browser page: it dials a session server,
// announces itself, and exchanges question/response frames.
type BrowserClient struct {
	conn *websocket.Conn
	t    *testing.T

	questions chan *ws.Frame
	cancels   chan *ws.Frame
	ended     chan struct{}
	endOnce   sync.Once

	done chan struct{}
	// send is the channel for outgoing frames (serialized through writePump)
	send chan []byte
}

// NewBrowserClient dials the session URL's /ws endpoint and sends the
// connected greeting.
func NewBrowserClient(t *testing.T, sessionURL string) *BrowserClient {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(sessionURL, "http") + "/ws"

	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	conn, resp, err := dialer.Dial(wsURL, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	client := &BrowserClient{
		conn:      conn,
		t:         t,
		questions: make(chan *ws.Frame, 100),
		cancels:   make(chan *ws.Frame, 100),
		ended:     make(chan struct{}),
		done:      make(chan struct{}),
		send:      make(chan []byte, 256),
	}

	go client.readPump()
	go client.writePump()

	client.sendFrame(ws.NewConnectedFrame())

	return client
}

// readPump reads frames from the WebSocket connection and routes them by type
func (c *BrowserClient) readPump() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		frame, err := ws.ParseFrame(data)
		if err != nil {
			continue
		}

		switch frame.Type {
		case ws.FrameTypeQuestion:
			select {
			case c.questions <- frame:
			default:
			}
		case ws.FrameTypeCancel:
			select {
			case c.cancels <- frame:
			default:
			}
		case ws.FrameTypeEnd:
			c.endOnce.Do(func() { close(c.ended) })
		}
	}
}

// writePump serializes all writes to the WebSocket connection
func (c *BrowserClient) writePump() {
	for data := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (c *BrowserClient) sendFrame(f *ws.Frame) {
	data, err := f.Encode()
	if err != nil {
		c.t.Errorf("failed to encode frame: %v", err)
		return
	}

	select {
	case c.send <- data:
	case <-time.After(5 * time.Second):
		c.t.Error("send buffer full")
	}
}

// Answer submits a response frame for a question.
func (c *BrowserClient) Answer(questionID string, answer map[string]interface{}) {
	c.sendFrame(ws.NewResponseFrame(questionID, answer))
}

// NextQuestion waits for the next question frame.
func (c *BrowserClient) NextQuestion(timeout time.Duration) (*ws.Frame, error) {
	select {
	case f := <-c.questions:
		return f, nil
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

// NextCancel waits for the next cancel frame.
func (c *BrowserClient) NextCancel(timeout time.Duration) (*ws.Frame, error) {
	select {
	case f := <-c.cancels:
		return f, nil
	case <-time.After(timeout):
		return nil, context.DeadlineExceeded
	}
}

// WaitEnd waits for the session-over frame.
func (c *BrowserClient) WaitEnd(timeout time.Duration) error {
	select {
	case <-c.ended:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// Done is closed when the server side closes the connection.
func (c *BrowserClient) Done() <-chan struct{} {
	return c.done
}

// Close closes the WebSocket connection
func (c *BrowserClient) Close() {
	close(c.send)
	if err := c.conn.Close(); err != nil {
		c.t.Logf("failed to close websocket: %v", err)
	}
	<-c.done
}
