package transport

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	maxMessageBytes = 1 << 20
	writeWait       = 10 * time.Second
	sendQueueSize   = 64
)

// WebSocketConn adapts a gorilla connection to the Conn interface. A single
// writer goroutine drains the send queue; Send is a non-blocking enqueue so
// one backpressured peer cannot stall a session-wide broadcast.
type WebSocketConn struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}

	closed atomic.Bool
	once   sync.Once
}

// NewWebSocketConn wraps an upgraded connection and starts its writer.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	c := &WebSocketConn{
		conn: conn,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
	conn.SetReadLimit(maxMessageBytes)
	go c.writeLoop()
	return c
}

// Receive blocks for the next text message. Binary and control frames are
// skipped; liveness is handled at the protocol level, not with frame pings.
func (c *WebSocketConn) Receive() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return nil, ErrConnClosed
			}
			return nil, fmt.Errorf("transport: read: %w", err)
		}
		if messageType != websocket.TextMessage {
			continue
		}
		return data, nil
	}
}

// Send enqueues data for the writer goroutine.
func (c *WebSocketConn) Send(data []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close sends a close frame with the given status, then tears down.
func (c *WebSocketConn) Close(code int, reason string) error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
		deadline := time.Now().Add(writeWait)
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		err = c.conn.Close()
	})
	return err
}

// Terminate drops the connection without a close handshake.
func (c *WebSocketConn) Terminate() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

// Ready reports whether sends can still be enqueued.
func (c *WebSocketConn) Ready() bool {
	return !c.closed.Load()
}

// RemoteAddr returns the peer address.
func (c *WebSocketConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

func (c *WebSocketConn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				_ = c.Terminate()
				return
			}
		}
	}
}
