package gateway

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection is one websocket streaming the events of one session.
type Connection struct {
	// SessionID is the session whose events this connection receives
	SessionID string

	// Conn is the underlying WebSocket connection
	Conn *websocket.Conn

	// Send is a buffered channel for outbound frames
	Send chan []byte

	// mu serialises writes to the WebSocket connection
	mu sync.Mutex

	lastHeartbeat time.Time
	heartbeatMu   sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc

	// finished is set once Send is closed; closed once the socket is
	closed   bool
	finished bool
	closedMu sync.RWMutex
}

// NewConnection creates a new Connection instance.
//
// Parameters:
//   - ctx: Parent context for the connection
//   - sessionID: The session identifier
//   - conn: The WebSocket connection
//   - buffer: Capacity of the outbound queue
//
// Returns:
//   - *Connection: The initialized connection
func NewConnection(ctx context.Context, sessionID string, conn *websocket.Conn, buffer int) *Connection {
	connCtx, cancel := context.WithCancel(ctx)
	if buffer <= 0 {
		buffer = 1
	}
	return &Connection{
		SessionID:     sessionID,
		Conn:          conn,
		Send:          make(chan []byte, buffer),
		lastHeartbeat: time.Now(),
		ctx:           connCtx,
		cancel:        cancel,
	}
}

// Enqueue queues a frame without blocking. It reports false when the
// connection is finished, closed or its queue is full.
func (c *Connection) Enqueue(data []byte) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	if c.closed || c.finished {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// WriteMessage writes a message to the WebSocket connection.
// It is thread-safe and handles connection closure gracefully.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.IsClosed() {
		return websocket.ErrCloseSent
	}
	return c.Conn.WriteMessage(messageType, data)
}

func (c *Connection) ReadMessage() (int, []byte, error) {
	return c.Conn.ReadMessage()
}

// Finish closes the outbound queue. Frames already queued are still
// written; the writer closes the socket once the queue is empty.
func (c *Connection) Finish() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()
	c.finishLocked()
}

func (c *Connection) finishLocked() {
	if c.finished {
		return
	}
	c.finished = true
	close(c.Send)
}

// Close marks the connection closed, stops its pumps and releases the
// socket. It is safe to call multiple times.
func (c *Connection) Close() error {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	c.finishLocked()
	return c.Conn.Close()
}

func (c *Connection) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// UpdateHeartbeat updates the last heartbeat timestamp.
func (c *Connection) UpdateHeartbeat() {
	c.heartbeatMu.Lock()
	defer c.heartbeatMu.Unlock()
	c.lastHeartbeat = time.Now()
}

func (c *Connection) GetLastHeartbeat() time.Time {
	c.heartbeatMu.RLock()
	defer c.heartbeatMu.RUnlock()
	return c.lastHeartbeat
}

// IsAlive reports whether a heartbeat arrived within timeout.
func (c *Connection) IsAlive(timeout time.Duration) bool {
	return time.Since(c.GetLastHeartbeat()) < timeout
}

func (c *Connection) Context() context.Context {
	return c.ctx
}
