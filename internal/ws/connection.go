package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection types. Any other tag is treated as general.
const (
	ConnectionTypeGeneral      = "general"
	ConnectionTypeTaskProgress = "task-progress"
)

// Close codes sent by the server.
const (
	CloseInternalError = 4000
	CloseAuthFailed    = 4001
)

var (
	// ErrConnectionClosed is returned when sending to a closed connection.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrSendBufferFull is returned when a slow peer has filled its queue; the
	// connection is closed as a consequence.
	ErrSendBufferFull = errors.New("send buffer full")
)

// ParseConnectionType returns the known connection type for tag. Unknown and
// empty tags map to general and report false.
func ParseConnectionType(tag string) (string, bool) {
	switch tag {
	case ConnectionTypeGeneral, ConnectionTypeTaskProgress:
		return tag, true
	}
	return ConnectionTypeGeneral, false
}

// DefaultSendBuffer is the outbound queue length of a connection.
const DefaultSendBuffer = 256

// Connection is a live WebSocket connection owned by a user.
type Connection struct {
	id            string
	userID        string
	connType      string
	authenticated bool
	conn          *websocket.Conn
	connectedAt   time.Time

	send chan []byte

	mu            sync.Mutex
	closed        bool
	closeCode     int
	closeReason   string
	subscriptions map[string]struct{}
}

// NewConnection wraps conn for userID. conn may be nil in tests that only
// exercise the queue.
func NewConnection(conn *websocket.Conn, userID, connType string, authenticated bool, sendBuffer int) *Connection {
	connType, _ = ParseConnectionType(connType)
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Connection{
		id:            uuid.NewString(),
		userID:        userID,
		connType:      connType,
		authenticated: authenticated,
		conn:          conn,
		connectedAt:   time.Now(),
		send:          make(chan []byte, sendBuffer),
		closeCode:     websocket.CloseNormalClosure,
		subscriptions: make(map[string]struct{}),
	}
}

// ID returns the connection id.
func (c *Connection) ID() string { return c.id }

// UserID returns the owning user.
func (c *Connection) UserID() string { return c.userID }

// Type returns the connection type tag.
func (c *Connection) Type() string { return c.connType }

// Authenticated reports whether the handshake carried a valid token.
func (c *Connection) Authenticated() bool { return c.authenticated }

// Conn returns the underlying WebSocket connection.
func (c *Connection) Conn() *websocket.Conn { return c.conn }

// SendChan returns the outbound queue. It is closed when the connection closes.
func (c *Connection) SendChan() <-chan []byte { return c.send }

// Send queues data for the write pump. It never blocks: a full queue closes
// the connection and returns ErrSendBufferFull.
func (c *Connection) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		c.closeLocked(websocket.CloseTryAgainLater, "send buffer full")
		return ErrSendBufferFull
	}
}

// Close closes the outbound queue with a normal closure. It is idempotent.
func (c *Connection) Close() {
	c.CloseWithCode(websocket.CloseNormalClosure, "")
}

// CloseWithCode closes the outbound queue; the write pump then sends a close
// frame carrying code and reason. Only the first call has an effect.
func (c *Connection) CloseWithCode(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked(code, reason)
}

func (c *Connection) closeLocked(code int, reason string) {
	if c.closed {
		return
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.send)
}

// IsClosed reports whether the connection has been closed.
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseFrame returns the code and reason recorded by the first close.
func (c *Connection) CloseFrame() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// Subscribe records interest in a task.
func (c *Connection) Subscribe(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscriptions[taskID] = struct{}{}
}

// Unsubscribe clears interest in a task.
func (c *Connection) Unsubscribe(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subscriptions, taskID)
}

// IsSubscribed reports whether the connection asked for taskID.
func (c *Connection) IsSubscribed(taskID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subscriptions[taskID]
	return ok
}
