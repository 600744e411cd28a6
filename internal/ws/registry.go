package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/metrics"
)

type connSet map[*Connection]struct{}

// Registry tracks live connections by connection type and by user. It is the
// single owner of connection handles: once Disconnect returns, no index refers
// to the connection.
type Registry struct {
	mu     sync.RWMutex
	byType map[string]connSet
	byUser map[string]connSet
	closed bool
	now    func() time.Time
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string]connSet),
		byUser: make(map[string]connSet),
		now:    time.Now,
	}
}

// Connect registers conn under its type and user and sends it
// connection_established. Connecting after Close closes conn immediately.
func (r *Registry) Connect(conn *Connection) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		conn.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
		return
	}
	add(r.byType, conn.Type(), conn)
	add(r.byUser, conn.UserID(), conn)
	r.mu.Unlock()

	metrics.WSConnectionsActive.WithLabelValues(conn.Type()).Inc()
	metrics.WSConnectionsTotal.WithLabelValues(conn.Type()).Inc()
	logging.Info().
		Str("user_id", conn.UserID()).
		Str("type", conn.Type()).
		Str("conn_id", conn.ID()).
		Bool("authenticated", conn.Authenticated()).
		Msg("user connected")

	if err := r.deliver(conn, newConnectionEstablished(r.now())); err != nil {
		r.Disconnect(conn)
	}
}

// Disconnect removes conn from both indices and closes it. Calling it for a
// connection that is already gone is a no-op.
func (r *Registry) Disconnect(conn *Connection) {
	r.mu.Lock()
	removedType := remove(r.byType, conn.Type(), conn)
	removedUser := remove(r.byUser, conn.UserID(), conn)
	r.mu.Unlock()

	conn.Close()

	if removedType || removedUser {
		metrics.WSConnectionsActive.WithLabelValues(conn.Type()).Dec()
		logging.Info().
			Str("user_id", conn.UserID()).
			Str("type", conn.Type()).
			Str("conn_id", conn.ID()).
			Msg("user disconnected")
	}
}

// SendToUser queues message on every connection of userID and reports whether
// the user had any. Connections whose delivery fails are disconnected; the
// failure is logged and never returned.
func (r *Registry) SendToUser(userID string, message any) bool {
	data, err := encode(message)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("failed to encode message")
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.byUser[userID]) > 0
	}

	r.mu.RLock()
	conns := snapshot(r.byUser[userID])
	r.mu.RUnlock()

	if len(conns) == 0 {
		return false
	}

	for _, conn := range conns {
		if err := r.send(conn, data); err != nil {
			r.Disconnect(conn)
		}
	}
	return true
}

// Broadcast queues message on every connection of connType. Failed peers are
// disconnected after the whole set has been attempted.
func (r *Registry) Broadcast(message any, connType string) {
	data, err := encode(message)
	if err != nil {
		logging.Error().Err(err).Str("type", connType).Msg("failed to encode broadcast")
		return
	}

	r.mu.RLock()
	conns := snapshot(r.byType[connType])
	r.mu.RUnlock()

	r.sweep(conns, data)
}

// BroadcastAll queues message on every registered connection.
func (r *Registry) BroadcastAll(message any) {
	data, err := encode(message)
	if err != nil {
		logging.Error().Err(err).Msg("failed to encode broadcast")
		return
	}

	r.mu.RLock()
	var conns []*Connection
	for _, set := range r.byType {
		conns = append(conns, snapshot(set)...)
	}
	r.mu.RUnlock()

	r.sweep(conns, data)
}

func (r *Registry) sweep(conns []*Connection, data []byte) {
	var failed []*Connection
	for _, conn := range conns {
		if err := r.send(conn, data); err != nil {
			failed = append(failed, conn)
		}
	}
	for _, conn := range failed {
		r.Disconnect(conn)
	}
}

// SendTo queues message on a single connection.
func (r *Registry) SendTo(conn *Connection, message any) {
	if err := r.deliver(conn, message); err != nil {
		r.Disconnect(conn)
	}
}

func (r *Registry) deliver(conn *Connection, message any) error {
	data, err := encode(message)
	if err != nil {
		logging.Error().Err(err).Str("conn_id", conn.ID()).Msg("failed to encode message")
		return nil
	}
	return r.send(conn, data)
}

func (r *Registry) send(conn *Connection, data []byte) error {
	if err := conn.Send(data); err != nil {
		if errors.Is(err, ErrConnectionClosed) {
			// Lost a race with Disconnect.
			return err
		}
		metrics.WSDeliveryFailures.Inc()
		logging.Warn().
			Err(err).
			Str("user_id", conn.UserID()).
			Str("conn_id", conn.ID()).
			Msg("failed to deliver message, dropping connection")
		return err
	}
	metrics.WSMessagesSent.Inc()
	return nil
}

// IsConnected reports whether userID has at least one live connection.
func (r *Registry) IsConnected(userID string) bool {
	return r.UserConnectionCount(userID) > 0
}

// UserConnectionCount returns the number of live connections of userID.
func (r *Registry) UserConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byUser[userID])
}

// TypeConnectionCount returns the number of live connections of connType.
func (r *Registry) TypeConnectionCount(connType string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byType[connType])
}

// ConnectionCount returns the number of live connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, set := range r.byUser {
		n += len(set)
	}
	return n
}

// Contains reports whether conn is registered in either index.
func (r *Registry) Contains(conn *Connection) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, inType := r.byType[conn.Type()][conn]
	_, inUser := r.byUser[conn.UserID()][conn]
	return inType || inUser
}

// Close disconnects every connection with a going-away close frame and refuses
// later connects.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	var conns []*Connection
	for _, set := range r.byUser {
		conns = append(conns, snapshot(set)...)
	}
	r.byType = make(map[string]connSet)
	r.byUser = make(map[string]connSet)
	r.mu.Unlock()

	for _, conn := range conns {
		conn.CloseWithCode(websocket.CloseGoingAway, "server shutting down")
		metrics.WSConnectionsActive.WithLabelValues(conn.Type()).Dec()
	}
	logging.Info().Int("connections_closed", len(conns)).Msg("connection registry closed")
}

func add(index map[string]connSet, key string, conn *Connection) {
	set, ok := index[key]
	if !ok {
		set = make(connSet)
		index[key] = set
	}
	set[conn] = struct{}{}
}

func remove(index map[string]connSet, key string, conn *Connection) bool {
	set, ok := index[key]
	if !ok {
		return false
	}
	if _, ok := set[conn]; !ok {
		return false
	}
	delete(set, conn)
	if len(set) == 0 {
		delete(index, key)
	}
	return true
}

func snapshot(set connSet) []*Connection {
	if len(set) == 0 {
		return nil
	}
	out := make([]*Connection, 0, len(set))
	for conn := range set {
		out = append(out, conn)
	}
	return out
}
