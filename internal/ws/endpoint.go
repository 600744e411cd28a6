package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/metrics"
	"github.com/character-lab/backend/internal/progress"
)

// ErrTaskNotFound is returned by a TaskLookup for unknown task ids.
var ErrTaskNotFound = errors.New("task not found")

// TokenValidator resolves an access token to the user id it was issued for.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// TaskLookup returns the current state of a task.
type TaskLookup interface {
	LookupTask(ctx context.Context, taskID string) (progress.Record, error)
}

// Options configures an Endpoint. Zero values fall back to the defaults below.
type Options struct {
	// Time allowed to write a message to the peer.
	WriteWait time.Duration

	// Time allowed to read the next frame (or pong) from the peer.
	PongWait time.Duration

	// Maximum inbound message size.
	MaxMessageSize int64

	// Outbound queue length per connection.
	SendBuffer int

	// Interval of the task status poller.
	PollInterval time.Duration

	// CheckOrigin overrides the upgrader's origin check.
	CheckOrigin func(r *http.Request) bool
}

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 8192
	defaultPollInterval   = 2 * time.Second
)

func (o Options) withDefaults() Options {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = DefaultSendBuffer
	}
	if o.PollInterval <= 0 {
		o.PollInterval = defaultPollInterval
	}
	if o.CheckOrigin == nil {
		o.CheckOrigin = func(r *http.Request) bool { return true }
	}
	return o
}

// pingPeriod must be less than pongWait.
func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Endpoint accepts WebSocket connections and runs their message loops.
type Endpoint struct {
	registry  *Registry
	validator TokenValidator
	tasks     TaskLookup
	upgrader  websocket.Upgrader
	opts      Options
	now       func() time.Time
}

// NewEndpoint creates an Endpoint. tasks may be nil, in which case
// get_task_status is answered with an error event.
func NewEndpoint(registry *Registry, validator TokenValidator, tasks TaskLookup, opts Options) *Endpoint {
	opts = opts.withDefaults()
	return &Endpoint{
		registry:  registry,
		validator: validator,
		tasks:     tasks,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     opts.CheckOrigin,
		},
		opts: opts,
		now:  time.Now,
	}
}

// Registry returns the registry connections are registered with.
func (e *Endpoint) Registry() *Registry {
	return e.registry
}

// Serve upgrades the request and runs the connection for userID. The optional
// "token" query parameter must resolve to userID, otherwise the socket is
// closed with 4001 and nothing is registered. The optional "type" query
// parameter selects the connection type; unknown types fall back to general.
func (e *Endpoint) Serve(w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	token := r.URL.Query().Get("token")
	authenticated := false
	if token != "" {
		if !e.authenticate(token, userID) {
			e.refuse(conn, userID)
			return nil
		}
		authenticated = true
	} else {
		logging.Warn().Str("user_id", userID).Msg("websocket connected without token")
	}

	connType, known := ParseConnectionType(r.URL.Query().Get("type"))
	if !known && r.URL.Query().Has("type") {
		logging.Debug().Str("user_id", userID).Str("type", r.URL.Query().Get("type")).Msg("unknown connection type, using general")
	}
	client := NewConnection(conn, userID, connType, authenticated, e.opts.SendBuffer)
	e.registry.Connect(client)

	go e.writePump(client)
	go e.readPump(client)
	return nil
}

func (e *Endpoint) authenticate(token, userID string) bool {
	if e.validator == nil {
		return false
	}
	subject, err := e.validator.ValidateToken(token)
	if err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("websocket token rejected")
		return false
	}
	if subject != userID {
		logging.Warn().Str("user_id", userID).Str("token_subject", subject).Msg("websocket token does not match user")
		return false
	}
	return true
}

// refuse closes a freshly upgraded socket with the authentication failure code.
func (e *Endpoint) refuse(conn *websocket.Conn, userID string) {
	metrics.WSAuthFailures.Inc()
	msg := websocket.FormatCloseMessage(CloseAuthFailed, "authentication failed")
	if err := conn.WriteControl(websocket.CloseMessage, msg, e.now().Add(e.opts.WriteWait)); err != nil {
		logging.Debug().Err(err).Str("user_id", userID).Msg("failed to send auth close frame")
	}
	_ = conn.Close()
}

// readPump receives frames and dispatches them until the peer goes away. It is
// the only place a connection leaves the registry from the endpoint side.
func (e *Endpoint) readPump(c *Connection) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error().
				Interface("panic", rec).
				Str("user_id", c.UserID()).
				Str("conn_id", c.ID()).
				Msg("websocket loop panicked, closing connection")
			c.CloseWithCode(CloseInternalError, "internal error")
		}
		e.registry.Disconnect(c)
	}()

	conn := c.Conn()
	conn.SetReadLimit(e.opts.MaxMessageSize)
	_ = conn.SetReadDeadline(e.now().Add(e.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(e.now().Add(e.opts.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				logging.Warn().Err(err).Str("user_id", c.UserID()).Msg("websocket read error")
			}
			return
		}
		_ = conn.SetReadDeadline(e.now().Add(e.opts.PongWait))

		msg, err := DecodeInbound(data)
		if err != nil {
			metrics.WSInboundMessages.WithLabelValues("malformed").Inc()
			logging.Warn().Err(err).Str("user_id", c.UserID()).Msg("ignoring malformed websocket message")
			continue
		}
		e.dispatch(c, msg)
	}
}

func (e *Endpoint) dispatch(c *Connection, msg InboundMessage) {
	switch m := msg.(type) {
	case PingMessage:
		metrics.WSInboundMessages.WithLabelValues(string(MessageTypePing)).Inc()
		e.registry.SendTo(c, newPong(e.now()))

	case SubscribeTaskMessage:
		metrics.WSInboundMessages.WithLabelValues(string(MessageTypeSubscribeTask)).Inc()
		if m.TaskID == "" {
			return
		}
		c.Subscribe(m.TaskID)
		logging.Info().Str("user_id", c.UserID()).Str("task_id", m.TaskID).Msg("subscribed to task")

	case UnsubscribeTaskMessage:
		metrics.WSInboundMessages.WithLabelValues(string(MessageTypeUnsubscribeTask)).Inc()
		if m.TaskID == "" {
			return
		}
		c.Unsubscribe(m.TaskID)
		logging.Info().Str("user_id", c.UserID()).Str("task_id", m.TaskID).Msg("unsubscribed from task")

	case GetTaskStatusMessage:
		metrics.WSInboundMessages.WithLabelValues(string(MessageTypeGetTaskStatus)).Inc()
		e.registry.SendTo(c, e.taskStatus(c.UserID(), m.TaskID))

	case UnknownMessage:
		metrics.WSInboundMessages.WithLabelValues("other").Inc()
		text := m.Message
		if text == "" {
			text = "message received"
		}
		e.registry.SendTo(c, EchoEvent{Type: MessageTypeEcho, Message: text})
	}
}

// taskStatus answers a state-sync request. Tasks of other users are reported
// as unknown.
func (e *Endpoint) taskStatus(userID, taskID string) any {
	if taskID == "" {
		return newError("task_id is required")
	}
	if e.tasks == nil {
		return newError("task not found")
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.opts.WriteWait)
	defer cancel()

	rec, err := e.tasks.LookupTask(ctx, taskID)
	if err != nil || rec.UserID != userID {
		if err != nil && !errors.Is(err, ErrTaskNotFound) {
			logging.Error().Err(err).Str("task_id", taskID).Msg("failed to look up task")
		}
		return newError("task not found")
	}
	return NewTaskStatus(rec)
}

// writePump is the single writer of the socket. Frames leave in queue order.
func (e *Endpoint) writePump(c *Connection) {
	ticker := time.NewTicker(e.opts.pingPeriod())
	conn := c.Conn()
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.SendChan():
			_ = conn.SetWriteDeadline(e.now().Add(e.opts.WriteWait))
			if !ok {
				code, reason := c.CloseFrame()
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason))
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				logging.Debug().Err(err).Str("conn_id", c.ID()).Msg("websocket write failed")
				return
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(e.now().Add(e.opts.WriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
