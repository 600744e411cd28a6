package ws

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/character-lab/backend/internal/progress"
)

// MessageType is the "type" discriminator of every frame.
type MessageType string

const (
	// Client -> Server
	MessageTypePing            MessageType = "ping"
	MessageTypeSubscribeTask   MessageType = "subscribe_task"
	MessageTypeUnsubscribeTask MessageType = "unsubscribe_task"
	MessageTypeGetTaskStatus   MessageType = "get_task_status"

	// Server -> Client
	MessageTypeConnectionEstablished MessageType = "connection_established"
	MessageTypePong                  MessageType = "pong"
	MessageTypeTaskStatus            MessageType = "task_status"
	MessageTypeEcho                  MessageType = "echo"
	MessageTypeError                 MessageType = "error"
	MessageTypeServerShutdown        MessageType = "server_shutdown"
)

// ErrMissingType is returned for frames without a "type" field.
var ErrMissingType = errors.New("message type is required")

// envelope is the wire shape of an inbound frame.
type envelope struct {
	Type     MessageType `json:"type"`
	TaskID   string      `json:"task_id,omitempty"`
	Progress *int        `json:"progress,omitempty"`
	Message  string      `json:"message,omitempty"`
}

// InboundMessage is one of PingMessage, SubscribeTaskMessage,
// UnsubscribeTaskMessage, GetTaskStatusMessage or UnknownMessage.
type InboundMessage interface {
	inbound()
}

// PingMessage is a liveness probe.
type PingMessage struct{}

// SubscribeTaskMessage registers interest in a task.
type SubscribeTaskMessage struct {
	TaskID string
}

// UnsubscribeTaskMessage clears interest in a task.
type UnsubscribeTaskMessage struct {
	TaskID string
}

// GetTaskStatusMessage asks for the current record of a task.
type GetTaskStatusMessage struct {
	TaskID string
}

// UnknownMessage is any frame with an unrecognised type. It is echoed back.
type UnknownMessage struct {
	Type     MessageType
	TaskID   string
	Progress *int
	Message  string
}

func (PingMessage) inbound()            {}
func (SubscribeTaskMessage) inbound()   {}
func (UnsubscribeTaskMessage) inbound() {}
func (GetTaskStatusMessage) inbound()   {}
func (UnknownMessage) inbound()         {}

// DecodeInbound parses a text frame into its variant.
func DecodeInbound(data []byte) (InboundMessage, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if env.Type == "" {
		return nil, ErrMissingType
	}

	switch env.Type {
	case MessageTypePing:
		return PingMessage{}, nil
	case MessageTypeSubscribeTask:
		return SubscribeTaskMessage{TaskID: env.TaskID}, nil
	case MessageTypeUnsubscribeTask:
		return UnsubscribeTaskMessage{TaskID: env.TaskID}, nil
	case MessageTypeGetTaskStatus:
		return GetTaskStatusMessage{TaskID: env.TaskID}, nil
	default:
		return UnknownMessage{
			Type:     env.Type,
			TaskID:   env.TaskID,
			Progress: env.Progress,
			Message:  env.Message,
		}, nil
	}
}

// ConnectionEstablishedEvent acknowledges a registered connection.
type ConnectionEstablishedEvent struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// PongEvent answers a ping.
type PongEvent struct {
	Type      MessageType `json:"type"`
	Timestamp string      `json:"timestamp"`
}

// EchoEvent returns an unrecognised message to its sender.
type EchoEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ErrorEvent reports a request the server could not fulfil.
type ErrorEvent struct {
	Type    MessageType `json:"type"`
	Message string      `json:"message"`
}

// ServerShutdownEvent tells clients the server is going away and they should
// reconnect later.
type ServerShutdownEvent struct {
	Type      MessageType `json:"type"`
	Message   string      `json:"message"`
	Timestamp string      `json:"timestamp"`
}

// NewServerShutdown builds the notice broadcast before the registry closes.
func NewServerShutdown(now time.Time) ServerShutdownEvent {
	return ServerShutdownEvent{
		Type:      MessageTypeServerShutdown,
		Message:   "server is shutting down",
		Timestamp: progress.Timestamp(now),
	}
}

// TaskStatusEvent carries the stored record of a task.
type TaskStatusEvent struct {
	Type      MessageType     `json:"type"`
	TaskID    string          `json:"task_id"`
	Progress  int             `json:"progress"`
	Status    progress.Status `json:"status"`
	Message   string          `json:"message,omitempty"`
	Result    map[string]any  `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func newConnectionEstablished(now time.Time) ConnectionEstablishedEvent {
	return ConnectionEstablishedEvent{
		Type:      MessageTypeConnectionEstablished,
		Message:   "WebSocket connection established",
		Timestamp: progress.Timestamp(now),
	}
}

func newPong(now time.Time) PongEvent {
	return PongEvent{Type: MessageTypePong, Timestamp: progress.Timestamp(now)}
}

func newError(msg string) ErrorEvent {
	return ErrorEvent{Type: MessageTypeError, Message: msg}
}

// NewTaskStatus converts a stored record into a task_status event.
func NewTaskStatus(rec progress.Record) TaskStatusEvent {
	return TaskStatusEvent{
		Type:      MessageTypeTaskStatus,
		TaskID:    rec.TaskID,
		Progress:  rec.Progress,
		Status:    rec.Status,
		Message:   rec.Message,
		Result:    rec.Result,
		Error:     rec.Error,
		Timestamp: progress.Timestamp(rec.UpdatedAt),
	}
}

// encode marshals an outbound message. Pre-encoded frames pass through.
func encode(message any) ([]byte, error) {
	switch m := message.(type) {
	case []byte:
		return m, nil
	case json.RawMessage:
		return m, nil
	default:
		return json.Marshal(message)
	}
}
