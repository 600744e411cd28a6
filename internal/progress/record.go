// Package progress keeps the latest progress of every running task and pushes
// changes to the owning user's live connections.
package progress

import (
	"errors"
	"time"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var (
	// ErrStatusRegression is returned when an update would move a record backwards
	// or out of a terminal status.
	ErrStatusRegression = errors.New("status regression")

	// ErrInvalidProgress is returned for progress values outside 0..100.
	ErrInvalidProgress = errors.New("progress must be between 0 and 100")

	// ErrInvalidStatus is returned for unknown status values.
	ErrInvalidStatus = errors.New("invalid status")
)

// ParseStatus validates a status string.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return st, nil
	}
	return "", ErrInvalidStatus
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// CanTransition reports whether a record in status s may be overwritten by next.
// Same-status updates are allowed except for terminal statuses.
func (s Status) CanTransition(next Status) bool {
	if s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// Record is the latest known state of one task.
type Record struct {
	TaskID    string         `json:"task_id"`
	UserID    string         `json:"user_id"`
	Progress  int            `json:"progress"`
	Status    Status         `json:"status"`
	Message   string         `json:"message,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Outbound event types produced by the tracker.
const (
	EventTaskProgressUpdate = "task_progress_update"
	EventTaskCompleted      = "task_completed"
	EventTaskFailed         = "task_failed"
)

// ProgressUpdateEvent is sent for every accepted Update.
type ProgressUpdateEvent struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	Progress  int    `json:"progress"`
	Status    Status `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// CompletedEvent is sent when a task completes.
type CompletedEvent struct {
	Type      string         `json:"type"`
	TaskID    string         `json:"task_id"`
	Result    map[string]any `json:"result"`
	Timestamp string         `json:"timestamp"`
}

// FailedEvent is sent when a task fails.
type FailedEvent struct {
	Type      string `json:"type"`
	TaskID    string `json:"task_id"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// Timestamp formats t the way every outbound event carries it.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
