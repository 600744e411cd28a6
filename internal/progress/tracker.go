package progress

import (
	"errors"
	"time"

	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/metrics"
)

// Notifier delivers a message to every live connection of a user and reports
// whether the user had any.
type Notifier interface {
	SendToUser(userID string, message any) bool
}

// Tracker records task progress and notifies the task owner.
type Tracker struct {
	store    *Store
	notifier Notifier
	now      func() time.Time
}

// NewTracker creates a Tracker writing to store and notifying through notifier.
func NewTracker(store *Store, notifier Notifier) *Tracker {
	return &Tracker{
		store:    store,
		notifier: notifier,
		now:      time.Now,
	}
}

// Store returns the underlying store.
func (t *Tracker) Store() *Store {
	return t.store
}

// Update records a progress step and sends task_progress_update to the owner.
// An update that would regress a record is dropped and logged; it is not an
// error for the caller.
func (t *Tracker) Update(taskID, userID string, progress int, status Status, message string) error {
	if progress < 0 || progress > 100 {
		return ErrInvalidProgress
	}
	if _, err := ParseStatus(string(status)); err != nil {
		return err
	}

	rec := Record{
		TaskID:   taskID,
		UserID:   userID,
		Progress: progress,
		Status:   status,
		Message:  message,
	}
	t.apply(rec, func(r Record) any {
		return ProgressUpdateEvent{
			Type:      EventTaskProgressUpdate,
			TaskID:    r.TaskID,
			Progress:  r.Progress,
			Status:    r.Status,
			Message:   r.Message,
			Timestamp: Timestamp(r.UpdatedAt),
		}
	})
	return nil
}

// Complete marks a task completed with progress 100 and sends task_completed.
func (t *Tracker) Complete(taskID, userID string, result map[string]any) {
	rec := Record{
		TaskID:   taskID,
		UserID:   userID,
		Progress: 100,
		Status:   StatusCompleted,
		Result:   result,
	}
	t.apply(rec, func(r Record) any {
		return CompletedEvent{
			Type:      EventTaskCompleted,
			TaskID:    r.TaskID,
			Result:    r.Result,
			Timestamp: Timestamp(r.UpdatedAt),
		}
	})
}

// Fail marks a task failed and sends task_failed. Progress is reset to 0.
func (t *Tracker) Fail(taskID, userID string, errMsg string) {
	rec := Record{
		TaskID:   taskID,
		UserID:   userID,
		Progress: 0,
		Status:   StatusFailed,
		Error:    errMsg,
	}
	t.apply(rec, func(r Record) any {
		return FailedEvent{
			Type:      EventTaskFailed,
			TaskID:    r.TaskID,
			Error:     r.Error,
			Timestamp: Timestamp(r.UpdatedAt),
		}
	})
}

func (t *Tracker) apply(rec Record, event func(Record) any) {
	current, err := t.store.Apply(rec, func(stored Record) {
		metrics.ProgressUpdates.WithLabelValues(string(stored.Status)).Inc()
		if t.notifier == nil {
			return
		}
		// Absence of a live connection is not an error.
		if !t.notifier.SendToUser(stored.UserID, event(stored)) {
			logging.Debug().
				Str("task_id", stored.TaskID).
				Str("user_id", stored.UserID).
				Msg("no live connection for progress event")
		}
	})
	if errors.Is(err, ErrStatusRegression) {
		metrics.ProgressRejected.Inc()
		logging.Warn().
			Str("task_id", rec.TaskID).
			Str("user_id", rec.UserID).
			Str("current_status", string(current.Status)).
			Str("rejected_status", string(rec.Status)).
			Msg("progress anomaly: update would regress task status, ignored")
		return
	}

	switch rec.Status {
	case StatusFailed:
		logging.Error().Str("task_id", rec.TaskID).Str("user_id", rec.UserID).Str("error", rec.Error).Msg("task failed")
	case StatusCompleted:
		logging.Info().Str("task_id", rec.TaskID).Str("user_id", rec.UserID).Msg("task completed")
	default:
		logging.Info().
			Str("task_id", rec.TaskID).
			Int("progress", rec.Progress).
			Str("status", string(rec.Status)).
			Msg("task progress updated")
	}
}
