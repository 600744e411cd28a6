package ws

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/progress"
)

// ServeTaskStatus upgrades the request and streams task_status frames for one
// task every poll interval until the task reaches a terminal status, the task
// cannot be found, or the peer goes away. The "token" query parameter is
// required and must belong to the task owner.
func (e *Endpoint) ServeTaskStatus(w http.ResponseWriter, r *http.Request, taskID string) error {
	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	userID, ok := e.tokenSubject(r.URL.Query().Get("token"))
	if !ok {
		e.refuse(conn, "")
		return nil
	}

	// Drain inbound frames so close and pong control frames are processed.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(e.opts.PollInterval)
	defer ticker.Stop()

	for {
		done, err := e.pollOnce(r.Context(), conn, userID, taskID)
		if err != nil {
			logging.Debug().Err(err).Str("task_id", taskID).Msg("task status poller stopped")
			return nil
		}
		if done {
			e.closeNormal(conn)
			return nil
		}

		select {
		case <-ticker.C:
		case <-gone:
			return nil
		case <-r.Context().Done():
			return nil
		}
	}
}

// pollOnce writes one frame and reports whether polling is finished.
func (e *Endpoint) pollOnce(ctx context.Context, conn *websocket.Conn, userID, taskID string) (bool, error) {
	var (
		rec progress.Record
		err = ErrTaskNotFound
	)
	if e.tasks != nil {
		lookupCtx, cancel := context.WithTimeout(ctx, e.opts.WriteWait)
		rec, err = e.tasks.LookupTask(lookupCtx, taskID)
		cancel()
	}

	var frame any
	done := false
	switch {
	case err == nil && rec.UserID == userID:
		frame = NewTaskStatus(rec)
		done = rec.Status.IsTerminal()
	case err == nil || errors.Is(err, ErrTaskNotFound):
		frame, done = newError("task not found"), true
	default:
		logging.Error().Err(err).Str("task_id", taskID).Msg("failed to look up task")
		frame, done = newError("failed to load task"), true
	}

	data, encErr := encode(frame)
	if encErr != nil {
		return true, encErr
	}
	_ = conn.SetWriteDeadline(e.now().Add(e.opts.WriteWait))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return true, err
	}
	return done, nil
}

func (e *Endpoint) tokenSubject(token string) (string, bool) {
	if token == "" || e.validator == nil {
		return "", false
	}
	subject, err := e.validator.ValidateToken(token)
	if err != nil || subject == "" {
		return "", false
	}
	return subject, true
}

func (e *Endpoint) closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "task finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, e.now().Add(e.opts.WriteWait))
}
