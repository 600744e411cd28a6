// Package video manages video generation tasks: it persists them, runs them
// on the worker pool and reports their progress.
package video

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/character-lab/backend/internal/ai"
	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/metrics"
	"github.com/character-lab/backend/internal/model"
	"github.com/character-lab/backend/internal/progress"
	"github.com/character-lab/backend/internal/repository"
	"github.com/character-lab/backend/internal/worker"
	"github.com/character-lab/backend/internal/ws"
)

// Config holds configuration for the video manager.
type Config struct {
	MaxActiveTasksPerUser int
}

// Manager manages video generation tasks.
type Manager struct {
	characters *repository.CharacterRepository
	repo       *repository.VideoRepository
	tracker    *progress.Tracker
	pool       *worker.Pool
	generator  ai.Generator

	maxActivePerUser int

	// mu serializes the active-task limit check with task creation.
	mu sync.Mutex
}

// NewManager creates a new video manager.
func NewManager(
	characters *repository.CharacterRepository,
	repo *repository.VideoRepository,
	tracker *progress.Tracker,
	pool *worker.Pool,
	generator ai.Generator,
	config Config,
) *Manager {
	if config.MaxActiveTasksPerUser <= 0 {
		config.MaxActiveTasksPerUser = 3
	}
	return &Manager{
		characters:       characters,
		repo:             repo,
		tracker:          tracker,
		pool:             pool,
		generator:        generator,
		maxActivePerUser: config.MaxActiveTasksPerUser,
	}
}

// CreateTask validates req, stores a pending task and queues its generation.
func (m *Manager) CreateTask(ctx context.Context, req *model.GenerateVideoRequest) (*model.VideoTask, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	ok, err := m.characters.Exists(ctx, req.CharacterID, req.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, model.ErrCharacterNotFound
	}

	task, err := m.insertTask(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := m.tracker.Update(task.ID, task.UserID, 0, progress.StatusPending, "Task queued"); err != nil {
		logging.Error().Err(err).Str("task_id", task.ID).Msg("failed to record queued task")
	}

	job := m.generate(*task)
	if err := m.pool.Submit("video:"+task.ID, job); err != nil {
		reason := "generation queue is full"
		if errors.Is(err, worker.ErrStopped) {
			reason = "server is shutting down"
		}
		m.fail(task, reason)
		if errors.Is(err, worker.ErrQueueFull) {
			return nil, model.ErrQueueFull
		}
		return nil, err
	}

	metrics.VideoTasksSubmitted.Inc()
	logging.Info().
		Str("task_id", task.ID).
		Str("user_id", task.UserID).
		Str("character_id", task.CharacterID).
		Msg("video task queued")
	return task, nil
}

func (m *Manager) insertTask(ctx context.Context, req *model.GenerateVideoRequest) (*model.VideoTask, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	active, err := m.repo.CountActiveByUser(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if active >= int64(m.maxActivePerUser) {
		return nil, fmt.Errorf("%w: %d active tasks", model.ErrConcurrencyLimit, active)
	}

	estimate := estimatedSeconds(req)
	task := &model.VideoTask{
		UserID:        req.UserID,
		CharacterID:   req.CharacterID,
		Script:        req.Script,
		Duration:      req.Duration,
		Style:         req.Style,
		Quality:       req.Quality,
		Status:        model.TaskStatusPending,
		EstimatedTime: &estimate,
	}
	if err := m.repo.CreateTask(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

// estimatedSeconds scales the clip length by a per-quality render factor.
func estimatedSeconds(req *model.GenerateVideoRequest) int {
	factor := 2
	switch req.Quality {
	case "high":
		factor = 3
	case "ultra":
		factor = 5
	}
	return req.Duration * factor
}

// generate returns the worker job rendering task.
func (m *Manager) generate(task model.VideoTask) worker.Job {
	return func(ctx context.Context) error {
		m.report(ctx, &task, 5, "Generation started")

		result, err := m.generator.Generate(ctx, ai.GenerationRequest{
			TaskID:      task.ID,
			CharacterID: task.CharacterID,
			Script:      task.Script,
			Duration:    task.Duration,
			Style:       task.Style,
			Quality:     task.Quality,
		}, func(p int, msg string) {
			m.report(ctx, &task, p, msg)
		})
		if err != nil {
			msg := err.Error()
			if errors.Is(err, context.Canceled) {
				msg = "generation cancelled"
			}
			m.fail(&task, msg)
			return err
		}

		video := &model.Video{
			UserID:       task.UserID,
			CharacterID:  task.CharacterID,
			TaskID:       task.ID,
			Title:        result.Title,
			Script:       task.Script,
			Duration:     task.Duration,
			Style:        task.Style,
			VideoURL:     &result.VideoURL,
			ThumbnailURL: &result.ThumbnailURL,
			Status:       model.TaskStatusCompleted,
		}
		if err := m.repo.CompleteTask(context.WithoutCancel(ctx), task.ID, video); err != nil {
			m.fail(&task, "failed to save video")
			return err
		}

		m.tracker.Complete(task.ID, task.UserID, map[string]any{
			"video_id":      video.ID,
			"video_url":     result.VideoURL,
			"thumbnail_url": result.ThumbnailURL,
		})
		metrics.VideoTasksFinished.WithLabelValues("completed").Inc()
		logging.Info().Str("task_id", task.ID).Str("video_id", video.ID).Msg("video task completed")
		return nil
	}
}

// report publishes an intermediate step and persists it to the task row.
func (m *Manager) report(ctx context.Context, task *model.VideoTask, p int, msg string) {
	if err := m.tracker.Update(task.ID, task.UserID, p, progress.StatusProcessing, msg); err != nil {
		logging.Warn().Err(err).Str("task_id", task.ID).Msg("failed to record progress")
	}
	if err := m.repo.UpdateProgress(context.WithoutCancel(ctx), task.ID, model.TaskStatusProcessing, p, msg); err != nil {
		logging.Warn().Err(err).Str("task_id", task.ID).Msg("failed to persist progress")
	}
}

func (m *Manager) fail(task *model.VideoTask, reason string) {
	if err := m.repo.FailTask(context.Background(), task.ID, reason); err != nil {
		logging.Error().Err(err).Str("task_id", task.ID).Msg("failed to persist task failure")
	}
	m.tracker.Fail(task.ID, task.UserID, reason)
	metrics.VideoTasksFinished.WithLabelValues("failed").Inc()
	logging.Warn().Str("task_id", task.ID).Str("reason", reason).Msg("video task failed")
}

// GetTask returns a task of userID with its live progress applied.
func (m *Manager) GetTask(ctx context.Context, taskID, userID string) (*model.VideoTask, error) {
	task, err := m.repo.GetTaskForUser(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	m.overlay(task)
	return task, nil
}

// ListTasks returns a page of the tasks of userID with live progress applied.
func (m *Manager) ListTasks(ctx context.Context, userID string, page repository.Page) ([]*model.VideoTask, error) {
	tasks, err := m.repo.ListTasks(ctx, userID, page)
	if err != nil {
		return nil, err
	}
	for _, task := range tasks {
		m.overlay(task)
	}
	return tasks, nil
}

// ListVideos returns a page of the finished videos of userID.
func (m *Manager) ListVideos(ctx context.Context, userID string, page repository.Page) ([]*model.Video, error) {
	return m.repo.ListVideos(ctx, userID, page)
}

// overlay copies the in-memory record over the row. The tracker sees every
// step first, so it is never older than the database.
func (m *Manager) overlay(task *model.VideoTask) {
	rec, ok := m.tracker.Store().Get(task.ID)
	if !ok || rec.UserID != task.UserID {
		return
	}
	task.Status = string(rec.Status)
	task.Progress = rec.Progress
	task.Message = rec.Message
	if rec.Error != "" {
		task.ErrorMessage = rec.Error
	}
}

// LookupTask returns the progress record of a task from memory, falling back
// to the database for tasks that have been evicted or predate this process.
func (m *Manager) LookupTask(ctx context.Context, taskID string) (progress.Record, error) {
	if rec, ok := m.tracker.Store().Get(taskID); ok {
		return rec, nil
	}

	task, err := m.repo.GetTask(ctx, taskID)
	if errors.Is(err, model.ErrTaskNotFound) {
		return progress.Record{}, ws.ErrTaskNotFound
	}
	if err != nil {
		return progress.Record{}, err
	}
	return recordFromTask(task), nil
}

func recordFromTask(task *model.VideoTask) progress.Record {
	status, err := progress.ParseStatus(task.Status)
	if err != nil {
		status = progress.StatusPending
	}
	rec := progress.Record{
		TaskID:    task.ID,
		UserID:    task.UserID,
		Progress:  task.Progress,
		Status:    status,
		Message:   task.Message,
		Error:     task.ErrorMessage,
		UpdatedAt: task.UpdatedAt,
	}
	if status == progress.StatusCompleted && task.VideoID != nil {
		rec.Result = map[string]any{"video_id": *task.VideoID}
	}
	return rec
}

// RecoverInterrupted fails tasks left active by a previous process.
func (m *Manager) RecoverInterrupted(ctx context.Context) error {
	n, err := m.repo.FailInterrupted(ctx, "server restarted before the task finished")
	if err != nil {
		return err
	}
	if n > 0 {
		logging.Warn().Int64("tasks", n).Msg("marked interrupted video tasks as failed")
	}
	return nil
}
