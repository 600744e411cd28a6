package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/character-lab/backend/internal/model"
)

// VideoRepository provides data access for video tasks and videos.
type VideoRepository struct {
	db *gorm.DB
}

// NewVideoRepository creates a new VideoRepository.
func NewVideoRepository(db *gorm.DB) *VideoRepository {
	return &VideoRepository{db: db}
}

// CreateTask inserts a new task.
func (r *VideoRepository) CreateTask(ctx context.Context, task *model.VideoTask) error {
	if err := r.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create video task: %w", err)
	}
	return nil
}

// GetTask retrieves a task regardless of owner.
func (r *VideoRepository) GetTask(ctx context.Context, id string) (*model.VideoTask, error) {
	var task model.VideoTask
	if err := r.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		return nil, notFound(err, model.ErrTaskNotFound)
	}
	return &task, nil
}

// GetTaskForUser retrieves a task owned by userID.
func (r *VideoRepository) GetTaskForUser(ctx context.Context, id, userID string) (*model.VideoTask, error) {
	var task model.VideoTask
	err := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&task).Error
	if err != nil {
		return nil, notFound(err, model.ErrTaskNotFound)
	}
	return &task, nil
}

// ListTasks returns a page of the tasks of userID, newest first.
func (r *VideoRepository) ListTasks(ctx context.Context, userID string, page Page) ([]*model.VideoTask, error) {
	var out []*model.VideoTask
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list video tasks: %w", err)
	}
	return out, nil
}

// CountActiveByUser counts pending and processing tasks of userID.
func (r *VideoRepository) CountActiveByUser(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.VideoTask{}).
		Where("user_id = ? AND status IN ?", userID, []string{model.TaskStatusPending, model.TaskStatusProcessing}).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count active tasks: %w", err)
	}
	return count, nil
}

// UpdateProgress stores an intermediate state of a task.
func (r *VideoRepository) UpdateProgress(ctx context.Context, id, status string, progress int, message string) error {
	res := r.db.WithContext(ctx).Model(&model.VideoTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":   status,
			"progress": progress,
			"message":  message,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update task progress: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// CompleteTask creates video and marks the task completed in one transaction.
func (r *VideoRepository) CompleteTask(ctx context.Context, id string, video *model.Video) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(video).Error; err != nil {
			return fmt.Errorf("failed to create video: %w", err)
		}
		now := time.Now()
		res := tx.Model(&model.VideoTask{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"status":       model.TaskStatusCompleted,
				"progress":     100,
				"message":      "",
				"video_id":     video.ID,
				"completed_at": now,
			})
		if res.Error != nil {
			return fmt.Errorf("failed to complete task: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return model.ErrTaskNotFound
		}
		return nil
	})
}

// FailTask marks a task failed.
func (r *VideoRepository) FailTask(ctx context.Context, id, errMsg string) error {
	res := r.db.WithContext(ctx).Model(&model.VideoTask{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":        model.TaskStatusFailed,
			"progress":      0,
			"error_message": errMsg,
			"completed_at":  time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to fail task: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrTaskNotFound
	}
	return nil
}

// FailInterrupted marks every pending or processing task failed. It runs at
// startup, when no generation job can still be alive.
func (r *VideoRepository) FailInterrupted(ctx context.Context, reason string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.VideoTask{}).
		Where("status IN ?", []string{model.TaskStatusPending, model.TaskStatusProcessing}).
		Updates(map[string]any{
			"status":        model.TaskStatusFailed,
			"progress":      0,
			"error_message": reason,
			"completed_at":  time.Now(),
		})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to fail interrupted tasks: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ListVideos returns a page of the videos of userID, newest first.
func (r *VideoRepository) ListVideos(ctx context.Context, userID string, page Page) ([]*model.Video, error) {
	var out []*model.Video
	q := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC")
	if err := page.apply(q).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to list videos: %w", err)
	}
	return out, nil
}
