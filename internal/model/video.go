package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Task statuses stored on VideoTask. They mirror the progress statuses.
const (
	TaskStatusPending    = "pending"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Accepted video styles and qualities.
var (
	VideoStyles    = []string{"realistic", "cartoon", "artistic"}
	VideoQualities = []string{"standard", "high", "ultra"}
)

// Duration bounds in seconds.
const (
	MinVideoDuration     = 1
	MaxVideoDuration     = 300
	DefaultVideoDuration = 30
)

// VideoTask is a video generation job.
type VideoTask struct {
	ID            string     `gorm:"primaryKey" json:"id"`
	UserID        string     `gorm:"index;not null" json:"user_id"`
	CharacterID   string     `gorm:"index;not null" json:"character_id"`
	Script        string     `gorm:"type:text;not null" json:"script"`
	Duration      int        `gorm:"not null;default:30" json:"duration"`
	Style         string     `gorm:"not null;default:realistic" json:"style"`
	Quality       string     `gorm:"not null;default:standard" json:"quality"`
	Status        string     `gorm:"index;not null;default:pending" json:"status"`
	Progress      int        `gorm:"not null;default:0" json:"progress"`
	Message       string     `json:"message,omitempty"`
	ErrorMessage  string     `gorm:"type:text" json:"error_message,omitempty"`
	EstimatedTime *int       `json:"estimated_time"`
	VideoID       *string    `json:"video_id"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// BeforeCreate generates the id.
func (t *VideoTask) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TableName specifies the table name for GORM
func (VideoTask) TableName() string {
	return "video_tasks"
}

// IsActive reports whether the task still occupies a generation slot.
func (t *VideoTask) IsActive() bool {
	return t.Status == TaskStatusPending || t.Status == TaskStatusProcessing
}

// Video is a finished generated video.
type Video struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	UserID       string    `gorm:"index;not null" json:"user_id"`
	CharacterID  string    `gorm:"index;not null" json:"character_id"`
	TaskID       string    `gorm:"index" json:"task_id"`
	Title        string    `gorm:"not null" json:"title"`
	Description  *string   `json:"description"`
	Script       string    `gorm:"type:text;not null" json:"script"`
	Duration     int       `json:"duration"`
	Style        string    `json:"style"`
	VideoURL     *string   `json:"video_url"`
	ThumbnailURL *string   `json:"thumbnail_url"`
	Status       string    `gorm:"not null" json:"status"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate generates the id.
func (v *Video) BeforeCreate(tx *gorm.DB) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	return nil
}

// TableName specifies the table name for GORM
func (Video) TableName() string {
	return "videos"
}

// GenerateVideoRequest is the body of a generation request.
type GenerateVideoRequest struct {
	CharacterID     string  `json:"character_id" binding:"required"`
	Script          string  `json:"script"`
	Duration        int     `json:"duration"`
	Style           string  `json:"style"`
	Quality         string  `json:"quality"`
	BackgroundMusic *string `json:"background_music"`
	VoiceOver       *string `json:"voice_over"`
	UserID          string  `json:"-"`
}

// Normalize fills defaults for omitted fields.
func (r *GenerateVideoRequest) Normalize() {
	if r.Duration == 0 {
		r.Duration = DefaultVideoDuration
	}
	if r.Style == "" {
		r.Style = VideoStyles[0]
	}
	if r.Quality == "" {
		r.Quality = VideoQualities[0]
	}
}

// Validate validates the generation request.
func (r *GenerateVideoRequest) Validate() error {
	if strings.TrimSpace(r.Script) == "" {
		return ErrScriptRequired
	}
	if r.Duration < MinVideoDuration || r.Duration > MaxVideoDuration {
		return ErrInvalidDuration
	}
	if !contains(VideoStyles, r.Style) {
		return ErrInvalidStyle
	}
	if !contains(VideoQualities, r.Quality) {
		return ErrInvalidQuality
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
