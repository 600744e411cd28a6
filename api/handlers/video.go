package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/internal/model"
	"github.com/character-lab/backend/internal/video"
)

// VideoHandler handles HTTP requests for video generation.
type VideoHandler struct {
	manager *video.Manager
}

// NewVideoHandler creates a new VideoHandler.
func NewVideoHandler(manager *video.Manager) *VideoHandler {
	return &VideoHandler{manager: manager}
}

// VideoTaskResponse represents a video task in API responses.
type VideoTaskResponse struct {
	ID            string  `json:"id"`
	CharacterID   string  `json:"character_id"`
	Status        string  `json:"status"`
	Progress      int     `json:"progress"`
	Message       string  `json:"message,omitempty"`
	Error         string  `json:"error,omitempty"`
	EstimatedTime *int    `json:"estimated_time"`
	VideoID       *string `json:"video_id,omitempty"`
	ProgressURL   string  `json:"progress_url"`
	CreatedAt     string  `json:"created_at"`
}

// VideoResponse represents a finished video in API responses.
type VideoResponse struct {
	ID           string  `json:"id"`
	UserID       string  `json:"user_id"`
	CharacterID  string  `json:"character_id"`
	Title        string  `json:"title"`
	Description  *string `json:"description"`
	Script       string  `json:"script"`
	Duration     int     `json:"duration"`
	Style        string  `json:"style"`
	VideoURL     *string `json:"video_url"`
	ThumbnailURL *string `json:"thumbnail_url"`
	Status       string  `json:"status"`
	CreatedAt    string  `json:"created_at"`
}

func toVideoTaskResponse(t *model.VideoTask) *VideoTaskResponse {
	return &VideoTaskResponse{
		ID:            t.ID,
		CharacterID:   t.CharacterID,
		Status:        t.Status,
		Progress:      t.Progress,
		Message:       t.Message,
		Error:         t.ErrorMessage,
		EstimatedTime: t.EstimatedTime,
		VideoID:       t.VideoID,
		ProgressURL:   "/api/v1/videos/ws/" + t.ID,
		CreatedAt:     t.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func toVideoResponse(v *model.Video) *VideoResponse {
	return &VideoResponse{
		ID:           v.ID,
		UserID:       v.UserID,
		CharacterID:  v.CharacterID,
		Title:        v.Title,
		Description:  v.Description,
		Script:       v.Script,
		Duration:     v.Duration,
		Style:        v.Style,
		VideoURL:     v.VideoURL,
		ThumbnailURL: v.ThumbnailURL,
		Status:       v.Status,
		CreatedAt:    v.CreatedAt.UTC().Format(time.RFC3339),
	}
}

// Generate handles POST /api/v1/videos/generate.
func (h *VideoHandler) Generate(c *gin.Context) {
	var req model.GenerateVideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}
	req.UserID = getUserID(c)

	task, err := h.manager.CreateTask(c.Request.Context(), &req)
	if err != nil {
		sendDomainError(c, err, "create video task")
		return
	}
	c.JSON(http.StatusAccepted, toVideoTaskResponse(task))
}

// ListTasks handles GET /api/v1/videos/tasks.
func (h *VideoHandler) ListTasks(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	tasks, err := h.manager.ListTasks(c.Request.Context(), getUserID(c), page)
	if err != nil {
		sendDomainError(c, err, "list video tasks")
		return
	}

	resp := make([]*VideoTaskResponse, 0, len(tasks))
	for _, t := range tasks {
		resp = append(resp, toVideoTaskResponse(t))
	}
	c.JSON(http.StatusOK, resp)
}

// GetTask handles GET /api/v1/videos/tasks/:id.
func (h *VideoHandler) GetTask(c *gin.Context) {
	task, err := h.manager.GetTask(c.Request.Context(), c.Param("id"), getUserID(c))
	if err != nil {
		sendDomainError(c, err, "get video task")
		return
	}
	c.JSON(http.StatusOK, toVideoTaskResponse(task))
}

// ListVideos handles GET /api/v1/videos.
func (h *VideoHandler) ListVideos(c *gin.Context) {
	page, ok := pageFromQuery(c)
	if !ok {
		return
	}
	videos, err := h.manager.ListVideos(c.Request.Context(), getUserID(c), page)
	if err != nil {
		sendDomainError(c, err, "list videos")
		return
	}

	resp := make([]*VideoResponse, 0, len(videos))
	for _, v := range videos {
		resp = append(resp, toVideoResponse(v))
	}
	c.JSON(http.StatusOK, resp)
}

// RegisterRoutes registers the video routes on an authenticated group.
func (h *VideoHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/videos/generate", h.Generate)
	rg.GET("/videos/tasks", h.ListTasks)
	rg.GET("/videos/tasks/:id", h.GetTask)
	rg.GET("/videos", h.ListVideos)
}
