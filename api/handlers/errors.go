// Package handlers provides HTTP API request handlers.
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/internal/auth"
	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/model"
	"github.com/character-lab/backend/internal/repository"
)

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error details.
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// MessageResponse is returned by operations without a body of their own.
type MessageResponse struct {
	Message string `json:"message"`
}

// getUserID extracts the user ID set by auth.RequireAuth.
func getUserID(c *gin.Context) string {
	return c.GetString(auth.ContextUserID)
}

// sendError sends an error response with the appropriate status code.
func sendError(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// sendDomainError maps a sentinel error to its response. Unknown errors are
// logged and reported as internal errors.
func sendDomainError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, model.ErrCharacterNotFound):
		sendError(c, http.StatusNotFound, "CHARACTER_NOT_FOUND", "Character not found")
	case errors.Is(err, model.ErrImageNotFound):
		sendError(c, http.StatusNotFound, "IMAGE_NOT_FOUND", "Image not found")
	case errors.Is(err, model.ErrTaskNotFound):
		sendError(c, http.StatusNotFound, "TASK_NOT_FOUND", "Task not found")
	case errors.Is(err, model.ErrUserNotFound):
		sendError(c, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
	case errors.Is(err, model.ErrEmailTaken), errors.Is(err, model.ErrUsernameTaken):
		sendError(c, http.StatusBadRequest, "ALREADY_EXISTS", "Email or username already exists")
	case errors.Is(err, model.ErrNameRequired),
		errors.Is(err, model.ErrScriptRequired),
		errors.Is(err, model.ErrInvalidStyle),
		errors.Is(err, model.ErrInvalidQuality),
		errors.Is(err, model.ErrInvalidDuration):
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, model.ErrConcurrencyLimit):
		sendError(c, http.StatusTooManyRequests, "CONCURRENCY_LIMIT", err.Error())
	case errors.Is(err, model.ErrQueueFull):
		sendError(c, http.StatusServiceUnavailable, "QUEUE_FULL", "Generation queue is full, try again later")
	default:
		logging.Error().Err(err).Str("path", c.FullPath()).Msg(action + " failed")
		sendError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action)
	}
}

// pageFromQuery reads the skip and limit query parameters.
func pageFromQuery(c *gin.Context) (repository.Page, bool) {
	var page repository.Page
	for _, p := range []struct {
		name string
		dst  *int
	}{{"skip", &page.Skip}, {"limit", &page.Limit}} {
		raw := c.Query(p.name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid "+p.name+" parameter")
			return page, false
		}
		*p.dst = v
	}
	return page, true
}
