package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/ws"
)

// WebSocketHandler serves the real-time endpoints.
type WebSocketHandler struct {
	endpoint *ws.Endpoint
}

// NewWebSocketHandler creates a new WebSocketHandler.
func NewWebSocketHandler(endpoint *ws.Endpoint) *WebSocketHandler {
	return &WebSocketHandler{endpoint: endpoint}
}

// Connect handles WS /ws/:user_id. Authentication happens on the socket via
// the token query parameter.
func (h *WebSocketHandler) Connect(c *gin.Context) {
	userID := c.Param("user_id")
	if userID == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "User ID is required")
		return
	}

	if err := h.endpoint.Serve(c.Writer, c.Request, userID); err != nil {
		// The upgrader has already written the HTTP error.
		logging.Debug().Err(err).Str("user_id", userID).Msg("websocket upgrade failed")
	}
}

// TaskStatus handles WS /api/v1/videos/ws/:task_id.
func (h *WebSocketHandler) TaskStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	if err := h.endpoint.ServeTaskStatus(c.Writer, c.Request, taskID); err != nil {
		logging.Debug().Err(err).Str("task_id", taskID).Msg("websocket upgrade failed")
	}
}

// RegisterRoutes registers the socket routes. root serves /ws/:user_id and
// api serves the task poller below /videos.
func (h *WebSocketHandler) RegisterRoutes(root *gin.Engine, api *gin.RouterGroup) {
	root.GET("/ws/:user_id", h.Connect)
	api.GET("/videos/ws/:task_id", h.TaskStatus)
}
