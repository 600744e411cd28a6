package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/internal/config"
	"github.com/character-lab/backend/internal/progress"
	"github.com/character-lab/backend/internal/worker"
	"github.com/character-lab/backend/internal/ws"
)

// HealthHandler reports liveness and the load of the real-time layer.
type HealthHandler struct {
	server   config.ServerConfig
	registry *ws.Registry
	progress *progress.Store
	pool     *worker.Pool
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(server config.ServerConfig, registry *ws.Registry, store *progress.Store, pool *worker.Pool) *HealthHandler {
	return &HealthHandler{server: server, registry: registry, progress: store, pool: pool}
}

// Root handles GET /.
func (h *HealthHandler) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Welcome to " + h.server.AppName + " API",
		"version": h.server.Version,
		"health":  "/health",
	})
}

// Health handles GET /health.
func (h *HealthHandler) Health(c *gin.Context) {
	body := gin.H{
		"status":      "ok",
		"app":         h.server.AppName,
		"version":     h.server.Version,
		"environment": h.server.Environment,
		"connections": h.registry.ConnectionCount(),
	}
	if h.progress != nil {
		body["progress_records"] = h.progress.Len()
	}
	if h.pool != nil {
		body["workers"] = h.pool.Workers()
		body["queued_jobs"] = h.pool.Pending()
	}
	c.JSON(http.StatusOK, body)
}
