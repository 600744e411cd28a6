package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/character-lab/backend/internal/ai"
	"github.com/character-lab/backend/internal/auth"
	"github.com/character-lab/backend/internal/config"
	"github.com/character-lab/backend/internal/progress"
	"github.com/character-lab/backend/internal/repository"
	"github.com/character-lab/backend/internal/storage"
	"github.com/character-lab/backend/internal/video"
	"github.com/character-lab/backend/internal/worker"
	"github.com/character-lab/backend/internal/ws"
)

// Dependencies are the services the router dispatches to.
type Dependencies struct {
	Server     config.ServerConfig
	Tokens     *auth.TokenManager
	Users      *repository.UserRepository
	Characters *repository.CharacterRepository
	Files      *storage.LocalStore
	Analyzer   ai.Analyzer
	Videos     *video.Manager
	Endpoint   *ws.Endpoint
	Progress   *progress.Store
	Pool       *worker.Pool
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), ProcessTime(), RequestLogger(), CORS(deps.Server.CORSOrigins))

	health := NewHealthHandler(deps.Server, deps.Endpoint.Registry(), deps.Progress, deps.Pool)
	r.GET("/", health.Root)
	r.GET("/health", health.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.Static("/uploads", deps.Files.Root())

	api := r.Group("/api/v1")
	protected := api.Group("", auth.RequireAuth(deps.Tokens))

	NewAuthHandler(deps.Users, deps.Tokens).RegisterRoutes(api, protected)
	NewCharacterHandler(deps.Characters, deps.Files).RegisterRoutes(protected)
	NewUploadHandler(deps.Characters, deps.Files, deps.Analyzer).RegisterRoutes(protected)
	NewVideoHandler(deps.Videos).RegisterRoutes(protected)
	NewWebSocketHandler(deps.Endpoint).RegisterRoutes(r, api)

	return r
}
