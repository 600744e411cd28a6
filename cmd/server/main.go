package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/character-lab/backend/api/handlers"
	"github.com/character-lab/backend/internal/ai"
	"github.com/character-lab/backend/internal/auth"
	"github.com/character-lab/backend/internal/config"
	"github.com/character-lab/backend/internal/db"
	"github.com/character-lab/backend/internal/logging"
	"github.com/character-lab/backend/internal/progress"
	"github.com/character-lab/backend/internal/repository"
	"github.com/character-lab/backend/internal/storage"
	"github.com/character-lab/backend/internal/video"
	"github.com/character-lab/backend/internal/worker"
	"github.com/character-lab/backend/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Initialize database
	database, err := db.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize database")
	}
	defer db.Close(database)

	// Initialize repositories
	users := repository.NewUserRepository(database)
	characters := repository.NewCharacterRepository(database)
	videos := repository.NewVideoRepository(database)

	tokens, err := auth.NewTokenManager(cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize token manager")
	}

	files, err := storage.NewLocalStore(cfg.Upload.Dir, "/uploads", cfg.Upload.MaxFileSize)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize upload storage")
	}

	// Real-time layer
	registry := ws.NewRegistry()
	store := progress.NewStore()
	tracker := progress.NewTracker(store, registry)

	janitor, err := progress.NewJanitor(store, cfg.Progress.EvictionSchedule, cfg.Progress.Retention)
	if err != nil {
		logging.Fatal().Err(err).Msg("failed to initialize progress janitor")
	}
	janitor.Start()

	// Video generation
	pool := worker.NewPool(cfg.Video.Workers, cfg.Video.QueueSize)
	manager := video.NewManager(characters, videos, tracker, pool, ai.StubGenerator{StepDelay: cfg.AI.StepDelay}, video.Config{
		MaxActiveTasksPerUser: cfg.Video.MaxActiveTasksPerUser,
	})
	if err := manager.RecoverInterrupted(context.Background()); err != nil {
		logging.Error().Err(err).Msg("failed to recover interrupted video tasks")
	}

	endpoint := ws.NewEndpoint(registry, tokens, manager, ws.Options{
		WriteWait:      cfg.WebSocket.WriteWait,
		PongWait:       cfg.WebSocket.PongWait,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
		SendBuffer:     cfg.WebSocket.SendBuffer,
		PollInterval:   cfg.WebSocket.PollInterval,
		CheckOrigin:    originChecker(cfg.Server.CORSOrigins),
	})

	router := handlers.NewRouter(handlers.Dependencies{
		Server:     cfg.Server,
		Tokens:     tokens,
		Users:      users,
		Characters: characters,
		Files:      files,
		Analyzer:   ai.NewAnalyzer(cfg.AI),
		Videos:     manager,
		Endpoint:   endpoint,
		Progress:   store,
		Pool:       pool,
	})

	srv := &http.Server{
		Addr:    cfg.Server.Addr(),
		Handler: router,
	}

	go func() {
		logging.Info().
			Str("addr", srv.Addr).
			Str("app", cfg.Server.AppName).
			Str("version", cfg.Server.Version).
			Str("environment", cfg.Server.Environment).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logging.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Hijacked sockets are not tracked by Shutdown; close them first.
	registry.BroadcastAll(ws.NewServerShutdown(time.Now()))
	registry.Close()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("server shutdown failed")
	}
	if err := pool.Stop(ctx); err != nil {
		logging.Error().Err(err).Msg("worker pool did not stop in time")
	}
	janitor.Stop()
	logging.Info().Msg("server stopped")
}

// originChecker accepts WebSocket handshakes from the configured origins.
// Requests without an Origin header come from non-browser clients.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[strings.TrimSuffix(o, "/")] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || allowed[origin]
	}
}
