// Package api wires the gin engine: middleware chain, routes, and
// request handlers.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"

	"github.com/scentmemory/scentmemory/internal/middleware"
	"github.com/scentmemory/scentmemory/internal/service"
	"github.com/scentmemory/scentmemory/pkg/auth"
	"github.com/scentmemory/scentmemory/pkg/config"
	"github.com/scentmemory/scentmemory/pkg/observability"
)

// Server holds the HTTP surface and its dependencies.
type Server struct {
	engine   *gin.Engine
	cfg      *config.Config
	authSvc  *auth.Service
	users    UserStore
	queries  *service.QueryService
	memories *service.MemoryService
	profiles service.ProfileStore
	redis    *redis.Client
	db       *sqlx.DB
	logger   observability.Logger
}

// Deps bundles the dependencies wired into a Server.
type Deps struct {
	Config   *config.Config
	AuthSvc  *auth.Service
	Users    UserStore
	Queries  *service.QueryService
	Memories *service.MemoryService
	Profiles service.ProfileStore
	Limiter  *middleware.RateLimiter
	Redis    *redis.Client
	DB       *sqlx.DB
	Logger   observability.Logger
}

// NewServer builds the gin engine with the full middleware chain:
// recovery, request logging, the in-process global guard, and the
// Redis-backed quota policy.
func NewServer(deps Deps) *Server {
	if deps.Config.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      deps.Config,
		authSvc:  deps.AuthSvc,
		users:    deps.Users,
		queries:  deps.Queries,
		memories: deps.Memories,
		profiles: deps.Profiles,
		redis:    deps.Redis,
		db:       deps.DB,
		logger:   deps.Logger,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestLogger(deps.Logger.WithPrefix("http")))
	engine.Use(middleware.GlobalLimit(deps.Config.Limits.GlobalRPS, deps.Config.Limits.GlobalBurst))
	engine.Use(deps.Limiter.Handler())

	s.registerRoutes(engine)
	s.engine = engine
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	engine.GET("/health", s.handleHealth)

	authGroup := engine.Group("/api/auth")
	{
		authGroup.POST("/register", s.handleRegister)
		authGroup.POST("/login", s.handleLogin)
	}

	api := engine.Group("/api")
	api.Use(s.authSvc.RequireAuth())
	{
		api.POST("/memories/upload", s.handleUploadMemory)
		api.GET("/memories", s.handleListMemories)

		api.POST("/query/search", s.handleSearch)
		api.POST("/query/:id/feedback", s.handleFeedback)
		api.GET("/query/cache/stats", s.handleCacheStats)

		api.GET("/profile/me", s.handleGetProfile)
		api.PUT("/profile/me", s.handleUpdateProfile)
	}
}

// Handler exposes the engine for tests and for http.Server wiring.
func (s *Server) Handler() http.Handler { return s.engine }

// Run serves HTTP until the context is canceled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Server.ListenAddress,
		Handler:      s.engine,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", map[string]interface{}{
			"address": s.cfg.Server.ListenAddress,
		})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("Shutting down HTTP server", nil)
		return srv.Shutdown(shutdownCtx)
	}
}
