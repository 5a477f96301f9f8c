// Command server runs the scentmemory API: auth, memory upload, the
// retrieval-augmented query endpoint with its recommendation cache, and
// the quota-enforcing middleware chain.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/scentmemory/scentmemory/internal/api"
	"github.com/scentmemory/scentmemory/internal/middleware"
	"github.com/scentmemory/scentmemory/internal/service"
	"github.com/scentmemory/scentmemory/pkg/auth"
	"github.com/scentmemory/scentmemory/pkg/config"
	"github.com/scentmemory/scentmemory/pkg/database"
	"github.com/scentmemory/scentmemory/pkg/embedding"
	"github.com/scentmemory/scentmemory/pkg/llm"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/quota"
	"github.com/scentmemory/scentmemory/pkg/recommend"
	"github.com/scentmemory/scentmemory/pkg/repository"
	"github.com/scentmemory/scentmemory/pkg/tasks"
	"github.com/scentmemory/scentmemory/pkg/vector"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := observability.NewLogger("server")

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := database.Connect(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	if err := database.Migrate(db); err != nil {
		logger.Fatal("Failed to run migrations", map[string]interface{}{"error": err.Error()})
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rdb.Ping(ctx).Err(); err != nil {
		// The cache and limiter tolerate Redis being down; startup does too.
		logger.Warn("Redis unreachable at startup", map[string]interface{}{"error": err.Error()})
	}

	metrics := observability.NewMetricsClient()

	cache, err := recommend.New(rdb, recommend.Config{
		TTL:                 cfg.Cache.TTL,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		MaxScan:             cfg.Cache.MaxScan,
	}, logger.WithPrefix("recommend"), metrics)
	if err != nil {
		logger.Fatal("Failed to init recommendation cache", map[string]interface{}{"error": err.Error()})
	}

	limiter := quota.New(rdb, cfg.Limits.FailOpen, logger.WithPrefix("quota"), metrics)
	authSvc := auth.NewService(cfg.Auth.Secret, cfg.Auth.TokenTTL)

	completer := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, logger.WithPrefix("llm"))

	embedder := embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.EmbeddingModel,
		Timeout: cfg.OpenAI.Timeout,
	})

	vectors, err := vector.NewChromemStore(vector.ChromemConfig{
		PersistPath: cfg.Vector.PersistPath,
		Compress:    cfg.Vector.Compress,
	}, logger.WithPrefix("vector"))
	if err != nil {
		logger.Fatal("Failed to init vector store", map[string]interface{}{"error": err.Error()})
	}

	queue := tasks.NewQueue(rdb, logger.WithPrefix("tasks"))

	users := repository.NewUserRepository(db)
	memories := repository.NewMemoryRepository(db)
	profiles := repository.NewProfileRepository(db)
	queryLogs := repository.NewQueryLogRepository(db)

	queryService := service.NewQueryService(
		cache, embedder, vectors, completer, queryLogs, profiles,
		cfg.Vector.TopK, logger.WithPrefix("service.query"), metrics,
	)
	memoryService := service.NewMemoryService(memories, queue, logger.WithPrefix("service.memories"))

	rateLimiter := middleware.NewRateLimiter(limiter, authSvc, middleware.QuotaConfig{
		UploadsPerDay:        cfg.Limits.UploadsPerDay,
		QueriesPerDay:        cfg.Limits.QueriesPerDay,
		ProfileUpdatesPerDay: cfg.Limits.ProfileUpdatesPerDay,
		RequestsPerMinute:    cfg.Limits.RequestsPerMinute,
	}, logger.WithPrefix("middleware.ratelimit"))

	server := api.NewServer(api.Deps{
		Config:   cfg,
		AuthSvc:  authSvc,
		Users:    users,
		Queries:  queryService,
		Memories: memoryService,
		Profiles: profiles,
		Limiter:  rateLimiter,
		Redis:    rdb,
		DB:       db,
		Logger:   logger,
	})

	if err := server.Run(ctx); err != nil {
		logger.Fatal("Server exited with error", map[string]interface{}{"error": err.Error()})
	}
	logger.Info("Server stopped", nil)
}
