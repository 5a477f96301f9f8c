// Command worker consumes the memory-processing queue: note extraction,
// chunk embedding, vector indexing, and recommendation cache
// invalidation once a user's corpus changes.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/go-redis/redis/v8"

	"github.com/scentmemory/scentmemory/internal/service"
	"github.com/scentmemory/scentmemory/pkg/config"
	"github.com/scentmemory/scentmemory/pkg/database"
	"github.com/scentmemory/scentmemory/pkg/embedding"
	"github.com/scentmemory/scentmemory/pkg/llm"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/recommend"
	"github.com/scentmemory/scentmemory/pkg/repository"
	"github.com/scentmemory/scentmemory/pkg/tasks"
	"github.com/scentmemory/scentmemory/pkg/vector"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := observability.NewLogger("worker")

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("Failed to load configuration", map[string]interface{}{"error": err.Error()})
	}

	db, err := database.Connect(cfg.Database.DSN)
	if err != nil {
		logger.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Address,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer rdb.Close()

	metrics := observability.NewMetricsClient()

	cache, err := recommend.New(rdb, recommend.Config{
		TTL:                 cfg.Cache.TTL,
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		MaxScan:             cfg.Cache.MaxScan,
	}, logger.WithPrefix("recommend"), metrics)
	if err != nil {
		logger.Fatal("Failed to init recommendation cache", map[string]interface{}{"error": err.Error()})
	}

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

	memories := repository.NewMemoryRepository(db)
	queue := tasks.NewQueue(rdb, logger.WithPrefix("tasks"))
	processor := service.NewMemoryProcessor(memories, embedder, vectors, completer, cache, logger.WithPrefix("processor"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Worker starting", map[string]interface{}{
		"concurrency": cfg.Worker.Concurrency,
	})

	var wg sync.WaitGroup
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			runConsumer(ctx, id, queue, processor, cfg, logger)
		}(i)
	}

	wg.Wait()
	logger.Info("Worker stopped", nil)
}

// runConsumer polls the queue until the context is canceled. Task
// failures are logged and the loop continues; a failed task is dropped
// rather than retried forever.
func runConsumer(ctx context.Context, id int, queue *tasks.Queue, processor *service.MemoryProcessor, cfg *config.Config, logger observability.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, err := queue.Dequeue(ctx, cfg.Worker.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to dequeue task", map[string]interface{}{
				"consumer": id,
				"error":    err.Error(),
			})
			continue
		}
		if task == nil {
			continue
		}

		if err := processor.Process(ctx, task); err != nil {
			logger.Error("Task processing failed", map[string]interface{}{
				"consumer":  id,
				"memory_id": task.MemoryID,
				"error":     err.Error(),
			})
		}
	}
}
