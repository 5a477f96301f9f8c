// Package tasks provides the Redis-backed task queue connecting the API
// server to the background worker. Keeping the queue on the shared
// key-value store means request handlers stay horizontally scalable with
// no in-process coordination.
package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/scentmemory/scentmemory/pkg/observability"
)

// Task types.
const (
	TypeProcessMemory = "process_memory"
)

const queueKey = "tasks:memories"

// Task is a unit of background work.
type Task struct {
	Type       string    `json:"type"`
	MemoryID   string    `json:"memory_id"`
	UserID     string    `json:"user_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Queue pushes and pops tasks on a Redis list.
type Queue struct {
	client *redis.Client
	logger observability.Logger
}

// NewQueue creates a task queue over the given Redis client.
func NewQueue(client *redis.Client, logger observability.Logger) *Queue {
	if logger == nil {
		logger = observability.NewLogger("tasks.queue")
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue appends a task to the queue.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	task.EnqueuedAt = time.Now().UTC()
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.LPush(ctx, queueKey, data).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	q.logger.Debug("Enqueued task", map[string]interface{}{
		"type":      task.Type,
		"memory_id": task.MemoryID,
	})
	return nil
}

// Dequeue blocks up to timeout for the next task. Returns (nil, nil)
// when the timeout elapses with an empty queue.
func (q *Queue) Dequeue(ctx context.Context, timeout time.Duration) (*Task, error) {
	res, err := q.client.BRPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}
	if len(res) < 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply length %d", len(res))
	}

	var task Task
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}
	return &task, nil
}

// Len reports the number of pending tasks.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	n, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue length: %w", err)
	}
	return n, nil
}
