package service

import (
	"context"
	"errors"
	"strings"

	"github.com/scentmemory/scentmemory/pkg/models"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/repository"
	"github.com/scentmemory/scentmemory/pkg/tasks"
)

// Memory validation errors.
var (
	ErrEmptyContent   = errors.New("content must not be empty")
	ErrContentTooLong = errors.New("content must be at most 10000 characters")
	ErrTitleTooLong   = errors.New("title must be at most 200 characters")
)

const (
	maxMemoryContent = 10000
	maxMemoryTitle   = 200
)

// MemoryStore is the persistence surface for scent memories.
type MemoryStore interface {
	Create(ctx context.Context, userID, title, content, emotion string) (*models.ScentMemory, error)
	GetByID(ctx context.Context, id, userID string) (*models.ScentMemory, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]models.ScentMemory, error)
	MarkProcessed(ctx context.Context, id string) error
}

// MemoryService handles memory upload and listing. Uploads are persisted
// immediately and processed asynchronously by the worker.
type MemoryService struct {
	memories MemoryStore
	queue    *tasks.Queue
	logger   observability.Logger
}

// NewMemoryService wires the memory service.
func NewMemoryService(memories MemoryStore, queue *tasks.Queue, logger observability.Logger) *MemoryService {
	if logger == nil {
		logger = observability.NewLogger("service.memories")
	}
	return &MemoryService{memories: memories, queue: queue, logger: logger}
}

// Upload validates and persists a memory, then enqueues it for note
// extraction and embedding. A queue failure is logged, not returned: the
// memory is safely stored and can be reprocessed.
func (s *MemoryService) Upload(ctx context.Context, userID, title, content, emotion string) (*models.ScentMemory, error) {
	title = strings.TrimSpace(title)
	content = strings.TrimSpace(content)

	if content == "" {
		return nil, ErrEmptyContent
	}
	if len(content) > maxMemoryContent {
		return nil, ErrContentTooLong
	}
	if len(title) > maxMemoryTitle {
		return nil, ErrTitleTooLong
	}

	memory, err := s.memories.Create(ctx, userID, title, content, emotion)
	if err != nil {
		return nil, err
	}

	task := tasks.Task{
		Type:     tasks.TypeProcessMemory,
		MemoryID: memory.ID,
		UserID:   userID,
	}
	if err := s.queue.Enqueue(ctx, task); err != nil {
		s.logger.Error("Failed to enqueue memory processing", map[string]interface{}{
			"memory_id": memory.ID,
			"error":     err.Error(),
		})
	}

	return memory, nil
}

// List returns the user's memories, newest first.
func (s *MemoryService) List(ctx context.Context, userID string, limit int) ([]models.ScentMemory, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.memories.ListByUser(ctx, userID, limit)
}

// Get returns one memory owned by the user.
func (s *MemoryService) Get(ctx context.Context, id, userID string) (*models.ScentMemory, error) {
	memory, err := s.memories.GetByID(ctx, id, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMemoryNotFound
		}
		return nil, err
	}
	return memory, nil
}
