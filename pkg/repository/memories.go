package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/scentmemory/scentmemory/pkg/models"
)

// MemoryRepository persists scent memories.
type MemoryRepository struct {
	db *sqlx.DB
}

// NewMemoryRepository creates a memory repository.
func NewMemoryRepository(db *sqlx.DB) *MemoryRepository {
	return &MemoryRepository{db: db}
}

// Create inserts an unprocessed memory.
func (r *MemoryRepository) Create(ctx context.Context, userID, title, content, emotion string) (*models.ScentMemory, error) {
	memory := &models.ScentMemory{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     title,
		Content:   content,
		Emotion:   emotion,
		CreatedAt: time.Now().UTC(),
	}

	const q = `INSERT INTO scent_memories (id, user_id, title, content, emotion, processed, created_at)
		VALUES ($1, $2, $3, $4, $5, false, $6)`
	if _, err := r.db.ExecContext(ctx, q, memory.ID, memory.UserID, memory.Title, memory.Content, memory.Emotion, memory.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create memory: %w", err)
	}
	return memory, nil
}

// GetByID fetches a memory owned by the given user.
func (r *MemoryRepository) GetByID(ctx context.Context, id, userID string) (*models.ScentMemory, error) {
	var memory models.ScentMemory
	const q = `SELECT id, user_id, title, content, emotion, processed, created_at, processed_at
		FROM scent_memories WHERE id = $1 AND user_id = $2`
	if err := r.db.GetContext(ctx, &memory, q, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get memory: %w", err)
	}
	return &memory, nil
}

// ListByUser returns the user's memories, newest first.
func (r *MemoryRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.ScentMemory, error) {
	memories := []models.ScentMemory{}
	const q = `SELECT id, user_id, title, content, emotion, processed, created_at, processed_at
		FROM scent_memories WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	if err := r.db.SelectContext(ctx, &memories, q, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}
	return memories, nil
}

// MarkProcessed flags a memory as processed after note extraction and
// embedding complete.
func (r *MemoryRepository) MarkProcessed(ctx context.Context, id string) error {
	const q = `UPDATE scent_memories SET processed = true, processed_at = $2 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, id, time.Now().UTC()); err != nil {
		return fmt.Errorf("failed to mark memory processed: %w", err)
	}
	return nil
}
