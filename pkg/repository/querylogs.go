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

// QueryLogRepository persists search requests and feedback.
type QueryLogRepository struct {
	db *sqlx.DB
}

// NewQueryLogRepository creates a query log repository.
func NewQueryLogRepository(db *sqlx.DB) *QueryLogRepository {
	return &QueryLogRepository{db: db}
}

// Create records a search and its response.
func (r *QueryLogRepository) Create(ctx context.Context, userID, queryText, queryType, response, modelVersion string, cached bool) (*models.QueryLog, error) {
	log := &models.QueryLog{
		ID:           uuid.New().String(),
		UserID:       userID,
		QueryText:    queryText,
		QueryType:    queryType,
		LLMResponse:  response,
		ModelVersion: modelVersion,
		Cached:       cached,
		CreatedAt:    time.Now().UTC(),
	}

	const q = `INSERT INTO query_logs (id, user_id, query_text, query_type, llm_response, model_version, cached, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := r.db.ExecContext(ctx, q, log.ID, log.UserID, log.QueryText, log.QueryType, log.LLMResponse, log.ModelVersion, log.Cached, log.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to create query log: %w", err)
	}
	return log, nil
}

// GetByID fetches a query log owned by the given user.
func (r *QueryLogRepository) GetByID(ctx context.Context, id, userID string) (*models.QueryLog, error) {
	var log models.QueryLog
	const q = `SELECT id, user_id, query_text, query_type, llm_response, model_version, cached, rating, feedback_text, created_at
		FROM query_logs WHERE id = $1 AND user_id = $2`
	if err := r.db.GetContext(ctx, &log, q, id, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get query log: %w", err)
	}
	return &log, nil
}

// RecordFeedback stores a rating and optional feedback text on a query.
func (r *QueryLogRepository) RecordFeedback(ctx context.Context, id string, rating int, feedbackText *string) error {
	const q = `UPDATE query_logs SET rating = $2, feedback_text = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, q, id, rating, feedbackText); err != nil {
		return fmt.Errorf("failed to record feedback: %w", err)
	}
	return nil
}
