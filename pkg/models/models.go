// Package models defines the persisted entities of the scentmemory
// backend.
package models

import (
	"time"

	"github.com/lib/pq"
)

// User is an account able to upload memories and run queries.
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	FullName     string    `db:"full_name" json:"full_name"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// ScentMemory is an uploaded memory awaiting or having completed
// asynchronous note extraction and embedding.
type ScentMemory struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"user_id"`
	Title       string     `db:"title" json:"title"`
	Content     string     `db:"content" json:"content"`
	Emotion     string     `db:"emotion" json:"emotion"`
	Processed   bool       `db:"processed" json:"processed"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	ProcessedAt *time.Time `db:"processed_at" json:"processed_at,omitempty"`
}

// ScentProfile carries a user's fragrance preferences. DislikedNotes
// feeds both prompt construction and cache invalidation on negative
// feedback.
type ScentProfile struct {
	ID                  string         `db:"id" json:"id"`
	UserID              string         `db:"user_id" json:"user_id"`
	IntensityPreference string         `db:"intensity_preference" json:"intensity_preference"`
	BudgetRange         string         `db:"budget_range" json:"budget_range"`
	DislikedNotes       pq.StringArray `db:"disliked_notes" json:"disliked_notes"`
	UpdatedAt           time.Time      `db:"updated_at" json:"updated_at"`
}

// QueryLog records every search request and its outcome.
type QueryLog struct {
	ID           string    `db:"id" json:"id"`
	UserID       string    `db:"user_id" json:"user_id"`
	QueryText    string    `db:"query_text" json:"query_text"`
	QueryType    string    `db:"query_type" json:"query_type"`
	LLMResponse  string    `db:"llm_response" json:"llm_response"`
	ModelVersion string    `db:"model_version" json:"model_version"`
	Cached       bool      `db:"cached" json:"cached"`
	Rating       *int      `db:"rating" json:"rating,omitempty"`
	FeedbackText *string   `db:"feedback_text" json:"feedback_text,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}
