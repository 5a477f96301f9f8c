// Package vector stores memory-chunk embeddings and serves per-user
// similarity search for retrieval-augmented generation. It uses
// chromem-go for embedded vector storage: pure Go, optional file
// persistence, cosine similarity, no external service.
package vector

import "context"

// Fragment is a retrieved content fragment with its similarity score.
type Fragment struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}

// Store indexes embedded content per user and answers top-k searches.
// Vectors are produced externally; the store never embeds on its own.
type Store interface {
	Upsert(ctx context.Context, userID, chunkID, content string, embedding []float32, metadata map[string]string) error
	Search(ctx context.Context, userID string, embedding []float32, topK int) ([]Fragment, error)
	DeleteUser(ctx context.Context, userID string) error
}
