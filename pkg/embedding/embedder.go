// Package embedding produces vector embeddings for memory chunks and
// queries. The core treats vectors as opaque.
package embedding

import "context"

// Embedder converts text into an embedding vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
