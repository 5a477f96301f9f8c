package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/scentmemory/scentmemory/pkg/observability"
)

// ChromemConfig configures the embedded vector store.
type ChromemConfig struct {
	// PersistPath enables file persistence when non-empty; otherwise
	// vectors live in memory only.
	PersistPath string
	// Compress enables gzip compression for persisted vectors.
	Compress bool
}

// ChromemStore implements Store over chromem-go with one collection per
// user, so user isolation and per-user deletion fall out of the
// collection namespace.
type ChromemStore struct {
	db     *chromem.DB
	mu     sync.RWMutex
	logger observability.Logger
}

// NewChromemStore creates the store, loading persisted vectors if a
// persist path is configured.
func NewChromemStore(cfg ChromemConfig, logger observability.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = observability.NewLogger("vector.chromem")
	}

	var db *chromem.DB
	if cfg.PersistPath != "" {
		if err := os.MkdirAll(cfg.PersistPath, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create persist directory: %w", err)
		}
		path := filepath.Join(cfg.PersistPath, "vectors.gob")
		if cfg.Compress {
			path += ".gz"
		}
		var err error
		db, err = chromem.NewPersistentDB(path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database: %w", err)
		}
		logger.Info("Loaded vector database", map[string]interface{}{"path": path})
	} else {
		db = chromem.NewDB()
	}

	return &ChromemStore{db: db, logger: logger}, nil
}

// externalOnlyEmbedding guards against accidental in-store embedding.
// All vectors are computed by the embedding package and passed in.
func externalOnlyEmbedding(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("embeddings must be provided externally")
}

func collectionName(userID string) string {
	return "user-" + userID
}

func (s *ChromemStore) collection(userID string) (*chromem.Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.GetOrCreateCollection(collectionName(userID), nil, externalOnlyEmbedding)
}

// Upsert indexes a content chunk under the user's collection.
func (s *ChromemStore) Upsert(ctx context.Context, userID, chunkID, content string, embedding []float32, metadata map[string]string) error {
	col, err := s.collection(userID)
	if err != nil {
		return fmt.Errorf("failed to open collection: %w", err)
	}

	doc := chromem.Document{
		ID:        chunkID,
		Content:   content,
		Embedding: embedding,
		Metadata:  metadata,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("failed to add document: %w", err)
	}
	return nil
}

// Search returns the user's top-k most similar fragments. A user with no
// indexed content yields an empty result, not an error.
func (s *ChromemStore) Search(ctx context.Context, userID string, embedding []float32, topK int) ([]Fragment, error) {
	col, err := s.collection(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection: %w", err)
	}

	count := col.Count()
	if count == 0 {
		return []Fragment{}, nil
	}
	if topK > count {
		topK = count
	}

	results, err := col.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	fragments := make([]Fragment, 0, len(results))
	for _, r := range results {
		fragments = append(fragments, Fragment{
			ID:      r.ID,
			Content: r.Content,
			Score:   r.Similarity,
		})
	}
	return fragments, nil
}

// DeleteUser drops the user's entire collection.
func (s *ChromemStore) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.db.DeleteCollection(collectionName(userID)); err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}
