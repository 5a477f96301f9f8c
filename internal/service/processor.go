package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/scentmemory/scentmemory/pkg/embedding"
	"github.com/scentmemory/scentmemory/pkg/llm"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/recommend"
	"github.com/scentmemory/scentmemory/pkg/tasks"
	"github.com/scentmemory/scentmemory/pkg/vector"
)

// chunkSize bounds the size of content chunks sent for embedding.
const chunkSize = 500

// MemoryProcessor runs the background pipeline for uploaded memories:
// extract fragrance notes via the LLM, embed content chunks into the
// vector store, mark the memory processed, and invalidate the user's
// cached recommendations so the next query sees the enlarged corpus.
type MemoryProcessor struct {
	memories  MemoryStore
	embedder  embedding.Embedder
	vectors   vector.Store
	completer llm.Client
	cache     *recommend.Cache
	logger    observability.Logger
}

// NewMemoryProcessor wires the processing pipeline.
func NewMemoryProcessor(
	memories MemoryStore,
	embedder embedding.Embedder,
	vectors vector.Store,
	completer llm.Client,
	cache *recommend.Cache,
	logger observability.Logger,
) *MemoryProcessor {
	if logger == nil {
		logger = observability.NewLogger("service.processor")
	}
	return &MemoryProcessor{
		memories:  memories,
		embedder:  embedder,
		vectors:   vectors,
		completer: completer,
		cache:     cache,
		logger:    logger,
	}
}

// Process handles one task from the queue.
func (p *MemoryProcessor) Process(ctx context.Context, task *tasks.Task) error {
	if task.Type != tasks.TypeProcessMemory {
		return fmt.Errorf("unknown task type %q", task.Type)
	}

	memory, err := p.memories.GetByID(ctx, task.MemoryID, task.UserID)
	if err != nil {
		return fmt.Errorf("failed to load memory %s: %w", task.MemoryID, err)
	}
	if memory.Processed {
		return nil
	}

	notes, err := p.extractNotes(ctx, memory.Content)
	if err != nil {
		// Extraction is an enrichment; embedding still proceeds.
		p.logger.Warn("Note extraction failed", map[string]interface{}{
			"memory_id": memory.ID,
			"error":     err.Error(),
		})
		notes = ""
	}

	for i, chunk := range splitChunks(memory.Content, chunkSize) {
		vec, err := p.embedWithRetry(ctx, chunk)
		if err != nil {
			return fmt.Errorf("failed to embed memory chunk: %w", err)
		}

		chunkID := fmt.Sprintf("%s:%d", memory.ID, i)
		metadata := map[string]string{
			"memory_id": memory.ID,
			"title":     memory.Title,
			"emotion":   memory.Emotion,
		}
		if notes != "" {
			metadata["notes"] = notes
		}
		if err := p.vectors.Upsert(ctx, task.UserID, chunkID, chunk, vec, metadata); err != nil {
			return fmt.Errorf("failed to index memory chunk: %w", err)
		}
	}

	if err := p.memories.MarkProcessed(ctx, memory.ID); err != nil {
		return err
	}

	// The corpus changed; cached recommendations may now be stale.
	removed := p.cache.InvalidateUser(ctx, task.UserID)

	p.logger.Info("Processed memory", map[string]interface{}{
		"memory_id":           memory.ID,
		"user_id":             task.UserID,
		"invalidated_entries": removed,
	})
	return nil
}

func (p *MemoryProcessor) extractNotes(ctx context.Context, content string) (string, error) {
	const system = "You are a fragrance expert. Extract the fragrance notes evoked by the memory below. Respond with a comma-separated list of notes only."
	notes, err := p.completer.Complete(ctx, system, content)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(notes), nil
}

// embedWithRetry retries transient embedding failures with exponential
// backoff before giving up and leaving the task to be retried whole.
func (p *MemoryProcessor) embedWithRetry(ctx context.Context, chunk string) ([]float32, error) {
	var vec []float32

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = 30 * time.Second

	err := backoff.Retry(func() error {
		var err error
		vec, err = p.embedder.Embed(ctx, chunk)
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// splitChunks breaks content into whitespace-preserving chunks of at
// most size bytes, splitting on word boundaries.
func splitChunks(content string, size int) []string {
	words := strings.Fields(content)
	if len(words) == 0 {
		return nil
	}

	var (
		chunks  []string
		current strings.Builder
	)
	for _, word := range words {
		if current.Len() > 0 && current.Len()+len(word)+1 > size {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte(' ')
		}
		current.WriteString(word)
	}
	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
