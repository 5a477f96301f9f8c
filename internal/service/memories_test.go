package service

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentmemory/scentmemory/pkg/models"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/repository"
	"github.com/scentmemory/scentmemory/pkg/tasks"
)

type fakeMemoryStore struct {
	memories map[string]*models.ScentMemory
	seq      int
}

func newFakeMemoryStore() *fakeMemoryStore {
	return &fakeMemoryStore{memories: make(map[string]*models.ScentMemory)}
}

func (f *fakeMemoryStore) Create(ctx context.Context, userID, title, content, emotion string) (*models.ScentMemory, error) {
	f.seq++
	m := &models.ScentMemory{
		ID:        fmt.Sprintf("m%d", f.seq),
		UserID:    userID,
		Title:     title,
		Content:   content,
		Emotion:   emotion,
		CreatedAt: time.Now().UTC(),
	}
	f.memories[m.ID] = m
	return m, nil
}

func (f *fakeMemoryStore) GetByID(ctx context.Context, id, userID string) (*models.ScentMemory, error) {
	m, ok := f.memories[id]
	if !ok || m.UserID != userID {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

func (f *fakeMemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]models.ScentMemory, error) {
	var out []models.ScentMemory
	for _, m := range f.memories {
		if m.UserID == userID && len(out) < limit {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (f *fakeMemoryStore) MarkProcessed(ctx context.Context, id string) error {
	m, ok := f.memories[id]
	if !ok {
		return repository.ErrNotFound
	}
	now := time.Now().UTC()
	m.Processed = true
	m.ProcessedAt = &now
	return nil
}

func setupMemoryService(t *testing.T) (*MemoryService, *fakeMemoryStore, *tasks.Queue) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := newFakeMemoryStore()
	queue := tasks.NewQueue(client, observability.NewNoopLogger())
	svc := NewMemoryService(store, queue, observability.NewNoopLogger())
	return svc, store, queue
}

func TestUploadEnqueuesProcessing(t *testing.T) {
	svc, _, queue := setupMemoryService(t)
	ctx := context.Background()

	memory, err := svc.Upload(ctx, "u1", "Grandmother's garden", "the lemon grove behind the house", "nostalgic")
	require.NoError(t, err)
	assert.NotEmpty(t, memory.ID)
	assert.False(t, memory.Processed)

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	task, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, tasks.TypeProcessMemory, task.Type)
	assert.Equal(t, memory.ID, task.MemoryID)
	assert.Equal(t, "u1", task.UserID)
}

func TestUploadValidation(t *testing.T) {
	svc, _, queue := setupMemoryService(t)
	ctx := context.Background()

	_, err := svc.Upload(ctx, "u1", "title", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyContent)

	_, err = svc.Upload(ctx, "u1", "title", strings.Repeat("a", 10001), "")
	assert.ErrorIs(t, err, ErrContentTooLong)

	_, err = svc.Upload(ctx, "u1", strings.Repeat("t", 201), "content", "")
	assert.ErrorIs(t, err, ErrTitleTooLong)

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "rejected uploads must not enqueue work")
}

func TestGetMemoryOwnership(t *testing.T) {
	svc, store, _ := setupMemoryService(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "u1", "title", "content", "")
	require.NoError(t, err)

	got, err := svc.Get(ctx, created.ID, "u1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)

	_, err = svc.Get(ctx, created.ID, "u2")
	assert.ErrorIs(t, err, ErrMemoryNotFound)
}
