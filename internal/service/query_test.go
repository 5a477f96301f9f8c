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
	"github.com/scentmemory/scentmemory/pkg/recommend"
	"github.com/scentmemory/scentmemory/pkg/vector"
)

type fakeEmbedder struct{ calls int }

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	return []float32{1, 0, 0}, nil
}

type fakeVectorStore struct{ fragments []vector.Fragment }

func (f *fakeVectorStore) Upsert(ctx context.Context, userID, chunkID, content string, embedding []float32, metadata map[string]string) error {
	return nil
}

func (f *fakeVectorStore) Search(ctx context.Context, userID string, embedding []float32, topK int) ([]vector.Fragment, error) {
	return f.fragments, nil
}

func (f *fakeVectorStore) DeleteUser(ctx context.Context, userID string) error { return nil }

type fakeLLM struct {
	calls    int
	response string
	err      error
}

func (f *fakeLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func (f *fakeLLM) Model() string { return "test-model" }

type fakeQueryLogs struct {
	logs map[string]*models.QueryLog
	seq  int
}

func newFakeQueryLogs() *fakeQueryLogs {
	return &fakeQueryLogs{logs: make(map[string]*models.QueryLog)}
}

func (f *fakeQueryLogs) Create(ctx context.Context, userID, queryText, queryType, response, modelVersion string, cached bool) (*models.QueryLog, error) {
	f.seq++
	log := &models.QueryLog{
		ID:           fmt.Sprintf("q%d", f.seq),
		UserID:       userID,
		QueryText:    queryText,
		QueryType:    queryType,
		LLMResponse:  response,
		ModelVersion: modelVersion,
		Cached:       cached,
		CreatedAt:    time.Now().UTC(),
	}
	f.logs[log.ID] = log
	return log, nil
}

func (f *fakeQueryLogs) GetByID(ctx context.Context, id, userID string) (*models.QueryLog, error) {
	log, ok := f.logs[id]
	if !ok || log.UserID != userID {
		return nil, fmt.Errorf("not found")
	}
	return log, nil
}

func (f *fakeQueryLogs) RecordFeedback(ctx context.Context, id string, rating int, feedbackText *string) error {
	log, ok := f.logs[id]
	if !ok {
		return fmt.Errorf("not found")
	}
	log.Rating = &rating
	log.FeedbackText = feedbackText
	return nil
}

type fakeProfiles struct {
	profiles map[string]*models.ScentProfile
}

func newFakeProfiles() *fakeProfiles {
	return &fakeProfiles{profiles: make(map[string]*models.ScentProfile)}
}

func (f *fakeProfiles) GetOrCreate(ctx context.Context, userID string) (*models.ScentProfile, error) {
	if p, ok := f.profiles[userID]; ok {
		return p, nil
	}
	p := &models.ScentProfile{ID: "p-" + userID, UserID: userID}
	f.profiles[userID] = p
	return p, nil
}

func (f *fakeProfiles) Update(ctx context.Context, userID string, intensity, budget *string, dislikedNotes []string) error {
	p, _ := f.GetOrCreate(ctx, userID)
	if intensity != nil {
		p.IntensityPreference = *intensity
	}
	if budget != nil {
		p.BudgetRange = *budget
	}
	return nil
}

func (f *fakeProfiles) AddDislikedNotes(ctx context.Context, userID string, notes []string) ([]string, error) {
	p, _ := f.GetOrCreate(ctx, userID)
	seen := make(map[string]struct{}, len(p.DislikedNotes))
	for _, n := range p.DislikedNotes {
		seen[n] = struct{}{}
	}
	for _, n := range notes {
		n = strings.ToLower(strings.TrimSpace(n))
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		p.DislikedNotes = append(p.DislikedNotes, n)
	}
	return p.DislikedNotes, nil
}

type queryFixture struct {
	svc      *QueryService
	llm      *fakeLLM
	logs     *fakeQueryLogs
	profiles *fakeProfiles
	mr       *miniredis.Miniredis
}

func setupQueryService(t *testing.T) *queryFixture {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cache, err := recommend.New(client, recommend.DefaultConfig(), observability.NewNoopLogger(), nil)
	require.NoError(t, err)

	llmClient := &fakeLLM{response: "Try Eau de Citron"}
	logs := newFakeQueryLogs()
	profiles := newFakeProfiles()
	vectors := &fakeVectorStore{fragments: []vector.Fragment{
		{ID: "m1:0", Content: "the lemon grove behind my grandmother's house", Score: 0.9},
	}}

	svc := NewQueryService(
		cache, &fakeEmbedder{}, vectors, llmClient, logs, profiles,
		5, observability.NewNoopLogger(), nil,
	)

	return &queryFixture{svc: svc, llm: llmClient, logs: logs, profiles: profiles, mr: mr}
}

func TestSearchCachesSecondCall(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	first, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "Try Eau de Citron", first.Response)
	assert.Len(t, first.Sources, 1)
	assert.Equal(t, 1, f.llm.calls)

	second, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, "Try Eau de Citron", second.Response)
	assert.Equal(t, 1, f.llm.calls, "cached response must not call the LLM")

	// Every search is logged with an accurate cached flag.
	assert.False(t, f.logs.logs[first.QueryID].Cached)
	assert.True(t, f.logs.logs[second.QueryID].Cached)
}

func TestSearchNormalizesPhrasing(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	_, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)

	// Same tokens, different case and spacing: an exact fingerprint hit.
	result, err := f.svc.Search(ctx, "u1", "  WHAT perfumes   should i TRY ", "")
	require.NoError(t, err)
	assert.True(t, result.Cached)
	assert.Equal(t, 1, f.llm.calls)
}

func TestSearchCacheIsPerUser(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	_, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)

	result, err := f.svc.Search(ctx, "u2", "what perfumes should I try", "")
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 2, f.llm.calls)
}

func TestSearchValidation(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	_, err := f.svc.Search(ctx, "u1", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = f.svc.Search(ctx, "u1", strings.Repeat("a", 1001), "")
	assert.ErrorIs(t, err, ErrQueryTooLong)

	assert.Equal(t, 0, f.llm.calls)
}

func TestSearchLLMFailure(t *testing.T) {
	f := setupQueryService(t)
	f.llm.err = fmt.Errorf("upstream down")

	_, err := f.svc.Search(context.Background(), "u1", "what perfumes should I try", "")
	assert.Error(t, err)

	// Nothing was cached for the failed call.
	stats := f.svc.CacheStats(context.Background(), "u1")
	assert.Equal(t, 0, stats.CachedRecommendations)
}

func TestNegativeFeedbackInvalidatesCache(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	first, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)
	require.Equal(t, 1, f.llm.calls)

	err = f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 1, nil, []string{"Musk", " musk ", "Patchouli"})
	require.NoError(t, err)

	// Notes landed on the profile, deduplicated and casefolded.
	profile, err := f.profiles.GetOrCreate(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"musk", "patchouli"}, []string(profile.DislikedNotes))

	// The cache was cleared, so the same query is fresh again.
	result, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)
	assert.False(t, result.Cached)
	assert.Equal(t, 2, f.llm.calls)
}

func TestNegativeFeedbackWithKnownNotesStillInvalidates(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	_, err := f.profiles.AddDislikedNotes(ctx, "u1", []string{"musk"})
	require.NoError(t, err)

	first, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)

	// All submitted notes are already known; invalidation still runs.
	err = f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 2, nil, []string{"Musk"})
	require.NoError(t, err)

	result, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)
	assert.False(t, result.Cached)
}

func TestPositiveFeedbackKeepsCache(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	first, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)

	feedback := "loved it"
	err = f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 5, &feedback, []string{"musk"})
	require.NoError(t, err)

	result, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)
	assert.True(t, result.Cached, "positive feedback must not invalidate")
	assert.Equal(t, 1, f.llm.calls)
}

func TestNegativeFeedbackWithoutNotesKeepsCache(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	first, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)

	err = f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 1, nil, nil)
	require.NoError(t, err)

	result, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)
	assert.True(t, result.Cached, "negative feedback without notes must not invalidate")
}

func TestSubmitFeedbackValidation(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	first, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)

	assert.ErrorIs(t, f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 0, nil, nil), ErrInvalidRating)
	assert.ErrorIs(t, f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 6, nil, nil), ErrInvalidRating)

	tooMany := make([]string, 51)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("note%d", i)
	}
	assert.ErrorIs(t, f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 1, nil, tooMany), ErrTooManyNotes)

	longNote := []string{strings.Repeat("x", 51)}
	assert.ErrorIs(t, f.svc.SubmitFeedback(ctx, "u1", first.QueryID, 1, nil, longNote), ErrNoteTooLong)

	assert.ErrorIs(t, f.svc.SubmitFeedback(ctx, "u1", "missing", 3, nil, nil), ErrQueryNotFound)

	// A query belonging to another user reads as not found.
	assert.ErrorIs(t, f.svc.SubmitFeedback(ctx, "u2", first.QueryID, 3, nil, nil), ErrQueryNotFound)
}

func TestCacheStats(t *testing.T) {
	f := setupQueryService(t)
	ctx := context.Background()

	_, err := f.svc.Search(ctx, "u1", "what perfumes should I try", "")
	require.NoError(t, err)

	stats := f.svc.CacheStats(ctx, "u1")
	assert.Equal(t, "u1", stats.UserID)
	assert.Equal(t, 1, stats.CachedRecommendations)
	assert.Equal(t, 1, stats.MetadataEntries)
}
