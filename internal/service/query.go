// Package service implements the application services behind the API
// handlers: the retrieval-augmented query flow with its recommendation
// cache, feedback handling with cache invalidation, and memory
// upload/processing.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/scentmemory/scentmemory/pkg/embedding"
	"github.com/scentmemory/scentmemory/pkg/llm"
	"github.com/scentmemory/scentmemory/pkg/models"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/recommend"
	"github.com/scentmemory/scentmemory/pkg/vector"
)

// Validation errors surfaced as 400s by the handlers.
var (
	ErrEmptyQuery     = errors.New("query must not be empty")
	ErrQueryTooLong   = errors.New("query must be at most 1000 characters")
	ErrInvalidRating  = errors.New("rating must be between 1 and 5")
	ErrTooManyNotes   = errors.New("maximum 50 disliked notes allowed")
	ErrNoteTooLong    = errors.New("each disliked note must be at most 50 characters")
	ErrQueryNotFound  = errors.New("query not found")
	ErrMemoryNotFound = errors.New("memory not found")
)

const (
	maxQueryLength    = 1000
	maxDislikedNotes  = 50
	maxNoteLength     = 50
	negativeRatingMax = 2
)

// QueryLogStore is the persistence surface the query service needs for
// query logs.
type QueryLogStore interface {
	Create(ctx context.Context, userID, queryText, queryType, response, modelVersion string, cached bool) (*models.QueryLog, error)
	GetByID(ctx context.Context, id, userID string) (*models.QueryLog, error)
	RecordFeedback(ctx context.Context, id string, rating int, feedbackText *string) error
}

// ProfileStore is the persistence surface for scent profiles.
type ProfileStore interface {
	GetOrCreate(ctx context.Context, userID string) (*models.ScentProfile, error)
	Update(ctx context.Context, userID string, intensity, budget *string, dislikedNotes []string) error
	AddDislikedNotes(ctx context.Context, userID string, notes []string) ([]string, error)
}

// SearchResult is the query endpoint's response payload. Cached reports
// whether the response came from the recommendation cache (exact or
// fuzzy) rather than a fresh LLM call; tests and monitoring rely on it
// being accurate.
type SearchResult struct {
	QueryID  string            `json:"query_id"`
	Response string            `json:"response"`
	Sources  []vector.Fragment `json:"sources"`
	Cached   bool              `json:"cached"`
}

// QueryService runs the retrieval-augmented recommendation flow.
type QueryService struct {
	cache     *recommend.Cache
	embedder  embedding.Embedder
	vectors   vector.Store
	completer llm.Client
	queryLogs QueryLogStore
	profiles  ProfileStore
	topK      int
	logger    observability.Logger
	metrics   observability.MetricsClient
}

// NewQueryService wires the query flow.
func NewQueryService(
	cache *recommend.Cache,
	embedder embedding.Embedder,
	vectors vector.Store,
	completer llm.Client,
	queryLogs QueryLogStore,
	profiles ProfileStore,
	topK int,
	logger observability.Logger,
	metrics observability.MetricsClient,
) *QueryService {
	if topK <= 0 {
		topK = 5
	}
	if logger == nil {
		logger = observability.NewLogger("service.query")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &QueryService{
		cache:     cache,
		embedder:  embedder,
		vectors:   vectors,
		completer: completer,
		queryLogs: queryLogs,
		profiles:  profiles,
		topK:      topK,
		logger:    logger,
		metrics:   metrics,
	}
}

// Search answers a natural-language query against the user's memory
// corpus. The recommendation cache is consulted before the LLM: exact
// fingerprint match first, then fuzzy similarity over the user's cached
// queries. Concurrent identical misses may each call the LLM; there is
// no single-flight coalescing.
func (s *QueryService) Search(ctx context.Context, userID, query, queryType string) (*SearchResult, error) {
	query, err := sanitizeQuery(query)
	if err != nil {
		return nil, err
	}
	if queryType == "" {
		queryType = "recommendation"
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	fragments, err := s.vectors.Search(ctx, userID, queryVec, s.topK)
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}

	contextText := buildContext(fragments)
	fingerprint := recommend.Fingerprint(userID, contextText, recommend.NormalizeQuery(query))

	response, cached := s.cache.GetExact(ctx, userID, fingerprint)
	if !cached {
		response, cached = s.cache.FindSimilar(ctx, userID, query)
	}

	if !cached {
		profile, err := s.profiles.GetOrCreate(ctx, userID)
		if err != nil {
			return nil, err
		}

		response, err = s.completer.Complete(ctx, systemPrompt(profile), userPrompt(contextText, query))
		if err != nil {
			return nil, fmt.Errorf("recommendation failed: %w", err)
		}

		// The write happens after the long-latency call returns; no lock
		// is held on the cache while the LLM is in flight.
		s.cache.Put(ctx, userID, fingerprint, response, query, contextText)
	}

	log, err := s.queryLogs.Create(ctx, userID, query, queryType, response, s.completer.Model(), cached)
	if err != nil {
		return nil, err
	}

	s.metrics.IncrementCounterWithLabels("query.search", 1, map[string]string{
		"type": boolLabel(cached, "cached", "fresh"),
	})

	return &SearchResult{
		QueryID:  log.ID,
		Response: response,
		Sources:  fragments,
		Cached:   cached,
	}, nil
}

// SubmitFeedback records a rating on a query. Negative feedback
// (rating <= 2) carrying disliked notes appends the notes to the user's
// profile and then invalidates every cached recommendation for the user,
// so the next query reflects the updated preferences. Invalidation runs
// unconditionally once triggered, even if all notes were already known.
func (s *QueryService) SubmitFeedback(ctx context.Context, userID, queryID string, rating int, feedbackText *string, dislikedNotes []string) error {
	if rating < 1 || rating > 5 {
		return ErrInvalidRating
	}
	if err := validateNotes(dislikedNotes); err != nil {
		return err
	}

	if _, err := s.queryLogs.GetByID(ctx, queryID, userID); err != nil {
		return ErrQueryNotFound
	}

	if err := s.queryLogs.RecordFeedback(ctx, queryID, rating, feedbackText); err != nil {
		return err
	}

	if rating <= negativeRatingMax && len(dislikedNotes) > 0 {
		if _, err := s.profiles.AddDislikedNotes(ctx, userID, dislikedNotes); err != nil {
			return err
		}
		removed := s.cache.InvalidateUser(ctx, userID)
		s.logger.Info("Invalidated recommendations after negative feedback", map[string]interface{}{
			"user_id": userID,
			"removed": removed,
		})
	}

	return nil
}

// CacheStats exposes the user's cache entry counts for the stats
// endpoint.
func (s *QueryService) CacheStats(ctx context.Context, userID string) recommend.Stats {
	return s.cache.UserStats(ctx, userID)
}

func sanitizeQuery(query string) (string, error) {
	// Strip control characters; the LLM prompt and cache key should only
	// ever see printable text.
	query = strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, query)
	query = strings.TrimSpace(query)

	if query == "" {
		return "", ErrEmptyQuery
	}
	if len(query) > maxQueryLength {
		return "", ErrQueryTooLong
	}
	return query, nil
}

func validateNotes(notes []string) error {
	if len(notes) > maxDislikedNotes {
		return ErrTooManyNotes
	}
	for _, note := range notes {
		if len(strings.TrimSpace(note)) > maxNoteLength {
			return ErrNoteTooLong
		}
	}
	return nil
}

func buildContext(fragments []vector.Fragment) string {
	parts := make([]string, 0, len(fragments))
	for _, f := range fragments {
		parts = append(parts, f.Content)
	}
	return strings.Join(parts, "\n")
}

func systemPrompt(profile *models.ScentProfile) string {
	var b strings.Builder
	b.WriteString("You are a fragrance expert recommending perfumes based on the user's personal scent memories.")
	if len(profile.DislikedNotes) > 0 {
		b.WriteString(" The user dislikes the following notes and they must never appear in recommendations: ")
		b.WriteString(strings.Join(profile.DislikedNotes, ", "))
		b.WriteString(".")
	}
	if profile.IntensityPreference != "" {
		b.WriteString(" Preferred intensity: " + profile.IntensityPreference + ".")
	}
	if profile.BudgetRange != "" {
		b.WriteString(" Budget range: " + profile.BudgetRange + ".")
	}
	return b.String()
}

func userPrompt(contextText, query string) string {
	if contextText == "" {
		return query
	}
	return "Relevant scent memories:\n" + contextText + "\n\nQuestion: " + query
}

func boolLabel(v bool, yes, no string) string {
	if v {
		return yes
	}
	return no
}
