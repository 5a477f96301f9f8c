// Package recommend implements the recommendation cache that sits in
// front of LLM completion calls. It combines an exact-match lookup on a
// fingerprint of (user, retrieved context, normalized query) with a fuzzy
// lookup over per-user metadata records using token-set Jaccard similarity.
//
// The cache is deliberately fail-soft: any Redis error on the read path is
// treated as a miss and any error on the write path is logged and dropped,
// so a store outage degrades the system to "always call the LLM" rather
// than failing requests.
package recommend

import (
	"context"
	"crypto/md5" // #nosec G401 -- key derivation only, not security sensitive
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/scentmemory/scentmemory/pkg/observability"
)

const (
	entryNamespace = "rec"
	metaNamespace  = "rec_meta"

	// contextPreviewLen bounds the retrieved-context excerpt stored in
	// metadata records.
	contextPreviewLen = 200
)

// Config holds cache tunables.
type Config struct {
	// TTL applies to both the cache entry and its metadata record.
	TTL time.Duration
	// SimilarityThreshold is the minimum Jaccard similarity for a fuzzy hit.
	SimilarityThreshold float64
	// MaxScan bounds how many metadata records a fuzzy lookup inspects.
	// Kept small to bound lookup latency; match quality degrades for users
	// with more cached queries than this.
	MaxScan int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		TTL:                 time.Hour,
		SimilarityThreshold: 0.85,
		MaxScan:             50,
	}
}

// Metadata is the sibling record stored next to every cache entry. It
// exists so fuzzy lookups can compare against the original query text
// without re-deriving fingerprints. Owned exclusively by this package.
type Metadata struct {
	Query          string    `json:"query"`
	ContextPreview string    `json:"context_preview"`
	Timestamp      time.Time `json:"timestamp"`
	CacheKey       string    `json:"cache_key"`
}

// Stats reports per-user cache entry counts.
type Stats struct {
	CachedRecommendations int    `json:"cached_recommendations"`
	MetadataEntries       int    `json:"metadata_entries"`
	UserID                string `json:"user_id"`
}

// Cache caches recommendation text per user in Redis.
type Cache struct {
	client  *redis.Client
	cfg     Config
	logger  observability.Logger
	metrics observability.MetricsClient
}

// New creates a recommendation cache over the given Redis client.
func New(client *redis.Client, cfg Config, logger observability.Logger, metrics observability.MetricsClient) (*Cache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.SimilarityThreshold < 0 || cfg.SimilarityThreshold > 1 {
		return nil, fmt.Errorf("similarity threshold must be between 0 and 1")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if cfg.MaxScan <= 0 {
		cfg.MaxScan = 50
	}
	if logger == nil {
		logger = observability.NewLogger("recommend.cache")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}

	return &Cache{client: client, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// Fingerprint builds the stable fingerprint string hashed into cache keys.
// The format is fixed for interoperability with monitoring tooling.
func Fingerprint(userID, contextText, normalizedQuery string) string {
	return userID + ":" + contextText + ":" + normalizedQuery
}

// NormalizeQuery lowercases and collapses whitespace so trivially
// different phrasings of the same query share a fingerprint.
func NormalizeQuery(query string) string {
	return strings.Join(strings.Fields(strings.ToLower(query)), " ")
}

// EntryKey returns the Redis key for a cache entry:
// rec:{user_id}:{md5_hex(fingerprint)}.
func EntryKey(userID, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", entryNamespace, userID, hashFingerprint(fingerprint))
}

// MetaKey returns the Redis key for a metadata record:
// rec_meta:{user_id}:{md5_hex(fingerprint)}.
func MetaKey(userID, fingerprint string) string {
	return fmt.Sprintf("%s:%s:%s", metaNamespace, userID, hashFingerprint(fingerprint))
}

func hashFingerprint(fingerprint string) string {
	sum := md5.Sum([]byte(fingerprint)) // #nosec G401
	return hex.EncodeToString(sum[:])
}

// GetExact returns the cached recommendation for an exact fingerprint
// match. Store errors are treated as a miss.
func (c *Cache) GetExact(ctx context.Context, userID, fingerprint string) (string, bool) {
	key := EntryKey(userID, fingerprint)
	val, err := c.client.Get(ctx, key).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Warn("Cache retrieval failed", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
		c.recordMiss("exact")
		return "", false
	}

	c.recordHit("exact")
	return val, true
}

// Put stores a recommendation and its metadata record under the same TTL.
// Both writes are best-effort: failures are logged, never returned.
func (c *Cache) Put(ctx context.Context, userID, fingerprint, recommendation, originalQuery, contextText string) {
	entryKey := EntryKey(userID, fingerprint)
	if err := c.client.Set(ctx, entryKey, recommendation, c.cfg.TTL).Err(); err != nil {
		c.logger.Warn("Cache storage failed", map[string]interface{}{
			"key":   entryKey,
			"error": err.Error(),
		})
		return
	}

	meta := Metadata{
		Query:          originalQuery,
		ContextPreview: truncate(contextText, contextPreviewLen),
		Timestamp:      time.Now().UTC(),
		CacheKey:       entryKey,
	}
	data, err := json.Marshal(meta)
	if err != nil {
		c.logger.Warn("Failed to marshal cache metadata", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}

	metaKey := MetaKey(userID, fingerprint)
	if err := c.client.Set(ctx, metaKey, data, c.cfg.TTL).Err(); err != nil {
		c.logger.Warn("Cache metadata storage failed", map[string]interface{}{
			"key":   metaKey,
			"error": err.Error(),
		})
		return
	}

	c.logger.Debug("Cached recommendation", map[string]interface{}{"key": entryKey})
}

// FindSimilar scans the user's metadata records for the cached query most
// similar to the given one and returns its recommendation if the best
// similarity is at or above the configured threshold. The scan is bounded
// by MaxScan records. If the underlying entry expired between the metadata
// scan and the fetch, the result is a miss.
func (c *Cache) FindSimilar(ctx context.Context, userID, query string) (string, bool) {
	pattern := fmt.Sprintf("%s:%s:*", metaNamespace, userID)

	var (
		bestKey string
		bestSim float64
		scanned int
	)

	iter := c.client.Scan(ctx, 0, pattern, int64(c.cfg.MaxScan)).Iterator()
	for iter.Next(ctx) && scanned < c.cfg.MaxScan {
		metaKey := iter.Val()
		scanned++

		data, err := c.client.Get(ctx, metaKey).Result()
		if err != nil {
			continue
		}

		var meta Metadata
		if err := json.Unmarshal([]byte(data), &meta); err != nil {
			c.logger.Warn("Skipping malformed cache metadata", map[string]interface{}{
				"key":   metaKey,
				"error": err.Error(),
			})
			continue
		}

		sim, ok := JaccardSimilarity(query, meta.Query)
		if !ok {
			continue
		}

		// Strictly-greater keeps the first record encountered on ties.
		if sim > bestSim && sim >= c.cfg.SimilarityThreshold {
			bestSim = sim
			bestKey = meta.CacheKey
		}
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("Similar query search failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		c.recordMiss("fuzzy")
		return "", false
	}

	if bestKey == "" {
		c.recordMiss("fuzzy")
		return "", false
	}

	val, err := c.client.Get(ctx, bestKey).Result()
	if err != nil {
		// Entry expired or store failed after the metadata scan; either
		// way this is a miss, not an error.
		c.recordMiss("fuzzy")
		return "", false
	}

	c.logger.Info("Similar query found", map[string]interface{}{
		"user_id":    userID,
		"similarity": fmt.Sprintf("%.2f", bestSim),
	})
	c.recordHit("fuzzy")
	return val, true
}

// InvalidateUser removes every cache entry and metadata record for the
// user and returns the number of keys removed. Idempotent; store errors
// are logged and reported as zero removals.
func (c *Cache) InvalidateUser(ctx context.Context, userID string) int {
	keys, err := c.collectUserKeys(ctx, userID)
	if err != nil {
		c.logger.Warn("Cache invalidation failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return 0
	}
	if len(keys) == 0 {
		return 0
	}

	removed, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		c.logger.Warn("Cache invalidation failed", map[string]interface{}{
			"user_id": userID,
			"error":   err.Error(),
		})
		return 0
	}

	c.logger.Info("Invalidated cached recommendations", map[string]interface{}{
		"user_id": userID,
		"removed": removed,
	})
	c.metrics.IncrementCounterWithLabels("recommend_cache.invalidated", float64(removed), nil)
	return int(removed)
}

// UserStats counts the user's live cache entries and metadata records.
func (c *Cache) UserStats(ctx context.Context, userID string) Stats {
	stats := Stats{UserID: userID}
	stats.CachedRecommendations = c.countKeys(ctx, fmt.Sprintf("%s:%s:*", entryNamespace, userID))
	stats.MetadataEntries = c.countKeys(ctx, fmt.Sprintf("%s:%s:*", metaNamespace, userID))
	return stats
}

func (c *Cache) collectUserKeys(ctx context.Context, userID string) ([]string, error) {
	var keys []string
	for _, pattern := range []string{
		fmt.Sprintf("%s:%s:*", entryNamespace, userID),
		fmt.Sprintf("%s:%s:*", metaNamespace, userID),
	} {
		iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return nil, fmt.Errorf("scan %s: %w", pattern, err)
		}
	}
	return keys, nil
}

func (c *Cache) countKeys(ctx context.Context, pattern string) int {
	count := 0
	iter := c.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		count++
	}
	if err := iter.Err(); err != nil {
		c.logger.Warn("Cache stats retrieval failed", map[string]interface{}{
			"pattern": pattern,
			"error":   err.Error(),
		})
	}
	return count
}

func (c *Cache) recordHit(hitType string) {
	c.metrics.IncrementCounterWithLabels("recommend_cache.hit", 1, map[string]string{"type": hitType})
}

func (c *Cache) recordMiss(missType string) {
	c.metrics.IncrementCounterWithLabels("recommend_cache.miss", 1, map[string]string{"type": missType})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
