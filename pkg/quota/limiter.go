// Package quota implements per-subject, per-resource windowed rate
// limiting over Redis counters. Counters follow an INCR + one-shot EXPIRE
// lifecycle: the first increment arms the TTL and subsequent increments
// never refresh it, so the window resets naturally on expiry.
//
// The check-then-increment sequence is intentionally not atomic across
// the two store calls: concurrent requests from the same subject inside
// the race window can transiently admit more than the limit. Exact
// enforcement would need an atomic increment-and-compare primitive, which
// existing quota telemetry does not assume.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/scentmemory/scentmemory/pkg/observability"
)

// Resource names used in daily quota keys.
const (
	ResourceUpload        = "upload"
	ResourceQuery         = "query"
	ResourceProfileUpdate = "profile_update"
)

// Result is the outcome of a limit check.
type Result struct {
	Allowed   bool       `json:"allowed"`
	Used      int        `json:"used"`
	Remaining int        `json:"remaining"`
	Limit     int        `json:"limit"`
	ResetAt   *time.Time `json:"reset_at,omitempty"`
}

// Limiter computes allow/deny decisions against Redis counters.
type Limiter struct {
	client *redis.Client
	// failOpen controls behavior on store errors: allow the request
	// (availability over strictness) or deny it. Configurable so stricter
	// deployments can fail closed.
	failOpen bool
	logger   observability.Logger
	metrics  observability.MetricsClient
}

// New creates a limiter over the given Redis client.
func New(client *redis.Client, failOpen bool, logger observability.Logger, metrics observability.MetricsClient) *Limiter {
	if logger == nil {
		logger = observability.NewLogger("quota")
	}
	if metrics == nil {
		metrics = observability.NewNoopMetricsClient()
	}
	return &Limiter{client: client, failOpen: failOpen, logger: logger, metrics: metrics}
}

// Check reads the counter for key and decides whether one more action is
// allowed under limit. It never mutates the counter. On store errors the
// decision follows the fail-open flag.
func (l *Limiter) Check(ctx context.Context, key string, limit int) Result {
	used, err := l.currentCount(ctx, key)
	if err != nil {
		l.logger.Warn("Rate limit check failed", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		l.metrics.IncrementCounterWithLabels("quota.store_error", 1, map[string]string{"op": "check"})
		return Result{Allowed: l.failOpen, Used: 0, Remaining: limit, Limit: limit}
	}

	result := Result{
		Allowed:   used < limit,
		Used:      used,
		Remaining: max(0, limit-used),
		Limit:     limit,
	}

	if ttl, err := l.client.TTL(ctx, key).Result(); err == nil && ttl > 0 {
		resetAt := time.Now().UTC().Add(ttl)
		result.ResetAt = &resetAt
	}

	if !result.Allowed {
		l.metrics.IncrementCounterWithLabels("quota.denied", 1, nil)
	}
	return result
}

// Increment advances the counter for key, arming the window TTL only when
// this increment created the key. Store errors are logged and swallowed.
func (l *Limiter) Increment(ctx context.Context, key string, window time.Duration) {
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Warn("Failed to increment rate limit counter", map[string]interface{}{
			"key":   key,
			"error": err.Error(),
		})
		l.metrics.IncrementCounterWithLabels("quota.store_error", 1, map[string]string{"op": "increment"})
		return
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, window).Err(); err != nil {
			l.logger.Warn("Failed to arm rate limit window", map[string]interface{}{
				"key":   key,
				"error": err.Error(),
			})
		}
	}

	l.logger.Debug("Incremented rate limit counter", map[string]interface{}{
		"key":   key,
		"count": count,
	})
}

func (l *Limiter) currentCount(ctx context.Context, key string) (int, error) {
	val, err := l.client.Get(ctx, key).Int()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// DailyKey builds the counter key for a per-day quota:
// {resource}_limit:{user_id}:{ISO-8601 date}.
func DailyKey(resource, userID string, day time.Time) string {
	return fmt.Sprintf("%s_limit:%s:%s", resource, userID, day.UTC().Format("2006-01-02"))
}

// ClientKey builds the counter key for the per-client-IP fallback limit.
func ClientKey(ip string) string {
	return fmt.Sprintf("rate_limit:%s", ip)
}

// WindowUntilEndOfDay returns the remaining duration of the current UTC
// calendar day, used as the TTL for daily counters so they expire at the
// window boundary.
func WindowUntilEndOfDay(now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return midnight.Sub(now)
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
