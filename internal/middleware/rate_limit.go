// Package middleware provides the gin middleware chain for the API
// server: request logging, the in-process global guard, and the
// Redis-backed quota enforcement.
package middleware

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/scentmemory/scentmemory/pkg/auth"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/quota"
)

// QuotaConfig holds the per-day ceilings and the per-minute fallback
// limit applied by RateLimit.
type QuotaConfig struct {
	UploadsPerDay        int
	QueriesPerDay        int
	ProfileUpdatesPerDay int
	RequestsPerMinute    int
}

// skipPaths bypass rate limiting entirely.
var skipPaths = map[string]struct{}{
	"/":                  {},
	"/health":            {},
	"/docs":              {},
	"/openapi.json":      {},
	"/api/auth/login":    {},
	"/api/auth/register": {},
}

const minuteWindow = 60 * time.Second

// RateLimiter applies the quota policy: daily per-user limits on upload,
// query, and profile mutation endpoints (counted only on 2xx responses),
// with a per-client-IP per-minute fallback for everything else.
type RateLimiter struct {
	limiter *quota.Limiter
	auth    *auth.Service
	cfg     QuotaConfig
	logger  observability.Logger
	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates the quota middleware.
func NewRateLimiter(limiter *quota.Limiter, authService *auth.Service, cfg QuotaConfig, logger observability.Logger) *RateLimiter {
	if logger == nil {
		logger = observability.NewLogger("middleware.ratelimit")
	}
	return &RateLimiter{
		limiter: limiter,
		auth:    authService,
		cfg:     cfg,
		logger:  logger,
		now:     time.Now,
	}
}

// Handler returns the gin middleware applying the quota policy. Rules are
// evaluated in order and short-circuit on first match.
func (m *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		path := c.Request.URL.Path
		if _, ok := skipPaths[path]; ok || strings.Contains(path, "/admin/") {
			c.Next()
			return
		}

		switch {
		case path == "/api/memories/upload" && c.Request.Method == http.MethodPost:
			m.dailyQuota(c, quota.ResourceUpload, m.cfg.UploadsPerDay,
				"Daily upload limit reached",
				fmt.Sprintf("You can upload a maximum of %d memories per day. Try again tomorrow!", m.cfg.UploadsPerDay))

		case path == "/api/query/search" && c.Request.Method == http.MethodPost:
			m.dailyQuota(c, quota.ResourceQuery, m.cfg.QueriesPerDay,
				"Daily query limit reached",
				fmt.Sprintf("You can make a maximum of %d queries per day. Try again tomorrow!", m.cfg.QueriesPerDay))

		case strings.HasPrefix(path, "/api/profile") && isMutation(c.Request.Method):
			m.dailyQuota(c, quota.ResourceProfileUpdate, m.cfg.ProfileUpdatesPerDay,
				"Daily profile update limit reached",
				fmt.Sprintf("You can update your profile %d time per day. Try again tomorrow!", m.cfg.ProfileUpdatesPerDay))

		default:
			m.clientFallback(c)
		}
	}
}

// dailyQuota enforces a per-user per-day limit. The counter advances only
// when the downstream handler succeeds, so failed requests never consume
// quota. Anonymous requests pass through to the handler's own auth check.
func (m *RateLimiter) dailyQuota(c *gin.Context, resource string, limit int, errTitle, message string) {
	userID := m.auth.UserIDFromRequest(c)
	if userID == "" {
		c.Next()
		return
	}

	now := m.now()
	key := quota.DailyKey(resource, userID, now)

	result := m.limiter.Check(c.Request.Context(), key, limit)
	if !result.Allowed {
		m.reject(c, errTitle, message, result)
		return
	}

	c.Next()

	if status := c.Writer.Status(); status >= 200 && status < 300 {
		m.limiter.Increment(c.Request.Context(), key, quota.WindowUntilEndOfDay(now))
	}
}

// clientFallback enforces the generic per-IP request-volume guard. Unlike
// the daily quotas it counts every completed request regardless of
// outcome.
func (m *RateLimiter) clientFallback(c *gin.Context) {
	key := quota.ClientKey(c.ClientIP())

	result := m.limiter.Check(c.Request.Context(), key, m.cfg.RequestsPerMinute)
	if !result.Allowed {
		m.reject(c, "rate limit exceeded", "Too many requests. Please try again later.", result)
		return
	}

	c.Next()

	m.limiter.Increment(c.Request.Context(), key, minuteWindow)
}

func (m *RateLimiter) reject(c *gin.Context, errTitle, message string, result quota.Result) {
	m.logger.Info("Request rate limited", map[string]interface{}{
		"path":  c.Request.URL.Path,
		"error": errTitle,
		"used":  result.Used,
		"limit": result.Limit,
	})

	body := gin.H{
		"error":     errTitle,
		"message":   message,
		"limit":     result.Limit,
		"used":      result.Used,
		"remaining": result.Remaining,
	}
	if result.ResetAt != nil {
		body["reset_at"] = result.ResetAt.Format(time.RFC3339)
	}
	c.AbortWithStatusJSON(http.StatusTooManyRequests, body)
}

func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	default:
		return false
	}
}
