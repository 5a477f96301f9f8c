package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scentmemory/scentmemory/pkg/auth"
	"github.com/scentmemory/scentmemory/pkg/observability"
	"github.com/scentmemory/scentmemory/pkg/quota"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type rateLimitFixture struct {
	engine *gin.Engine
	mr     *miniredis.Miniredis
	auth   *auth.Service
	now    time.Time
}

func setupRateLimit(t *testing.T, cfg QuotaConfig) *rateLimitFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	authSvc := auth.NewService(testSecret, time.Hour)
	limiter := quota.New(client, true, observability.NewNoopLogger(), nil)
	rl := NewRateLimiter(limiter, authSvc, cfg, observability.NewNoopLogger())

	fixed := time.Date(2026, 8, 28, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }

	engine := gin.New()
	engine.Use(rl.Handler())

	ok := func(status int) gin.HandlerFunc {
		return func(c *gin.Context) { c.JSON(status, gin.H{"ok": true}) }
	}
	engine.POST("/api/memories/upload", ok(http.StatusCreated))
	engine.POST("/api/query/search", func(c *gin.Context) {
		if c.GetHeader("X-Force-Error") != "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "boom"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	engine.PUT("/api/profile/me", ok(http.StatusOK))
	engine.POST("/api/auth/login", ok(http.StatusOK))
	engine.GET("/health", ok(http.StatusOK))
	engine.GET("/api/other", ok(http.StatusOK))

	return &rateLimitFixture{engine: engine, mr: mr, auth: authSvc, now: fixed}
}

func defaultQuotaConfig() QuotaConfig {
	return QuotaConfig{
		UploadsPerDay:        3,
		QueriesPerDay:        4,
		ProfileUpdatesPerDay: 1,
		RequestsPerMinute:    100,
	}
}

func (f *rateLimitFixture) do(t *testing.T, method, path, userID string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	if userID != "" {
		token, err := f.auth.IssueToken(userID, userID+"@example.com")
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)
	return w
}

func TestDailyUploadQuota(t *testing.T) {
	f := setupRateLimit(t, defaultQuotaConfig())

	for i := 0; i < 3; i++ {
		w := f.do(t, http.MethodPost, "/api/memories/upload", "u1", nil)
		assert.Equal(t, http.StatusCreated, w.Code, "upload %d should succeed", i+1)
	}

	w := f.do(t, http.MethodPost, "/api/memories/upload", "u1", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Daily upload limit reached", body["error"])
	assert.Equal(t, "You can upload a maximum of 3 memories per day. Try again tomorrow!", body["message"])
	assert.Equal(t, float64(3), body["limit"])
	assert.Equal(t, float64(3), body["used"])
	assert.Equal(t, float64(0), body["remaining"])
	assert.Contains(t, body, "reset_at")

	// Other users keep their own budget.
	w = f.do(t, http.MethodPost, "/api/memories/upload", "u2", nil)
	assert.Equal(t, http.StatusCreated, w.Code)
}

func TestDailyQuotaCountsOnlySuccesses(t *testing.T) {
	f := setupRateLimit(t, defaultQuotaConfig())

	for i := 0; i < 10; i++ {
		w := f.do(t, http.MethodPost, "/api/query/search", "u1", map[string]string{"X-Force-Error": "1"})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	}

	// Failed requests never consumed quota.
	key := quota.DailyKey(quota.ResourceQuery, "u1", f.now)
	assert.False(t, f.mr.Exists(key))

	for i := 0; i < 4; i++ {
		w := f.do(t, http.MethodPost, "/api/query/search", "u1", nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
	w := f.do(t, http.MethodPost, "/api/query/search", "u1", nil)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestProfileUpdateQuota(t *testing.T) {
	f := setupRateLimit(t, defaultQuotaConfig())

	w := f.do(t, http.MethodPut, "/api/profile/me", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPut, "/api/profile/me", "u1", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "Daily profile update limit reached", body["error"])
}

func TestAnonymousRequestsPassThrough(t *testing.T) {
	f := setupRateLimit(t, defaultQuotaConfig())

	// Quota enforcement needs an identity; anonymous requests fall through
	// to the handler's own auth check and never create counters.
	for i := 0; i < 10; i++ {
		w := f.do(t, http.MethodPost, "/api/memories/upload", "", nil)
		assert.Equal(t, http.StatusCreated, w.Code)
	}
	assert.Empty(t, f.mr.Keys())
}

func TestSkipPathsBypassLimits(t *testing.T) {
	f := setupRateLimit(t, defaultQuotaConfig())

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/api/auth/login", "", nil).Code)
		assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/health", "", nil).Code)
	}
	assert.Empty(t, f.mr.Keys())
}

func TestClientFallbackCountsEveryRequest(t *testing.T) {
	cfg := defaultQuotaConfig()
	cfg.RequestsPerMinute = 2
	f := setupRateLimit(t, cfg)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/other", "", nil).Code)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/other", "", nil).Code)

	w := f.do(t, http.MethodGet, "/api/other", "", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate limit exceeded", body["error"])

	// The minute window expires and requests flow again.
	f.mr.FastForward(2 * time.Minute)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/api/other", "", nil).Code)
}

func TestOptionsRequestsBypassLimits(t *testing.T) {
	cfg := defaultQuotaConfig()
	cfg.RequestsPerMinute = 1
	f := setupRateLimit(t, cfg)

	for i := 0; i < 5; i++ {
		w := f.do(t, http.MethodOptions, "/api/other", "", nil)
		assert.NotEqual(t, http.StatusTooManyRequests, w.Code)
	}
	assert.Empty(t, f.mr.Keys())
}

func TestDailyCounterUsesRemainingWindow(t *testing.T) {
	f := setupRateLimit(t, defaultQuotaConfig())

	w := f.do(t, http.MethodPost, "/api/memories/upload", "u1", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	key := quota.DailyKey(quota.ResourceUpload, "u1", f.now)
	require.True(t, f.mr.Exists(key))

	// Fixed clock is noon UTC, so the counter must expire in 12 hours.
	assert.Equal(t, 12*time.Hour, f.mr.TTL(key))
}
