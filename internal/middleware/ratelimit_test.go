package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiter(t *testing.T) {
	gin.SetMode(gin.TestMode)

	rl := NewRateLimiter(2, 2) // 2 requests per second, burst of 2

	router := gin.New()
	router.Use(RateLimit(rl))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	// First two requests should succeed
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest("GET", "/test", nil)
		router.ServeHTTP(w, req)
		assert.Equal(t, http.StatusOK, w.Code)
	}

	// Third request should be rate limited
	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/test", nil)
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

type fakeWindowStore struct {
	mu      sync.Mutex
	counts  map[string]int64
	failing bool
}

func (f *fakeWindowStore) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failing {
		return false, assert.AnError
	}
	f.counts[key]++
	return f.counts[key] <= limit, nil
}

func userRouter(handler gin.HandlerFunc, userID string) *gin.Engine {
	router := gin.New()
	if userID != "" {
		router.Use(func(c *gin.Context) {
			c.Set(AuthContextKey, userID)
		})
	}
	router.Use(handler)
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func TestUserRateLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &fakeWindowStore{counts: make(map[string]int64)}
	router := userRouter(UserRateLimit(store, 2, time.Minute), "u1")

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestUserRateLimitFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)

	store := &fakeWindowStore{counts: make(map[string]int64), failing: true}
	router := userRouter(UserRateLimit(store, 1, time.Minute), "u1")

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

type fakeQuota struct {
	mu         sync.Mutex
	hasQuota   bool
	increments int
}

func (f *fakeQuota) CheckQuota(ctx context.Context, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hasQuota, nil
}

func (f *fakeQuota) IncrementQuota(ctx context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.increments++
	return nil
}

func (f *fakeQuota) incrementCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.increments
}

func TestExportQuotaConsumesOnSuccess(t *testing.T) {
	gin.SetMode(gin.TestMode)

	quota := &fakeQuota{hasQuota: true}
	router := userRouter(ExportQuota(quota), "u1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, quota.incrementCount())
}

func TestExportQuotaRejectsWhenExhausted(t *testing.T) {
	gin.SetMode(gin.TestMode)

	quota := &fakeQuota{hasQuota: false}
	router := userRouter(ExportQuota(quota), "u1")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, 0, quota.incrementCount())
}

func TestExportQuotaSkipsFailedRequests(t *testing.T) {
	gin.SetMode(gin.TestMode)

	quota := &fakeQuota{hasQuota: true}
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(AuthContextKey, "u1")
	})
	router.Use(ExportQuota(quota))
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusBadRequest)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/test", nil))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 0, quota.incrementCount())
}
