package middleware

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimiter hands out per-key token buckets for burst smoothing
// within one API process. Sustained per-user budgets shared across
// replicas go through UserRateLimit instead.
type RateLimiter struct {
	entries map[string]*limiterEntry
	mu      sync.Mutex
	rate    rate.Limit
	burst   int
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(rps int, burst int) *RateLimiter {
	return &RateLimiter{
		entries: make(map[string]*limiterEntry),
		rate:    rate.Limit(rps),
		burst:   burst,
	}
}

func (rl *RateLimiter) getLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.entries[key] = e
	}
	e.lastSeen = time.Now()

	return e.limiter
}

// Cleanup evicts buckets idle for an hour. Run it in its own goroutine.
func (rl *RateLimiter) Cleanup(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Hour)
			rl.mu.Lock()
			for key, e := range rl.entries {
				if e.lastSeen.Before(cutoff) {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// RateLimit limits requests per user, falling back to client IP for
// unauthenticated routes
func RateLimit(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		var key string
		if userID, exists := c.Get(AuthContextKey); exists {
			key = fmt.Sprintf("user:%s", userID)
		} else {
			key = fmt.Sprintf("ip:%s", c.ClientIP())
		}

		if !rl.getLimiter(key).Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// WindowLimiter is the store-backed rate limit check shared by API
// replicas.
type WindowLimiter interface {
	CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// UserRateLimit enforces a per-user request budget across all replicas.
// Store failures let the request through: the local bucket still holds,
// and a cache outage should not take the API down with it.
func UserRateLimit(store WindowLimiter, limit int64, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := GetUserID(c)
		if !ok {
			c.Next()
			return
		}

		allowed, err := store.CheckRateLimit(c.Request.Context(), "user:"+userID, limit, window)
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// QuotaValidator interface for checking user export quotas
type QuotaValidator interface {
	CheckQuota(ctx context.Context, userID string) (bool, error)
	IncrementQuota(ctx context.Context, userID string) error
}

// ExportQuota enforces the daily export budget on submission routes.
// The quota is consumed only when the submission succeeds.
func ExportQuota(validator QuotaValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, exists := GetUserID(c)
		if !exists {
			c.Next()
			return
		}

		hasQuota, err := validator.CheckQuota(c.Request.Context(), userID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to check quota"})
			c.Abort()
			return
		}
		if !hasQuota {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Export quota exceeded. Please try again later.",
			})
			c.Abort()
			return
		}

		c.Next()

		if c.Writer.Status() < 400 {
			_ = validator.IncrementQuota(c.Request.Context(), userID)
		}
	}
}
