package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/editstack/cutcore/pkg/models"
)

// exportCancelChannel carries cancelled export job ids to every worker.
const exportCancelChannel = "export:cancel"

// Cache provides caching functionality using Redis
type Cache struct {
	client *redis.Client
}

// NewCache creates a new cache instance
func NewCache(host string, port int, password string, db int) (*Cache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{client: client}, nil
}

// Close closes the Redis connection
func (c *Cache) Close() error {
	return c.client.Close()
}

// Timeline Version Operations

// SetTimelineVersion caches the current document version of a project so
// collaborating clients can poll for staleness without touching a session
func (c *Cache) SetTimelineVersion(ctx context.Context, projectID string, version uint64) error {
	key := fmt.Sprintf("timeline:version:%s", projectID)
	return c.client.Set(ctx, key, version, 0).Err()
}

// GetTimelineVersion retrieves the cached document version of a project.
// Returns 0 on a cache miss.
func (c *Cache) GetTimelineVersion(ctx context.Context, projectID string) (uint64, error) {
	key := fmt.Sprintf("timeline:version:%s", projectID)
	version, err := c.client.Get(ctx, key).Uint64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil // Cache miss
		}
		return 0, fmt.Errorf("failed to get timeline version from cache: %w", err)
	}
	return version, nil
}

// DeleteTimelineVersion removes the cached version of a project
func (c *Cache) DeleteTimelineVersion(ctx context.Context, projectID string) error {
	key := fmt.Sprintf("timeline:version:%s", projectID)
	return c.client.Del(ctx, key).Err()
}

// Export Progress Operations

// SetExportProgress caches export progress for quick retrieval
func (c *Cache) SetExportProgress(ctx context.Context, progress *models.ExportProgress, ttl time.Duration) error {
	data, err := json.Marshal(progress)
	if err != nil {
		return fmt.Errorf("failed to marshal export progress: %w", err)
	}

	key := fmt.Sprintf("export:progress:%s", progress.JobID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetExportProgress retrieves export progress from cache
func (c *Cache) GetExportProgress(ctx context.Context, jobID string) (*models.ExportProgress, error) {
	key := fmt.Sprintf("export:progress:%s", jobID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get export progress from cache: %w", err)
	}

	var progress models.ExportProgress
	if err := json.Unmarshal(data, &progress); err != nil {
		return nil, fmt.Errorf("failed to unmarshal export progress: %w", err)
	}

	return &progress, nil
}

// DeleteExportProgress removes export progress from cache
func (c *Cache) DeleteExportProgress(ctx context.Context, jobID string) error {
	key := fmt.Sprintf("export:progress:%s", jobID)
	return c.client.Del(ctx, key).Err()
}

// Export Cancel Signalling

// PublishExportCancel broadcasts a cancel signal for a rendering job.
// Workers on any instance pick it up over pub/sub.
func (c *Cache) PublishExportCancel(ctx context.Context, jobID string) error {
	return c.client.Publish(ctx, exportCancelChannel, jobID).Err()
}

// SubscribeExportCancels delivers cancelled job ids until stop is called.
// The returned channel closes after stop.
func (c *Cache) SubscribeExportCancels(ctx context.Context) (<-chan string, func()) {
	sub := c.client.Subscribe(ctx, exportCancelChannel)
	out := make(chan string, 16)

	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			out <- msg.Payload
		}
	}()

	stop := func() { _ = sub.Close() }
	return out, stop
}

// Output Cache Operations

// SetOutputs caches the rendered outputs of a project
func (c *Cache) SetOutputs(ctx context.Context, projectID string, outputs []*models.Output, ttl time.Duration) error {
	data, err := json.Marshal(outputs)
	if err != nil {
		return fmt.Errorf("failed to marshal outputs: %w", err)
	}

	key := fmt.Sprintf("outputs:%s", projectID)
	return c.client.Set(ctx, key, data, ttl).Err()
}

// GetOutputs retrieves a project's rendered outputs from cache
func (c *Cache) GetOutputs(ctx context.Context, projectID string) ([]*models.Output, error) {
	key := fmt.Sprintf("outputs:%s", projectID)
	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil // Cache miss
		}
		return nil, fmt.Errorf("failed to get outputs from cache: %w", err)
	}

	var outputs []*models.Output
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal outputs: %w", err)
	}

	return outputs, nil
}

// DeleteOutputs removes a project's outputs from cache
func (c *Cache) DeleteOutputs(ctx context.Context, projectID string) error {
	key := fmt.Sprintf("outputs:%s", projectID)
	return c.client.Del(ctx, key).Err()
}

// Rate Limiting Operations

// CheckRateLimit checks if a rate limit has been exceeded
func (c *Cache) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	rateLimitKey := fmt.Sprintf("ratelimit:%s", key)

	// Increment counter
	count, err := c.client.Incr(ctx, rateLimitKey).Result()
	if err != nil {
		return false, fmt.Errorf("failed to increment rate limit: %w", err)
	}

	// Set expiry on first request
	if count == 1 {
		if err := c.client.Expire(ctx, rateLimitKey, window).Err(); err != nil {
			return false, fmt.Errorf("failed to set expiry: %w", err)
		}
	}

	// Check if limit exceeded
	return count <= limit, nil
}

// Locking Operations for Distributed Systems

// AcquireLock attempts to acquire a distributed lock
func (c *Cache) AcquireLock(ctx context.Context, resource string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.SetNX(ctx, key, "locked", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Cache) ReleaseLock(ctx context.Context, resource string) error {
	key := fmt.Sprintf("lock:%s", resource)
	return c.client.Del(ctx, key).Err()
}

// Health check
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
