package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/editstack/cutcore/pkg/models"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	// Create a mini Redis server for testing
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	cache, err := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create cache: %v", err)
	}

	return cache, mr
}

func TestNewCache(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	if err := cache.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
}

func TestCache_TimelineVersion(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	// Miss reads as version 0
	version, err := cache.GetTimelineVersion(ctx, "project-1")
	if err != nil {
		t.Fatalf("GetTimelineVersion failed: %v", err)
	}
	if version != 0 {
		t.Errorf("Expected version 0 on miss, got %d", version)
	}

	if err := cache.SetTimelineVersion(ctx, "project-1", 42); err != nil {
		t.Fatalf("SetTimelineVersion failed: %v", err)
	}

	version, err = cache.GetTimelineVersion(ctx, "project-1")
	if err != nil {
		t.Fatalf("GetTimelineVersion failed: %v", err)
	}
	if version != 42 {
		t.Errorf("Expected version 42, got %d", version)
	}

	if err := cache.DeleteTimelineVersion(ctx, "project-1"); err != nil {
		t.Fatalf("DeleteTimelineVersion failed: %v", err)
	}

	version, err = cache.GetTimelineVersion(ctx, "project-1")
	if err != nil {
		t.Fatalf("GetTimelineVersion after delete failed: %v", err)
	}
	if version != 0 {
		t.Errorf("Expected version 0 after delete, got %d", version)
	}
}

func TestCache_ExportProgress(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	// Miss returns nil
	missing, err := cache.GetExportProgress(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetExportProgress for non-existent should not error: %v", err)
	}
	if missing != nil {
		t.Error("Non-existent progress should return nil")
	}

	progress := &models.ExportProgress{
		JobID:        "job-1",
		CurrentFrame: 120,
		TotalFrames:  300,
		Percent:      40,
		State:        models.ExportStateRendering,
	}

	if err := cache.SetExportProgress(ctx, progress, time.Minute); err != nil {
		t.Fatalf("SetExportProgress failed: %v", err)
	}

	retrieved, err := cache.GetExportProgress(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetExportProgress failed: %v", err)
	}
	if retrieved == nil {
		t.Fatal("Retrieved progress should not be nil")
	}
	if retrieved.CurrentFrame != 120 {
		t.Errorf("Expected current frame 120, got %d", retrieved.CurrentFrame)
	}
	if retrieved.State != models.ExportStateRendering {
		t.Errorf("Expected state %s, got %s", models.ExportStateRendering, retrieved.State)
	}

	// Progress entries expire with their TTL
	mr.FastForward(2 * time.Minute)

	expired, err := cache.GetExportProgress(ctx, "job-1")
	if err != nil {
		t.Fatalf("GetExportProgress after expiry failed: %v", err)
	}
	if expired != nil {
		t.Error("Expired progress should return nil")
	}
}

func TestCache_OutputOperations(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	projectID := "project-1"

	outputs := []*models.Output{
		{
			ID:        "output-1",
			JobID:     "job-1",
			ProjectID: projectID,
			Container: "mp4",
			Width:     1920,
			Height:    1080,
		},
		{
			ID:        "output-2",
			JobID:     "job-2",
			ProjectID: projectID,
			Container: "webm",
			Width:     1280,
			Height:    720,
		},
	}

	// Test SetOutputs
	if err := cache.SetOutputs(ctx, projectID, outputs, 10*time.Minute); err != nil {
		t.Fatalf("SetOutputs failed: %v", err)
	}

	// Test GetOutputs
	retrieved, err := cache.GetOutputs(ctx, projectID)
	if err != nil {
		t.Fatalf("GetOutputs failed: %v", err)
	}
	if len(retrieved) != len(outputs) {
		t.Errorf("Expected %d outputs, got %d", len(outputs), len(retrieved))
	}
	if retrieved[0].ID != "output-1" {
		t.Errorf("Expected output-1, got %s", retrieved[0].ID)
	}

	// Test DeleteOutputs
	if err := cache.DeleteOutputs(ctx, projectID); err != nil {
		t.Fatalf("DeleteOutputs failed: %v", err)
	}

	deleted, err := cache.GetOutputs(ctx, projectID)
	if err != nil {
		t.Fatalf("GetOutputs after delete failed: %v", err)
	}
	if deleted != nil {
		t.Error("Deleted outputs should return nil")
	}
}

func TestCache_RateLimit(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	key := "user:123"
	limit := int64(5)
	window := 1 * time.Minute

	// Should allow first 5 requests
	for i := 0; i < 5; i++ {
		allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
		if err != nil {
			t.Fatalf("CheckRateLimit failed: %v", err)
		}

		if !allowed {
			t.Errorf("Request %d should be allowed", i+1)
		}
	}

	// Should deny 6th request
	allowed, err := cache.CheckRateLimit(ctx, key, limit, window)
	if err != nil {
		t.Fatalf("CheckRateLimit failed: %v", err)
	}
	if allowed {
		t.Error("Request beyond limit should be denied")
	}

	// Window expiry resets the counter
	mr.FastForward(2 * time.Minute)

	allowed, err = cache.CheckRateLimit(ctx, key, limit, window)
	if err != nil {
		t.Fatalf("CheckRateLimit after window failed: %v", err)
	}
	if !allowed {
		t.Error("Request after window reset should be allowed")
	}
}

func TestCache_Locking(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()
	resource := "transcribe:asset-123"

	// Test AcquireLock
	acquired, err := cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock failed: %v", err)
	}
	if !acquired {
		t.Error("First lock acquisition should succeed")
	}

	// Test acquiring same lock again (should fail)
	acquired, err = cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("Second AcquireLock failed: %v", err)
	}
	if acquired {
		t.Error("Second lock acquisition should fail")
	}

	// Test ReleaseLock
	if err := cache.ReleaseLock(ctx, resource); err != nil {
		t.Fatalf("ReleaseLock failed: %v", err)
	}

	// Should be able to acquire again
	acquired, err = cache.AcquireLock(ctx, resource, 1*time.Minute)
	if err != nil {
		t.Fatalf("AcquireLock after release failed: %v", err)
	}
	if !acquired {
		t.Error("Lock acquisition after release should succeed")
	}
}

func TestCache_ExportCancelPubSub(t *testing.T) {
	cache, mr := setupTestCache(t)
	defer mr.Close()
	defer cache.Close()

	ctx := context.Background()

	ch, stop := cache.SubscribeExportCancels(ctx)
	defer stop()

	// Republish until the subscription is live; duplicate cancel signals
	// are harmless.
	deadline := time.After(2 * time.Second)
	for {
		if err := cache.PublishExportCancel(ctx, "job-1"); err != nil {
			t.Fatalf("PublishExportCancel failed: %v", err)
		}

		select {
		case jobID := <-ch:
			if jobID != "job-1" {
				t.Errorf("Expected job-1, got %s", jobID)
			}
			return
		case <-deadline:
			t.Fatal("Cancel signal was not delivered")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

// Benchmark tests
func BenchmarkCache_SetExportProgress(b *testing.B) {
	mr, _ := miniredis.Run()
	defer mr.Close()

	cache, _ := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	defer cache.Close()

	ctx := context.Background()
	progress := &models.ExportProgress{
		JobID:        "benchmark-job",
		CurrentFrame: 1,
		TotalFrames:  300,
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.SetExportProgress(ctx, progress, 5*time.Minute)
	}
}

func BenchmarkCache_GetExportProgress(b *testing.B) {
	mr, _ := miniredis.Run()
	defer mr.Close()

	cache, _ := NewCache(mr.Host(), mr.Server().Addr().Port, "", 0)
	defer cache.Close()

	ctx := context.Background()
	progress := &models.ExportProgress{
		JobID:        "benchmark-job",
		CurrentFrame: 1,
		TotalFrames:  300,
	}

	cache.SetExportProgress(ctx, progress, 5*time.Minute)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cache.GetExportProgress(ctx, "benchmark-job")
	}
}
