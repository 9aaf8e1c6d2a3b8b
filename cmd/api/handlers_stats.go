package main

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

func (api *API) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if err := api.db.Health(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	// Redis being down degrades progress reads and rate limits but the
	// editor itself keeps working.
	status := "healthy"
	if err := api.cache.Ping(ctx); err != nil {
		status = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{"status": status})
}

func (api *API) getStats(c *gin.Context) {
	exports, err := api.repo.GetExportStats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	transcriptions, err := api.repo.GetTranscriptionStatusCounts(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"exports":        exports,
		"transcriptions": transcriptions,
		"scheduler": gin.H{
			"queued": api.scheduler.GetQueueDepth(),
			"active": api.scheduler.GetActiveJobs(),
		},
	})
}

func (api *API) getQueueStats(c *gin.Context) {
	queueDepth, err := api.queue.GetQueueDepth()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get queue depth"})
		return
	}

	dlqDepth, err := api.queue.GetDLQDepth()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get DLQ depth"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"queue_depth": queueDepth,
		"dlq_depth":   dlqDepth,
	})
}
