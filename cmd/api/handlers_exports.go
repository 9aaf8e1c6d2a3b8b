package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/editstack/cutcore/internal/middleware"
	"github.com/editstack/cutcore/internal/storage"
	"github.com/editstack/cutcore/pkg/models"
)

const outputsCacheTTL = 5 * time.Minute

func (api *API) submitExport(c *gin.Context) {
	var req struct {
		Settings *models.RenderSettings `json:"settings"`
		Priority int                    `json:"priority"`
	}

	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	settings := models.DefaultRenderSettings()
	if req.Settings != nil {
		settings = *req.Settings
	}
	if settings.Width <= 0 || settings.Height <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid output dimensions"})
		return
	}
	if !settings.FrameRate.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid frame rate"})
		return
	}
	if settings.Container == "" {
		settings.Container = "mp4"
	}

	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	// Snapshot fails when a referenced asset is missing or not ready, so
	// a render never starts against sources it cannot read.
	snapshot, err := sess.Snapshot()
	if err != nil {
		respondError(c, err)
		return
	}
	endTick := snapshot.Timeline.EndTick()
	if endTick <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Timeline is empty"})
		return
	}

	userID, _ := middleware.GetUserID(c)

	job := &models.ExportJob{
		ID:          uuid.New().String(),
		ProjectID:   sess.ProjectID(),
		UserID:      userID,
		State:       models.ExportStatePending,
		Snapshot:    snapshot,
		Settings:    settings,
		Priority:    req.Priority,
		TotalFrames: settings.FrameRate.FrameCount(endTick),
	}
	if job.Priority == 0 {
		job.Priority = models.PriorityNormal
	}
	job.OutputPath = storage.ExportKey(job.ProjectID, job.ID, "export."+settings.Container)

	if err := api.repo.CreateExportJob(c.Request.Context(), job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create export job"})
		return
	}

	// Scheduler meters dispatch by priority; fall back to a direct
	// publish when it cannot accept the job.
	if err := api.scheduler.ScheduleJob(job); err != nil {
		api.logger.WithError(err).WithJobID(job.ID).Warn("Scheduler rejected job, publishing directly")
		if err := api.queue.PublishExportJob(c.Request.Context(), job); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to queue export job"})
			return
		}
	}

	c.JSON(http.StatusCreated, job)
}

func (api *API) listExports(c *gin.Context) {
	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	jobs, err := api.repo.ListProjectExportJobs(c.Request.Context(), project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"exports": jobs})
}

func (api *API) getExport(c *gin.Context) {
	job, ok := api.ownedExport(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, job)
}

func (api *API) getExportProgress(c *gin.Context) {
	job, ok := api.ownedExport(c)
	if !ok {
		return
	}

	// The worker streams progress through the cache; the row only gets
	// periodic checkpoints.
	if progress, err := api.cache.GetExportProgress(c.Request.Context(), job.ID); err == nil && progress != nil {
		c.JSON(http.StatusOK, progress)
		return
	}

	progress := &models.ExportProgress{
		JobID:        job.ID,
		CurrentFrame: job.CurrentFrame,
		TotalFrames:  job.TotalFrames,
		State:        job.State,
	}
	if job.TotalFrames > 0 {
		progress.Percent = float64(job.CurrentFrame) / float64(job.TotalFrames) * 100
	}

	c.JSON(http.StatusOK, progress)
}

func (api *API) cancelExport(c *gin.Context) {
	job, ok := api.ownedExport(c)
	if !ok {
		return
	}

	switch job.State {
	case models.ExportStatePending:
		if err := api.repo.CancelExportJob(c.Request.Context(), job.ID); err == nil {
			// The job never reached a worker; settle it here.
			_ = api.cache.SetExportProgress(c.Request.Context(), &models.ExportProgress{
				JobID:        job.ID,
				CurrentFrame: job.CurrentFrame,
				TotalFrames:  job.TotalFrames,
				State:        models.ExportStateCancelled,
			}, 10*time.Minute)
			_ = api.webhooks.NotifyExportCancelled(c.Request.Context(), job)
			c.JSON(http.StatusOK, gin.H{"message": "Export cancelled", "job_id": job.ID})
			return
		}
		// A worker claimed the job between the read and the update; fall
		// through to the rendering path.
		fallthrough

	case models.ExportStateRendering:
		if err := api.repo.RequestExportCancel(c.Request.Context(), job.ID); err != nil {
			c.JSON(http.StatusConflict, gin.H{"error": "Export already finished"})
			return
		}
		// Wake the worker holding the render; the DB flag alone is only
		// checked at claim time.
		if err := api.cache.PublishExportCancel(c.Request.Context(), job.ID); err != nil {
			api.logger.WithError(err).WithJobID(job.ID).Warn("Failed to publish cancel signal")
		}
		c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested", "job_id": job.ID})

	case models.ExportStateCancelling:
		c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation already in progress", "job_id": job.ID})

	default:
		c.JSON(http.StatusConflict, gin.H{"error": "Export already finished", "state": job.State})
	}
}

func (api *API) listOutputs(c *gin.Context) {
	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	if outputs, err := api.cache.GetOutputs(c.Request.Context(), project.ID); err == nil && outputs != nil {
		c.JSON(http.StatusOK, gin.H{"outputs": outputs, "cached": true})
		return
	}

	outputs, err := api.repo.ListProjectOutputs(c.Request.Context(), project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if err := api.cache.SetOutputs(c.Request.Context(), project.ID, outputs, outputsCacheTTL); err != nil {
		api.logger.WithError(err).WithProjectID(project.ID).Debug("Failed to cache outputs")
	}

	c.JSON(http.StatusOK, gin.H{"outputs": outputs})
}

// ownedExport loads the export job in the :id route param and enforces
// ownership. On failure it writes the error response and returns false.
func (api *API) ownedExport(c *gin.Context) (*models.ExportJob, bool) {
	job, err := api.repo.GetExportJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}

	if userID, ok := middleware.GetUserID(c); ok && job.UserID != "" && job.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return nil, false
	}

	return job, true
}
