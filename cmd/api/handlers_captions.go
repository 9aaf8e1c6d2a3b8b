package main

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/editstack/cutcore/internal/captions"
	"github.com/editstack/cutcore/internal/middleware"
	"github.com/editstack/cutcore/internal/storage"
	"github.com/editstack/cutcore/pkg/models"
)

func (api *API) startTranscription(c *gin.Context) {
	var req struct {
		AssetID  string `json:"asset_id" binding:"required"`
		Language string `json:"language"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// Opening the session installs the project's assets into the
	// registry, so the readiness check below sees persisted media too.
	sess, ok := api.openSession(c)
	if !ok {
		return
	}
	projectID := sess.ProjectID()

	asset, err := api.registry.Get(req.AssetID)
	if err != nil {
		respondError(c, err)
		return
	}
	if asset.ProjectID != projectID {
		c.JSON(http.StatusNotFound, gin.H{"error": "Asset not found in project"})
		return
	}

	// Engines read the media themselves; stored objects need a fetchable
	// URL rather than a bucket key.
	source := asset.SourceURL
	if storage.IsObjectKey(source) {
		source, err = api.storage.GetURL(c.Request.Context(), asset.SourceURL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to resolve media URL"})
			return
		}
	}

	job, err := api.captions.Start(c.Request.Context(), captions.StartRequest{
		ProjectID: projectID,
		AssetID:   req.AssetID,
		Source:    source,
		Language:  req.Language,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, job)
}

func (api *API) listTranscriptions(c *gin.Context) {
	project, ok := api.ownedProject(c)
	if !ok {
		return
	}

	live := api.captions.List(project.ID)
	seen := make(map[string]bool, len(live))
	for _, job := range live {
		seen[job.ID] = true
	}

	stored, err := api.repo.ListProjectTranscriptionJobs(c.Request.Context(), project.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	for _, job := range stored {
		if !seen[job.ID] {
			live = append(live, job)
		}
	}

	c.JSON(http.StatusOK, gin.H{"transcriptions": live})
}

func (api *API) getTranscription(c *gin.Context) {
	jobID := c.Param("id")

	job, err := api.captions.Get(jobID)
	if err != nil {
		job, err = api.repo.GetTranscriptionJob(c.Request.Context(), jobID)
		if err != nil {
			respondError(c, err)
			return
		}
	}

	if !api.userOwnsProject(c, job.ProjectID) {
		return
	}

	c.JSON(http.StatusOK, job)
}

func (api *API) cancelTranscription(c *gin.Context) {
	jobID := c.Param("id")

	job, err := api.captions.Get(jobID)
	if err != nil {
		respondError(c, err)
		return
	}
	if !api.userOwnsProject(c, job.ProjectID) {
		return
	}

	if err := api.captions.Cancel(jobID); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"message": "Cancellation requested", "job_id": jobID})
}

func (api *API) importCaptions(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No subtitle file provided"})
		return
	}

	f, err := file.Open()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read file"})
		return
	}
	defer f.Close()

	cues, err := captions.ParseSRT(f)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(cues) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Subtitle file has no cues"})
		return
	}

	track := captions.BuildTrack(c.PostForm("language"), "", cues)
	if err := api.sessions.InstallCaptionTrack(c.Request.Context(), sess.ProjectID(), track); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"caption_track_id": track.ID,
		"cues":             len(track.Cues),
		"version":          sess.Version(),
	})
}

func (api *API) exportCaptions(c *gin.Context) {
	sess, ok := api.openSession(c)
	if !ok {
		return
	}
	trackID := c.Param("track_id")

	var track *models.CaptionTrack
	for _, ct := range sess.Timeline().CaptionTracks {
		if ct.ID == trackID {
			track = ct
			break
		}
	}
	if track == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Caption track not found"})
		return
	}

	var buf bytes.Buffer
	if err := captions.WriteSRT(&buf, track); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to render subtitles"})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s.srt", trackID))
	c.Data(http.StatusOK, "application/x-subrip", buf.Bytes())
}

// userOwnsProject enforces ownership for routes addressed by a child
// resource id. On failure it writes the error response and returns false.
func (api *API) userOwnsProject(c *gin.Context, projectID string) bool {
	project, err := api.projects.GetProject(c.Request.Context(), projectID)
	if err != nil {
		respondError(c, err)
		return false
	}
	if userID, ok := middleware.GetUserID(c); ok && project.UserID != "" && project.UserID != userID {
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
		return false
	}
	return true
}
